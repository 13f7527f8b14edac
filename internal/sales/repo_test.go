package sales

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-sales/internal/apperr"
	"github.com/ariefcatur/go-realtime-sales/internal/outbox"
)

func newMockRepo(t *testing.T) (*Repo, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return NewRepo(mock), mock
}

func TestRepo_CreateWithOutbox(t *testing.T) {
	repo, mock := newMockRepo(t)
	defer mock.Close()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sale := NewSale("sale-1", "c1", []SaleItem{
		{ProductID: 1, Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
		{ProductID: 2, Quantity: 1, UnitPrice: decimal.RequireFromString("5.00")},
	}, created)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO sales").
		WithArgs("sale-1", "c1", "25", "Created", created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO sale_items").
		WithArgs("sale-1", 0, 1, 2, "10").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO sale_items").
		WithArgs("sale-1", 1, 2, 1, "5").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO sale_history").
		WithArgs("sale-1", created, ActionSaleCreated, "order created, processing").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs("sale-1", "sales", EventSaleCreated, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.CreateWithOutbox(context.Background(), sale, outbox.Message{
		AggregateID: "sale-1",
		Topic:       "sales",
		EventType:   EventSaleCreated,
		Payload:     []byte(`{}`),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_CreateWithOutbox_OutboxFailureRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)
	defer mock.Close()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sale := NewSale("sale-1", "c1", []SaleItem{{ProductID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(3)}}, created)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO sales").
		WithArgs("sale-1", "c1", "3", "Created", created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO sale_items").
		WithArgs("sale-1", 0, 1, 1, "3").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO sale_history").
		WithArgs("sale-1", pgxmock.AnyArg(), ActionSaleCreated, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs("sale-1", "sales", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.CreateWithOutbox(context.Background(), sale, outbox.Message{AggregateID: "sale-1", Topic: "sales"})
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_Get(t *testing.T) {
	repo, mock := newMockRepo(t)
	defer mock.Close()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT .+ FROM sales WHERE id").
		WithArgs("sale-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "customer_id", "total_amount", "status", "created_at"}).
			AddRow("sale-1", "c1", "25.00", "Confirmed", created))
	mock.ExpectQuery("SELECT .+ FROM sale_items").
		WithArgs("sale-1").
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "quantity", "unit_price"}).
			AddRow(1, 2, "10.00").
			AddRow(2, 1, "5.00"))
	mock.ExpectQuery("SELECT .+ FROM sale_history").
		WithArgs("sale-1").
		WillReturnRows(pgxmock.NewRows([]string{"occurred_at", "action", "details"}).
			AddRow(created, ActionSaleCreated, "order created, processing").
			AddRow(created.Add(time.Second), ActionStockDecreased, "stock decreased"))

	s, err := repo.Get(context.Background(), "sale-1")
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, s.Status)
	assert.Equal(t, "25.00", s.TotalAmount.StringFixed(2))
	require.Len(t, s.Items, 2)
	assert.True(t, s.Items[0].UnitPrice.Equal(decimal.NewFromInt(10)))
	require.Len(t, s.History, 2)
	assert.Equal(t, ActionStockDecreased, s.History[1].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_Get_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM sales WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRepo_History_EmptyIsNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM sale_history").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"occurred_at", "action", "details"}))

	_, err := repo.History(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRepo_ApplyOutcome(t *testing.T) {
	repo, mock := newMockRepo(t)
	defer mock.Close()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	last := created.Add(5 * time.Second)
	entry := HistoryEntry{Timestamp: created.Add(time.Second), Action: ActionStockDecreased, Details: "stock decreased"}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, created_at FROM sales WHERE id = .+ FOR UPDATE").
		WithArgs("sale-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "created_at"}).AddRow("Created", created))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("sale-1", created).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(last))
	mock.ExpectExec("UPDATE sales SET status").
		WithArgs("sale-1", "Confirmed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO sale_history").
		WithArgs("sale-1", last, ActionStockDecreased, "stock decreased").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	got, err := repo.ApplyOutcome(context.Background(), "sale-1", StatusConfirmed, entry)
	require.NoError(t, err)
	assert.Equal(t, last, got.Timestamp, "timestamp is clamped to the newest history entry")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_ApplyOutcome_TerminalSaleConflicts(t *testing.T) {
	repo, mock := newMockRepo(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, created_at FROM sales").
		WithArgs("sale-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "created_at"}).AddRow("Failed", time.Now()))
	mock.ExpectRollback()

	_, err := repo.ApplyOutcome(context.Background(), "sale-1", StatusConfirmed, HistoryEntry{Action: ActionStockDecreased})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 409, apperr.HTTPStatus(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_ApplyOutcome_UnknownSale(t *testing.T) {
	repo, mock := newMockRepo(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, created_at FROM sales").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.ApplyOutcome(context.Background(), "missing", StatusFailed, HistoryEntry{Action: ActionStockCheckFailed})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
