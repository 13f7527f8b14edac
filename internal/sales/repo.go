package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realtime-sales/internal/apperr"
	"github.com/ariefcatur/go-realtime-sales/internal/outbox"
)

// DB is satisfied by *pgxpool.Pool and by pgxmock pools.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repo is the sale record store.
type Repo struct{ DB DB }

func NewRepo(db DB) *Repo { return &Repo{DB: db} }

// CreateWithOutbox persists the sale, its items, its history and the outbox
// row announcing it in one transaction: the row exists iff the message will be sent.
func (r *Repo) CreateWithOutbox(ctx context.Context, s *Sale, msg outbox.Message) error {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO sales (id, customer_id, total_amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.CustomerID, s.TotalAmount.String(), string(s.Status), s.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}

	for i, it := range s.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sale_items (sale_id, position, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)`,
			s.ID, i, it.ProductID, it.Quantity, it.UnitPrice.String(),
		); err != nil {
			return fmt.Errorf("insert sale item %d: %w", it.ProductID, err)
		}
	}

	for _, h := range s.History {
		if err := insertHistory(ctx, tx, s.ID, h); err != nil {
			return err
		}
	}

	if err := outbox.Insert(ctx, tx, msg); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit sale: %w", err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Sale, error) {
	var (
		s      Sale
		total  string
		status string
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, customer_id, total_amount::text, status, created_at
		FROM sales WHERE id = $1`, id,
	).Scan(&s.ID, &s.CustomerID, &total, &status, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("sale", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select sale: %w", err)
	}
	if s.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total of sale %s: %w", id, err)
	}
	s.Status = Status(status)

	if s.Items, err = r.items(ctx, id); err != nil {
		return nil, err
	}
	if s.History, err = r.history(ctx, id); err != nil {
		return nil, err
	}
	return &s, nil
}

// History returns the sale's entries oldest first. A sale always has at
// least its creation entry, so an empty result means the sale is unknown.
func (r *Repo) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	hist, err := r.history(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(hist) == 0 {
		return nil, apperr.NotFound("sale", id)
	}
	return hist, nil
}

// ApplyOutcome moves a Created sale to its terminal status and appends entry.
// The sale row is locked so concurrent reports serialize; a second report
// for a finished sale is a conflict.
func (r *Repo) ApplyOutcome(ctx context.Context, id string, to Status, entry HistoryEntry) (HistoryEntry, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		current   string
		createdAt time.Time
	)
	err = tx.QueryRow(ctx, `SELECT status, created_at FROM sales WHERE id = $1 FOR UPDATE`, id).
		Scan(&current, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return HistoryEntry{}, apperr.NotFound("sale", id)
	}
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("lock sale: %w", err)
	}

	if !CanTransition(Status(current), to) {
		te := &TransitionError{From: Status(current), To: to}
		conflict := apperr.Conflict(te.Error())
		conflict.Err = fmt.Errorf("%w: %w", apperr.ErrConflict, te)
		return HistoryEntry{}, conflict
	}

	var last time.Time
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(occurred_at), $2) FROM sale_history WHERE sale_id = $1`, id, createdAt,
	).Scan(&last); err != nil {
		return HistoryEntry{}, fmt.Errorf("select last history timestamp: %w", err)
	}
	entry.Timestamp = NextTimestamp(last, entry.Timestamp)

	if _, err := tx.Exec(ctx, `UPDATE sales SET status = $2, updated_at = now() WHERE id = $1`, id, string(to)); err != nil {
		return HistoryEntry{}, fmt.Errorf("update sale status: %w", err)
	}
	if err := insertHistory(ctx, tx, id, entry); err != nil {
		return HistoryEntry{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return HistoryEntry{}, fmt.Errorf("commit outcome: %w", err)
	}
	return entry, nil
}

func (r *Repo) items(ctx context.Context, id string) ([]SaleItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT product_id, quantity, unit_price::text
		FROM sale_items WHERE sale_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("select sale items: %w", err)
	}
	defer rows.Close()

	var out []SaleItem
	for rows.Next() {
		var (
			it    SaleItem
			price string
		)
		if err := rows.Scan(&it.ProductID, &it.Quantity, &price); err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse unit price: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repo) history(ctx context.Context, id string) ([]HistoryEntry, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT occurred_at, action, details
		FROM sale_history WHERE sale_id = $1 ORDER BY occurred_at, seq`, id)
	if err != nil {
		return nil, fmt.Errorf("select sale history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.Timestamp, &h.Action, &h.Details); err != nil {
			return nil, fmt.Errorf("scan sale history: %w", err)
		}
		h.Timestamp = h.Timestamp.UTC()
		out = append(out, h)
	}
	return out, rows.Err()
}

func insertHistory(ctx context.Context, tx pgx.Tx, saleID string, h HistoryEntry) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO sale_history (sale_id, occurred_at, action, details)
		VALUES ($1, $2, $3, $4)`,
		saleID, h.Timestamp, h.Action, h.Details,
	); err != nil {
		return fmt.Errorf("insert sale history: %w", err)
	}
	return nil
}
