package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type DB interface {
	Execer
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Insert writes m as a pending row. Pass the caller's transaction so the row
// commits or rolls back together with the aggregate.
func Insert(ctx context.Context, db Execer, m Message) error {
	headers, err := json.Marshal(m.Headers)
	if err != nil {
		return fmt.Errorf("marshal outbox headers: %w", err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO outbox (aggregate_id, topic, event_type, payload, headers, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')`,
		m.AggregateID, m.Topic, m.EventType, m.Payload, headers)
	if err != nil {
		return fmt.Errorf("insert outbox row: %w", err)
	}
	return nil
}

type PgStore struct {
	db DB
}

func NewPgStore(db DB) *PgStore {
	return &PgStore{db: db}
}

// LockBatch claims up to batchSize pending rows for lease. Rows held by
// another relay are skipped; an expired lease makes a row claimable again.
func (s *PgStore) LockBatch(ctx context.Context, batchSize int, lease time.Duration) ([]Message, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_id, topic, event_type, payload, headers, attempts, created_at
		FROM outbox
		WHERE status = 'pending' AND (locked_until IS NULL OR locked_until < now())
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1`, batchSize)
	if err != nil {
		return nil, fmt.Errorf("select pending outbox rows: %w", err)
	}

	var msgs []Message
	for rows.Next() {
		var m Message
		var headers []byte
		if err := rows.Scan(&m.ID, &m.AggregateID, &m.Topic, &m.EventType, &m.Payload, &headers, &m.Attempts, &m.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &m.Headers); err != nil {
				rows.Close()
				return nil, fmt.Errorf("decode outbox headers %d: %w", m.ID, err)
			}
		}
		m.Status = StatusPending
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	if len(msgs) == 0 {
		return nil, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE outbox SET locked_until = now() + make_interval(secs => $1)
		WHERE id = ANY($2)`, lease.Seconds(), messageIDs(msgs)); err != nil {
		return nil, fmt.Errorf("lease outbox rows: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit outbox lease: %w", err)
	}
	return msgs, nil
}

func (s *PgStore) MarkSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		UPDATE outbox SET status = 'sent', sent_at = now(), locked_until = NULL
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("mark outbox rows sent: %w", err)
	}
	return nil
}

// MarkFailed records a failed publish. Until the row has been attempted
// maxAttempts times it returns to pending, but stays leased for retryIn so
// the relay does not hammer a broker that is down. After that it is parked
// as failed.
func (s *PgStore) MarkFailed(ctx context.Context, id int64, errMsg string, maxAttempts int, retryIn time.Duration) error {
	_, err := s.db.Exec(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1,
		    last_error = $2,
		    locked_until = CASE WHEN attempts + 1 >= $3 THEN NULL
		                        ELSE now() + make_interval(secs => $4) END,
		    status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'pending' END
		WHERE id = $1`, id, errMsg, maxAttempts, retryIn.Seconds())
	if err != nil {
		return fmt.Errorf("mark outbox row %d failed: %w", id, err)
	}
	return nil
}

// ExtendLease pushes the lease of rows still being published.
func (s *PgStore) ExtendLease(ctx context.Context, ids []int64, lease time.Duration) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		UPDATE outbox SET locked_until = now() + make_interval(secs => $1)
		WHERE id = ANY($2) AND status = 'pending'`, lease.Seconds(), ids)
	if err != nil {
		return fmt.Errorf("extend outbox lease: %w", err)
	}
	return nil
}
