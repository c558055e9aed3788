package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ConnectionEvent is the persisted form of a Transition.
type ConnectionEvent struct {
	ID         int64          `json:"id"`
	HandleID   string         `json:"handle_id"`
	Generation int64          `json:"generation"`
	FromState  string         `json:"from_state"`
	ToState    string         `json:"to_state"`
	Cause      string         `json:"cause"`
	Detail     sql.NullString `json:"-"`
	CreatedAt  time.Time      `json:"created_at"`
}

// DetailString returns the detail or "" when NULL.
func (e ConnectionEvent) DetailString() string {
	if e.Detail.Valid {
		return e.Detail.String
	}
	return ""
}

var ErrNoEventStore = errors.New("connection event store is not configured")

// ConnectionEventStore keeps the transition history in the app database.
// Queries are written with $n placeholders and rebound for mysql.
type ConnectionEventStore struct {
	db      *sql.DB
	dialect string
}

func NewConnectionEventStore(db *sql.DB, dialect string) *ConnectionEventStore {
	return &ConnectionEventStore{db: db, dialect: dialect}
}

var placeholderRe = regexp.MustCompile(`\$\d+`)

func (s *ConnectionEventStore) rebind(query string) string {
	if s.dialect != "mysql" {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?")
}

// EventFromTransition converts a Transition into a row.
func EventFromTransition(t Transition) *ConnectionEvent {
	ev := &ConnectionEvent{
		HandleID:   t.HandleID,
		Generation: int64(t.Generation),
		FromState:  string(t.From),
		ToState:    string(t.To),
		Cause:      t.Cause,
		CreatedAt:  t.At.UTC(),
	}
	if t.Detail != "" {
		ev.Detail = sql.NullString{String: t.Detail, Valid: true}
	}
	return ev
}

// Insert stores ev and fills its ID.
func (s *ConnectionEventStore) Insert(ctx context.Context, ev *ConnectionEvent) error {
	if s == nil || s.db == nil {
		return ErrNoEventStore
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO connection_events (handle_id, generation, from_state, to_state, cause, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	args := []interface{}{ev.HandleID, ev.Generation, ev.FromState, ev.ToState, ev.Cause, ev.Detail, ev.CreatedAt}

	if s.dialect == "postgres" {
		if err := s.db.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&ev.ID); err != nil {
			return fmt.Errorf("insert connection event: %w", err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("insert connection event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert connection event: %w", err)
	}
	ev.ID = id
	return nil
}

// Recent returns the newest events first.
func (s *ConnectionEventStore) Recent(ctx context.Context, limit int) ([]ConnectionEvent, error) {
	if s == nil || s.db == nil {
		return nil, ErrNoEventStore
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, handle_id, generation, from_state, to_state, cause, detail, created_at
		FROM connection_events
		ORDER BY id DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanConnectionEvents(rows)
}

func scanConnectionEvents(rows *sql.Rows) ([]ConnectionEvent, error) {
	events := make([]ConnectionEvent, 0)

	for rows.Next() {
		var ev ConnectionEvent
		err := rows.Scan(
			&ev.ID,
			&ev.HandleID,
			&ev.Generation,
			&ev.FromState,
			&ev.ToState,
			&ev.Cause,
			&ev.Detail,
			&ev.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}
