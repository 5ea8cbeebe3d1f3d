package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/example/roadside-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens and pings a lib/pq connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

const requestColumns = `id, requester_name, requester_phone, lat, lon, reply_channel, garage_id, status, dispatch, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, r *models.ServiceRequest) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	summary, err := json.Marshal(r.Dispatch)
	if err != nil {
		return "", fmt.Errorf("encode dispatch summary: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO service_requests(`+requestColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.ID, r.RequesterName, r.RequesterPhone, r.Loc.Lat, r.Loc.Lon, r.ReplyChannel, nullString(r.GarageID),
		string(r.Status), string(summary), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("%w: insert request: %v", models.ErrPersistence, err)
	}
	return r.ID, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.ServiceRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get request: %v", models.ErrPersistence, err)
	}
	return r, nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, expected, next models.Status, summary *models.DispatchSummary) (*models.ServiceRequest, error) {
	var summaryArg any
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return nil, fmt.Errorf("encode dispatch summary: %w", err)
		}
		summaryArg = string(b)
	}
	row := p.db.QueryRowContext(ctx, `
		UPDATE service_requests
		SET status = $3,
		    dispatch = COALESCE($4::jsonb, dispatch),
		    updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING `+requestColumns,
		id, string(expected), string(next), summaryArg, time.Now().UTC())
	r, err := scanRequest(row)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: update status: %v", models.ErrPersistence, err)
	}

	// Nothing matched: tell a missing row apart from a lost precondition.
	var current string
	err = p.db.QueryRowContext(ctx, `SELECT status FROM service_requests WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read status: %v", models.ErrPersistence, err)
	}
	return nil, models.ErrStatusConflict
}

func (p *PostgresStore) Query(ctx context.Context, f Filter) ([]models.ServiceRequest, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.GarageID != "" {
		where = append(where, "garage_id = "+arg(f.GarageID))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, "status = ANY("+arg(pq.Array(statuses))+")")
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "created_at < "+arg(f.To))
	}

	q := `SELECT ` + requestColumns + ` FROM service_requests`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query requests: %v", models.ErrPersistence, err)
	}
	defer rows.Close()
	var out []models.ServiceRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan request: %v", models.ErrPersistence, err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate requests: %v", models.ErrPersistence, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(s rowScanner) (*models.ServiceRequest, error) {
	var r models.ServiceRequest
	var garageID sql.NullString
	var status string
	var summary []byte
	err := s.Scan(&r.ID, &r.RequesterName, &r.RequesterPhone, &r.Loc.Lat, &r.Loc.Lon, &r.ReplyChannel,
		&garageID, &status, &summary, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.GarageID = garageID.String
	r.Status = models.Status(status)
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &r.Dispatch); err != nil {
			return nil, fmt.Errorf("decode dispatch summary: %w", err)
		}
	}
	return &r, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
