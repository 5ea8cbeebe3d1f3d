package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/example/roadside-dispatch/internal/models"
)

// Postgres reads garages from the garages table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const garageColumns = `id, name, lat, lon, phone, push_tokens, staff_ids`

func (p *Postgres) ListAll(ctx context.Context) ([]models.Garage, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+garageColumns+` FROM garages ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list garages: %w", err)
	}
	defer rows.Close()

	var out []models.Garage
	for rows.Next() {
		g, err := scanGarage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (p *Postgres) GetByID(ctx context.Context, id string) (models.Garage, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+garageColumns+` FROM garages WHERE id = $1`, id)
	g, err := scanGarage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Garage{}, models.ErrNotFound
	}
	return g, err
}

// Upsert inserts g or replaces the stored garage with the same id.
func (p *Postgres) Upsert(ctx context.Context, g models.Garage) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO garages(`+garageColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, lat = EXCLUDED.lat, lon = EXCLUDED.lon,
		phone = EXCLUDED.phone, push_tokens = EXCLUDED.push_tokens, staff_ids = EXCLUDED.staff_ids`,
		g.ID, g.Name, g.Loc.Lat, g.Loc.Lon, g.Phone, pq.StringArray(g.PushTokens), pq.StringArray(g.StaffIDs))
	if err != nil {
		return fmt.Errorf("upsert garage %s: %w", g.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGarage(s scanner) (models.Garage, error) {
	var g models.Garage
	var tokens, staff pq.StringArray
	if err := s.Scan(&g.ID, &g.Name, &g.Loc.Lat, &g.Loc.Lon, &g.Phone, &tokens, &staff); err != nil {
		return models.Garage{}, err
	}
	g.PushTokens = []string(tokens)
	g.StaffIDs = []string(staff)
	return g, nil
}
