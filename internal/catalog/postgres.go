package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type dbQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory reads reference data from the services and
// professionals tables. Name matching happens in Go so that it stays
// byte-for-byte consistent with NameMatches regardless of database
// collation.
type PostgresDirectory struct {
	db dbQuerier
}

// NewPostgresDirectory creates a directory backed by a pgx pool.
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	if pool == nil {
		panic("catalog: pgx pool required")
	}
	return &PostgresDirectory{db: pool}
}

// NewPostgresDirectoryWithQuerier allows injecting mocks for tests.
func NewPostgresDirectoryWithQuerier(q dbQuerier) *PostgresDirectory {
	return &PostgresDirectory{db: q}
}

var _ Directory = (*PostgresDirectory)(nil)

func (d *PostgresDirectory) GetService(ctx context.Context, id string) (*Service, error) {
	var svc Service
	err := d.db.QueryRow(ctx, `
		SELECT id, name, duration_min, active
		FROM services
		WHERE id = $1
	`, id).Scan(&svc.ID, &svc.Name, &svc.DurationMin, &svc.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: load service: %w", err)
	}
	return &svc, nil
}

func (d *PostgresDirectory) GetProfessional(ctx context.Context, id string) (*Professional, error) {
	var pro Professional
	err := d.db.QueryRow(ctx, `
		SELECT p.id, p.name, p.active,
		       COALESCE(array_agg(ps.service_id) FILTER (WHERE ps.service_id IS NOT NULL), '{}')
		FROM professionals p
		LEFT JOIN professional_services ps ON ps.professional_id = p.id
		WHERE p.id = $1
		GROUP BY p.id
	`, id).Scan(&pro.ID, &pro.Name, &pro.Active, &pro.ServiceIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: load professional: %w", err)
	}
	return &pro, nil
}

func (d *PostgresDirectory) FindServices(ctx context.Context, query string) ([]Service, error) {
	rows, err := d.db.Query(ctx, `
		SELECT id, name, duration_min, active
		FROM services
		WHERE active
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list services: %w", err)
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		var svc Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.DurationMin, &svc.Active); err != nil {
			return nil, fmt.Errorf("catalog: scan service: %w", err)
		}
		if NameMatches(query, svc.Name) {
			out = append(out, svc)
		}
	}
	return out, rows.Err()
}

func (d *PostgresDirectory) FindProfessionals(ctx context.Context, query string) ([]Professional, error) {
	pros, err := d.listActiveProfessionals(ctx, `
		SELECT p.id, p.name, p.active,
		       COALESCE(array_agg(ps.service_id) FILTER (WHERE ps.service_id IS NOT NULL), '{}')
		FROM professionals p
		LEFT JOIN professional_services ps ON ps.professional_id = p.id
		WHERE p.active
		GROUP BY p.id
		ORDER BY p.name
	`)
	if err != nil {
		return nil, err
	}

	var out []Professional
	for _, pro := range pros {
		if NameMatches(query, pro.Name) {
			out = append(out, pro)
		}
	}
	return out, nil
}

func (d *PostgresDirectory) ListProfessionals(ctx context.Context, serviceID string) ([]Professional, error) {
	return d.listActiveProfessionals(ctx, `
		SELECT p.id, p.name, p.active,
		       COALESCE(array_agg(ps.service_id) FILTER (WHERE ps.service_id IS NOT NULL), '{}')
		FROM professionals p
		JOIN professional_services ps ON ps.professional_id = p.id
		WHERE p.active
		GROUP BY p.id
		HAVING bool_or(ps.service_id = $1)
		ORDER BY p.name
	`, serviceID)
}

func (d *PostgresDirectory) listActiveProfessionals(ctx context.Context, query string, args ...any) ([]Professional, error) {
	rows, err := d.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list professionals: %w", err)
	}
	defer rows.Close()

	var out []Professional
	for rows.Next() {
		var pro Professional
		if err := rows.Scan(&pro.ID, &pro.Name, &pro.Active, &pro.ServiceIDs); err != nil {
			return nil, fmt.Errorf("catalog: scan professional: %w", err)
		}
		out = append(out, pro)
	}
	return out, rows.Err()
}
