package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

const tabulationColumns = "id, name, is_automatic, created_at"

func scanTabulation(row pgx.Row) (Tabulation, error) {
	var t Tabulation
	err := row.Scan(&t.ID, &t.Name, &t.IsAutomatic, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tabulation{}, ErrNotFound
	}
	return t, err
}

// GetTabulation looks up a tabulation by id.
func (s *Store) GetTabulation(ctx context.Context, id string) (Tabulation, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+tabulationColumns+" FROM tabulations WHERE id = $1", id)
	return scanTabulation(row)
}

// ListTabulations returns all closing categories, manual ones first.
func (s *Store) ListTabulations(ctx context.Context) ([]Tabulation, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+tabulationColumns+" FROM tabulations ORDER BY is_automatic, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tabulation
	for rows.Next() {
		t, err := scanTabulation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateTabulation inserts a closing category.
func (s *Store) CreateTabulation(ctx context.Context, name string, automatic bool) (Tabulation, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO tabulations (name, is_automatic)
		 VALUES ($1, $2)
		 RETURNING `+tabulationColumns,
		name, automatic)
	t, err := scanTabulation(row)
	if IsUniqueViolation(err) {
		return Tabulation{}, ErrDuplicate
	}
	return t, err
}

// GetOrCreateAutomaticTabulation finds the named automatic tabulation,
// creating it on first use. The expiration sweep calls this lazily so a
// fresh database needs no seeding.
func (s *Store) GetOrCreateAutomaticTabulation(ctx context.Context, name string) (Tabulation, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+tabulationColumns+" FROM tabulations WHERE name = $1", name)
	t, err := scanTabulation(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Tabulation{}, err
	}
	t, err = s.CreateTabulation(ctx, name, true)
	if errors.Is(err, ErrDuplicate) {
		// Lost the race to a concurrent sweep, fetch the winner's row.
		row = s.pool.QueryRow(ctx,
			"SELECT "+tabulationColumns+" FROM tabulations WHERE name = $1", name)
		return scanTabulation(row)
	}
	return t, err
}
