package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const instanceColumns = "id, name, provider, credentials, is_active, created_at"

func scanInstance(row pgx.Row) (ServiceInstance, error) {
	var (
		si    ServiceInstance
		creds []byte
	)
	err := row.Scan(&si.ID, &si.Name, &si.Provider, &creds, &si.IsActive, &si.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ServiceInstance{}, ErrNotFound
	}
	if err != nil {
		return ServiceInstance{}, err
	}
	if len(creds) > 0 {
		if err := json.Unmarshal(creds, &si.Credentials); err != nil {
			return ServiceInstance{}, fmt.Errorf("decode credentials: %w", err)
		}
	}
	if si.Credentials == nil {
		si.Credentials = map[string]any{}
	}
	return si, nil
}

// GetServiceInstance looks up an instance by id.
func (s *Store) GetServiceInstance(ctx context.Context, id string) (ServiceInstance, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+instanceColumns+" FROM service_instances WHERE id = $1", id)
	return scanInstance(row)
}

// ListActiveInstancesByProvider returns the active instances for a provider
// kind. Credential-based correlation (phone id, instance name) happens in Go
// because credentials are an opaque bag.
func (s *Store) ListActiveInstancesByProvider(ctx context.Context, provider string) ([]ServiceInstance, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+instanceColumns+" FROM service_instances WHERE provider = $1 AND is_active",
		provider)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []ServiceInstance
	for rows.Next() {
		si, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, si)
	}
	return instances, rows.Err()
}

// ListServiceInstances returns every configured instance, active first.
func (s *Store) ListServiceInstances(ctx context.Context) ([]ServiceInstance, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+instanceColumns+" FROM service_instances ORDER BY is_active DESC, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []ServiceInstance
	for rows.Next() {
		si, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, si)
	}
	return instances, rows.Err()
}

// CreateServiceInstance inserts an instance. Configuration management owns
// instances; the core only needs this for seeding and tests.
func (s *Store) CreateServiceInstance(ctx context.Context, name, provider string, credentials map[string]any, active bool) (ServiceInstance, error) {
	credJSON, err := json.Marshal(credentials)
	if err != nil {
		return ServiceInstance{}, fmt.Errorf("encode credentials: %w", err)
	}
	row := s.pool.QueryRow(ctx,
		"INSERT INTO service_instances (name, provider, credentials, is_active) VALUES ($1, $2, $3, $4) RETURNING "+instanceColumns,
		name, provider, credJSON, active)
	return scanInstance(row)
}
