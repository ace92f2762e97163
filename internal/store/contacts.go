package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const contactColumns = "id, name, phone, created_at, updated_at"

func scanContact(row pgx.Row) (Contact, error) {
	var c Contact
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, err
	}
	return c, nil
}

// GetContactByPhone looks up a contact by its normalized phone number.
func (s *Store) GetContactByPhone(ctx context.Context, phone string) (Contact, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+contactColumns+" FROM contacts WHERE phone = $1", phone)
	return scanContact(row)
}

// GetContact looks up a contact by id.
func (s *Store) GetContact(ctx context.Context, id string) (Contact, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+contactColumns+" FROM contacts WHERE id = $1", id)
	return scanContact(row)
}

// CreateContact inserts a contact. A concurrent insert for the same phone
// surfaces as a unique violation; callers should re-fetch by phone.
func (s *Store) CreateContact(ctx context.Context, name, phone string) (Contact, error) {
	row := s.pool.QueryRow(ctx,
		"INSERT INTO contacts (name, phone) VALUES ($1, $2) RETURNING "+contactColumns,
		name, phone)
	c, err := scanContact(row)
	if IsUniqueViolation(err) {
		return Contact{}, fmt.Errorf("contact %s: %w", phone, ErrDuplicate)
	}
	return c, err
}

// UpdateContactName overwrites the display name (most-recent-wins).
func (s *Store) UpdateContactName(ctx context.Context, id, name string) (Contact, error) {
	row := s.pool.QueryRow(ctx,
		"UPDATE contacts SET name = $2, updated_at = now() WHERE id = $1 RETURNING "+contactColumns,
		id, name)
	return scanContact(row)
}
