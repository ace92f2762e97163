package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

const operatorColumns = "id, name, email, role, is_active, is_online, online_since, last_assigned_at"

func scanOperator(row pgx.Row) (Operator, error) {
	var op Operator
	err := row.Scan(&op.ID, &op.Name, &op.Email, &op.Role, &op.IsActive,
		&op.IsOnline, &op.OnlineSince, &op.LastAssignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Operator{}, ErrNotFound
	}
	if err != nil {
		return Operator{}, err
	}
	return op, nil
}

// GetOperator looks up an operator by id.
func (s *Store) GetOperator(ctx context.Context, id string) (Operator, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+operatorColumns+" FROM operators WHERE id = $1", id)
	return scanOperator(row)
}

// GetOperatorByEmail looks up an operator for login, returning the stored
// password hash alongside the record. The hash never travels further than
// the credential check.
func (s *Store) GetOperatorByEmail(ctx context.Context, email string) (Operator, string, error) {
	var op Operator
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, role, is_active, is_online, online_since, last_assigned_at, password_hash
		 FROM operators WHERE email = $1`, email).
		Scan(&op.ID, &op.Name, &op.Email, &op.Role, &op.IsActive,
			&op.IsOnline, &op.OnlineSince, &op.LastAssignedAt, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return Operator{}, "", ErrNotFound
	}
	if err != nil {
		return Operator{}, "", err
	}
	return op, hash, nil
}

// ListOperators returns every operator account, active first.
func (s *Store) ListOperators(ctx context.Context) ([]Operator, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+operatorColumns+" FROM operators ORDER BY is_active DESC, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var operators []Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		operators = append(operators, op)
	}
	return operators, rows.Err()
}

// ListEligibleOperators returns active, online operators in assignment roles.
// Selection among them is the scheduler's job.
func (s *Store) ListEligibleOperators(ctx context.Context) ([]Operator, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+operatorColumns+` FROM operators
		 WHERE is_active AND is_online AND role IN ($1, $2)`,
		RoleOperator, RoleSupervisor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var operators []Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		operators = append(operators, op)
	}
	return operators, rows.Err()
}

// SetOperatorOnline toggles the online flag, stamping online_since on the
// offline-to-online transition.
func (s *Store) SetOperatorOnline(ctx context.Context, id string, online bool) (Operator, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE operators
		 SET is_online = $2,
		     online_since = CASE WHEN $2 THEN now() ELSE NULL END
		 WHERE id = $1
		 RETURNING `+operatorColumns,
		id, online)
	return scanOperator(row)
}

// AdvanceFairnessCursor updates last_assigned_at only when the stored value
// still matches prev — a single-row compare-and-set so two concurrent
// assignments cannot both credit the same slot. Returns false when another
// assignment advanced the cursor first.
func (s *Store) AdvanceFairnessCursor(ctx context.Context, id string, prev *time.Time, next time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE operators
		 SET last_assigned_at = $3
		 WHERE id = $1 AND last_assigned_at IS NOT DISTINCT FROM $2`,
		id, prev, next)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RestoreFairnessCursor puts back the cursor value an assignment advanced
// past when the assignment itself then failed, so the operator is not
// charged a turn without receiving work. The guard on the advanced value
// makes the rollback a no-op if another assignment moved the cursor again.
func (s *Store) RestoreFairnessCursor(ctx context.Context, id string, prev *time.Time, advanced time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE operators
		 SET last_assigned_at = $2
		 WHERE id = $1 AND last_assigned_at IS NOT DISTINCT FROM $3`,
		id, prev, advanced)
	return err
}

// TouchFairnessCursor sets last_assigned_at unconditionally, for paths
// where the operator provably just received work.
func (s *Store) TouchFairnessCursor(ctx context.Context, id string, next time.Time) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE operators SET last_assigned_at = $2 WHERE id = $1", id, next)
	return err
}

// CreateOperator inserts an operator account (seed command and tests).
func (s *Store) CreateOperator(ctx context.Context, name, email, passwordHash, role string) (Operator, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO operators (name, email, password_hash, role)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		 RETURNING `+operatorColumns,
		name, email, passwordHash, role)
	return scanOperator(row)
}
