package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const conversationColumns = "id, contact_id, service_instance_id, operator_id, status, start_time"

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.ContactID, &c.ServiceInstanceID, &c.OperatorID,
		&c.Status, &c.StartTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// GetConversation looks up a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE id = $1", id)
	return scanConversation(row)
}

// FindOpenConversation returns the OPEN conversation for the pair, or
// ErrNotFound.
func (s *Store) FindOpenConversation(ctx context.Context, contactID, instanceID string) (Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE contact_id = $1 AND service_instance_id = $2 AND status = $3`,
		contactID, instanceID, StatusOpen)
	return scanConversation(row)
}

// CreateConversation inserts an OPEN conversation. The partial unique index
// rejects a second OPEN row for the same pair; callers detect that with
// IsUniqueViolation (via ErrDuplicate) and re-fetch.
func (s *Store) CreateConversation(ctx context.Context, contactID, instanceID string, operatorID *string) (Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (contact_id, service_instance_id, operator_id, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+conversationColumns,
		contactID, instanceID, operatorID, StatusOpen)
	c, err := scanConversation(row)
	if IsUniqueViolation(err) {
		return Conversation{}, fmt.Errorf("open conversation for contact %s: %w", contactID, ErrDuplicate)
	}
	return c, err
}

// AssignConversationOperator sets the operator on an OPEN conversation.
// Returns ErrNotFound when the conversation is missing or already closed.
func (s *Store) AssignConversationOperator(ctx context.Context, id, operatorID string) (Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE conversations SET operator_id = $2
		 WHERE id = $1 AND status = $3
		 RETURNING `+conversationColumns,
		id, operatorID, StatusOpen)
	return scanConversation(row)
}

// ClaimQueuedConversation hands a still-unassigned conversation to an
// operator. The operator_id guard keeps a queue drain from overwriting an
// assignment made in between; a claim that finds the row taken, closed or
// missing returns ErrNotFound.
func (s *Store) ClaimQueuedConversation(ctx context.Context, id, operatorID string) (Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE conversations SET operator_id = $2
		 WHERE id = $1 AND status = $3 AND operator_id IS NULL
		 RETURNING `+conversationColumns,
		id, operatorID, StatusOpen)
	return scanConversation(row)
}

// CloseConversation flips status to CLOSED. The caller must have written the
// FinishedConversation record first.
func (s *Store) CloseConversation(ctx context.Context, id string) (Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE conversations SET status = $2
		 WHERE id = $1 AND status = $3
		 RETURNING `+conversationColumns,
		id, StatusClosed, StatusOpen)
	return scanConversation(row)
}

const summarySelect = `
SELECT c.id, c.contact_id, c.service_instance_id, c.operator_id, c.status, c.start_time,
       ct.name, ct.phone, si.name, op.name,
       (SELECT count(*) FROM messages m WHERE m.conversation_id = c.id),
       (SELECT max(m.created_at) FROM messages m WHERE m.conversation_id = c.id)
FROM conversations c
JOIN contacts ct ON ct.id = c.contact_id
JOIN service_instances si ON si.id = c.service_instance_id
LEFT JOIN operators op ON op.id = c.operator_id`

func scanSummary(row pgx.Row) (ConversationSummary, error) {
	var (
		cs    ConversationSummary
		count int64
	)
	err := row.Scan(&cs.ID, &cs.ContactID, &cs.ServiceInstanceID, &cs.OperatorID,
		&cs.Status, &cs.StartTime, &cs.ContactName, &cs.ContactPhone,
		&cs.ServiceInstanceName, &cs.OperatorName, &count, &cs.LastMessageAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConversationSummary{}, ErrNotFound
	}
	if err != nil {
		return ConversationSummary{}, err
	}
	cs.MessageCount = int(count)
	return cs, nil
}

// GetConversationSummary returns the denormalized view used by list and
// realtime payloads.
func (s *Store) GetConversationSummary(ctx context.Context, id string) (ConversationSummary, error) {
	row := s.pool.QueryRow(ctx, summarySelect+" WHERE c.id = $1", id)
	return scanSummary(row)
}

// ListQueuedConversations returns unassigned OPEN conversations, oldest
// first.
func (s *Store) ListQueuedConversations(ctx context.Context) ([]ConversationSummary, error) {
	rows, err := s.pool.Query(ctx,
		summarySelect+` WHERE c.status = $1 AND c.operator_id IS NULL
		ORDER BY c.start_time ASC`, StatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		cs, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// OldestQueuedConversation returns the single oldest unassigned OPEN
// conversation, or ErrNotFound when the queue is empty.
func (s *Store) OldestQueuedConversation(ctx context.Context) (Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE status = $1 AND operator_id IS NULL
		 ORDER BY start_time ASC
		 LIMIT 1`, StatusOpen)
	return scanConversation(row)
}

// ListExpirationCandidates returns OPEN conversations whose last activity
// (newest message, falling back to start time) is older than the cutoff.
func (s *Store) ListExpirationCandidates(ctx context.Context, cutoff time.Time) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationColumns+` FROM conversations c
		 WHERE c.status = $1
		   AND COALESCE(
		         (SELECT max(m.created_at) FROM messages m WHERE m.conversation_id = c.id),
		         c.start_time) < $2`,
		StatusOpen, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
