package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const finishedColumns = `id, original_conversation_id, contact_id, operator_id,
tabulation_id, contact_name, contact_phone, operator_name, start_time, end_time,
duration_seconds, avg_response_seconds_contact, avg_response_seconds_operator,
created_at`

func scanFinished(row pgx.Row) (FinishedConversation, error) {
	var f FinishedConversation
	err := row.Scan(&f.ID, &f.OriginalConversationID, &f.ContactID, &f.OperatorID,
		&f.TabulationID, &f.ContactName, &f.ContactPhone, &f.OperatorName,
		&f.StartTime, &f.EndTime, &f.DurationSeconds, &f.AvgResponseContact,
		&f.AvgResponseOperator, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return FinishedConversation{}, ErrNotFound
	}
	return f, err
}

// CreateFinishedConversationParams is the denormalized closing snapshot.
// Names and phone are copied in so reports survive later contact edits.
type CreateFinishedConversationParams struct {
	OriginalConversationID string
	ContactID              string
	OperatorID             *string
	TabulationID           string
	ContactName            string
	ContactPhone           string
	OperatorName           string
	StartTime              time.Time
	EndTime                time.Time
	DurationSeconds        int32
	AvgResponseContact     *int32
	AvgResponseOperator    *int32
}

// CreateFinishedConversation writes the durable closing record. Callers
// insert this before flipping the conversation to CLOSED so a crash between
// the two leaves a re-closeable conversation rather than a silent gap. The
// unique index on original_conversation_id rejects a second record when two
// closers race; that surfaces as ErrDuplicate.
func (s *Store) CreateFinishedConversation(ctx context.Context, p CreateFinishedConversationParams) (FinishedConversation, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO finished_conversations (original_conversation_id, contact_id,
		    operator_id, tabulation_id, contact_name, contact_phone, operator_name,
		    start_time, end_time, duration_seconds, avg_response_seconds_contact,
		    avg_response_seconds_operator)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING `+finishedColumns,
		p.OriginalConversationID, p.ContactID, p.OperatorID, p.TabulationID,
		p.ContactName, p.ContactPhone, p.OperatorName, p.StartTime, p.EndTime,
		p.DurationSeconds, p.AvgResponseContact, p.AvgResponseOperator)
	f, err := scanFinished(row)
	if IsUniqueViolation(err) {
		return FinishedConversation{}, fmt.Errorf("closing record for conversation %s: %w", p.OriginalConversationID, ErrDuplicate)
	}
	return f, err
}

// GetFinishedConversation returns the closing record for a conversation.
func (s *Store) GetFinishedConversation(ctx context.Context, conversationID string) (FinishedConversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+finishedColumns+` FROM finished_conversations
		 WHERE original_conversation_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`, conversationID)
	return scanFinished(row)
}
