package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const messageColumns = `id, conversation_id, service_instance_id, sender_id, direction, via,
content, media_kind, media_url, media_mime, media_file_name, media_caption,
media_size, media_storage_key, external_id, status, created_at`

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m                       Message
		kind, mime, fileName    *string
		url, caption, storeKey  *string
		size                    *int32
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.ServiceInstanceID, &m.SenderID,
		&m.Direction, &m.Via, &m.Content, &kind, &url, &mime, &fileName,
		&caption, &size, &storeKey, &m.ExternalID, &m.Status, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}
	if kind != nil {
		m.Media = &MessageMedia{
			Kind:       *kind,
			URL:        url,
			Caption:    caption,
			SizeBytes:  size,
			StorageKey: storeKey,
		}
		if mime != nil {
			m.Media.Mime = *mime
		}
		if fileName != nil {
			m.Media.FileName = *fileName
		}
	}
	return m, nil
}

// CreateMessageParams carries the fields for a message insert. Media is nil
// for text-only messages.
type CreateMessageParams struct {
	ConversationID    string
	ServiceInstanceID string
	SenderID          *string
	Direction         Direction
	Via               string
	Content           string
	Media             *MessageMedia
	ExternalID        *string
	Status            string
}

// CreateMessage appends a message row. Inserting an inbound message with an
// external id already seen on the same instance hits the partial unique
// index and returns ErrDuplicate.
func (s *Store) CreateMessage(ctx context.Context, p CreateMessageParams) (Message, error) {
	var (
		kind, mime, fileName   *string
		url, caption, storeKey *string
		size                   *int32
	)
	if p.Media != nil {
		kind = &p.Media.Kind
		mime = &p.Media.Mime
		fileName = &p.Media.FileName
		url = p.Media.URL
		caption = p.Media.Caption
		size = p.Media.SizeBytes
		storeKey = p.Media.StorageKey
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, service_instance_id, sender_id,
		    direction, via, content, media_kind, media_url, media_mime,
		    media_file_name, media_caption, media_size, media_storage_key,
		    external_id, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING `+messageColumns,
		p.ConversationID, p.ServiceInstanceID, p.SenderID, p.Direction, p.Via,
		p.Content, kind, url, mime, fileName, caption, size, storeKey,
		p.ExternalID, p.Status)
	m, err := scanMessage(row)
	if IsUniqueViolation(err) {
		return Message{}, fmt.Errorf("inbound message %v: %w", p.ExternalID, ErrDuplicate)
	}
	return m, err
}

// GetMessage looks up a message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (Message, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1", id)
	return scanMessage(row)
}

// GetMessageByExternalID correlates a provider status update with the stored
// message.
func (s *Store) GetMessageByExternalID(ctx context.Context, instanceID, externalID string) (Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE service_instance_id = $1 AND external_id = $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		instanceID, externalID)
	return scanMessage(row)
}

// ListMessagesByConversation returns a conversation's messages in
// chronological order.
func (s *Store) ListMessagesByConversation(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = $1
		 ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMessageStatus mutates delivery status, optionally recording the
// provider's external id (the send path learns it after the fact).
func (s *Store) UpdateMessageStatus(ctx context.Context, id, status string, externalID *string) (Message, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE messages
		 SET status = $2, external_id = COALESCE($3, external_id)
		 WHERE id = $1
		 RETURNING `+messageColumns,
		id, status, externalID)
	return scanMessage(row)
}

// StoredMediaRef pairs a message id with its blob storage key, for the
// retention sweep.
type StoredMediaRef struct {
	MessageID  string
	StorageKey string
}

// ListStoredMediaOlderThan returns up to limit media refs created before
// the cutoff.
func (s *Store) ListStoredMediaOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]StoredMediaRef, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, media_storage_key FROM messages
		 WHERE media_storage_key IS NOT NULL AND created_at < $1
		 ORDER BY created_at ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredMediaRef
	for rows.Next() {
		var ref StoredMediaRef
		if err := rows.Scan(&ref.MessageID, &ref.StorageKey); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// ClearMediaStorageKey nulls a message's storage reference after its blob is
// deleted. Text and metadata are untouched.
func (s *Store) ClearMediaStorageKey(ctx context.Context, messageID string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE messages SET media_storage_key = NULL WHERE id = $1", messageID)
	return err
}
