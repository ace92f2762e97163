// Package assign distributes conversations across online operators. The
// operator who has gone longest without receiving one is always next, with
// operators who never received one ahead of everyone.
package assign

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/elsehu/supportdesk/internal/store"
)

// maxAttempts bounds the retry loop when concurrent assignments race on
// the fairness cursor.
const maxAttempts = 3

// Store is the persistence surface assignment needs.
type Store interface {
	ListEligibleOperators(ctx context.Context) ([]store.Operator, error)
	AdvanceFairnessCursor(ctx context.Context, id string, prev *time.Time, next time.Time) (bool, error)
	RestoreFairnessCursor(ctx context.Context, id string, prev *time.Time, advanced time.Time) error
	TouchFairnessCursor(ctx context.Context, id string, next time.Time) error
	AssignConversationOperator(ctx context.Context, id, operatorID string) (store.Conversation, error)
	ClaimQueuedConversation(ctx context.Context, id, operatorID string) (store.Conversation, error)
	OldestQueuedConversation(ctx context.Context) (store.Conversation, error)
}

type Service struct {
	log   *slog.Logger
	store Store
}

func NewService(log *slog.Logger, st Store) *Service {
	return &Service{
		log:   log.With(slog.String("service", "assign")),
		store: st,
	}
}

// pickOperator selects the fairest candidate: nil cursor first, then the
// stalest cursor, with the id as a deterministic tiebreak.
func pickOperator(operators []store.Operator) *store.Operator {
	var best *store.Operator
	for i := range operators {
		op := &operators[i]
		if best == nil || cursorLess(op, best) {
			best = op
		}
	}
	return best
}

func cursorLess(a, b *store.Operator) bool {
	switch {
	case a.LastAssignedAt == nil && b.LastAssignedAt != nil:
		return true
	case a.LastAssignedAt != nil && b.LastAssignedAt == nil:
		return false
	case a.LastAssignedAt == nil && b.LastAssignedAt == nil:
		return a.ID < b.ID
	case !a.LastAssignedAt.Equal(*b.LastAssignedAt):
		return a.LastAssignedAt.Before(*b.LastAssignedAt)
	default:
		return a.ID < b.ID
	}
}

// AssignNext attaches the fairest online operator to a conversation.
// Returns nil when nobody is available, which leaves the conversation
// queued. Losing the cursor race to a concurrent assignment re-reads the
// operator list and tries again.
func (s *Service) AssignNext(ctx context.Context, conversationID string) (*store.Operator, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		operators, err := s.store.ListEligibleOperators(ctx)
		if err != nil {
			return nil, err
		}
		candidate := pickOperator(operators)
		if candidate == nil {
			s.log.Warn("no operator online, conversation queued",
				slog.String("conversation_id", conversationID))
			return nil, nil
		}

		next := time.Now().UTC()
		won, err := s.store.AdvanceFairnessCursor(ctx, candidate.ID, candidate.LastAssignedAt, next)
		if err != nil {
			return nil, err
		}
		if !won {
			continue
		}

		if _, err := s.store.AssignConversationOperator(ctx, conversationID, candidate.ID); err != nil {
			// The conversation closed between selection and the write; the
			// operator received nothing, so give the turn back.
			if restoreErr := s.store.RestoreFairnessCursor(ctx, candidate.ID, candidate.LastAssignedAt, next); restoreErr != nil {
				s.log.Warn("fairness cursor rollback failed",
					slog.String("operator_id", candidate.ID),
					slog.String("error", restoreErr.Error()))
			}
			return nil, err
		}
		s.log.Info("conversation assigned",
			slog.String("conversation_id", conversationID),
			slog.String("operator_id", candidate.ID),
			slog.String("operator", candidate.Name))
		return candidate, nil
	}
	s.log.Warn("assignment contention exhausted retries",
		slog.String("conversation_id", conversationID))
	return nil, nil
}

// DrainOne hands the oldest queued conversation to an operator who just
// came online. Returns nil when the queue is empty. The claim only lands
// on a conversation still without an operator, so a concurrent manual
// assignment is never overwritten; losing that race moves on to the next
// queued conversation.
func (s *Service) DrainOne(ctx context.Context, operatorID string) (*store.Conversation, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		conversation, err := s.store.OldestQueuedConversation(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		updated, err := s.store.ClaimQueuedConversation(ctx, conversation.ID, operatorID)
		if errors.Is(err, store.ErrNotFound) {
			// Taken or closed between the read and the claim.
			continue
		}
		if err != nil {
			return nil, err
		}
		// Advance unconditionally; the operator just received work regardless
		// of what the cursor said before.
		if err := s.store.TouchFairnessCursor(ctx, operatorID, time.Now().UTC()); err != nil {
			s.log.Warn("fairness cursor update failed after drain",
				slog.String("operator_id", operatorID), slog.String("error", err.Error()))
		}
		s.log.Info("queued conversation drained",
			slog.String("conversation_id", updated.ID),
			slog.String("operator_id", operatorID))
		return &updated, nil
	}
	return nil, nil
}
