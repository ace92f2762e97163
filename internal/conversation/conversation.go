// Package conversation is the desk-facing view over conversations:
// queue listing, manual assignment, closing with a tabulation and the
// tabulation catalog itself.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/elsehu/supportdesk/internal/metrics"
	"github.com/elsehu/supportdesk/internal/realtime"
	"github.com/elsehu/supportdesk/internal/router"
	"github.com/elsehu/supportdesk/internal/store"
)

var ErrOperatorUnavailable = errors.New("conversation: operator is not active")

// Store is the persistence surface the service needs.
type Store interface {
	ListQueuedConversations(ctx context.Context) ([]store.ConversationSummary, error)
	GetConversationSummary(ctx context.Context, id string) (store.ConversationSummary, error)
	AssignConversationOperator(ctx context.Context, id, operatorID string) (store.Conversation, error)
	GetOperator(ctx context.Context, id string) (store.Operator, error)
	TouchFairnessCursor(ctx context.Context, id string, next time.Time) error
	ListTabulations(ctx context.Context) ([]store.Tabulation, error)
	CreateTabulation(ctx context.Context, name string, automatic bool) (store.Tabulation, error)
}

// Closer finalizes a conversation.
type Closer interface {
	Close(ctx context.Context, p router.CloseParams) (store.FinishedConversation, error)
}

type Service struct {
	log     *slog.Logger
	store   Store
	closer  Closer
	gateway realtime.Gateway
	metrics *metrics.Metrics
}

func NewService(log *slog.Logger, st Store, closer Closer, gateway realtime.Gateway, m *metrics.Metrics) *Service {
	return &Service{
		log:     log.With(slog.String("service", "conversation")),
		store:   st,
		closer:  closer,
		gateway: gateway,
		metrics: m,
	}
}

// ListQueued returns open conversations nobody picked up yet.
func (s *Service) ListQueued(ctx context.Context) ([]store.ConversationSummary, error) {
	return s.store.ListQueuedConversations(ctx)
}

// Get returns one conversation with its denormalized context.
func (s *Service) Get(ctx context.Context, id string) (store.ConversationSummary, error) {
	return s.store.GetConversationSummary(ctx, id)
}

// Assign hands a conversation to a specific operator, a manual pull that
// bypasses the fair scheduler but still credits the operator's fairness
// cursor so the next automatic round does not double them up.
func (s *Service) Assign(ctx context.Context, conversationID, operatorID string) (store.ConversationSummary, error) {
	operator, err := s.store.GetOperator(ctx, operatorID)
	if err != nil {
		return store.ConversationSummary{}, err
	}
	if !operator.IsActive {
		return store.ConversationSummary{}, ErrOperatorUnavailable
	}

	if _, err := s.store.AssignConversationOperator(ctx, conversationID, operatorID); err != nil {
		return store.ConversationSummary{}, err
	}
	if err := s.store.TouchFairnessCursor(ctx, operatorID, time.Now()); err != nil {
		s.log.Warn("fairness cursor not advanced after manual assignment",
			slog.String("operator_id", operatorID),
			slog.Any("error", err))
	}
	s.metrics.AssignmentsMade.Inc()

	summary, err := s.store.GetConversationSummary(ctx, conversationID)
	if err != nil {
		return store.ConversationSummary{}, err
	}
	s.gateway.EmitConversationUpdated(conversationID, summary)
	return summary, nil
}

// Close finalizes a conversation with a tabulation and notifies the desk.
func (s *Service) Close(ctx context.Context, conversationID, tabulationID string, closedBy string) (store.FinishedConversation, error) {
	params := router.CloseParams{
		ConversationID: conversationID,
		TabulationID:   tabulationID,
	}
	if closedBy != "" {
		params.ClosedBy = &closedBy
	}

	finished, err := s.closer.Close(ctx, params)
	if err != nil {
		return store.FinishedConversation{}, err
	}
	s.metrics.ConversationsClosed.WithLabelValues(metrics.CauseManual).Inc()
	s.gateway.EmitConversationClosed(conversationID)
	return finished, nil
}

// Tabulations returns the closing-reason catalog.
func (s *Service) Tabulations(ctx context.Context) ([]store.Tabulation, error) {
	return s.store.ListTabulations(ctx)
}

// CreateTabulation adds a manual closing reason.
func (s *Service) CreateTabulation(ctx context.Context, name string) (store.Tabulation, error) {
	return s.store.CreateTabulation(ctx, name, false)
}
