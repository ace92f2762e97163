// Package operator covers operator accounts: login, availability and the
// queue drain that fires when someone comes online.
package operator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/elsehu/supportdesk/internal/auth"
	"github.com/elsehu/supportdesk/internal/metrics"
	"github.com/elsehu/supportdesk/internal/realtime"
	"github.com/elsehu/supportdesk/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("operator: invalid credentials")
	ErrInactive           = errors.New("operator: account is inactive")
)

// Store is the persistence surface the service needs.
type Store interface {
	GetOperator(ctx context.Context, id string) (store.Operator, error)
	GetOperatorByEmail(ctx context.Context, email string) (store.Operator, string, error)
	SetOperatorOnline(ctx context.Context, id string, online bool) (store.Operator, error)
	ListOperators(ctx context.Context) ([]store.Operator, error)
	GetConversationSummary(ctx context.Context, id string) (store.ConversationSummary, error)
}

// Drainer hands queued conversations to an operator who just became
// available.
type Drainer interface {
	DrainOne(ctx context.Context, operatorID string) (*store.Conversation, error)
}

type Service struct {
	log      *slog.Logger
	store    Store
	drainer  Drainer
	gateway  realtime.Gateway
	metrics  *metrics.Metrics
	secret   string
	tokenTTL time.Duration
}

func NewService(log *slog.Logger, st Store, drainer Drainer, gateway realtime.Gateway, m *metrics.Metrics, secret string, tokenTTL time.Duration) *Service {
	return &Service{
		log:      log.With(slog.String("service", "operator")),
		store:    st,
		drainer:  drainer,
		gateway:  gateway,
		metrics:  m,
		secret:   secret,
		tokenTTL: tokenTTL,
	}
}

// Session is a successful login.
type Session struct {
	Operator  store.Operator
	Token     string
	ExpiresAt time.Time
}

// Login checks the password and issues a token. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	operator, hash, err := s.store.GetOperatorByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return Session{}, ErrInvalidCredentials
	}
	if !operator.IsActive {
		return Session{}, ErrInactive
	}

	token, expiresAt, err := auth.GenerateToken(operator.ID, s.secret, s.tokenTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{Operator: operator, Token: token, ExpiresAt: expiresAt}, nil
}

// SetOnline flips availability. Coming online pulls the single oldest
// queued conversation; the rest stay queued so operators coming online
// after this one also get work. The grab is fanned out so the desk lists
// refresh.
func (s *Service) SetOnline(ctx context.Context, operatorID string, online bool) (store.Operator, error) {
	operator, err := s.store.SetOperatorOnline(ctx, operatorID, online)
	if err != nil {
		return store.Operator{}, err
	}
	if !online {
		return operator, nil
	}

	conversation, err := s.drainer.DrainOne(ctx, operatorID)
	if err != nil {
		s.log.Warn("queue drain failed",
			slog.String("operator_id", operatorID),
			slog.Any("error", err))
		return operator, nil
	}
	if conversation != nil {
		s.metrics.AssignmentsMade.Inc()
		s.emitAssigned(ctx, conversation.ID)
	}
	return operator, nil
}

func (s *Service) emitAssigned(ctx context.Context, conversationID string) {
	summary, err := s.store.GetConversationSummary(ctx, conversationID)
	if err != nil {
		s.log.Warn("summary fetch for fanout failed",
			slog.String("conversation_id", conversationID),
			slog.Any("error", err))
		return
	}
	s.gateway.EmitConversationUpdated(conversationID, summary)
}

// Get returns one operator account.
func (s *Service) Get(ctx context.Context, id string) (store.Operator, error) {
	return s.store.GetOperator(ctx, id)
}

// List returns every operator account.
func (s *Service) List(ctx context.Context) ([]store.Operator, error) {
	return s.store.ListOperators(ctx)
}
