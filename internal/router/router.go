// Package router owns conversation lifecycle: routing an inbound contact
// to its single open conversation and closing conversations with a durable
// reporting record.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/elsehu/supportdesk/internal/store"
)

var ErrAlreadyClosed = errors.New("router: conversation already closed")

// SystemOperatorName labels closing records for conversations nobody was
// assigned to.
const SystemOperatorName = "System"

type Service struct {
	log   *slog.Logger
	store *store.Store
}

func NewService(log *slog.Logger, st *store.Store) *Service {
	return &Service{
		log:   log.With(slog.String("service", "router")),
		store: st,
	}
}

// RouteResult is what an inbound message resolves to.
type RouteResult struct {
	Contact      store.Contact
	Conversation store.Conversation
	IsNew        bool
}

// Route upserts the contact for a phone number and finds or creates its
// open conversation on the given instance. Concurrent webhooks for the
// same contact race on the partial unique indexes; the loser re-fetches
// the winner's row, so routing is idempotent under redelivery.
func (s *Service) Route(ctx context.Context, instance store.ServiceInstance, phone, profileName string) (RouteResult, error) {
	contact, err := s.upsertContact(ctx, phone, profileName)
	if err != nil {
		return RouteResult{}, err
	}

	conversation, err := s.store.FindOpenConversation(ctx, contact.ID, instance.ID)
	if err == nil {
		return RouteResult{Contact: contact, Conversation: conversation}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return RouteResult{}, err
	}

	conversation, err = s.store.CreateConversation(ctx, contact.ID, instance.ID, nil)
	if errors.Is(err, store.ErrDuplicate) {
		// Another webhook created it between our find and create.
		conversation, err = s.store.FindOpenConversation(ctx, contact.ID, instance.ID)
		if err != nil {
			return RouteResult{}, err
		}
		return RouteResult{Contact: contact, Conversation: conversation}, nil
	}
	if err != nil {
		return RouteResult{}, err
	}

	s.log.Info("conversation opened",
		slog.String("conversation_id", conversation.ID),
		slog.String("contact_id", contact.ID),
		slog.String("instance_id", instance.ID))
	return RouteResult{Contact: contact, Conversation: conversation, IsNew: true}, nil
}

func (s *Service) upsertContact(ctx context.Context, phone, profileName string) (store.Contact, error) {
	contact, err := s.store.GetContactByPhone(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		name := profileName
		if name == "" {
			name = phone
		}
		contact, err = s.store.CreateContact(ctx, name, phone)
		if errors.Is(err, store.ErrDuplicate) {
			return s.store.GetContactByPhone(ctx, phone)
		}
		return contact, err
	}
	if err != nil {
		return store.Contact{}, err
	}

	// Profile names drift; the most recent webhook wins.
	if profileName != "" && profileName != contact.Name {
		updated, err := s.store.UpdateContactName(ctx, contact.ID, profileName)
		if err != nil {
			s.log.Warn("contact name update failed",
				slog.String("contact_id", contact.ID), slog.String("error", err.Error()))
			return contact, nil
		}
		return updated, nil
	}
	return contact, nil
}

// CloseParams describes one close request.
type CloseParams struct {
	ConversationID string
	TabulationID   string
	// ClosedBy is the operator performing the close, recorded when the
	// conversation never had an assignee.
	ClosedBy *string
	// OperatorNameFallback replaces SystemOperatorName on the record, used
	// by the expiration sweep to mark automatic closes.
	OperatorNameFallback string
}

// Close records a finished-conversation snapshot and then flips the
// conversation to CLOSED, in that order: a crash in between leaves the
// conversation open and re-closeable instead of silently unreported.
func (s *Service) Close(ctx context.Context, p CloseParams) (store.FinishedConversation, error) {
	conversation, err := s.store.GetConversation(ctx, p.ConversationID)
	if err != nil {
		return store.FinishedConversation{}, err
	}
	if conversation.Status == store.StatusClosed {
		return store.FinishedConversation{}, ErrAlreadyClosed
	}

	tabulation, err := s.store.GetTabulation(ctx, p.TabulationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.FinishedConversation{}, fmt.Errorf("tabulation %s: %w", p.TabulationID, err)
		}
		return store.FinishedConversation{}, err
	}

	contact, err := s.store.GetContact(ctx, conversation.ContactID)
	if err != nil {
		return store.FinishedConversation{}, err
	}

	messages, err := s.store.ListMessagesByConversation(ctx, conversation.ID)
	if err != nil {
		return store.FinishedConversation{}, err
	}

	endTime := time.Now().UTC()
	duration := int64(endTime.Sub(conversation.StartTime) / time.Second)
	if duration < 0 {
		duration = 0
	}
	avgContact, avgOperator := responseAverages(messages)

	operatorName := p.OperatorNameFallback
	if operatorName == "" {
		operatorName = SystemOperatorName
	}
	operatorID := conversation.OperatorID
	if operatorID == nil {
		operatorID = p.ClosedBy
	}
	if conversation.OperatorID != nil {
		operator, err := s.store.GetOperator(ctx, *conversation.OperatorID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return store.FinishedConversation{}, err
		}
		if err == nil {
			operatorName = operator.Name
		}
	}

	finished, err := s.store.CreateFinishedConversation(ctx, store.CreateFinishedConversationParams{
		OriginalConversationID: conversation.ID,
		ContactID:              conversation.ContactID,
		OperatorID:             operatorID,
		TabulationID:           tabulation.ID,
		ContactName:            contact.Name,
		ContactPhone:           contact.Phone,
		OperatorName:           operatorName,
		StartTime:              conversation.StartTime,
		EndTime:                endTime,
		DurationSeconds:        int32(duration),
		AvgResponseContact:     avgContact,
		AvgResponseOperator:    avgOperator,
	})
	if errors.Is(err, store.ErrDuplicate) {
		// A racing closer recorded this conversation between our OPEN
		// check and the insert; it owns the status flip too.
		return store.FinishedConversation{}, ErrAlreadyClosed
	}
	if err != nil {
		return store.FinishedConversation{}, err
	}

	if _, err := s.store.CloseConversation(ctx, conversation.ID); err != nil {
		return store.FinishedConversation{}, err
	}

	s.log.Info("conversation closed",
		slog.String("conversation_id", conversation.ID),
		slog.String("tabulation", tabulation.Name),
		slog.Int64("duration_seconds", duration))
	return finished, nil
}
