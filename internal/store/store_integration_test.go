package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elsehu/supportdesk/internal/store"
)

func setupStoreIntegrationTest(t *testing.T) (*store.Store, func()) {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skip integration test: TEST_POSTGRES_DSN is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("skip integration test: cannot connect to database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: cannot ping database: %v", err)
	}

	return store.New(pool), pool.Close
}

func createTestFixtures(t *testing.T, s *store.Store) (store.Contact, store.ServiceInstance) {
	t.Helper()
	ctx := context.Background()

	phone := fmt.Sprintf("+55119%08d", time.Now().UnixNano()%100000000)
	contact, err := s.CreateContact(ctx, "Integration Contact", phone)
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}

	instance, err := s.CreateServiceInstance(ctx,
		fmt.Sprintf("itest-%d", time.Now().UnixNano()), "EVOLUTION_API",
		map[string]any{"serverUrl": "http://localhost:8080", "apiToken": "test-key", "instanceName": "itest"},
		true)
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	return contact, instance
}

func TestSingleOpenConversationInvariant(t *testing.T) {
	s, closeFn := setupStoreIntegrationTest(t)
	defer closeFn()
	ctx := context.Background()

	contact, instance := createTestFixtures(t, s)

	first, err := s.CreateConversation(ctx, contact.ID, instance.ID, nil)
	if err != nil {
		t.Fatalf("create first conversation: %v", err)
	}

	_, err = s.CreateConversation(ctx, contact.ID, instance.ID, nil)
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for second open conversation, got %v", err)
	}

	// Closing the first frees the slot for a new one.
	tab, err := s.GetOrCreateAutomaticTabulation(ctx, "Conversation Expired")
	if err != nil {
		t.Fatalf("get tabulation: %v", err)
	}
	if _, err := s.CreateFinishedConversation(ctx, store.CreateFinishedConversationParams{
		OriginalConversationID: first.ID,
		ContactID:              contact.ID,
		TabulationID:           tab.ID,
		ContactName:            contact.Name,
		ContactPhone:           contact.Phone,
		OperatorName:           "",
		StartTime:              first.StartTime,
		EndTime:                time.Now().UTC(),
		DurationSeconds:        1,
	}); err != nil {
		t.Fatalf("create finished record: %v", err)
	}
	if _, err := s.CloseConversation(ctx, first.ID); err != nil {
		t.Fatalf("close conversation: %v", err)
	}

	second, err := s.CreateConversation(ctx, contact.ID, instance.ID, nil)
	if err != nil {
		t.Fatalf("create conversation after close: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("expected a fresh conversation row")
	}
}

func TestInboundMessageDeduplication(t *testing.T) {
	s, closeFn := setupStoreIntegrationTest(t)
	defer closeFn()
	ctx := context.Background()

	contact, instance := createTestFixtures(t, s)
	conv, err := s.CreateConversation(ctx, contact.ID, instance.ID, nil)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	extID := fmt.Sprintf("WAMID-%d", time.Now().UnixNano())
	params := store.CreateMessageParams{
		ConversationID:    conv.ID,
		ServiceInstanceID: instance.ID,
		Direction:         store.DirectionInbound,
		Via:               store.ViaInbound,
		Content:           "hello",
		ExternalID:        &extID,
		Status:            "received",
	}
	if _, err := s.CreateMessage(ctx, params); err != nil {
		t.Fatalf("create message: %v", err)
	}
	_, err = s.CreateMessage(ctx, params)
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for replayed inbound message, got %v", err)
	}
}

func TestFinishedConversationRecordedOnce(t *testing.T) {
	s, closeFn := setupStoreIntegrationTest(t)
	defer closeFn()
	ctx := context.Background()

	contact, instance := createTestFixtures(t, s)
	conv, err := s.CreateConversation(ctx, contact.ID, instance.ID, nil)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	tab, err := s.GetOrCreateAutomaticTabulation(ctx, "Conversation Expired")
	if err != nil {
		t.Fatalf("get tabulation: %v", err)
	}

	params := store.CreateFinishedConversationParams{
		OriginalConversationID: conv.ID,
		ContactID:              contact.ID,
		TabulationID:           tab.ID,
		ContactName:            contact.Name,
		ContactPhone:           contact.Phone,
		OperatorName:           "System",
		StartTime:              conv.StartTime,
		EndTime:                time.Now().UTC(),
		DurationSeconds:        1,
	}
	if _, err := s.CreateFinishedConversation(ctx, params); err != nil {
		t.Fatalf("create finished record: %v", err)
	}
	_, err = s.CreateFinishedConversation(ctx, params)
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for second closing record, got %v", err)
	}
}

func TestAdvanceFairnessCursor(t *testing.T) {
	s, closeFn := setupStoreIntegrationTest(t)
	defer closeFn()
	ctx := context.Background()

	op, err := s.CreateOperator(ctx, "Cursor Operator",
		fmt.Sprintf("cursor-%d@test.local", time.Now().UnixNano()),
		"x", store.RoleOperator)
	if err != nil {
		t.Fatalf("create operator: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	ok, err := s.AdvanceFairnessCursor(ctx, op.ID, op.LastAssignedAt, now)
	if err != nil {
		t.Fatalf("advance cursor: %v", err)
	}
	if !ok {
		t.Fatal("expected cursor advance to win with correct previous value")
	}

	// A second advance with the stale previous value loses.
	ok, err = s.AdvanceFairnessCursor(ctx, op.ID, op.LastAssignedAt, now.Add(time.Second))
	if err != nil {
		t.Fatalf("advance cursor: %v", err)
	}
	if ok {
		t.Fatal("expected stale cursor advance to lose")
	}
}
