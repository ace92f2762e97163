package router_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elsehu/supportdesk/internal/router"
	"github.com/elsehu/supportdesk/internal/store"
)

func setupRouterIntegrationTest(t *testing.T) (*router.Service, *store.Store, func()) {
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

	st := store.New(pool)
	return router.NewService(slog.Default(), st), st, pool.Close
}

func TestCloseLosesToRacingCloser(t *testing.T) {
	svc, st, closeFn := setupRouterIntegrationTest(t)
	defer closeFn()
	ctx := context.Background()

	phone := fmt.Sprintf("+55118%08d", time.Now().UnixNano()%100000000)
	contact, err := st.CreateContact(ctx, "Racing Contact", phone)
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	instance, err := st.CreateServiceInstance(ctx,
		fmt.Sprintf("rtest-%d", time.Now().UnixNano()), "EVOLUTION_API",
		map[string]any{"serverUrl": "http://localhost:8080", "apiToken": "test-key", "instanceName": "rtest"},
		true)
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	conv, err := st.CreateConversation(ctx, contact.ID, instance.ID, nil)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	tab, err := st.GetOrCreateAutomaticTabulation(ctx, "Conversation Expired")
	if err != nil {
		t.Fatalf("get tabulation: %v", err)
	}

	// The racing closer has recorded the conversation but not yet flipped
	// its status, so the OPEN read-check alone would let a second close
	// through.
	if _, err := st.CreateFinishedConversation(ctx, store.CreateFinishedConversationParams{
		OriginalConversationID: conv.ID,
		ContactID:              contact.ID,
		TabulationID:           tab.ID,
		ContactName:            contact.Name,
		ContactPhone:           contact.Phone,
		OperatorName:           "System",
		StartTime:              conv.StartTime,
		EndTime:                time.Now().UTC(),
		DurationSeconds:        1,
	}); err != nil {
		t.Fatalf("create racing closing record: %v", err)
	}

	_, err = svc.Close(ctx, router.CloseParams{
		ConversationID: conv.ID,
		TabulationID:   tab.ID,
	})
	if !errors.Is(err, router.ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed when the closing record exists, got %v", err)
	}
}
