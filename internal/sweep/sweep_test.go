package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elsehu/supportdesk/internal/metrics"
	"github.com/elsehu/supportdesk/internal/router"
	"github.com/elsehu/supportdesk/internal/storage"
	"github.com/elsehu/supportdesk/internal/store"
)

type fakeStore struct {
	candidates []store.Conversation
	tabulation store.Tabulation

	mediaBatches [][]store.StoredMediaRef
	cleared      []string
	clearErr     error
}

func (f *fakeStore) ListExpirationCandidates(context.Context, time.Time) ([]store.Conversation, error) {
	return f.candidates, nil
}

func (f *fakeStore) GetOrCreateAutomaticTabulation(_ context.Context, name string) (store.Tabulation, error) {
	if f.tabulation.ID == "" {
		f.tabulation = store.Tabulation{ID: "tab-auto", Name: name, IsAutomatic: true}
	}
	return f.tabulation, nil
}

func (f *fakeStore) ListStoredMediaOlderThan(context.Context, time.Time, int) ([]store.StoredMediaRef, error) {
	if len(f.mediaBatches) == 0 {
		return nil, nil
	}
	batch := f.mediaBatches[0]
	f.mediaBatches = f.mediaBatches[1:]
	return batch, nil
}

func (f *fakeStore) ClearMediaStorageKey(_ context.Context, messageID string) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	f.cleared = append(f.cleared, messageID)
	return nil
}

type fakeCloser struct {
	params []router.CloseParams
	errs   map[string]error
}

func (f *fakeCloser) Close(_ context.Context, p router.CloseParams) (store.FinishedConversation, error) {
	if err := f.errs[p.ConversationID]; err != nil {
		return store.FinishedConversation{}, err
	}
	f.params = append(f.params, p)
	return store.FinishedConversation{OriginalConversationID: p.ConversationID}, nil
}

type fakeBlobs struct {
	deleted   []string
	deleteErr map[string]error
}

func (f *fakeBlobs) Save(context.Context, storage.SaveParams) (storage.SavedFile, error) {
	return storage.SavedFile{}, errors.New("not implemented")
}

func (f *fakeBlobs) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	if err := f.deleteErr[key]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeGateway struct {
	closed []string
}

func (f *fakeGateway) EmitNewMessage(string, store.Message) {}
func (f *fakeGateway) EmitNewConversation(store.ConversationSummary) {}
func (f *fakeGateway) EmitConversationUpdated(string, store.ConversationSummary) {}
func (f *fakeGateway) EmitPresence(string, bool) {}
func (f *fakeGateway) EmitConversationClosed(conversationID string) {
	f.closed = append(f.closed, conversationID)
}

func newFixture() (*Service, *fakeStore, *fakeCloser, *fakeBlobs, *fakeGateway) {
	st := &fakeStore{}
	closer := &fakeCloser{errs: map[string]error{}}
	blobs := &fakeBlobs{deleteErr: map[string]error{}}
	gateway := &fakeGateway{}
	svc := NewService(slog.Default(), Config{
		ExpireSpec:       "@hourly",
		MediaCleanupSpec: "0 2 * * *",
		Inactivity:       24 * time.Hour,
		MediaRetention:   72 * time.Hour,
	}, st, closer, blobs, gateway, metrics.New())
	return svc, st, closer, blobs, gateway
}

func TestExpireClosesIdleConversations(t *testing.T) {
	svc, st, closer, _, gateway := newFixture()
	st.candidates = []store.Conversation{
		{ID: "conv-1", Status: store.StatusOpen},
		{ID: "conv-2", Status: store.StatusOpen},
	}

	require.NoError(t, svc.ExpireIdleConversations(context.Background()))

	require.Len(t, closer.params, 2)
	assert.Equal(t, "tab-auto", closer.params[0].TabulationID)
	assert.Equal(t, autoCloseOperatorName, closer.params[0].OperatorNameFallback)
	assert.Nil(t, closer.params[0].ClosedBy)
	assert.Equal(t, []string{"conv-1", "conv-2"}, gateway.closed)
}

func TestExpireNothingToDo(t *testing.T) {
	svc, _, closer, _, _ := newFixture()

	require.NoError(t, svc.ExpireIdleConversations(context.Background()))
	assert.Empty(t, closer.params)
}

func TestExpireToleratesRacingClose(t *testing.T) {
	svc, st, closer, _, gateway := newFixture()
	st.candidates = []store.Conversation{
		{ID: "conv-1", Status: store.StatusOpen},
		{ID: "conv-2", Status: store.StatusOpen},
	}
	closer.errs["conv-1"] = router.ErrAlreadyClosed

	require.NoError(t, svc.ExpireIdleConversations(context.Background()))

	require.Len(t, closer.params, 1)
	assert.Equal(t, "conv-2", closer.params[0].ConversationID)
	assert.Equal(t, []string{"conv-2"}, gateway.closed)
}

func TestExpireReportsFailuresButContinues(t *testing.T) {
	svc, st, closer, _, _ := newFixture()
	st.candidates = []store.Conversation{
		{ID: "conv-1", Status: store.StatusOpen},
		{ID: "conv-2", Status: store.StatusOpen},
	}
	closer.errs["conv-1"] = errors.New("db down")

	err := svc.ExpireIdleConversations(context.Background())
	assert.Error(t, err)
	require.Len(t, closer.params, 1)
	assert.Equal(t, "conv-2", closer.params[0].ConversationID)
}

func TestPruneDeletesBlobsAndClearsKeys(t *testing.T) {
	svc, st, _, blobs, _ := newFixture()
	st.mediaBatches = [][]store.StoredMediaRef{{
		{MessageID: "msg-1", StorageKey: "messages/c1/a.jpg"},
		{MessageID: "msg-2", StorageKey: "messages/c1/b.ogg"},
	}}

	require.NoError(t, svc.PruneExpiredMedia(context.Background()))

	assert.Equal(t, []string{"messages/c1/a.jpg", "messages/c1/b.ogg"}, blobs.deleted)
	assert.Equal(t, []string{"msg-1", "msg-2"}, st.cleared)
}

func TestPruneTreatsMissingBlobAsDeleted(t *testing.T) {
	svc, st, _, blobs, _ := newFixture()
	blobs.deleteErr["already-gone"] = storage.ErrNotFound
	st.mediaBatches = [][]store.StoredMediaRef{{
		{MessageID: "msg-1", StorageKey: "already-gone"},
	}}

	require.NoError(t, svc.PruneExpiredMedia(context.Background()))
	assert.Equal(t, []string{"msg-1"}, st.cleared)
	assert.Empty(t, blobs.deleted)
}

func TestPruneStopsWhenNothingClears(t *testing.T) {
	svc, st, _, _, _ := newFixture()
	st.clearErr = errors.New("db down")
	st.mediaBatches = [][]store.StoredMediaRef{
		{{MessageID: "msg-1", StorageKey: "messages/c1/a.jpg"}},
		{{MessageID: "msg-1", StorageKey: "messages/c1/a.jpg"}},
	}

	err := svc.PruneExpiredMedia(context.Background())
	assert.Error(t, err)
	assert.Empty(t, st.cleared)
	require.Len(t, st.mediaBatches, 1, "the loop must not spin on a stuck batch")
}

func TestStartRejectsBadSpec(t *testing.T) {
	svc, _, _, _, _ := newFixture()
	svc.cfg.ExpireSpec = "not a cron spec"

	assert.Error(t, svc.Start())
}

func TestStartAndStop(t *testing.T) {
	svc, _, _, _, _ := newFixture()

	require.NoError(t, svc.Start())
	assert.Error(t, svc.Start(), "double start must be rejected")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(ctx))
}
