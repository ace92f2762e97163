package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elsehu/supportdesk/internal/provider"
)

type fakeIngest struct {
	kinds    []provider.Kind
	payloads [][]byte
	err      error
}

func (f *fakeIngest) Process(_ context.Context, kind provider.Kind, payload []byte) error {
	f.kinds = append(f.kinds, kind)
	f.payloads = append(f.payloads, payload)
	return f.err
}

func newWebhookServer(ingest *fakeIngest) *echo.Echo {
	e := echo.New()
	NewWebhookHandler(slog.Default(), ingest, "verify-me").Register(e)
	return e
}

func TestEvolutionWebhookAcknowledges(t *testing.T) {
	ingest := &fakeIngest{}
	e := newWebhookServer(ingest)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/evolution", strings.NewReader(`{"event":"messages.upsert"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ingest.kinds, 1)
	assert.Equal(t, provider.KindEvolution, ingest.kinds[0])
	assert.JSONEq(t, `{"event":"messages.upsert"}`, string(ingest.payloads[0]))
}

func TestWebhookAcknowledgesEvenOnFailure(t *testing.T) {
	ingest := &fakeIngest{err: errors.New("pipeline exploded")}
	e := newWebhookServer(ingest)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/meta", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "providers must never see an error status")
	require.Len(t, ingest.kinds, 1)
	assert.Equal(t, provider.KindMeta, ingest.kinds[0])
}

func TestMetaVerifyEchoesChallenge(t *testing.T) {
	e := newWebhookServer(&fakeIngest{})

	query := url.Values{}
	query.Set("hub.mode", "subscribe")
	query.Set("hub.verify_token", "verify-me")
	query.Set("hub.challenge", "12345")
	req := httptest.NewRequest(http.MethodGet, "/webhooks/meta?"+query.Encode(), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())
}

func TestMetaVerifyRejectsBadToken(t *testing.T) {
	e := newWebhookServer(&fakeIngest{})

	query := url.Values{}
	query.Set("hub.mode", "subscribe")
	query.Set("hub.verify_token", "wrong")
	query.Set("hub.challenge", "12345")
	req := httptest.NewRequest(http.MethodGet, "/webhooks/meta?"+query.Encode(), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
