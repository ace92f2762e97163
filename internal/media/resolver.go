// Package media resolves inbound media references into stored blobs. The
// direct download URL is tried first; when it serves something other than
// the announced media kind the provider's base64 re-encode endpoint is the
// fallback. Content is validated again before it is persisted.
package media

import (
	"context"
	"log/slog"

	"github.com/elsehu/supportdesk/internal/provider"
	"github.com/elsehu/supportdesk/internal/provider/evolution"
	"github.com/elsehu/supportdesk/internal/storage"
)

// Fetcher is the provider client surface the resolver depends on.
type Fetcher interface {
	Download(ctx context.Context, creds evolution.Credentials, url string) ([]byte, string, error)
	FetchMediaBase64(ctx context.Context, creds evolution.Credentials, messageID string) ([]byte, string, error)
}

// Resolved is a successfully stored media blob.
type Resolved struct {
	StorageKey string
	Size       int32
	Mime       string
}

type Resolver struct {
	log     *slog.Logger
	fetcher Fetcher
	blobs   storage.Provider
}

func NewResolver(log *slog.Logger, fetcher Fetcher, blobs storage.Provider) *Resolver {
	return &Resolver{
		log:     log.With(slog.String("service", "media")),
		fetcher: fetcher,
		blobs:   blobs,
	}
}

// Resolve downloads, validates and stores one media attachment. A nil
// error means the blob is durable under Resolved.StorageKey. Failures are
// expected operational noise; callers keep the message with the original
// descriptor and no storage key.
func (r *Resolver) Resolve(ctx context.Context, creds evolution.Credentials, m provider.Media, conversationID, externalID string) (Resolved, error) {
	var (
		data        []byte
		contentType string
	)

	if m.URL != nil {
		if url := evolution.ResolveMediaURL(*m.URL, creds); url != "" {
			var err error
			data, contentType, err = r.fetcher.Download(ctx, creds, url)
			if err != nil {
				r.log.Warn("media url download failed",
					slog.String("kind", m.Kind), slog.String("error", err.Error()))
				data = nil
			} else if !ValidContent(m.Kind, pick(contentType, m.Mime), data) {
				r.log.Warn("media url served invalid content, trying base64 fallback",
					slog.String("kind", m.Kind), slog.String("content_type", contentType))
				data, contentType = nil, ""
			}
		}
	}

	if data == nil && externalID != "" {
		var err error
		data, contentType, err = r.fetcher.FetchMediaBase64(ctx, creds, externalID)
		if err != nil {
			r.log.Warn("media base64 fallback failed",
				slog.String("kind", m.Kind), slog.String("error", err.Error()))
			data = nil
		}
		if contentType == "" {
			contentType = m.Mime
		}
	}

	if data == nil {
		return Resolved{}, ErrUnresolvable
	}
	if int64(len(data)) > MaxPayloadBytes {
		r.log.Error("media payload over size cap",
			slog.String("kind", m.Kind), slog.Int("bytes", len(data)))
		return Resolved{}, ErrTooLarge
	}
	if !ValidContent(m.Kind, pick(contentType, m.Mime), data) {
		r.log.Error("media content invalid after all fetch paths",
			slog.String("kind", m.Kind), slog.String("content_type", contentType))
		return Resolved{}, ErrUnresolvable
	}

	saved, err := r.blobs.Save(ctx, storage.SaveParams{
		Data:         data,
		OriginalName: m.FileName,
		Subdirectory: "messages/" + conversationID,
	})
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{
		StorageKey: saved.Key,
		Size:       saved.Size,
		Mime:       pick(contentType, m.Mime),
	}, nil
}

func pick(first, fallback string) string {
	if first != "" {
		return first
	}
	return fallback
}
