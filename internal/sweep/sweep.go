// Package sweep runs the background hygiene jobs: expiring idle
// conversations and pruning stored media past its retention window.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/elsehu/supportdesk/internal/metrics"
	"github.com/elsehu/supportdesk/internal/realtime"
	"github.com/elsehu/supportdesk/internal/router"
	"github.com/elsehu/supportdesk/internal/storage"
	"github.com/elsehu/supportdesk/internal/store"
)

// ExpiredTabulationName labels the automatic tabulation stamped on
// conversations closed by inactivity.
const ExpiredTabulationName = "Conversation Expired"

// autoCloseOperatorName marks idle-expired closing records so they read
// differently from manual closes of unassigned conversations.
const autoCloseOperatorName = "System (auto-close)"

// pruneBatchSize bounds one retention pass; leftovers wait for the next
// run.
const pruneBatchSize = 200

// Store is the persistence surface the sweeps need.
type Store interface {
	ListExpirationCandidates(ctx context.Context, cutoff time.Time) ([]store.Conversation, error)
	GetOrCreateAutomaticTabulation(ctx context.Context, name string) (store.Tabulation, error)
	ListStoredMediaOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]store.StoredMediaRef, error)
	ClearMediaStorageKey(ctx context.Context, messageID string) error
}

// Closer finalizes a conversation.
type Closer interface {
	Close(ctx context.Context, p router.CloseParams) (store.FinishedConversation, error)
}

// Config sets the sweep cadence and windows.
type Config struct {
	// ExpireSpec and MediaCleanupSpec are standard cron expressions.
	ExpireSpec       string
	MediaCleanupSpec string
	Inactivity       time.Duration
	MediaRetention   time.Duration
}

type Service struct {
	log     *slog.Logger
	cfg     Config
	store   Store
	closer  Closer
	blobs   storage.Provider
	gateway realtime.Gateway
	metrics *metrics.Metrics
	cron    *cron.Cron
}

func NewService(log *slog.Logger, cfg Config, st Store, closer Closer, blobs storage.Provider, gateway realtime.Gateway, m *metrics.Metrics) *Service {
	return &Service{
		log:     log.With(slog.String("service", "sweep")),
		cfg:     cfg,
		store:   st,
		closer:  closer,
		blobs:   blobs,
		gateway: gateway,
		metrics: m,
	}
}

// Start schedules both jobs and launches the cron loop.
func (s *Service) Start() error {
	if s.cron != nil {
		return errors.New("sweep: already started")
	}
	c := cron.New()

	if _, err := c.AddFunc(s.cfg.ExpireSpec, func() {
		if err := s.ExpireIdleConversations(context.Background()); err != nil {
			s.log.Error("expiration sweep failed", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("sweep: schedule expiration: %w", err)
	}

	if _, err := c.AddFunc(s.cfg.MediaCleanupSpec, func() {
		if err := s.PruneExpiredMedia(context.Background()); err != nil {
			s.log.Error("media retention sweep failed", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("sweep: schedule media cleanup: %w", err)
	}

	s.cron = c
	c.Start()
	s.log.Info("sweeps scheduled",
		slog.String("expire", s.cfg.ExpireSpec),
		slog.String("media_cleanup", s.cfg.MediaCleanupSpec))
	return nil
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *Service) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExpireIdleConversations closes every open conversation whose last
// activity is older than the inactivity window. Each close is independent;
// one failure does not abandon the rest of the batch.
func (s *Service) ExpireIdleConversations(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.Inactivity)
	candidates, err := s.store.ListExpirationCandidates(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("sweep: list candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	tabulation, err := s.store.GetOrCreateAutomaticTabulation(ctx, ExpiredTabulationName)
	if err != nil {
		return fmt.Errorf("sweep: expiration tabulation: %w", err)
	}

	var errs []error
	closed := 0
	for _, conversation := range candidates {
		_, err := s.closer.Close(ctx, router.CloseParams{
			ConversationID:       conversation.ID,
			TabulationID:         tabulation.ID,
			OperatorNameFallback: autoCloseOperatorName,
		})
		if errors.Is(err, router.ErrAlreadyClosed) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", conversation.ID, err))
			continue
		}
		closed++
		s.metrics.ConversationsClosed.WithLabelValues(metrics.CauseExpired).Inc()
		s.gateway.EmitConversationClosed(conversation.ID)
	}

	if closed > 0 {
		s.log.Info("idle conversations expired", slog.Int("count", closed))
	}
	return errors.Join(errs...)
}

// PruneExpiredMedia deletes stored blobs past the retention window and
// clears their storage keys so the message keeps its media reference
// without a dangling pointer. The blob goes first: a crash in between
// leaves a key pointing nowhere, which serving treats the same as
// pruned.
func (s *Service) PruneExpiredMedia(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.MediaRetention)

	var errs []error
	pruned := 0
	for {
		refs, err := s.store.ListStoredMediaOlderThan(ctx, cutoff, pruneBatchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep: list stored media: %w", err))
			break
		}
		if len(refs) == 0 {
			break
		}

		progressed := false
		for _, ref := range refs {
			if err := s.blobs.Delete(ctx, ref.StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
				errs = append(errs, fmt.Errorf("delete blob %s: %w", ref.StorageKey, err))
				continue
			}
			if err := s.store.ClearMediaStorageKey(ctx, ref.MessageID); err != nil {
				errs = append(errs, fmt.Errorf("clear key for %s: %w", ref.MessageID, err))
				continue
			}
			progressed = true
			pruned++
			s.metrics.MediaPruned.Inc()
		}
		// A batch where nothing cleared would loop on the same rows.
		if !progressed {
			break
		}
		if len(refs) < pruneBatchSize {
			break
		}
	}

	if pruned > 0 {
		s.log.Info("expired media pruned", slog.Int("count", pruned))
	}
	return errors.Join(errs...)
}
