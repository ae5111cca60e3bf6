package media

import (
	"context"
	"time"

	"github.com/blockedby/positions-os/internal/config"
	"github.com/blockedby/positions-os/internal/logger"
)

// RetryService periodically re-queues failed downloads under the retry
// attempt cap.
type RetryService struct {
	media       MediaStore
	pipeline    *Pipeline
	interval    time.Duration
	maxAttempts int
	batchSize   int
	log         *logger.Logger
}

// NewRetryService builds a RetryService from cfg's MEDIA_RETRY_* knobs.
func NewRetryService(media MediaStore, pipeline *Pipeline, cfg *config.Config) *RetryService {
	return &RetryService{
		media:       media,
		pipeline:    pipeline,
		interval:    cfg.MediaRetryInterval,
		maxAttempts: cfg.MediaRetryMaxAttempts,
		batchSize:   cfg.MediaRetryBatchSize,
		log:         logger.Get(),
	}
}

// Run blocks, sweeping for retryable failures every interval until ctx is
// canceled.
func (s *RetryService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *RetryService) sweep(ctx context.Context) {
	pending, err := s.media.PendingRetries(ctx, s.maxAttempts, s.batchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("media: retry sweep failed")
		return
	}
	for _, mf := range pending {
		if err := s.media.MarkQueued(ctx, mf.ID); err != nil {
			s.log.Error().Err(err).Int64("media_id", mf.ID).Msg("media: mark queued for retry failed")
			continue
		}
		s.pipeline.Enqueue(mf.ID, 0)
	}
}
