// Package history keeps past window aggregates in sqlite.
package history

import (
	"context"

	"codeberg.org/mutker/solo2d/internal/errors"
	"codeberg.org/mutker/solo2d/internal/logger"
)

type service struct {
	repo Repository
}

type noopCollector struct{}

// NewService returns a collector backed by sqlite, or a no-op collector when
// history is disabled.
func NewService(cfg Config, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	log = log.WithComponent("history")

	if !cfg.Enabled {
		log.Debug().Msg("History disabled, using no-op collector")
		return &noopCollector{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create history repository")
		return nil, err
	}

	log.Debug().
		Str("db_path", cfg.DBPath).
		Int("batch_size", cfg.BatchSize).
		Msg("History service initialized")

	return &service{repo: repo}, nil
}

func (s *service) Record(ctx context.Context, snapshot *Snapshot) error {
	errFactory := errors.New()

	if snapshot == nil || snapshot.At.IsZero() {
		return errFactory.New(ErrInvalidSnapshot)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Record(snapshot); err != nil {
			return errFactory.Wrap(ErrRecordFailed, err)
		}
	}

	return nil
}

// Recent flushes pending snapshots and returns the latest limit entries of
// window, newest first.
func (s *service) Recent(ctx context.Context, window, limit int) ([]Entry, error) {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return nil, errFactory.Wrap(ErrOperationTimeout, err)
	}
	if err := s.repo.Flush(); err != nil {
		return nil, err
	}

	return s.repo.Recent(window, limit)
}

func (s *service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}

	return nil
}

func (*noopCollector) Record(_ context.Context, _ *Snapshot) error {
	return nil
}

func (*noopCollector) Recent(_ context.Context, _, _ int) ([]Entry, error) {
	return nil, nil
}

func (*noopCollector) Close() error {
	return nil
}
