package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	registrystore "github.com/fableforge/chronicle/internal/registry/store"
)

// ExpiryService runs background cleanup passes on a configurable interval:
//  1. Delete session memories whose TTL has elapsed.
//  2. Delete expired episodes that were never promoted. Promoted episodes are
//     kept as canon provenance regardless of TTL.
//  3. Prune snapshots that were already unwound and fell out of the retention
//     window. Snapshots that were never unwound are kept.
//
// All passes are gated on the auto-cleanup flag in the settings row.
type ExpiryService struct {
	store    registrystore.MemoryStore
	interval time.Duration
}

func NewExpiryService(store registrystore.MemoryStore, interval time.Duration) *ExpiryService {
	return &ExpiryService{store: store, interval: interval}
}

// Start runs the cleanup loop until ctx is cancelled.
func (s *ExpiryService) Start(ctx context.Context) {
	if s == nil || s.store == nil || s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes one cleanup pass. Exposed for tests.
func (s *ExpiryService) RunOnce(ctx context.Context) {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		log.Error("Expiry pass skipped; settings unavailable", "err", err)
		return
	}
	if !settings.AutoCleanup {
		return
	}
	now := time.Now()

	n, err := s.store.ExpireSessionMemories(ctx, now)
	if err != nil {
		log.Error("Session memory expiry failed", "err", err)
	} else if n > 0 {
		log.Info("Session memory expiry", "deleted", n)
	}

	n, err = s.store.ExpireEpisodes(ctx, now)
	if err != nil {
		log.Error("Episode expiry failed", "err", err)
	} else if n > 0 {
		log.Info("Episode expiry", "deleted", n)
	}

	if settings.SnapshotRetentionDays > 0 {
		olderThan := now.AddDate(0, 0, -settings.SnapshotRetentionDays)
		n, err = s.store.PruneUnwoundSnapshots(ctx, olderThan)
		if err != nil {
			log.Error("Snapshot pruning failed", "err", err)
		} else if n > 0 {
			log.Info("Snapshot pruning", "deleted", n)
		}
	}
}
