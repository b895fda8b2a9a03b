package service

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/fableforge/chronicle/internal/memory"
	"github.com/google/uuid"
)

// Promoter promotes episodes in the background through a bounded queue and a
// single worker. Submit never blocks the condensation path: when the queue is
// full the episode is dropped and can be promoted manually later. Promotion
// failures are logged, never propagated to the submitter.
type Promoter struct {
	engine *memory.Engine
	queue  chan uuid.UUID
}

// NewPromoter creates a promoter with the given queue capacity.
func NewPromoter(engine *memory.Engine, queueSize int) *Promoter {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Promoter{
		engine: engine,
		queue:  make(chan uuid.UUID, queueSize),
	}
}

// Submit queues an episode for promotion.
func (p *Promoter) Submit(episodeID uuid.UUID) {
	select {
	case p.queue <- episodeID:
	default:
		log.Warn("Promotion queue full; dropping episode", "episode", episodeID)
	}
}

// Start runs the worker until ctx is cancelled.
func (p *Promoter) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case episodeID := <-p.queue:
			if _, err := p.engine.PromoteEpisode(ctx, episodeID, true); err != nil {
				log.Error("Background promotion failed", "episode", episodeID, "err", err)
			}
		}
	}
}

var _ memory.Promoter = (*Promoter)(nil)
