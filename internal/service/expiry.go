// Package service holds long-running background loops started by the server.
package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	registrystore "github.com/memoryscope/memoryscope/internal/registry/store"
)

// ExpiryService periodically hard-deletes expired memories and stale read
// grants. Expired rows are already invisible to reads; the sweeper only
// reclaims storage.
type ExpiryService struct {
	store          registrystore.MemoryStore
	interval       time.Duration
	batchSize      int
	grantRetention time.Duration
}

// NewExpiryService creates the expiry sweeper.
func NewExpiryService(store registrystore.MemoryStore, interval time.Duration, batchSize int, grantRetention time.Duration) *ExpiryService {
	return &ExpiryService{
		store:          store,
		interval:       interval,
		batchSize:      batchSize,
		grantRetention: grantRetention,
	}
}

// Start begins the periodic sweep loop. Returns when ctx is cancelled.
func (e *ExpiryService) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *ExpiryService) sweep(ctx context.Context) {
	now := time.Now().UTC()

	var memories int64
	for {
		n, err := e.store.DeleteExpiredMemories(ctx, now, e.batchSize)
		if err != nil {
			log.Error("Expiry: delete memories failed", "err", err)
			break
		}
		memories += n
		if n < int64(e.batchSize) {
			break
		}
	}

	// Expired grants stay around for a retention window so revocations and
	// continues remain auditable against them.
	grantCutoff := now.Add(-e.grantRetention)
	var grants int64
	for {
		n, err := e.store.DeleteStaleGrants(ctx, grantCutoff, e.batchSize)
		if err != nil {
			log.Error("Expiry: delete grants failed", "err", err)
			break
		}
		grants += n
		if n < int64(e.batchSize) {
			break
		}
	}

	if memories > 0 || grants > 0 {
		log.Info("Expiry: sweep completed", "memories", memories, "grants", grants)
	}
}
