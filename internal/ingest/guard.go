package ingest

import (
	"context"
	"sync/atomic"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

// Guard admits at most one ingestion or detail sweep at a time. TryAcquire
// fails fast with newsletter.ErrRunInProgress instead of queueing.
type Guard interface {
	TryAcquire(ctx context.Context) (release func(), err error)
}

// LocalGuard is an in-process Guard.
type LocalGuard struct {
	running atomic.Bool
}

// NewLocalGuard returns an unlocked guard.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{}
}

// TryAcquire claims the guard or reports that a run is already in progress.
func (g *LocalGuard) TryAcquire(_ context.Context) (func(), error) {
	if !g.running.CompareAndSwap(false, true) {
		return nil, newsletter.ErrRunInProgress
	}
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			g.running.Store(false)
		}
	}, nil
}
