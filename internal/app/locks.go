package app

import (
	"context"
	"sync"

	"github.com/mikolaj2268/review-radar/internal/domain"
)

// LocalLocks serialises syncs per key inside one process.
type LocalLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocks() *LocalLocks {
	return &LocalLocks{held: make(map[string]struct{})}
}

func (l *LocalLocks) Acquire(_ context.Context, key string) (domain.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return domain.Lease{}, domain.ErrSyncInProgress
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return domain.Lease{Release: func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}}, nil
}

// ChainLocks acquires every lock in order and releases in reverse. Used to
// combine the in-process lock with a cross-process one. The chained lease is
// lost as soon as any member is.
type ChainLocks []domain.SyncLock

func (c ChainLocks) Acquire(ctx context.Context, key string) (domain.Lease, error) {
	leases := make([]domain.Lease, 0, len(c))
	releaseAll := func() {
		for i := len(leases) - 1; i >= 0; i-- {
			leases[i].Release()
		}
	}
	for _, l := range c {
		lease, err := l.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return domain.Lease{}, err
		}
		leases = append(leases, lease)
	}

	lost := make(chan struct{})
	done := make(chan struct{})
	var lostOnce, doneOnce sync.Once
	for _, l := range leases {
		if l.Lost == nil {
			continue
		}
		go func(ch <-chan struct{}) {
			select {
			case <-ch:
				lostOnce.Do(func() { close(lost) })
			case <-done:
			}
		}(l.Lost)
	}
	return domain.Lease{
		Release: func() {
			doneOnce.Do(func() {
				close(done)
				releaseAll()
			})
		},
		Lost: lost,
	}, nil
}
