package provision

import (
	"context"
	"log/slog"
	"time"

	"github.com/barckcode/puyu-api/internal/domain"
)

// undo reverts one effect of a run. Local undos have an empty resource kind.
type undo struct {
	step       string
	kind       string
	resourceID string
	region     string
	run        func(ctx context.Context) error
	done       bool
}

// saga collects undos and replays them in reverse order.
type saga struct {
	undos []*undo
}

func (s *saga) push(u *undo) *undo {
	s.undos = append(s.undos, u)
	return u
}

// keep marks an undo as no longer needed.
func (s *saga) keep(u *undo) {
	if u != nil {
		u.done = true
	}
}

// pending reports whether any undo is still armed.
func (s *saga) pending() bool {
	for _, u := range s.undos {
		if !u.done {
			return true
		}
	}
	return false
}

// compensate runs armed undos newest first on a context detached from the caller.
// Provider resources that survive are returned as orphans.
func (s *saga) compensate(ctx context.Context, timeout time.Duration, log *slog.Logger, onReverted func(u *undo)) []domain.OrphanedResource {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	var orphans []domain.OrphanedResource
	for i := len(s.undos) - 1; i >= 0; i-- {
		u := s.undos[i]
		if u.done {
			continue
		}
		u.done = true
		if err := u.run(ctx); err != nil {
			log.Error("compensation failed", "step", u.step, "resource_id", u.resourceID, "error", err)
			if u.kind != "" {
				orphans = append(orphans, domain.OrphanedResource{
					Kind:       u.kind,
					ResourceID: u.resourceID,
					Region:     u.region,
					Reason:     err.Error(),
				})
			}
			continue
		}
		log.Info("compensated", "step", u.step, "resource_id", u.resourceID)
		if onReverted != nil {
			onReverted(u)
		}
	}
	return orphans
}

// keepAll disarms every undo.
func (s *saga) keepAll() {
	for _, u := range s.undos {
		u.done = true
	}
}
