package service

import (
	"context"
	"time"

	"github.com/pairpad/pairpad/model"
)

// RunJanitor periodically reclaims rooms 24 hours (configurable) past
// creation, regardless of occupancy. Attached connections get a final ERROR
// frame explaining why, then their wires are closed.
func (svc *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	svc.logger.Info().Dur("interval", interval).Msg("janitor started")

	for {
		select {
		case <-ctx.Done():
			svc.logger.Debug().Msg("janitor stopped")
			return
		case <-ticker.C:
			svc.expireRooms()
		}
	}
}

func (svc *Service) expireRooms() {
	// the sweep reads the same clock that stamped expiresAt
	expired := svc.store.Expired(svc.store.Now())
	for _, code := range expired {
		unlock := svc.locks.lock(code)
		svc.relay.CloseRoom(code, model.ErrorFrame("room expired"))
		svc.reclaimLocked(code)
		unlock()

		svc.logger.Info().Str("roomCode", code).Msg("room expired")
	}
}
