package auth

import (
	"context"
	"log"
	"time"
)

const DefaultTokenCleanupInterval = time.Hour

// StartTokenCleaner purges expired tokens every interval until ctx is done.
func (s *Service) StartTokenCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTokenCleanupInterval
	}
	go s.cleanupLoop(ctx, interval)
}

func (s *Service) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.CleanExpired(ctx)
			if err != nil {
				log.Printf("cleanup tokens error: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("removed %d expired tokens", n)
			}
		}
	}
}
