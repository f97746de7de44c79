package sfifo

import (
	"context"
	"os"
	"time"
)

// watch polls the FIFO path and fires a single Deleted event when it
// disappears. Stopped by Close.
func (e *Endpoint) watch(ctx context.Context) {
	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := os.Stat(e.statPath); os.IsNotExist(err) {
				e.markDeleted()
				return
			}
		}
	}
}
