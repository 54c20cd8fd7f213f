// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package emulator

import (
	"context"
	"time"
)

// DefaultReadingsInterval is how often PollReadings checks the mailbox
const DefaultReadingsInterval = 100 * time.Millisecond

// PollReadings drains the readings mailbox every interval and passes each
// value to all handlers, in order, until ctx is cancelled. Handlers run on
// the calling goroutine.
func PollReadings(ctx context.Context, reg *Registry, interval time.Duration, handlers ...func(ThermoReadings)) {
	if interval <= 0 {
		interval = DefaultReadingsInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r, ok := reg.ReceiveReadings()
			if !ok {
				continue
			}
			for _, h := range handlers {
				if h != nil {
					h(r)
				}
			}
		}
	}
}
