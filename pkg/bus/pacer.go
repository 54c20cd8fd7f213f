// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bus

import "time"

// pacer spaces byte writes on fixed deadlines counted from the first byte, so
// a slow write shortens the following gap instead of stretching the frame.
type pacer struct {
	interval time.Duration
	next     time.Time
	now      func() time.Time
	sleep    func(time.Duration)
}

func newPacer(interval time.Duration) *pacer {
	return &pacer{
		interval: interval,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// start anchors the deadlines at the current time
func (p *pacer) start() {
	p.next = p.now()
}

// wait blocks until the next deadline. Deadlines already passed return
// immediately.
func (p *pacer) wait() {
	if p.interval <= 0 {
		return
	}
	p.next = p.next.Add(p.interval)
	if d := p.next.Sub(p.now()); d > 0 {
		p.sleep(d)
	}
}
