// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package emulator

// Slot is a single-value mailbox. Send never blocks: while a value is
// pending, further sends are dropped and the first value wins.
type Slot[T any] struct {
	ch chan T
}

// NewSlot creates an empty slot
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{ch: make(chan T, 1)}
}

// Send stores v if the slot is empty. Returns false if v was dropped.
func (s *Slot[T]) Send(v T) bool {
	select {
	case s.ch <- v:
		return true
	default:
		return false
	}
}

// TryReceive takes the pending value, if any
func (s *Slot[T]) TryReceive() (T, bool) {
	select {
	case v := <-s.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}
