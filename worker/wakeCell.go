////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package worker

import (
	"context"
	"sync"
	"sync/atomic"
)

// Values held by a WakeCell slot.
const (
	wakeIdle     int32 = 0
	wakeSignaled int32 = 1
)

// WakeCell is a single shared integer slot used to release a thread blocked in
// Wait. It carries no data. One side only ever calls Notify and the other only
// ever calls Wait.
//
// The cell holds at most one signal: a Notify that finds no blocked waiter
// latches the slot so that the next Wait returns immediately, and further
// notifies while latched are absorbed. It is not a counting semaphore; one cell
// serves one outstanding blocking call at a time.
type WakeCell struct {
	slot    atomic.Int32
	waiters []chan struct{}
	mux     sync.Mutex
}

// NewWakeCell returns an idle WakeCell.
func NewWakeCell() *WakeCell {
	return &WakeCell{}
}

// Notify wakes the longest blocked waiter. Returns the number of waiters woken,
// which is 0 or 1. If no waiter is blocked, the signal is latched for the next
// Wait.
func (wc *WakeCell) Notify() int {
	wc.mux.Lock()
	defer wc.mux.Unlock()

	if len(wc.waiters) > 0 {
		w := wc.waiters[0]
		wc.waiters = wc.waiters[1:]
		close(w)
		return 1
	}

	wc.slot.Store(wakeSignaled)
	return 0
}

// Wait blocks until the cell is notified or the context is done. A latched
// signal is consumed and returns immediately.
func (wc *WakeCell) Wait(ctx context.Context) error {
	wc.mux.Lock()
	if wc.slot.CompareAndSwap(wakeSignaled, wakeIdle) {
		wc.mux.Unlock()
		return nil
	}
	w := make(chan struct{})
	wc.waiters = append(wc.waiters, w)
	wc.mux.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		wc.mux.Lock()
		defer wc.mux.Unlock()
		for i, waiter := range wc.waiters {
			if waiter == w {
				wc.waiters = append(wc.waiters[:i], wc.waiters[i+1:]...)
				return ctx.Err()
			}
		}

		// Notify picked this waiter after the context ended; keep the signal
		// for the next Wait instead of dropping it
		wc.slot.Store(wakeSignaled)
		return ctx.Err()
	}
}

// Clear discards a latched signal without blocking. Returns true if a signal
// was discarded.
func (wc *WakeCell) Clear() bool {
	wc.mux.Lock()
	defer wc.mux.Unlock()
	return wc.slot.CompareAndSwap(wakeSignaled, wakeIdle)
}

// Load returns the current value of the slot: 1 if a signal is latched and 0
// otherwise.
func (wc *WakeCell) Load() int32 { return wc.slot.Load() }

// Waiters returns the number of threads currently blocked in Wait.
func (wc *WakeCell) Waiters() int {
	wc.mux.Lock()
	defer wc.mux.Unlock()
	return len(wc.waiters)
}
