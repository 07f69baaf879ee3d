////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package utils

import (
	"context"
	"sync"
)

// Future is a value that becomes available once. Any number of goroutines may
// wait on it; once it is settled every wait returns the cached result
// immediately.
type Future[T any] struct {
	done    chan struct{}
	settled bool
	value   T
	err     error
	mux     sync.Mutex
}

// NewFuture returns an unsettled Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a Future that is already settled with the value.
func Resolved[T any](v T) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(v)
	return f
}

// Resolve settles the Future with the value. Returns false, and does nothing,
// if the Future was already settled.
func (f *Future[T]) Resolve(v T) bool {
	return f.settle(v, nil)
}

// Reject settles the Future with an error. Returns false, and does nothing, if
// the Future was already settled.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

// Replace settles the Future with the value if it is unsettled or overwrites
// the cached result if it is not. Waits that already returned keep the old
// value; later ones get the new value. Returns true if a previous result was
// overwritten.
func (f *Future[T]) Replace(v T) bool {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.value, f.err = v, nil
	if f.settled {
		return true
	}
	f.settled = true
	close(f.done)
	return false
}

func (f *Future[T]) settle(v T, err error) bool {
	f.mux.Lock()
	defer f.mux.Unlock()
	if f.settled {
		return false
	}
	f.value, f.err, f.settled = v, err, true
	close(f.done)
	return true
}

// Await blocks until the Future is settled or the context is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}

	f.mux.Lock()
	defer f.mux.Unlock()
	return f.value, f.err
}

// Done returns a channel that is closed once the Future is settled.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Settled returns true if the Future has been resolved or rejected.
func (f *Future[T]) Settled() bool {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.settled
}
