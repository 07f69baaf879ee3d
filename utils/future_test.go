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
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// Tests that every goroutine waiting on a Future receives the resolved value
// and that later resolves are ignored.
func TestFuture_Resolve(t *testing.T) {
	f := NewFuture[int]()

	const n = 5
	var wg sync.WaitGroup
	results := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := f.Await(context.Background())
			if err != nil {
				t.Errorf("Await failed: %+v", err)
			}
			results <- v
		}()
	}

	if f.Settled() {
		t.Error("Future settled before Resolve.")
	}
	if !f.Resolve(42) {
		t.Error("First Resolve reported the Future as already settled.")
	}
	if f.Resolve(7) {
		t.Error("Second Resolve overwrote the value.")
	}

	wg.Wait()
	close(results)
	for v := range results {
		if v != 42 {
			t.Errorf("Unexpected value.\nexpected: %d\nreceived: %d", 42, v)
		}
	}

	select {
	case <-f.Done():
	default:
		t.Error("Done not closed after Resolve.")
	}
}

// Tests that Future.Reject settles the Future with the error.
func TestFuture_Reject(t *testing.T) {
	f := NewFuture[string]()
	expected := errors.New("failed")
	require.True(t, f.Reject(expected))
	require.False(t, f.Resolve("value"))

	v, err := f.Await(context.Background())
	if !errors.Is(err, expected) {
		t.Errorf("Unexpected error.\nexpected: %v\nreceived: %v", expected, err)
	}
	require.Empty(t, v)
}

// Tests that Future.Replace settles an unsettled Future and overwrites a
// settled one.
func TestFuture_Replace(t *testing.T) {
	f := NewFuture[int]()

	if f.Replace(1) {
		t.Error("Replace on an unsettled Future reported an overwrite.")
	}
	if !f.Replace(2) {
		t.Error("Replace on a settled Future did not report an overwrite.")
	}

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	if v != 2 {
		t.Errorf("Unexpected value.\nexpected: %d\nreceived: %d", 2, v)
	}

	// Replace also clears a rejection
	r := NewFuture[int]()
	r.Reject(errors.New("failed"))
	r.Replace(3)
	v, err = r.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, v)
}

// Tests that Resolved returns a settled Future.
func TestResolved(t *testing.T) {
	f := Resolved("done")
	require.True(t, f.Settled())
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "done", v)
}

// Error path: Tests that Future.Await returns the context error when the
// Future is never settled.
func TestFuture_Await_ContextDone(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Unexpected error.\nexpected: %v\nreceived: %v",
			context.DeadlineExceeded, err)
	}
}
