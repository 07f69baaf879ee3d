////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package blockingRenderer

import (
	"time"

	"gitlab.com/elixxir/blocking-renderer/rendererWorker"
)

// Params are parameters used by the [BlockingRenderer].
type Params struct {
	// Worker are the parameters passed to the render worker.
	Worker rendererWorker.Params

	// ResponseTimeout is the time to wait for the worker to become ready.
	ResponseTimeout time.Duration

	// RenderTimeout is the time Render blocks waiting for a result before
	// returning an error.
	RenderTimeout time.Duration

	// StopTimeout is the time Stop waits for the worker to exit.
	StopTimeout time.Duration
}

// DefaultParams returns the default parameters.
func DefaultParams() Params {
	return Params{
		Worker:          rendererWorker.DefaultParams(),
		ResponseTimeout: 30 * time.Second,
		RenderTimeout:   time.Minute,
		StopTimeout:     time.Minute,
	}
}
