////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package rendererWorker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Params are parameters used by the render worker.
type Params struct {
	// Name describes the worker. It is used for debugging and logging purposes.
	Name string

	// MessageLogging indicates if a DEBUG message should be printed every time
	// a message is received.
	MessageLogging bool

	// ShutdownDrainTimeout is how long shutdown waits for in-flight renders to
	// post their results before stopping the renderer. Zero skips the wait and
	// abandons in-flight renders.
	ShutdownDrainTimeout time.Duration

	// Registerer, if set, is where the worker's metrics are registered.
	Registerer prometheus.Registerer

	// OnError, if set, is called with every protocol violation and render
	// failure after it is logged.
	OnError func(err error)
}

// DefaultParams returns the default parameters.
func DefaultParams() Params {
	return Params{
		Name:                 "RendererWorker",
		MessageLogging:       false,
		ShutdownDrainTimeout: 30 * time.Second,
	}
}
