////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package renderer defines the rendering engine used by the render worker and
// provides a default engine that highlights source code with chroma.
package renderer

import (
	"context"

	"github.com/pkg/errors"
)

// ErrStopped is returned when rendering on a Handle that has been stopped.
var ErrStopped = errors.New("renderer has been stopped")

// Handle is a started rendering engine. Render may be called concurrently and
// may take an arbitrarily long time. Stop is called once and is terminal.
type Handle interface {
	// Render returns the HTML for the source code in the given language.
	Render(ctx context.Context, lang, code string) (string, error)

	// Stop releases the engine.
	Stop(ctx context.Context) error
}

// StartFunc starts a rendering engine. It is called once per worker.
type StartFunc func(ctx context.Context) (Handle, error)
