////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package renderer

import (
	"bytes"
	"context"
	"sync/atomic"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Options configures the chroma renderer.
type Options struct {
	// Style is the name of the chroma style. Unknown styles fall back to the
	// chroma default.
	Style string

	// WithClasses emits CSS class names instead of inline styles.
	WithClasses bool

	// LineNumbers adds line numbers to the output.
	LineNumbers bool

	// TabWidth is the number of spaces a tab is expanded to.
	TabWidth int
}

// DefaultOptions returns the default renderer options.
func DefaultOptions() Options {
	return Options{
		Style:       "github",
		WithClasses: true,
		LineNumbers: false,
		TabWidth:    4,
	}
}

// chromaHandle renders source code to highlighted HTML.
type chromaHandle struct {
	style     *chroma.Style
	formatter *html.Formatter
	stopped   atomic.Bool
}

// NewChroma returns a StartFunc that starts a chroma backed renderer.
func NewChroma(opts Options) StartFunc {
	return func(ctx context.Context) (Handle, error) {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "could not start chroma renderer")
		}

		style := styles.Get(opts.Style)
		if style == nil {
			style = styles.Fallback
		}

		h := &chromaHandle{
			style: style,
			formatter: html.New(
				html.WithClasses(opts.WithClasses),
				html.WithLineNumbers(opts.LineNumbers),
				html.TabWidth(opts.TabWidth),
			),
		}

		jww.INFO.Printf("[RENDER] Started chroma renderer with style %q.",
			style.Name)

		return h, nil
	}
}

// Render tokenises the code with the lexer for lang, or the plain text lexer
// if lang is unknown, and formats it as HTML.
func (h *chromaHandle) Render(ctx context.Context, lang, code string) (string, error) {
	if h.stopped.Load() {
		return "", ErrStopped
	} else if err := ctx.Err(); err != nil {
		return "", err
	}

	lexer := lexers.Get(lang)
	if lexer == nil {
		jww.DEBUG.Printf("[RENDER] No lexer for %q; rendering as plain text.",
			lang)
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return "", errors.Wrapf(err, "failed to tokenise %q source", lang)
	}

	var buf bytes.Buffer
	if err = h.formatter.Format(&buf, h.style, iterator); err != nil {
		return "", errors.Wrapf(err, "failed to format %q source", lang)
	}

	return buf.String(), nil
}

// Stop marks the renderer as stopped. Later calls to Render fail with
// ErrStopped.
func (h *chromaHandle) Stop(context.Context) error {
	if !h.stopped.CompareAndSwap(false, true) {
		return ErrStopped
	}
	jww.INFO.Print("[RENDER] Stopped chroma renderer.")
	return nil
}
