////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Renderer renders source code in a language to HTML.
type Renderer interface {
	Render(lang, code string) (string, error)
}

// langFromPath returns the language name for the file based on its extension.
// Files without an extension are rendered as plain text.
func langFromPath(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "plaintext"
	}
	return strings.ToLower(ext)
}

// outputPath returns the path the HTML for the input file is written to in the
// output directory.
func outputPath(dir, input string) string {
	return filepath.Join(dir, filepath.Base(input)+".html")
}

// renderFiles renders each input file. If outDir is "-", all HTML is written,
// in order, to stdout; otherwise each file is written to its own HTML file in
// outDir. If lang is empty, the language of each file is taken from its
// extension.
func renderFiles(r Renderer, inputs []string, lang, outDir string,
	stdout io.Writer) error {
	if outDir != "-" {
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create output directory %q",
				outDir)
		}
	}

	for _, input := range inputs {
		code, err := os.ReadFile(input)
		if err != nil {
			return errors.Wrapf(err, "failed to read %q", input)
		}

		l := lang
		if l == "" {
			l = langFromPath(input)
		}

		jww.DEBUG.Printf("Rendering %s as %q (%d bytes)", input, l, len(code))
		html, err := r.Render(l, string(code))
		if err != nil {
			return errors.Wrapf(err, "failed to render %q", input)
		}

		if outDir == "-" {
			if _, err = io.WriteString(stdout, html); err != nil {
				return errors.Wrap(err, "failed to write HTML to stdout")
			}
			continue
		}

		path := outputPath(outDir, input)
		if err = os.WriteFile(path, []byte(html), 0644); err != nil {
			return errors.Wrapf(err, "failed to write %q", path)
		}
		jww.INFO.Printf("Wrote %s", path)
	}

	return nil
}
