////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package main

import (
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"gitlab.com/elixxir/blocking-renderer/blockingRenderer"
	"gitlab.com/elixxir/blocking-renderer/renderer"
)

// config is the contents of the TOML config file. Unset fields keep their
// defaults.
//
// Example:
//
//	style = "monokai"
//	lineNumbers = true
//	messageLogging = false
//
//	[timeouts]
//	response = "30s"
//	render = "1m"
//	stop = "1m"
//	shutdownDrain = "10s"
type config struct {
	Style          *string  `toml:"style"`
	WithClasses    *bool    `toml:"withClasses"`
	LineNumbers    *bool    `toml:"lineNumbers"`
	TabWidth       *int     `toml:"tabWidth"`
	MessageLogging *bool    `toml:"messageLogging"`
	Timeouts       timeouts `toml:"timeouts"`
}

// timeouts are durations written in the format accepted by
// time.ParseDuration.
type timeouts struct {
	Response      string `toml:"response"`
	Render        string `toml:"render"`
	Stop          string `toml:"stop"`
	ShutdownDrain string `toml:"shutdownDrain"`
}

// loadConfig reads the TOML config file at path. An empty path returns an
// empty config.
func loadConfig(path string) (config, error) {
	var c config
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return c, errors.Wrapf(err, "failed to read config file %q", path)
	}

	if err = toml.Unmarshal(data, &c); err != nil {
		return c, errors.Wrapf(err, "failed to parse config file %q", path)
	}

	return c, nil
}

// apply overwrites the options and parameters with every value set in the
// config.
func (c config) apply(
	opts *renderer.Options, p *blockingRenderer.Params) error {
	if c.Style != nil {
		opts.Style = *c.Style
	}
	if c.WithClasses != nil {
		opts.WithClasses = *c.WithClasses
	}
	if c.LineNumbers != nil {
		opts.LineNumbers = *c.LineNumbers
	}
	if c.TabWidth != nil {
		opts.TabWidth = *c.TabWidth
	}
	if c.MessageLogging != nil {
		p.Worker.MessageLogging = *c.MessageLogging
	}

	for _, d := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"response", c.Timeouts.Response, &p.ResponseTimeout},
		{"render", c.Timeouts.Render, &p.RenderTimeout},
		{"stop", c.Timeouts.Stop, &p.StopTimeout},
		{"shutdownDrain", c.Timeouts.ShutdownDrain, &p.Worker.ShutdownDrainTimeout},
	} {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return errors.Wrapf(err, "invalid %s timeout", d.name)
		} else if v < 0 {
			return errors.Errorf("invalid %s timeout: %s is negative",
				d.name, d.value)
		}
		*d.dst = v
	}

	return nil
}
