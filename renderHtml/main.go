////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// package main is a command line utility that renders source files to
// highlighted HTML through a blocking renderer backed by a render worker.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/blocking-renderer/blockingRenderer"
	"gitlab.com/elixxir/blocking-renderer/logging"
	"gitlab.com/elixxir/blocking-renderer/renderer"
)

// Flag variables.
var (
	lang, outputDir, style, configPath, logPath, logDump, metricsPath string
	lineNumbers, messageLogging                                     bool
	logLevel, logDumpSize                                           int
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// Renders each source file given as an argument to HTML. The language of each
// file is taken from its extension unless set with --lang.
var cmd = &cobra.Command{
	Use:   "renderHtml [flags] file...",
	Short: "Renders source files to syntax highlighted HTML.",
	Long: "Renders source files to syntax highlighted HTML. Rendering runs on " +
		"a render worker; each file is sent to it in turn and the call " +
		"blocks until its HTML is returned. Refer to the flags for details.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {

		// Initialize the logging
		initLog(jww.Threshold(logLevel), logPath)

		var lf *logging.LogFile
		if logDump != "" {
			var err error
			lf, err = logging.NewLogFile(logDump, jww.LevelTrace, logDumpSize)
			if err != nil {
				return err
			}
			defer func() {
				lf.StopLogging()
				if err := lf.WriteFile(logDump); err != nil {
					jww.ERROR.Printf("%+v", err)
				}
			}()
		}

		opts := renderer.DefaultOptions()
		p := blockingRenderer.DefaultParams()

		c, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if err = c.apply(&opts, &p); err != nil {
			return err
		}

		// Explicitly set flags override the config file
		flags := cmd.Flags()
		if flags.Changed("style") {
			opts.Style = style
		}
		if flags.Changed("lineNumbers") {
			opts.LineNumbers = lineNumbers
		}
		if flags.Changed("messageLogging") {
			p.Worker.MessageLogging = messageLogging
		}

		var reg *prometheus.Registry
		if metricsPath != "" {
			reg = prometheus.NewRegistry()
			p.Worker.Registerer = reg
		}

		br, err := blockingRenderer.New(renderer.NewChroma(opts), p)
		if err != nil {
			return err
		}

		renderErr := renderFiles(br, args, lang, outputDir, cmd.OutOrStdout())
		stopErr := br.Stop()
		if renderErr != nil {
			return renderErr
		} else if stopErr != nil {
			return stopErr
		}

		if reg != nil {
			return writeMetrics(reg, metricsPath)
		}

		return nil
	},
}

// init is the initialization function for Cobra which defines flags.
func init() {
	cmd.Flags().StringVarP(&lang, "lang", "x", "",
		"Language of every input file. By default, the language is taken "+
			"from each file's extension.")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "-",
		"Output directory; each file is written to <name>.html. By default, "+
			"HTML is printed to stdout.")
	cmd.Flags().StringVarP(&style, "style", "s", renderer.DefaultOptions().Style,
		"Chroma style used to highlight the source.")
	cmd.Flags().BoolVarP(&lineNumbers, "lineNumbers", "n", false,
		"Add line numbers to the output.")
	cmd.Flags().BoolVar(&messageLogging, "messageLogging", false,
		"Log every message sent to and received by the render worker at DEBUG.")
	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to a TOML config file. Flags that are set override its values.")
	cmd.Flags().StringVarP(&logPath, "log", "l", "-",
		"Log output path. By default, logs are printed to stdout. "+
			"To disable logging, set this to empty (\"\").")
	cmd.Flags().IntVarP(&logLevel, "logLevel", "v", 4,
		"Verbosity level of logging. 0 = TRACE, 1 = DEBUG, 2 = INFO, "+
			"3 = WARN, 4 = ERROR, 5 = CRITICAL, 6 = FATAL")
	cmd.Flags().StringVar(&logDump, "logDump", "",
		"Path to write every log line, at all levels, to on exit.")
	cmd.Flags().IntVar(&logDumpSize, "logDumpSize", 5_000_000,
		"Maximum size, in bytes, of the log dump. Older lines are dropped.")
	cmd.Flags().StringVar(&metricsPath, "metrics", "",
		"Path to write render worker metrics to, in the Prometheus text "+
			"format, on exit.")
}

// initLog will enable JWW logging to the given log path with the given
// threshold. If log path is empty, then logging to stdout is disabled. Panics
// if the log file cannot be opened or if the threshold is invalid.
func initLog(threshold jww.Threshold, logPath string) {
	if logPath == "" {
		logging.Silence()
		return
	} else if logPath != "-" {
		// Set the log file if stdout is not selected

		// Disable stdout output
		jww.SetStdoutOutput(io.Discard)

		// Use log file
		logOutput, err :=
			os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			panic(err)
		}
		jww.SetLogOutput(logOutput)
	}

	if err := logging.LogLevel(threshold); err != nil {
		panic(err)
	}
}

// writeMetrics writes every metric gathered from the registry to the file in
// the Prometheus text format.
func writeMetrics(reg prometheus.Gatherer, path string) error {
	mfs, err := reg.Gather()
	if err != nil {
		return errors.Wrap(err, "failed to gather metrics")
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create metrics file %q", path)
	}
	defer f.Close()

	for _, mf := range mfs {
		if _, err = expfmt.MetricFamilyToText(f, mf); err != nil {
			return errors.Wrapf(err, "failed to write metric %q", mf.GetName())
		}
	}

	jww.INFO.Printf("Wrote %d metric families to %s", len(mfs), path)
	return nil
}
