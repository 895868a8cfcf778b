// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poiesic/corpus/config"
	"github.com/poiesic/corpus/source"
	"github.com/urfave/cli/v2"
)

const configKey = "config"

func main() {
	if err := newApp(os.Stdin, os.Stdout, os.Stderr).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "corpus",
		Usage:     "Idempotent ingestion and chunking of crawled pages",
		Reader:    stdin,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML configuration file",
				EnvVars: []string{"CORPUS_CONFIG"},
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "Load environment variables from `FILE` (default .env when present)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error), overrides the configuration",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Ingest JSONL fetched pages from files, stdin or S3",
				ArgsUsage: "[FILE|s3://BUCKET/KEY|-]...",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of pages ingested concurrently",
					},
					&cli.Float64Flag{
						Name:  "rate",
						Usage: "Maximum pages started per second, 0 for unlimited",
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N records",
					},
					&cli.IntFlag{
						Name:  "max-attempts",
						Usage: "Attempts per page before a conflict or outage is reported",
					},
					&cli.BoolFlag{
						Name:  "no-progress",
						Usage: "Do not print progress to stderr",
					},
				},
			},
			{
				Name:      "watch",
				Usage:     "Ingest JSONL files as they appear in a directory",
				ArgsUsage: "DIR",
				Action:    watchCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "ext",
						Usage: "File extensions to ingest",
						Value: cli.NewStringSlice(".jsonl", ".jsonl.gz"),
					},
					&cli.DurationFlag{
						Name:  "quiet-period",
						Usage: "How long a file must go unmodified before it is ingested",
						Value: source.DefaultQuietPeriod,
					},
					&cli.BoolFlag{
						Name:  "skip-existing",
						Usage: "Ignore files already in the directory at startup",
					},
					&cli.BoolFlag{
						Name:  "serve",
						Usage: "Also serve the HTTP API while watching",
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address, overrides the configuration",
					},
				},
			},
			{
				Name:   "show",
				Usage:  "Print a stored document",
				Action: showCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Usage: "Document URL"},
					&cli.Uint64Flag{Name: "id", Usage: "Document ID"},
					&cli.BoolFlag{Name: "text", Usage: "Include the document text"},
				},
			},
			{
				Name:   "chunks",
				Usage:  "List the chunks of a document, or every chunk with a content hash",
				Action: chunksCommand,
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "id", Usage: "Document ID"},
					&cli.StringFlag{Name: "hash", Usage: "Chunk content hash"},
				},
			},
			{
				Name:   "delete",
				Usage:  "Delete a document and its chunks",
				Action: deleteCommand,
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "id", Usage: "Document ID", Required: true},
				},
			},
			{
				Name:   "config",
				Usage:  "Print the effective configuration as TOML",
				Action: configCommand,
			},
		},
	}
}

// setup loads the configuration and configures logging before any command runs.
func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"), c.StringSlice("env-file")...)
	if err != nil {
		return err
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if err := setupLogger(c.App.ErrWriter, cfg.LogLevel); err != nil {
		return err
	}

	if c.App.Metadata == nil {
		c.App.Metadata = map[string]any{}
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func loadedConfig(c *cli.Context) *config.Config {
	return c.App.Metadata[configKey].(*config.Config)
}

func setupLogger(w io.Writer, levelStr string) error {
	levelStr = strings.ToLower(levelStr)

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

func formatElapsed(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
