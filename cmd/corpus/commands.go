package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/corpus"
	"github.com/poiesic/corpus/config"
	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/httpapi"
	"github.com/poiesic/corpus/ingestion"
	"github.com/poiesic/corpus/normalize"
	"github.com/poiesic/corpus/source"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const (
	previewRunes = 48
	timeLayout   = "2006-01-02T15:04:05.000000Z07:00"
)

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func openCorpus(ctx context.Context, cfg *config.Config) (*corpus.Corpus, error) {
	db, err := corpus.Open(ctx, cfg, corpus.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	return db, nil
}

func ingestCommand(c *cli.Context) error {
	cfg := loadedConfig(c)
	if c.IsSet("workers") {
		cfg.Ingest.Workers = c.Int("workers")
	}
	if c.IsSet("rate") {
		cfg.Ingest.Rate = c.Float64("rate")
	}
	if c.IsSet("report-interval") {
		cfg.Ingest.ReportInterval = c.Int("report-interval")
	}
	if c.IsSet("max-attempts") {
		cfg.Ingest.MaxAttempts = c.Int("max-attempts")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signalContext(c)
	defer stop()

	db, err := openCorpus(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var progress io.Writer
	if !c.Bool("no-progress") {
		progress = c.App.ErrWriter
	}
	runner, err := db.NewRunner(progress)
	if err != nil {
		return err
	}

	locations := c.Args().Slice()
	if len(locations) == 0 {
		locations = []string{source.Stdin}
	}

	failed := 0
	for _, location := range locations {
		summary, err := ingestLocation(ctx, runner, cfg, c.App.Reader, location)
		if summary != nil {
			printSummary(c.App.Writer, location, summary)
			failed += summary.Failed
		}
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", location, err)
		}
	}

	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d pages failed to ingest", failed), 2)
	}
	return nil
}

func ingestLocation(ctx context.Context, runner *ingestion.Runner, cfg *config.Config, stdin io.Reader, location string) (*ingestion.Summary, error) {
	r, err := source.Open(ctx, location, source.WithAWSRegion(cfg.S3.Region), source.WithStdin(stdin))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return runner.Run(ctx, r)
}

func printSummary(w io.Writer, location string, s *ingestion.Summary) {
	fmt.Fprintf(w, "%s: %d read, %d created, %d updated, %d unchanged, %d invalid, %d failed; chunks %d inserted, %d updated, %d deleted (%s)\n",
		location, s.Read, s.Created, s.Updated, s.Unchanged, s.Invalid, s.Failed,
		s.ChunksInserted, s.ChunksUpdated, s.ChunksDeleted, formatElapsed(s.Elapsed))
}

func watchCommand(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return errors.New("directory to watch is required")
	}
	cfg := loadedConfig(c)

	ctx, stop := signalContext(c)
	defer stop()

	db, err := openCorpus(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	runner, err := db.NewRunner(nil)
	if err != nil {
		return err
	}

	watcher, err := source.NewWatcher(dir, c.StringSlice("ext"), c.Duration("quiet-period"), slog.Default())
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	defer watcher.Close()

	g, gctx := errgroup.WithContext(ctx)

	paths, err := watcher.Watch(gctx)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	var existing []string
	if !c.Bool("skip-existing") {
		if existing, err = watcher.Existing(); err != nil {
			return err
		}
	}

	g.Go(func() error {
		ingest := func(path string) {
			summary, err := ingestLocation(gctx, runner, cfg, nil, path)
			if summary != nil {
				printSummary(c.App.Writer, path, summary)
			}
			if err != nil && gctx.Err() == nil {
				slog.Error("failed to ingest file", "path", path, "err", err)
			}
		}
		for _, path := range existing {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			ingest(path)
		}
		for path := range paths {
			ingest(path)
		}
		return gctx.Err()
	})

	if c.Bool("serve") {
		srv, err := newServer(db, cfg)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return srv.ListenAndServe(gctx)
		})
	}

	slog.Info("watching directory", "dir", dir, "existing", len(existing))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newServer(db *corpus.Corpus, cfg *config.Config) (*httpapi.Server, error) {
	ingester, err := db.NewIngester()
	if err != nil {
		return nil, err
	}
	return httpapi.NewServer(db.Repository(), ingester, cfg.HTTP,
		httpapi.WithLogger(slog.Default()),
		httpapi.WithMetrics(db.Registerer(), db.Gatherer()))
}

func serveCommand(c *cli.Context) error {
	cfg := loadedConfig(c)
	if c.IsSet("addr") {
		cfg.HTTP.Addr = c.String("addr")
	}

	ctx, stop := signalContext(c)
	defer stop()

	db, err := openCorpus(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	srv, err := newServer(db, cfg)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}

func showCommand(c *cli.Context) error {
	if c.IsSet("url") == c.IsSet("id") {
		return errors.New("exactly one of --url or --id is required")
	}
	ctx := c.Context
	db, err := openCorpus(ctx, loadedConfig(c))
	if err != nil {
		return err
	}
	defer db.Close()

	repo := db.Repository()
	var doc *core.Document
	if c.IsSet("url") {
		canonical, perr := normalize.CanonicalURL(c.String("url"))
		if perr != nil {
			return perr
		}
		doc, err = repo.GetDocumentByURL(ctx, canonical.String())
	} else {
		doc, err = repo.GetDocument(ctx, core.ID(c.Uint64("id")))
	}
	if err != nil {
		return err
	}
	chunks, err := repo.GetChunks(ctx, doc.Id)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id:\t%d\n", doc.Id)
	fmt.Fprintf(tw, "url:\t%s\n", doc.URL)
	fmt.Fprintf(tw, "title:\t%s\n", doc.Title)
	fmt.Fprintf(tw, "lang:\t%s\n", doc.Lang)
	fmt.Fprintf(tw, "domain:\t%s\n", doc.Domain)
	if doc.FetchedAt != nil {
		fmt.Fprintf(tw, "fetched_at:\t%s\n", doc.FetchedAt.Format(timeLayout))
	}
	if doc.Status != 0 {
		fmt.Fprintf(tw, "status:\t%d\n", doc.Status)
	}
	if doc.ContentType != "" {
		fmt.Fprintf(tw, "content_type:\t%s\n", doc.ContentType)
	}
	fmt.Fprintf(tw, "text_length:\t%d\n", doc.TextLen())
	fmt.Fprintf(tw, "chunks:\t%d\n", len(chunks))
	fmt.Fprintf(tw, "created_at:\t%s\n", doc.CreatedAt.Format(timeLayout))
	fmt.Fprintf(tw, "updated_at:\t%s\n", doc.UpdatedAt.Format(timeLayout))
	if err := tw.Flush(); err != nil {
		return err
	}
	if c.Bool("text") {
		fmt.Fprintf(c.App.Writer, "\n%s\n", doc.Text)
	}
	return nil
}

func chunksCommand(c *cli.Context) error {
	if c.IsSet("id") == c.IsSet("hash") {
		return errors.New("exactly one of --id or --hash is required")
	}
	ctx := c.Context
	db, err := openCorpus(ctx, loadedConfig(c))
	if err != nil {
		return err
	}
	defer db.Close()

	var chunks []*core.Chunk
	if c.IsSet("id") {
		id := core.ID(c.Uint64("id"))
		if _, err := db.Repository().GetDocument(ctx, id); err != nil {
			return err
		}
		chunks, err = db.Repository().GetChunks(ctx, id)
	} else {
		chunks, err = db.Repository().GetChunksByHash(ctx, c.String("hash"))
	}
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOC\tINDEX\tSTART\tEND\tTOKENS\tHASH\tCONTENT")
	for _, ch := range chunks {
		start, end := "-", "-"
		if ch.Offsets != nil {
			start, end = fmt.Sprint(ch.Offsets.Start), fmt.Sprint(ch.Offsets.End)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%d\t%s\t%s\n",
			ch.DocumentId, ch.Index, start, end, ch.TokenEstimate, ch.ContentHash, preview(ch.Content))
	}
	return tw.Flush()
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	return string([]rune(s)[:previewRunes]) + "…"
}

func deleteCommand(c *cli.Context) error {
	ctx := c.Context
	db, err := openCorpus(ctx, loadedConfig(c))
	if err != nil {
		return err
	}
	defer db.Close()

	id := core.ID(c.Uint64("id"))
	if err := db.Repository().DeleteDocument(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "deleted document %d\n", id)
	return nil
}

func configCommand(c *cli.Context) error {
	data, err := toml.Marshal(loadedConfig(c))
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(data)
	return err
}
