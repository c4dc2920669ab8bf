package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sheetimport/internal/application"
	"github.com/JonMunkholm/sheetimport/internal/core"
	"github.com/JonMunkholm/sheetimport/internal/mappingfile"
	"github.com/JonMunkholm/sheetimport/internal/sheets"
	"github.com/JonMunkholm/sheetimport/internal/storage/sqlite"
)

type runOptions struct {
	source      string
	sheet       string
	rangeSpec   string
	contentType string
	mapping     string
	dryRun      bool
	preview     int
	batchSize   int
	delay       time.Duration
	pause       time.Duration
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Import a sheet range into a content type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, ctx, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.source, "source", "", "Spreadsheet URL or id")
	flags.StringVar(&opts.sheet, "sheet", "", "Sheet (tab) name")
	flags.StringVar(&opts.rangeSpec, "range", "", "Cell range in A1 notation, e.g. A1:Z")
	flags.StringVar(&opts.contentType, "type", "", "Target content type id (default: contentType from the mapping file)")
	flags.StringVar(&opts.mapping, "mapping", "", "Mapping file (.yaml, .toml or .json)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Map records without writing to the content store")
	flags.IntVar(&opts.preview, "preview", core.DefaultPreviewSamples, "Mapped records to show in a dry run (0 for all)")
	flags.IntVar(&opts.batchSize, "batch-size", 0, "Records per batch (default: IMPORT_BATCH_SIZE)")
	flags.DurationVar(&opts.delay, "delay", -1, "Pause after each written record (default: IMPORT_RECORD_DELAY)")
	flags.DurationVar(&opts.pause, "pause", -1, "Pause between batches (default: IMPORT_BATCH_PAUSE)")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("mapping")

	return cmd
}

func runImport(cmd *cobra.Command, ctx *commandContext, opts runOptions) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	log := ctx.logger()

	file, err := mappingfile.Load(opts.mapping)
	if err != nil {
		return err
	}
	contentType := strings.TrimSpace(opts.contentType)
	if contentType == "" {
		contentType = file.ContentType
	}
	if contentType == "" {
		return fmt.Errorf("%w: --type is required when the mapping file names no contentType", core.ErrValidation)
	}
	spreadsheetID, err := sheets.ExtractSpreadsheetID(opts.source)
	if err != nil {
		return err
	}
	rangeSpec := sheets.A1Range(opts.sheet, opts.rangeSpec)
	if rangeSpec == "" {
		return fmt.Errorf("%w: --sheet or --range is required", core.ErrValidation)
	}

	if opts.batchSize > 0 {
		cfg.Import.BatchSize = opts.batchSize
	}
	if opts.delay >= 0 {
		cfg.Import.RecordDelay = opts.delay
	}
	if opts.pause >= 0 {
		cfg.Import.BatchPause = opts.pause
	}
	if file.Locale != "" {
		cfg.Contentful.Locale = file.Locale
	}

	app, err := application.New(cfg, file.FieldRules(cfg.Import.FieldRules()), log)
	if err != nil {
		return err
	}

	historyPath, err := ctx.historyPath()
	if err != nil {
		return err
	}
	store, err := sqlite.Open(cmd.Context(), historyPath)
	if err != nil {
		return err
	}
	defer store.Close()

	lock := flock.New(filepath.Join(filepath.Dir(historyPath), "sheetimport.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return errors.New("another sheetimport run is already in progress")
	}
	defer func() { _ = lock.Unlock() }()

	service := app.Service(store, nil)
	req := core.RunRequest{
		SpreadsheetID: spreadsheetID,
		SheetName:     strings.TrimSpace(opts.sheet),
		Range:         rangeSpec,
		ContentTypeID: contentType,
		Mapping:       file.Mapping,
		DryRun:        opts.dryRun,
		PreviewLimit:  opts.preview,
	}

	res, runErr := followRun(cmd.Context(), service, req, cmd.ErrOrStderr(), !ctx.json())
	if res == nil {
		return runErr
	}

	if ctx.json() {
		if err := writeJSON(cmd, res); err != nil {
			return err
		}
		return runErr
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderSummary(res))
	if len(res.Failures) > 0 {
		fmt.Fprintln(out, renderFailures(res.Failures))
	}
	if len(res.Previews) > 0 {
		previews, err := renderPreviews(res.Previews)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, previews)
	}
	return runErr
}

// followRun starts the run, reports progress on w while it runs and
// returns its result. Progress is drawn on one line when w is a terminal.
func followRun(ctx context.Context, service *core.Service, req core.RunRequest, w io.Writer, showProgress bool) (*core.RunResult, error) {
	runID, err := service.StartRun(ctx, req)
	if err != nil {
		return nil, err
	}

	updates, err := service.SubscribeProgress(runID)
	if err != nil {
		return nil, err
	}

	tty := showProgress && isTerminal(w)
	stop := context.AfterFunc(ctx, func() { _ = service.CancelRun(runID) })
	defer stop()

	var last core.RunPhase
	for p := range updates {
		switch {
		case tty:
			fmt.Fprintf(w, "\r\x1b[K%s", progressLine(p))
		case showProgress && p.Phase != last:
			fmt.Fprintln(w, progressLine(p))
		}
		last = p.Phase
	}
	if tty {
		fmt.Fprintln(w)
	}

	return service.WaitRun(context.WithoutCancel(ctx), runID)
}
