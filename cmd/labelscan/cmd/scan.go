package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/disintegration/imaging"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/labelscan/internal/config"
	"github.com/MeKo-Tech/labelscan/internal/crop"
	"github.com/MeKo-Tech/labelscan/internal/form"
	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/imagesource"
	"github.com/MeKo-Tech/labelscan/internal/recognition"
	"github.com/MeKo-Tech/labelscan/internal/recognition/replay"
	"github.com/MeKo-Tech/labelscan/internal/recognition/tesseract"
	"github.com/MeKo-Tech/labelscan/internal/session"
)

const (
	outputFormatText = "text"
	outputFormatJSON = "json"
	outputFormatYAML = "yaml"
)

// ErrColumnRequired is returned when a two-column label is scanned without --column.
var ErrColumnRequired = errors.New("label has two value columns")

// scanCmd represents the scan command.
var scanCmd = &cobra.Command{
	Use:   "scan [flags] IMAGE",
	Short: "Scan a nutrition label image",
	Long: `Run a complete scan session over a label image and print the recognised
values together with the food entry they fill.

Supported inputs: JPEG, PNG, BMP, TIFF, WebP and PDF (the largest image
embedded in the selected page).

Labels with a "per 100g" and a "per serving" column need a column decision;
pass it with --column. Without it the scan stops and lists the columns.

Examples:
  labelscan scan label.jpg
  labelscan scan photo.jpg --camera --column 1 --format json
  labelscan scan label.pdf --page 2 --crops-dir crops/
  labelscan scan label.png --texts label.texts.json`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runScan,
}

// scanOptions are the per-invocation settings not kept in the configuration.
type scanOptions struct {
	Camera  bool
	Column  int
	Page    int
	Texts   string
	Record  string
	Display geometry.Size
	Publish bool
}

// scanOutput is what the scan command prints.
type scanOutput struct {
	File      string                 `json:"file"`
	SessionID string                 `json:"session_id"`
	Image     imagesource.Metadata   `json:"image"`
	Result    recognition.ScanResult `json:"result"`
	Entry     form.Values            `json:"entry"`
	Status    string                 `json:"status,omitempty"`
	Crops     []string               `json:"crops,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts, err := scanOptionsFromFlags(cmd, cfg)
	if err != nil {
		return err
	}

	img, meta, err := imagesource.Load(args[0], imagesource.Options{Page: opts.Page})
	if err != nil {
		return err
	}

	gateway, err := newGateway(cfg, opts.Texts, opts.Record)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fields, sources := form.NewFields(), form.NewSources()

	var (
		sess       *session.Session
		columns    []recognition.Column
		resolveErr error
	)
	events := session.EventFunc(func(e session.Event) {
		switch e.Kind {
		case session.EventPhase:
			slog.Debug("Scan phase", "session_id", e.SessionID.String(), "phase", e.Phase.String())
		case session.EventColumnsRequired:
			if opts.Column == 0 {
				columns = e.Columns
				sess.Cancel()
				return
			}
			if err := sess.Resolve(session.ColumnDecision{Column: opts.Column}); err != nil {
				resolveErr = err
				sess.Cancel()
			}
		}
	})

	sess = session.New(session.Options{
		Gateway:         gateway,
		Mapper:          geometry.NewMapper(opts.Display),
		Pacing:          cfg.ToPacing(),
		Handlers:        form.Handlers(fields, sources),
		Events:          events,
		Logger:          slog.Default(),
		Mode:            cfg.Mode(),
		IncludeBarcodes: cfg.Recognition.IncludeBarcodes,
		CropWorkers:     cfg.Session.CropWorkers,
	})
	if err := sess.Begin(ctx, session.Source{Image: img, IsCamera: opts.Camera}); err != nil {
		return err
	}
	outcome, err := sess.Wait(context.Background())

	switch {
	case resolveErr != nil:
		return fmt.Errorf("invalid column: %w", resolveErr)
	case columns != nil:
		return fmt.Errorf("%w: %s; rerun with --column", ErrColumnRequired, describeColumns(columns))
	case outcome == session.OutcomeAborted:
		return fmt.Errorf("scan failed: %w", err)
	case outcome != session.OutcomeCompleted:
		return errors.New("scan cancelled")
	}

	result, _ := sess.Result()
	out := scanOutput{
		File:      args[0],
		SessionID: sess.ID().String(),
		Image:     meta,
		Result:    result,
		Entry:     fields.Values(),
		Status:    form.StatusMessage(fields, sources),
	}

	if cfg.Output.CropsDir != "" {
		out.Crops, err = writeCrops(cfg.Output.CropsDir, sess.Crops())
		if err != nil {
			return err
		}
	}

	return writeScanOutput(cmd.OutOrStdout(), cfg.Output.Format, out)
}

func scanOptionsFromFlags(cmd *cobra.Command, cfg *config.Config) (scanOptions, error) {
	opts := scanOptions{
		Display: geometry.Size{Width: cfg.Display.Width, Height: cfg.Display.Height},
	}
	opts.Camera, _ = cmd.Flags().GetBool("camera")
	opts.Column, _ = cmd.Flags().GetInt("column")
	opts.Page, _ = cmd.Flags().GetInt("page")
	opts.Texts, _ = cmd.Flags().GetString("texts")
	opts.Record, _ = cmd.Flags().GetString("record")

	if opts.Column < 0 || opts.Column > recognition.AmbiguousColumnCount {
		return opts, fmt.Errorf("invalid column: %d (must be 1 or 2)", opts.Column)
	}
	if opts.Page < 0 {
		return opts, fmt.Errorf("invalid page: %d", opts.Page)
	}
	if opts.Texts != "" && opts.Record != "" {
		return opts, errors.New("--texts and --record cannot be combined")
	}
	if cmd.Flags().Changed("display") {
		v, _ := cmd.Flags().GetString("display")
		size, err := parseSize(v)
		if err != nil {
			return opts, err
		}
		opts.Display = size
	}
	return opts, nil
}

// parseSize parses a WIDTHxHEIGHT display size.
func parseSize(s string) (geometry.Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return geometry.Size{}, fmt.Errorf("invalid display size %q (expected WIDTHxHEIGHT)", s)
	}
	width, errW := strconv.ParseFloat(w, 64)
	height, errH := strconv.ParseFloat(h, 64)
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return geometry.Size{}, fmt.Errorf("invalid display size %q (expected WIDTHxHEIGHT)", s)
	}
	return geometry.Size{Width: width, Height: height}, nil
}

// newGateway returns the recognition gateway for a scan: a replay of the text
// set at texts, or Tesseract. With record set, Tesseract's text set is saved there.
func newGateway(cfg *config.Config, texts, record string) (recognition.Gateway, error) {
	if texts != "" {
		g, err := replay.Load(texts)
		if err != nil {
			return nil, fmt.Errorf("failed to load text set: %w", err)
		}
		return g, nil
	}
	var g recognition.Gateway = tesseract.New(cfg.ToTesseractConfig(), slog.Default())
	if record != "" {
		g = &recordingGateway{next: g, path: record}
	}
	return g, nil
}

// recordingGateway saves every detected text set for later replay.
type recordingGateway struct {
	next recognition.Gateway
	path string
}

func (g *recordingGateway) DetectText(ctx context.Context, img image.Image, mode recognition.Mode, includeBarcodes bool) (*recognition.TextSet, error) {
	set, err := g.next.DetectText(ctx, img, mode, includeBarcodes)
	if err != nil {
		return nil, err
	}
	if err := replay.Record(g.path, set); err != nil {
		return nil, fmt.Errorf("failed to record text set: %w", err)
	}
	slog.Info("Recorded text set", "path", g.path, "texts", len(set.Texts))
	return set, nil
}

func describeColumns(columns []recognition.Column) string {
	parts := make([]string, 0, len(columns))
	for _, c := range columns {
		if c.Header != "" {
			parts = append(parts, fmt.Sprintf("%d=%q", c.Number, c.Header))
		} else {
			parts = append(parts, strconv.Itoa(c.Number))
		}
	}
	return "columns " + strings.Join(parts, ", ")
}

// writeCrops saves the crops as numbered PNG files in dir.
func writeCrops(dir string, entries []crop.Entry) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create crops directory: %w", err)
	}
	paths := make([]string, 0, len(entries))
	for i, e := range entries {
		if e.Image == nil {
			continue
		}
		p := filepath.Join(dir, fmt.Sprintf("%02d_%s.png", i+1, e.BoxID))
		if err := imaging.Save(e.Image, p); err != nil {
			return nil, fmt.Errorf("failed to save crop %s: %w", p, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func writeScanOutput(w io.Writer, format string, out scanOutput) error {
	switch format {
	case outputFormatJSON:
		bts, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(bts))
		return err
	case outputFormatYAML:
		// go through JSON so YAML keys match the JSON field names
		bts, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		var doc interface{}
		if err := json.Unmarshal(bts, &doc); err != nil {
			return fmt.Errorf("failed to convert to YAML: %w", err)
		}
		y, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		_, err = w.Write(y)
		return err
	default:
		return writeScanText(w, out)
	}
}

func writeScanText(w io.Writer, out scanOutput) error {
	title := color.New(color.FgCyan, color.Bold)
	label := color.New(color.FgHiBlack)
	value := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)

	r := out.Result
	_, _ = title.Fprintf(w, "%s\n", out.File)
	_, _ = label.Fprintf(w, "  image:   ")
	_, _ = fmt.Fprintf(w, "%s %dx%d\n", out.Image.Format, out.Image.Width, out.Image.Height)
	_, _ = label.Fprintf(w, "  columns: ")
	_, _ = fmt.Fprintf(w, "%d", r.ColumnCount)
	if r.SelectedColumn > 0 && r.ColumnCount > 1 {
		_, _ = fmt.Fprintf(w, " (selected %d", r.SelectedColumn)
		if r.SelectedColumn <= len(r.Columns) && r.Columns[r.SelectedColumn-1].Header != "" {
			_, _ = fmt.Fprintf(w, ", %s", r.Columns[r.SelectedColumn-1].Header)
		}
		_, _ = fmt.Fprint(w, ")")
	}
	_, _ = fmt.Fprintln(w)

	if len(r.LineItems) == 0 {
		_, _ = warn.Fprintln(w, "  no nutrients recognised")
	}
	for _, item := range r.LineItems {
		v, ok := r.Value(item.Attribute)
		_, _ = label.Fprintf(w, "  %-16s ", item.Attribute)
		if ok {
			_, _ = value.Fprintln(w, v.String())
		} else {
			_, _ = fmt.Fprintln(w, "-")
		}
	}
	for _, b := range r.Barcodes {
		_, _ = label.Fprintf(w, "  %-16s ", "barcode")
		_, _ = value.Fprintf(w, "%s", b.Payload)
		_, _ = fmt.Fprintf(w, " (%s)\n", b.Format)
	}

	if out.Status != "" {
		_, _ = warn.Fprintf(w, "  entry: %s\n", out.Status)
	}
	if len(out.Crops) > 0 {
		_, _ = label.Fprintf(w, "  crops:   ")
		_, _ = fmt.Fprintf(w, "%d written to %s\n", len(out.Crops), filepath.Dir(out.Crops[0]))
	}
	return nil
}

func addScanFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", "text", "output format (text, json, yaml)")
	cmd.Flags().Bool("camera", false, "the image was captured by the camera rather than picked")
	cmd.Flags().Int("column", 0, "value column to use for two-column labels (1 or 2)")
	cmd.Flags().Int("page", 0, "PDF page to take the image from (0 = first page with an image)")
	cmd.Flags().String("display", "", "display size the scan is mapped onto, e.g. 390x844")
	cmd.Flags().String("crops-dir", "", "directory to write the cropped value images to")
	cmd.Flags().Bool("color", true, "colorize text output")
	cmd.Flags().Bool("paced", false, "run the session with its interactive delays")
	cmd.Flags().String("mode", "accurate", "recognition mode (fast, accurate)")
	cmd.Flags().Bool("barcodes", true, "also detect barcodes")
	cmd.Flags().Int("crop-workers", 4, "number of concurrent crop workers")
	cmd.Flags().String("texts", "", "replay a recorded text set instead of running Tesseract")
	cmd.Flags().String("record", "", "record the text set detected by Tesseract to this file")
}

func bindScanFlags(cmd *cobra.Command) {
	bindings := []struct {
		key  string
		flag string
	}{
		{"output.format", "format"},
		{"output.crops_dir", "crops-dir"},
		{"output.color", "color"},
		{"session.paced", "paced"},
		{"session.crop_workers", "crop-workers"},
		{"recognition.mode", "mode"},
		{"recognition.include_barcodes", "barcodes"},
	}

	for _, binding := range bindings {
		bindFlag(binding.key, cmd.Flags().Lookup(binding.flag))
	}
}

func init() {
	rootCmd.AddCommand(scanCmd)

	addScanFlags(scanCmd)
	bindScanFlags(scanCmd)

	scanCmd.PreRun = func(cmd *cobra.Command, args []string) {
		color.NoColor = color.NoColor || !GetConfig().Output.Color
	}
}

// GetScanCommand returns the scan command for testing purposes.
func GetScanCommand() *cobra.Command {
	return scanCmd
}
