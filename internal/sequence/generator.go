// Package sequence runs the generation pipeline: snapshot, face resolution,
// timing, per-frame rendering and FSEQ encoding.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-facesync/internal/config"
	"github.com/loqalabs/loqa-facesync/internal/eventstore"
	"github.com/loqalabs/loqa-facesync/internal/face"
	"github.com/loqalabs/loqa-facesync/internal/fixture"
	"github.com/loqalabs/loqa-facesync/internal/fseq"
	"github.com/loqalabs/loqa-facesync/internal/registry"
	"github.com/loqalabs/loqa-facesync/internal/render"
	"github.com/loqalabs/loqa-facesync/internal/timing"
	"github.com/loqalabs/loqa-facesync/internal/viseme"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoActiveFixture is returned when the snapshot holds no face fixture.
var ErrNoActiveFixture = errors.New("no active face fixture")

// ErrInvalidOutput is returned when a requested output name would leave the
// configured output directory.
var ErrInvalidOutput = errors.New("invalid output name")

// Fixtures is the registry surface a run needs.
type Fixtures interface {
	Snapshot() *registry.Snapshot
	LatestTemplate() (string, bool)
}

// Request describes one generation run. Track holds marks already parsed by
// the caller and wins over Timings. Output is a name relative to output_dir;
// empty writes <output_dir>/<run id>.fseq.
type Request struct {
	Text       string
	AudioPath  string
	Timings    timing.Source
	Track      timing.Track
	DurationMS uint32
	State      string
	Output     string
}

// Result summarises a finished run.
type Result struct {
	RunID          string
	Fixture        string
	State          string
	SequencePath   string
	DescriptorPath string
	Header         fseq.Header
	DurationMS     uint32
	OutOfBounds    int
	SizeBytes      int64
}

type Generator struct {
	seq      config.SequenceConfig
	tim      config.TimingConfig
	defState string
	fixtures Fixtures
	provider timing.Provider
	expander *viseme.Expander
	store    *eventstore.Store
	log      *slog.Logger
	sem      chan struct{}
	newID    func() string

	tracer trace.Tracer
	runs   metric.Int64Counter
	frames metric.Int64Counter
	oob    metric.Int64Counter
}

// NewGenerator builds a generator. store may be nil.
func NewGenerator(cfg config.Config, fixtures Fixtures, store *eventstore.Store, log *slog.Logger) (*Generator, error) {
	if log == nil {
		log = slog.Default()
	}
	concurrency := cfg.Generator.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	g := &Generator{
		seq:      cfg.Sequence,
		tim:      cfg.Timing,
		defState: cfg.Fixtures.DefaultState,
		fixtures: fixtures,
		store:    store,
		log:      log.With(slog.String("component", "sequence-generator")),
		sem:      make(chan struct{}, concurrency),
		newID:    func() string { return uuid.NewString() },
		tracer:   otel.Tracer("github.com/loqalabs/loqa-facesync/sequence"),
	}

	if cfg.Timing.Mode == "exec" {
		provider, err := timing.NewExecProvider(cfg.Timing.Command)
		if err != nil {
			return nil, err
		}
		g.provider = provider
	} else {
		g.provider = timing.StaticProvider{
			Options:           g.estimateOptions(),
			DefaultDurationMS: uint32(max(cfg.Sequence.DefaultDurationMS, 0)),
		}
	}
	if cfg.Timing.ExpandWords {
		var dict viseme.Dictionary
		if cfg.Timing.DictionaryPath != "" {
			d, err := viseme.LoadDictionary(cfg.Timing.DictionaryPath)
			if err != nil {
				return nil, err
			}
			dict = d
			g.log.Info("pronunciation dictionary loaded", slog.Int("words", len(dict)))
		}
		g.expander = viseme.NewExpander(dict)
	}

	if err := g.initMetrics(); err != nil {
		g.log.Warn("failed to initialize metrics", slogError(err))
	}
	return g, nil
}

func (g *Generator) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-facesync/sequence")
	var err error
	if g.runs, err = meter.Int64Counter("facesync.sequence.runs", metric.WithDescription("Generation runs by outcome")); err != nil {
		return err
	}
	if g.frames, err = meter.Int64Counter("facesync.sequence.frames", metric.WithDescription("Frames written")); err != nil {
		return err
	}
	if g.oob, err = meter.Int64Counter("facesync.render.out_of_bounds", metric.WithDescription("Node writes skipped outside the frame")); err != nil {
		return err
	}
	return nil
}

// Generate renders the request into a sequence file and, when configured,
// an XSQ descriptor beside it.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	select {
	case g.sem <- struct{}{}:
		defer func() { <-g.sem }()
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	runID := g.newID()
	ctx, span := g.tracer.Start(ctx, "sequence.generate", trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	log := g.log.With(slog.String("run_id", runID))
	if err := g.store.BeginRun(ctx, eventstore.Run{ID: runID, Text: req.Text, State: req.State}); err != nil {
		log.Warn("failed to record run start", slogError(err))
	}

	res, err := g.generate(ctx, runID, req, log)
	res.RunID = runID

	record := eventstore.Run{
		ID:           runID,
		Fixture:      res.Fixture,
		State:        res.State,
		Status:       eventstore.StatusSucceeded,
		FrameCount:   int(res.Header.FrameCount),
		ChannelCount: int(res.Header.ChannelCount),
		DurationMS:   int(res.DurationMS),
		OutOfBounds:  res.OutOfBounds,
		OutputPath:   res.SequencePath,
	}
	outcome := "succeeded"
	if err != nil {
		record.Status = eventstore.StatusFailed
		record.Error = err.Error()
		outcome = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("sequence generation failed", slogError(err))
	} else {
		span.SetAttributes(
			attribute.String("fixture", res.Fixture),
			attribute.Int64("frames", int64(res.Header.FrameCount)),
			attribute.Int64("channels", int64(res.Header.ChannelCount)),
		)
		log.Info("sequence generated",
			slog.String("fixture", res.Fixture),
			slog.String("path", res.SequencePath),
			slog.Int("frames", int(res.Header.FrameCount)),
			slog.Int("channels", int(res.Header.ChannelCount)),
			slog.Int("out_of_bounds", res.OutOfBounds),
			slog.Int64("bytes", res.SizeBytes))
	}
	if g.runs != nil {
		g.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if serr := g.store.FinishRun(ctx, record); serr != nil {
		log.Warn("failed to record run outcome", slogError(serr))
	}
	return res, err
}

func (g *Generator) generate(ctx context.Context, runID string, req Request, log *slog.Logger) (Result, error) {
	path, err := g.outputPath(runID, req.Output)
	if err != nil {
		return Result{}, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Result{}, fmt.Errorf("create output dir: %w", err)
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return Result{}, fmt.Errorf("create sequence: %w", err)
	}
	res, err := g.Write(ctx, f, req)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close sequence: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return res, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return res, fmt.Errorf("commit sequence: %w", err)
	}
	res.SequencePath = path
	g.appendEvent(ctx, runID, "sequence.written", path, log)

	if g.seq.WriteDescriptor {
		descPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".xsq"
		if err := writeDescriptor(descPath, req.AudioPath); err != nil {
			log.Warn("failed to write descriptor", slogError(err))
		} else {
			res.DescriptorPath = descPath
		}
	}
	return res, nil
}

// outputPath places name under the output directory. Absolute names and
// names that climb out with ".." are rejected.
func (g *Generator) outputPath(runID, name string) (string, error) {
	if name == "" {
		name = runID + ".fseq"
	}
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidOutput, name)
	}
	return filepath.Join(g.seq.OutputDir, name), nil
}

func writeDescriptor(path, audio string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fseq.WriteDescriptor(f, audio); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write streams the sequence for req to w. The run uses a single registry
// snapshot taken at its start.
func (g *Generator) Write(ctx context.Context, w io.Writer, req Request) (Result, error) {
	snap := g.fixtures.Snapshot()
	primary, ok := snap.Primary(fixture.RoleFace)
	if !ok {
		return Result{}, ErrNoActiveFixture
	}
	model := primary.Model
	res := Result{Fixture: model.Filename}

	stateName := g.resolveStateName(req.State)
	override, found := model.State(stateName)
	if stateName != "" && !found {
		g.log.Warn("state not defined on fixture, using base colours",
			slog.String("state", stateName),
			slog.String("fixture", model.Filename))
	}
	if found {
		res.State = stateName
	}
	elems := face.Resolve(model.Face, override)

	track := g.track(ctx, req)
	duration := track.DurationMS()
	if len(track) == 0 {
		duration = req.DurationMS
		if duration == 0 {
			duration = uint32(g.seq.DefaultDurationMS)
		}
	}
	res.DurationMS = duration

	end := model.EndChannel()
	if end < 1 || end > fixture.MaxEndChannel {
		return res, fmt.Errorf("%w: %s ends at channel %d", fixture.ErrMalformedFixture, model.Filename, end)
	}
	total := uint32(end)
	if g.seq.ChannelMode != "fixture" {
		total = snap.TotalChannelBudget()
	}
	offset := model.StartChannel - 1
	step := uint16(g.seq.FrameDurationMS)
	if step == 0 {
		step = fseq.DefaultStepMS
	}
	count := fseq.FrameCount(duration, step)

	fw, err := fseq.NewWriter(w, total, count, step)
	if err != nil {
		return res, err
	}
	res.Header = fw.Header()

	var stats render.Stats
	for i := uint32(0); i < count; i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}
		frame, st := render.Render(i*uint32(step), elems, track, int(total), offset)
		stats.Add(st)
		if err := fw.WriteFrame(frame); err != nil {
			return res, err
		}
	}
	if err := fw.Close(); err != nil {
		return res, err
	}
	res.OutOfBounds = stats.OutOfBounds
	res.SizeBytes = fw.BytesWritten()

	if g.frames != nil {
		g.frames.Add(ctx, int64(count))
	}
	if g.oob != nil && stats.OutOfBounds > 0 {
		g.oob.Add(ctx, int64(stats.OutOfBounds))
	}
	return res, nil
}

// resolveStateName picks the explicit state, then the configured default,
// then the state selected by the newest sequence template.
func (g *Generator) resolveStateName(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if g.defState != "" {
		return g.defState
	}
	path, ok := g.fixtures.LatestTemplate()
	if !ok {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		g.log.Debug("template unreadable", slogError(err))
		return ""
	}
	defer f.Close()
	state, ok, err := fseq.FindTemplateState(f)
	if err != nil {
		g.log.Debug("template scan failed", slog.String("template", path), slogError(err))
		return ""
	}
	if ok {
		g.log.Info("state selected by template", slog.String("template", path), slog.String("state", state))
	}
	return state
}

func (g *Generator) estimateOptions() timing.EstimateOptions {
	return timing.EstimateOptions{
		PaddingMS: uint32(max(g.tim.PaddingMS, 0)),
		MinWordMS: uint32(max(g.tim.MinWordMS, 0)),
	}
}

func (g *Generator) track(ctx context.Context, req Request) timing.Track {
	estimate := g.estimateOptions()
	duration := req.DurationMS
	if duration == 0 {
		duration = uint32(g.seq.DefaultDurationMS)
	}

	var track timing.Track
	switch {
	case len(req.Track) > 0:
		track = req.Track
	case len(req.Timings) > 0:
		track = timing.Build(req.Timings, timing.BuildOptions{
			Text:       req.Text,
			DurationMS: duration,
			Estimate:   estimate,
			Logger:     g.log,
		})
	default:
		marks, err := g.provider.Marks(ctx, timing.Request{Text: req.Text, AudioPath: req.AudioPath, DurationMS: req.DurationMS})
		if err != nil {
			g.log.Warn("timing provider failed, estimating word timings", slogError(err))
			track = timing.Estimate(req.Text, duration, estimate)
		} else {
			track = marks
		}
	}
	if g.expander != nil {
		track = g.expander.Expand(track)
	}
	return track
}

func (g *Generator) appendEvent(ctx context.Context, runID, typ, payload string, log *slog.Logger) {
	err := g.store.AppendEvent(ctx, eventstore.Event{
		RunID:     runID,
		Type:      typ,
		Payload:   []byte(payload),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Warn("failed to record run event", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
