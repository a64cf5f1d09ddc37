package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/loqalabs/loqa-facesync/internal/config"
	"github.com/loqalabs/loqa-facesync/internal/eventstore"
	"github.com/loqalabs/loqa-facesync/internal/fixture"
	"github.com/loqalabs/loqa-facesync/internal/fseq"
	"github.com/loqalabs/loqa-facesync/internal/registry"
	"github.com/loqalabs/loqa-facesync/internal/runtime"
	"github.com/loqalabs/loqa-facesync/internal/sequence"
	"github.com/loqalabs/loqa-facesync/internal/timing"
	"github.com/loqalabs/loqa-facesync/internal/viseme"
)

var version = "0.1.0-dev"

const usage = `usage: loqa-facesync <command> [flags]

commands:
  generate     render narration into an FSEQ sequence
  fixtures     list | activate NAME | deactivate NAME | upload FILE
  inspect      describe a fixture document or FSEQ file
  validate     check that fixture documents parse
  version      print the version`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "generate":
		err = runGenerate(ctx, os.Args[2:], os.Stdout)
	case "fixtures":
		err = runFixtures(os.Args[2:], os.Stdout)
	case "inspect":
		err = runInspect(os.Args[2:], os.Stdout)
	case "validate":
		err = runValidate(os.Args[2:], os.Stdout)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		fmt.Println(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path, level string) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	if level != "" {
		cfg.Telemetry.LogLevel = level
	}
	return cfg, runtime.NewLogger(cfg.Telemetry, os.Stderr), nil
}

func runGenerate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	var (
		configPath  = fs.String("config", "", "Path to configuration file")
		logLevel    = fs.String("log-level", "warn", "Log level")
		text        = fs.String("text", "", "Narration text")
		timingsPath = fs.String("timings", "", "JSON timing source (viseme or word entries)")
		marksPath   = fs.String("speech-marks", "", "Newline-delimited speech marks")
		audio       = fs.String("audio", "", "Audio file named in the descriptor")
		durationMS  = fs.Uint("duration-ms", 0, "Audio duration in milliseconds")
		state       = fs.String("state", "", "Face state to apply")
		output      = fs.String("out", "", "Sequence output path")
		noHistory   = fs.Bool("no-history", false, "Do not record the run in the event store")
	)
	fs.Parse(args)

	cfg, log, err := loadConfig(*configPath, *logLevel)
	if err != nil {
		return err
	}
	reg, err := registry.New(cfg.Fixtures, log)
	if err != nil {
		return err
	}

	var store *eventstore.Store
	if !*noHistory {
		store, err = eventstore.Open(ctx, cfg.EventStore, log)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	// -out names a file anywhere on disk; the generator only writes inside
	// its output directory, so point that directory at the file's parent.
	var outName string
	if *output != "" {
		abs, err := filepath.Abs(*output)
		if err != nil {
			return err
		}
		cfg.Sequence.OutputDir = filepath.Dir(abs)
		outName = filepath.Base(abs)
	}

	gen, err := sequence.NewGenerator(cfg, reg, store, log)
	if err != nil {
		return err
	}

	req := sequence.Request{
		Text:       *text,
		AudioPath:  *audio,
		DurationMS: uint32(*durationMS),
		State:      *state,
		Output:     outName,
	}
	if *timingsPath != "" {
		data, err := os.ReadFile(*timingsPath)
		if err != nil {
			return fmt.Errorf("read timings: %w", err)
		}
		req.Timings = timing.Source(data)
	}
	if *marksPath != "" {
		data, err := os.ReadFile(*marksPath)
		if err != nil {
			return fmt.Errorf("read speech marks: %w", err)
		}
		track, err := timing.ParseSpeechMarks(data, req.DurationMS)
		if err != nil {
			return err
		}
		req.Track = track
	}

	res, err := gen.Generate(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "run:        %s\n", res.RunID)
	fmt.Fprintf(out, "fixture:    %s\n", res.Fixture)
	if res.State != "" {
		fmt.Fprintf(out, "state:      %s\n", res.State)
	}
	fmt.Fprintf(out, "sequence:   %s\n", res.SequencePath)
	if res.DescriptorPath != "" {
		fmt.Fprintf(out, "descriptor: %s\n", res.DescriptorPath)
	}
	fmt.Fprintf(out, "frames:     %d x %d channels @ %dms (%d bytes)\n", res.Header.FrameCount, res.Header.ChannelCount, res.Header.StepMS, res.SizeBytes)
	if res.OutOfBounds > 0 {
		fmt.Fprintf(out, "skipped:    %d node writes outside the frame\n", res.OutOfBounds)
	}
	return nil
}

func runFixtures(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("fixtures", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	activate := fs.Bool("activate", false, "Activate an uploaded fixture")
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) == 0 {
		return errors.New("expected 'list', 'activate NAME', 'deactivate NAME' or 'upload FILE'")
	}
	cfg, log, err := loadConfig(*configPath, "warn")
	if err != nil {
		return err
	}
	reg, err := registry.New(cfg.Fixtures, log)
	if err != nil {
		return err
	}

	needName := func() (string, error) {
		if len(rest) < 2 {
			return "", fmt.Errorf("%s needs a fixture name", rest[0])
		}
		return rest[1], nil
	}

	switch rest[0] {
	case "list":
	case "activate", "deactivate":
		name, err := needName()
		if err != nil {
			return err
		}
		move := reg.Activate
		if rest[0] == "deactivate" {
			move = reg.Deactivate
		}
		if err := move(name); err != nil {
			return err
		}
	case "upload":
		path, err := needName()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := reg.Upload(filepath.Base(path), data, *activate); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown fixtures command %q", rest[0])
	}
	return printListing(reg, out)
}

func printListing(reg *registry.Registry, out io.Writer) error {
	listing, err := reg.List()
	if err != nil {
		return err
	}
	snap := reg.Snapshot()
	roles := make(map[string]fixture.Role)
	for _, f := range snap.Fixtures {
		roles[f.Model.Filename] = f.Role
	}
	fmt.Fprintln(out, "active:")
	for _, name := range listing.Active {
		role, ok := roles[name]
		if !ok {
			fmt.Fprintf(out, "  %s (unreadable)\n", name)
			continue
		}
		fmt.Fprintf(out, "  %s [%s]\n", name, role)
	}
	fmt.Fprintln(out, "inactive:")
	for _, name := range listing.Inactive {
		fmt.Fprintf(out, "  %s\n", name)
	}
	fmt.Fprintf(out, "channel budget: %d\n", snap.TotalChannelBudget())
	return nil
}

func runInspect(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	slots := fs.Int("state-slots", fixture.DefaultStateSlots, "State slots to read")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("inspect needs a file")
	}
	for _, path := range fs.Args() {
		var err error
		if strings.EqualFold(filepath.Ext(path), ".fseq") {
			err = inspectSequence(path, out)
		} else {
			err = inspectFixture(path, *slots, out)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func inspectSequence(path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	h, err := fseq.ReadHeader(f)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: FSEQ v%d.%d, %d channels, %d frames, %dms step (%dms)\n",
		path, h.Major, h.Minor, h.ChannelCount, h.FrameCount, h.StepMS, uint64(h.FrameCount)*uint64(h.StepMS))
	return nil
}

func inspectFixture(path string, slots int, out io.Writer) error {
	m, err := fixture.ParseFile(path, fixture.ParseOptions{StateSlots: slots, Logger: slog.New(slog.NewTextHandler(os.Stderr, nil))})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %q %s [%s]\n", path, m.Name, m.DisplayAs, fixture.Categorize(m))
	fmt.Fprintf(out, "  channels %d-%d (%d nodes)\n", m.StartChannel, m.EndChannel(), m.NodeCount())
	if m.Face != nil {
		for _, name := range m.Face.Order {
			color, ok := m.Face.Colors[name]
			if !ok {
				color = fixture.White
			}
			fmt.Fprintf(out, "  shape %-16s %-12s %s\n", name, m.Face.Shapes[name], color)
		}
		fmt.Fprintf(out, "  mouth %s\n", mouthCoverage(m.Face))
	}
	names := make([]string, 0, len(m.States))
	for name := range m.States {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  state %s (%d entries)\n", name, len(m.States[name].Entries))
	}
	return nil
}

// mouthCoverage lists the mouth categories a face can show and those that
// will fall back to the static colours.
func mouthCoverage(info *fixture.FaceInfo) string {
	shapes := info.MouthShapes()
	var have, missing []string
	for _, c := range viseme.Categories {
		if _, ok := shapes[string(c)]; ok {
			have = append(have, string(c))
		} else {
			missing = append(missing, string(c))
		}
	}
	out := strings.Join(have, ",")
	if out == "" {
		out = "none"
	}
	if len(missing) > 0 {
		out += " (missing " + strings.Join(missing, ",") + ")"
	}
	return out
}

func runValidate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	slots := fs.Int("state-slots", fixture.DefaultStateSlots, "State slots to read")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("validate needs at least one file")
	}
	opts := fixture.ParseOptions{StateSlots: *slots, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	var failed int
	for _, path := range fs.Args() {
		if _, err := fixture.ParseFile(path, opts); err != nil {
			fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "ok   %s\n", path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d fixtures invalid", failed, fs.NArg())
	}
	return nil
}
