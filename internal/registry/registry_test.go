package registry

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-facesync/internal/config"
	"github.com/loqalabs/loqa-facesync/internal/fixture"
)

const reindeer = `<?xml version="1.0" encoding="UTF-8"?>
<custommodel name="Reindeer Face" DisplayAs="Custom" StartChannel="861"
  CustomModelCompressed="1,0,0;150,3,4;">
  <faceInfo Name="Default" FaceOutline="1-40" Mouth-AI="100-110" Mouth-AI-Color="#FF0000"/>
</custommodel>`

const roofline = `<?xml version="1.0" encoding="UTF-8"?>
<model name="Roof" DisplayAs="Single Line" StartChannel="1" parm1="100"/>`

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFixture(t *testing.T, root, dir, name, body string) {
	t.Helper()
	path := filepath.Join(root, dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newRegistry(t *testing.T, root string) *Registry {
	t.Helper()
	reg, err := New(config.FixturesConfig{Directory: root, StateSlots: 9}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return reg
}

func TestEmptyRegistry(t *testing.T) {
	reg := newRegistry(t, t.TempDir())
	if got := reg.TotalChannelBudget(); got != DefaultChannelBudget {
		t.Fatalf("expected default budget 512, got %d", got)
	}
	if _, ok := reg.Snapshot().Primary(fixture.RoleFace); ok {
		t.Fatal("expected no face fixture")
	}
	listing, err := reg.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listing.Active) != 0 || len(listing.Inactive) != 0 {
		t.Fatalf("expected empty listing, got %+v", listing)
	}
}

func TestChannelBudgetRoundsTo64(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, ActiveDir, "reindeer.xmodel", reindeer)
	writeFixture(t, root, ActiveDir, "roof.model", roofline)
	reg := newRegistry(t, root)

	// 861 + 450 - 1 = 1310, rounded to 1344.
	if got := reg.TotalChannelBudget(); got != 1344 {
		t.Fatalf("expected 1344, got %d", got)
	}
	snap := reg.Snapshot()
	face, ok := snap.Primary(fixture.RoleFace)
	if !ok || face.Model.Name != "Reindeer Face" {
		t.Fatalf("expected reindeer as face, got %+v", face)
	}
	if outlines := snap.ByRole(fixture.RoleOutline); len(outlines) != 1 {
		t.Fatalf("expected roof outline, got %+v", outlines)
	}
}

func TestChannelBudgetCoversLargestFixture(t *testing.T) {
	largest := &fixture.Model{StartChannel: fixture.MaxStartChannel, ChannelCount: fixture.MaxNodes * 3}
	budget := ChannelBudget([]Fixture{{Model: largest}})
	if uint64(budget) < uint64(largest.EndChannel()) || budget%channelAlignment != 0 {
		t.Fatalf("budget %d does not cover end channel %d", budget, largest.EndChannel())
	}

	beyond := &fixture.Model{StartChannel: 1, ChannelCount: 40000 * 40000 * 3}
	if got := ChannelBudget([]Fixture{{Model: beyond}}); got < math.MaxUint32-channelAlignment {
		t.Fatalf("budget wrapped to %d instead of saturating", got)
	}
}

func TestUploadRejectsOversizedFixture(t *testing.T) {
	reg := newRegistry(t, t.TempDir())
	doc := `<model name="Wall" DisplayAs="Matrix" parm1="40000" parm2="40000" />`
	if _, err := reg.Upload("wall.model", []byte(doc), true); !errors.Is(err, fixture.ErrMalformedFixture) {
		t.Fatalf("expected ErrMalformedFixture, got %v", err)
	}
	if got := reg.TotalChannelBudget(); got != DefaultChannelBudget {
		t.Fatalf("rejected upload changed the budget to %d", got)
	}
}

func TestActivateDeactivate(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, InactiveDir, "reindeer.xmodel", reindeer)
	reg := newRegistry(t, root)
	before := reg.Snapshot()

	if err := reg.Activate("reindeer.xmodel"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	after := reg.Snapshot()
	if after.Version <= before.Version || len(after.Fixtures) != 1 {
		t.Fatalf("expected a new snapshot with one fixture, got %+v", after)
	}
	if len(before.Fixtures) != 0 {
		t.Fatal("old snapshot must not change")
	}
	listing, _ := reg.List()
	if len(listing.Active) != 1 || listing.Active[0] != "reindeer.xmodel" {
		t.Fatalf("unexpected listing %+v", listing)
	}

	if err := reg.Activate("reindeer.xmodel"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for second activation, got %v", err)
	}
	if err := reg.Deactivate("reindeer.xmodel"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if reg.TotalChannelBudget() != DefaultChannelBudget {
		t.Fatal("expected default budget after deactivation")
	}
	if err := reg.Deactivate("missing.xmodel"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadCachesAndFindsInactive(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, InactiveDir, "roof.model", roofline)
	reg := newRegistry(t, root)

	first, err := reg.Load("roof.model")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	second, _ := reg.Load("roof.model")
	if first != second {
		t.Fatal("expected cached model")
	}
	if err := reg.Reload(); err != nil {
		t.Fatal(err)
	}
	third, _ := reg.Load("roof.model")
	if third == first {
		t.Fatal("expected reload to invalidate cache")
	}
	if _, err := reg.Load("nope.model"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := reg.Load("../escape.model"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestMalformedFixtureIsIsolated(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, ActiveDir, "bad.xmodel", "not xml")
	writeFixture(t, root, ActiveDir, "roof.model", roofline)
	writeFixture(t, root, ActiveDir, "notes.txt", "ignored")
	reg := newRegistry(t, root)

	snap := reg.Snapshot()
	if len(snap.Fixtures) != 1 || snap.Fixtures[0].Model.Filename != "roof.model" {
		t.Fatalf("expected only the roof fixture, got %+v", snap.Fixtures)
	}
	if _, err := reg.Load("bad.xmodel"); !errors.Is(err, fixture.ErrMalformedFixture) {
		t.Fatalf("expected ErrMalformedFixture, got %v", err)
	}
}

func TestUpload(t *testing.T) {
	root := t.TempDir()
	reg := newRegistry(t, root)

	if _, err := reg.Upload("bad.xmodel", []byte("<<"), true); !errors.Is(err, fixture.ErrMalformedFixture) {
		t.Fatalf("expected malformed upload to be rejected, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, ActiveDir, "bad.xmodel")); !os.IsNotExist(err) {
		t.Fatal("rejected upload must not be written")
	}

	m, err := reg.Upload("reindeer.xmodel", []byte(reindeer), true)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if m.ChannelCount != 450 {
		t.Fatalf("unexpected channel count %d", m.ChannelCount)
	}
	if reg.TotalChannelBudget() != 1344 {
		t.Fatalf("expected uploaded fixture to be active")
	}
	if _, err := reg.Upload("reindeer.xmodel", []byte(reindeer), false); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := reg.Upload("reindeer.txt", []byte(reindeer), false); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestSnapshotSafeForConcurrentReaders(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, ActiveDir, "roof.model", roofline)
	reg := newRegistry(t, root)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				snap := reg.Snapshot()
				budget := snap.TotalChannelBudget()
				if budget != 320 && budget != DefaultChannelBudget {
					t.Errorf("unexpected budget %d", budget)
					return
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		if err := reg.Deactivate("roof.model"); err != nil {
			t.Fatal(err)
		}
		if err := reg.Activate("roof.model"); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
}

func TestLatestTemplate(t *testing.T) {
	root := t.TempDir()
	reg := newRegistry(t, root)
	if _, ok := reg.LatestTemplate(); ok {
		t.Fatal("expected no template")
	}
	writeFixture(t, root, ActiveDir, "old.xsq", "<xsequence/>")
	writeFixture(t, root, ActiveDir, "new.xsq", "<xsequence/>")
	old := filepath.Join(root, ActiveDir, "old.xsq")
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}
	path, ok := reg.LatestTemplate()
	if !ok || filepath.Base(path) != "new.xsq" {
		t.Fatalf("expected new.xsq, got %q", path)
	}
}
