package fixture

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func parse(t *testing.T, doc, filename string) *Model {
	t.Helper()
	m, err := Parse(strings.NewReader(doc), filename, ParseOptions{Logger: newLogger()})
	if err != nil {
		t.Fatalf("parse %s: %v", filename, err)
	}
	return m
}

const reindeerXModel = `<?xml version="1.0" encoding="UTF-8"?>
<custommodel name="Rednose Reindeer" DisplayAs="Custom" StartChannel="861" parm1="12" parm2="14"
    CustomModelCompressed="1,0,0;2,0,1;150,3,4;">
  <faceInfo Name="Reindeer" Type="NodeRange" CustomColors="1"
      FaceOutline="1-40" FaceOutline-Color="#804000"
      Nose="41-45" Nose-Color="#FF0000"
      Eyes-Open="46-50"
      Mouth-AI="60-70" Mouth-AI-Color="#FFFFFF"
      Mouth-O="71-75"
      Mouth-rest="76-78" Mouth-rest-Color="#GGGGGG" />
  <stateInfo Name="Happy"
      s001="1-40" s001-Color="#00FF00" s001-Name="Face_Outline"
      s002="100-110" s002-Color="#0000FF" s002-Name="Antlers"
      s003="120" s003-Name="NoColor" />
</custommodel>`

func TestParseXModelWithCompressedTable(t *testing.T) {
	m := parse(t, reindeerXModel, "reindeer.xmodel")
	if m.Name != "Rednose Reindeer" || m.Filename != "reindeer.xmodel" {
		t.Fatalf("unexpected identity %q/%q", m.Name, m.Filename)
	}
	if m.Kind != KindCustom {
		t.Fatalf("expected custom kind, got %s", m.Kind)
	}
	if m.StartChannel != 861 {
		t.Fatalf("expected start channel 861, got %d", m.StartChannel)
	}
	if m.ChannelCount != 450 {
		t.Fatalf("expected 150 nodes * 3 = 450 channels, got %d", m.ChannelCount)
	}
	if m.EndChannel() != 1310 {
		t.Fatalf("expected end channel 1310, got %d", m.EndChannel())
	}
}

func TestParseFaceInfo(t *testing.T) {
	m := parse(t, reindeerXModel, "reindeer.xmodel")
	if m.Face == nil {
		t.Fatal("expected face info")
	}
	wantOrder := []string{"FaceOutline", "Nose", "Eyes-Open", "Mouth-AI", "Mouth-O", "Mouth-rest"}
	if !reflect.DeepEqual(m.Face.Order, wantOrder) {
		t.Fatalf("unexpected shape order %v", m.Face.Order)
	}
	if m.Face.Colors["Nose"] != (RGB{R: 255}) {
		t.Fatalf("unexpected nose color %v", m.Face.Colors["Nose"])
	}
	if m.Face.Colors["Mouth-rest"] != FallbackColor {
		t.Fatalf("expected fallback color for unreadable hex, got %v", m.Face.Colors["Mouth-rest"])
	}
	if _, ok := m.Face.Colors["Eyes-Open"]; ok {
		t.Fatal("eyes declare no color")
	}
	mouths := m.Face.MouthShapes()
	if mouths["AI"] != "60-70" || mouths["O"] != "71-75" || len(mouths) != 3 {
		t.Fatalf("unexpected mouth shapes %v", mouths)
	}
}

func TestParseStateInfo(t *testing.T) {
	m := parse(t, reindeerXModel, "reindeer.xmodel")
	st, ok := m.State("Happy")
	if !ok {
		t.Fatal("expected Happy state")
	}
	if len(st.Entries) != 2 {
		t.Fatalf("slot without color must be skipped, got %d entries", len(st.Entries))
	}
	if st.Entries[0].Identifier() != "Face_Outline" || st.Entries[0].Color != (RGB{G: 255}) {
		t.Fatalf("unexpected first entry %+v", st.Entries[0])
	}
	if _, ok := m.State("Angry"); ok {
		t.Fatal("unexpected Angry state")
	}
}

func TestParseStateSlotBound(t *testing.T) {
	doc := `<custommodel name="f" DisplayAs="Custom" parm1="5">
  <stateInfo Name="Wide" s001="1" s001-Color="#010101" s012="2" s012-Color="#020202" />
</custommodel>`
	narrow := parse(t, doc, "f.xmodel")
	if st, _ := narrow.State("Wide"); len(st.Entries) != 1 {
		t.Fatalf("default bound reads nine slots, got %d entries", len(st.Entries))
	}
	wide, err := Parse(strings.NewReader(doc), "f.xmodel", ParseOptions{StateSlots: 12, Logger: newLogger()})
	if err != nil {
		t.Fatal(err)
	}
	st, _ := wide.State("Wide")
	if len(st.Entries) != 2 || st.Entries[1].Identifier() != "s012" {
		t.Fatalf("expected slot s012 with a wider bound, got %+v", st.Entries)
	}
}

func TestChannelCountFromShapes(t *testing.T) {
	doc := `<custommodel name="Snowman" DisplayAs="Custom" parm1="5">
  <faceInfo Mouth-AI="10-20" Eyes-Open="1-4" Nose="99" />
</custommodel>`
	m := parse(t, doc, "snowman.xmodel")
	if m.ChannelCount != 99*3 {
		t.Fatalf("expected channels from highest shape node, got %d", m.ChannelCount)
	}
}

func TestChannelCountFromStateSlots(t *testing.T) {
	doc := `<custommodel name="Tree" DisplayAs="Custom" parm1="5">
  <stateInfo Name="x" s001="1-64" s001-Color="#FFFFFF" />
</custommodel>`
	m := parse(t, doc, "tree.xmodel")
	if m.ChannelCount != 64*3 {
		t.Fatalf("expected 192 channels, got %d", m.ChannelCount)
	}
}

func TestChannelCountFromWideStateSlots(t *testing.T) {
	doc := `<custommodel name="Tree" DisplayAs="Custom" parm1="5">
  <stateInfo Name="x" s001="1-8" s001-Color="#FFFFFF" s012="1-90" s012-Color="#FF0000" />
</custommodel>`
	m := parse(t, doc, "tree.xmodel")
	if m.ChannelCount != 8*3 {
		t.Fatalf("slot s012 is past the default bound, expected 24 channels, got %d", m.ChannelCount)
	}
	wide, err := Parse(strings.NewReader(doc), "tree.xmodel", ParseOptions{StateSlots: 12, Logger: newLogger()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wide.ChannelCount != 90*3 {
		t.Fatalf("expected s012 nodes to count with a wider bound, got %d", wide.ChannelCount)
	}
}

func TestIsSlotKey(t *testing.T) {
	cases := map[string]bool{
		"s001": true, "s009": true, "s010": true, "s012": false,
		"s000": false, "s01": false, "s001-Color": false, "s+01": false, "x001": false,
	}
	for key, want := range cases {
		if got := isSlotKey(key, 10); got != want {
			t.Errorf("isSlotKey(%q, 10) = %v, want %v", key, got, want)
		}
	}
}

func TestParseRejectsOversizedGeometry(t *testing.T) {
	cases := map[string]string{
		"huge matrix":     `<model name="Wall" DisplayAs="Matrix" parm1="40000" parm2="40000" />`,
		"huge edge":       `<model name="Wall" DisplayAs="Matrix" parm1="9223372036854775807" parm2="9223372036854775807" />`,
		"huge line":       `<model name="Roof" DisplayAs="Single Line" parm1="1099511627776" />`,
		"huge compressed": `<custommodel name="c" CustomModelCompressed="1099511627776,0,0;" />`,
		"huge start":      `<model name="Roof" DisplayAs="Single Line" StartChannel="4294967000" parm1="10" />`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc), "big.model", ParseOptions{Logger: newLogger()})
			if !errors.Is(err, ErrMalformedFixture) {
				t.Fatalf("expected ErrMalformedFixture, got %v", err)
			}
		})
	}

	m := parse(t, `<model name="Wall" DisplayAs="Matrix" StartChannel="16777216" parm1="1024" parm2="1024" />`, "wall.model")
	if m.ChannelCount != MaxNodes*3 || m.EndChannel() != MaxEndChannel {
		t.Fatalf("geometry at the limit should parse, got %d channels ending at %d", m.ChannelCount, m.EndChannel())
	}
}

func TestChannelCountMatrixIgnoresTables(t *testing.T) {
	doc := `<model name="Big Matrix" DisplayAs="Matrix" StartChannel="1" parm1="40" parm2="20"
  CustomModelCompressed="999,0,0;" />`
	m := parse(t, doc, "matrix.model")
	if m.Kind != KindMatrix || m.Width != 40 || m.Height != 20 {
		t.Fatalf("unexpected matrix geometry %+v", m)
	}
	if m.ChannelCount != 40*20*3 {
		t.Fatalf("expected 2400 channels, got %d", m.ChannelCount)
	}
}

func TestChannelCountFallbacks(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want int
	}{
		{"line parm1", `<model name="Roof" DisplayAs="Single Line" parm1="100" />`, 300},
		{"line default", `<model name="Roof" DisplayAs="Poly Line" />`, DefaultLinearNodes * 3},
		{"custom default", `<model name="Blob" DisplayAs="Custom" />`, DefaultCustomNodes * 3},
		{"other default", `<model name="Arch" DisplayAs="Arches" />`, DefaultOtherNodes * 3},
		{"malformed parm1", `<model name="Arch" DisplayAs="Arches" parm1="lots" />`, DefaultOtherNodes * 3},
		{"custom elements", `<model name="Blob" DisplayAs="Custom"><node/><node/><pixel/></model>`, 9},
		{"empty compressed falls through", `<custommodel name="c" CustomModelCompressed="x;y" parm1="7" />`, 21},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := parse(t, tc.doc, "f.model")
			if m.ChannelCount != tc.want {
				t.Fatalf("expected %d channels, got %d", tc.want, m.ChannelCount)
			}
			if m.ChannelCount%3 != 0 {
				t.Fatalf("channel count %d is not a multiple of 3", m.ChannelCount)
			}
		})
	}
}

func TestLinearNodes(t *testing.T) {
	m := parse(t, `<model name="Roof" DisplayAs="Single Line" StartChannel="10" parm1="4" />`, "roof.model")
	want := []Node{{0, 10, 3}, {1, 13, 3}, {2, 16, 3}, {3, 19, 3}}
	if !reflect.DeepEqual(m.Nodes, want) {
		t.Fatalf("unexpected nodes %v", m.Nodes)
	}
}

func TestParseTolerantAttributes(t *testing.T) {
	m := parse(t, `<model name="Arch" DisplayAs="Arches" StartChannel="!controller:1" parm1="4" />`, "arch.model")
	if m.StartChannel != 1 {
		t.Fatalf("expected default start channel, got %d", m.StartChannel)
	}
	if m.Name != "Arch" || m.ChannelCount != 12 {
		t.Fatalf("unexpected model %+v", m)
	}
	m = parse(t, `<model DisplayAs="Arches" StartChannel="-4" />`, "anon.model")
	if m.Name != "anon.model" || m.StartChannel != 1 || m.DisplayAs != "Arches" {
		t.Fatalf("unexpected defaults %+v", m)
	}
}

func TestParseMalformed(t *testing.T) {
	cases := []string{
		"not xml at all",
		`<model name="Zero" DisplayAs="Single Line" parm1="0" />`,
		`<model name="Flat" DisplayAs="Matrix" parm1="0" parm2="10" />`,
	}
	for _, doc := range cases {
		_, err := Parse(strings.NewReader(doc), "bad.model", ParseOptions{Logger: newLogger()})
		if !errors.Is(err, ErrMalformedFixture) {
			t.Errorf("expected ErrMalformedFixture for %q, got %v", doc, err)
		}
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reindeer.xmodel")
	if err := os.WriteFile(path, []byte(reindeerXModel), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := ParseFile(path, ParseOptions{Logger: newLogger()})
	if err != nil {
		t.Fatalf("parse file: %v", err)
	}
	if m.Filename != "reindeer.xmodel" {
		t.Fatalf("unexpected filename %q", m.Filename)
	}
	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.xmodel"), ParseOptions{}); err == nil {
		t.Fatal("expected error for missing file")
	}
}
