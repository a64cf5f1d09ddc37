package timing

import (
	"context"
	"testing"
)

func TestWordWeight(t *testing.T) {
	cases := map[string]float64{
		"hi":     3,
		"hi.":    6,
		"hello!": 10.5,
		"well,":  7.2,
		"so;":    4.8,
		"né":     3,
		"ёлка!":  9,
	}
	for word, want := range cases {
		got := WordWeight(word)
		if diff := got - want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("WordWeight(%q) = %v, want %v", word, got, want)
		}
	}
}

func TestEstimateProportional(t *testing.T) {
	// weights 4 and 4 over 1000-200 usable ms.
	track := Estimate("abc def", 1000, DefaultEstimate)
	want := Track{
		{Label: "abc", StartMS: 100, EndMS: 500},
		{Label: "def", StartMS: 500, EndMS: 900},
	}
	for i := range want {
		if track[i] != want[i] {
			t.Fatalf("mark %d = %+v, want %+v", i, track[i], want[i])
		}
	}
}

func TestEstimateMinimumWordDuration(t *testing.T) {
	track := Estimate("a b c d e f g h i j", 500, DefaultEstimate)
	for _, m := range track {
		if m.EndMS-m.StartMS < DefaultMinWordMS {
			t.Fatalf("word %q shorter than minimum: %+v", m.Label, m)
		}
	}
	for i := 1; i < len(track); i++ {
		if track[i].StartMS < track[i-1].StartMS {
			t.Fatalf("marks not ordered: %+v", track)
		}
	}
}

func TestEstimateDefaults(t *testing.T) {
	if Estimate("   ", 1000, DefaultEstimate) != nil {
		t.Fatal("expected no marks for blank text")
	}
	track := Estimate("one", 0, DefaultEstimate)
	if len(track) != 1 || track[0].EndMS != DefaultDurationMS-DefaultPaddingMS {
		t.Fatalf("expected default duration, got %+v", track)
	}
}

func TestStaticProviderUsesDefaultDuration(t *testing.T) {
	p := StaticProvider{Options: DefaultEstimate, DefaultDurationMS: 2000}
	track, err := p.Marks(context.Background(), Request{Text: "hello there"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(track) != 2 || track.DurationMS() > 2000 {
		t.Fatalf("expected two words inside 2000ms, got %+v", track)
	}
	track, _ = p.Marks(context.Background(), Request{Text: "hello there", DurationMS: 8000})
	if track.DurationMS() <= 2000 {
		t.Fatalf("request duration should win, got %+v", track)
	}
}
