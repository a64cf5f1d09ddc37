package protocol

import "encoding/json"

const (
	SubjectSequenceGenerate   = "sequence.generate"
	SubjectSequenceCompleted  = "sequence.completed"
	SubjectFixturesList       = "fixtures.list"
	SubjectFixturesActivate   = "fixtures.activate"
	SubjectFixturesDeactivate = "fixtures.deactivate"
)

// GenerateRequest asks the generator to render narration into a track.
type GenerateRequest struct {
	RequestID  string          `json:"request_id,omitempty"`
	Text       string          `json:"text"`
	AudioPath  string          `json:"audio_path,omitempty"`
	Timings    json.RawMessage `json:"timings,omitempty"`
	DurationMS uint32          `json:"duration_ms,omitempty"`
	State      string          `json:"state,omitempty"`
	Output     string          `json:"output,omitempty"`
}

// GenerateResult is the reply to a GenerateRequest and is also broadcast on
// SubjectSequenceCompleted.
type GenerateResult struct {
	RequestID      string `json:"request_id,omitempty"`
	RunID          string `json:"run_id"`
	Fixture        string `json:"fixture,omitempty"`
	SequencePath   string `json:"sequence_path,omitempty"`
	DescriptorPath string `json:"descriptor_path,omitempty"`
	FrameCount     uint32 `json:"frame_count"`
	ChannelCount   uint32 `json:"channel_count"`
	StepMS         uint16 `json:"step_ms"`
	OutOfBounds    int    `json:"out_of_bounds,omitempty"`
	Error          string `json:"error,omitempty"`
}

// FixtureRequest names a fixture file for activation or deactivation.
type FixtureRequest struct {
	Name string `json:"name"`
}

// FixtureListing is the reply to list, activate and deactivate requests.
type FixtureListing struct {
	Active        []string `json:"active"`
	Inactive      []string `json:"inactive"`
	ChannelBudget uint32   `json:"channel_budget"`
	Error         string   `json:"error,omitempty"`
}
