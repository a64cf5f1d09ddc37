package timing

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/mattn/go-shellwords"
)

// Provider produces a timing track for narration text.
type Provider interface {
	Marks(ctx context.Context, req Request) (Track, error)
}

// Request describes the narration being timed.
type Request struct {
	Text       string `json:"text"`
	AudioPath  string `json:"audio_path,omitempty"`
	DurationMS uint32 `json:"duration_ms,omitempty"`
}

// ExecProvider runs an external command that reads a JSON request on stdin
// and writes speech marks, one JSON object per line, to stdout.
type ExecProvider struct {
	cmd []string
	mu  sync.Mutex
}

func NewExecProvider(command string) (*ExecProvider, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse timing command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("timing command empty")
	}
	return &ExecProvider{cmd: args}, nil
}

func (e *ExecProvider) Marks(ctx context.Context, req Request) (Track, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := sonic.Marshal(req)
	if err != nil {
		return nil, err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("timing command: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("timing command: %w", err)
	}
	return ParseSpeechMarks(stdout.Bytes(), req.DurationMS)
}

// StaticProvider estimates word timings from the text and never fails. It
// backs timing mode "none".
type StaticProvider struct {
	Options           EstimateOptions
	DefaultDurationMS uint32
}

func (s StaticProvider) Marks(_ context.Context, req Request) (Track, error) {
	duration := req.DurationMS
	if duration == 0 {
		duration = s.DefaultDurationMS
	}
	return Estimate(req.Text, duration, s.Options), nil
}
