package runtime

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/loqalabs/loqa-facesync/internal/eventstore"
	"github.com/loqalabs/loqa-facesync/internal/fixture"
	"github.com/loqalabs/loqa-facesync/internal/protocol"
	"github.com/loqalabs/loqa-facesync/internal/registry"
	"github.com/loqalabs/loqa-facesync/internal/sequence"
	"github.com/loqalabs/loqa-facesync/internal/timing"
)

const maxUploadBytes = 8 << 20

type api struct {
	registry  *registry.Registry
	generator *sequence.Generator
	store     *eventstore.Store
	log       *slog.Logger
}

func newAPI(reg *registry.Registry, gen *sequence.Generator, store *eventstore.Store, log *slog.Logger) *api {
	return &api{
		registry:  reg,
		generator: gen,
		store:     store,
		log:       log.With(slog.String("component", "http-api")),
	}
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /fixtures", a.listFixtures)
	mux.HandleFunc("GET /fixtures/{name}", a.getFixture)
	mux.HandleFunc("PUT /fixtures/{name}", a.uploadFixture)
	mux.HandleFunc("POST /fixtures/{name}/activate", a.moveFixture(a.registry.Activate))
	mux.HandleFunc("POST /fixtures/{name}/deactivate", a.moveFixture(a.registry.Deactivate))
	mux.HandleFunc("POST /sequences", a.generate)
	mux.HandleFunc("GET /runs", a.listRuns)
	mux.HandleFunc("GET /runs/{id}", a.getRun)
}

type fixtureSummary struct {
	Name         string   `json:"name"`
	Filename     string   `json:"filename"`
	DisplayAs    string   `json:"display_as"`
	Role         string   `json:"role"`
	StartChannel int      `json:"start_channel"`
	ChannelCount int      `json:"channel_count"`
	Shapes       []string `json:"shapes,omitempty"`
	States       []string `json:"states,omitempty"`
}

func summarize(m *fixture.Model) fixtureSummary {
	out := fixtureSummary{
		Name:         m.Name,
		Filename:     m.Filename,
		DisplayAs:    m.DisplayAs,
		Role:         string(fixture.Categorize(m)),
		StartChannel: m.StartChannel,
		ChannelCount: m.ChannelCount,
	}
	if m.Face != nil {
		out.Shapes = append(out.Shapes, m.Face.Order...)
	}
	for name := range m.States {
		out.States = append(out.States, name)
	}
	sort.Strings(out.States)
	return out
}

func (a *api) listFixtures(w http.ResponseWriter, _ *http.Request) {
	listing, err := a.registry.List()
	if err != nil {
		a.fail(w, err)
		return
	}
	a.write(w, http.StatusOK, protocol.FixtureListing{
		Active:        listing.Active,
		Inactive:      listing.Inactive,
		ChannelBudget: a.registry.TotalChannelBudget(),
	})
}

func (a *api) getFixture(w http.ResponseWriter, r *http.Request) {
	m, err := a.registry.Load(r.PathValue("name"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.write(w, http.StatusOK, summarize(m))
}

func (a *api) uploadFixture(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		a.fail(w, err)
		return
	}
	activate, _ := strconv.ParseBool(r.URL.Query().Get("activate"))
	m, err := a.registry.Upload(r.PathValue("name"), data, activate)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.write(w, http.StatusCreated, summarize(m))
}

func (a *api) moveFixture(move func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := move(r.PathValue("name")); err != nil {
			a.fail(w, err)
			return
		}
		a.listFixtures(w, r)
	}
}

func (a *api) generate(w http.ResponseWriter, r *http.Request) {
	var req protocol.GenerateRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err == nil {
		err = sonic.Unmarshal(body, &req)
	}
	if err != nil {
		a.write(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	res, err := a.generator.Generate(r.Context(), sequence.Request{
		Text:       req.Text,
		AudioPath:  req.AudioPath,
		Timings:    timing.Source(req.Timings),
		DurationMS: req.DurationMS,
		State:      req.State,
		Output:     req.Output,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.write(w, http.StatusOK, protocol.GenerateResult{
		RequestID:      req.RequestID,
		RunID:          res.RunID,
		Fixture:        res.Fixture,
		SequencePath:   res.SequencePath,
		DescriptorPath: res.DescriptorPath,
		FrameCount:     res.Header.FrameCount,
		ChannelCount:   res.Header.ChannelCount,
		StepMS:         res.Header.StepMS,
		OutOfBounds:    res.OutOfBounds,
	})
}

type runView struct {
	ID           string     `json:"id"`
	Fixture      string     `json:"fixture,omitempty"`
	State        string     `json:"state,omitempty"`
	Status       string     `json:"status"`
	FrameCount   int        `json:"frame_count"`
	ChannelCount int        `json:"channel_count"`
	DurationMS   int        `json:"duration_ms"`
	OutputPath   string     `json:"output_path,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

func viewRun(run eventstore.Run) runView {
	v := runView{
		ID:           run.ID,
		Fixture:      run.Fixture,
		State:        run.State,
		Status:       run.Status,
		FrameCount:   run.FrameCount,
		ChannelCount: run.ChannelCount,
		DurationMS:   run.DurationMS,
		OutputPath:   run.OutputPath,
		Error:        run.Error,
		StartedAt:    run.StartedAt,
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		v.FinishedAt = &finished
	}
	return v
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := a.store.ListRuns(r.Context(), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, viewRun(run))
	}
	a.write(w, http.StatusOK, views)
}

func (a *api) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.write(w, http.StatusOK, viewRun(run))
}

type errorBody struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, eventstore.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrInvalidName), errors.Is(err, sequence.ErrInvalidOutput):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrExists), errors.Is(err, sequence.ErrNoActiveFixture):
		return http.StatusConflict
	case errors.Is(err, fixture.ErrMalformedFixture):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.log.Error("request failed", slog.String("error", err.Error()))
	}
	a.write(w, status, errorBody{Error: err.Error()})
}

func (a *api) write(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		a.log.Error("failed to encode response", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
