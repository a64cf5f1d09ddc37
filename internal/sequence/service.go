package sequence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/loqalabs/loqa-facesync/internal/bus"
	"github.com/loqalabs/loqa-facesync/internal/config"
	"github.com/loqalabs/loqa-facesync/internal/protocol"
	"github.com/loqalabs/loqa-facesync/internal/registry"
	"github.com/loqalabs/loqa-facesync/internal/timing"
	"github.com/nats-io/nats.go"
)

// FixtureAdmin is the registry surface exposed on the bus.
type FixtureAdmin interface {
	List() (registry.Listing, error)
	Activate(name string) error
	Deactivate(name string) error
	TotalChannelBudget() uint32
}

// Service answers generation and fixture administration requests on the bus.
type Service struct {
	cfg    config.GeneratorConfig
	bus    *bus.Client
	gen    *Generator
	admin  FixtureAdmin
	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewService(parent context.Context, cfg config.GeneratorConfig, busClient *bus.Client, gen *Generator, admin FixtureAdmin, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		gen:    gen,
		admin:  admin,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "sequence-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectSequenceGenerate:   s.handleGenerate,
		protocol.SubjectFixturesList:       s.handleList,
		protocol.SubjectFixturesActivate:   s.handleActivate,
		protocol.SubjectFixturesDeactivate: s.handleDeactivate,
	}
	for subject, handler := range handlers {
		sub, err := s.bus.Subscribe(subject, handler)
		if err != nil {
			s.unsubscribe()
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return s.bus.Flush(s.ctx)
}

func (s *Service) Close() {
	s.cancel()
	s.unsubscribe()
	s.wg.Wait()
}

func (s *Service) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || len(s.subs) > 0 }

func (s *Service) handleGenerate(msg *nats.Msg) {
	var req protocol.GenerateRequest
	if err := sonic.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode generate request", slogError(err))
		s.reply(msg, protocol.GenerateResult{Error: err.Error()})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
		defer cancel()

		res, err := s.gen.Generate(ctx, Request{
			Text:       req.Text,
			AudioPath:  req.AudioPath,
			Timings:    timing.Source(req.Timings),
			DurationMS: req.DurationMS,
			State:      req.State,
			Output:     req.Output,
		})
		out := protocol.GenerateResult{
			RequestID:      req.RequestID,
			RunID:          res.RunID,
			Fixture:        res.Fixture,
			SequencePath:   res.SequencePath,
			DescriptorPath: res.DescriptorPath,
			FrameCount:     res.Header.FrameCount,
			ChannelCount:   res.Header.ChannelCount,
			StepMS:         res.Header.StepMS,
			OutOfBounds:    res.OutOfBounds,
		}
		if err != nil {
			out.Error = err.Error()
		}
		s.reply(msg, out)
		if err := s.bus.PublishJSON(protocol.SubjectSequenceCompleted, out); err != nil {
			s.logger.Warn("failed to publish completion", slogError(err))
		}
	}()
}

func (s *Service) handleList(msg *nats.Msg) {
	s.reply(msg, s.listing(nil))
}

func (s *Service) handleActivate(msg *nats.Msg) {
	s.handleMove(msg, s.admin.Activate)
}

func (s *Service) handleDeactivate(msg *nats.Msg) {
	s.handleMove(msg, s.admin.Deactivate)
}

func (s *Service) handleMove(msg *nats.Msg, move func(string) error) {
	var req protocol.FixtureRequest
	if err := sonic.Unmarshal(msg.Data, &req); err != nil {
		s.reply(msg, s.listing(err))
		return
	}
	err := move(req.Name)
	if err != nil {
		s.logger.Warn("fixture request failed", slog.String("fixture", req.Name), slogError(err))
	}
	s.reply(msg, s.listing(err))
}

func (s *Service) listing(cause error) protocol.FixtureListing {
	out := protocol.FixtureListing{ChannelBudget: s.admin.TotalChannelBudget()}
	listing, err := s.admin.List()
	if err != nil && cause == nil {
		cause = err
	}
	out.Active = listing.Active
	out.Inactive = listing.Inactive
	if cause != nil {
		out.Error = cause.Error()
	}
	return out
}

func (s *Service) reply(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	if err := bus.Respond(msg, v); err != nil {
		s.logger.Warn("failed to send reply", slogError(err))
	}
}
