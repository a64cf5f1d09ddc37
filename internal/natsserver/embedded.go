package natsserver

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-facesync/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 5 * time.Second

// EmbeddedServer is an in-process broker for single-host installs.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// Start boots the broker when cfg.Embedded is set and returns nil otherwise.
// A negative port picks a free one.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Embedded {
		return nil, nil
	}

	ns, err := server.NewServer(serverOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, errors.New("embedded NATS server not ready within " + readyTimeout.String())
	}

	log.Info("embedded NATS server started", slog.String("url", ns.ClientURL()))
	return &EmbeddedServer{ns: ns, log: log}, nil
}

func serverOptions(cfg config.BusConfig) *server.Options {
	opts := &server.Options{
		ServerName: "loqa-facesync",
		Host:       "0.0.0.0",
		Port:       cfg.Port,
		StoreDir:   cfg.StoreDir,
		NoSigs:     true,
		NoLog:      true,
	}
	if opts.StoreDir == "" {
		opts.StoreDir = "./data/nats"
	}
	if cfg.Port < 0 {
		opts.Host = "127.0.0.1"
		opts.Port = server.RANDOM_PORT
	}
	if cfg.Token != "" {
		opts.Authorization = cfg.Token
	} else if cfg.Username != "" {
		opts.Username = cfg.Username
		opts.Password = cfg.Password
	}
	return opts
}

// ClientURL is the nats:// address clients should dial.
func (e *EmbeddedServer) ClientURL() string {
	if e == nil || e.ns == nil {
		return ""
	}
	return e.ns.ClientURL()
}

// Shutdown stops the broker and waits for it to exit.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("stopping embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
