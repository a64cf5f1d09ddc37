package bus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/loqalabs/loqa-facesync/internal/config"
	"github.com/nats-io/nats.go"
)

// Client carries JSON request/reply traffic for the facesync services.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

// Connect dials the configured servers. The name shows up in the broker's
// connection list and defaults to the runtime name.
func Connect(ctx context.Context, name string, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, connectOptions(name, cfg, log)...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	log.Info("connected to NATS", slog.String("servers", url), slog.String("name", name))
	return &Client{conn: conn, log: log}, nil
}

func connectOptions(name string, cfg config.BusConfig, log *slog.Logger) []nats.Option {
	if name == "" {
		name = "loqa-facesync"
	}
	timeout := time.Duration(cfg.ConnectTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}
	switch {
	case cfg.Token != "":
		opts = append(opts, nats.Token(cfg.Token))
	case cfg.Username != "" || cfg.Password != "":
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.TLSInsecure {
		opts = append(opts, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}
	return opts
}

func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	c.log.Info("draining NATS connection")
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

// Subscribe registers handler on subject.
func (c *Client) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// Flush waits until the server has processed pending subscriptions.
func (c *Client) Flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return c.conn.FlushWithContext(ctx)
}

// PublishJSON encodes v and publishes it on subject.
func (c *Client) PublishJSON(subject string, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}
	return c.conn.Publish(subject, data)
}

// RequestJSON sends req on subject and decodes the reply into resp.
func (c *Client) RequestJSON(ctx context.Context, subject string, req, resp any) error {
	data, err := sonic.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}
	if err := sonic.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("decode %s reply: %w", subject, err)
	}
	return nil
}

// Respond encodes v as the reply to msg.
func Respond(msg *nats.Msg, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	return msg.Respond(data)
}
