package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-speech-batch/internal/config"
	"github.com/loqalabs/loqa-speech-batch/internal/dispatch"
	"github.com/loqalabs/loqa-speech-batch/internal/protocol"
)

// Client wraps a NATS connection used to broadcast batch results.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("loqa-speech-batch"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &Client{
		conn: conn,
		log:  log.With(slog.String("component", "bus")),
	}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	_ = c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

func (c *Client) PublishResult(msg protocol.TaskResult) error {
	return c.publish(protocol.SubjectTaskResult, msg)
}

func (c *Client) PublishSummary(msg protocol.BatchSummary) error {
	return c.publish(protocol.SubjectBatchSummary, msg)
}

// Flush blocks until published messages have reached the server.
func (c *Client) Flush(ctx context.Context) error {
	return c.conn.FlushWithContext(ctx)
}

func (c *Client) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// ResultPublisher broadcasts each finished task of one batch.
type ResultPublisher struct {
	client  *Client
	batchID string
}

func (c *Client) Results(batchID string) *ResultPublisher {
	return &ResultPublisher{client: c, batchID: batchID}
}

func (p *ResultPublisher) OnResult(_ context.Context, r dispatch.Result) error {
	return p.client.PublishResult(protocol.TaskResult{
		BatchID:    p.batchID,
		Index:      r.Index,
		OK:         r.OK,
		OutputPath: r.OutputPath,
		Error:      r.Error,
		Start:      r.Start,
		End:        r.End,
		DurationMS: float64(r.Duration) / float64(time.Millisecond),
		Bytes:      r.Bytes,
	})
}
