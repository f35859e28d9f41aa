package bus_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-speech-batch/internal/bus"
	"github.com/loqalabs/loqa-speech-batch/internal/config"
	"github.com/loqalabs/loqa-speech-batch/internal/dispatch"
	"github.com/loqalabs/loqa-speech-batch/internal/natsserver"
	"github.com/loqalabs/loqa-speech-batch/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublishResultRoundTrip(t *testing.T) {
	cfg := config.BusConfig{Enabled: true, Embedded: true, Port: -1, StoreDir: t.TempDir(), ConnectTimeout: 2000}
	srv, err := natsserver.Start(cfg, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg.Servers = []string{srv.ClientURL()}
	client, err := bus.Connect(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	if !client.Healthy() {
		t.Fatal("expected healthy client")
	}

	msgs := make(chan *nats.Msg, 2)
	sub, err := client.Conn().ChanSubscribe("speech.batch.>", msgs)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	if err := client.PublishResult(protocol.TaskResult{BatchID: "b1", Index: 2, OK: true, OutputPath: "temp_3.wav"}); err != nil {
		t.Fatalf("publish result: %v", err)
	}
	if err := client.PublishSummary(protocol.BatchSummary{BatchID: "b1", Total: 1, OK: 1}); err != nil {
		t.Fatalf("publish summary: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	got := map[string][]byte{}
	for len(got) < 2 {
		select {
		case m := <-msgs:
			got[m.Subject] = m.Data
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for messages, got %v", got)
		}
	}
	var res protocol.TaskResult
	if err := json.Unmarshal(got[protocol.SubjectTaskResult], &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.BatchID != "b1" || res.Index != 2 || res.OutputPath != "temp_3.wav" {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, ok := got[protocol.SubjectBatchSummary]; !ok {
		t.Fatal("summary not received")
	}
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := bus.Connect(context.Background(), config.BusConfig{}, newLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestResultPublisherHook(t *testing.T) {
	cfg := config.BusConfig{Enabled: true, Embedded: true, Port: -1, StoreDir: t.TempDir(), ConnectTimeout: 2000}
	srv, err := natsserver.Start(cfg, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	cfg.Servers = []string{srv.ClientURL()}
	client, err := bus.Connect(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	sub, err := client.Conn().SubscribeSync(protocol.SubjectTaskResult)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush subscription: %v", err)
	}

	hook := client.Results("batch-7")
	r := dispatch.Result{Index: 1, Error: "boom", Duration: 1500 * time.Millisecond}
	if err := hook.OnResult(context.Background(), r); err != nil {
		t.Fatalf("on result: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	var got protocol.TaskResult
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.BatchID != "batch-7" || got.OK || got.Error != "boom" || got.DurationMS != 1500 {
		t.Fatalf("unexpected payload %+v", got)
	}
}
