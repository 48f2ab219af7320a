//go:build integration

package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/rzbill/replog/internal/commitstore"
	"github.com/rzbill/replog/internal/publish"
)

func TestKafkaContainerPublish(t *testing.T) {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("docker/container runtime unavailable: %v", r)
		}
	}()

	req := testcontainers.ContainerRequest{
		Image:        "docker.redpanda.com/redpandadata/redpanda:v24.1.8",
		ExposedPorts: []string{"9092/tcp"},
		Cmd:          []string{"redpanda", "start", "--overprovisioned", "--smp", "1", "--memory", "512M", "--reserve-memory", "0M", "--check=false", "--node-id", "0", "--kafka-addr", "0.0.0.0:9092", "--advertise-kafka-addr", "127.0.0.1:9092"},
		WaitingFor:   wait.ForLog("Successfully started Redpanda"),
	}
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("docker/container runtime unavailable: %v", err)
	}
	defer func() { _ = ctr.Terminate(ctx) }()

	host, _ := ctr.Host(ctx)
	port, _ := ctr.MappedPort(ctx, "9092")
	broker := fmt.Sprintf("%s:%s", host, port.Port())

	p, err := New(Config{Brokers: []string{broker}, Topic: "replog-commits"}, publish.Raw)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer p.Close()

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	c := commitstore.Commit{Sequence: 1, Stream: "orders", Version: 1, Origin: "east", Events: [][]byte{[]byte("x")}}
	if err := p.Publish(pctx, c); err != nil {
		t.Fatalf("publish: %v", err)
	}

	consumer, err := kgo.NewClient(kgo.SeedBrokers(broker), kgo.ConsumeTopics("replog-commits"), kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	defer consumer.Close()
	fetches := consumer.PollFetches(pctx)
	if errs := fetches.Errors(); len(errs) > 0 {
		t.Fatalf("poll: %v", errs[0].Err)
	}
	recs := fetches.Records()
	if len(recs) != 1 || string(recs[0].Key) != "orders" {
		t.Fatalf("unexpected records: %d", len(recs))
	}
	var m publish.Message
	if err := json.Unmarshal(recs[0].Value, &m); err != nil || m.Version != 1 {
		t.Fatalf("unexpected message %+v: %v", m, err)
	}
}
