package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/intellia-labs/nexus/engine/domain"
	"github.com/intellia-labs/nexus/pkg/fn"
	"github.com/intellia-labs/nexus/pkg/natsutil"
)

// MaxAttempts is how often a triggered run is tried before it goes to the DLQ.
const MaxAttempts = 3

// Request asks a consumer to re-ingest a data directory. An empty DataDir
// selects the consumer's default.
type Request struct {
	DataDir string `json:"data_dir"`
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Request  Request `json:"request"`
	Error    string  `json:"error"`
	Attempts int     `json:"attempts"`
}

// Trigger runs pipeline for a request with retries. Table errors are not
// retried: the same files would fail the same way.
func Trigger(ctx context.Context, pipeline fn.Stage[string, Report], defaultDir string, req Request, wait time.Duration) (Report, error) {
	dir := req.DataDir
	if dir == "" {
		dir = defaultDir
	}
	return fn.Retry(ctx, fn.RetryOpts{
		MaxAttempts: MaxAttempts,
		InitialWait: wait,
		MaxWait:     30 * time.Second,
		Jitter:      true,
		Retryable:   func(err error) bool { return !errors.Is(err, domain.ErrInvalidTable) },
	}, func(ctx context.Context) fn.Result[Report] {
		return pipeline(ctx, dir)
	}).Unwrap()
}

// StartConsumer answers ingestion requests on natsutil.SubjectIngest. Runs
// that still fail after MaxAttempts are published to the DLQ and reported
// to the requester.
func StartConsumer(nc *nats.Conn, pipeline fn.Stage[string, Report], defaultDir string, timeout time.Duration, log *slog.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	return natsutil.Respond(nc, natsutil.SubjectIngest, "nexus-ingest", timeout, log,
		func(ctx context.Context, req Request) (Report, error) {
			report, err := Trigger(ctx, pipeline, defaultDir, req, time.Second)
			if err != nil {
				log.Error("ingest: triggered run failed", "data_dir", req.DataDir, "err", err)
				dlq := dlqMessage{Request: req, Error: err.Error(), Attempts: MaxAttempts}
				if perr := natsutil.Publish(ctx, nc, natsutil.SubjectIngestDLQ, dlq); perr != nil {
					log.Error("ingest: DLQ publish failed", "err", perr)
				}
				return Report{}, fmt.Errorf("ingest: %w", err)
			}
			return report, nil
		})
}
