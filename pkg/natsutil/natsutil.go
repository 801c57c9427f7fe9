// Package natsutil provides typed NATS publish/subscribe/request helpers
// with OpenTelemetry trace propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// Subjects used by nexus.
const (
	SubjectQuery        = "nexus.query"
	SubjectIngest       = "nexus.ingest"
	SubjectIngestDLQ    = "nexus.ingest.dlq"
	SubjectIndexRebuilt = "nexus.index.rebuilt"
)

// ErrorHeader carries a responder-side failure back to the requester.
const ErrorHeader = "Nexus-Error"

// ErrRemote is wrapped around failures reported by a responder.
var ErrRemote = errors.New("natsutil: remote error")

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

func newMsg[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := newMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Trace context is extracted from NATS message headers and passed to the handler.
// Malformed messages are logged and dropped.
func Subscribe[T any](nc *nats.Conn, subject string, logger *slog.Logger, handler func(context.Context, T)) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			logger.Warn("natsutil: dropping malformed message", "subject", msg.Subject, "err", err)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		handler(ctx, v)
	})
}

// Request sends a JSON-encoded request and decodes the response. The
// request is bounded by ctx, or by nats.DefaultTimeout if ctx has no
// deadline.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	msg, err := newMsg(ctx, subject, req)
	if err != nil {
		return zero, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nats.DefaultTimeout)
		defer cancel()
	}
	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return zero, fmt.Errorf("natsutil: request %s: %w", subject, err)
	}
	return decodeReply[Resp](resp)
}

func decodeReply[Resp any](resp *nats.Msg) (Resp, error) {
	var out Resp
	if resp.Header != nil {
		if remote := resp.Header.Get(ErrorHeader); remote != "" {
			return out, fmt.Errorf("%w: %s", ErrRemote, remote)
		}
	}
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return out, fmt.Errorf("natsutil: decode reply: %w", err)
	}
	return out, nil
}

// Respond serves request/reply traffic on subject within a queue group.
// Each request is handled with a context bounded by timeout; handler errors
// are returned to the requester in the ErrorHeader.
func Respond[Req, Resp any](nc *nats.Conn, subject, queue string, timeout time.Duration, logger *slog.Logger, handler func(context.Context, Req) (Resp, error)) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		reply := buildReply(ctx, msg.Data, handler)
		if err := msg.RespondMsg(reply); err != nil {
			logger.Error("natsutil: respond failed", "subject", subject, "err", err)
		}
	})
}

// buildReply decodes the request, runs handler and encodes the reply.
func buildReply[Req, Resp any](ctx context.Context, data []byte, handler func(context.Context, Req) (Resp, error)) *nats.Msg {
	reply := &nats.Msg{Header: nats.Header{}}
	var req Req
	if err := json.Unmarshal(data, &req); err != nil {
		reply.Header.Set(ErrorHeader, "malformed request: "+err.Error())
		return reply
	}
	resp, err := handler(ctx, req)
	if err != nil {
		reply.Header.Set(ErrorHeader, err.Error())
		return reply
	}
	body, err := json.Marshal(resp)
	if err != nil {
		reply.Header.Set(ErrorHeader, "encode reply: "+err.Error())
		return reply
	}
	reply.Data = body
	return reply
}
