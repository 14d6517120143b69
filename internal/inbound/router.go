// Package inbound consumes each live connection's message stream: it
// forwards messages to the tenant's webhook and answers built-in commands.
// Neither ever blocks the connector's dispatch goroutine.
package inbound

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/walink/internal/connector"
	"github.com/nextlevelbuilder/walink/internal/orcherr"
)

// DefaultReplyTimeout bounds one command reply send.
const DefaultReplyTimeout = 30 * time.Second

// Notifier delivers a message notification to a webhook.
type Notifier interface {
	Notify(ctx context.Context, url, tenant string, msg *connector.Message) error
}

// Sender sends a text reply.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
}

// Config configures a Router.
type Config struct {
	Notifier     Notifier
	Commands     *Commands
	Dedupe       *DedupeCache // optional
	ReplyTimeout time.Duration
}

// Router dispatches inbound messages. Each webhook POST and each reply runs
// in its own goroutine; failures are logged and never retried.
type Router struct {
	notifier     Notifier
	commands     *Commands
	dedupe       *DedupeCache
	replyTimeout time.Duration
	tracer       trace.Tracer

	wg sync.WaitGroup
}

func NewRouter(cfg Config) *Router {
	timeout := cfg.ReplyTimeout
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	return &Router{
		notifier:     cfg.Notifier,
		commands:     cfg.Commands,
		dedupe:       cfg.Dedupe,
		replyTimeout: timeout,
		tracer:       otel.Tracer("walink/inbound"),
	}
}

// Attach routes conn's messages for tenant. The returned func detaches.
func (r *Router) Attach(tenant string, conn connector.Conn, webhookURL string) func() {
	return conn.Subscribe(func(evt connector.Event) {
		if msg, ok := evt.(*connector.Message); ok {
			r.Handle(tenant, conn, webhookURL, msg)
		}
	})
}

// Handle processes one message. It returns as soon as dispatch is scheduled.
func (r *Router) Handle(tenant string, sender Sender, webhookURL string, msg *connector.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("inbound: message handler panic", "tenant", tenant, "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	if msg == nil || msg.FromMe {
		return
	}
	if r.dedupe != nil && msg.ID != "" && r.dedupe.IsDuplicate(tenant+"/"+msg.ID) {
		slog.Debug("inbound: duplicate message dropped", "tenant", tenant, "id", msg.ID)
		return
	}

	text := msg.Text()

	if webhookURL != "" && r.notifier != nil {
		r.spawn(tenant, "webhook", msg, func(ctx context.Context) error {
			return r.notifier.Notify(ctx, webhookURL, tenant, msg)
		})
	}

	if reply, ok := r.commands.Reply(text); ok {
		r.spawn(tenant, "reply", msg, func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, r.replyTimeout)
			defer cancel()
			return sender.SendText(ctx, msg.Chat, reply)
		})
	}
}

// spawn runs fn detached from the connector's goroutine. Errors become
// DispatchFailure log entries.
func (r *Router) spawn(tenant, kind string, msg *connector.Message, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, span := r.tracer.Start(context.Background(), "inbound."+kind, trace.WithAttributes(
			attribute.String("walink.tenant", tenant),
			attribute.String("walink.message_id", msg.ID),
		))
		defer span.End()

		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("inbound: dispatch panic", "tenant", tenant, "kind", kind, "panic", rec)
			}
		}()

		if err := fn(ctx); err != nil {
			failure := &orcherr.DispatchFailure{Tenant: tenant, Kind: kind, Err: err}
			span.RecordError(failure)
			span.SetStatus(codes.Error, err.Error())
			slog.Warn("inbound: dispatch failed", "tenant", tenant, "kind", kind, "id", msg.ID, "error", failure)
			return
		}
		slog.Debug("inbound: dispatch done", "tenant", tenant, "kind", kind, "id", msg.ID)
	}()
}

// Wait blocks until every in-flight dispatch has finished.
func (r *Router) Wait() {
	r.wg.Wait()
}
