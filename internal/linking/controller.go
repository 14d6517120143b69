// Package linking drives device linking: pairing-code issuance, or a QR race
// between "QR available" and "already connected" on a dedicated connection.
package linking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/walink/internal/connector"
	"github.com/nextlevelbuilder/walink/internal/orcherr"
	"github.com/nextlevelbuilder/walink/internal/store"
	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

const (
	// DefaultTimeout bounds the QR race.
	DefaultTimeout = 15 * time.Second
	// DefaultLinger is how long a QR-mode connection waits for the code to
	// be scanned before it is closed.
	DefaultLinger = 3 * time.Minute
)

// Issuer issues pairing codes.
type Issuer interface {
	Issue(ctx context.Context, tenant, phone string) (store.PairingRecord, error)
}

// Adopter takes ownership of a linked connection.
type Adopter interface {
	Adopt(tenant string, conn connector.Conn, webhookURL string) bool
}

// DirEnsurer creates a tenant's session directory.
type DirEnsurer interface {
	Ensure(tenant string) (string, error)
}

// Request is a linking request.
type Request struct {
	Tenant     string
	Phone      string
	Mode       string // protocol.ModePairing (default) or protocol.ModeQR
	WebhookURL string
}

// Result is one of: a pairing record, a QR PNG, or Connected.
type Result struct {
	Mode      string
	Record    *store.PairingRecord
	QRPNG     []byte
	Connected bool
}

// Config configures a Controller.
type Config struct {
	Issuer    Issuer
	Connector connector.Connector
	Adopter   Adopter
	Dirs      DirEnsurer
	Timeout   time.Duration
	Linger    time.Duration
	QRSize    int
	Encode    EncodeFunc
}

// Controller runs linking flows.
type Controller struct {
	issuer    Issuer
	connector connector.Connector
	adopter   Adopter
	dirs      DirEnsurer
	timeout   time.Duration
	linger    time.Duration
	qrSize    int
	encode    EncodeFunc
	tracer    trace.Tracer

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewController(cfg Config) *Controller {
	c := &Controller{
		issuer:    cfg.Issuer,
		connector: cfg.Connector,
		adopter:   cfg.Adopter,
		dirs:      cfg.Dirs,
		timeout:   cfg.Timeout,
		linger:    cfg.Linger,
		qrSize:    cfg.QRSize,
		encode:    cfg.Encode,
		tracer:    otel.Tracer("walink/linking"),
		done:      make(chan struct{}),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.linger <= 0 {
		c.linger = DefaultLinger
	}
	if c.qrSize <= 0 {
		c.qrSize = DefaultQRSize
	}
	if c.encode == nil {
		c.encode = EncodePNG
	}
	return c
}

// StartLinking validates req and runs the requested flow.
func (c *Controller) StartLinking(ctx context.Context, req Request) (*Result, error) {
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = protocol.ModePairing
	}
	if err := validate(req, mode); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "linking.start", trace.WithAttributes(
		attribute.String("walink.tenant", req.Tenant),
		attribute.String("walink.mode", mode),
	))
	defer span.End()

	if c.dirs != nil {
		if _, err := c.dirs.Ensure(req.Tenant); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("ensure session dir: %w", err)
		}
	}

	var (
		res *Result
		err error
	)
	if mode == protocol.ModeQR {
		res, err = c.raceQR(ctx, req)
	} else {
		res, err = c.issueCode(ctx, req)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("walink.connected", res.Connected))
	return res, nil
}

func validate(req Request, mode string) error {
	if strings.TrimSpace(req.Tenant) == "" {
		return orcherr.Validation("username", "required")
	}
	if err := store.ValidateTenantID(req.Tenant); err != nil {
		return orcherr.Validation("username", err.Error())
	}
	if strings.TrimSpace(req.Phone) == "" {
		return orcherr.Validation("phone", "required")
	}
	if mode != protocol.ModePairing && mode != protocol.ModeQR {
		return orcherr.Validation("mode", fmt.Sprintf("unsupported mode %q", mode))
	}
	return nil
}

func (c *Controller) issueCode(ctx context.Context, req Request) (*Result, error) {
	rec, err := c.issuer.Issue(ctx, req.Tenant, req.Phone)
	if err != nil {
		return nil, fmt.Errorf("issue pairing code: %w", err)
	}
	slog.Info("linking: pairing code issued", "tenant", req.Tenant, "expires_at", rec.ExpiresAt)
	return &Result{Mode: protocol.ModePairing, Record: &rec}, nil
}

// raceQR opens a dedicated connection and waits for whichever comes first:
// a QR payload, an open connection, the timeout or ctx. The race
// subscription is removed on every path. A connection that is not handed
// on is closed.
func (c *Controller) raceQR(ctx context.Context, req Request) (*Result, error) {
	conn, err := c.connector.Open(ctx, req.Tenant)
	if err != nil {
		return nil, &orcherr.ConnectionInitError{Tenant: req.Tenant, Err: err}
	}

	qrCh := make(chan string, 1)
	openCh := make(chan struct{}, 1)
	unsubscribe := conn.Subscribe(func(evt connector.Event) {
		lc, ok := evt.(*connector.Lifecycle)
		if !ok {
			return
		}
		switch lc.Kind {
		case connector.LifecycleQR:
			select {
			case qrCh <- lc.QR:
			default:
			}
		case connector.LifecycleOpen:
			select {
			case openCh <- struct{}{}:
			default:
			}
		}
	})

	keep := false
	defer func() {
		unsubscribe()
		if !keep {
			conn.Close()
		}
	}()

	if err := conn.Connect(ctx); err != nil {
		return nil, &orcherr.ConnectionInitError{Tenant: req.Tenant, Err: err}
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case qr := <-qrCh:
		png, err := c.encode(qr, c.qrSize)
		if err != nil {
			return nil, fmt.Errorf("encode qr: %w", err)
		}
		keep = true
		// The race subscription is still live here, so an open that landed
		// during encoding sits in openCh for the watcher.
		c.awaitScan(req.Tenant, conn, req.WebhookURL, openCh)
		return &Result{Mode: protocol.ModeQR, QRPNG: png}, nil
	case <-openCh:
		keep = true
		c.handOff(req.Tenant, conn, req.WebhookURL)
		return &Result{Mode: protocol.ModeQR, Connected: true}, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: no qr or connection within %s", orcherr.ErrLinkingTimeout, c.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// awaitScan keeps a QR-mode connection alive until the code is scanned
// (then hands it off), the connection ends for good, or the linger expires.
// earlyOpen carries an open seen before this watcher subscribed.
func (c *Controller) awaitScan(tenant string, conn connector.Conn, webhookURL string, earlyOpen <-chan struct{}) {
	result := make(chan connector.LifecycleKind, 1)
	unsubscribe := conn.Subscribe(func(evt connector.Event) {
		lc, ok := evt.(*connector.Lifecycle)
		if !ok {
			return
		}
		if lc.Kind == connector.LifecycleOpen || lc.Kind.Final() {
			select {
			case result <- lc.Kind:
			default:
			}
		}
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(c.linger)
		defer timer.Stop()

		var kind connector.LifecycleKind
		select {
		case kind = <-result:
		case <-earlyOpen:
			kind = connector.LifecycleOpen
		case <-timer.C:
		case <-c.done:
		}
		unsubscribe()

		if kind == connector.LifecycleOpen {
			c.handOff(tenant, conn, webhookURL)
			return
		}
		slog.Info("linking: qr not completed, closing connection", "tenant", tenant, "outcome", kind)
		conn.Close()
	}()
}

func (c *Controller) handOff(tenant string, conn connector.Conn, webhookURL string) {
	if c.adopter != nil && c.adopter.Adopt(tenant, conn, webhookURL) {
		slog.Info("linking: connection linked", "tenant", tenant)
		return
	}
	slog.Debug("linking: tenant already has a session, closing linking connection", "tenant", tenant)
	conn.Close()
}

// Close stops waiting on pending QR scans and closes their connections.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}
