// Package whatsapp implements connector.Connector with whatsmeow.
//
// Each tenant gets its own SQLite device store inside its session directory
// (<sessions>/<tenant>/device.db). whatsmeow writes key material and session
// state to that store as it changes, so credentials persist without any
// explicit save call.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/walink/internal/connector"
)

// DeviceDBName is the per-tenant device store file.
const DeviceDBName = "device.db"

// DirEnsurer creates and returns a tenant's session directory.
type DirEnsurer interface {
	Ensure(tenant string) (string, error)
}

// Config configures the whatsmeow connector.
type Config struct {
	Dirs       DirEnsurer
	Logger     *slog.Logger
	HTTPClient *http.Client
	// ResolveVersion overrides version negotiation (tests, offline mode).
	ResolveVersion VersionResolver
}

// Connector opens whatsmeow clients backed by per-tenant device stores.
type Connector struct {
	dirs    DirEnsurer
	log     waLog.Logger
	resolve VersionResolver

	versionMu sync.Mutex
}

var _ connector.Connector = (*Connector)(nil)

func New(cfg Config) *Connector {
	resolve := cfg.ResolveVersion
	if resolve == nil {
		resolve = LatestVersionResolver(cfg.HTTPClient)
	}
	return &Connector{
		dirs:    cfg.Dirs,
		log:     NewSlogLogger(cfg.Logger, "whatsmeow"),
		resolve: resolve,
	}
}

// Open loads (or initializes) the tenant's device store, negotiates the
// protocol version and builds a client. The client is not connected yet.
func (c *Connector) Open(ctx context.Context, tenant string) (connector.Conn, error) {
	dir, err := c.dirs.Ensure(tenant)
	if err != nil {
		return nil, err
	}

	c.versionMu.Lock()
	store.SetWAVersion(negotiateVersion(ctx, c.resolve))
	c.versionMu.Unlock()

	dsn := "file:" + filepath.Join(dir, DeviceDBName) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, c.log.Sub("Database"))
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, c.log.Sub("Client/"+tenant))
	return newConn(tenant, client, container), nil
}

// conn wraps one whatsmeow client and its device store.
type conn struct {
	tenant    string
	client    *whatsmeow.Client
	container *sqlstore.Container

	// life outlives any single Connect call: whatsmeow keeps the socket,
	// keepalive and reconnect loops running under it until Close.
	life     context.Context
	stopLife context.CancelFunc

	closeOnce sync.Once
}

func newConn(tenant string, client *whatsmeow.Client, container *sqlstore.Container) *conn {
	life, stop := context.WithCancel(context.Background())
	return &conn{tenant: tenant, client: client, container: container, life: life, stopLife: stop}
}

func (c *conn) Tenant() string { return c.tenant }

// Connect dials and runs the noise handshake. ctx bounds only that step;
// when it expires first the dial is aborted and the conn is unusable.
func (c *conn) Connect(ctx context.Context) error {
	if c.client.IsConnected() {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- c.client.ConnectContext(c.life) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.stopLife()
		return ctx.Err()
	}
}

// Subscribe registers h for translated events. whatsmeow holds its handler
// lock while dispatching, so the returned func must be called from outside h.
func (c *conn) Subscribe(h connector.Handler) func() {
	id := c.client.AddEventHandler(func(evt interface{}) {
		if e := translate(evt); e != nil {
			h(e)
		}
	})
	return func() { c.client.RemoveEventHandler(id) }
}

func (c *conn) SendText(ctx context.Context, to, text string) error {
	jid, err := parseRecipient(to)
	if err != nil {
		return err
	}
	_, err = c.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	return err
}

func (c *conn) IsLoggedIn() bool { return c.client.IsLoggedIn() }

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.client.Disconnect()
		c.stopLife()
		err = c.container.Close()
	})
	return err
}

// translate maps whatsmeow events onto connector events; others are dropped.
func translate(evt interface{}) connector.Event {
	switch v := evt.(type) {
	case *events.QR:
		if len(v.Codes) == 0 {
			return nil
		}
		return &connector.Lifecycle{Kind: connector.LifecycleQR, QR: v.Codes[0]}
	case *events.Connected:
		return &connector.Lifecycle{Kind: connector.LifecycleOpen}
	case *events.Disconnected:
		return &connector.Lifecycle{Kind: connector.LifecycleClosed}
	case *events.LoggedOut:
		return &connector.Lifecycle{Kind: connector.LifecycleLoggedOut}
	// whatsmeow stops reconnecting after each of these.
	case *events.StreamReplaced:
		return terminated("stream_replaced")
	case *events.TemporaryBan:
		return terminated("temporary_ban: " + v.Code.String())
	case *events.ClientOutdated:
		return terminated("client_outdated")
	case *events.ConnectFailure:
		return terminated("connect_failure: " + v.Reason.String())
	case *events.CATRefreshError:
		return terminated("cat_refresh_failed")
	case *events.Message:
		if v.Message == nil {
			return nil
		}
		return &connector.Message{
			ID:           v.Info.ID,
			Chat:         v.Info.Chat.String(),
			Sender:       v.Info.Sender.String(),
			FromMe:       v.Info.IsFromMe,
			Timestamp:    v.Info.Timestamp,
			Conversation: v.Message.GetConversation(),
			ExtendedText: v.Message.GetExtendedTextMessage().GetText(),
			Raw:          v,
		}
	}
	return nil
}

func terminated(reason string) *connector.Lifecycle {
	return &connector.Lifecycle{Kind: connector.LifecycleTerminated, Reason: reason}
}

// parseRecipient accepts a full JID ("336...@s.whatsapp.net") or a bare
// phone number, with or without a leading "+".
func parseRecipient(to string) (types.JID, error) {
	to = strings.TrimSpace(to)
	if strings.Contains(to, "@") {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.JID{}, fmt.Errorf("invalid recipient %q: %w", to, err)
		}
		return jid, nil
	}

	digits := strings.TrimPrefix(to, "+")
	if digits == "" || strings.Trim(digits, "0123456789") != "" {
		return types.JID{}, fmt.Errorf("invalid recipient %q", to)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
