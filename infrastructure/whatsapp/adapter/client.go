package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/AzielCF/az-wap-broadcast/core/config"
	"github.com/AzielCF/az-wap-broadcast/core/database"
	"github.com/AzielCF/az-wap-broadcast/pkg/utils"
	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"github.com/AzielCF/az-wap-broadcast/validations"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Factory builds WhatsApp clients for the session manager. With Postgres all
// clients share one device container, opened on first use.
type Factory struct {
	cfg *config.Config

	mu     sync.Mutex
	shared *sqlstore.Container
}

func NewFactory(cfg *config.Config) *Factory {
	platform := waCompanionReg.DeviceProps_CHROME
	osName := cfg.Whatsapp.OS
	if osName == "" {
		osName = "Linux"
	}
	store.DeviceProps.PlatformType = &platform
	store.DeviceProps.Os = &osName

	return &Factory{cfg: cfg}
}

// Build matches session.ClientFactory. Nothing touches the network until Start.
func (f *Factory) Build(spec session.ClientSpec, sink session.EventSink) (session.MessagingClient, error) {
	if err := validations.ValidateSessionID(spec.SessionID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.Owner) == "" {
		return nil, fmt.Errorf("session owner is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("event sink is required")
	}
	return &WhatsAppClient{
		sessionID: spec.SessionID,
		owner:     spec.Owner,
		deviceJID: spec.DeviceJID,
		cfg:       f.cfg,
		factory:   f,
		sink:      sink,
	}, nil
}

// openContainer returns the device container of a session and whether the
// client owns it and must close it.
func (f *Factory) openContainer(ctx context.Context, owner, sessionID string) (*sqlstore.Container, bool, error) {
	dialect, dsn, shared := database.WhatsmeowDialect(f.cfg, owner, sessionID)
	logger := waLog.Stdout("DB", f.logLevel(), true)

	if !shared {
		if err := utils.CreateFolder(f.cfg.Paths.Storages); err != nil {
			return nil, false, err
		}
		container, err := sqlstore.New(ctx, dialect, dsn, logger)
		if err != nil {
			return nil, false, fmt.Errorf("failed to init session db: %w", err)
		}
		return container, true, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shared == nil {
		container, err := sqlstore.New(ctx, dialect, dsn, logger)
		if err != nil {
			return nil, false, fmt.Errorf("failed to init device db: %w", err)
		}
		f.shared = container
	}
	return f.shared, false, nil
}

func (f *Factory) logLevel() string {
	if f.cfg.Whatsapp.LogLevel == "" {
		return "INFO"
	}
	return f.cfg.Whatsapp.LogLevel
}

// Close releases the shared device container, if one was opened.
func (f *Factory) Close() error {
	f.mu.Lock()
	container := f.shared
	f.shared = nil
	f.mu.Unlock()
	if container == nil {
		return nil
	}
	return container.Close()
}

// WhatsAppClient is one whatsmeow connection bound to a session id.
type WhatsAppClient struct {
	sessionID string
	owner     string
	deviceJID string
	cfg       *config.Config
	factory   *Factory
	sink      session.EventSink

	mu            sync.Mutex
	client        *whatsmeow.Client
	container     *sqlstore.Container
	ownsContainer bool
	handlerID     uint32
	cancel        context.CancelFunc
	closed        bool
}

func (wa *WhatsAppClient) shortID() string {
	if len(wa.sessionID) > 8 {
		return wa.sessionID[:8]
	}
	return wa.sessionID
}

// Start opens the device store, registers the event handler and connects.
// An unpaired device streams QR codes until it pairs or the channel times out.
func (wa *WhatsAppClient) Start(ctx context.Context) error {
	wa.mu.Lock()
	if wa.closed {
		wa.mu.Unlock()
		return fmt.Errorf("client for %s already destroyed", wa.sessionID)
	}
	if wa.client != nil {
		cli := wa.client
		wa.mu.Unlock()
		if cli.IsConnected() {
			return nil
		}
		return cli.Connect()
	}
	wa.mu.Unlock()

	container, owned, err := wa.factory.openContainer(ctx, wa.owner, wa.sessionID)
	if err != nil {
		return err
	}
	release := func() {
		if owned {
			_ = container.Close()
		}
	}

	device, err := selectDevice(ctx, container, wa.deviceJID, !owned)
	if err != nil {
		release()
		return fmt.Errorf("failed to get device: %w", err)
	}

	level := wa.factory.logLevel()
	cli := whatsmeow.NewClient(device, waLog.Stdout("Client-"+wa.shortID(), level, true))
	// Reconnects are owned by the session manager.
	cli.EnableAutoReconnect = false
	cli.AutoTrustIdentity = true

	clientCtx, cancel := context.WithCancel(ctx)

	wa.mu.Lock()
	if wa.closed {
		wa.mu.Unlock()
		cancel()
		release()
		return fmt.Errorf("client for %s destroyed during start", wa.sessionID)
	}
	wa.client = cli
	wa.container = container
	wa.ownsContainer = owned
	wa.cancel = cancel
	wa.handlerID = cli.AddEventHandler(wa.handleEvent)
	wa.mu.Unlock()

	if cli.Store.ID == nil {
		qrChan, err := cli.GetQRChannel(clientCtx)
		if err != nil {
			return fmt.Errorf("failed to open QR channel: %w", err)
		}
		go wa.pumpQR(qrChan)
	}

	if err := cli.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	logrus.Debugf("[WHATSAPP] Client for %s connecting (paired=%v)", wa.sessionID, cli.Store.ID != nil)
	return nil
}

func (wa *WhatsAppClient) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		if evt, ok := mapQRItem(item); ok {
			wa.sink(evt)
		}
	}
}

func (wa *WhatsAppClient) handleEvent(raw interface{}) {
	evt, ok := mapEvent(raw)
	if !ok {
		return
	}
	if evt.Kind == session.EventReady {
		evt.Identity = wa.identity()
	}
	wa.sink(evt)
}

func (wa *WhatsAppClient) identity() *session.Identity {
	wa.mu.Lock()
	cli := wa.client
	wa.mu.Unlock()
	if cli == nil || cli.Store == nil || cli.Store.ID == nil {
		return nil
	}
	return &session.Identity{
		User:        cli.Store.ID.User,
		DisplayName: cli.Store.PushName,
		Platform:    cli.Store.Platform,
		DeviceJID:   cli.Store.ID.String(),
	}
}

func (wa *WhatsAppClient) connected() (*whatsmeow.Client, error) {
	wa.mu.Lock()
	defer wa.mu.Unlock()
	if wa.client == nil || wa.closed {
		return nil, fmt.Errorf("websocket not connected")
	}
	if !wa.client.IsConnected() {
		return nil, fmt.Errorf("websocket not connected")
	}
	return wa.client, nil
}

// Destroy disconnects and closes the device store. The device stays paired.
func (wa *WhatsAppClient) Destroy(ctx context.Context) error {
	wa.mu.Lock()
	if wa.closed {
		wa.mu.Unlock()
		return nil
	}
	wa.closed = true
	cli, container, cancel, handlerID := wa.client, wa.container, wa.cancel, wa.handlerID
	if !wa.ownsContainer {
		container = nil
	}
	wa.client, wa.container, wa.cancel = nil, nil, nil
	wa.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cli != nil {
		cli.RemoveEventHandler(handlerID)
		cli.Disconnect()
	}
	if container != nil {
		if err := container.Close(); err != nil {
			return fmt.Errorf("failed to close session db: %w", err)
		}
	}
	logrus.Debugf("[WHATSAPP] Client for %s destroyed", wa.sessionID)
	return nil
}

// Logout unlinks the device from the phone and drops its credentials.
func (wa *WhatsAppClient) Logout(ctx context.Context) error {
	wa.mu.Lock()
	cli := wa.client
	wa.mu.Unlock()

	if cli != nil && cli.Store.ID != nil {
		if err := cli.Logout(ctx); err != nil {
			msg := strings.ToLower(err.Error())
			if !strings.Contains(msg, "not logged in") && !strings.Contains(msg, "401") {
				return fmt.Errorf("logout failed: %w", err)
			}
			// Server side already forgot us; clear the local device anyway.
			if cli.Store.ID != nil {
				if delErr := cli.Store.Delete(ctx); delErr != nil {
					logrus.WithError(delErr).Warnf("[WHATSAPP] Could not delete device of %s", wa.sessionID)
				}
			}
		}
	}
	return wa.Destroy(ctx)
}
