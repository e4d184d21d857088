package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	coreconfig "github.com/AzielCF/az-wap-broadcast/core/config"
	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"github.com/AzielCF/az-wap-broadcast/sessions/repository"
)

type fakeClient struct {
	mu        sync.Mutex
	sink      session.EventSink
	startErr  error
	groups    []session.Group
	listErr   error
	listCalls int
	destroyed bool
	loggedOut bool
}

func (c *fakeClient) Start(ctx context.Context) error { return c.startErr }

func (c *fakeClient) ListGroups(ctx context.Context) ([]session.Group, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls++
	if c.listErr != nil {
		return nil, c.listErr
	}
	return session.CloneGroups(c.groups), nil
}

func (c *fakeClient) Send(ctx context.Context, target string, payload session.Payload) (session.Receipt, error) {
	return session.Receipt{MessageID: "m-" + target, Timestamp: time.Now()}, nil
}

func (c *fakeClient) Destroy(ctx context.Context) error {
	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.loggedOut = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) emit(evt session.ClientEvent) {
	evt.At = time.Now()
	c.sink(evt)
}

func (c *fakeClient) setListErr(err error) {
	c.mu.Lock()
	c.listErr = err
	c.mu.Unlock()
}

func (c *fakeClient) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

type fakeFactory struct {
	mu        sync.Mutex
	clients   []*fakeClient
	specs     []session.ClientSpec
	configure func(c *fakeClient)
}

func (f *fakeFactory) build(spec session.ClientSpec, sink session.EventSink) (session.MessagingClient, error) {
	c := &fakeClient{sink: sink}
	if f.configure != nil {
		f.configure(c)
	}
	f.mu.Lock()
	f.clients = append(f.clients, c)
	f.specs = append(f.specs, spec)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeFactory) spec(i int) session.ClientSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.specs[i]
}

func (f *fakeFactory) client(i int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[i]
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []session.Notification
}

func (r *recordingNotifier) Notify(n session.Notification) {
	r.mu.Lock()
	r.notes = append(r.notes, n)
	r.mu.Unlock()
}

func (r *recordingNotifier) byCode(code session.NotificationCode) []session.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []session.Notification
	for _, n := range r.notes {
		if n.Code == code {
			out = append(out, n)
		}
	}
	return out
}

func testSessionsConfig() coreconfig.SessionsConfig {
	return coreconfig.SessionsConfig{
		InitTimeout:        2 * time.Second,
		QRExpiry:           2 * time.Second,
		GroupFetchTimeout:  200 * time.Millisecond,
		GroupFetchAttempts: 3,
		GroupFetchBackoff:  10 * time.Millisecond,
		DestroyGrace:       200 * time.Millisecond,
		AutoRetryDelay:     20 * time.Millisecond,
		MaxAutoRetries:     2,
		FastPathWindow:     2 * time.Second,
	}
}

type harness struct {
	mgr      *Manager
	store    *repository.MemorySessionStore
	factory  *fakeFactory
	notifier *recordingNotifier
}

func newHarness(t *testing.T, cfg coreconfig.SessionsConfig) *harness {
	t.Helper()
	h := &harness{
		store:    repository.NewMemorySessionStore(),
		factory:  &fakeFactory{},
		notifier: &recordingNotifier{},
	}
	h.mgr = NewManager(cfg, h.store, h.factory.build, h.notifier)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		h.mgr.Shutdown(ctx)
	})
	return h
}

func (h *harness) status(id, owner string) session.Status {
	s, err := h.mgr.Get(id, owner)
	if err != nil {
		return ""
	}
	return s.Status
}

// failingStore fails every owner lookup.
type failingStore struct {
	*repository.MemorySessionStore
}

func (failingStore) OwnerOf(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}
