package application

import (
	"context"
	"sort"
	"sync"
	"time"

	coreconfig "github.com/AzielCF/az-wap-broadcast/core/config"
	pkgError "github.com/AzielCF/az-wap-broadcast/pkg/error"
	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"github.com/AzielCF/az-wap-broadcast/validations"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const persistTimeout = 10 * time.Second

var (
	errSessionNotFound     error = pkgError.ErrSessionNotFound
	errSessionNotConnected error = pkgError.ErrSessionNotConnected
)

// record is the single in-memory owner of a session and its live client.
type record struct {
	session     *session.Session
	client      session.MessagingClient
	gen         uint64 // generation of the current client; events from older ones are dropped
	timers      timerBundle
	qrSeq       uint64
	fastPath    bool
	autoRetries int
}

// persistState serializes snapshot writes of one session id so an older
// snapshot never overwrites a newer one.
type persistState struct {
	mu      sync.Mutex
	written uint64
}

// effects collects the IO decided under the manager lock and run after it is released.
type effects struct {
	sessionID string
	owner     string
	snap      *session.Snapshot
	version   uint64
	persist   *persistState
	notes     []session.Notification
	destroy   session.MessagingClient
	start     session.MessagingClient
	startGen  uint64
}

// AcquireResult is what a caller gets back from Acquire.
type AcquireResult struct {
	Session   *session.Session `json:"session"`
	Groups    []session.Group  `json:"groups"`
	FromCache bool             `json:"from_cache"`
	Existing  bool             `json:"existing"`
}

// HealthSummary counts live sessions.
type HealthSummary struct {
	Total      int `json:"total"`
	Connected  int `json:"connected"`
	WithGroups int `json:"with_groups"`
}

// Manager owns every live session, drives their state machine and supervises
// QR expiry, initialization timeouts and reconnects.
type Manager struct {
	mu       sync.Mutex
	records  map[string]*record
	claims   map[string]string // session id -> owner, outlives the record until logout
	persists map[string]*persistState
	version  uint64
	nextGen  uint64

	store    session.SessionStore
	factory  session.ClientFactory
	notifier session.Notifier
	cfg      coreconfig.SessionsConfig

	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(cfg coreconfig.SessionsConfig, store session.SessionStore, factory session.ClientFactory, notifier session.Notifier) *Manager {
	if notifier == nil {
		notifier = session.NopNotifier{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		records:  make(map[string]*record),
		claims:   make(map[string]string),
		persists: make(map[string]*persistState),
		store:    store,
		factory:  factory,
		notifier: notifier,
		cfg:      withDefaults(cfg),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func withDefaults(cfg coreconfig.SessionsConfig) coreconfig.SessionsConfig {
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 5 * time.Minute
	}
	if cfg.QRExpiry <= 0 {
		cfg.QRExpiry = 5 * time.Minute
	}
	if cfg.GroupFetchTimeout <= 0 {
		cfg.GroupFetchTimeout = 60 * time.Second
	}
	if cfg.GroupFetchAttempts <= 0 {
		cfg.GroupFetchAttempts = 3
	}
	if cfg.GroupFetchBackoff < 0 {
		cfg.GroupFetchBackoff = 0
	}
	if cfg.DestroyGrace <= 0 {
		cfg.DestroyGrace = 15 * time.Second
	}
	if cfg.AutoRetryDelay <= 0 {
		cfg.AutoRetryDelay = 10 * time.Second
	}
	if cfg.MaxAutoRetries < 0 {
		cfg.MaxAutoRetries = 0
	}
	if cfg.FastPathWindow <= 0 {
		cfg.FastPathWindow = 60 * time.Second
	}
	return cfg
}

// Acquire returns the live session for id, resumes it from its snapshot, or
// creates it. A live session is returned as-is and its client is never restarted.
func (m *Manager) Acquire(ctx context.Context, id, owner string) (*AcquireResult, error) {
	if owner == "" {
		return nil, pkgError.ValidationError("owner: cannot be blank")
	}
	if id == "" {
		id = uuid.NewString()
	}
	if err := validations.ValidateSessionID(id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if res, ok, err := m.existingLocked(id, owner); ok {
		m.mu.Unlock()
		return res, err
	}
	m.mu.Unlock()

	holder, err := m.store.OwnerOf(ctx, id)
	if err != nil {
		logrus.WithError(err).Errorf("[SESSION_MANAGER] Could not resolve owner of %s", id)
		return nil, pkgError.NewTransientError("resolve session owner", err)
	}
	if holder != "" && holder != owner {
		logrus.Warnf("[SESSION_MANAGER] Refusing %s for owner %s, id is held by another owner", id, owner)
		return nil, errSessionNotFound
	}

	snap, err := m.store.Get(ctx, id, owner)
	if err != nil {
		logrus.WithError(pkgError.NewStorageError("get", err)).Warnf("[SESSION_MANAGER] Could not read snapshot of %s, starting fresh", id)
		snap = nil
	}

	m.mu.Lock()
	if res, ok, err := m.existingLocked(id, owner); ok {
		m.mu.Unlock()
		return res, err
	}

	var sess *session.Session
	fastPath := snap != nil && len(snap.Groups) > 0
	if snap != nil {
		sess = snap.Restore()
	} else {
		now := time.Now().UTC()
		sess = &session.Session{ID: id, Owner: owner, CreatedAt: now, LastActivity: now}
	}

	rec := &record{session: sess, fastPath: fastPath}
	m.records[id] = rec
	fx := m.newEffects(rec)

	if err := m.attachClientLocked(rec, fx); err != nil {
		delete(m.records, id)
		m.mu.Unlock()
		logrus.WithError(err).Errorf("[SESSION_MANAGER] Failed to create client for %s", id)
		return nil, err
	}
	m.claims[id] = owner

	sess.LastError = ""
	sess.Health = session.HealthStarting
	result := &AcquireResult{}
	if fastPath {
		sess.Counters.Reconnects++
		gen := rec.gen
		rec.timers.armInit(m.cfg.FastPathWindow, func() { m.onInitTimeout(id, gen) })
		m.setStatusLocked(rec, session.StatusConnecting, fx, "Resuming from saved session")
		fx.notes = append(fx.notes, m.groupsNote(rec, true))
		result.FromCache = true
		logrus.Infof("[SESSION_MANAGER] Fast-path reconnect for %s with %d cached groups", id, len(sess.Groups))
	} else {
		gen := rec.gen
		rec.timers.armInit(m.cfg.InitTimeout, func() { m.onInitTimeout(id, gen) })
		m.setStatusLocked(rec, session.StatusInitializing, fx, "")
		logrus.Infof("[SESSION_MANAGER] Initializing new session %s for owner %s", id, owner)
	}
	result.Session = sess.Clone()
	result.Groups = session.CloneGroups(sess.Groups)
	m.mu.Unlock()

	m.apply(fx)
	return result, nil
}

func (m *Manager) existingLocked(id, owner string) (*AcquireResult, bool, error) {
	if holder, claimed := m.claims[id]; claimed && holder != owner {
		return nil, true, errSessionNotFound
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, false, nil
	}
	if rec.session.Owner != owner {
		return nil, true, errSessionNotFound
	}
	return &AcquireResult{
		Session:  rec.session.Clone(),
		Groups:   session.CloneGroups(rec.session.Groups),
		Existing: true,
	}, true, nil
}

// Reconnect restarts the client of a session that is in error, or resumes one
// that is not live anymore. Connected or connecting sessions are left alone.
func (m *Manager) Reconnect(ctx context.Context, id, owner string) (*AcquireResult, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return m.Acquire(ctx, id, owner)
	}
	if rec.session.Owner != owner {
		m.mu.Unlock()
		return nil, errSessionNotFound
	}
	if rec.client != nil {
		res := &AcquireResult{Session: rec.session.Clone(), Groups: session.CloneGroups(rec.session.Groups), Existing: true}
		m.mu.Unlock()
		return res, nil
	}
	fx := m.newEffects(rec)
	rec.autoRetries = 0
	rec.session.Counters.Reconnects++
	m.reinitLocked(rec, fx, "Manual reconnect")
	res := &AcquireResult{Session: rec.session.Clone(), Groups: session.CloneGroups(rec.session.Groups), Existing: true}
	m.mu.Unlock()

	m.apply(fx)
	return res, nil
}

// Get returns a copy of a live session visible to owner.
func (m *Manager) Get(id, owner string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.session.Owner != owner {
		return nil, errSessionNotFound
	}
	return rec.session.Clone(), nil
}

// List returns copies of the owner's live sessions, optionally filtered by status.
func (m *Manager) List(owner string, statuses ...session.Status) []*session.Session {
	m.mu.Lock()
	out := make([]*session.Session, 0, len(m.records))
	for _, rec := range m.records {
		if rec.session.Owner != owner {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, rec.session.Status) {
			continue
		}
		out = append(out, rec.session.Clone())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func containsStatus(list []session.Status, s session.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Summary counts all live sessions across owners.
func (m *Manager) Summary() HealthSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	var h HealthSummary
	for _, rec := range m.records {
		h.Total++
		if rec.session.Status == session.StatusConnected {
			h.Connected++
			if rec.session.GroupsLoaded {
				h.WithGroups++
			}
		}
	}
	return h
}

// ResolveClient returns the live client of a connected session. The delivery
// queue calls it before every task.
func (m *Manager) ResolveClient(id string) (session.MessagingClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, errSessionNotFound
	}
	if rec.session.Status != session.StatusConnected || rec.client == nil {
		return nil, errSessionNotConnected
	}
	return rec.client, nil
}

// RecordSent increments the sent counter of a session after a delivery.
func (m *Manager) RecordSent(id string) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	fx := m.newEffects(rec)
	rec.session.Counters.MessagesSent++
	rec.session.LastActivity = time.Now().UTC()
	m.snapshotLocked(rec, fx)
	m.mu.Unlock()

	m.apply(fx)
}

// HandleDisconnect moves a session to disconnected, keeps its snapshot (groups
// included) for a later fast path and drops it from the live table.
func (m *Manager) HandleDisconnect(ctx context.Context, id, reason string) error {
	m.disconnect(id, 0, reason)
	return nil
}

func (m *Manager) disconnect(id string, gen uint64, reason string) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || (gen != 0 && rec.gen != gen) {
		m.mu.Unlock()
		return
	}
	if reason == "" {
		reason = "disconnected"
	}
	fx := m.newEffects(rec)
	rec.timers.stopAll()
	fx.destroy = rec.client
	rec.client = nil

	s := rec.session
	s.Health = session.HealthDead
	s.QRCode = ""
	s.LastError = reason
	s.LastErrorAt = time.Now().UTC()
	m.setStatusLocked(rec, session.StatusDisconnected, fx, reason)
	fx.notes[len(fx.notes)-1].CanRetry = true
	delete(m.records, id)
	m.mu.Unlock()

	m.apply(fx)
	logrus.Warnf("[SESSION_MANAGER] Session %s disconnected: %s", id, reason)
}

// Logout unlinks and destroys the client, then removes the session from memory
// and from the store. Logging out an unknown session succeeds.
func (m *Manager) Logout(ctx context.Context, id, owner string) error {
	m.mu.Lock()
	if holder, claimed := m.claims[id]; claimed && holder != owner {
		m.mu.Unlock()
		return nil
	}
	rec, ok := m.records[id]
	if ok && rec.session.Owner != owner {
		m.mu.Unlock()
		return nil
	}
	delete(m.claims, id)
	var client session.MessagingClient
	if ok {
		rec.timers.stopAll()
		client = rec.client
		rec.client = nil
		delete(m.records, id)
	}
	ps := m.persistStateLocked(id)
	delete(m.persists, id)
	m.version++
	version := m.version
	m.mu.Unlock()

	if client != nil {
		m.destroyClient(client, id, true)
	}

	ps.mu.Lock()
	err := m.store.Delete(ctx, id, owner)
	ps.written = version
	ps.mu.Unlock()
	if err != nil {
		logrus.WithError(pkgError.NewStorageError("delete", err)).Errorf("[SESSION_MANAGER] Failed to delete snapshot of %s", id)
	}

	if ok {
		m.notifier.Notify(session.Notification{
			Code:      session.NotifySessionUpdate,
			SessionID: id,
			Owner:     owner,
			Status:    session.StatusDisconnected,
			Message:   "Logged out",
			At:        time.Now().UTC(),
		})
		logrus.Infof("[SESSION_MANAGER] Session %s logged out", id)
	}
	return nil
}

// Shutdown persists every live session as disconnected and destroys all clients.
func (m *Manager) Shutdown(ctx context.Context) {
	m.cancel()

	m.mu.Lock()
	all := make([]*effects, 0, len(m.records))
	for id, rec := range m.records {
		fx := m.newEffects(rec)
		rec.timers.stopAll()
		fx.destroy = rec.client
		rec.client = nil
		rec.session.Health = session.HealthDead
		rec.session.QRCode = ""
		m.setStatusLocked(rec, session.StatusDisconnected, fx, "shutdown")
		fx.notes = nil
		all = append(all, fx)
		delete(m.records, id)
	}
	m.mu.Unlock()

	logrus.Infof("[SESSION_MANAGER] Shutting down %d sessions", len(all))
	var wg sync.WaitGroup
	for _, fx := range all {
		wg.Add(1)
		go func(fx *effects) {
			defer wg.Done()
			m.persist(fx)
			if fx.destroy != nil {
				m.destroyClient(fx.destroy, fx.sessionID, false)
			}
		}(fx)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logrus.Warn("[SESSION_MANAGER] Shutdown deadline reached before all sessions were cleaned up")
	}
}

// ---- internal helpers (manager lock held unless stated otherwise) ----

func (m *Manager) newEffects(rec *record) *effects {
	return &effects{sessionID: rec.session.ID, owner: rec.session.Owner}
}

func (m *Manager) persistStateLocked(id string) *persistState {
	ps, ok := m.persists[id]
	if !ok {
		ps = &persistState{}
		m.persists[id] = ps
	}
	return ps
}

func (m *Manager) snapshotLocked(rec *record, fx *effects) {
	snap := rec.session.Snapshot()
	m.version++
	fx.snap = &snap
	fx.version = m.version
	fx.persist = m.persistStateLocked(rec.session.ID)
}

func (m *Manager) setStatusLocked(rec *record, status session.Status, fx *effects, message string) {
	rec.session.Status = status
	rec.session.LastActivity = time.Now().UTC()
	m.snapshotLocked(rec, fx)

	var data any
	if rec.session.Identity != nil {
		data = map[string]any{"identity": rec.session.Identity}
	}
	fx.notes = append(fx.notes, m.note(rec, session.NotifySessionUpdate, message, data))
}

func (m *Manager) note(rec *record, code session.NotificationCode, message string, data any) session.Notification {
	return session.Notification{
		Code:      code,
		SessionID: rec.session.ID,
		Owner:     rec.session.Owner,
		Status:    rec.session.Status,
		Message:   message,
		Data:      data,
		At:        time.Now().UTC(),
	}
}

func (m *Manager) groupsNote(rec *record, fromCache bool) session.Notification {
	return m.note(rec, session.NotifyGroupsData, "", map[string]any{
		"groups":     session.CloneGroups(rec.session.Groups),
		"count":      len(rec.session.Groups),
		"from_cache": fromCache,
	})
}

// attachClientLocked builds a new client generation for rec.
func (m *Manager) attachClientLocked(rec *record, fx *effects) error {
	m.nextGen++
	gen := m.nextGen
	id := rec.session.ID
	spec := session.ClientSpec{SessionID: id, Owner: rec.session.Owner}
	if rec.session.Identity != nil {
		spec.DeviceJID = rec.session.Identity.DeviceJID
	}
	client, err := m.factory(spec, func(evt session.ClientEvent) {
		m.handleClientEvent(id, gen, evt)
	})
	if err != nil {
		return err
	}
	rec.client = client
	rec.gen = gen
	fx.start = client
	fx.startGen = gen
	return nil
}

// apply runs the IO collected under the lock: persistence, notifications,
// client teardown and client start.
func (m *Manager) apply(fx *effects) {
	if fx == nil {
		return
	}
	m.persist(fx)
	for _, n := range fx.notes {
		m.notifier.Notify(n)
	}
	if fx.destroy != nil {
		go m.destroyClient(fx.destroy, fx.sessionID, false)
	}
	if fx.start != nil {
		go m.startClient(fx.sessionID, fx.startGen, fx.start)
	}
}

func (m *Manager) persist(fx *effects) {
	if fx.snap == nil || fx.persist == nil {
		return
	}
	ps := fx.persist
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if fx.version <= ps.written {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.store.Upsert(ctx, *fx.snap); err != nil {
		// In-memory state stays authoritative until the next successful write.
		logrus.WithError(pkgError.NewStorageError("upsert", err)).Errorf("[SESSION_MANAGER] Failed to persist snapshot of %s", fx.sessionID)
		return
	}
	ps.written = fx.version
}
