package application

import (
	"context"
	"time"

	pkgError "github.com/AzielCF/az-wap-broadcast/pkg/error"
	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"github.com/sirupsen/logrus"
)

// handleClientEvent is the EventSink of every client generation.
func (m *Manager) handleClientEvent(id string, gen uint64, evt session.ClientEvent) {
	switch evt.Kind {
	case session.EventCredentialChallenge:
		if err := m.issueQR(id, gen, evt.QR); err != nil {
			logrus.WithError(err).Errorf("[SESSION_MANAGER] Failed to issue QR for %s", id)
		}
		return
	case session.EventDisconnected:
		m.onClientDisconnected(id, gen, evt.Reason)
		return
	}

	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || rec.gen != gen || rec.client == nil {
		m.mu.Unlock()
		logrus.Debugf("[SESSION_MANAGER] Dropping %s event from stale client of %s", evt.Kind, id)
		return
	}
	next, valid := nextStatus(rec.session.Status, evt.Kind)
	if !valid {
		status := rec.session.Status
		m.mu.Unlock()
		logrus.Debugf("[SESSION_MANAGER] Ignoring %s for %s in status %s", evt.Kind, id, status)
		return
	}

	fx := m.newEffects(rec)
	fetchGroups := false
	switch evt.Kind {
	case session.EventAuthenticated:
		rec.timers.stopQR()
		rec.session.QRCode = ""
		rec.timers.armInit(m.cfg.InitTimeout, func() { m.onInitTimeout(id, gen) })
		m.setStatusLocked(rec, next, fx, "Authenticated")

	case session.EventReady:
		rec.timers.stopAll()
		rec.fastPath = false
		rec.autoRetries = 0
		rec.session.QRCode = ""
		rec.session.Health = session.HealthAlive
		if evt.Identity != nil {
			identity := *evt.Identity
			rec.session.Identity = &identity
		}
		m.setStatusLocked(rec, next, fx, "Connected")
		fetchGroups = true

	case session.EventAuthFailed:
		reason := evt.Reason
		if reason == "" {
			reason = "authentication failed"
		}
		if rec.fastPath {
			m.fallbackLocked(rec, fx, reason)
		} else {
			m.failLocked(rec, pkgError.AuthenticationError(reason).Error(), true, fx)
		}
	}
	m.mu.Unlock()

	m.apply(fx)
	if fetchGroups {
		logrus.Infof("[SESSION_MANAGER] Session %s connected", id)
		go func() {
			if err := m.FetchAndCacheGroups(m.ctx, id); err != nil {
				logrus.WithError(err).Warnf("[SESSION_MANAGER] Group fetch after connect failed for %s", id)
			}
		}()
	}
}

// onClientDisconnected falls back to a full init when the fast path drops
// before ready; any other drop goes through the regular disconnect path.
func (m *Manager) onClientDisconnected(id string, gen uint64, reason string) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || rec.gen != gen || rec.client == nil {
		m.mu.Unlock()
		return
	}
	if rec.fastPath {
		fx := m.newEffects(rec)
		m.fallbackLocked(rec, fx, reason)
		m.mu.Unlock()
		m.apply(fx)
		return
	}
	m.mu.Unlock()

	m.disconnect(id, gen, reason)
}

func (m *Manager) onInitTimeout(id string, gen uint64) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || rec.gen != gen || rec.client == nil || rec.session.Status == session.StatusConnected {
		m.mu.Unlock()
		return
	}
	fx := m.newEffects(rec)
	if rec.fastPath {
		m.fallbackLocked(rec, fx, "fast path window elapsed")
	} else {
		m.failLocked(rec, "initialization timed out", true, fx)
	}
	m.mu.Unlock()

	m.apply(fx)
}

func (m *Manager) onAutoRetry(id string, gen uint64) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || rec.gen != gen || rec.client != nil || rec.session.Status != session.StatusError {
		m.mu.Unlock()
		return
	}
	fx := m.newEffects(rec)
	rec.autoRetries++
	rec.session.Counters.Reconnects++
	attempt := rec.autoRetries
	m.reinitLocked(rec, fx, "Retrying")
	m.mu.Unlock()

	m.apply(fx)
	logrus.Infof("[SESSION_MANAGER] Auto-retry %d/%d for session %s", attempt, m.cfg.MaxAutoRetries, id)
}

// failLocked moves rec to error, tears its client down and, when allowed and
// retries remain, schedules an automatic re-initialization.
func (m *Manager) failLocked(rec *record, reason string, allowRetry bool, fx *effects) {
	rec.timers.stopAll()
	if rec.client != nil {
		fx.destroy = rec.client
		rec.client = nil
	}
	fx.start = nil
	rec.fastPath = false

	s := rec.session
	s.Health = session.HealthDead
	s.QRCode = ""
	s.LastError = reason
	s.LastErrorAt = time.Now().UTC()
	s.Counters.Errors++
	m.setStatusLocked(rec, session.StatusError, fx, reason)

	autoRetry := allowRetry && rec.autoRetries < m.cfg.MaxAutoRetries
	if autoRetry {
		id, gen := s.ID, rec.gen
		rec.timers.armRetry(m.cfg.AutoRetryDelay, func() { m.onAutoRetry(id, gen) })
	}
	n := m.note(rec, session.NotifySessionError, reason, map[string]any{
		"auto_retry":  autoRetry,
		"retry_count": rec.autoRetries,
	})
	n.CanRetry = true
	fx.notes = append(fx.notes, n)
	logrus.Errorf("[SESSION_MANAGER] Session %s failed: %s (auto retry: %t)", s.ID, reason, autoRetry)
}

// fallbackLocked abandons the fast path and restarts with a full init. The
// cached groups stay in place until a fresh fetch replaces them.
func (m *Manager) fallbackLocked(rec *record, fx *effects, reason string) {
	logrus.Warnf("[SESSION_MANAGER] Fast path failed for %s (%s), falling back to full init", rec.session.ID, reason)
	rec.fastPath = false
	m.reinitLocked(rec, fx, "Falling back to full initialization")
}

// reinitLocked replaces the client of rec with a fresh one in initializing.
func (m *Manager) reinitLocked(rec *record, fx *effects, message string) {
	rec.timers.stopAll()
	if rec.client != nil {
		fx.destroy = rec.client
		rec.client = nil
	}
	rec.session.QRCode = ""

	if err := m.attachClientLocked(rec, fx); err != nil {
		logrus.WithError(err).Errorf("[SESSION_MANAGER] Failed to create client for %s", rec.session.ID)
		m.failLocked(rec, err.Error(), false, fx)
		return
	}
	rec.session.Health = session.HealthStarting
	id, gen := rec.session.ID, rec.gen
	rec.timers.armInit(m.cfg.InitTimeout, func() { m.onInitTimeout(id, gen) })
	m.setStatusLocked(rec, session.StatusInitializing, fx, message)
}

// startClient runs Start outside the lock and routes its failure by class.
func (m *Manager) startClient(id string, gen uint64, client session.MessagingClient) {
	err := client.Start(m.ctx)
	if err == nil {
		return
	}
	logrus.WithError(err).Errorf("[SESSION_MANAGER] Client start failed for %s", id)

	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || rec.gen != gen || rec.client == nil {
		m.mu.Unlock()
		return
	}
	fx := m.newEffects(rec)
	switch {
	case rec.fastPath:
		m.fallbackLocked(rec, fx, err.Error())
	case pkgError.IsConnectionLost(err):
		m.mu.Unlock()
		m.disconnect(id, gen, err.Error())
		return
	default:
		m.failLocked(rec, pkgError.NewTransientError("start client", err).Error(), true, fx)
	}
	m.mu.Unlock()

	m.apply(fx)
}

// destroyClient tears a client down within DestroyGrace. A client that does
// not return in time is abandoned.
func (m *Manager) destroyClient(client session.MessagingClient, id string, logout bool) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DestroyGrace)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		if logout {
			if err := client.Logout(ctx); err != nil {
				logrus.WithError(err).Warnf("[SESSION_MANAGER] Logout of %s failed, destroying instead", id)
				done <- client.Destroy(ctx)
				return
			}
			done <- nil
			return
		}
		done <- client.Destroy(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			logrus.WithError(err).Warnf("[SESSION_MANAGER] Client teardown of %s reported an error", id)
		}
	case <-ctx.Done():
		logrus.Warnf("[SESSION_MANAGER] Client of %s force-terminated after %s", id, m.cfg.DestroyGrace)
	}
}
