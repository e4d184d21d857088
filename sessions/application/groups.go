package application

import (
	"context"
	"time"

	pkgError "github.com/AzielCF/az-wap-broadcast/pkg/error"
	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"github.com/sirupsen/logrus"
)

const groupsExhaustedMessage = "Unable to load groups after multiple attempts. Try reconnecting the session."

// FetchAndCacheGroups loads the groups of a connected session with bounded
// retries. Cached groups are left untouched when every attempt fails.
func (m *Manager) FetchAndCacheGroups(ctx context.Context, id string) error {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return errSessionNotFound
	}
	if rec.session.Status != session.StatusConnected || rec.client == nil {
		m.mu.Unlock()
		return errSessionNotConnected
	}
	client, gen := rec.client, rec.gen
	m.mu.Unlock()

	var lastErr error
fetch:
	for attempt := 1; attempt <= m.cfg.GroupFetchAttempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, m.cfg.GroupFetchTimeout)
		groups, err := client.ListGroups(actx)
		cancel()
		if err == nil {
			m.storeGroups(id, gen, groups)
			return nil
		}
		lastErr = err
		logrus.WithError(err).Warnf("[SESSION_MANAGER] Group fetch attempt %d/%d failed for %s", attempt, m.cfg.GroupFetchAttempts, id)

		if pkgError.IsConnectionLost(err) || attempt == m.cfg.GroupFetchAttempts {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			break fetch
		case <-time.After(m.cfg.GroupFetchBackoff):
		}
	}

	m.mu.Lock()
	if rec, ok := m.records[id]; ok && rec.gen == gen {
		n := m.note(rec, session.NotifyGroupsError, groupsExhaustedMessage, nil)
		n.CanRetry = true
		m.mu.Unlock()
		m.notifier.Notify(n)
	} else {
		m.mu.Unlock()
	}

	if pkgError.IsConnectionLost(lastErr) {
		m.disconnect(id, gen, lastErr.Error())
	}
	return pkgError.NewTransientError("list groups", lastErr)
}

// RefreshGroups starts a background fetch for a session of owner.
func (m *Manager) RefreshGroups(id, owner string) error {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || rec.session.Owner != owner {
		m.mu.Unlock()
		return errSessionNotFound
	}
	if rec.session.Status != session.StatusConnected {
		m.mu.Unlock()
		return errSessionNotConnected
	}
	m.mu.Unlock()

	go func() {
		if err := m.FetchAndCacheGroups(m.ctx, id); err != nil {
			logrus.WithError(err).Warnf("[SESSION_MANAGER] Group refresh failed for %s", id)
		}
	}()
	return nil
}

// storeGroups replaces the group list of the client generation that fetched it.
// Selection flags survive for groups that are still present.
func (m *Manager) storeGroups(id string, gen uint64, groups []session.Group) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || rec.gen != gen {
		m.mu.Unlock()
		return
	}

	selected := make(map[string]bool, len(rec.session.Groups))
	for _, g := range rec.session.Groups {
		if g.IsSelected {
			selected[g.ID] = true
		}
	}
	fresh := session.CloneGroups(groups)
	if fresh == nil {
		fresh = []session.Group{}
	}
	for i := range fresh {
		fresh[i].IsSelected = selected[fresh[i].ID]
	}
	session.SortByActivity(fresh)

	fx := m.newEffects(rec)
	rec.session.Groups = fresh
	rec.session.GroupsLoaded = true
	rec.session.LastActivity = time.Now().UTC()
	m.snapshotLocked(rec, fx)
	fx.notes = append(fx.notes, m.groupsNote(rec, false))
	m.mu.Unlock()

	m.apply(fx)
	logrus.Infof("[SESSION_MANAGER] Cached %d groups for session %s", len(fresh), id)
}

// Groups returns the cached groups of a session of owner.
func (m *Manager) Groups(id, owner string) ([]session.Group, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.session.Owner != owner {
		return nil, false, errSessionNotFound
	}
	return session.CloneGroups(rec.session.Groups), rec.session.GroupsLoaded, nil
}

// ToggleGroup flips the selection flag of one group.
func (m *Manager) ToggleGroup(ctx context.Context, id, owner, groupID string) (session.Group, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || rec.session.Owner != owner {
		m.mu.Unlock()
		return session.Group{}, errSessionNotFound
	}
	idx := -1
	for i := range rec.session.Groups {
		if rec.session.Groups[i].ID == groupID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return session.Group{}, pkgError.NotFoundError("group not found")
	}

	fx := m.newEffects(rec)
	rec.session.Groups[idx].IsSelected = !rec.session.Groups[idx].IsSelected
	group := rec.session.Groups[idx]
	m.snapshotLocked(rec, fx)
	fx.notes = append(fx.notes, m.note(rec, session.NotifyGroupUpdate, "", map[string]any{
		"group_id":    group.ID,
		"is_selected": group.IsSelected,
	}))
	m.mu.Unlock()

	m.apply(fx)
	return group, nil
}
