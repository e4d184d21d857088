package application

import (
	"encoding/base64"
	"fmt"

	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"
)

const qrExpiredReason = "QR expired"

// renderQR converts the raw pairing challenge into a PNG data URL.
func renderQR(raw string) (string, error) {
	png, err := qrcode.Encode(raw, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("failed to encode qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// IssueQR publishes a new pairing QR for the current client of a session and
// re-arms the single QR expiry timer.
func (m *Manager) IssueQR(id, raw string) error {
	return m.issueQR(id, 0, raw)
}

func (m *Manager) issueQR(id string, gen uint64, raw string) error {
	artifact, err := renderQR(raw)
	if err != nil {
		return err
	}

	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return errSessionNotFound
	}
	if gen != 0 && (rec.gen != gen || rec.client == nil) {
		m.mu.Unlock()
		return nil
	}
	if _, valid := nextStatus(rec.session.Status, session.EventCredentialChallenge); !valid {
		status := rec.session.Status
		m.mu.Unlock()
		logrus.Debugf("[SESSION_MANAGER] Ignoring QR for %s in status %s", id, status)
		return nil
	}

	fx := m.newEffects(rec)

	// The QR timer supervises pairing from here on.
	rec.timers.stopInit()
	rec.fastPath = false
	rec.qrSeq++
	seq, g := rec.qrSeq, rec.gen
	rec.timers.armQR(m.cfg.QRExpiry, func() { m.onQRExpired(id, g, seq) })

	rec.session.QRCode = artifact
	m.setStatusLocked(rec, session.StatusQRPending, fx, "")
	fx.notes = append(fx.notes, m.note(rec, session.NotifyQRCode, "Scan the QR code", map[string]any{
		"qr_code":    artifact,
		"expires_in": m.cfg.QRExpiry.Seconds(),
	}))
	m.mu.Unlock()

	m.apply(fx)
	logrus.Infof("[SESSION_MANAGER] QR issued for session %s", id)
	return nil
}

func (m *Manager) onQRExpired(id string, gen, seq uint64) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || rec.gen != gen || rec.qrSeq != seq || rec.session.Status != session.StatusQRPending {
		m.mu.Unlock()
		return
	}
	fx := m.newEffects(rec)
	m.failLocked(rec, qrExpiredReason, false, fx)
	m.mu.Unlock()

	m.apply(fx)
	logrus.Warnf("[SESSION_MANAGER] QR expired for session %s", id)
}
