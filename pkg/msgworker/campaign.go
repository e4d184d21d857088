package msgworker

import (
	"strings"
	"sync"
	"time"

	pkgError "github.com/AzielCF/az-wap-broadcast/pkg/error"
	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Result is the terminal outcome of one campaign task.
type Result struct {
	TaskID        string                 `json:"task_id"`
	TargetGroupID string                 `json:"target_group_id"`
	Status        session.DeliveryStatus `json:"status"`
	Error         string                 `json:"error,omitempty"`
	MessageID     string                 `json:"message_id,omitempty"`
	At            time.Time              `json:"at"`
}

// Campaign aggregates the tasks of one bulk send.
type Campaign struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"`
	SessionID  string    `json:"session_id"`
	TotalTasks int       `json:"total_tasks"`
	Completed  int       `json:"completed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Results    []Result  `json:"results"`
	StartedAt  time.Time `json:"started_at"`

	recorded map[string]bool
}

func (c *Campaign) clone() *Campaign {
	out := *c
	out.Results = append([]Result(nil), c.Results...)
	out.recorded = nil
	return &out
}

type Progress struct {
	CampaignID string `json:"campaign_id"`
	Total      int    `json:"total"`
	Completed  int    `json:"completed"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
}

// CompletionReport is produced once per campaign, when its last task settles.
type CompletionReport struct {
	CampaignID   string        `json:"campaign_id"`
	SessionID    string        `json:"session_id"`
	Owner        string        `json:"owner"`
	Total        int           `json:"total"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	Duration     time.Duration `json:"duration"`
	DurationText string        `json:"duration_text"`
	Results      []Result      `json:"results"`
}

// CampaignTracker counts campaign outcomes and discards each campaign exactly
// once, when completed reaches the total.
type CampaignTracker struct {
	mu        sync.Mutex
	campaigns map[string]*Campaign
	notifier  session.Notifier
}

func NewCampaignTracker(notifier session.Notifier) *CampaignTracker {
	if notifier == nil {
		notifier = session.NopNotifier{}
	}
	return &CampaignTracker{
		campaigns: make(map[string]*Campaign),
		notifier:  notifier,
	}
}

// Create registers a campaign of total tasks and returns its id.
func (t *CampaignTracker) Create(owner, sessionID string, total int) (string, error) {
	if total <= 0 {
		return "", pkgError.ErrNoGroupsSelected
	}
	c := &Campaign{
		ID:         uuid.NewString(),
		Owner:      owner,
		SessionID:  sessionID,
		TotalTasks: total,
		Results:    make([]Result, 0, total),
		StartedAt:  time.Now(),
		recorded:   make(map[string]bool, total),
	}

	t.mu.Lock()
	t.campaigns[c.ID] = c
	t.mu.Unlock()

	logrus.Infof("[DELIVERY_QUEUE] Campaign %s started with %d targets (session %s)", c.ID, total, sessionID)
	return c.ID, nil
}

// Record folds one terminal result into its campaign. A task id is counted at
// most once; results for unknown or finished campaigns are ignored.
func (t *CampaignTracker) Record(campaignID string, res Result) (Progress, *CompletionReport) {
	t.mu.Lock()
	c, ok := t.campaigns[campaignID]
	if !ok {
		t.mu.Unlock()
		logrus.Debugf("[DELIVERY_QUEUE] Result for unknown campaign %s ignored", campaignID)
		return Progress{CampaignID: campaignID}, nil
	}
	if res.TaskID != "" {
		if c.recorded[res.TaskID] {
			t.mu.Unlock()
			return progressOf(c), nil
		}
		c.recorded[res.TaskID] = true
	}

	c.Completed++
	if res.Status == session.DeliverySent {
		c.Succeeded++
	} else {
		c.Failed++
	}
	c.Results = append(c.Results, res)
	progress := progressOf(c)

	var report *CompletionReport
	if c.Completed >= c.TotalTasks {
		delete(t.campaigns, campaignID)
		elapsed := time.Since(c.StartedAt)
		report = &CompletionReport{
			CampaignID:   c.ID,
			SessionID:    c.SessionID,
			Owner:        c.Owner,
			Total:        c.TotalTasks,
			Succeeded:    c.Succeeded,
			Failed:       c.Failed,
			Duration:     elapsed,
			DurationText: strings.TrimSpace(humanize.RelTime(c.StartedAt, time.Now(), "", "")),
			Results:      append([]Result(nil), c.Results...),
		}
	}
	owner, sessionID := c.Owner, c.SessionID
	t.mu.Unlock()

	t.notifier.Notify(session.Notification{
		Code:      session.NotifyCampaignProgress,
		SessionID: sessionID,
		Owner:     owner,
		Message:   res.Error,
		Data:      progress,
		At:        time.Now().UTC(),
	})
	if report != nil {
		t.notifier.Notify(session.Notification{
			Code:      session.NotifyCampaignCompleted,
			SessionID: sessionID,
			Owner:     owner,
			Message:   "Campaign completed in " + report.DurationText,
			Data: map[string]any{
				"campaign_id": report.CampaignID,
				"summary": map[string]int{
					"total":   report.Total,
					"success": report.Succeeded,
					"failed":  report.Failed,
				},
				"results": report.Results,
			},
			At: time.Now().UTC(),
		})
		logrus.Infof("[DELIVERY_QUEUE] Campaign %s completed: %d/%d sent, %d failed", report.CampaignID, report.Succeeded, report.Total, report.Failed)
	}
	return progress, report
}

func progressOf(c *Campaign) Progress {
	return Progress{
		CampaignID: c.ID,
		Total:      c.TotalTasks,
		Completed:  c.Completed,
		Succeeded:  c.Succeeded,
		Failed:     c.Failed,
	}
}

// Get returns a copy of an active campaign.
func (t *CampaignTracker) Get(id string) (*Campaign, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.campaigns[id]
	if !ok {
		return nil, false
	}
	return c.clone(), true
}

// Active returns the number of campaigns still running.
func (t *CampaignTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.campaigns)
}
