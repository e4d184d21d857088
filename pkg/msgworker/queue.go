package msgworker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	coreconfig "github.com/AzielCF/az-wap-broadcast/core/config"
	pkgError "github.com/AzielCF/az-wap-broadcast/pkg/error"
	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const logWriteTimeout = 5 * time.Second

var ErrQueueStopped = errors.New("delivery queue stopped")

type Mode string

const (
	ModeIdle     Mode = "idle"
	ModeDraining Mode = "draining"
)

// QueueStats contiene métricas en tiempo real de la cola
type QueueStats struct {
	Mode      Mode   `json:"mode"`
	Pending   int    `json:"pending"`
	Processed int64  `json:"processed"`
	Sent      int64  `json:"sent"`
	Failed    int64  `json:"failed"`
	Retried   int64  `json:"retried"`
	Campaigns int    `json:"active_campaigns"`
	Summary   string `json:"summary"`
}

// Queue is the single global delivery queue. One worker drains it while it has
// tasks and goes idle once it is empty, so sends never overlap across sessions.
type Queue struct {
	cfg      coreconfig.DeliveryConfig
	resolver SessionResolver
	logs     session.DeliveryLogStore
	tracker  *CampaignTracker
	notifier session.Notifier

	mu       sync.Mutex
	tasks    []*Task
	lastSend map[string]time.Time // campaign id -> end of its latest send
	mode     Mode
	stopped bool
	wake    chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	stopOne sync.Once

	processed int64
	sent      int64
	failed    int64
	retried   int64
}

func NewQueue(cfg coreconfig.DeliveryConfig, resolver SessionResolver, logs session.DeliveryLogStore, tracker *CampaignTracker, notifier session.Notifier) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 60 * time.Second
	}
	if cfg.InterTaskDelay < 0 {
		cfg.InterTaskDelay = 0
	}
	if notifier == nil {
		notifier = session.NopNotifier{}
	}
	if tracker == nil {
		tracker = NewCampaignTracker(notifier)
	}
	return &Queue{
		cfg:      cfg,
		resolver: resolver,
		logs:     logs,
		tracker:  tracker,
		notifier: notifier,
		lastSend: make(map[string]time.Time),
		mode:     ModeIdle,
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// Tracker returns the campaign tracker fed by this queue.
func (q *Queue) Tracker() *CampaignTracker {
	return q.tracker
}

// Enqueue adds a task and returns its id. It never blocks on delivery.
func (q *Queue) Enqueue(req EnqueueRequest) (string, error) {
	task := &Task{
		ID:            uuid.NewString(),
		SessionID:     req.SessionID,
		Owner:         req.Owner,
		TargetGroupID: req.TargetGroupID,
		Payload:       req.Payload,
		CampaignID:    req.CampaignID,
		EnqueuedAt:    time.Now(),
		NotBefore:     req.NotBefore,
		Spacing:       req.Spacing,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return "", ErrQueueStopped
	}
	q.insertLocked(task)
	q.kickLocked()
	return task.ID, nil
}

// insertLocked keeps tasks ordered by ready time; equal keys keep insertion order.
func (q *Queue) insertLocked(t *Task) {
	ready := t.readyAt()
	idx := sort.Search(len(q.tasks), func(i int) bool {
		return q.tasks[i].readyAt().After(ready)
	})
	q.tasks = append(q.tasks, nil)
	copy(q.tasks[idx+1:], q.tasks[idx:])
	q.tasks[idx] = t
}

// kickLocked starts the worker when idle, or wakes it when it waits on a future task.
func (q *Queue) kickLocked() {
	if q.mode == ModeIdle {
		q.mode = ModeDraining
		q.wg.Add(1)
		go q.drain()
		return
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) drain() {
	defer q.wg.Done()
	logrus.Debug("[DELIVERY_QUEUE] Worker started")

	for {
		q.mu.Lock()
		if q.stopped || len(q.tasks) == 0 {
			q.mode = ModeIdle
			q.mu.Unlock()
			logrus.Debug("[DELIVERY_QUEUE] Queue empty, worker idle")
			return
		}
		head := q.tasks[0]
		if wait := time.Until(head.readyAt()); wait > 0 {
			q.mu.Unlock()
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-q.wake:
			case <-q.stopCh:
			}
			timer.Stop()
			continue
		}
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		if next, early := q.spacedLocked(head); early {
			head.NotBefore = next
			q.insertLocked(head)
			q.mu.Unlock()
			continue
		}
		q.mu.Unlock()

		q.process(head)

		if q.cfg.InterTaskDelay > 0 {
			select {
			case <-time.After(q.cfg.InterTaskDelay):
			case <-q.stopCh:
			}
		}
	}
}

// spacedLocked reports whether t would follow the previous send of its
// campaign too closely, and when it may go instead.
func (q *Queue) spacedLocked(t *Task) (time.Time, bool) {
	if t.CampaignID == "" || t.Spacing <= 0 {
		return time.Time{}, false
	}
	last, ok := q.lastSend[t.CampaignID]
	if !ok {
		return time.Time{}, false
	}
	next := last.Add(t.Spacing)
	return next, next.After(time.Now())
}

func (q *Queue) markSent(t *Task) {
	if t.CampaignID == "" {
		return
	}
	q.mu.Lock()
	if !q.stopped {
		q.lastSend[t.CampaignID] = time.Now()
	}
	q.mu.Unlock()
}

func (q *Queue) process(t *Task) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("[DELIVERY_QUEUE] Panic while processing task %s: %v", t.ID, r)
			q.finish(t, session.Receipt{}, errors.New("internal error while sending"))
		}
	}()

	t.AttemptCount++
	client, err := q.resolver.ResolveClient(t.SessionID)
	if err != nil {
		// Missing or disconnected sessions are not retried.
		q.finish(t, session.Receipt{}, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.SendTimeout)
	receipt, err := client.Send(ctx, t.TargetGroupID, t.Payload)
	cancel()
	q.markSent(t)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = pkgError.NewTransientError("send", err)
	}

	if err != nil && t.AttemptCount < q.cfg.MaxAttempts {
		t.NotBefore = time.Now().Add(q.cfg.RetryDelay)
		atomic.AddInt64(&q.retried, 1)
		logrus.WithError(err).Warnf("[DELIVERY_QUEUE] Send to %s failed (attempt %d/%d), retrying in %s",
			t.TargetGroupID, t.AttemptCount, q.cfg.MaxAttempts, q.cfg.RetryDelay)

		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			q.finish(t, session.Receipt{}, err)
			return
		}
		q.insertLocked(t)
		q.mu.Unlock()
		return
	}
	q.finish(t, receipt, err)
}

// finish records the terminal outcome of a task exactly once.
func (q *Queue) finish(t *Task, receipt session.Receipt, sendErr error) {
	atomic.AddInt64(&q.processed, 1)

	record := session.DeliveryRecord{
		TaskID:         t.ID,
		SessionID:      t.SessionID,
		Owner:          t.Owner,
		TargetGroupID:  t.TargetGroupID,
		PayloadSummary: t.Payload.Summary(),
		AttemptCount:   t.AttemptCount,
		CampaignID:     t.CampaignID,
		Timestamp:      time.Now().UTC(),
	}
	n := session.Notification{
		SessionID: t.SessionID,
		Owner:     t.Owner,
		At:        record.Timestamp,
	}
	result := Result{TaskID: t.ID, TargetGroupID: t.TargetGroupID, At: record.Timestamp}

	if sendErr == nil {
		atomic.AddInt64(&q.sent, 1)
		q.resolver.RecordSent(t.SessionID)
		record.Status = session.DeliverySent
		record.MessageID = receipt.MessageID
		n.Code = session.NotifyMessageSent
		n.Message = "Message sent"
		n.Data = map[string]any{"task_id": t.ID, "group_id": t.TargetGroupID, "message_id": receipt.MessageID}
		result.Status = session.DeliverySent
		result.MessageID = receipt.MessageID
		logrus.Infof("[DELIVERY_QUEUE] Sent task %s to %s (session %s)", t.ID, t.TargetGroupID, t.SessionID)
	} else {
		atomic.AddInt64(&q.failed, 1)
		record.Status = session.DeliveryFailed
		record.Error = sendErr.Error()
		n.Code = session.NotifyMessageFailed
		n.Message = sendErr.Error()
		n.CanRetry = pkgError.CanRetry(sendErr)
		n.Data = map[string]any{"task_id": t.ID, "group_id": t.TargetGroupID, "attempts": t.AttemptCount}
		result.Status = session.DeliveryFailed
		result.Error = sendErr.Error()
		logrus.WithError(sendErr).Errorf("[DELIVERY_QUEUE] Task %s to %s failed after %d attempt(s)", t.ID, t.TargetGroupID, t.AttemptCount)
	}

	if q.logs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), logWriteTimeout)
		if err := q.logs.Append(ctx, record); err != nil {
			logrus.WithError(pkgError.NewStorageError("append delivery", err)).Error("[DELIVERY_QUEUE] Failed to write delivery log")
		}
		cancel()
	}

	// Campaign tasks report through the tracker only.
	if t.CampaignID != "" {
		if _, report := q.tracker.Record(t.CampaignID, result); report != nil {
			q.mu.Lock()
			delete(q.lastSend, t.CampaignID)
			q.mu.Unlock()
		}
		return
	}
	q.notifier.Notify(n)
}

// Stats returns a point-in-time view of the queue.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	mode, pending := q.mode, len(q.tasks)
	q.mu.Unlock()

	stats := QueueStats{
		Mode:      mode,
		Pending:   pending,
		Processed: atomic.LoadInt64(&q.processed),
		Sent:      atomic.LoadInt64(&q.sent),
		Failed:    atomic.LoadInt64(&q.failed),
		Retried:   atomic.LoadInt64(&q.retried),
		Campaigns: q.tracker.Active(),
	}
	stats.Summary = humanize.Comma(stats.Sent) + " sent, " + humanize.Comma(stats.Failed) + " failed, " +
		humanize.Comma(int64(stats.Pending)) + " pending"
	return stats
}

// Stop lets the in-flight task finish, then abandons whatever is still pending.
func (q *Queue) Stop() {
	q.stopOne.Do(func() {
		q.mu.Lock()
		q.stopped = true
		pending := len(q.tasks)
		q.tasks = nil
		q.lastSend = make(map[string]time.Time)
		q.mu.Unlock()

		close(q.stopCh)
		logrus.Info("[DELIVERY_QUEUE] Stopping worker...")
		q.wg.Wait()
		if pending > 0 {
			logrus.Warnf("[DELIVERY_QUEUE] Abandoned %d pending task(s) on shutdown", pending)
		}
		logrus.Info("[DELIVERY_QUEUE] Worker stopped")
	})
}
