package msgworker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	coreconfig "github.com/AzielCF/az-wap-broadcast/core/config"
	pkgError "github.com/AzielCF/az-wap-broadcast/pkg/error"
	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	mu        sync.Mutex
	failures  map[string]int           // target -> remaining failures (-1 = always)
	delays    map[string]time.Duration // target -> time spent inside Send
	sent      []string
	startedAt map[string]time.Time
}

func (c *scriptedClient) Start(ctx context.Context) error { return nil }
func (c *scriptedClient) ListGroups(ctx context.Context) ([]session.Group, error) {
	return nil, nil
}
func (c *scriptedClient) Destroy(ctx context.Context) error { return nil }
func (c *scriptedClient) Logout(ctx context.Context) error  { return nil }

func (c *scriptedClient) Send(ctx context.Context, target string, payload session.Payload) (session.Receipt, error) {
	c.mu.Lock()
	if c.startedAt == nil {
		c.startedAt = map[string]time.Time{}
	}
	c.startedAt[target] = time.Now()
	delay := c.delays[target]
	c.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.failures[target]; ok && n != 0 {
		if n > 0 {
			c.failures[target] = n - 1
		}
		return session.Receipt{}, errors.New("send failed: " + target)
	}
	c.sent = append(c.sent, target)
	return session.Receipt{MessageID: "msg-" + target, Timestamp: time.Now()}, nil
}

func (c *scriptedClient) started(target string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt[target]
}

func (c *scriptedClient) sentTargets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type fakeResolver struct {
	mu      sync.Mutex
	clients map[string]session.MessagingClient
	counts  map[string]int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{clients: map[string]session.MessagingClient{}, counts: map[string]int{}}
}

func (r *fakeResolver) ResolveClient(id string) (session.MessagingClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, pkgError.ErrSessionNotConnected
	}
	return c, nil
}

func (r *fakeResolver) sentCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[id]
}

func (r *fakeResolver) RecordSent(id string) {
	r.mu.Lock()
	r.counts[id]++
	r.mu.Unlock()
}

type mockLogStore struct {
	mock.Mock
}

func (m *mockLogStore) Append(ctx context.Context, rec session.DeliveryRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

type collectingNotifier struct {
	mu    sync.Mutex
	notes []session.Notification
}

func (c *collectingNotifier) Notify(n session.Notification) {
	c.mu.Lock()
	c.notes = append(c.notes, n)
	c.mu.Unlock()
}

func (c *collectingNotifier) byCode(code session.NotificationCode) []session.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []session.Notification
	for _, n := range c.notes {
		if n.Code == code {
			out = append(out, n)
		}
	}
	return out
}

func testDeliveryConfig() coreconfig.DeliveryConfig {
	return coreconfig.DeliveryConfig{
		InterTaskDelay: 5 * time.Millisecond,
		RetryDelay:     50 * time.Millisecond,
		MaxAttempts:    2,
		SendTimeout:    time.Second,
	}
}

func newTestQueue(t *testing.T, resolver SessionResolver) (*Queue, *mockLogStore, *collectingNotifier) {
	t.Helper()
	logs := new(mockLogStore)
	logs.On("Append", mock.Anything, mock.Anything).Return(nil)
	notifier := &collectingNotifier{}
	q := NewQueue(testDeliveryConfig(), resolver, logs, NewCampaignTracker(notifier), notifier)
	t.Cleanup(q.Stop)
	return q, logs, notifier
}

func enqueue(t *testing.T, q *Queue, sessionID, target, campaignID string) {
	t.Helper()
	_, err := q.Enqueue(EnqueueRequest{
		SessionID:     sessionID,
		Owner:         "operator",
		TargetGroupID: target,
		Payload:       session.Payload{Text: "hola"},
		CampaignID:    campaignID,
	})
	require.NoError(t, err)
}

func TestQueue_RetriedTaskDoesNotBlockOthers(t *testing.T) {
	client := &scriptedClient{failures: map[string]int{"B": 1}}
	resolver := newFakeResolver()
	resolver.clients["S1"] = client
	q, logs, notifier := newTestQueue(t, resolver)

	for _, target := range []string{"A", "B", "C"} {
		enqueue(t, q, "S1", target, "")
	}

	require.Eventually(t, func() bool {
		return len(notifier.byCode(session.NotifyMessageSent)) == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"A", "C", "B"}, client.sentTargets())

	stats := q.Stats()
	assert.Equal(t, int64(3), stats.Sent)
	assert.Equal(t, int64(1), stats.Retried)
	assert.Equal(t, int64(0), stats.Failed)
	assert.Equal(t, 3, resolver.sentCount("S1"))

	logs.AssertNumberOfCalls(t, "Append", 3)
	logs.AssertCalled(t, "Append", mock.Anything, mock.MatchedBy(func(r session.DeliveryRecord) bool {
		return r.TargetGroupID == "B" && r.AttemptCount == 2 && r.Status == session.DeliverySent
	}))
}

func TestQueue_NotConnectedFailsWithoutRetry(t *testing.T) {
	q, logs, notifier := newTestQueue(t, newFakeResolver())

	enqueue(t, q, "ghost", "A", "")

	require.Eventually(t, func() bool {
		return len(notifier.byCode(session.NotifyMessageFailed)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), q.Stats().Retried)

	failed := notifier.byCode(session.NotifyMessageFailed)
	assert.False(t, failed[0].CanRetry)
	assert.Equal(t, "session not connected", failed[0].Message)
	logs.AssertCalled(t, "Append", mock.Anything, mock.MatchedBy(func(r session.DeliveryRecord) bool {
		return r.Status == session.DeliveryFailed && r.AttemptCount == 1
	}))
}

func TestQueue_ExhaustedRetriesFailOnce(t *testing.T) {
	client := &scriptedClient{failures: map[string]int{"A": -1}}
	resolver := newFakeResolver()
	resolver.clients["S1"] = client
	q, _, notifier := newTestQueue(t, resolver)

	enqueue(t, q, "S1", "A", "")

	require.Eventually(t, func() bool {
		return len(notifier.byCode(session.NotifyMessageFailed)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	stats := q.Stats()
	assert.Equal(t, int64(1), stats.Retried)
	assert.Equal(t, int64(1), stats.Processed)
	require.Len(t, notifier.byCode(session.NotifyMessageFailed), 1)
}

func TestQueue_CampaignCompletesDespiteFailure(t *testing.T) {
	client := &scriptedClient{failures: map[string]int{"g3": -1}}
	resolver := newFakeResolver()
	resolver.clients["S1"] = client
	q, _, notifier := newTestQueue(t, resolver)

	campaignID, err := q.Tracker().Create("operator", "S1", 5)
	require.NoError(t, err)
	for _, target := range []string{"g1", "g2", "g3", "g4", "g5"} {
		enqueue(t, q, "S1", target, campaignID)
	}

	require.Eventually(t, func() bool {
		return len(notifier.byCode(session.NotifyCampaignCompleted)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	done := notifier.byCode(session.NotifyCampaignCompleted)[0]
	summary := done.Data.(map[string]any)["summary"].(map[string]int)
	assert.Equal(t, map[string]int{"total": 5, "success": 4, "failed": 1}, summary)
	assert.Len(t, notifier.byCode(session.NotifyCampaignProgress), 5)
	assert.Empty(t, notifier.byCode(session.NotifyMessageSent), "campaign tasks report through the tracker")

	_, active := q.Tracker().Get(campaignID)
	assert.False(t, active)
}

func TestQueue_RestartsAfterIdle(t *testing.T) {
	client := &scriptedClient{}
	resolver := newFakeResolver()
	resolver.clients["S1"] = client
	q, _, _ := newTestQueue(t, resolver)

	enqueue(t, q, "S1", "A", "")
	require.Eventually(t, func() bool {
		s := q.Stats()
		return s.Sent == 1 && s.Mode == ModeIdle
	}, time.Second, 5*time.Millisecond)

	enqueue(t, q, "S1", "B", "")
	require.Eventually(t, func() bool { return q.Stats().Sent == 2 }, time.Second, 5*time.Millisecond)
}

func TestQueue_HonoursNotBefore(t *testing.T) {
	client := &scriptedClient{}
	resolver := newFakeResolver()
	resolver.clients["S1"] = client
	q, _, _ := newTestQueue(t, resolver)

	_, err := q.Enqueue(EnqueueRequest{SessionID: "S1", TargetGroupID: "late", NotBefore: time.Now().Add(150 * time.Millisecond)})
	require.NoError(t, err)
	enqueue(t, q, "S1", "early", "")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []string{"early"}, client.sentTargets())
	require.Eventually(t, func() bool { return len(client.sentTargets()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestQueue_StopRejectsNewTasks(t *testing.T) {
	q, _, _ := newTestQueue(t, newFakeResolver())
	_, err := q.Enqueue(EnqueueRequest{SessionID: "S1", TargetGroupID: "A", NotBefore: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	q.Stop()

	_, err = q.Enqueue(EnqueueRequest{SessionID: "S1", TargetGroupID: "B"})
	assert.ErrorIs(t, err, ErrQueueStopped)
	assert.Equal(t, 0, q.Stats().Pending)
}

func TestQueue_CampaignSpacingSurvivesBacklog(t *testing.T) {
	client := &scriptedClient{delays: map[string]time.Duration{"blocker": 400 * time.Millisecond}}
	resolver := newFakeResolver()
	resolver.clients["S1"] = client
	q, _, notifier := newTestQueue(t, resolver)

	enqueue(t, q, "S1", "blocker", "")

	campaignID, err := q.Tracker().Create("operator", "S1", 3)
	require.NoError(t, err)
	spacing := 100 * time.Millisecond
	now := time.Now()
	for i, target := range []string{"g1", "g2", "g3"} {
		_, err := q.Enqueue(EnqueueRequest{
			SessionID:     "S1",
			Owner:         "operator",
			TargetGroupID: target,
			Payload:       session.Payload{Text: "promo"},
			CampaignID:    campaignID,
			NotBefore:     now.Add(time.Duration(i) * spacing),
			Spacing:       spacing,
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return len(notifier.byCode(session.NotifyCampaignCompleted)) == 1
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"blocker", "g1", "g2", "g3"}, client.sentTargets())

	// The schedule was overdue once the blocker finished; spacing still holds.
	assert.GreaterOrEqual(t, client.started("g2").Sub(client.started("g1")), spacing)
	assert.GreaterOrEqual(t, client.started("g3").Sub(client.started("g2")), spacing)

	q.mu.Lock()
	assert.Empty(t, q.lastSend, "completed campaigns are forgotten")
	q.mu.Unlock()
}

func TestQueue_SpacingDoesNotDelayOtherTasks(t *testing.T) {
	client := &scriptedClient{}
	resolver := newFakeResolver()
	resolver.clients["S1"] = client
	q, _, notifier := newTestQueue(t, resolver)

	campaignID, err := q.Tracker().Create("operator", "S1", 2)
	require.NoError(t, err)
	for _, target := range []string{"g1", "g2"} {
		_, err := q.Enqueue(EnqueueRequest{SessionID: "S1", TargetGroupID: target, CampaignID: campaignID, Spacing: 300 * time.Millisecond})
		require.NoError(t, err)
	}
	enqueue(t, q, "S1", "single", "")

	require.Eventually(t, func() bool {
		return len(notifier.byCode(session.NotifyMessageSent)) == 1
	}, 200*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, []string{"g1", "single"}, client.sentTargets())

	require.Eventually(t, func() bool {
		return len(notifier.byCode(session.NotifyCampaignCompleted)) == 1
	}, 2*time.Second, 5*time.Millisecond)
}
