package usecase

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	coreconfig "github.com/AzielCF/az-wap-broadcast/core/config"
	domainBroadcast "github.com/AzielCF/az-wap-broadcast/domains/broadcast"
	pkgError "github.com/AzielCF/az-wap-broadcast/pkg/error"
	"github.com/AzielCF/az-wap-broadcast/pkg/msgworker"
	"github.com/AzielCF/az-wap-broadcast/pkg/utils"
	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSessions struct {
	sessions map[string]*session.Session
}

func (s stubSessions) Get(id, owner string) (*session.Session, error) {
	sess, ok := s.sessions[id]
	if !ok || sess.Owner != owner {
		return nil, pkgError.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

type okClient struct{}

func (okClient) Start(ctx context.Context) error                         { return nil }
func (okClient) ListGroups(ctx context.Context) ([]session.Group, error) { return nil, nil }
func (okClient) Destroy(ctx context.Context) error                       { return nil }
func (okClient) Logout(ctx context.Context) error                        { return nil }
func (okClient) Send(ctx context.Context, target string, payload session.Payload) (session.Receipt, error) {
	return session.Receipt{MessageID: "m1", Timestamp: time.Now()}, nil
}

type okResolver struct{}

func (okResolver) ResolveClient(string) (session.MessagingClient, error) { return okClient{}, nil }
func (okResolver) RecordSent(string)                                     {}

func newTestService(t *testing.T) (*serviceBroadcast, *msgworker.Queue) {
	t.Helper()
	cfg := coreconfig.DeliveryConfig{
		InterTaskDelay: time.Millisecond,
		RetryDelay:     10 * time.Millisecond,
		MaxAttempts:    2,
		SendTimeout:    time.Second,
		DefaultStagger: time.Hour,
	}
	queue := msgworker.NewQueue(cfg, okResolver{}, nil, nil, nil)
	t.Cleanup(queue.Stop)

	sessions := stubSessions{sessions: map[string]*session.Session{
		"S1": {
			ID: "S1", Owner: "operator", Status: session.StatusConnected,
			Groups: []session.Group{
				{ID: "1@g.us", IsSelected: true},
				{ID: "2@g.us"},
				{ID: "3@g.us", IsSelected: true},
			},
		},
		"S2": {ID: "S2", Owner: "operator", Status: session.StatusQRPending},
	}}
	service := NewBroadcastService(sessions, queue, nil, cfg, t.TempDir()).(*serviceBroadcast)
	service.jitter = nil
	return service, queue
}

func TestSendBulk_UsesSelectedGroups(t *testing.T) {
	service, queue := newTestService(t)

	res, err := service.SendBulk(context.Background(), domainBroadcast.BulkSendRequest{
		SessionID: "S1", Owner: "operator", UseSelected: true, Text: "promo",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Total)
	assert.Len(t, res.TaskIDs, 2)
	assert.Equal(t, "1h0m0s", res.EstimatedDuration)

	campaign, err := service.GetCampaign(context.Background(), "operator", res.CampaignID)
	require.NoError(t, err)
	assert.Equal(t, 2, campaign.TotalTasks)
	assert.Equal(t, 1, queue.Tracker().Active())

	_, err = service.GetCampaign(context.Background(), "someone-else", res.CampaignID)
	assert.Error(t, err)
}

func TestSendBulk_DeduplicatesTargetsAndHonoursDelay(t *testing.T) {
	service, _ := newTestService(t)
	delay := 0

	res, err := service.SendBulk(context.Background(), domainBroadcast.BulkSendRequest{
		SessionID: "S1", Owner: "operator", GroupIDs: []string{"1@g.us", "2@g.us", "1@g.us"}, Text: "promo", DelayMs: &delay,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, "0s", res.EstimatedDuration)
}

func TestSendBulk_RejectsEmptyTargets(t *testing.T) {
	service, queue := newTestService(t)

	_, err := service.SendBulk(context.Background(), domainBroadcast.BulkSendRequest{
		SessionID: "S1", Owner: "operator", Text: "promo",
	})

	assert.ErrorIs(t, err, pkgError.ErrNoGroupsSelected)
	assert.Equal(t, 0, queue.Tracker().Active())
}

func TestSendBulk_RequiresConnectedSession(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.SendBulk(context.Background(), domainBroadcast.BulkSendRequest{
		SessionID: "S2", Owner: "operator", GroupIDs: []string{"1@g.us"}, Text: "promo",
	})
	assert.ErrorIs(t, err, pkgError.ErrSessionNotConnected)

	_, err = service.SendBulk(context.Background(), domainBroadcast.BulkSendRequest{
		SessionID: "missing", Owner: "operator", GroupIDs: []string{"1@g.us"}, Text: "promo",
	})
	assert.ErrorIs(t, err, pkgError.ErrSessionNotFound)
}

func TestSendMessage_EnqueuesSingleTask(t *testing.T) {
	service, queue := newTestService(t)

	res, err := service.SendMessage(context.Background(), domainBroadcast.SendMessageRequest{
		SessionID: "S1", Owner: "operator", GroupID: "2@g.us", Text: "hola",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.TaskID)

	require.Eventually(t, func() bool { return queue.Stats().Sent == 1 }, time.Second, 5*time.Millisecond)
}

func TestStaggerSchedule(t *testing.T) {
	now := time.Now()

	plain := staggerSchedule(now, 4, 3*time.Second, 0, nil)
	for i, at := range plain {
		assert.Equal(t, time.Duration(i)*3*time.Second, at.Sub(now))
	}

	fixed := func(time.Duration) time.Duration { return 100 * time.Millisecond }
	jittered := staggerSchedule(now, 3, time.Second, 500*time.Millisecond, fixed)
	assert.Equal(t, time.Duration(0), jittered[0].Sub(now))
	assert.Equal(t, 1100*time.Millisecond, jittered[1].Sub(now))
	assert.Equal(t, 2100*time.Millisecond, jittered[2].Sub(now))

	burst := staggerSchedule(now, 3, 0, 0, nil)
	for _, at := range burst {
		assert.Equal(t, now, at)
	}
}

func TestSendMessage_MediaMustBeASessionUpload(t *testing.T) {
	service, queue := newTestService(t)
	ctx := context.Background()

	dir, err := utils.SessionUploadPath(service.uploadsRoot, "S1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flyer.png"), []byte("png"), 0644))

	media, err := service.resolveMedia("S1", &session.MediaRef{Path: "flyer.png", MimeType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "flyer.png"), media.Path)
	assert.Equal(t, "flyer.png", media.FileName)

	for _, ref := range []string{"/etc/shadow", "../S2/flyer.png", "missing.png"} {
		_, err := service.SendMessage(ctx, domainBroadcast.SendMessageRequest{
			SessionID: "S1", Owner: "operator", GroupID: "2@g.us", Media: &session.MediaRef{Path: ref},
		})
		var vErr pkgError.ValidationError
		assert.ErrorAs(t, err, &vErr, ref)
	}

	_, err = service.SendBulk(ctx, domainBroadcast.BulkSendRequest{
		SessionID: "S1", Owner: "operator", GroupIDs: []string{"1@g.us"}, Media: &session.MediaRef{Path: "/etc/shadow"},
	})
	assert.Error(t, err)
	assert.Equal(t, 0, queue.Stats().Pending)
	assert.Equal(t, 0, queue.Tracker().Active())

	res, err := service.SendMessage(ctx, domainBroadcast.SendMessageRequest{
		SessionID: "S1", Owner: "operator", GroupID: "2@g.us", Media: &session.MediaRef{Path: "flyer.png"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.TaskID)
}
