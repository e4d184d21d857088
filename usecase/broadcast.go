package usecase

import (
	"context"
	"math/rand/v2"
	"time"

	coreconfig "github.com/AzielCF/az-wap-broadcast/core/config"
	domainBroadcast "github.com/AzielCF/az-wap-broadcast/domains/broadcast"
	pkgError "github.com/AzielCF/az-wap-broadcast/pkg/error"
	"github.com/AzielCF/az-wap-broadcast/pkg/msgworker"
	"github.com/AzielCF/az-wap-broadcast/pkg/utils"
	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"github.com/AzielCF/az-wap-broadcast/validations"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// sessionReader is the part of the session manager the broadcast service needs.
type sessionReader interface {
	Get(id, owner string) (*session.Session, error)
}

type serviceBroadcast struct {
	sessions    sessionReader
	queue       *msgworker.Queue
	history     session.DeliveryLogReader
	cfg         coreconfig.DeliveryConfig
	uploadsRoot string
	jitter      func(limit time.Duration) time.Duration
}

func NewBroadcastService(sessions sessionReader, queue *msgworker.Queue, history session.DeliveryLogReader, cfg coreconfig.DeliveryConfig, uploadsRoot string) domainBroadcast.IBroadcastUsecase {
	return &serviceBroadcast{
		sessions:    sessions,
		queue:       queue,
		history:     history,
		cfg:         cfg,
		uploadsRoot: uploadsRoot,
		jitter:      randomJitter,
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}

func (service *serviceBroadcast) connectedSession(id, owner string) (*session.Session, error) {
	sess, err := service.sessions.Get(id, owner)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusConnected {
		return nil, pkgError.ErrSessionNotConnected
	}
	return sess, nil
}

// resolveMedia turns an upload reference into the stored file of the session.
func (service *serviceBroadcast) resolveMedia(sessionID string, media *session.MediaRef) (*session.MediaRef, error) {
	if media == nil {
		return nil, nil
	}
	path, err := utils.ResolveSessionUpload(service.uploadsRoot, sessionID, media.Path)
	if err != nil {
		return nil, pkgError.ValidationError("media: " + err.Error())
	}
	resolved := *media
	resolved.Path = path
	if resolved.FileName == "" {
		resolved.FileName = media.Path
	}
	return &resolved, nil
}

func (service *serviceBroadcast) SendMessage(ctx context.Context, request domainBroadcast.SendMessageRequest) (response domainBroadcast.SendMessageResponse, err error) {
	if err = validations.ValidateSendMessage(ctx, request); err != nil {
		return response, err
	}
	if _, err = service.connectedSession(request.SessionID, request.Owner); err != nil {
		return response, err
	}
	media, err := service.resolveMedia(request.SessionID, request.Media)
	if err != nil {
		return response, err
	}

	taskID, err := service.queue.Enqueue(msgworker.EnqueueRequest{
		SessionID:     request.SessionID,
		Owner:         request.Owner,
		TargetGroupID: request.GroupID,
		Payload:       session.Payload{Text: request.Text, Media: media},
	})
	if err != nil {
		return response, pkgError.NewTransientError("enqueue", err)
	}

	response.TaskID = taskID
	response.SessionID = request.SessionID
	response.GroupID = request.GroupID
	return response, nil
}

// SendBulk creates a campaign and enqueues one task per target. Targets are
// staggered by the requested delay plus a random jitter; the queue keeps that
// gap between consecutive sends of the campaign and adds its own inter-task
// delay on top.
func (service *serviceBroadcast) SendBulk(ctx context.Context, request domainBroadcast.BulkSendRequest) (response domainBroadcast.BulkSendResponse, err error) {
	if err = validations.ValidateBulkSend(ctx, request); err != nil {
		return response, err
	}
	sess, err := service.connectedSession(request.SessionID, request.Owner)
	if err != nil {
		return response, err
	}

	media, err := service.resolveMedia(request.SessionID, request.Media)
	if err != nil {
		return response, err
	}

	targets := uniqueTargets(request.GroupIDs)
	if len(targets) == 0 && request.UseSelected {
		targets = sess.SelectedGroups()
	}
	if len(targets) == 0 {
		return response, pkgError.ErrNoGroupsSelected
	}

	stagger := service.cfg.DefaultStagger
	if request.DelayMs != nil {
		stagger = time.Duration(*request.DelayMs) * time.Millisecond
	}

	tracker := service.queue.Tracker()
	campaignID, err := tracker.Create(request.Owner, request.SessionID, len(targets))
	if err != nil {
		return response, err
	}

	payload := session.Payload{Text: request.Text, Media: media}
	schedule := staggerSchedule(time.Now(), len(targets), stagger, service.cfg.MaxJitter, service.jitter)
	taskIDs := make([]string, 0, len(targets))
	for i, target := range targets {
		var spacing time.Duration
		if i > 0 {
			spacing = schedule[i].Sub(schedule[i-1])
		}
		taskID, enqueueErr := service.queue.Enqueue(msgworker.EnqueueRequest{
			SessionID:     request.SessionID,
			Owner:         request.Owner,
			TargetGroupID: target,
			Payload:       payload,
			CampaignID:    campaignID,
			NotBefore:     schedule[i],
			Spacing:       spacing,
		})
		if enqueueErr != nil {
			// Settle what could not be queued so the campaign still completes.
			for _, rest := range targets[i:] {
				tracker.Record(campaignID, msgworker.Result{
					TargetGroupID: rest,
					Status:        session.DeliveryFailed,
					Error:         enqueueErr.Error(),
					At:            time.Now().UTC(),
				})
			}
			logrus.WithError(enqueueErr).Errorf("[DELIVERY_QUEUE] Campaign %s stopped after %d of %d targets", campaignID, i, len(targets))
			return response, pkgError.NewTransientError("enqueue", enqueueErr)
		}
		taskIDs = append(taskIDs, taskID)
	}

	response.CampaignID = campaignID
	response.SessionID = request.SessionID
	response.Total = len(targets)
	response.TaskIDs = taskIDs
	response.EstimatedDuration = schedule[len(schedule)-1].Sub(schedule[0]).Round(time.Second).String()
	logrus.Infof("[DELIVERY_QUEUE] Campaign %s queued %d targets for session %s", campaignID, len(targets), request.SessionID)
	return response, nil
}

// staggerSchedule returns the not-before time of each target. A limiter with a
// burst of one hands out reservations spaced by stagger; the first target is
// never delayed or jittered.
func staggerSchedule(now time.Time, n int, stagger, maxJitter time.Duration, jitter func(time.Duration) time.Duration) []time.Time {
	out := make([]time.Time, n)
	limit := rate.Inf
	if stagger > 0 {
		limit = rate.Every(stagger)
	}
	limiter := rate.NewLimiter(limit, 1)
	for i := range out {
		r := limiter.ReserveN(now, 1)
		at := now.Add(r.DelayFrom(now))
		if i > 0 && jitter != nil {
			at = at.Add(jitter(maxJitter))
		}
		out[i] = at
	}
	return out
}

func uniqueTargets(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (service *serviceBroadcast) GetCampaign(ctx context.Context, owner, campaignID string) (*msgworker.Campaign, error) {
	campaign, ok := service.queue.Tracker().Get(campaignID)
	if !ok || campaign.Owner != owner {
		return nil, pkgError.NotFoundError("campaign not found or already completed")
	}
	return campaign, nil
}

func (service *serviceBroadcast) ListDeliveries(ctx context.Context, owner, sessionID string, limit int) ([]session.DeliveryRecord, error) {
	if service.history == nil {
		return []session.DeliveryRecord{}, nil
	}
	records, err := service.history.ListBySession(ctx, sessionID, owner, limit)
	if err != nil {
		return nil, pkgError.NewStorageError("list deliveries", err)
	}
	return records, nil
}
