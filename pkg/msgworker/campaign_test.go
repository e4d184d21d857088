package msgworker

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	pkgError "github.com/AzielCF/az-wap-broadcast/pkg/error"
	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCampaignTracker_RejectsEmptyCampaign(t *testing.T) {
	tracker := NewCampaignTracker(nil)

	_, err := tracker.Create("operator", "S1", 0)

	assert.ErrorIs(t, err, pkgError.ErrNoGroupsSelected)
	var cfgErr pkgError.CampaignConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestCampaignTracker_CompletesExactlyOnceUnderConcurrency(t *testing.T) {
	notifier := &collectingNotifier{}
	tracker := NewCampaignTracker(notifier)
	const total = 50
	id, err := tracker.Create("operator", "S1", total)
	require.NoError(t, err)

	var reports int32
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := session.DeliverySent
			if i%10 == 0 {
				status = session.DeliveryFailed
			}
			if _, report := tracker.Record(id, Result{TaskID: strconv.Itoa(i), Status: status}); report != nil {
				atomic.AddInt32(&reports, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), reports)
	assert.Equal(t, 0, tracker.Active())
	require.Len(t, notifier.byCode(session.NotifyCampaignCompleted), 1)
}

func TestCampaignTracker_ProgressIsMonotonicAndDeduplicated(t *testing.T) {
	tracker := NewCampaignTracker(nil)
	id, err := tracker.Create("operator", "S1", 3)
	require.NoError(t, err)

	p, report := tracker.Record(id, Result{TaskID: "t1", Status: session.DeliverySent})
	assert.Nil(t, report)
	assert.Equal(t, 1, p.Completed)

	p, _ = tracker.Record(id, Result{TaskID: "t1", Status: session.DeliveryFailed})
	assert.Equal(t, 1, p.Completed, "a task is counted once")

	live, ok := tracker.Get(id)
	require.True(t, ok)
	assert.Equal(t, 1, live.Succeeded)
	assert.Len(t, live.Results, 1)

	tracker.Record(id, Result{TaskID: "t2", Status: session.DeliveryFailed})
	_, report = tracker.Record(id, Result{TaskID: "t3", Status: session.DeliverySent})
	require.NotNil(t, report)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, report.Results, 3)

	_, report = tracker.Record(id, Result{TaskID: "t4", Status: session.DeliverySent})
	assert.Nil(t, report, "finished campaigns are gone")
}
