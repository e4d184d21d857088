package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_CloneIsDeep(t *testing.T) {
	orig := &Session{
		ID:       "S1",
		Owner:    "U1",
		Identity: &Identity{User: "5215550001"},
		Groups:   []Group{{ID: "g1", Name: "One"}},
	}

	c := orig.Clone()
	c.Groups[0].IsSelected = true
	c.Identity.User = "changed"

	assert.False(t, orig.Groups[0].IsSelected)
	assert.Equal(t, "5215550001", orig.Identity.User)
}

func TestSession_SnapshotRoundTripKeepsGroupsAndDropsTransientFields(t *testing.T) {
	s := &Session{
		ID:           "S1",
		Owner:        "U1",
		Status:       StatusConnected,
		Health:       HealthAlive,
		QRCode:       "data:image/png;base64,xxx",
		Groups:       []Group{{ID: "g1"}, {ID: "g2"}},
		GroupsLoaded: true,
		Counters:     Counters{MessagesSent: 7},
	}

	restored := s.Snapshot().Restore()

	require.Len(t, restored.Groups, 2)
	assert.Equal(t, int64(7), restored.Counters.MessagesSent)
	assert.Equal(t, HealthNone, restored.Health)
	assert.Empty(t, restored.QRCode)
}

func TestSortByActivity(t *testing.T) {
	now := time.Now()
	groups := []Group{
		{ID: "old", Name: "b", LastActivity: now.Add(-time.Hour)},
		{ID: "new", Name: "a", LastActivity: now},
		{ID: "tie", Name: "a", LastActivity: now.Add(-time.Hour)},
	}

	SortByActivity(groups)

	assert.Equal(t, []string{"new", "tie", "old"}, []string{groups[0].ID, groups[1].ID, groups[2].ID})
}

func TestPayload_Summary(t *testing.T) {
	assert.Equal(t, "hola", Payload{Text: "hola"}.Summary())
	assert.Equal(t, "[media] flyer.png | promo", Payload{Text: "promo", Media: &MediaRef{Path: "/tmp/x", FileName: "flyer.png"}}.Summary())

	long := Payload{Text: strings.Repeat("x", 200)}.Summary()
	assert.Equal(t, 121, len([]rune(long)))
}

func TestSelectedGroups(t *testing.T) {
	s := &Session{Groups: []Group{{ID: "a", IsSelected: true}, {ID: "b"}, {ID: "c", IsSelected: true}}}
	assert.Equal(t, []string{"a", "c"}, s.SelectedGroups())
}
