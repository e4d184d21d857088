package adapter

import (
	"errors"
	"testing"
	"time"

	"github.com/AzielCF/az-wap-broadcast/core/config"
	pkgError "github.com/AzielCF/az-wap-broadcast/pkg/error"
	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

func TestMapEvent(t *testing.T) {
	tests := []struct {
		name string
		raw  interface{}
		kind session.EventKind
	}{
		{"pair success", &events.PairSuccess{}, session.EventAuthenticated},
		{"connected", &events.Connected{}, session.EventReady},
		{"logged out", &events.LoggedOut{Reason: events.ConnectFailureLoggedOut}, session.EventAuthFailed},
		{"temporary ban", &events.TemporaryBan{}, session.EventAuthFailed},
		{"client outdated", &events.ClientOutdated{}, session.EventAuthFailed},
		{"connect failure logged out", &events.ConnectFailure{Reason: events.ConnectFailureLoggedOut}, session.EventAuthFailed},
		{"connect failure server", &events.ConnectFailure{Reason: events.ConnectFailureInternalServerError}, session.EventDisconnected},
		{"stream replaced", &events.StreamReplaced{}, session.EventDisconnected},
		{"disconnected", &events.Disconnected{}, session.EventDisconnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, ok := mapEvent(tt.raw)
			require.True(t, ok)
			assert.Equal(t, tt.kind, evt.Kind)
			assert.False(t, evt.At.IsZero())
		})
	}
}

func TestMapEvent_IgnoresUnrelated(t *testing.T) {
	_, ok := mapEvent(&events.Message{})
	assert.False(t, ok)
	_, ok = mapEvent("noise")
	assert.False(t, ok)
}

func TestMapEvent_DisconnectReasonIsConnectionLost(t *testing.T) {
	evt, ok := mapEvent(&events.Disconnected{})
	require.True(t, ok)
	assert.Contains(t, evt.Reason, "websocket disconnected")
}

func TestMapQRItem(t *testing.T) {
	evt, ok := mapQRItem(whatsmeow.QRChannelItem{Event: whatsmeow.QRChannelEventCode, Code: "2@abc"})
	require.True(t, ok)
	assert.Equal(t, session.EventCredentialChallenge, evt.Kind)
	assert.Equal(t, "2@abc", evt.QR)

	evt, ok = mapQRItem(whatsmeow.QRChannelTimeout)
	require.True(t, ok)
	assert.Equal(t, session.EventAuthFailed, evt.Kind)
	assert.Equal(t, qrExpiredReason, evt.Reason)

	_, ok = mapQRItem(whatsmeow.QRChannelSuccess)
	assert.False(t, ok)

	evt, ok = mapQRItem(whatsmeow.QRChannelItem{Event: whatsmeow.QRChannelEventError, Error: errors.New("boom")})
	require.True(t, ok)
	assert.Equal(t, session.EventAuthFailed, evt.Kind)
	assert.Contains(t, evt.Reason, "boom")
}

func TestToGroup_UsesNewestTimestamp(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	renamed := created.Add(48 * time.Hour)
	info := &types.GroupInfo{
		JID:          types.NewJID("120363000000000001", types.GroupServer),
		GroupName:    types.GroupName{Name: "Ventas", NameSetAt: renamed},
		GroupTopic:   types.GroupTopic{TopicSetAt: created.Add(time.Hour)},
		GroupCreated: created,
		Participants: make([]types.GroupParticipant, 3),
	}

	g := toGroup(info)
	assert.Equal(t, "120363000000000001@g.us", g.ID)
	assert.Equal(t, "Ventas", g.Name)
	assert.Equal(t, 3, g.ParticipantCount)
	assert.Equal(t, renamed, g.LastActivity)
	assert.False(t, g.IsSelected)
}

func TestToGroup_FallsBackToJIDUser(t *testing.T) {
	g := toGroup(&types.GroupInfo{JID: types.NewJID("123-456", types.GroupServer)})
	assert.Equal(t, "123-456", g.Name)
}

func TestMediaTypeFor(t *testing.T) {
	assert.Equal(t, whatsmeow.MediaImage, mediaTypeFor("image/png"))
	assert.Equal(t, whatsmeow.MediaVideo, mediaTypeFor("video/mp4"))
	assert.Equal(t, whatsmeow.MediaAudio, mediaTypeFor("audio/ogg"))
	assert.Equal(t, whatsmeow.MediaDocument, mediaTypeFor("application/pdf"))
	assert.Equal(t, whatsmeow.MediaDocument, mediaTypeFor(""))
}

func TestFactoryBuild(t *testing.T) {
	f := NewFactory(&config.Config{})
	sink := func(session.ClientEvent) {}

	_, err := f.Build(session.ClientSpec{Owner: "operator"}, sink)
	assert.Error(t, err)

	_, err = f.Build(session.ClientSpec{SessionID: "x/../../../tmp/evil", Owner: "operator"}, sink)
	var vErr pkgError.ValidationError
	assert.ErrorAs(t, err, &vErr)

	_, err = f.Build(session.ClientSpec{SessionID: "abc"}, sink)
	assert.Error(t, err)

	_, err = f.Build(session.ClientSpec{SessionID: "abc", Owner: "operator"}, nil)
	assert.Error(t, err)

	client, err := f.Build(session.ClientSpec{SessionID: "abc", Owner: "operator"}, sink)
	require.NoError(t, err)
	assert.NotNil(t, client)
	assert.NoError(t, f.Close())
}

func TestClientBeforeStart(t *testing.T) {
	f := NewFactory(&config.Config{})
	client, err := f.Build(session.ClientSpec{SessionID: "abc", Owner: "operator"}, func(session.ClientEvent) {})
	require.NoError(t, err)

	_, err = client.ListGroups(t.Context())
	assert.ErrorContains(t, err, "not connected")

	_, err = client.Send(t.Context(), "123@g.us", session.Payload{Text: "hola"})
	assert.ErrorContains(t, err, "not connected")

	assert.NoError(t, client.Destroy(t.Context()))
	assert.NoError(t, client.Destroy(t.Context()))
	assert.Error(t, client.Start(t.Context()))
}
