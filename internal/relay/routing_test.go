package relay

import (
	"encoding/json"
	"testing"

	"github.com/RealBhupesh/fictional-carnival/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	adminClaim   = domain.Claim{SubjectID: "admin-1", Role: domain.RoleAdmin, DisplayName: "Ada"}
	managerClaim = domain.Claim{SubjectID: "manager-1", Role: domain.RoleManager, DisplayName: "Max"}
	userClaim    = domain.Claim{SubjectID: "user-1", Role: domain.RoleUser, DisplayName: "Uma"}
)

func TestRoute_ContentUpdateFromUser(t *testing.T) {
	ev := domain.ContentUpdate{Payload: json.RawMessage(`{"x":1}`)}

	targets := route(userClaim, ev)

	require.Len(t, targets, 1)
	assert.Equal(t, domain.RoomGeneral, targets[0].room)
	assert.Equal(t, ev, targets[0].event)
}

func TestRoute_ContentUpdateFromPrivilegedAddsAdminAction(t *testing.T) {
	for _, claim := range []domain.Claim{adminClaim, managerClaim} {
		t.Run(string(claim.Role), func(t *testing.T) {
			ev := domain.ContentUpdate{Payload: json.RawMessage(`{"x":1}`)}

			targets := route(claim, ev)

			require.Len(t, targets, 2)
			assert.Equal(t, domain.RoomGeneral, targets[0].room)
			assert.Equal(t, domain.RoomElevated, targets[1].room)

			action, ok := targets[1].event.(domain.AdminAction)
			require.True(t, ok)
			require.NotNil(t, action.Actor)
			assert.Equal(t, claim, *action.Actor)
			assert.Equal(t, domain.ActionContentUpdate, action.Action)
			assert.JSONEq(t, `{"x":1}`, string(action.Payload))
		})
	}
}

func TestRoute_ElevatedOnlyEvents(t *testing.T) {
	events := []domain.Event{
		domain.AnalyticsUpdate{Payload: json.RawMessage(`{"load":5}`)},
		domain.AdminAction{Raw: json.RawMessage(`{"action":"post:delete"}`)},
	}

	for _, ev := range events {
		for _, sender := range []domain.Claim{userClaim, adminClaim} {
			targets := route(sender, ev)
			require.Len(t, targets, 1, "%s from %s", ev.Name(), sender.Role)
			assert.Equal(t, domain.RoomElevated, targets[0].room)
		}
	}
}

func TestRoute_NotificationGoesToGeneral(t *testing.T) {
	targets := route(adminClaim, domain.NotificationNew{Notification: domain.Notification{ID: "n1"}})

	require.Len(t, targets, 1)
	assert.Equal(t, domain.RoomGeneral, targets[0].room)
}

func TestRoute_ClientCannotSpoofPresence(t *testing.T) {
	assert.Nil(t, route(adminClaim, domain.UserJoined{UserID: "someone-else"}))
}

func TestDepartureAnnouncement(t *testing.T) {
	_, ok := departureAnnouncement(userClaim)
	assert.False(t, ok)

	tgt, ok := departureAnnouncement(managerClaim)
	require.True(t, ok)
	assert.Equal(t, domain.RoomElevated, tgt.room)
	action := tgt.event.(domain.AdminAction)
	assert.Equal(t, domain.ActionDisconnect, action.Action)
	assert.Equal(t, managerClaim, *action.Actor)
}
