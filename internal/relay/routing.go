package relay

import "github.com/RealBhupesh/fictional-carnival/internal/domain"

// target is one room delivery produced by an inbound event.
type target struct {
	room  domain.Room
	event domain.Event
}

// route applies the relay table to an event sent by a connection with the
// given claim. The sender is excluded from every target by the caller. A nil
// result means the event is not relayed.
func route(sender domain.Claim, ev domain.Event) []target {
	switch e := ev.(type) {
	case domain.ContentUpdate:
		targets := []target{{room: domain.RoomGeneral, event: e}}
		if sender.Role.IsPrivileged() {
			actor := sender
			targets = append(targets, target{
				room: domain.RoomElevated,
				event: domain.AdminAction{
					Actor:   &actor,
					Action:  domain.ActionContentUpdate,
					Payload: e.Payload,
				},
			})
		}
		return targets
	case domain.NotificationNew:
		return []target{{room: domain.RoomGeneral, event: e}}
	case domain.AnalyticsUpdate, domain.AdminAction:
		return []target{{room: domain.RoomElevated, event: e}}
	default:
		// user:joined is server-emitted only.
		return nil
	}
}

func joinedAnnouncement(claim domain.Claim) target {
	return target{
		room:  domain.RoomGeneral,
		event: domain.UserJoined{UserID: claim.SubjectID, DisplayName: claim.DisplayName, Role: claim.Role},
	}
}

// departureAnnouncement reports a privileged disconnect to the elevated room.
func departureAnnouncement(claim domain.Claim) (target, bool) {
	if !claim.Role.IsPrivileged() {
		return target{}, false
	}
	actor := claim
	return target{
		room:  domain.RoomElevated,
		event: domain.AdminAction{Actor: &actor, Action: domain.ActionDisconnect},
	}, true
}
