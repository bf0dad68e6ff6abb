package domain

import "encoding/json"

// EventName is the case-sensitive wire name of an event.
type EventName string

const (
	EventContentUpdate   EventName = "content:update"
	EventNotificationNew EventName = "notification:new"
	EventAnalyticsUpdate EventName = "analytics:update"
	EventAdminAction     EventName = "admin:action"
	EventUserJoined      EventName = "user:joined"
)

// Admin action names synthesized by the relay.
const (
	ActionContentUpdate = "content:update"
	ActionDisconnect    = "admin:disconnect"
)

// Event is the closed set of events the relay understands. Each variant
// carries its own payload type; fields the relay does not interpret are kept
// as raw JSON and passed through unchanged.
type Event interface {
	Name() EventName
	isEvent()
}

// ContentUpdate announces a change to published content. The payload shape
// belongs to the content routes.
type ContentUpdate struct {
	Payload json.RawMessage
}

// NotificationNew carries a user-facing notification. Notification is set
// for notifications built locally; Raw holds a payload received from a
// socket and is relayed verbatim.
type NotificationNew struct {
	Notification Notification
	Raw          json.RawMessage
}

// AnalyticsUpdate carries dashboard metrics for the elevated room.
type AnalyticsUpdate struct {
	Payload json.RawMessage
}

// AdminAction reports an action to the elevated room. Actions synthesized by
// the relay set Actor; actions sent by clients carry only Raw.
type AdminAction struct {
	Actor   *Claim
	Action  string
	Payload json.RawMessage
	Raw     json.RawMessage
}

// UserJoined is the presence announcement sent when a connection joins.
type UserJoined struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"name,omitempty"`
	Role        Role   `json:"role"`
}

func (ContentUpdate) Name() EventName   { return EventContentUpdate }
func (NotificationNew) Name() EventName { return EventNotificationNew }
func (AnalyticsUpdate) Name() EventName { return EventAnalyticsUpdate }
func (AdminAction) Name() EventName     { return EventAdminAction }
func (UserJoined) Name() EventName      { return EventUserJoined }

func (ContentUpdate) isEvent()   {}
func (NotificationNew) isEvent() {}
func (AnalyticsUpdate) isEvent() {}
func (AdminAction) isEvent()     {}
func (UserJoined) isEvent()      {}

// Notification is the payload of notification:new.
type Notification struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type"`
}
