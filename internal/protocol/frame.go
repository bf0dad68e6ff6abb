// Package protocol encodes and decodes the socket wire frames exchanged
// between the relay and its clients.
//
// A frame is a JSON object {"event": <name>, "data": <payload>}.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/RealBhupesh/fictional-carnival/internal/domain"
)

var jsonNull = json.RawMessage("null")

type frame struct {
	Event domain.EventName `json:"event"`
	Data  json.RawMessage  `json:"data,omitempty"`
}

type adminActionPayload struct {
	Actor   *domain.Claim   `json:"actor,omitempty"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses a frame received from a socket. Payloads stay opaque: only
// unknown event names, a missing payload or a presence payload of the wrong
// shape yield domain.ErrMalformedFrame.
func Decode(data []byte) (domain.Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}
	if len(f.Data) == 0 {
		return nil, fmt.Errorf("%w: missing data for %q", domain.ErrMalformedFrame, f.Event)
	}

	switch f.Event {
	case domain.EventContentUpdate:
		return domain.ContentUpdate{Payload: f.Data}, nil
	case domain.EventAnalyticsUpdate:
		return domain.AnalyticsUpdate{Payload: f.Data}, nil
	case domain.EventNotificationNew:
		return domain.NotificationNew{Raw: f.Data}, nil
	case domain.EventAdminAction:
		return domain.AdminAction{Raw: f.Data}, nil
	case domain.EventUserJoined:
		if !isObject(f.Data) {
			return nil, fmt.Errorf("%w: presence payload must be an object", domain.ErrMalformedFrame)
		}
		var u domain.UserJoined
		if err := json.Unmarshal(f.Data, &u); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
		}
		return u, nil
	default:
		return nil, fmt.Errorf("%w: unknown event %q", domain.ErrMalformedFrame, f.Event)
	}
}

// DecodeNotification reads the typed notification out of a notification:new
// payload. Extra fields are ignored.
func DecodeNotification(ev domain.NotificationNew) (domain.Notification, error) {
	if len(ev.Raw) == 0 {
		return ev.Notification, nil
	}
	if !isObject(ev.Raw) {
		return domain.Notification{}, fmt.Errorf("%w: notification payload must be an object", domain.ErrMalformedFrame)
	}
	var n domain.Notification
	if err := json.Unmarshal(ev.Raw, &n); err != nil {
		return domain.Notification{}, fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}
	return n, nil
}

// Encode serializes an event into a frame.
func Encode(ev domain.Event) ([]byte, error) {
	data, err := Payload(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Name(), err)
	}
	out, err := json.Marshal(frame{Event: ev.Name(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Name(), err)
	}
	return out, nil
}

// Payload returns the "data" member Encode would write for ev.
func Payload(ev domain.Event) (json.RawMessage, error) {
	switch e := ev.(type) {
	case domain.ContentUpdate:
		return orNull(e.Payload), nil
	case domain.AnalyticsUpdate:
		return orNull(e.Payload), nil
	case domain.NotificationNew:
		if len(e.Raw) > 0 {
			return e.Raw, nil
		}
		return json.Marshal(e.Notification)
	case domain.AdminAction:
		if len(e.Raw) > 0 {
			return e.Raw, nil
		}
		return json.Marshal(adminActionPayload{Actor: e.Actor, Action: e.Action, Payload: e.Payload})
	case domain.UserJoined:
		return json.Marshal(e)
	default:
		return nil, fmt.Errorf("unsupported event type %T", ev)
	}
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return jsonNull
	}
	return raw
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
