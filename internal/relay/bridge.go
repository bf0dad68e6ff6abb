package relay

import (
	"encoding/json"

	"github.com/RealBhupesh/fictional-carnival/internal/domain"
)

// Envelope is one room delivery as it travels between instances. Frame is
// the encoded wire frame; Exclude is the sending connection, if any.
type Envelope struct {
	Origin  string           `json:"origin"`
	Room    domain.Room      `json:"room"`
	Event   domain.EventName `json:"event"`
	Exclude string           `json:"exclude,omitempty"`
	Frame   json.RawMessage  `json:"frame"`
}

// Bridge forwards deliveries made on this instance to the other instances.
// Forward is called from the hub loop and must not block.
type Bridge interface {
	Forward(env Envelope)
}
