package webhook

import "github.com/quillhq/newsletter-backend/internal/model"

// Kind is the closed set of provider event types this service routes. A
// string the provider invents tomorrow parses to KindUnknown and is
// acknowledged without any state change.
type Kind int

const (
	KindUnknown Kind = iota
	KindDelivered
	KindOpened
	KindClicked
	KindBounced
	KindComplained
	KindContactUpdated
)

func ParseKind(eventType string) Kind {
	switch eventType {
	case "email.delivered":
		return KindDelivered
	case "email.opened":
		return KindOpened
	case "email.clicked":
		return KindClicked
	case "email.bounced":
		return KindBounced
	case "email.complained":
		return KindComplained
	case "contact.updated":
		return KindContactUpdated
	default:
		return KindUnknown
	}
}

// ComplaintMessage is recorded on delivery logs for complained events.
const ComplaintMessage = "Recipient marked the email as spam"

// DeliveryStatus maps a kind onto the delivery log status it implies.
// ok is false for kinds that do not touch a delivery log.
func (k Kind) DeliveryStatus() (status string, ok bool) {
	switch k {
	case KindDelivered:
		return model.DeliveryStatusDelivered, true
	case KindOpened:
		return model.DeliveryStatusOpened, true
	case KindClicked:
		return model.DeliveryStatusClicked, true
	case KindBounced:
		return model.DeliveryStatusBounced, true
	case KindComplained:
		return model.DeliveryStatusFailed, true
	default:
		return "", false
	}
}

// Event is the provider's webhook envelope.
type Event struct {
	Type      string    `json:"type"`
	CreatedAt string    `json:"created_at"`
	Data      EventData `json:"data"`
}

type EventData struct {
	// email.* events
	EmailID     string      `json:"email_id"`
	BroadcastID string      `json:"broadcast_id"`
	To          []string    `json:"to"`
	Click       *ClickData  `json:"click,omitempty"`
	Bounce      *BounceData `json:"bounce,omitempty"`

	// contact.updated
	Email        string `json:"email"`
	Unsubscribed bool   `json:"unsubscribed"`
}

type ClickData struct {
	Link string `json:"link"`
}

type BounceData struct {
	Message string `json:"message"`
}
