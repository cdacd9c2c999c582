package collab

// Wire protocol events. Binary fingerprints and updates travel hex-encoded
// in the JSON envelope.
const (
	EventConnectionEstablished = "connection_established"
	EventJoinPage              = "join_page"
	EventSyncStep1             = "sync_step1"
	EventSyncStep2             = "sync_step2"
	EventSyncUpdate            = "sync_update"
	EventUpdate                = "update"
	EventUpdateTitle           = "update_title"
	EventTitleUpdated          = "title_updated"
	EventLeavePage             = "leave_page"
	EventError                 = "error"
)

// Message is the protocol envelope exchanged with clients.
type Message struct {
	Event       string  `json:"event"`
	PageID      string  `json:"page_id,omitempty"`
	StateVector string  `json:"state_vector,omitempty"`
	Update      string  `json:"update,omitempty"`
	Title       *string `json:"title,omitempty"` // pointer: an empty title is a valid update
	Status      string  `json:"status,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// Session is the sync core's view of one connected client: an identity and
// a fire-and-forget delivery primitive. The transport layer implements it.
type Session interface {
	ID() string
	Send(msg Message)
}
