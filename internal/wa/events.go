package wa

// Event is a lifecycle or traffic event emitted by one session's connection.
// Each connection has exactly one event stream with one serialized consumer.
type Event interface{ event() }

// QRCode is emitted when the network issues a pairing challenge.
type QRCode struct {
	Code string
}

// Connected is emitted once the connection is open and authenticated.
type Connected struct {
	PhoneNumber string
}

// Disconnected is emitted when the connection closes. LoggedOut marks an
// explicit logout (credentials are gone on the server side); any other close
// is a transient drop.
type Disconnected struct {
	LoggedOut bool
	Reason    string
}

// Inbound is a message received on the connection.
type Inbound struct {
	Sender   string
	Text     string
	PushName string
	FromSelf bool
}

// Ack is a delivery acknowledgment for a message this side sent earlier.
type Ack struct {
	MessageID string
	Kind      AckKind
}

// AckKind classifies an acknowledgment.
type AckKind string

const (
	AckServer    AckKind = "server"
	AckDelivered AckKind = "delivered"
	AckRead      AckKind = "read"
)

func (QRCode) event()       {}
func (Connected) event()    {}
func (Disconnected) event() {}
func (Inbound) event()      {}
func (Ack) event()          {}
