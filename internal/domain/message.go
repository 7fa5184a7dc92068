package domain

import "fmt"

// Client message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
)

// Server message types.
const (
	TypeLog            = "log"
	TypeStatusChange   = "status_change"
	TypeContainerEvent = "container_event"
	TypeError          = "error"
	TypePong           = "pong"
	TypeSubscribed     = "subscribed"
	TypeUnsubscribed   = "unsubscribed"
)

// ClientMessage is a frame sent by an observer: subscribe/unsubscribe carry
// channel batches, ping is a keep-alive.
type ClientMessage struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels,omitempty"`
}

// ServerMessage is a frame pushed to observers. Fields are populated
// according to Type.
type ServerMessage struct {
	Type      string   `json:"type"`
	Scratch   string   `json:"scratch,omitempty"`
	Service   string   `json:"service,omitempty"`
	Status    string   `json:"status,omitempty"`
	Action    string   `json:"action,omitempty"`
	Line      string   `json:"line,omitempty"`
	Message   string   `json:"message,omitempty"`
	Channels  []string `json:"channels,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// LogChannel names the log stream for a whole scratch.
func LogChannel(scratch string) string {
	return fmt.Sprintf("logs:%s", scratch)
}

// LogChannelService names the log stream for one service of a scratch.
func LogChannelService(scratch, service string) string {
	return fmt.Sprintf("logs:%s:%s", scratch, service)
}

// StatusChannel names the status stream for one scratch.
func StatusChannel(scratch string) string {
	return fmt.Sprintf("status:%s", scratch)
}

// StatusChannelAll names the firehose status stream.
func StatusChannelAll() string {
	return "status:*"
}

// EventsChannel names the container lifecycle event stream.
func EventsChannel() string {
	return "events"
}
