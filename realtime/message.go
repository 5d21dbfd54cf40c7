package realtime

// Local connection lifecycle events. They are dispatched through the same
// handler registry as server message types, so a page can subscribe to
// "connected" exactly like to "progress_update". Server "error" messages and
// local connection errors share the "error" event on purpose.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventError        = "error"
	EventGaveUp       = "gave_up"
)

// Server message type discriminators.
const (
	TypeSubscribe           = "subscribe"
	TypePing                = "ping"
	TypePong                = "pong"
	TypeProgressUpdate      = "progress_update"
	TypeLogUpdate           = "log_update"
	TypeRequestStatusUpdate = "request_status_update"
)

// Message is the outbound envelope. Inbound payloads are dispatched raw, by
// their type discriminator, and decoded by whoever subscribed.
type Message struct {
	Type    string `json:"type"`
	VideoID string `json:"video_id,omitempty"`
}

func Ping() Message { return Message{Type: TypePing} }

func Subscribe(videoID string) Message {
	return Message{Type: TypeSubscribe, VideoID: videoID}
}

// RequestStatusUpdate asks the server to push a fresh progress_update for one
// video.
func RequestStatusUpdate(videoID string) Message {
	return Message{Type: TypeRequestStatusUpdate, VideoID: videoID}
}
