// Package live pushes upload notifications to connected websocket clients.
//
// A Hub owns the set of open connections. Publish serialises an Event once
// and hands it to every registered client without waiting for network I/O;
// each client drains its own bounded queue on a dedicated writer goroutine,
// so delivery to one client never stalls another. RedisRelay extends the
// fan-out across several server instances.
package live

// TypeUpload is the event type sent after a model was stored.
const TypeUpload = "UPLOAD"

// Event is the JSON message pushed to live clients.
type Event struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// UploadEvent returns the notification for a stored model reachable at url.
func UploadEvent(url string) Event {
	return Event{Type: TypeUpload, URL: url}
}

// Publisher accepts events for asynchronous delivery. Implementations must
// not block the caller on delivery.
type Publisher interface {
	Publish(ev Event)
}
