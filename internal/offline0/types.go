package offline0

import (
	"encoding/json"
	"net/http"
)

// Entry is an immutable response snapshot, as stored in a cache namespace or
// as produced by a network fetch.
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt int64 // unix nanoseconds
	Hash32   uint32
}

// OK reports a 2xx status.
func (e Entry) OK() bool {
	return e.Status >= 200 && e.Status < 300
}

// QueueRecord is one named record of the local durable store.
type QueueRecord struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
}

// Action is a notification button.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Notification is what gets handed to the host notification surface.
type Notification struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Icon               string         `json:"icon,omitempty"`
	Badge              string         `json:"badge,omitempty"`
	Image              string         `json:"image,omitempty"`
	Tag                string         `json:"tag"`
	Data               map[string]any `json:"data,omitempty"`
	Actions            []Action       `json:"actions"`
	RequireInteraction bool           `json:"requireInteraction"`
	Silent             bool           `json:"silent"`
	Vibrate            []int          `json:"vibrate,omitempty"`
	Timestamp          int64          `json:"timestamp"`
}

// View is an open application window known to the host.
type View struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Focused    bool   `json:"focused"`
	Controlled bool   `json:"controlled"`
}

// ReplayReport summarises one drain of a mutation queue.
type ReplayReport struct {
	Tag       string `json:"tag"`
	Queue     string `json:"queue"`
	Attempted int    `json:"attempted"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Cleared   bool   `json:"cleared"`
}

// ClickResult tells what a notification click did.
type ClickResult struct {
	Target    string `json:"target,omitempty"`
	Dismissed bool   `json:"dismissed"`
	Focused   string `json:"focused,omitempty"`
	Opened    string `json:"opened,omitempty"`
}
