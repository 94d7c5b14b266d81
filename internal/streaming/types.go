package streaming

import "time"

// EventType represents the type of SSE event
type EventType string

const (
	EventTypeProgress  EventType = "progress"
	EventTypeFile      EventType = "file"
	EventTypeComplete  EventType = "complete"
	EventTypeError     EventType = "error"
	EventTypeHeartbeat EventType = "heartbeat"
)

// SSEEvent represents a Server-Sent Event
type SSEEvent struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ProgressEvent reports import progress over a batch of statement files.
type ProgressEvent struct {
	FileName   string  `json:"fileName"`
	Processed  int     `json:"processed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// FileEvent reports the outcome of one statement file.
type FileEvent struct {
	FileName     string `json:"fileName"`
	Status       string `json:"status"`
	Transactions int    `json:"transactions"`
	New          int    `json:"new"`
	Existing     int    `json:"existing"`
	Error        string `json:"error,omitempty"`
}

// ErrorEvent reports a failure that ends the import session.
type ErrorEvent struct {
	Message  string `json:"message"`
	FileName string `json:"fileName,omitempty"`
}

// NewProgressEvent creates a progress SSE event.
func NewProgressEvent(data ProgressEvent) SSEEvent {
	return SSEEvent{Type: EventTypeProgress, Timestamp: time.Now(), Data: data}
}

// NewFileEvent creates a per-file outcome SSE event.
func NewFileEvent(data FileEvent) SSEEvent {
	return SSEEvent{Type: EventTypeFile, Timestamp: time.Now(), Data: data}
}

// NewCompleteEvent creates the terminal completion SSE event.
func NewCompleteEvent(data interface{}) SSEEvent {
	return SSEEvent{Type: EventTypeComplete, Timestamp: time.Now(), Data: data}
}

// NewErrorEvent creates the terminal error SSE event.
func NewErrorEvent(data ErrorEvent) SSEEvent {
	return SSEEvent{Type: EventTypeError, Timestamp: time.Now(), Data: data}
}

// ErrorData extracts the error payload from an error event.
func (e SSEEvent) ErrorData() (ErrorEvent, bool) {
	data, ok := e.Data.(ErrorEvent)
	return data, ok
}
