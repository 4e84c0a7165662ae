package browser

import "time"

// EventKind identifies what a browser event describes.
type EventKind string

const (
	EventDialog           EventKind = "dialog"
	EventNavigation       EventKind = "navigation"
	EventLoad             EventKind = "load"
	EventDOMContentLoaded EventKind = "domcontentloaded"
	EventRequest          EventKind = "request"
	EventResponse         EventKind = "response"
	EventRequestFinished  EventKind = "requestfinished"
	EventRequestFailed    EventKind = "requestfailed"
	EventConsole          EventKind = "console"
)

// NetworkKinds lists every event kind produced by the network domain.
var NetworkKinds = []EventKind{EventRequest, EventResponse, EventRequestFinished, EventRequestFailed}

// Event is a single signal published by a Client. Exactly one of the payload
// pointers is set for dialog, network and console events.
type Event struct {
	Kind    EventKind
	Time    time.Time
	URL     string
	Dialog  *Dialog
	Network *NetworkEvent
	Console *ConsoleMessage
}

// Dialog describes a JavaScript dialog opened by the page.
type Dialog struct {
	Type          string // alert, confirm, prompt, beforeunload
	Message       string
	DefaultPrompt string
}

// NetworkEvent carries the request/response fields the recorder needs.
type NetworkEvent struct {
	RequestID       string
	Method          string
	URL             string
	ResourceType    string
	Status          int
	StatusText      string
	MimeType        string
	Protocol        string
	RequestHeaders  map[string]string
	ResponseHeaders map[string]string
	BodySize        int64
	ErrorText       string
}

// IsDocument reports whether the request loads a top level document.
func (n *NetworkEvent) IsDocument() bool {
	return n != nil && n.ResourceType == "Document"
}

// ConsoleMessage is a console API call made by the page.
type ConsoleMessage struct {
	Type string
	Text string
}
