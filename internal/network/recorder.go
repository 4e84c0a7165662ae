// Package network records browser network traffic for timing measurements
// and HAR export.
package network

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/torosent/pagerunner/internal/browser"
	"github.com/torosent/pagerunner/internal/har"
)

var recordedKinds = []browser.EventKind{
	browser.EventRequest,
	browser.EventResponse,
	browser.EventRequestFinished,
	browser.EventRequestFailed,
	browser.EventNavigation,
	browser.EventDOMContentLoaded,
	browser.EventLoad,
}

type exchange struct {
	generation uint64
	pageRef    string
	started    time.Time
	responded  time.Time
	request    browser.NetworkEvent
	response   *browser.NetworkEvent
}

// StalePending is how long, in event time, a request issued before the last
// Reset may stay open before the recorder forgets it. Only recorders
// retaining HAR keep such requests at all.
const StalePending = 2 * time.Minute

// Option configures a Recorder.
type Option func(*Recorder)

// RetainHAR keeps every completed exchange and page for HAR export. Without
// it the recorder holds only the current accumulation window.
func RetainHAR() Option {
	return func(r *Recorder) { r.retain = true }
}

// Recorder turns network events into timing accumulations and, optionally,
// HAR entries.
//
// The accumulation covers requests issued since the last Reset. A request
// that was issued before a Reset is never counted, even when it completes
// afterwards. Retained HAR entries are kept across resets.
type Recorder struct {
	mu         sync.Mutex
	retain     bool
	generation uint64
	pending    map[string]*exchange

	responseTime   time.Duration
	completed      int
	documents      int
	documentStatus int
	dispatched     time.Time
	firstResponse  time.Time

	entries []*har.Entry
	pages   []*har.Page
	page    *har.Page
	pageSeq int
	started time.Time
	latest  time.Time
}

func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{pending: make(map[string]*exchange)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach subscribes the recorder to src until the returned func is called.
func (r *Recorder) Attach(src browser.EventSource) (detach func()) {
	return src.Subscribe(r.Record, recordedKinds...)
}

// Record consumes one event. It is safe to call from any goroutine.
func (r *Recorder) Record(ev browser.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Time.After(r.latest) {
		r.latest = ev.Time
	}
	switch ev.Kind {
	case browser.EventNavigation:
		r.startPage(ev)
	case browser.EventDOMContentLoaded:
		if r.page != nil {
			r.page.PageTimings.OnContentLoad = millis(ev.Time.Sub(r.started))
		}
	case browser.EventLoad:
		if r.page != nil {
			r.page.PageTimings.OnLoad = millis(ev.Time.Sub(r.started))
		}
	case browser.EventRequest:
		if ev.Network == nil {
			return
		}
		ref := ""
		if r.page != nil {
			ref = r.page.ID
		}
		r.pending[ev.Network.RequestID] = &exchange{
			generation: r.generation,
			pageRef:    ref,
			started:    ev.Time,
			request:    *ev.Network,
		}
	case browser.EventResponse:
		x := r.lookup(ev)
		if x == nil {
			return
		}
		resp := *ev.Network
		x.response = &resp
		x.responded = ev.Time
		if x.generation != r.generation {
			return
		}
		if !ev.Time.Before(r.dispatched) && (r.firstResponse.IsZero() || ev.Time.Before(r.firstResponse)) {
			r.firstResponse = ev.Time
		}
		if resp.IsDocument() || x.request.IsDocument() {
			r.documents++
			r.documentStatus = resp.Status
		}
	case browser.EventRequestFinished, browser.EventRequestFailed:
		x := r.lookup(ev)
		if x == nil {
			return
		}
		delete(r.pending, ev.Network.RequestID)
		r.complete(x, ev)
	}
}

func (r *Recorder) lookup(ev browser.Event) *exchange {
	if ev.Network == nil {
		return nil
	}
	return r.pending[ev.Network.RequestID]
}

func (r *Recorder) startPage(ev browser.Event) {
	r.started = ev.Time
	r.pageSeq++
	r.page = &har.Page{
		ID:              fmt.Sprintf("page_%d", r.pageSeq),
		StartedDateTime: har.Timestamp(ev.Time),
		Title:           ev.URL,
		PageTimings:     &har.PageTimings{OnContentLoad: -1, OnLoad: -1},
	}
	if r.retain {
		r.pages = append(r.pages, r.page)
	}
}

func (r *Recorder) complete(x *exchange, ev browser.Event) {
	elapsed := ev.Time.Sub(x.started)
	if elapsed < 0 {
		elapsed = 0
	}
	if x.generation == r.generation {
		r.responseTime += elapsed
		r.completed++
	}
	if r.retain {
		r.entries = append(r.entries, buildEntry(x, ev, elapsed))
	}
}

// ResponseTime is the summed duration, in milliseconds, of every request
// issued and completed since the last Reset.
func (r *Recorder) ResponseTime() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return millis(r.responseTime)
}

// Completed counts the requests included in ResponseTime.
func (r *Recorder) Completed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// DocumentLoads counts main document responses since the last Reset.
func (r *Recorder) DocumentLoads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.documents
}

// DocumentStatus is the HTTP status of the latest document response since the
// last Reset, or zero when there was none.
func (r *Recorder) DocumentStatus() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.documentStatus
}

// MarkDispatch records when an action was dispatched. FirstResponse then
// ignores responses of the current window that arrived before t.
func (r *Recorder) MarkDispatch(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatched = t
	r.firstResponse = time.Time{}
}

// FirstResponse is when the first response arrived for a request of the
// current window, at or after the dispatch mark.
func (r *Recorder) FirstResponse() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstResponse, !r.firstResponse.IsZero()
}

// Reset starts a new accumulation window and clears the dispatch mark.
// Requests still in flight belong to the old window: they are dropped
// unless HAR is retained, and then only kept until StalePending has passed.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	r.responseTime = 0
	r.completed = 0
	r.documents = 0
	r.documentStatus = 0
	r.dispatched = time.Time{}
	r.firstResponse = time.Time{}

	cutoff := r.latest.Add(-StalePending)
	for id, x := range r.pending {
		if !r.retain || x.started.Before(cutoff) {
			delete(r.pending, id)
		}
	}
}

// InFlight counts requests that have started but not finished.
func (r *Recorder) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Entries returns every completed exchange retained so far.
func (r *Recorder) Entries() []*har.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*har.Entry(nil), r.entries...)
}

// Pages returns every main frame navigation retained so far.
func (r *Recorder) Pages() []*har.Page {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*har.Page(nil), r.pages...)
}

// AppendTo adds the recorded pages and entries to doc. prefix keeps page IDs
// unique when several recorders share one document.
func (r *Recorder) AppendTo(doc *har.HAR, prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pages {
		cp := *p
		timings := *p.PageTimings
		cp.PageTimings = &timings
		cp.ID = prefix + p.ID
		doc.Log.Pages = append(doc.Log.Pages, &cp)
	}
	for _, e := range r.entries {
		cp := *e
		if cp.PageRef != "" {
			cp.PageRef = prefix + cp.PageRef
		}
		doc.Log.Entries = append(doc.Log.Entries, &cp)
	}
}

func buildEntry(x *exchange, ev browser.Event, elapsed time.Duration) *har.Entry {
	req := x.request
	entry := &har.Entry{
		PageRef:         x.pageRef,
		StartedDateTime: har.Timestamp(x.started),
		Time:            millis(elapsed),
		Request: &har.Request{
			Method:      req.Method,
			URL:         req.URL,
			HTTPVersion: "HTTP/1.1",
			Headers:     headerPairs(req.RequestHeaders),
			QueryString: queryPairs(req.URL),
			Cookies:     cookiePairs(req.RequestHeaders["Cookie"]),
			HeadersSize: -1,
			BodySize:    -1,
		},
		Response: &har.Response{
			Headers: []*har.Header{},
			Cookies: []*har.Cookie{},
			Content: &har.Content{},
		},
		Cache:   &har.Cache{},
		Timings: &har.Timings{Blocked: -1, DNS: -1, Connect: -1, SSL: -1, Wait: -1, Receive: -1},
	}

	if resp := x.response; resp != nil {
		version := httpVersion(resp.Protocol)
		entry.Request.HTTPVersion = version
		entry.Response.Status = resp.Status
		entry.Response.StatusText = resp.StatusText
		entry.Response.HTTPVersion = version
		entry.Response.Headers = headerPairs(resp.ResponseHeaders)
		entry.Response.RedirectURL = resp.ResponseHeaders["Location"]
		entry.Response.Content.MimeType = resp.MimeType
		entry.Response.HeadersSize = -1
		entry.Timings.Send = 0
		entry.Timings.Wait = millis(x.responded.Sub(x.started))
		entry.Timings.Receive = millis(ev.Time.Sub(x.responded))
	}
	if ev.Network != nil {
		entry.Response.BodySize = int(ev.Network.BodySize)
		entry.Response.Content.Size = int(ev.Network.BodySize)
		if ev.Network.ErrorText != "" {
			entry.Comment = ev.Network.ErrorText
		}
	}
	return entry
}

func httpVersion(protocol string) string {
	switch strings.ToLower(protocol) {
	case "h2", "http/2", "http/2.0":
		return "HTTP/2"
	case "h3", "http/3":
		return "HTTP/3"
	case "http/1.0":
		return "HTTP/1.0"
	default:
		return "HTTP/1.1"
	}
}

func headerPairs(headers map[string]string) []*har.Header {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*har.Header, 0, len(names))
	for _, name := range names {
		out = append(out, &har.Header{Name: name, Value: headers[name]})
	}
	return out
}

func queryPairs(raw string) []*har.QueryString {
	out := []*har.QueryString{}
	u, err := url.Parse(raw)
	if err != nil {
		return out
	}
	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range q[k] {
			out = append(out, &har.QueryString{Name: k, Value: v})
		}
	}
	return out
}

func cookiePairs(header string) []*har.Cookie {
	out := []*har.Cookie{}
	if header == "" {
		return out
	}
	for _, part := range strings.Split(header, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 {
			out = append(out, &har.Cookie{Name: kv[0], Value: kv[1]})
		}
	}
	return out
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
