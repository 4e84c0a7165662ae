// Package har models HTTP Archive 1.2 documents: the recorder builds them
// from browser network events and the CLI writes them next to the results.
package har

// HAR is the document root.
type HAR struct {
	Log *Log `json:"log"`
}

type Log struct {
	Version string   `json:"version"`
	Creator *Creator `json:"creator"`
	Browser *Browser `json:"browser,omitempty"`
	Pages   []*Page  `json:"pages,omitempty"`
	Entries []*Entry `json:"entries"`
	Comment string   `json:"comment,omitempty"`
}

type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Browser struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Page groups the entries loaded by one main frame navigation.
type Page struct {
	ID              string       `json:"id"`
	StartedDateTime string       `json:"startedDateTime"`
	Title           string       `json:"title"`
	PageTimings     *PageTimings `json:"pageTimings"`
}

// PageTimings are milliseconds since StartedDateTime; -1 when not reached.
type PageTimings struct {
	OnContentLoad float64 `json:"onContentLoad"`
	OnLoad        float64 `json:"onLoad"`
}

// Entry is one request/response exchange. Time is the total in milliseconds.
type Entry struct {
	PageRef         string    `json:"pageref,omitempty"`
	StartedDateTime string    `json:"startedDateTime"`
	Time            float64   `json:"time"`
	Request         *Request  `json:"request"`
	Response        *Response `json:"response"`
	Cache           *Cache    `json:"cache"`
	Timings         *Timings  `json:"timings"`
	ServerIPAddress string    `json:"serverIPAddress,omitempty"`
	Comment         string    `json:"comment,omitempty"`
}

type Request struct {
	Method      string         `json:"method"`
	URL         string         `json:"url"`
	HTTPVersion string         `json:"httpVersion"`
	Headers     []*Header      `json:"headers"`
	QueryString []*QueryString `json:"queryString"`
	Cookies     []*Cookie      `json:"cookies"`
	HeadersSize int            `json:"headersSize"`
	BodySize    int            `json:"bodySize"`
}

type Response struct {
	Status      int       `json:"status"`
	StatusText  string    `json:"statusText"`
	HTTPVersion string    `json:"httpVersion"`
	Headers     []*Header `json:"headers"`
	Cookies     []*Cookie `json:"cookies"`
	Content     *Content  `json:"content"`
	RedirectURL string    `json:"redirectURL"`
	HeadersSize int       `json:"headersSize"`
	BodySize    int       `json:"bodySize"`
	Comment     string    `json:"comment,omitempty"`
}

type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type QueryString struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Content struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
}

// Cache is always empty; the browser cache state is not observed.
type Cache struct{}

// Timings splits Entry.Time. Phases that were not measured are -1.
type Timings struct {
	Blocked float64 `json:"blocked"`
	DNS     float64 `json:"dns"`
	Connect float64 `json:"connect"`
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
	SSL     float64 `json:"ssl"`
}
