package fetch

import (
	"net/http"
	"sync"

	"github.com/chromedp/cdproto/network"
)

// responseMeta accumulates network-level facts about the page load from
// CDP events: the main document response plus request/byte totals.
type responseMeta struct {
	mu       sync.RWMutex
	status   int
	url      string
	requests int
	bytes    int64
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	switch event := ev.(type) {
	case *network.EventResponseReceived:
		m.captureResponse(event)
	case *network.EventRequestWillBeSent:
		m.mu.Lock()
		m.requests++
		m.mu.Unlock()
	case *network.EventLoadingFinished:
		m.mu.Lock()
		m.bytes += int64(event.EncodedDataLength)
		m.mu.Unlock()
	}
}

func (m *responseMeta) captureResponse(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

// snapshot returns the document status and URL with fallbacks applied:
// a missing status defaults to 200, a missing URL to the final (or
// requested) location.
func (m *responseMeta) snapshot(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, u := m.status, m.url
	switch {
	case u != "":
	case finalURL != "":
		u = finalURL
	default:
		u = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, u
}

func (m *responseMeta) totals() (int, int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests, m.bytes
}
