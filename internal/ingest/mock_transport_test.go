package ingest

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// mockRoundTripper answers requests from a handler and counts calls per URL.
type mockRoundTripper struct {
	mu      sync.Mutex
	calls   map[string]int
	agents  []string
	handler func(req *http.Request, call int) (*http.Response, error)
}

func newMockRoundTripper(handler func(req *http.Request, call int) (*http.Response, error)) *mockRoundTripper {
	return &mockRoundTripper{calls: make(map[string]int), handler: handler}
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	key := req.URL.String()
	m.calls[key]++
	n := m.calls[key]
	m.agents = append(m.agents, req.Header.Get("User-Agent"))
	m.mu.Unlock()
	return m.handler(req, n)
}

func (m *mockRoundTripper) Calls(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[url]
}

func (m *mockRoundTripper) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func respond(req *http.Request, status int, contentType, body string) *http.Response {
	h := make(http.Header)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func testFetchConfig() FetchConfig {
	return FetchConfig{
		Timeout:          time.Second,
		TimeoutIncrement: time.Second,
		MaxAttempts:      3,
		BackoffBase:      time.Millisecond,
	}
}

func newTestFetcher(rt http.RoundTripper) (*RobustFetcher, *DomainHealthTracker) {
	tracker := NewDomainHealthTracker(DefaultHealthConfig())
	f := NewRobustFetcher(testFetchConfig(), tracker)
	f.Client = &http.Client{Transport: rt}
	return f, tracker
}
