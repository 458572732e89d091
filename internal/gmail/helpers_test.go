package gmail

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const testBoundary = "batch_test_boundary"

func testOptions() Options {
	return Options{
		BaseURL:     "https://api.test/gmail/v1/users/me",
		BatchURL:    "https://api.test/batch/gmail/v1",
		PageSize:    2,
		BatchSize:   2,
		Concurrency: 2,
		MaxAttempts: 4,
		BackoffBase: 10 * time.Millisecond,
		MaxJitter:   0,
	}
}

// newTestClient returns a client whose sleeps are recorded instead of taken.
func newTestClient(t *testing.T, tr Transport, opts Options) (*Client, *[]time.Duration) {
	t.Helper()
	c := NewClient(tr, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"}), opts, zerolog.Nop())
	var waits []time.Duration
	var mu sync.Mutex
	c.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
		return ctx.Err()
	}
	c.jitter = func(time.Duration) time.Duration { return 0 }
	return c, &waits
}

type subResponse struct {
	contentID string // empty omits the header
	status    int
	body      string
}

func okMessage(id, from, unsub, post string) string {
	var hs []string
	if from != "" {
		hs = append(hs, fmt.Sprintf(`{"name":"From","value":%q}`, from))
	}
	if unsub != "" {
		hs = append(hs, fmt.Sprintf(`{"name":"List-Unsubscribe","value":%q}`, unsub))
	}
	if post != "" {
		hs = append(hs, fmt.Sprintf(`{"name":"List-Unsubscribe-Post","value":%q}`, post))
	}
	return fmt.Sprintf(`{"id":%q,"payload":{"headers":[%s]}}`, id, strings.Join(hs, ","))
}

func batchBody(parts ...subResponse) []byte {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString("--" + testBoundary + "\r\n")
		b.WriteString("Content-Type: application/http\r\n")
		if p.contentID != "" {
			b.WriteString("Content-ID: " + p.contentID + "\r\n")
		}
		b.WriteString("\r\n")
		fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", p.status, http.StatusText(p.status))
		b.WriteString("Content-Type: application/json; charset=UTF-8\r\n\r\n")
		b.WriteString(p.body + "\r\n")
	}
	b.WriteString("--" + testBoundary + "--\r\n")
	return []byte(b.String())
}

func batchResponse(parts ...subResponse) *Response {
	h := http.Header{}
	h.Set("Content-Type", "multipart/mixed; boundary="+testBoundary)
	return &Response{StatusCode: http.StatusOK, Header: h, Body: batchBody(parts...)}
}

// requestedIDs decodes the message ids out of a grouped request body, in order.
func requestedIDs(t *testing.T, contentType string, body []byte) []string {
	t.Helper()
	var h message.Header
	h.Set("Content-Type", contentType)
	_, params, err := h.ContentType()
	if err != nil {
		t.Fatalf("content type: %v", err)
	}
	mr := textproto.NewMultipartReader(bytes.NewReader(body), params["boundary"])
	var ids []string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return ids
		}
		if err != nil {
			t.Fatalf("next part: %v", err)
		}
		line, _ := bufio.NewReader(p).ReadString('\n')
		fields := strings.Fields(line)
		if len(fields) < 2 {
			t.Fatalf("bad request line %q", line)
		}
		path := strings.SplitN(fields[1], "?", 2)[0]
		ids = append(ids, path[strings.LastIndex(path, "/")+1:])
	}
}

// fakeBatchAPI answers grouped requests from a per-id status script.
type fakeBatchAPI struct {
	t *testing.T

	mu      sync.Mutex
	calls   map[string]int
	posts   int
	statusf func(id string, call int) int
}

func newFakeBatchAPI(t *testing.T, statusf func(id string, call int) int) *fakeBatchAPI {
	return &fakeBatchAPI{t: t, calls: map[string]int{}, statusf: statusf}
}

func (f *fakeBatchAPI) Get(ctx context.Context, url, bearerToken string) (*Response, error) {
	f.t.Fatalf("unexpected GET %s", url)
	return nil, nil
}

func (f *fakeBatchAPI) Post(ctx context.Context, url, bearerToken, contentType string, body []byte) (*Response, error) {
	ids := requestedIDs(f.t, contentType, body)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts++
	parts := make([]subResponse, 0, len(ids))
	for i, id := range ids {
		f.calls[id]++
		status := f.statusf(id, f.calls[id])
		p := subResponse{contentID: fmt.Sprintf("<response-item-%d>", i), status: status}
		switch {
		case status == http.StatusOK:
			p.body = okMessage(id, id+" <"+id+"@x.com>", "<mailto:u@"+id+">", "")
		case status == http.StatusForbidden:
			p.body = `{"error":{"code":403,"message":"Rate Limit Exceeded","errors":[{"reason":"rateLimitExceeded"}]}}`
		default:
			p.body = fmt.Sprintf(`{"error":{"code":%d,"message":"boom"}}`, status)
		}
		parts = append(parts, p)
	}
	return batchResponse(parts...), nil
}

func (f *fakeBatchAPI) callsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}
