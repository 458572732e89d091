package gmail

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBatchResponse_SuccessAndItemFailure(t *testing.T) {
	body := batchBody(
		subResponse{contentID: "<response-item-0>", status: 200, body: okMessage("m0", "A <a@x.com>", "<https://u/1>", "List-Unsubscribe=One-Click")},
		subResponse{contentID: "<response-item-1>", status: 500, body: `{"error":{"code":500,"message":"Backend Error"}}`},
	)

	records, failures, err := parseBatchResponse("multipart/mixed; boundary="+testBoundary, body, []string{"m0", "m1"})
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, "m0", records[0].ID)
	require.NotNil(t, records[0].From)
	assert.Equal(t, "A <a@x.com>", *records[0].From)
	require.NotNil(t, records[0].ListUnsubscribe)
	assert.Equal(t, "<https://u/1>", *records[0].ListUnsubscribe)
	require.NotNil(t, records[0].ListUnsubscribePost)

	require.Len(t, failures, 1)
	assert.Equal(t, "m1", failures[0].MessageID)
	assert.Equal(t, 500, failures[0].Status)
	assert.Contains(t, failures[0].Snippet, "Backend Error")
}

func TestParseBatchResponse_HeaderNamesCaseInsensitive(t *testing.T) {
	payload := `{"id":"m0","payload":{"headers":[` +
		`{"name":"FROM","value":"x@y.com"},` +
		`{"name":"list-unsubscribe","value":"<mailto:a@y.com>"},` +
		`{"name":"List-Unsubscribe","value":"<mailto:second@y.com>"}]}}`
	body := batchBody(subResponse{contentID: "<response-item-0>", status: 200, body: payload})

	records, failures, err := parseBatchResponse("multipart/mixed; boundary="+testBoundary, body, []string{"m0"})
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, records, 1)
	assert.Equal(t, "x@y.com", *records[0].From)
	assert.Equal(t, "<mailto:a@y.com>", *records[0].ListUnsubscribe)
	assert.Nil(t, records[0].ListUnsubscribePost)
}

func TestParseBatchResponse_OutOfOrderContentIDs(t *testing.T) {
	body := batchBody(
		subResponse{contentID: "<response-item-1>", status: 200, body: okMessage("b", "b@x.com", "", "")},
		subResponse{contentID: "<response-item-0>", status: 404, body: `{"error":{"code":404,"message":"Not Found"}}`},
	)
	records, failures, err := parseBatchResponse("multipart/mixed; boundary="+testBoundary, body, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "b", records[0].ID)
	require.Len(t, failures, 1)
	assert.Equal(t, "a", failures[0].MessageID)
	assert.Equal(t, 404, failures[0].Status)
}

func TestParseBatchResponse_PositionalFallback(t *testing.T) {
	body := batchBody(
		subResponse{status: 200, body: okMessage("a", "a@x.com", "", "")},
		subResponse{status: 200, body: okMessage("b", "b@x.com", "", "")},
	)
	records, failures, err := parseBatchResponse("multipart/mixed; boundary="+testBoundary, body, []string{"a", "b"})
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "b", records[1].ID)
}

func TestParseBatchResponse_MissingPartIsStatusZero(t *testing.T) {
	body := batchBody(subResponse{contentID: "<response-item-0>", status: 200, body: okMessage("a", "a@x.com", "", "")})
	records, failures, err := parseBatchResponse("multipart/mixed; boundary="+testBoundary, body, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, failures, 1)
	assert.Equal(t, BatchFailure{MessageID: "b", Status: 0, Snippet: "no response part for item"}, failures[0])
}

func TestParseBatchResponse_ProtocolErrors(t *testing.T) {
	good := batchBody(subResponse{contentID: "<response-item-0>", status: 200, body: okMessage("a", "a@x.com", "", "")})

	tests := []struct {
		name        string
		contentType string
		body        []byte
		ids         []string
	}{
		{"missing boundary", "multipart/mixed", good, []string{"a"}},
		{"not multipart", "application/json", []byte(`{}`), []string{"a"}},
		{"index out of range", "multipart/mixed; boundary=" + testBoundary,
			batchBody(subResponse{contentID: "<response-item-5>", status: 200, body: "{}"}), []string{"a"}},
		{"duplicate index", "multipart/mixed; boundary=" + testBoundary,
			batchBody(
				subResponse{contentID: "<response-item-0>", status: 200, body: okMessage("a", "", "", "")},
				subResponse{contentID: "<response-item-0>", status: 200, body: okMessage("a", "", "", "")},
			), []string{"a", "b"}},
		{"bad content id", "multipart/mixed; boundary=" + testBoundary,
			batchBody(subResponse{contentID: "<something-else>", status: 200, body: "{}"}), []string{"a"}},
		{"malformed status line", "multipart/mixed; boundary=" + testBoundary,
			[]byte("--" + testBoundary + "\r\nContent-Type: application/http\r\n\r\nNOT-HTTP garbage\r\n--" + testBoundary + "--\r\n"), []string{"a"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := parseBatchResponse(tc.contentType, tc.body, tc.ids)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrParse)
			var pe *ParseError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestCorrelationIndex(t *testing.T) {
	tests := []struct {
		cid  string
		pos  int
		want int
	}{
		{"<response-item-3>", 0, 3},
		{"response-item-12", 0, 12},
		{"<item-0>", 4, 0},
		{"", 7, 7},
	}
	for _, tc := range tests {
		got, err := correlationIndex(tc.cid, tc.pos)
		require.NoError(t, err, tc.cid)
		assert.Equal(t, tc.want, got, tc.cid)
	}
}

func TestBuildBatchRequest_TagsItemsByPosition(t *testing.T) {
	c, _ := newTestClient(t, nil, testOptions())
	body, ct, err := c.buildBatchRequest([]string{"a", "b/c"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ct, "multipart/mixed; boundary="))

	s := string(body)
	assert.Contains(t, strings.ToLower(s), "content-id: <item-0>")
	assert.Contains(t, strings.ToLower(s), "content-id: <item-1>")
	assert.Contains(t, s, "GET /gmail/v1/users/me/messages/a?format=metadata&metadataHeaders=From")
	assert.Contains(t, s, "/messages/b%2Fc?")
	assert.Equal(t, []string{"a", "b%2Fc"}, requestedIDs(t, ct, body))
}

func TestFetchHeaders_OuterFailureFailsEveryID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"Too many concurrent requests"}}`)
	}))
	defer srv.Close()

	opts := testOptions()
	opts.BatchURL = srv.URL
	opts.BatchSize = 10
	c, _ := newTestClient(t, NewHTTPTransport(srv.Client()), opts)

	records, failures, err := c.FetchHeaders(t.Context(), []string{"a", "b", "a"})
	require.NoError(t, err)
	assert.Empty(t, records)
	require.Len(t, failures, 2)
	for _, f := range failures {
		assert.Equal(t, http.StatusTooManyRequests, f.Status)
		assert.Contains(t, f.Snippet, "Too many concurrent requests")
	}
}

func TestFetchHeaders_SplitsIntoBatches(t *testing.T) {
	api := newFakeBatchAPI(t, func(string, int) int { return http.StatusOK })
	c, _ := newTestClient(t, api, testOptions())

	records, failures, err := c.FetchHeaders(t.Context(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Len(t, records, 5)
	assert.Equal(t, 3, api.posts)
}
