package gmail

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"
	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	gmailv1 "google.golang.org/api/gmail/v1"

	"unsubscan/internal/model"
)

// metadataQuery limits each sub-request to the headers the report needs.
const metadataQuery = "format=metadata&metadataHeaders=From&metadataHeaders=List-Unsubscribe&metadataHeaders=List-Unsubscribe-Post"

// FetchHeaders runs a single round over ids: they are split into batches of at
// most Options.BatchSize and up to Options.Concurrency batches are in flight at
// once. Every distinct id ends up either in the returned map or in the failure
// list. The error is non-nil only for protocol problems (*ParseError) or
// cancellation; per-message failures are never returned as an error here.
func (c *Client) FetchHeaders(ctx context.Context, ids []string) (records map[string]model.MessageHeaderRecord, failures []BatchFailure, err error) {
	ids = dedupe(ids)
	ctx, span := c.tracer.Start(ctx, "gmail.FetchHeaders")
	defer func() {
		span.SetAttributes(
			attribute.Int("gmail.requested", len(ids)),
			attribute.Int("gmail.failures", len(failures)),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	records = make(map[string]model.MessageHeaderRecord, len(ids))
	if len(ids) == 0 {
		return records, nil, nil
	}

	token, err := c.accessToken()
	if err != nil {
		return nil, nil, err
	}

	batches := partition(ids, c.opts.BatchSize)
	type outcome struct {
		records  []model.MessageHeaderRecord
		failures []BatchFailure
	}
	outcomes := make([]outcome, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			recs, fails, err := c.fetchBatch(gctx, token, batch)
			if err != nil {
				return err
			}
			outcomes[i] = outcome{records: recs, failures: fails}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	// Merge only after every batch has been fully parsed.
	for _, o := range outcomes {
		for _, r := range o.records {
			records[r.ID] = r
		}
		failures = append(failures, o.failures...)
	}
	c.log.Debug().
		Int("batches", len(batches)).
		Int("ok", len(records)).
		Int("failed", len(failures)).
		Msg("batch round complete")
	return records, failures, nil
}

// fetchBatch sends one grouped request. Transport problems and non-2xx outer
// responses turn into per-id failures so the retry loop can classify them.
func (c *Client) fetchBatch(ctx context.Context, token string, ids []string) ([]model.MessageHeaderRecord, []BatchFailure, error) {
	body, contentType, err := c.buildBatchRequest(ids)
	if err != nil {
		return nil, nil, fmt.Errorf("build batch request: %w", err)
	}

	resp, err := c.transport.Post(ctx, c.opts.BatchURL, token, contentType, body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		c.log.Warn().Err(err).Int("ids", len(ids)).Msg("batch request failed in transport")
		return nil, failAll(ids, 0, truncate(err.Error())), nil
	}
	if !isSuccess(resp.StatusCode) {
		c.log.Warn().Int("status", resp.StatusCode).Int("ids", len(ids)).Msg("batch request rejected")
		return nil, failAll(ids, resp.StatusCode, diagnostic(resp.Body)), nil
	}

	return parseBatchResponse(resp.Header.Get("Content-Type"), resp.Body, ids)
}

// buildBatchRequest encodes one GET sub-request per id, tagged <item-N> by position.
func (c *Client) buildBatchRequest(ids []string) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := textproto.NewMultipartWriter(&buf)
	for i, id := range ids {
		var h textproto.Header
		h.Set("Content-Type", "application/http")
		h.Set("Content-ID", fmt.Sprintf("<item-%d>", i))
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		_, err = fmt.Fprintf(w, "GET %s/messages/%s?%s HTTP/1.1\r\n\r\n", c.itemPath, url.PathEscape(id), metadataQuery)
		if err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "multipart/mixed; boundary=" + mw.Boundary(), nil
}

// parseBatchResponse splits a grouped response into records and failures for
// ids. Parts are correlated by the index in their Content-ID; a part without
// one takes the next sequential position. Requested ids that never appear get
// a status 0 failure.
func parseBatchResponse(contentType string, body []byte, ids []string) ([]model.MessageHeaderRecord, []BatchFailure, error) {
	var outer message.Header
	outer.Set("Content-Type", contentType)
	mediaType, params, err := outer.ContentType()
	if err != nil {
		return nil, nil, parseErrorf("content type %q: %v", contentType, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, nil, parseErrorf("expected multipart response, got %q", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, nil, parseErrorf("missing multipart boundary")
	}

	var (
		records  []model.MessageHeaderRecord
		failures []BatchFailure
		seen     = make([]bool, len(ids))
	)
	mr := textproto.NewMultipartReader(bytes.NewReader(body), boundary)
	for pos := 0; ; pos++ {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, parseErrorf("read part %d: %v", pos, err)
		}

		idx, err := correlationIndex(part.Header.Get("Content-ID"), pos)
		if err != nil {
			return nil, nil, err
		}
		if idx < 0 || idx >= len(ids) {
			return nil, nil, parseErrorf("part %d: correlation index %d out of range [0,%d)", pos, idx, len(ids))
		}
		if seen[idx] {
			return nil, nil, parseErrorf("part %d: duplicate correlation index %d", pos, idx)
		}
		seen[idx] = true

		status, payload, err := parseSubResponse(part)
		if err != nil {
			return nil, nil, parseErrorf("part %d: %v", pos, err)
		}
		id := ids[idx]
		if !isSuccess(status) {
			failures = append(failures, BatchFailure{MessageID: id, Status: status, Snippet: diagnostic(payload)})
			continue
		}
		rec, err := decodeHeaders(id, payload)
		if err != nil {
			return nil, nil, parseErrorf("part %d: %v", pos, err)
		}
		records = append(records, rec)
	}

	for i, ok := range seen {
		if !ok {
			failures = append(failures, BatchFailure{MessageID: ids[i], Status: 0, Snippet: "no response part for item"})
		}
	}
	return records, failures, nil
}

// correlationIndex reads N from a Content-ID such as <response-item-N>. An
// absent Content-ID falls back to the part's position.
func correlationIndex(contentID string, pos int) (int, error) {
	cid := strings.TrimSpace(contentID)
	if cid == "" {
		return pos, nil
	}
	cid = strings.TrimSuffix(strings.TrimPrefix(cid, "<"), ">")
	at := strings.LastIndex(cid, "item-")
	if at < 0 {
		return 0, parseErrorf("unrecognized Content-ID %q", contentID)
	}
	n, err := strconv.Atoi(cid[at+len("item-"):])
	if err != nil {
		return 0, parseErrorf("Content-ID %q: bad index", contentID)
	}
	return n, nil
}

// parseSubResponse reads the embedded "HTTP/1.1 <code> <reason>" response.
func parseSubResponse(r io.Reader) (int, []byte, error) {
	br := bufio.NewReader(r)

	var line string
	for {
		l, err := br.ReadString('\n')
		line = strings.TrimSpace(l)
		if line != "" {
			break
		}
		if err != nil {
			return 0, nil, fmt.Errorf("missing status line")
		}
	}

	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return 0, nil, fmt.Errorf("malformed status line %q", line)
	}
	status, err := strconv.Atoi(fields[1])
	if err != nil || status < 100 || status > 599 {
		return 0, nil, fmt.Errorf("malformed status code in %q", line)
	}

	if _, err := textproto.ReadHeader(br); err != nil && err != io.EOF {
		return 0, nil, fmt.Errorf("read sub-response headers: %w", err)
	}
	payload, err := io.ReadAll(br)
	if err != nil {
		return 0, nil, fmt.Errorf("read sub-response body: %w", err)
	}
	return status, bytes.TrimSpace(payload), nil
}

// decodeHeaders picks From, List-Unsubscribe and List-Unsubscribe-Post out of
// a metadata-format message. Names match case-insensitively; first occurrence wins.
func decodeHeaders(id string, payload []byte) (model.MessageHeaderRecord, error) {
	rec := model.MessageHeaderRecord{ID: id}
	var msg gmailv1.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return rec, fmt.Errorf("decode message %s: %w", id, err)
	}
	if msg.Payload == nil {
		return rec, nil
	}
	for _, h := range msg.Payload.Headers {
		if h == nil {
			continue
		}
		value := h.Value
		switch strings.ToLower(h.Name) {
		case "from":
			if rec.From == nil {
				rec.From = &value
			}
		case "list-unsubscribe":
			if rec.ListUnsubscribe == nil {
				rec.ListUnsubscribe = &value
			}
		case "list-unsubscribe-post":
			if rec.ListUnsubscribePost == nil {
				rec.ListUnsubscribePost = &value
			}
		}
	}
	return rec, nil
}

func failAll(ids []string, status int, snippet string) []BatchFailure {
	out := make([]BatchFailure, len(ids))
	for i, id := range ids {
		out[i] = BatchFailure{MessageID: id, Status: status, Snippet: snippet}
	}
	return out
}

func partition(ids []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
