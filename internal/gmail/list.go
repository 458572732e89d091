package gmail

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	gmailv1 "google.golang.org/api/gmail/v1"
)

// ListMessageIDs pages through every message matching after:<after> before:<before>
// and returns their ids in listing order. after and before are passed through
// verbatim; the API owns their format and inclusivity.
//
// Any non-2xx page aborts the listing with a *ListingError. No partial list is
// ever returned.
func (c *Client) ListMessageIDs(ctx context.Context, after, before string) (ids []string, err error) {
	ctx, span := c.tracer.Start(ctx, "gmail.ListMessageIDs")
	defer func() {
		span.SetAttributes(attribute.Int("gmail.message_count", len(ids)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	token, err := c.accessToken()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("after:%s before:%s", after, before)
	pageToken := ""
	pages := 0
	for {
		params := url.Values{}
		params.Set("q", query)
		params.Set("maxResults", strconv.Itoa(c.opts.PageSize))
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		page, err := c.listPage(ctx, c.opts.BaseURL+"/messages?"+params.Encode(), token)
		if err != nil {
			return nil, err
		}
		pages++
		for _, m := range page.Messages {
			if m != nil && m.Id != "" {
				ids = append(ids, m.Id)
			}
		}
		c.log.Debug().Int("page", pages).Int("ids", len(ids)).Msg("listed message page")

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	if ids == nil {
		ids = []string{}
	}
	c.log.Info().Int("messages", len(ids)).Int("pages", pages).Msg("message listing complete")
	return ids, nil
}

func (c *Client) listPage(ctx context.Context, u, token string) (*gmailv1.ListMessagesResponse, error) {
	resp, err := c.transport.Get(ctx, u, token)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ListingError{Err: err}
	}
	if !isSuccess(resp.StatusCode) {
		return nil, &ListingError{Status: resp.StatusCode, Snippet: diagnostic(resp.Body)}
	}
	var page gmailv1.ListMessagesResponse
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return nil, &ListingError{Status: resp.StatusCode, Err: fmt.Errorf("decode page: %w", err)}
	}
	return &page, nil
}
