package gmail

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	gmailv1 "google.golang.org/api/gmail/v1"
)

const (
	DefaultBaseURL  = "https://gmail.googleapis.com/gmail/v1/users/me"
	DefaultBatchURL = "https://gmail.googleapis.com/batch/gmail/v1"

	// MaxBatchSize is the hard per-call limit on grouped sub-requests.
	MaxBatchSize = 100

	// MaxAttemptsLimit bounds Options.MaxAttempts accepted from configuration.
	MaxAttemptsLimit = 20
	// maxBackoff caps a single retry wait before jitter.
	maxBackoff = 5 * time.Minute
)

// Options tunes listing, batching and retries. Zero fields take defaults.
type Options struct {
	BaseURL     string
	BatchURL    string
	PageSize    int
	BatchSize   int
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
	MaxJitter   time.Duration
}

func DefaultOptions() Options {
	return Options{
		BaseURL:     DefaultBaseURL,
		BatchURL:    DefaultBatchURL,
		PageSize:    500,
		BatchSize:   20,
		Concurrency: 4,
		MaxAttempts: 4,
		BackoffBase: time.Second,
		MaxJitter:   500 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BaseURL == "" {
		o.BaseURL = d.BaseURL
	}
	if o.BatchURL == "" {
		o.BatchURL = d.BatchURL
	}
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.BatchSize > MaxBatchSize {
		o.BatchSize = MaxBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BackoffBase < 0 {
		o.BackoffBase = 0
	}
	if o.MaxJitter < 0 {
		o.MaxJitter = 0
	}
	return o
}

// Client lists and fetches message metadata for the mailbox owning the token.
// It holds no per-call state; one Client may serve concurrent callers.
type Client struct {
	transport Transport
	tokens    oauth2.TokenSource
	opts      Options
	itemPath  string // path prefix for sub-requests inside a batch
	log       zerolog.Logger
	tracer    trace.Tracer

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

func NewClient(t Transport, tokens oauth2.TokenSource, opts Options, log zerolog.Logger) *Client {
	opts = opts.withDefaults()
	itemPath := "/gmail/v1/users/me"
	if u, err := url.Parse(opts.BaseURL); err == nil && u.Path != "" {
		itemPath = u.Path
	}
	return &Client{
		transport: t,
		tokens:    tokens,
		opts:      opts,
		itemPath:  itemPath,
		log:       log,
		tracer:    otel.Tracer("unsubscan/internal/gmail"),
		sleep:     sleepContext,
		jitter:    uniformJitter,
	}
}

// Options returns the effective options after defaults were applied.
func (c *Client) Options() Options { return c.opts }

func (c *Client) accessToken() (string, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("obtain access token: %w", err)
	}
	return tok.AccessToken, nil
}

// Profile returns the authenticated mailbox profile.
func (c *Client) Profile(ctx context.Context) (*gmailv1.Profile, error) {
	token, err := c.accessToken()
	if err != nil {
		return nil, err
	}
	resp, err := c.transport.Get(ctx, c.opts.BaseURL+"/profile", token)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, fmt.Errorf("get profile: status %d: %s", resp.StatusCode, diagnostic(resp.Body))
	}
	var p gmailv1.Profile
	if err := json.Unmarshal(resp.Body, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}
