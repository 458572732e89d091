// Package scan wires listing, header retrieval and aggregation into one run.
package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"unsubscan/internal/analysis"
	"unsubscan/internal/gmail"
	"unsubscan/internal/model"
)

// Source is the mailbox side of a scan. *gmail.Client implements it.
type Source interface {
	ListMessageIDs(ctx context.Context, after, before string) ([]string, error)
	FetchAllHeaders(ctx context.Context, ids []string) ([]model.MessageHeaderRecord, error)
}

// Run lists every message in [after, before), fetches its headers and
// aggregates the result. Any listing or fetch error aborts the run; an empty
// mailbox is a valid, empty report.
func Run(ctx context.Context, src Source, after, before string) (model.AnalysisReport, error) {
	ids, err := src.ListMessageIDs(ctx, after, before)
	if err != nil {
		return model.AnalysisReport{}, err
	}
	records, err := src.FetchAllHeaders(ctx, ids)
	if err != nil {
		return model.AnalysisReport{}, err
	}
	if len(records) != len(ids) {
		return model.AnalysisReport{}, fmt.Errorf("%w: got %d records for %d ids", gmail.ErrMissingRecord, len(records), len(ids))
	}
	return analysis.Analyze(records), nil
}

// Scanner runs scans for callers that hold a bearer token rather than a
// token source, such as the HTTP API.
type Scanner struct {
	transport gmail.Transport
	opts      gmail.Options
	log       zerolog.Logger
}

func NewScanner(t gmail.Transport, opts gmail.Options, log zerolog.Logger) *Scanner {
	return &Scanner{transport: t, opts: opts, log: log}
}

func (s *Scanner) Scan(ctx context.Context, accessToken, after, before string) (model.AnalysisReport, error) {
	start := time.Now()
	client := gmail.NewClient(s.transport, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}), s.opts, s.log)
	report, err := Run(ctx, client, after, before)
	if err != nil {
		s.log.Error().Err(err).Str("after", after).Str("before", before).Msg("scan failed")
		return report, err
	}
	s.log.Info().
		Int("messages", report.TotalMessages).
		Int("senders", report.UniqueSenders).
		Dur("took", time.Since(start)).
		Msg("scan complete")
	return report, nil
}
