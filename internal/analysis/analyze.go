// Package analysis turns fetched message headers into a per-sender
// unsubscribe report. It performs no I/O.
package analysis

import (
	"math"
	"sort"

	"unsubscan/internal/model"
	"unsubscan/internal/util"
)

// unknownSender stands in for a missing From header.
const unknownSender = "unknown"

// senderAcc accumulates one sender's messages during a single Analyze call.
type senderAcc struct {
	name        string
	email       string
	count       int
	httpURL     string
	mailtoURL   string
	hasOneClick bool
}

// Analyze groups unsubscribable messages by normalized sender email, picks the
// best unsubscribe link per sender and computes summary statistics.
//
// Messages without a List-Unsubscribe header, or with an empty one, count
// toward TotalMessages only.
// Within a sender the first non-empty http and mailto targets win, and a single
// message carrying List-Unsubscribe-Post upgrades the whole sender to one-click.
// Senders are ordered by message count descending; ties keep encounter order.
func Analyze(records []model.MessageHeaderRecord) model.AnalysisReport {
	accs := make(map[string]*senderAcc)
	var order []*senderAcc
	unsubscribable := 0

	for _, r := range records {
		if r.ListUnsubscribe == nil || *r.ListUnsubscribe == "" {
			continue
		}
		unsubscribable++

		from := unknownSender
		if r.From != nil {
			from = *r.From
		}
		sender := util.ParseFrom(from)
		unsub := util.ParseListUnsubscribe(*r.ListUnsubscribe)
		oneClick := r.ListUnsubscribePost != nil

		acc, ok := accs[sender.Email]
		if !ok {
			acc = &senderAcc{name: sender.Name, email: sender.Email}
			accs[sender.Email] = acc
			order = append(order, acc)
		}
		acc.count++
		if acc.httpURL == "" {
			acc.httpURL = unsub.HTTPURL
		}
		if acc.mailtoURL == "" {
			acc.mailtoURL = unsub.MailtoURL
		}
		if oneClick {
			acc.hasOneClick = true
		}
	}

	senders := make([]model.SenderSummary, 0, len(order))
	for _, acc := range order {
		senders = append(senders, acc.summary())
	}
	sort.SliceStable(senders, func(i, j int) bool {
		return senders[i].MessageCount > senders[j].MessageCount
	})

	return model.AnalysisReport{
		TotalMessages:          len(records),
		UnsubscribableMessages: unsubscribable,
		Percentage:             percentage(unsubscribable, len(records)),
		UniqueSenders:          len(senders),
		Senders:                senders,
	}
}

func (a *senderAcc) summary() model.SenderSummary {
	url := a.httpURL
	if url == "" {
		url = a.mailtoURL
	}
	return model.SenderSummary{
		Name:           a.name,
		Email:          a.email,
		MessageCount:   a.count,
		UnsubscribeURL: url,
		LinkType:       ClassifyLink(a.httpURL, a.hasOneClick),
	}
}

// ClassifyLink decides the unsubscribe mechanism. One-click requires an http
// target; without one the sender falls back to mailto.
func ClassifyLink(httpURL string, oneClick bool) model.LinkType {
	switch {
	case httpURL != "" && oneClick:
		return model.LinkOneClick
	case httpURL != "":
		return model.LinkHTTP
	default:
		return model.LinkMailto
	}
}

func percentage(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}
