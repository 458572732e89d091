package model

// MessageHeaderRecord holds the headers fetched for one message. A nil field
// means the header was absent from the message.
type MessageHeaderRecord struct {
	ID                  string
	From                *string
	ListUnsubscribe     *string // List-Unsubscribe header value
	ListUnsubscribePost *string // List-Unsubscribe-Post header value
}

// LinkType is the best unsubscribe mechanism found for a sender.
type LinkType string

const (
	LinkHTTP     LinkType = "http"
	LinkMailto   LinkType = "mailto"
	LinkOneClick LinkType = "one-click"
)

// ParsedSender is the display name and lower-cased address taken from a From header.
type ParsedSender struct {
	Name  string
	Email string
}

// ParsedUnsubscribe holds the first http(s) and mailto targets of a
// List-Unsubscribe header. Empty means not present.
type ParsedUnsubscribe struct {
	HTTPURL   string
	MailtoURL string
}

// SenderSummary aggregates unsubscribable messages by normalized sender email.
type SenderSummary struct {
	Name           string   `json:"name"`
	Email          string   `json:"email"`
	MessageCount   int      `json:"messageCount"`
	UnsubscribeURL string   `json:"unsubscribeUrl"`
	LinkType       LinkType `json:"linkType"`
	ClickedAt      *string  `json:"clickedAt,omitempty"` // set once the user acted on it (saved analyses only)
}

// AnalysisReport is the result of one aggregation pass.
type AnalysisReport struct {
	TotalMessages          int             `json:"totalEmails"`
	UnsubscribableMessages int             `json:"unsubscribableEmails"`
	Percentage             int             `json:"percentage"`
	UniqueSenders          int             `json:"uniqueSenders"`
	Senders                []SenderSummary `json:"senders"`
}

// SavedAnalysis is a persisted report. Senders is only populated when a single
// analysis is loaded.
type SavedAnalysis struct {
	ID                     string          `json:"id" db:"id"`
	UserEmail              string          `json:"userEmail" db:"user_email"`
	DateRangeStart         string          `json:"dateRangeStart" db:"date_range_start"`
	DateRangeEnd           string          `json:"dateRangeEnd" db:"date_range_end"`
	TotalMessages          int             `json:"totalEmails" db:"total_emails"`
	UnsubscribableMessages int             `json:"unsubscribableEmails" db:"unsubscribable_emails"`
	Percentage             int             `json:"percentage" db:"percentage"`
	UniqueSenders          int             `json:"uniqueSenders" db:"unique_senders"`
	CreatedAt              string          `json:"createdAt" db:"created_at"`
	Senders                []SenderSummary `json:"senders,omitempty" db:"-"`
}
