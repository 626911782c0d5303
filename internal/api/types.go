package api

import (
	"fmt"
	"strings"
	"time"
)

// UnclassifiedLabel is the classification filter value that selects
// messages without a label.
const UnclassifiedLabel = "INBOX"

// MaxPageSize is the largest page the messages endpoint returns.
const MaxPageSize = 200

// Timestamp decodes the backend's datetimes, which may or may not carry a
// zone offset.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("parsing timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.Format(time.RFC3339) + `"`), nil
}

// Account is a configured mail account.
type Account struct {
	ID            int    `json:"id"`
	EmailAddress  string `json:"email_address"`
	IMAPHost      string `json:"imap_host"`
	IMAPPort      int    `json:"imap_port"`
	Username      string `json:"username"`
	IsActive      bool   `json:"is_active"`
	AutoClassify  bool   `json:"auto_classify"`
	Protocol      string `json:"protocol"`
	LastSyncError string `json:"last_sync_error"`
}

// Message is one row of the message list.
type Message struct {
	ID                  string    `json:"id"`
	AccountID           int       `json:"account_id"`
	FromName            string    `json:"from_name"`
	FromEmail           string    `json:"from_email"`
	Subject             string    `json:"subject"`
	Date                Timestamp `json:"date"`
	Snippet             string    `json:"snippet"`
	IsRead              bool      `json:"is_read"`
	IsStarred           bool      `json:"is_starred"`
	HasAttachments      bool      `json:"has_attachments"`
	ClassificationLabel string    `json:"classification_label"`
}

// Classified reports whether the message already carries a label.
func (m Message) Classified() bool {
	return m.ClassificationLabel != ""
}

// Sender returns the display name, falling back to the address.
func (m Message) Sender() string {
	if m.FromName != "" {
		return m.FromName
	}
	return m.FromEmail
}

// MessageFilter narrows a message list query. Zero values are omitted.
type MessageFilter struct {
	AccountID           int
	Folder              string
	ClassificationLabel string
	Search              string
	Limit               int
	Offset              int
}

// Classification is the outcome of classifying one message.
type Classification struct {
	FinalLabel string `json:"final_label"`
	DecidedBy  string `json:"decided_by"`
	GPTLabel   string `json:"gpt_label,omitempty"`
	QwenLabel  string `json:"qwen_label,omitempty"`
}

// ClassifyResponse is returned by the classification endpoint.
type ClassifyResponse struct {
	Message        string         `json:"message"`
	Classification Classification `json:"classification"`
}

// SyncRequest starts a streamed sync.
type SyncRequest struct {
	AccountID    int    `json:"account_id"`
	Folder       string `json:"folder,omitempty"`
	AutoClassify bool   `json:"auto_classify"`
}

// SyncAudit is one entry of the backend's sync audit log.
type SyncAudit struct {
	Timestamp Timestamp      `json:"timestamp"`
	Status    string         `json:"status"`
	Payload   map[string]any `json:"payload"`
	Error     string         `json:"error"`
}

// TokenResponse is the OAuth2 password-grant response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}
