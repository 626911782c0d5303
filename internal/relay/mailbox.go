// Package relay serves the backend's sync stream, message list and
// classification endpoints for a single account straight from an IMAP
// mailbox. It is a development stand-in: all state lives in memory.
package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
)

// Mail is one fetched message.
type Mail struct {
	UID         uint32
	MessageID   string
	Subject     string
	FromName    string
	FromEmail   string
	To          []string
	Cc          []string
	Date        time.Time
	Seen        bool
	TextBody    string
	HTMLBody    string
	Attachments int
}

const snippetLen = 200

// Snippet returns the start of the text body with whitespace collapsed.
func (m Mail) Snippet() string {
	s := strings.Join(strings.Fields(m.TextBody), " ")
	if r := []rune(s); len(r) > snippetLen {
		return string(r[:snippetLen])
	}
	return s
}

// Recipients returns the To and Cc addresses.
func (m Mail) Recipients() []string {
	return slices.Concat(m.To, m.Cc)
}

// Mailbox opens sessions against the mail server.
type Mailbox interface {
	Connect(ctx context.Context) (Conn, error)
}

// Conn is one authenticated mailbox session. It is not safe for
// concurrent use.
type Conn interface {
	Select(ctx context.Context, folder string) error
	// NewUIDs returns the UIDs above after in ascending order.
	NewUIDs(ctx context.Context, after uint32) ([]uint32, error)
	Fetch(ctx context.Context, uid uint32) (*Mail, error)
	Close() error
}

// IMAPMailbox connects to an IMAP server with go-imap v2.
type IMAPMailbox struct {
	addr     string
	username string
	password string
	tls      bool
}

var _ Mailbox = (*IMAPMailbox)(nil)

// NewIMAPMailbox creates a mailbox for addr (host:port). With tls unset the
// connection is upgraded through STARTTLS.
func NewIMAPMailbox(addr, username, password string, tls bool) *IMAPMailbox {
	return &IMAPMailbox{
		addr:     addr,
		username: username,
		password: password,
		tls:      tls,
	}
}

// Connect dials the server and logs in.
func (m *IMAPMailbox) Connect(_ context.Context) (Conn, error) {
	var (
		client *imapclient.Client
		err    error
	)
	if m.tls {
		client, err = imapclient.DialTLS(m.addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(m.addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", m.addr, err)
	}

	if err := client.Login(m.username, m.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("authentication failed for %s: %w", m.username, err)
	}

	return &imapConn{client: client}, nil
}

type imapConn struct {
	client *imapclient.Client
}

func (c *imapConn) Select(_ context.Context, folder string) error {
	if _, err := c.client.Select(folder, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", folder, err)
	}
	return nil
}

func (c *imapConn) NewUIDs(_ context.Context, after uint32) ([]uint32, error) {
	var set imap.UIDSet
	set.AddRange(imap.UID(after+1), 0)

	data, err := c.client.UIDSearch(&imap.SearchCriteria{UID: []imap.UIDSet{set}}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching UIDs after %d: %w", after, err)
	}

	// "n:*" matches the highest UID even when it is below n.
	var uids []uint32
	for _, uid := range data.AllUIDs() {
		if uint32(uid) > after {
			uids = append(uids, uint32(uid))
		}
	}
	slices.Sort(uids)
	return uids, nil
}

func (c *imapConn) Fetch(_ context.Context, uid uint32) (*Mail, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := c.client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message UID %d: %w", uid, err)
	}

	m := mailFromBuffer(buf)
	if raw := buf.FindBodySection(bodySection); raw != nil {
		m.TextBody, m.HTMLBody, m.Attachments = parseBody(raw)
	}

	if err := fetchCmd.Close(); err != nil {
		return m, fmt.Errorf("fetching message UID %d: %w", uid, err)
	}
	return m, nil
}

func (c *imapConn) Close() error {
	return c.client.Logout().Wait()
}

func mailFromBuffer(buf *imapclient.FetchMessageBuffer) *Mail {
	m := &Mail{UID: uint32(buf.UID)}

	if env := buf.Envelope; env != nil {
		m.MessageID = env.MessageID
		m.Subject = env.Subject
		m.Date = env.Date
		if len(env.From) > 0 {
			m.FromName = env.From[0].Name
			m.FromEmail = env.From[0].Addr()
		}
		for _, a := range env.To {
			m.To = append(m.To, a.Addr())
		}
		for _, a := range env.Cc {
			m.Cc = append(m.Cc, a.Addr())
		}
	}

	m.Seen = slices.Contains(buf.Flags, imap.FlagSeen)
	return m
}

// parseBody extracts the text and HTML bodies of a raw RFC 5322 message and
// counts its attachments. Unparseable input is returned as plain text.
func parseBody(raw []byte) (text, html string, attachments int) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw), "", 0
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case (contentType == "" || strings.HasPrefix(contentType, "text/plain")) && text == "":
				text = string(body)
			case strings.HasPrefix(contentType, "text/html") && html == "":
				html = string(body)
			}
		case *mail.AttachmentHeader:
			attachments++
		}
	}

	return text, html, attachments
}
