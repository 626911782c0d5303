package relay

import (
	"slices"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mail-triage/internal/api"
)

const maxAudits = 10

// entry is a stored message and its label.
type entry struct {
	id     string
	folder string
	mail   Mail
	class  *api.Classification
}

// state is the relay's in-memory mail store.
type state struct {
	mu      gosync.Mutex
	lastUID map[string]uint32
	entries []*entry
	byID    map[string]*entry
	audits  []api.SyncAudit
}

func newState() *state {
	return &state{
		lastUID: make(map[string]uint32),
		byID:    make(map[string]*entry),
	}
}

func (s *state) last(folder string) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUID[folder]
}

// add stores m and advances the folder's high-water UID.
func (s *state) add(folder string, m Mail) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{id: uuid.New().String(), folder: folder, mail: m}
	s.entries = append(s.entries, e)
	s.byID[e.id] = e
	s.lastUID[folder] = max(s.lastUID[folder], m.UID)
	return e.id
}

func (s *state) get(id string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	return e, ok
}

func (s *state) classification(id string) (api.Classification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byID[id]; ok && e.class != nil {
		return *e.class, true
	}
	return api.Classification{}, false
}

// label returns the existing classification of id, or stores c.
func (s *state) label(id string, c api.Classification) api.Classification {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.byID[id]
	if e.class == nil {
		e.class = &c
	}
	return *e.class
}

// unlabeled returns up to limit unlabeled entries, newest first.
func (s *state) unlabeled(limit int) []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entry
	for _, e := range s.sortedLocked() {
		if e.class == nil {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out
}

type query struct {
	folder string
	label  string
	search string
	limit  int
	offset int
}

// list returns one page of messages matching q, newest first.
func (s *state) list(accountID int, q query) []api.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	search := strings.ToLower(q.search)
	var out []api.Message
	skipped := 0
	for _, e := range s.sortedLocked() {
		if q.folder != "" && e.folder != q.folder {
			continue
		}
		switch {
		case q.label == api.UnclassifiedLabel && e.class != nil:
			continue
		case q.label != "" && q.label != api.UnclassifiedLabel && (e.class == nil || e.class.FinalLabel != q.label):
			continue
		}
		if search != "" && !matches(e.mail, search) {
			continue
		}
		if skipped < q.offset {
			skipped++
			continue
		}
		out = append(out, e.message(accountID))
		if len(out) == q.limit {
			break
		}
	}
	return out
}

func matches(m Mail, search string) bool {
	for _, field := range []string{m.Subject, m.FromName, m.FromEmail} {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}

func (s *state) sortedLocked() []*entry {
	sorted := slices.Clone(s.entries)
	slices.SortStableFunc(sorted, func(a, b *entry) int {
		return b.mail.Date.Compare(a.mail.Date)
	})
	return sorted
}

func (e *entry) message(accountID int) api.Message {
	msg := api.Message{
		ID:             e.id,
		AccountID:      accountID,
		FromName:       e.mail.FromName,
		FromEmail:      e.mail.FromEmail,
		Subject:        e.mail.Subject,
		Date:           api.Timestamp{Time: e.mail.Date},
		Snippet:        e.mail.Snippet(),
		IsRead:         e.mail.Seen,
		HasAttachments: e.mail.Attachments > 0,
	}
	if e.class != nil {
		msg.ClassificationLabel = e.class.FinalLabel
	}
	return msg
}

func (s *state) audit(a api.SyncAudit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.Timestamp.IsZero() {
		a.Timestamp = api.Timestamp{Time: time.Now()}
	}
	s.audits = append([]api.SyncAudit{a}, s.audits...)
	if len(s.audits) > maxAudits {
		s.audits = s.audits[:maxAudits]
	}
}

func (s *state) recentAudits() []api.SyncAudit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.audits)
}
