package event

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// DataPrefix starts the payload line of a record.
const DataPrefix = "data: "

// wireEvent is the union of every field any status object may carry.
type wireEvent struct {
	Status          *string     `json:"status"`
	Current         *int        `json:"current"`
	Total           *int        `json:"total"`
	Message         string      `json:"message"`
	Error           string      `json:"error"`
	SyncResult      *SyncResult `json:"sync_result"`
	ClassifiedCount int         `json:"classified_count"`
}

// ParseRecord decodes one event-record. Records that are not data lines
// (comments, keepalives) and empty payloads yield a nil Event and a nil
// error. A payload that is not valid JSON yields an error.
func ParseRecord(record string) (Event, error) {
	record = strings.TrimSpace(record)
	if !strings.HasPrefix(record, DataPrefix) {
		return nil, nil
	}

	payload := strings.TrimSpace(strings.TrimPrefix(record, DataPrefix))
	if payload == "" {
		return nil, nil
	}

	var w wireEvent
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return nil, fmt.Errorf("decoding event payload: %w", err)
	}

	return w.toEvent(), nil
}

func (w wireEvent) toEvent() Event {
	if w.Status == nil {
		if w.Current != nil {
			return DownloadProgress{
				Current: count(w.Current),
				Total:   count(w.Total),
				Message: w.Message,
				Legacy:  true,
			}
		}
		return Unknown{Message: w.Message}
	}

	switch tag := *w.Status; tag {
	case TagFoundMessages:
		return FoundMessages{Total: count(w.Total), Message: w.Message}
	case TagDownloadProgress, TagDownloading:
		return DownloadProgress{
			Current: count(w.Current),
			Total:   count(w.Total),
			Message: w.Message,
			tag:     tag,
		}
	case TagClassifyingProgress:
		return ClassifyingProgress{
			Current: count(w.Current),
			Total:   count(w.Total),
			Message: w.Message,
		}
	case TagComplete:
		c := Complete{ClassifiedCount: max(w.ClassifiedCount, 0), Message: w.Message}
		if w.SyncResult != nil {
			c.SyncResult = *w.SyncResult
		}
		return c
	case TagError:
		return Failed{Error: w.Error}
	default:
		return Unknown{Status: tag, Message: w.Message}
	}
}

// count treats a missing or negative count as zero.
func count(v *int) int {
	if v == nil || *v < 0 {
		return 0
	}
	return *v
}

// Parser wraps ParseRecord for a stream read loop: decode failures are
// logged and dropped so one bad record never ends the stream.
type Parser struct {
	logger  *slog.Logger
	dropped int
}

// NewParser creates a Parser that reports dropped records to logger.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Parse returns the event in record and true, or false when the record
// carries nothing to apply.
func (p *Parser) Parse(record string) (Event, bool) {
	ev, err := ParseRecord(record)
	if err != nil {
		p.dropped++
		p.logger.Warn("dropping malformed sync event",
			slog.Int("bytes", len(record)),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	if ev == nil {
		return nil, false
	}
	if u, ok := ev.(Unknown); ok {
		p.logger.Debug("ignoring sync event",
			slog.String("status", u.Status),
			slog.String("message", u.Message),
		)
	}
	return ev, true
}

// Dropped returns how many malformed records were discarded so far.
func (p *Parser) Dropped() int {
	return p.dropped
}

// ParseAll decodes records in order, skipping ignored and malformed ones.
func (p *Parser) ParseAll(records []string) []Event {
	var events []Event
	for _, rec := range records {
		if ev, ok := p.Parse(rec); ok {
			events = append(events, ev)
		}
	}
	return events
}
