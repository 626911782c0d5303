// Package event decodes sync stream records into typed status events.
package event

// Status tags emitted by the backend on the sync stream.
const (
	TagFoundMessages       = "found_messages"
	TagDownloadProgress    = "download_progress"
	TagDownloading         = "downloading"
	TagClassifyingProgress = "classifying_progress"
	TagComplete            = "complete"
	TagError               = "error"
)

// Event is one decoded status object. The set of implementations is
// closed: FoundMessages, DownloadProgress, ClassifyingProgress, Complete,
// Failed and Unknown.
type Event interface {
	// Tag returns the wire status tag, or "" for the legacy untagged form.
	Tag() string
	sealed()
}

// FoundMessages announces how many messages the download phase will fetch.
type FoundMessages struct {
	Total   int
	Message string
}

// DownloadProgress reports per-message download progress. Legacy is set
// when the record carried a current count but no status tag.
type DownloadProgress struct {
	Current int
	Total   int
	Message string
	Legacy  bool
	tag     string
}

// ClassifyingProgress reports auto-classification progress after download.
type ClassifyingProgress struct {
	Current int
	Total   int
	Message string
}

// SyncResult is the download summary carried by Complete.
type SyncResult struct {
	Status        string `json:"status"`
	NewMessages   int    `json:"new_messages"`
	TotalMessages int    `json:"total_messages"`
	Error         string `json:"error,omitempty"`
}

// Complete is the final event of a successful stream.
type Complete struct {
	SyncResult      SyncResult
	ClassifiedCount int
	Message         string
}

// Failed is a server-reported sync error.
type Failed struct {
	Error string
}

// Unknown is any status tag the transition table does not handle, such as
// "connecting" or "warning".
type Unknown struct {
	Status  string
	Message string
}

func (FoundMessages) Tag() string { return TagFoundMessages }

func (e DownloadProgress) Tag() string {
	if e.Legacy {
		return ""
	}
	if e.tag != "" {
		return e.tag
	}
	return TagDownloadProgress
}

func (ClassifyingProgress) Tag() string { return TagClassifyingProgress }
func (Complete) Tag() string            { return TagComplete }
func (Failed) Tag() string              { return TagError }
func (e Unknown) Tag() string           { return e.Status }

func (FoundMessages) sealed()       {}
func (DownloadProgress) sealed()    {}
func (ClassifyingProgress) sealed() {}
func (Complete) sealed()            {}
func (Failed) sealed()              {}
func (Unknown) sealed()             {}
