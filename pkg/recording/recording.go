// Package recording defines the contract between callscribe and the external
// store that holds call recordings, their metadata and transcript artifacts.
//
// callscribe never owns this storage. The batch reprocessor reads metadata
// and audio through a [Store], and writes back only the fields that
// correction produces.
package recording

import (
	"context"
	"time"

	"github.com/MrWong99/callscribe/pkg/types"
)

// Metadata describes one stored recording.
type Metadata struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`

	// Transcription is the stored recogniser output. Empty when the recording
	// has never been transcribed.
	Transcription string                 `json:"transcription,omitempty"`
	Words         []types.WordConfidence `json:"words,omitempty"`
	Language      string                 `json:"language,omitempty"`

	Processed   bool      `json:"processed"`
	ProcessedAt time.Time `json:"processed_at,omitzero"`

	CorrectedText       string  `json:"corrected_text,omitempty"`
	CorrectionCount     int     `json:"correction_count"`
	ErrorRate           float64 `json:"error_rate"`
	AverageConfidence   float64 `json:"average_confidence"`
	ClarificationNeeded bool    `json:"clarification_needed"`
	Retranscribed       bool    `json:"retranscribed"`

	// TranscriptPath locates the transcript artifact written by
	// [Store.SaveTranscript].
	TranscriptPath string `json:"transcript_path,omitempty"`

	// Attributes carries store-specific fields (agent, queue, tenant).
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Filter selects recordings in [Store.ListRecordings]. Zero fields do not
// filter.
type Filter struct {
	// Processed, when non-nil, matches the processed flag.
	Processed *bool

	// From and To bound CreatedAt; From is inclusive, To exclusive.
	From time.Time
	To   time.Time

	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// Matches reports whether m passes every set criterion of f, ignoring Limit.
func (f Filter) Matches(m *Metadata) bool {
	if f.Processed != nil && m.Processed != *f.Processed {
		return false
	}
	if !f.From.IsZero() && m.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !m.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

// Unprocessed returns a filter for up to limit recordings not yet processed.
func Unprocessed(limit int) Filter {
	processed := false
	return Filter{Processed: &processed, Limit: limit}
}

// Store is the recording store collaborator. Lookups that find nothing return
// (nil, nil); errors are reserved for store failures.
//
// Implementations must be safe for concurrent use.
type Store interface {
	GetMetadata(ctx context.Context, recordingID string) (*Metadata, error)

	// GetAudio returns the encoded recording (WAV or MP3).
	GetAudio(ctx context.Context, recordingID string) ([]byte, error)

	// SaveTranscript stores a transcript artifact and returns its path.
	SaveTranscript(ctx context.Context, conversationID, recordingID string, data []byte) (string, error)

	// ListRecordings returns matching recordings ordered by CreatedAt.
	ListRecordings(ctx context.Context, filter Filter) ([]Metadata, error)

	// UpdateMetadata replaces the stored metadata of m.ID.
	UpdateMetadata(ctx context.Context, m *Metadata) error
}
