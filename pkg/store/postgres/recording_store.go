package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/callscribe/pkg/recording"
	"github.com/MrWong99/callscribe/pkg/types"
)

// RecordingStore implements [recording.Store] over the recordings and
// transcripts tables.
type RecordingStore struct {
	db DB

	// newID generates transcript artifact ids.
	newID func() string
}

// NewRecordingStore returns a RecordingStore using db. The caller is
// responsible for running [Migrate] first.
func NewRecordingStore(db DB) *RecordingStore {
	return &RecordingStore{db: db, newID: uuid.NewString}
}

// qualityJSON is the JSONB layout of the quality column.
type qualityJSON struct {
	ErrorRate         float64 `json:"error_rate"`
	AverageConfidence float64 `json:"average_confidence"`
}

const metadataColumns = `
	id, conversation_id, created_at, transcription, words, language,
	processed, processed_at, corrected_text, correction_count, quality,
	clarification_needed, retranscribed, transcript_path, attributes`

// GetMetadata implements [recording.Store].
func (s *RecordingStore) GetMetadata(ctx context.Context, id string) (*recording.Metadata, error) {
	q := `SELECT ` + metadataColumns + ` FROM recordings WHERE id = $1`
	m, err := scanMetadata(s.db.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("recording store: get metadata %q: %w", id, err)
	}
	return m, nil
}

// GetAudio implements [recording.Store]. A recording whose audio column is
// NULL has no audio.
func (s *RecordingStore) GetAudio(ctx context.Context, id string) ([]byte, error) {
	var audio []byte
	err := s.db.QueryRow(ctx, `SELECT audio FROM recordings WHERE id = $1`, id).Scan(&audio)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("recording store: get audio %q: %w", id, err)
	}
	return audio, nil
}

// SaveTranscript implements [recording.Store]. Each call writes a new
// artifact at transcripts/<conversation>/<recording>/<uuid>.json.
func (s *RecordingStore) SaveTranscript(ctx context.Context, conversationID, recordingID string, data []byte) (string, error) {
	if !json.Valid(data) {
		return "", fmt.Errorf("recording store: transcript for %q is not valid JSON", recordingID)
	}
	path := fmt.Sprintf("transcripts/%s/%s/%s.json", conversationID, recordingID, s.newID())

	const q = `
		INSERT INTO transcripts (path, conversation_id, recording_id, data)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.db.Exec(ctx, q, path, conversationID, recordingID, data); err != nil {
		return "", fmt.Errorf("recording store: save transcript %q: %w", recordingID, err)
	}
	return path, nil
}

// ListRecordings implements [recording.Store].
func (s *RecordingStore) ListRecordings(ctx context.Context, f recording.Filter) ([]recording.Metadata, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if f.Processed != nil {
		conditions = append(conditions, "processed = "+next(*f.Processed))
	}
	if !f.From.IsZero() {
		conditions = append(conditions, "created_at >= "+next(f.From))
	}
	if !f.To.IsZero() {
		conditions = append(conditions, "created_at < "+next(f.To))
	}

	q := "SELECT " + metadataColumns + "\nFROM   recordings"
	if len(conditions) > 0 {
		q += "\nWHERE  " + strings.Join(conditions, "\n  AND  ")
	}
	q += "\nORDER  BY created_at, id"
	if f.Limit > 0 {
		q += "\nLIMIT  " + next(f.Limit)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("recording store: list: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (recording.Metadata, error) {
		m, err := scanMetadata(row)
		if err != nil {
			return recording.Metadata{}, err
		}
		return *m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording store: scan rows: %w", err)
	}
	if out == nil {
		out = []recording.Metadata{}
	}
	return out, nil
}

// UpdateMetadata implements [recording.Store]. Only the fields correction
// produces are written; audio and creation time are left alone.
func (s *RecordingStore) UpdateMetadata(ctx context.Context, m *recording.Metadata) error {
	wordsJSON, err := json.Marshal(emptySlice(m.Words))
	if err != nil {
		return fmt.Errorf("recording store: marshal words: %w", err)
	}
	qualityJSONB, err := json.Marshal(qualityJSON{ErrorRate: m.ErrorRate, AverageConfidence: m.AverageConfidence})
	if err != nil {
		return fmt.Errorf("recording store: marshal quality: %w", err)
	}
	attrJSON, err := json.Marshal(emptyMap(m.Attributes))
	if err != nil {
		return fmt.Errorf("recording store: marshal attributes: %w", err)
	}
	var processedAt *time.Time
	if !m.ProcessedAt.IsZero() {
		processedAt = &m.ProcessedAt
	}

	const q = `
		UPDATE recordings SET
			transcription = $2, words = $3, language = $4,
			processed = $5, processed_at = $6, corrected_text = $7,
			correction_count = $8, quality = $9, clarification_needed = $10,
			retranscribed = $11, transcript_path = $12, attributes = $13
		WHERE id = $1`
	tag, err := s.db.Exec(ctx, q,
		m.ID, m.Transcription, wordsJSON, m.Language,
		m.Processed, processedAt, m.CorrectedText,
		m.CorrectionCount, qualityJSONB, m.ClarificationNeeded,
		m.Retranscribed, m.TranscriptPath, attrJSON,
	)
	if err != nil {
		return fmt.Errorf("recording store: update %q: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("recording store: recording %q not found", m.ID)
	}
	return nil
}

// Insert adds a new recording with its audio. It exists for ingestion
// tooling and tests; callscribe itself only updates recordings.
func (s *RecordingStore) Insert(ctx context.Context, m *recording.Metadata, audio []byte) error {
	wordsJSON, err := json.Marshal(emptySlice(m.Words))
	if err != nil {
		return fmt.Errorf("recording store: marshal words: %w", err)
	}
	attrJSON, err := json.Marshal(emptyMap(m.Attributes))
	if err != nil {
		return fmt.Errorf("recording store: marshal attributes: %w", err)
	}
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	const q = `
		INSERT INTO recordings (id, conversation_id, created_at, audio, transcription, words, language, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.db.Exec(ctx, q,
		m.ID, m.ConversationID, createdAt, audio, m.Transcription, wordsJSON, m.Language, attrJSON,
	); err != nil {
		return fmt.Errorf("recording store: insert %q: %w", m.ID, err)
	}
	return nil
}

func scanMetadata(row pgx.Row) (*recording.Metadata, error) {
	var (
		m                             recording.Metadata
		processedAt                   *time.Time
		wordsJSON, qualJSON, attrJSON []byte
	)
	if err := row.Scan(
		&m.ID, &m.ConversationID, &m.CreatedAt, &m.Transcription, &wordsJSON, &m.Language,
		&m.Processed, &processedAt, &m.CorrectedText, &m.CorrectionCount, &qualJSON,
		&m.ClarificationNeeded, &m.Retranscribed, &m.TranscriptPath, &attrJSON,
	); err != nil {
		return nil, err
	}
	if processedAt != nil {
		m.ProcessedAt = *processedAt
	}
	if len(wordsJSON) > 0 {
		var words []types.WordConfidence
		if err := json.Unmarshal(wordsJSON, &words); err != nil {
			return nil, fmt.Errorf("unmarshal words of %q: %w", m.ID, err)
		}
		if len(words) > 0 {
			m.Words = words
		}
	}
	if len(qualJSON) > 0 {
		var q qualityJSON
		if err := json.Unmarshal(qualJSON, &q); err != nil {
			return nil, fmt.Errorf("unmarshal quality of %q: %w", m.ID, err)
		}
		m.ErrorRate, m.AverageConfidence = q.ErrorRate, q.AverageConfidence
	}
	if len(attrJSON) > 0 {
		var attrs map[string]string
		if err := json.Unmarshal(attrJSON, &attrs); err != nil {
			return nil, fmt.Errorf("unmarshal attributes of %q: %w", m.ID, err)
		}
		if len(attrs) > 0 {
			m.Attributes = attrs
		}
	}
	return &m, nil
}

func emptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func emptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
