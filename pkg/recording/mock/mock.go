// Package mock provides an in-memory recording.Store for tests.
//
// Store keeps metadata, audio and transcripts in maps, records every call,
// and lets a test inject per-method errors. Metadata is copied on the way in
// and out so tests can compare stored values safely.
package mock

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/callscribe/pkg/recording"
)

var _ recording.Store = (*Store)(nil)

// Store is a thread-safe in-memory recording.Store.
type Store struct {
	mu sync.Mutex

	// --- Configurable failures ---

	// GetMetadataErr, if non-nil, is returned by GetMetadata.
	GetMetadataErr error

	// GetAudioErr, if non-nil, is returned by GetAudio.
	GetAudioErr error

	// SaveTranscriptErr, if non-nil, is returned by SaveTranscript.
	SaveTranscriptErr error

	// ListErr, if non-nil, is returned by ListRecordings.
	ListErr error

	// UpdateErr, if non-nil, is returned by UpdateMetadata.
	UpdateErr error

	// --- State ---

	metadata     map[string]recording.Metadata
	audio        map[string][]byte
	transcripts  map[string][]byte
	metadataErrs map[string]error

	// --- Call records ---

	getMetadataCalls []string
	getAudioCalls    []string
	updates          []recording.Metadata
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		metadata:     map[string]recording.Metadata{},
		audio:        map[string][]byte{},
		transcripts:  map[string][]byte{},
		metadataErrs: map[string]error{},
	}
}

// FailMetadata makes GetMetadata return err for id only.
func (s *Store) FailMetadata(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadataErrs[id] = err
}

// Put seeds one recording. A nil audio slice leaves the recording without
// audio.
func (s *Store) Put(m recording.Metadata, audio []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[m.ID] = clone(m)
	if audio != nil {
		s.audio[m.ID] = slices.Clone(audio)
	}
}

// GetMetadata implements recording.Store.
func (s *Store) GetMetadata(_ context.Context, id string) (*recording.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getMetadataCalls = append(s.getMetadataCalls, id)
	if s.GetMetadataErr != nil {
		return nil, s.GetMetadataErr
	}
	if err := s.metadataErrs[id]; err != nil {
		return nil, err
	}
	m, ok := s.metadata[id]
	if !ok {
		return nil, nil
	}
	m = clone(m)
	return &m, nil
}

// GetAudio implements recording.Store.
func (s *Store) GetAudio(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getAudioCalls = append(s.getAudioCalls, id)
	if s.GetAudioErr != nil {
		return nil, s.GetAudioErr
	}
	a, ok := s.audio[id]
	if !ok {
		return nil, nil
	}
	return slices.Clone(a), nil
}

// SaveTranscript implements recording.Store. Paths have the form
// "transcripts/<conversation>/<recording>.json".
func (s *Store) SaveTranscript(_ context.Context, conversationID, recordingID string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveTranscriptErr != nil {
		return "", s.SaveTranscriptErr
	}
	path := fmt.Sprintf("transcripts/%s/%s.json", conversationID, recordingID)
	s.transcripts[path] = slices.Clone(data)
	return path, nil
}

// ListRecordings implements recording.Store.
func (s *Store) ListRecordings(_ context.Context, f recording.Filter) ([]recording.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	out := []recording.Metadata{}
	for _, m := range s.metadata {
		if f.Matches(&m) {
			out = append(out, clone(m))
		}
	}
	slices.SortFunc(out, func(a, b recording.Metadata) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// UpdateMetadata implements recording.Store.
func (s *Store) UpdateMetadata(_ context.Context, m *recording.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	if _, ok := s.metadata[m.ID]; !ok {
		return fmt.Errorf("mock: recording %q not found", m.ID)
	}
	s.metadata[m.ID] = clone(*m)
	s.updates = append(s.updates, clone(*m))
	return nil
}

// Metadata returns the stored metadata of id.
func (s *Store) Metadata(id string) (recording.Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metadata[id]
	return clone(m), ok
}

// Transcript returns the artifact stored at path.
func (s *Store) Transcript(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.transcripts[path]
	return slices.Clone(d), ok
}

// Updates returns a copy of every metadata value passed to UpdateMetadata.
func (s *Store) Updates() []recording.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.updates)
}

// GetAudioCalls returns the ids passed to GetAudio.
func (s *Store) GetAudioCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.getAudioCalls)
}

// GetMetadataCalls returns the ids passed to GetMetadata.
func (s *Store) GetMetadataCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.getMetadataCalls)
}

func clone(m recording.Metadata) recording.Metadata {
	m.Words = slices.Clone(m.Words)
	m.Attributes = maps.Clone(m.Attributes)
	return m
}
