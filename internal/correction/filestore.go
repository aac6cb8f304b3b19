package correction

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Compile-time interface check.
var _ PatternStore = (*FileStore)(nil)

// patternLine is a single learned pattern written to the file store.
type patternLine struct {
	Timestamp time.Time `json:"timestamp"`
	Original  string    `json:"original"`
	Corrected string    `json:"corrected"`
}

// FileStore persists learned patterns as append-only JSON lines in a local
// file. On load the last line for a key wins. Suitable for single-node
// deployments; use the PostgreSQL store when several processes learn.
// Thread-safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore backed by path. The file is created on
// the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads every pattern in the file. A missing file yields an empty map.
// Malformed lines are skipped with a warning.
func (s *FileStore) Load(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]string{}
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("correction: open patterns file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var p patternLine
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			slog.Warn("correction: skipping malformed pattern line", "path", s.path, "line", line, "err", err)
			continue
		}
		if k := normalizeKey(p.Original); k != "" && p.Corrected != "" {
			out[k] = p.Corrected
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("correction: read patterns file: %w", err)
	}
	return out, nil
}

// Save appends one pattern to the file.
func (s *FileStore) Save(_ context.Context, original, corrected string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(patternLine{
		Timestamp: time.Now().UTC(),
		Original:  original,
		Corrected: corrected,
	})
	if err != nil {
		return fmt.Errorf("correction: marshal pattern: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("correction: open patterns file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("correction: write pattern: %w", err)
	}
	return nil
}
