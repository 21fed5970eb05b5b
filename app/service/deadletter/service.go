package deadletter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"xianyuagent/app/config"
	"xianyuagent/app/util/fault"

	"github.com/samber/do"
)

const fileName = "deadletter.jsonl"

// Service is the dead-letter sink: an append-only JSON lines file plus an
// in-memory index for the operator API.
type Service struct {
	path string

	mu      sync.RWMutex
	letters []Letter
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewSink(filepath.Join(cfg.Store.DataDir, fileName))
}

// NewSink opens the sink at path. An empty path keeps letters in memory only.
func NewSink(path string) (*Service, error) {
	s := &Service{path: path}

	if path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	letters, err := s.load()
	if err != nil {
		return nil, err
	}
	s.letters = letters

	return s, nil
}

func (s *Service) load() ([]Letter, error) {
	file, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open dead-letter file: %w", err)
	}
	defer file.Close()

	var letters []Letter

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var letter Letter
		if err = json.Unmarshal([]byte(line), &letter); err != nil {
			return nil, fmt.Errorf("failed to parse JSON line: %w", err)
		}

		letters = append(letters, letter)
	}

	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading dead-letter file: %w", err)
	}

	return letters, nil
}

// Put records a letter. A failing sink is reported as recoverable so the item
// stays in the queue instead of being lost.
func (s *Service) Put(ctx context.Context, letter Letter) error {
	if err := ctx.Err(); err != nil {
		return fault.Recoverable("dead-letter sink unavailable", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		if err := s.appendLine(letter); err != nil {
			return fault.Recoverable("dead-letter sink unavailable", err)
		}
	}

	s.letters = append(s.letters, letter)

	slog.Error("Message moved to dead-letter sink",
		"conversation_id", letter.ConversationID,
		"seq", letter.Seq,
		"kind", letter.Kind,
		"attempts", letter.Attempts,
		"reason", letter.Reason)

	return nil
}

func (s *Service) appendLine(letter Letter) error {
	file, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open dead-letter file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal letter: %w", err)
	}

	if _, err = file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write letter: %w", err)
	}

	return nil
}

// List returns letters, optionally only those of one conversation.
func (s *Service) List(conversationID string) []Letter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Letter, 0, len(s.letters))
	for _, letter := range s.letters {
		if conversationID == "" || letter.ConversationID == conversationID {
			result = append(result, letter)
		}
	}

	return result
}

func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.letters)
}
