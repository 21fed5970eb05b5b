package conversation

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const snapshotFile = "conversations.jsonl"

func (s *Service) load() error {
	if s.path == "" {
		return nil
	}

	file, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open conversations file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var state State
		if err = json.Unmarshal([]byte(line), &state); err != nil {
			return fmt.Errorf("failed to parse JSON line: %w", err)
		}
		if state.ID == "" {
			continue
		}

		s.entries[state.ID] = &entry{state: state}
	}

	if err = scanner.Err(); err != nil {
		return fmt.Errorf("error reading conversations file: %w", err)
	}

	slog.Info("Loaded conversations", "count", len(s.entries))

	return nil
}

// Save writes a snapshot of every conversation, one JSON object per line.
func (s *Service) Save() error {
	if s.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	tmp := s.path + ".tmp"

	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create/open conversations file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)

	for _, state := range s.List() {
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation: %w", err)
		}
		if _, err = writer.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write conversation: %w", err)
		}
	}

	if err = writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	if err = file.Close(); err != nil {
		return fmt.Errorf("failed to close conversations file: %w", err)
	}

	return os.Rename(tmp, s.path)
}
