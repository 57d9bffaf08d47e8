package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
)

// WriteUpdateLog stores one monitor run under logs/update_<stamp>.json and
// refreshes logs/index.json. Returns the file name written.
func (s *Store) WriteUpdateLog(log domain.UpdateLog, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := "update_" + now.Format("20060102_150405") + ".json"
	if err := writeJSON(filepath.Join(s.LogsDir(), name), log); err != nil {
		return "", err
	}
	if err := s.rebuildLogIndexLocked(); err != nil {
		return "", err
	}
	return name, nil
}

// LogIndex lists the update-log file names, newest first. The index file is
// regenerated from the directory so a hand-deleted log never leaves a
// dangling reference.
func (s *Store) LogIndex() (domain.LogIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rebuildLogIndexLocked(); err != nil {
		return domain.LogIndex{}, err
	}
	var idx domain.LogIndex
	if err := readJSON(filepath.Join(s.LogsDir(), "index.json"), &idx); err != nil {
		return domain.LogIndex{}, fmt.Errorf("load log index: %w", err)
	}
	return idx, nil
}

func (s *Store) rebuildLogIndexLocked() error {
	entries, err := os.ReadDir(s.LogsDir())
	if err != nil {
		return fmt.Errorf("list logs: %w", err)
	}
	files := []string{}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "update_") && strings.HasSuffix(name, ".json") {
			files = append(files, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return writeJSON(filepath.Join(s.LogsDir(), "index.json"), domain.LogIndex{Files: files})
}

// UpdateLog loads one log file by name. The name must be a bare file name;
// anything path-like is rejected.
func (s *Store) UpdateLog(name string) (domain.UpdateLog, error) {
	if name != filepath.Base(name) || !strings.HasSuffix(name, ".json") {
		return domain.UpdateLog{}, fmt.Errorf("invalid log name %q", name)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var log domain.UpdateLog
	if err := readJSON(filepath.Join(s.LogsDir(), name), &log); err != nil {
		return domain.UpdateLog{}, fmt.Errorf("load log %s: %w", name, err)
	}
	return log, nil
}

// UpdateLogs loads every update log, newest first.
func (s *Store) UpdateLogs() ([]domain.UpdateLog, error) {
	idx, err := s.LogIndex()
	if err != nil {
		return nil, err
	}
	logs := make([]domain.UpdateLog, 0, len(idx.Files))
	for _, name := range idx.Files {
		log, err := s.UpdateLog(name)
		if err != nil {
			s.log.Warn("skipping unreadable update log", zap.String("file", name))
			continue
		}
		logs = append(logs, log)
	}
	return logs, nil
}
