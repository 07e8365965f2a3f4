package callrecord

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalSaver writes each record to <root>/<YYYYMMDD>/<call_id>.json
type LocalSaver struct {
	root string
}

// NewLocalSaver creates a saver rooted at root
func NewLocalSaver(root string) *LocalSaver {
	return &LocalSaver{root: root}
}

func (s *LocalSaver) Name() string { return "local" }

// Path returns where rec is stored
func (s *LocalSaver) Path(rec *CallRecord) string {
	return filepath.Join(s.root, rec.datePrefix(), rec.CallID+".json")
}

func (s *LocalSaver) Save(_ context.Context, rec *CallRecord) error {
	if err := rec.checkID(); err != nil {
		return err
	}
	data, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode call record: %w", err)
	}

	path := s.Path(rec)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create call record dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write call record: %w", err)
	}
	return nil
}
