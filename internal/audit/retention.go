package audit

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Sweep removes day files older than retentionDays. It runs off the hot
// path (cron, once a day) and only ever touches files matching the
// vetd-YYYY-MM-DD.jsonl naming scheme.
func (l *Logger) Sweep(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "vetd-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		day, err := time.Parse("2006-01-02", strings.TrimSuffix(strings.TrimPrefix(name, "vetd-"), ".jsonl"))
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			path := filepath.Join(l.dir, name)
			if err := os.Remove(path); err != nil {
				slog.Warn("audit retention sweep failed", "file", path, "error", err)
				continue
			}
			slog.Info("audit log removed by retention", "file", path)
		}
	}
	return nil
}
