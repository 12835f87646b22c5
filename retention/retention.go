// Package retention removes aged screenshot artifacts from the managed
// directory.
package retention

import (
	"log"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// artifactPattern guards deletion: only files the capture manager could have
// written ({customer_id}_{yyyymmdd_hhmmss}.png) are eligible.
var artifactPattern = regexp.MustCompile(`^.+_\d{8}_\d{6}\.png$`)

// Sweeper deletes screenshots older than the retention window. Sweeping is
// idempotent: a second pass with no new files is a no-op.
type Sweeper struct {
	dir     string
	maxAge  time.Duration
	enabled bool
	now     func() time.Time
}

func NewSweeper(dir string, afterDays int, enabled bool) *Sweeper {
	return &Sweeper{
		dir:     dir,
		maxAge:  time.Duration(afterDays) * 24 * time.Hour,
		enabled: enabled,
		now:     time.Now,
	}
}

// Sweep deletes expired artifacts and returns how many were removed.
// Individual deletion failures are logged and skipped; the sweep never stops
// the caller.
func (s *Sweeper) Sweep() int {
	if !s.enabled {
		return 0
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		log.Printf("Screenshot cleanup: cannot read %s: %v", s.dir, err)
		return 0
	}

	cutoff := s.now().Add(-s.maxAge)
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() || !artifactPattern.MatchString(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Printf("Screenshot cleanup: failed to remove %s: %v", path, err)
			continue
		}
		log.Printf("Removed expired screenshot: %s", path)
		deleted++
	}
	return deleted
}
