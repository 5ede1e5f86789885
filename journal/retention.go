package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CleanupStats reports what a retention pass removed.
type CleanupStats struct {
	FilesRemoved int
	BytesFreed   int64
}

// Cleanup removes journal files older than the retention period.
func Cleanup(dir string, retentionDays int) (CleanupStats, error) {
	stats := CleanupStats{}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	var old []string
	for _, file := range listJournalFiles(dir) {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			old = append(old, file)
			stats.BytesFreed += info.Size()
		}
	}

	for _, file := range old {
		if err := os.Remove(file); err != nil {
			return stats, fmt.Errorf("failed to remove %s: %w", file, err)
		}
		stats.FilesRemoved++
	}
	return stats, nil
}

// Stats summarizes what is on disk.
type Stats struct {
	TotalFiles      int
	TotalSizeBytes  int64
	OldestFile      time.Time
	NewestFile      time.Time
	CurrentFileSize int64
	LastSequence    int64
}

// GetStats returns current journal statistics.
func (j *Journal) GetStats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()

	stats := Stats{LastSequence: j.sequence}

	files := listJournalFiles(j.dir)
	stats.TotalFiles = len(files)
	for i, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		stats.TotalSizeBytes += info.Size()

		modTime := info.ModTime()
		if i == 0 || modTime.Before(stats.OldestFile) {
			stats.OldestFile = modTime
		}
		if modTime.After(stats.NewestFile) {
			stats.NewestFile = modTime
		}
	}

	if info, err := j.file.Stat(); err == nil {
		stats.CurrentFileSize = info.Size()
	}
	return stats
}

// CurrentFile returns the path of the file being written.
func (j *Journal) CurrentFile() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return filepath.Join(j.dir, filepath.Base(j.file.Name()))
}
