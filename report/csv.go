package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/yairfalse/horros/aggregate"
	"github.com/yairfalse/horros/types"
)

// csvHeader fixes the column order; downstream spreadsheets key on it.
var csvHeader = []string{
	"name",
	"id",
	"provider",
	"scope",
	"state",
	"size_class",
	"created_at",
	"age_days",
	"stopped_at",
	"stopped_days_ago",
	"stopped_at_is_exact",
	"owner",
	"total_disk_gb",
}

// RenderCSV writes the full inventory, oldest first, to any writer.
func RenderCSV(out io.Writer, records []types.InstanceRecord, basis types.AgeBasis) error {
	cw := csv.NewWriter(out)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, rec := range aggregate.TopN(records, basis, len(records)) {
		if err := cw.Write(csvRow(rec)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func (w *Writer) writeCSV(records []types.InstanceRecord, basis types.AgeBasis, at time.Time) (string, error) {
	path := artifactPath(w.OutputDir, "csv", at)

	f, err := os.Create(path) // #nosec G304
	if err != nil {
		return "", fmt.Errorf("failed to create CSV report: %w", err)
	}

	if err := RenderCSV(f, records, basis); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close CSV report: %w", err)
	}
	return path, nil
}

func csvRow(rec types.InstanceRecord) []string {
	stoppedAt := ""
	if rec.StoppedAt != nil {
		stoppedAt = rec.StoppedAt.Format(time.RFC3339)
	}
	return []string{
		rec.Name,
		rec.ID,
		rec.Provider,
		rec.Scope,
		string(rec.State),
		rec.SizeClass,
		rec.CreatedAt.Format(time.RFC3339),
		strconv.Itoa(rec.AgeDays),
		stoppedAt,
		strconv.Itoa(rec.StoppedDaysAgo),
		strconv.FormatBool(rec.StoppedAtIsExact),
		rec.Owner,
		strconv.Itoa(rec.TotalDiskGB),
	}
}
