// Package report renders filtered instance records into the run
// artifacts: a CSV inventory, an HTML report, and console summaries.
// All renderers sort oldest first under the run's age basis.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yairfalse/horros/aggregate"
	"github.com/yairfalse/horros/telemetry"
	"github.com/yairfalse/horros/types"
)

const fileTimeLayout = "20060102_150405"

// DefaultHTMLTopN is how many oldest instances the HTML report
// highlights.
const DefaultHTMLTopN = 20

// Meta carries run context into report headers.
type Meta struct {
	Provider string
	Label    string
	Basis    types.AgeBasis
	Stats    types.RunStats
}

// Files are the artifact paths one run produced.
type Files struct {
	CSV  string
	HTML string
}

// Writer renders run artifacts into one output directory.
type Writer struct {
	OutputDir string
	HTMLTopN  int

	logger *telemetry.Logger
}

// NewWriter creates a report writer for the output directory.
func NewWriter(outputDir string) *Writer {
	return &Writer{
		OutputDir: outputDir,
		HTMLTopN:  DefaultHTMLTopN,
		logger:    telemetry.NewLogger("report"),
	}
}

// WriteAll renders the CSV and HTML artifacts. Zero records writes
// nothing and returns empty paths; that is a clean run, not an error.
func (w *Writer) WriteAll(ctx context.Context, records []types.InstanceRecord, stats aggregate.Stats, meta Meta) (Files, error) {
	if len(records) == 0 {
		return Files{}, nil
	}

	if err := os.MkdirAll(w.OutputDir, 0755); err != nil {
		return Files{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	now := time.Now()

	csvPath, err := w.writeCSV(records, meta.Basis, now)
	if err != nil {
		return Files{}, err
	}
	w.logger.WithContext(ctx).Info().Str("path", csvPath).Msg("CSV report saved")

	htmlPath, err := w.writeHTML(records, stats, meta, now)
	if err != nil {
		return Files{CSV: csvPath}, err
	}
	w.logger.WithContext(ctx).Info().Str("path", htmlPath).Msg("HTML report saved")

	return Files{CSV: csvPath, HTML: htmlPath}, nil
}

func baseName(ext string, at time.Time) string {
	return fmt.Sprintf("Stopped_Instances_%s.%s", at.Format(fileTimeLayout), ext)
}

func artifactPath(dir, ext string, at time.Time) string {
	return filepath.Join(dir, baseName(ext, at))
}
