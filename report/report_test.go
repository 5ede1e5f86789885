package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/horros/aggregate"
	"github.com/yairfalse/horros/types"
)

var reportNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testRecord(name string, ageDays, stoppedDays int, exact bool, scope, owner string) types.InstanceRecord {
	rec := types.InstanceRecord{
		Name:           name,
		ID:             "i-" + name,
		Provider:       "aws",
		Scope:          scope,
		State:          types.StateStopped,
		CreatedAt:      reportNow.AddDate(0, 0, -ageDays),
		AgeDays:        ageDays,
		StoppedDaysAgo: stoppedDays,
		Owner:          owner,
		SizeClass:      "t3.medium",
		TotalDiskGB:    40,
	}
	if exact {
		stoppedAt := reportNow.AddDate(0, 0, -stoppedDays)
		rec.StoppedAt = &stoppedAt
		rec.StoppedAtIsExact = true
	}
	return rec
}

func testRecords() []types.InstanceRecord {
	return []types.InstanceRecord{
		testRecord("web-1", 40, 12, true, "us-east-1", "frontend"),
		testRecord("db-archive", 400, 390, false, "eu-west-1", "platform"),
		testRecord("batch-7", 120, 95, true, "us-east-1", "data"),
	}
}

func testMeta() Meta {
	return Meta{
		Provider: "aws",
		Basis:    types.BasisCreation,
		Stats: types.RunStats{
			Provider:      "aws",
			ScopesPlanned: 2,
			Found:         3,
			Filtered:      3,
			APICalls:      7,
			StartedAt:     reportNow.Add(-3 * time.Second),
			FinishedAt:    reportNow,
		},
	}
}

func TestRenderCSVHeaderAndOrder(t *testing.T) {
	records := testRecords()

	var buf bytes.Buffer
	require.NoError(t, RenderCSV(&buf, records, types.BasisCreation))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, csvHeader, rows[0])

	// Oldest first under the creation basis.
	assert.Equal(t, "db-archive", rows[1][0])
	assert.Equal(t, "batch-7", rows[2][0])
	assert.Equal(t, "web-1", rows[3][0])

	assert.Equal(t, "400", rows[1][7])
	assert.Equal(t, "false", rows[1][10])

	// No resolved stop time leaves the column empty.
	assert.Empty(t, rows[1][8])
	assert.NotEmpty(t, rows[3][8])
}

func TestWriteAllCreatesArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	w := NewWriter(dir)

	records := testRecords()
	stats := aggregate.Compute(records, types.BasisCreation)

	files, err := w.WriteAll(context.Background(), records, stats, testMeta())
	require.NoError(t, err)

	assert.FileExists(t, files.CSV)
	assert.FileExists(t, files.HTML)
	assert.True(t, strings.HasPrefix(filepath.Base(files.CSV), "Stopped_Instances_"))
	assert.True(t, strings.HasSuffix(files.HTML, ".html"))

	html, err := os.ReadFile(files.HTML)
	require.NoError(t, err)
	assert.Contains(t, string(html), "db-archive")
	assert.Contains(t, string(html), "Stopped Instances Report")
}

func TestWriteAllZeroRecords(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	w := NewWriter(dir)

	files, err := w.WriteAll(context.Background(), nil, aggregate.Stats{}, testMeta())
	require.NoError(t, err)

	assert.Empty(t, files.CSV)
	assert.Empty(t, files.HTML)
	assert.NoDirExists(t, dir)
}

func TestBuildHTMLData(t *testing.T) {
	records := testRecords()
	stats := aggregate.Compute(records, types.BasisCreation)

	data := buildHTMLData(records, stats, testMeta(), 2)

	assert.Equal(t, 2, data.TopN)
	require.Len(t, data.TopRows, 2)
	assert.Equal(t, "db-archive", data.TopRows[0].Name)
	assert.Equal(t, "age-critical", data.TopRows[0].Class)
	assert.Len(t, data.AllRows, 3)

	require.Len(t, data.AgeRows, len(aggregate.AgeBuckets))
	byLabel := make(map[string]ageRow)
	for _, row := range data.AgeRows {
		byLabel[row.Label] = row
	}
	assert.Equal(t, 1, byLabel["365+ days"].Count)
	assert.Equal(t, "33.3%", byLabel["365+ days"].Percent)
	assert.Equal(t, "age-critical", byLabel["365+ days"].Class)
	assert.Equal(t, 1, byLabel["90-179 days"].Count)

	require.Len(t, data.Breakdowns, 3)
	assert.Equal(t, "Scope Distribution", data.Breakdowns[0].Title)
	assert.Equal(t, "us-east-1", data.Breakdowns[0].Rows[0].Key)
	assert.Equal(t, 2, data.Breakdowns[0].Rows[0].Count)
	assert.Equal(t, "66.7%", data.Breakdowns[0].Rows[0].Percent)
}

func TestSummary(t *testing.T) {
	records := testRecords()
	stats := aggregate.Compute(records, types.BasisCreation)

	out := Summary(records, stats, testMeta())

	assert.Contains(t, out, "Total stopped: 3")
	assert.Contains(t, out, "Oldest: db-archive (400 days)")
	assert.Contains(t, out, "platform: 1")
	assert.Contains(t, out, "API calls: 7")

	// Scopes list alphabetically.
	assert.Less(t, strings.Index(out, "eu-west-1"), strings.Index(out, "us-east-1"))
}

func TestSummaryZeroRecords(t *testing.T) {
	out := Summary(nil, aggregate.Stats{}, testMeta())

	assert.Contains(t, out, "Total stopped: 0")
	assert.Contains(t, out, "No stopped instances found")
}

func TestTableRender(t *testing.T) {
	records := testRecords()

	out := Table(records, types.BasisCreation, 2)

	assert.Contains(t, out, "AGE (DAYS)")
	assert.Contains(t, out, "db-archive")
	assert.Contains(t, out, "batch-7")
	assert.NotContains(t, out, "web-1")
	assert.Contains(t, out, "╭")
}

func TestRenderJSON(t *testing.T) {
	records := testRecords()
	stats := aggregate.Compute(records, types.BasisCreation)

	var buf bytes.Buffer
	require.NoError(t, RenderJSON(&buf, records, stats, testMeta()))

	var decoded struct {
		Provider string                 `json:"provider"`
		Records  []types.InstanceRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "aws", decoded.Provider)
	require.Len(t, decoded.Records, 3)
	assert.Equal(t, "db-archive", decoded.Records[0].Name)
}
