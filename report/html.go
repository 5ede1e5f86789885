package report

import (
	"fmt"
	"html/template"
	"os"
	"time"

	"github.com/yairfalse/horros/aggregate"
	"github.com/yairfalse/horros/types"
)

type htmlData struct {
	GeneratedAt string
	Provider    string
	Label       string
	Elapsed     string
	APICalls    int64
	Scopes      int

	Total       int
	AvgAgeDays  string
	MaxAgeDays  int
	ScopeCount  int
	OwnerCount  int
	ShapeCount  int
	TotalDiskGB int

	AgeRows    []ageRow
	TopN       int
	TopRows    []instanceRow
	Breakdowns []breakdown
	AllRows    []instanceRow
}

type ageRow struct {
	Label    string
	Count    int
	Percent  string
	Priority string
	Class    string
}

type instanceRow struct {
	Name      string
	AgeDays   int
	Class     string
	Created   string
	SizeClass string
	Scope     string
	Owner     string
	Stopped   string
	ID        string
	DiskGB    int
}

type breakdown struct {
	Title string
	Key   string
	Rows  []breakdownRow
}

type breakdownRow struct {
	Key     string
	Count   int
	Percent string
}

func (w *Writer) writeHTML(records []types.InstanceRecord, stats aggregate.Stats, meta Meta, at time.Time) (string, error) {
	path := artifactPath(w.OutputDir, "html", at)

	f, err := os.Create(path) // #nosec G304
	if err != nil {
		return "", fmt.Errorf("failed to create HTML report: %w", err)
	}

	data := buildHTMLData(records, stats, meta, w.htmlTopN())
	if err := reportTemplate.Execute(f, data); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to render HTML report: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close HTML report: %w", err)
	}
	return path, nil
}

func (w *Writer) htmlTopN() int {
	if w.HTMLTopN > 0 {
		return w.HTMLTopN
	}
	return DefaultHTMLTopN
}

func buildHTMLData(records []types.InstanceRecord, stats aggregate.Stats, meta Meta, topN int) htmlData {
	data := htmlData{
		GeneratedAt: time.Now().Format("2006-01-02 15:04:05"),
		Provider:    meta.Provider,
		Label:       meta.Label,
		Elapsed:     fmt.Sprintf("%.1fs", meta.Stats.Duration().Seconds()),
		APICalls:    meta.Stats.APICalls,
		Scopes:      meta.Stats.ScopesPlanned,

		Total:       stats.Total,
		AvgAgeDays:  fmt.Sprintf("%.1f", stats.AvgAgeDays),
		MaxAgeDays:  stats.MaxAgeDays,
		ScopeCount:  len(stats.ByScope),
		OwnerCount:  len(stats.ByOwner),
		ShapeCount:  len(stats.BySizeClass),
		TotalDiskGB: stats.TotalDiskGB,
		TopN:        topN,
	}

	for _, bucket := range aggregate.AgeBuckets {
		count := stats.ByAgeBucket[bucket.Label]
		data.AgeRows = append(data.AgeRows, ageRow{
			Label:    bucket.Label,
			Count:    count,
			Percent:  percent(count, stats.Total),
			Priority: bucket.Priority,
			Class:    "age-" + bucket.Priority,
		})
	}

	for _, rec := range aggregate.TopN(records, meta.Basis, topN) {
		data.TopRows = append(data.TopRows, toInstanceRow(rec, meta.Basis))
	}
	for _, rec := range aggregate.TopN(records, meta.Basis, len(records)) {
		data.AllRows = append(data.AllRows, toInstanceRow(rec, meta.Basis))
	}

	data.Breakdowns = []breakdown{
		buildBreakdown("Scope Distribution", "Scope", stats.ByScope, stats.Total),
		buildBreakdown("Owner Distribution", "Owner", stats.ByOwner, stats.Total),
		buildBreakdown("Size Class Distribution", "Size Class", stats.BySizeClass, stats.Total),
	}
	return data
}

func buildBreakdown(title, key string, counts map[string]int, total int) breakdown {
	b := breakdown{Title: title, Key: key}
	for i, k := range aggregate.SortedKeys(counts) {
		if i >= 10 {
			break
		}
		b.Rows = append(b.Rows, breakdownRow{
			Key:     k,
			Count:   counts[k],
			Percent: percent(counts[k], total),
		})
	}
	return b
}

func toInstanceRow(rec types.InstanceRecord, basis types.AgeBasis) instanceRow {
	stopped := "unknown"
	if rec.StoppedAt != nil {
		stopped = rec.StoppedAt.Format("2006-01-02")
		if !rec.StoppedAtIsExact {
			stopped += " (est)"
		}
	} else if rec.StoppedDaysAgo > 0 && !rec.StoppedAtIsExact {
		stopped = fmt.Sprintf("~%d days ago", rec.StoppedDaysAgo)
	}

	age := rec.ThresholdAge(basis)
	return instanceRow{
		Name:      rec.Name,
		AgeDays:   age,
		Class:     "age-" + aggregate.BucketFor(age).Priority,
		Created:   rec.CreatedAt.Format("2006-01-02"),
		SizeClass: rec.SizeClass,
		Scope:     rec.Scope,
		Owner:     rec.Owner,
		Stopped:   stopped,
		ID:        rec.ID,
		DiskGB:    rec.TotalDiskGB,
	}
}

func percent(count, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(count)/float64(total)*100)
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Stopped Instances Report</title>
<style>
* { margin: 0; padding: 0; box-sizing: border-box; }
body { font-family: 'Segoe UI', sans-serif; background: #f4f5f7; color: #333; line-height: 1.6; }
.container { max-width: 1400px; margin: 0 auto; padding: 20px; }
.header { background: linear-gradient(135deg, #dc3545, #fd7e14); color: white; padding: 30px; border-radius: 12px; text-align: center; margin-bottom: 20px; }
.header h1 { font-size: 2.2rem; margin-bottom: 8px; }
.note { background: #e3f2fd; border: 1px solid #2196f3; color: #1976d2; padding: 15px; border-radius: 5px; margin: 15px 0; }
.stats-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(170px, 1fr)); gap: 15px; margin-bottom: 20px; }
.stat-card { background: white; padding: 20px; border-radius: 10px; text-align: center; box-shadow: 0 2px 10px rgba(0,0,0,0.08); }
.stat-number { font-size: 1.8rem; font-weight: bold; color: #dc3545; margin-bottom: 5px; }
.stat-label { color: #666; font-size: 0.85rem; }
.section { background: white; margin: 20px 0; border-radius: 10px; overflow: hidden; box-shadow: 0 2px 10px rgba(0,0,0,0.08); }
.section-header { background: linear-gradient(135deg, #dc3545, #fd7e14); color: white; padding: 14px; font-size: 1.1rem; font-weight: bold; }
.section-content { padding: 15px; }
table { width: 100%; border-collapse: collapse; }
th, td { padding: 8px; text-align: left; border-bottom: 1px solid #ddd; font-size: 0.85rem; }
th { background: #f5f5f5; font-weight: bold; }
tr:hover { background-color: #fff3e0; }
.age-critical { color: #dc3545; font-weight: bold; }
.age-high { color: #fd7e14; font-weight: bold; }
.age-medium { color: #b8860b; font-weight: bold; }
.age-low { color: #28a745; font-weight: bold; }
.breakdown-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(300px, 1fr)); gap: 20px; }
.footer { background: linear-gradient(135deg, #dc3545, #fd7e14); color: white; padding: 25px; border-radius: 12px; text-align: center; margin-top: 30px; }
.mono { font-family: monospace; font-size: 0.75rem; }
</style>
</head>
<body>
<div class="container">
  <div class="header">
    <h1>Stopped Instances Report</h1>
    <div>Generated {{.GeneratedAt}} | Provider: {{.Provider}}{{if .Label}} | {{.Label}}{{end}}</div>
    <div>Scan time: {{.Elapsed}}</div>
  </div>

  <div class="note">
    <strong>Scan summary:</strong>
    {{.Total}} stopped instances across {{.Scopes}} scopes |
    API calls: {{.APICalls}}
  </div>

  <div class="stats-grid">
    <div class="stat-card"><div class="stat-number">{{.Total}}</div><div class="stat-label">Stopped Instances</div></div>
    <div class="stat-card"><div class="stat-number">{{.AvgAgeDays}}</div><div class="stat-label">Avg Days Old</div></div>
    <div class="stat-card"><div class="stat-number">{{.MaxAgeDays}}</div><div class="stat-label">Oldest Instance</div></div>
    <div class="stat-card"><div class="stat-number">{{.ScopeCount}}</div><div class="stat-label">Scopes</div></div>
    <div class="stat-card"><div class="stat-number">{{.OwnerCount}}</div><div class="stat-label">Owners</div></div>
    <div class="stat-card"><div class="stat-number">{{.ShapeCount}}</div><div class="stat-label">Size Classes</div></div>
    <div class="stat-card"><div class="stat-number">{{.TotalDiskGB}}</div><div class="stat-label">Total Disk GB</div></div>
  </div>

  <div class="section">
    <div class="section-header">Age Distribution</div>
    <div class="section-content">
      <table>
        <thead><tr><th>Age Range</th><th>Count</th><th>Percentage</th><th>Priority</th></tr></thead>
        <tbody>
        {{range .AgeRows}}<tr><td><strong>{{.Label}}</strong></td><td>{{.Count}}</td><td>{{.Percent}}</td><td class="{{.Class}}">{{.Priority}}</td></tr>
        {{end}}</tbody>
      </table>
    </div>
  </div>

  <div class="section">
    <div class="section-header">Top {{.TopN}} Oldest Stopped Instances</div>
    <div class="section-content">
      <table>
        <thead><tr><th>Name</th><th>Days Old</th><th>Created</th><th>Size Class</th><th>Scope</th><th>Owner</th><th>Stopped</th><th>Disk GB</th></tr></thead>
        <tbody>
        {{range .TopRows}}<tr><td><strong>{{.Name}}</strong></td><td class="{{.Class}}">{{.AgeDays}}</td><td>{{.Created}}</td><td>{{.SizeClass}}</td><td>{{.Scope}}</td><td>{{.Owner}}</td><td>{{.Stopped}}</td><td>{{.DiskGB}}</td></tr>
        {{end}}</tbody>
      </table>
    </div>
  </div>

  <div class="breakdown-grid">
  {{range .Breakdowns}}
    <div class="section">
      <div class="section-header">{{.Title}}</div>
      <div class="section-content">
        <table>
          <thead><tr><th>{{.Key}}</th><th>Count</th><th>%</th></tr></thead>
          <tbody>
          {{range .Rows}}<tr><td><strong>{{.Key}}</strong></td><td>{{.Count}}</td><td>{{.Percent}}</td></tr>
          {{end}}</tbody>
        </table>
      </div>
    </div>
  {{end}}
  </div>

  <div class="section">
    <div class="section-header">Complete Inventory</div>
    <div class="section-content">
      <p style="margin-bottom: 15px;">All {{.Total}} stopped instances, oldest first:</p>
      <table>
        <thead><tr><th>Name</th><th>Days Old</th><th>Created</th><th>Size Class</th><th>Scope</th><th>Owner</th><th>Instance ID</th></tr></thead>
        <tbody>
        {{range .AllRows}}<tr><td><strong>{{.Name}}</strong></td><td class="{{.Class}}">{{.AgeDays}}</td><td>{{.Created}}</td><td>{{.SizeClass}}</td><td>{{.Scope}}</td><td>{{.Owner}}</td><td class="mono">{{.ID}}</td></tr>
        {{end}}</tbody>
      </table>
    </div>
  </div>

  <div class="footer">
    <h3>Next Steps</h3>
    <p>Review instances over 365 days old for deletion</p>
    <p>Contact owners of long-stopped instances</p>
    <p>Stopped instances still pay for attached disks</p>
  </div>
</div>
</body>
</html>
`))
