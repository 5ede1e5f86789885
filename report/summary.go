package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/yairfalse/horros/aggregate"
	"github.com/yairfalse/horros/types"
)

// Summary renders the human console summary of one run.
func Summary(records []types.InstanceRecord, stats aggregate.Stats, meta Meta) string {
	var b strings.Builder

	fmt.Fprintf(&b, "📊 Stopped Instance Summary (%s)\n", meta.Provider)
	if meta.Label != "" {
		fmt.Fprintf(&b, "   %s\n", meta.Label)
	}
	fmt.Fprintf(&b, "   Total stopped: %d\n", stats.Total)
	if stats.Total == 0 {
		fmt.Fprintf(&b, "\n✨ No stopped instances found\n")
		writeRunLine(&b, meta.Stats)
		return b.String()
	}

	fmt.Fprintf(&b, "   Average age: %.1f days\n", stats.AvgAgeDays)
	if oldest := aggregate.TopN(records, meta.Basis, 1); len(oldest) > 0 {
		fmt.Fprintf(&b, "   Oldest: %s (%d days)\n", oldest[0].Name, oldest[0].ThresholdAge(meta.Basis))
	}
	fmt.Fprintf(&b, "   Total disk: %d GB\n", stats.TotalDiskGB)

	fmt.Fprintf(&b, "\n   By scope:\n")
	for _, scope := range alphabetical(stats.ByScope) {
		fmt.Fprintf(&b, "     %s: %d\n", scope, stats.ByScope[scope])
	}

	fmt.Fprintf(&b, "\n   Top owners:\n")
	for i, owner := range aggregate.SortedKeys(stats.ByOwner) {
		if i >= 10 {
			break
		}
		fmt.Fprintf(&b, "     %s: %d\n", owner, stats.ByOwner[owner])
	}

	writeRunLine(&b, meta.Stats)
	return b.String()
}

func writeRunLine(b *strings.Builder, run types.RunStats) {
	fmt.Fprintf(b, "\n   Scopes: %d/%d | API calls: %d | Elapsed: %s\n",
		run.ScopesSucceeded(), run.ScopesPlanned, run.APICalls,
		run.Duration().Round(100*time.Millisecond))
}

func alphabetical(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Table renders the n oldest records as a console table.
func Table(records []types.InstanceRecord, basis types.AgeBasis, n int) string {
	tw := table.Table{}
	tw.AppendHeader(table.Row{"Name", "Age (days)", "State", "Size Class", "Scope", "Owner", "Disk GB", "Stopped"})

	var rows []table.Row
	for _, rec := range aggregate.TopN(records, basis, n) {
		stopped := "unknown"
		if rec.StoppedAt != nil {
			stopped = rec.StoppedAt.Format("2006-01-02")
			if !rec.StoppedAtIsExact {
				stopped += " (est)"
			}
		}
		rows = append(rows, table.Row{
			rec.Name,
			rec.ThresholdAge(basis),
			string(rec.State),
			rec.SizeClass,
			rec.Scope,
			rec.Owner,
			rec.TotalDiskGB,
			stopped,
		})
	}
	tw.AppendRows(rows)

	tw.SetStyle(table.StyleRounded)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Age (days)", Align: text.AlignRight},
		{Name: "Disk GB", Align: text.AlignRight},
	})
	return tw.Render()
}

type jsonReport struct {
	Provider string                 `json:"provider"`
	Basis    types.AgeBasis         `json:"age_basis"`
	Run      types.RunStats         `json:"run"`
	Stats    aggregate.Stats        `json:"stats"`
	Records  []types.InstanceRecord `json:"records"`
}

// RenderJSON writes the full run result as indented JSON, oldest first.
func RenderJSON(out io.Writer, records []types.InstanceRecord, stats aggregate.Stats, meta Meta) error {
	payload := jsonReport{
		Provider: meta.Provider,
		Basis:    meta.Basis,
		Run:      meta.Stats,
		Stats:    stats,
		Records:  aggregate.TopN(records, meta.Basis, len(records)),
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
