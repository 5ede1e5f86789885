package gcp

import (
	"context"
	"strings"
	"time"

	"google.golang.org/api/compute/v1"

	"github.com/yairfalse/horros/normalize"
	"github.com/yairfalse/horros/types"
)

// convert maps one Compute Engine instance to the canonical record.
// Instances without a self link or creation timestamp are skipped,
// not errors.
func (p *Provider) convert(ctx context.Context, scope types.ScanScope, inst *compute.Instance, resolver normalize.StopTimeResolver) (types.InstanceRecord, bool) {
	if inst == nil || inst.SelfLink == "" {
		p.skipped.Add(1)
		p.logger.LogRecordSkipped(ctx, scope, "", "missing instance self link")
		return types.InstanceRecord{}, false
	}
	created, err := time.Parse(time.RFC3339, inst.CreationTimestamp)
	if err != nil {
		p.skipped.Add(1)
		p.logger.LogRecordSkipped(ctx, scope, inst.Name, "unparseable creation timestamp")
		return types.InstanceRecord{}, false
	}

	tags := types.Tags(inst.Labels)
	stop := resolver.Resolve(ctx, inst.SelfLink, parseStopTime(inst.LastStopTimestamp))

	name := inst.Name
	if name == "" {
		name = lastSegment(inst.SelfLink)
	}

	sizeClass := lastSegment(inst.MachineType)

	record := types.InstanceRecord{
		Name:             name,
		ID:               inst.SelfLink,
		Provider:         "gcp",
		Scope:            scope.String(),
		State:            types.StateStopped,
		CreatedAt:        created.UTC(),
		AgeDays:          p.clock.DaysSince(created),
		StoppedAt:        stop.StoppedAt,
		StoppedDaysAgo:   stop.DaysAgo,
		StoppedAtIsExact: stop.Exact,
		Owner:            normalize.Owner(tags, nil),
		SizeClass:        sizeClass,
		TotalDiskGB:      normalize.TotalDiskGB(disksFromCompute(inst), sizeClass, p.defaults),
		Extra:            map[string]string{},
	}
	if zone := lastSegment(inst.Zone); zone != "" {
		record.Extra["zone"] = zone
	}
	if inst.Status != "" {
		record.Extra["status"] = inst.Status
	}
	return record, true
}

// parseStopTime reads the last stop timestamp GCP stamps on the
// instance itself.
func parseStopTime(ts string) *time.Time {
	if ts == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func disksFromCompute(inst *compute.Instance) []normalize.Disk {
	var disks []normalize.Disk
	for _, d := range inst.Disks {
		if d == nil {
			continue
		}
		disks = append(disks, normalize.Disk{
			SizeGB: int(d.DiskSizeGb),
			Boot:   d.Boot,
		})
	}
	return disks
}

// lastSegment returns the trailing path component of a GCP resource
// URL, such as the machine type name from its full link.
func lastSegment(url string) string {
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}
