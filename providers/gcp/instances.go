package gcp

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/horros/normalize"
	"github.com/yairfalse/horros/providers"
	"github.com/yairfalse/horros/types"
)

// stopOperationType marks instance stop operations in the zone
// operations log.
const stopOperationType = "stop"

// ListStoppedInstances discovers TERMINATED instances in one zone.
// GCP reports user-stopped machines as TERMINATED; their disks keep
// billing until deleted.
func (p *Provider) ListStoppedInstances(ctx context.Context, scope types.ScanScope) ([]types.InstanceRecord, error) {
	project := scope.Part("project")
	zone := scope.Part("zone")

	instances, err := p.computeAPI.ListStoppedInstances(ctx, project, zone)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances in %s: %w", scope.ID, err)
	}
	if len(instances) == 0 {
		return nil, nil
	}

	resolver := p.stopResolver(project, zone)

	var records []types.InstanceRecord
	for _, inst := range instances {
		record, ok := p.convert(ctx, scope, inst, resolver)
		if !ok {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (p *Provider) stopResolver(project, zone string) normalize.StopTimeResolver {
	return normalize.StopTimeResolver{
		Clock:         p.clock,
		FastMode:      p.opts.FastMode,
		EstimatedDays: p.opts.EstimatedDays,
		Lookup:        providers.CachedLookup(p.opts.Cache, "gcp", p.operationStopLookup(project, zone)),
	}
}

// operationStopLookup finds the most recent completed stop operation
// targeting one instance. Zone operations cover only recent history,
// so misses are common and fall through to the estimate.
func (p *Provider) operationStopLookup(project, zone string) normalize.EventLookup {
	return func(ctx context.Context, instanceLink string) (*time.Time, error) {
		filter := fmt.Sprintf(`(operationType = "%s") AND (targetLink = "%s")`, stopOperationType, instanceLink)
		ops, err := p.computeAPI.ListZoneOperations(ctx, project, zone, filter)
		if err != nil {
			return nil, fmt.Errorf("zone operations query failed: %w", err)
		}

		var newest *time.Time
		for _, op := range ops {
			if op == nil || op.Status != "DONE" || op.EndTime == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339, op.EndTime)
			if err != nil {
				continue
			}
			t = t.UTC()
			if newest == nil || t.After(*newest) {
				newest = &t
			}
		}

		cutoff := p.clock.Now().AddDate(0, 0, -p.lookbackDays())
		if newest != nil && newest.Before(cutoff) {
			return nil, nil
		}
		return newest, nil
	}
}

func (p *Provider) lookbackDays() int {
	if p.opts.LookbackDays > 0 {
		return p.opts.LookbackDays
	}
	return 90
}
