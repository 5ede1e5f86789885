package oci

import (
	"context"
	"sort"

	"github.com/oracle/oci-go-sdk/v65/core"

	"github.com/yairfalse/horros/normalize"
	"github.com/yairfalse/horros/types"
)

// convert maps one Compute instance to the canonical record.
// Instances without an OCID or creation time are skipped, not errors.
func (p *Provider) convert(ctx context.Context, scope types.ScanScope, inst core.Instance, disks []normalize.Disk, resolver normalize.StopTimeResolver) (types.InstanceRecord, bool) {
	id := strVal(inst.Id)
	if id == "" || inst.TimeCreated == nil {
		p.skipped.Add(1)
		p.logger.LogRecordSkipped(ctx, scope, strVal(inst.DisplayName), "missing instance OCID or creation time")
		return types.InstanceRecord{}, false
	}

	tags := mergeTags(inst.FreeformTags, inst.DefinedTags)
	stop := resolver.Resolve(ctx, id, nil)

	name := strVal(inst.DisplayName)
	if name == "" {
		name = id
	}

	sizeClass := strVal(inst.Shape)
	created := inst.TimeCreated.Time.UTC()

	record := types.InstanceRecord{
		Name:             name,
		ID:               id,
		Provider:         "oci",
		Scope:            scope.String(),
		State:            stateFor(inst.LifecycleState),
		CreatedAt:        created,
		AgeDays:          p.clock.DaysSince(created),
		StoppedAt:        stop.StoppedAt,
		StoppedDaysAgo:   stop.DaysAgo,
		StoppedAtIsExact: stop.Exact,
		Owner:            normalize.Owner(tags, nil),
		SizeClass:        sizeClass,
		TotalDiskGB:      normalize.TotalDiskGB(disks, sizeClass, p.defaults),
		Extra:            map[string]string{},
	}
	if ad := strVal(inst.AvailabilityDomain); ad != "" {
		record.Extra["availability_domain"] = ad
	}
	if fd := strVal(inst.FaultDomain); fd != "" {
		record.Extra["fault_domain"] = fd
	}
	if img := strVal(inst.ImageId); img != "" {
		record.Extra["image_id"] = img
	}
	if comp := scope.Part("compartment_id"); comp != "" {
		record.Extra["compartment_id"] = comp
	}
	return record, true
}

func stateFor(state core.InstanceLifecycleStateEnum) types.InstanceState {
	if state == core.InstanceLifecycleStateTerminated {
		return types.StateTerminated
	}
	return types.StateStopped
}

// mergeTags flattens freeform and defined tags into one map. Freeform
// keys win over defined ones; defined namespaces merge in sorted order
// so duplicate keys resolve the same way every run.
func mergeTags(freeform map[string]string, defined map[string]map[string]interface{}) types.Tags {
	tags := types.TagsFromMap(freeform)

	namespaces := make([]string, 0, len(defined))
	for ns := range defined {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	for _, ns := range namespaces {
		for key, raw := range defined[ns] {
			if _, exists := tags[key]; exists {
				continue
			}
			if v, ok := raw.(string); ok && v != "" {
				tags[key] = v
			}
		}
	}
	return tags
}
