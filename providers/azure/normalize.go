package azure

import (
	"context"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"

	"github.com/yairfalse/horros/normalize"
	"github.com/yairfalse/horros/types"
)

// convert maps one deallocated VM to the canonical record. VMs without
// an ID or creation time are skipped, not errors.
func (p *Provider) convert(ctx context.Context, scope types.ScanScope, vm *armcompute.VirtualMachine, view armcompute.VirtualMachineInstanceView, resolver normalize.StopTimeResolver) (types.InstanceRecord, bool) {
	id := strVal(vm.ID)
	if id == "" || vm.Properties == nil || vm.Properties.TimeCreated == nil {
		p.skipped.Add(1)
		p.logger.LogRecordSkipped(ctx, scope, id, "missing VM ID or creation time")
		return types.InstanceRecord{}, false
	}

	tags := tagsFromARM(vm.Tags)
	stop := resolver.Resolve(ctx, id, deallocationTime(view))

	name := strVal(vm.Name)
	if name == "" {
		name = id
	}

	sizeClass := ""
	if vm.Properties.HardwareProfile != nil && vm.Properties.HardwareProfile.VMSize != nil {
		sizeClass = string(*vm.Properties.HardwareProfile.VMSize)
	}

	record := types.InstanceRecord{
		Name:             name,
		ID:               id,
		Provider:         "azure",
		Scope:            scope.String(),
		State:            types.StateStopped,
		CreatedAt:        vm.Properties.TimeCreated.UTC(),
		AgeDays:          p.clock.DaysSince(*vm.Properties.TimeCreated),
		StoppedAt:        stop.StoppedAt,
		StoppedDaysAgo:   stop.DaysAgo,
		StoppedAtIsExact: stop.Exact,
		Owner:            normalize.Owner(tags, nil),
		SizeClass:        sizeClass,
		TotalDiskGB:      normalize.TotalDiskGB(disksFromARM(vm), sizeClass, p.defaults),
		Extra:            map[string]string{},
	}
	if vm.Location != nil {
		record.Extra["location"] = *vm.Location
	}
	if rg := resourceGroupFromID(id); rg != "" {
		record.Extra["resource_group"] = rg
	}
	return record, true
}

// deallocationTime returns the timestamp attached to the deallocated
// power state. Azure usually omits it, leaving the activity log as the
// authoritative source.
func deallocationTime(view armcompute.VirtualMachineInstanceView) *time.Time {
	for _, status := range view.Statuses {
		if status == nil || status.Code == nil || status.Time == nil {
			continue
		}
		if strings.HasPrefix(*status.Code, deallocatedCode) {
			t := status.Time.UTC()
			return &t
		}
	}
	return nil
}

func tagsFromARM(in map[string]*string) types.Tags {
	tags := make(types.Tags, len(in))
	for k, v := range in {
		if v == nil {
			continue
		}
		tags[k] = *v
	}
	return tags
}

// disksFromARM maps the storage profile to disk entries. Managed disks
// usually declare their size right on the VM.
func disksFromARM(vm *armcompute.VirtualMachine) []normalize.Disk {
	if vm.Properties == nil || vm.Properties.StorageProfile == nil {
		return nil
	}
	profile := vm.Properties.StorageProfile

	var disks []normalize.Disk
	if profile.OSDisk != nil {
		disks = append(disks, normalize.Disk{
			SizeGB: int32Val(profile.OSDisk.DiskSizeGB),
			Boot:   true,
		})
	}
	for _, dataDisk := range profile.DataDisks {
		if dataDisk == nil {
			continue
		}
		disks = append(disks, normalize.Disk{
			SizeGB: int32Val(dataDisk.DiskSizeGB),
		})
	}
	return disks
}

func int32Val(n *int32) int {
	if n == nil {
		return 0
	}
	return int(*n)
}
