package azure

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"

	"github.com/yairfalse/horros/types"
)

// deallocatedCode prefixes the power state Azure reports for VMs that
// are stopped and released from compute billing. Attached managed
// disks keep billing, which is what this tool surfaces.
const deallocatedCode = "PowerState/deallocated"

// ListStoppedInstances discovers deallocated VMs in one subscription.
func (p *Provider) ListStoppedInstances(ctx context.Context, scope types.ScanScope) ([]types.InstanceRecord, error) {
	subscriptionID := scope.Part("subscription")
	client, err := p.newVMs(subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to create VM client: %w", err)
	}

	var vms []*armcompute.VirtualMachine
	pager := client.NewListAllPager(nil)
	for pager.More() {
		p.apiCalls.Add(1)
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list VMs in %s: %w", scope.ID, err)
		}
		vms = append(vms, page.Value...)
	}
	if len(vms) == 0 {
		return nil, nil
	}

	resolver := p.stopResolver(subscriptionID)

	var records []types.InstanceRecord
	for _, vm := range vms {
		view, ok := p.deallocatedView(ctx, client, vm)
		if !ok {
			continue
		}
		record, ok := p.convert(ctx, scope, vm, view, resolver)
		if !ok {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// deallocatedView fetches the VM's instance view and keeps only
// deallocated machines. The list response carries no power state, so
// one extra call per VM is unavoidable.
func (p *Provider) deallocatedView(ctx context.Context, client VMAPI, vm *armcompute.VirtualMachine) (armcompute.VirtualMachineInstanceView, bool) {
	if vm == nil || vm.ID == nil || vm.Name == nil {
		return armcompute.VirtualMachineInstanceView{}, false
	}

	p.apiCalls.Add(1)
	resp, err := client.InstanceView(ctx, resourceGroupFromID(*vm.ID), *vm.Name, nil)
	if err != nil {
		p.skipped.Add(1)
		p.logger.WithContext(ctx).Warn().
			Err(err).
			Str("vm", *vm.Name).
			Msg("instance view lookup failed, skipping VM")
		return armcompute.VirtualMachineInstanceView{}, false
	}
	if !isDeallocated(resp.VirtualMachineInstanceView) {
		return armcompute.VirtualMachineInstanceView{}, false
	}
	return resp.VirtualMachineInstanceView, true
}

func isDeallocated(view armcompute.VirtualMachineInstanceView) bool {
	for _, status := range view.Statuses {
		if status != nil && status.Code != nil && strings.HasPrefix(*status.Code, deallocatedCode) {
			return true
		}
	}
	return false
}

// resourceGroupFromID extracts the resource group from an ARM resource
// ID such as /subscriptions/.../resourceGroups/rg-1/providers/....
func resourceGroupFromID(resourceID string) string {
	parts := strings.Split(resourceID, "/")
	for i, part := range parts {
		if strings.EqualFold(part, "resourceGroups") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}
