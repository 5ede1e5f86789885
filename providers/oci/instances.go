package oci

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/core"

	"github.com/yairfalse/horros/normalize"
	"github.com/yairfalse/horros/types"
)

const (
	listAttempts   = 3
	retryBaseDelay = 5 * time.Second
)

// ListStoppedInstances finds stopped instances in one region and
// compartment. Stop times always fall to the estimate; there is no
// event source to consult.
func (p *Provider) ListStoppedInstances(ctx context.Context, scope types.ScanScope) ([]types.InstanceRecord, error) {
	region := scope.Part("region")
	compartmentID := scope.Part("compartment_id")
	if region == "" || compartmentID == "" {
		return nil, fmt.Errorf("scope %s is missing its region or compartment", scope)
	}

	computeAPI, err := p.newCompute(region)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute client for %s: %w", region, err)
	}

	states := []core.InstanceLifecycleStateEnum{core.InstanceLifecycleStateStopped}
	if p.opts.Config != nil && p.opts.Config.IncludeTerminated {
		states = append(states, core.InstanceLifecycleStateTerminated)
	}

	var instances []core.Instance
	for _, state := range states {
		batch, err := p.listInstancesWithRetry(ctx, computeAPI, compartmentID, state)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s instances in %s: %w",
				strings.ToLower(string(state)), scope, err)
		}
		instances = append(instances, batch...)
	}
	if len(instances) == 0 {
		return nil, nil
	}

	var storageAPI StorageAPI
	if !p.opts.FastMode {
		storageAPI, err = p.newStorage(region)
		if err != nil {
			p.logger.WithContext(ctx).Warn().Err(err).
				Str("region", region).
				Msg("block storage client unavailable, disk sizes fall back to defaults")
		}
	}

	resolver := normalize.StopTimeResolver{
		Clock:         p.clock,
		FastMode:      p.opts.FastMode,
		EstimatedDays: p.opts.EstimatedDays,
	}

	records := make([]types.InstanceRecord, 0, len(instances))
	for _, inst := range instances {
		var disks []normalize.Disk
		if storageAPI != nil {
			disks = p.instanceDisks(ctx, computeAPI, storageAPI, compartmentID, inst)
		}
		record, ok := p.convert(ctx, scope, inst, disks, resolver)
		if !ok {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// listInstancesWithRetry repeats a failed list up to listAttempts
// times with doubling backoff, but only for transient network
// failures. Auth and permission errors surface immediately.
func (p *Provider) listInstancesWithRetry(ctx context.Context, api ComputeAPI, compartmentID string, state core.InstanceLifecycleStateEnum) ([]core.Instance, error) {
	delay := p.retryBase
	var lastErr error
	for attempt := 1; ; attempt++ {
		instances, err := p.listInstances(ctx, api, compartmentID, state)
		if err == nil {
			return instances, nil
		}
		lastErr = err
		if attempt >= listAttempts || !isRetryable(err) {
			break
		}
		p.logger.WithContext(ctx).Warn().Err(err).
			Int("attempt", attempt).
			Str("compartment", compartmentID).
			Dur("backoff", delay).
			Msg("instance list failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}

func (p *Provider) listInstances(ctx context.Context, api ComputeAPI, compartmentID string, state core.InstanceLifecycleStateEnum) ([]core.Instance, error) {
	var (
		instances []core.Instance
		page      *string
	)
	for {
		p.apiCalls.Add(1)
		out, err := api.ListInstances(ctx, core.ListInstancesRequest{
			CompartmentId:  common.String(compartmentID),
			LifecycleState: state,
			Page:           page,
		})
		if err != nil {
			return nil, err
		}
		instances = append(instances, out.Items...)
		if out.OpcNextPage == nil {
			break
		}
		page = out.OpcNextPage
	}
	return instances, nil
}

func isRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "max retries")
}

// instanceDisks resolves attached boot and block volume sizes. Any
// lookup failure degrades to the size-class default rather than
// failing the scope.
func (p *Provider) instanceDisks(ctx context.Context, computeAPI ComputeAPI, storageAPI StorageAPI, compartmentID string, inst core.Instance) []normalize.Disk {
	id := strVal(inst.Id)
	ad := strVal(inst.AvailabilityDomain)
	if id == "" || ad == "" {
		return nil
	}

	var disks []normalize.Disk

	p.apiCalls.Add(1)
	bootOut, err := computeAPI.ListBootVolumeAttachments(ctx, core.ListBootVolumeAttachmentsRequest{
		AvailabilityDomain: common.String(ad),
		CompartmentId:      common.String(compartmentID),
		InstanceId:         inst.Id,
	})
	if err != nil {
		p.logger.WithContext(ctx).Warn().Err(err).
			Str("instance", id).
			Msg("boot volume lookup failed, using size defaults")
		return nil
	}
	for _, att := range bootOut.Items {
		if att.BootVolumeId == nil {
			continue
		}
		p.apiCalls.Add(1)
		vol, err := storageAPI.GetBootVolume(ctx, core.GetBootVolumeRequest{
			BootVolumeId: att.BootVolumeId,
		})
		if err != nil {
			p.logger.WithContext(ctx).Warn().Err(err).
				Str("instance", id).
				Str("boot_volume", strVal(att.BootVolumeId)).
				Msg("boot volume size lookup failed")
			disks = append(disks, normalize.Disk{Boot: true})
			continue
		}
		disks = append(disks, normalize.Disk{
			SizeGB: int(int64Val(vol.BootVolume.SizeInGBs)),
			Boot:   true,
		})
	}

	p.apiCalls.Add(1)
	volOut, err := computeAPI.ListVolumeAttachments(ctx, core.ListVolumeAttachmentsRequest{
		CompartmentId: common.String(compartmentID),
		InstanceId:    inst.Id,
	})
	if err != nil {
		p.logger.WithContext(ctx).Warn().Err(err).
			Str("instance", id).
			Msg("block volume lookup failed, using size defaults")
		return disks
	}
	for _, att := range volOut.Items {
		if att == nil || att.GetVolumeId() == nil {
			continue
		}
		p.apiCalls.Add(1)
		vol, err := storageAPI.GetVolume(ctx, core.GetVolumeRequest{
			VolumeId: att.GetVolumeId(),
		})
		if err != nil {
			p.logger.WithContext(ctx).Warn().Err(err).
				Str("instance", id).
				Str("volume", strVal(att.GetVolumeId())).
				Msg("block volume size lookup failed")
			disks = append(disks, normalize.Disk{})
			continue
		}
		disks = append(disks, normalize.Disk{
			SizeGB: int(int64Val(vol.Volume.SizeInGBs)),
		})
	}
	return disks
}

func int64Val(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}
