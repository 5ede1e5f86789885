package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/horros/normalize"
	"github.com/yairfalse/horros/providers"
	"github.com/yairfalse/horros/types"
)

// DescribeVolumes accepts at most 500 IDs per call; stay well under.
const volumeChunkSize = 200

// ListStoppedInstances discovers stopped instances in one region scope.
func (p *Provider) ListStoppedInstances(ctx context.Context, scope types.ScanScope) ([]types.InstanceRecord, error) {
	region := scope.Part("region")
	client := p.newEC2(region)

	input := &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{p.instanceStateFilter()},
	}

	var instances []ec2types.Instance
	paginator := ec2.NewDescribeInstancesPaginator(client, input)
	for paginator.HasMorePages() {
		p.apiCalls.Add(1)
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances in %s: %w", region, err)
		}
		for _, reservation := range output.Reservations {
			instances = append(instances, reservation.Instances...)
		}
	}

	if len(instances) == 0 {
		return nil, nil
	}

	var volumeSizes map[string]int
	if !p.opts.FastMode {
		sizes, err := p.describeVolumeSizes(ctx, client, instances)
		if err != nil {
			p.logger.WithContext(ctx).Warn().Err(err).
				Str("region", region).
				Msg("volume lookup failed, falling back to size defaults")
		} else {
			volumeSizes = sizes
		}
	}

	resolver := p.stopResolver(region)

	records := make([]types.InstanceRecord, 0, len(instances))
	for _, inst := range instances {
		record, ok := p.convert(ctx, scope, inst, volumeSizes, resolver)
		if !ok {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// describeVolumeSizes resolves attached EBS volume sizes in chunks so a
// large region never exceeds the per-call ID limit.
func (p *Provider) describeVolumeSizes(ctx context.Context, client EC2API, instances []ec2types.Instance) (map[string]int, error) {
	var ids []string
	for _, inst := range instances {
		for _, bdm := range inst.BlockDeviceMappings {
			if bdm.Ebs != nil && bdm.Ebs.VolumeId != nil {
				ids = append(ids, *bdm.Ebs.VolumeId)
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	sizes := make(map[string]int, len(ids))
	for start := 0; start < len(ids); start += volumeChunkSize {
		end := start + volumeChunkSize
		if end > len(ids) {
			end = len(ids)
		}

		p.apiCalls.Add(1)
		output, err := client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
			VolumeIds: ids[start:end],
		})
		if err != nil {
			return nil, fmt.Errorf("failed to describe volumes: %w", err)
		}
		for _, vol := range output.Volumes {
			if vol.VolumeId == nil || vol.Size == nil {
				continue
			}
			sizes[*vol.VolumeId] = int(*vol.Size)
		}
	}
	return sizes, nil
}

// stopResolver wires the tiered stop-time lookup for one region.
func (p *Provider) stopResolver(region string) normalize.StopTimeResolver {
	return normalize.StopTimeResolver{
		Clock:         p.clock,
		FastMode:      p.opts.FastMode,
		EstimatedDays: p.opts.EstimatedDays,
		Lookup:        providers.CachedLookup(p.opts.Cache, "aws", p.trailStopLookup(region)),
	}
}
