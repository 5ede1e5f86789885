package aws

import (
	"context"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/horros/normalize"
	"github.com/yairfalse/horros/types"
)

// AWS embeds the stop timestamp in parentheses inside the state
// transition reason, e.g. "User initiated (2024-03-01 17:22:10 GMT)".
var stopReasonPattern = regexp.MustCompile(`\(([^)]+)\)`)

const stopReasonLayout = "2006-01-02 15:04:05 MST"

// convert maps one EC2 instance to the canonical record. Instances
// without an ID or launch time are skipped, not errors.
func (p *Provider) convert(ctx context.Context, scope types.ScanScope, inst ec2types.Instance, volumeSizes map[string]int, resolver normalize.StopTimeResolver) (types.InstanceRecord, bool) {
	id := aws.ToString(inst.InstanceId)
	if id == "" || inst.LaunchTime == nil {
		p.skipped.Add(1)
		p.logger.LogRecordSkipped(ctx, scope, id, "missing instance ID or launch time")
		return types.InstanceRecord{}, false
	}

	tags := tagsFromEC2(inst.Tags)

	state := types.StateStopped
	if inst.State != nil && inst.State.Name == ec2types.InstanceStateNameTerminated {
		state = types.StateTerminated
	}

	stop := resolver.Resolve(ctx, id, parseStopTime(aws.ToString(inst.StateTransitionReason)))

	name, _ := tags.Lookup("Name")
	if name == "" {
		name = id
	}

	record := types.InstanceRecord{
		Name:             name,
		ID:               id,
		Provider:         "aws",
		Scope:            scope.String(),
		State:            state,
		CreatedAt:        inst.LaunchTime.UTC(),
		AgeDays:          p.clock.DaysSince(*inst.LaunchTime),
		StoppedAt:        stop.StoppedAt,
		StoppedDaysAgo:   stop.DaysAgo,
		StoppedAtIsExact: stop.Exact,
		Owner:            normalize.Owner(tags, nil),
		SizeClass:        string(inst.InstanceType),
		TotalDiskGB:      normalize.TotalDiskGB(disksFromEC2(inst, volumeSizes), string(inst.InstanceType), p.defaults),
		Extra:            map[string]string{},
	}
	if inst.Placement != nil && inst.Placement.AvailabilityZone != nil {
		record.Extra["availability_zone"] = *inst.Placement.AvailabilityZone
	}
	if inst.ImageId != nil {
		record.Extra["image_id"] = *inst.ImageId
	}
	return record, true
}

// parseStopTime extracts the stop timestamp from the state transition
// reason. Nil when the reason carries none.
func parseStopTime(reason string) *time.Time {
	if reason == "" {
		return nil
	}
	match := stopReasonPattern.FindStringSubmatch(reason)
	if match == nil {
		return nil
	}
	t, err := time.Parse(stopReasonLayout, match[1])
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// tagsFromEC2 converts the SDK tag list shape.
func tagsFromEC2(in []ec2types.Tag) types.Tags {
	tags := make(types.Tags, len(in))
	for _, tag := range in {
		if tag.Key == nil || tag.Value == nil {
			continue
		}
		tags[*tag.Key] = *tag.Value
	}
	return tags
}

// disksFromEC2 maps block device attachments to disk entries, using the
// resolved volume size when DescribeVolumes returned one.
func disksFromEC2(inst ec2types.Instance, volumeSizes map[string]int) []normalize.Disk {
	root := aws.ToString(inst.RootDeviceName)

	var disks []normalize.Disk
	for _, bdm := range inst.BlockDeviceMappings {
		if bdm.Ebs == nil || bdm.Ebs.VolumeId == nil {
			continue
		}
		disks = append(disks, normalize.Disk{
			SizeGB: volumeSizes[*bdm.Ebs.VolumeId],
			Boot:   root != "" && aws.ToString(bdm.DeviceName) == root,
		})
	}
	return disks
}
