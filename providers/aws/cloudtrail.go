package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	trailtypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"

	"github.com/yairfalse/horros/normalize"
)

// stopEventName is the management event CloudTrail records when an
// instance is stopped through the API or the console.
const stopEventName = "StopInstances"

// trailStopLookup returns an event lookup that asks CloudTrail for the
// most recent StopInstances call touching the instance. CloudTrail
// returns events newest first, so the first match wins.
func (p *Provider) trailStopLookup(region string) normalize.EventLookup {
	client := p.newTrail(region)

	return func(ctx context.Context, instanceID string) (*time.Time, error) {
		endTime := p.clock.Now()
		startTime := endTime.AddDate(0, 0, -p.lookbackDays())

		input := &cloudtrail.LookupEventsInput{
			LookupAttributes: []trailtypes.LookupAttribute{
				{
					AttributeKey:   trailtypes.LookupAttributeKeyResourceName,
					AttributeValue: aws.String(instanceID),
				},
			},
			StartTime:  &startTime,
			EndTime:    &endTime,
			MaxResults: aws.Int32(50),
		}

		for {
			p.apiCalls.Add(1)
			output, err := client.LookupEvents(ctx, input)
			if err != nil {
				return nil, fmt.Errorf("failed to lookup CloudTrail events: %w", err)
			}

			for _, event := range output.Events {
				if aws.ToString(event.EventName) == stopEventName && event.EventTime != nil {
					t := event.EventTime.UTC()
					return &t, nil
				}
			}

			if output.NextToken == nil {
				return nil, nil
			}
			input.NextToken = output.NextToken
		}
	}
}

func (p *Provider) lookbackDays() int {
	if p.opts.LookbackDays > 0 {
		return p.opts.LookbackDays
	}
	return 90
}
