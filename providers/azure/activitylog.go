package azure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/monitor/armmonitor"

	"github.com/yairfalse/horros/normalize"
	"github.com/yairfalse/horros/providers"
)

const (
	deallocateOperation = "Microsoft.Compute/virtualMachines/deallocate/action"
	statusSucceeded     = "Succeeded"
)

func (p *Provider) stopResolver(subscriptionID string) normalize.StopTimeResolver {
	return normalize.StopTimeResolver{
		Clock:         p.clock,
		FastMode:      p.opts.FastMode,
		EstimatedDays: p.opts.EstimatedDays,
		Lookup:        providers.CachedLookup(p.opts.Cache, "azure", p.activityStopLookup(subscriptionID)),
	}
}

// activityStopLookup finds the most recent successful deallocation of
// one VM in the subscription activity log. Azure retains 90 days of
// activity events, so longer lookbacks gain nothing.
func (p *Provider) activityStopLookup(subscriptionID string) normalize.EventLookup {
	client, err := p.newLogs(subscriptionID)
	if err != nil {
		p.logger.Warn().Err(err).Msg("activity log client unavailable, stop times fall back to estimates")
		return nil
	}

	return func(ctx context.Context, resourceID string) (*time.Time, error) {
		end := p.clock.Now()
		start := end.AddDate(0, 0, -p.lookbackDays())
		filter := fmt.Sprintf("eventTimestamp ge '%s' and eventTimestamp le '%s' and resourceUri eq '%s'",
			start.Format(time.RFC3339), end.Format(time.RFC3339), resourceID)

		pager := client.NewListPager(filter, nil)
		for pager.More() {
			p.apiCalls.Add(1)
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("activity log query failed: %w", err)
			}
			// Events arrive newest first.
			for _, event := range page.Value {
				if isDeallocateSuccess(event) {
					t := event.EventTimestamp.UTC()
					return &t, nil
				}
			}
		}
		return nil, nil
	}
}

func isDeallocateSuccess(event *armmonitor.EventData) bool {
	if event == nil || event.EventTimestamp == nil {
		return false
	}
	if event.OperationName == nil || event.OperationName.Value == nil ||
		!strings.EqualFold(*event.OperationName.Value, deallocateOperation) {
		return false
	}
	return event.Status != nil && event.Status.Value != nil &&
		strings.EqualFold(*event.Status.Value, statusSucceeded)
}

func (p *Provider) lookbackDays() int {
	if p.opts.LookbackDays > 0 {
		return p.opts.LookbackDays
	}
	return 90
}
