// Package azure discovers deallocated virtual machines. Stop times
// come from the instance view status timestamp when Azure surfaces
// one, then from the subscription activity log, then from the fixed
// estimate.
package azure

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/monitor/armmonitor"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"

	"github.com/yairfalse/horros/normalize"
	"github.com/yairfalse/horros/providers"
	"github.com/yairfalse/horros/telemetry"
	"github.com/yairfalse/horros/types"
)

// Factory function for creating Azure providers
func NewFactory(ctx context.Context, opts providers.Options) (providers.InstanceSource, error) {
	return New(ctx, opts)
}

func init() {
	providers.Register("azure", NewFactory)
}

// VMAPI is the compute surface this provider consumes.
type VMAPI interface {
	NewListAllPager(options *armcompute.VirtualMachinesClientListAllOptions) *runtime.Pager[armcompute.VirtualMachinesClientListAllResponse]
	InstanceView(ctx context.Context, resourceGroupName, vmName string, options *armcompute.VirtualMachinesClientInstanceViewOptions) (armcompute.VirtualMachinesClientInstanceViewResponse, error)
}

// SubscriptionsAPI is the ARM surface used for scope discovery and the
// auth precondition.
type SubscriptionsAPI interface {
	Get(ctx context.Context, subscriptionID string, options *armsubscriptions.ClientGetOptions) (armsubscriptions.ClientGetResponse, error)
	NewListPager(options *armsubscriptions.ClientListOptions) *runtime.Pager[armsubscriptions.ClientListResponse]
}

// ActivityLogsAPI is the monitor surface for stop-event lookups.
type ActivityLogsAPI interface {
	NewListPager(filter string, options *armmonitor.ActivityLogsClientListOptions) *runtime.Pager[armmonitor.ActivityLogsClientListResponse]
}

// Provider implements providers.InstanceSource using the Azure SDK.
// Deallocated VMs keep billing their managed disks, which is why they
// threshold on stop age rather than creation age.
type Provider struct {
	opts     providers.Options
	clock    normalize.RunClock
	defaults normalize.DiskDefaults
	logger   *telemetry.Logger

	newVMs  func(subscriptionID string) (VMAPI, error)
	newLogs func(subscriptionID string) (ActivityLogsAPI, error)
	subsAPI SubscriptionsAPI

	apiCalls atomic.Int64
	skipped  atomic.Int64
}

var _ providers.InstanceSource = (*Provider)(nil)
var _ providers.APICallCounter = (*Provider)(nil)
var _ providers.SkipCounter = (*Provider)(nil)

// New creates an Azure provider from ambient credentials. The default
// credential chain covers environment variables, managed identity, and
// az login.
func New(ctx context.Context, opts providers.Options) (*Provider, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	subsClient, err := armsubscriptions.NewClient(cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptions client: %w", err)
	}

	p := &Provider{
		opts:    opts,
		clock:   normalize.NewRunClock(),
		logger:  telemetry.NewLogger("provider-azure"),
		subsAPI: subsClient,
		newVMs: func(subscriptionID string) (VMAPI, error) {
			return armcompute.NewVirtualMachinesClient(subscriptionID, cred, nil)
		},
		newLogs: func(subscriptionID string) (ActivityLogsAPI, error) {
			return armmonitor.NewActivityLogsClient(subscriptionID, cred, nil)
		},
	}
	if opts.Config != nil {
		p.defaults = opts.Config.NormalizeDiskDefaults()
	}
	return p, nil
}

// Name returns the provider name
func (p *Provider) Name() string { return "azure" }

// AgeBasis reports that Azure records threshold on stop age.
func (p *Provider) AgeBasis() types.AgeBasis { return types.BasisStopped }

// APICalls returns how many Azure API calls this run made.
func (p *Provider) APICalls() int64 { return p.apiCalls.Load() }

func (p *Provider) SkippedRecords() int64 { return p.skipped.Load() }

// CheckAuth verifies the credential can read a subscription.
func (p *Provider) CheckAuth(ctx context.Context) error {
	if subs := p.configuredSubscriptions(); len(subs) > 0 {
		p.apiCalls.Add(1)
		resp, err := p.subsAPI.Get(ctx, subs[0], nil)
		if err != nil {
			return fmt.Errorf("Azure authentication failed: %w", err)
		}
		p.logger.WithContext(ctx).Debug().
			Str("subscription", subs[0]).
			Str("display_name", strVal(resp.DisplayName)).
			Msg("Azure identity verified")
		return nil
	}

	// No subscriptions configured: the list call doubles as the probe.
	p.apiCalls.Add(1)
	if _, err := p.subsAPI.NewListPager(nil).NextPage(ctx); err != nil {
		return fmt.Errorf("Azure authentication failed: %w", err)
	}
	return nil
}

// ListScopes returns one scope per subscription: the configured list
// when set, otherwise every subscription the credential can see.
func (p *Provider) ListScopes(ctx context.Context) ([]types.ScanScope, error) {
	if subs := p.configuredSubscriptions(); len(subs) > 0 {
		scopes := make([]types.ScanScope, 0, len(subs))
		for _, id := range subs {
			scopes = append(scopes, subscriptionScope(id, ""))
		}
		return scopes, nil
	}

	var scopes []types.ScanScope
	pager := p.subsAPI.NewListPager(nil)
	for pager.More() {
		p.apiCalls.Add(1)
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		for _, sub := range page.Value {
			if sub == nil || sub.SubscriptionID == nil {
				continue
			}
			scopes = append(scopes, subscriptionScope(*sub.SubscriptionID, strVal(sub.DisplayName)))
		}
	}
	return scopes, nil
}

func (p *Provider) configuredSubscriptions() []string {
	if p.opts.Config == nil {
		return nil
	}
	return p.opts.Config.Azure.Subscriptions
}

func subscriptionScope(id, name string) types.ScanScope {
	scope := types.ScanScope{
		Provider: "azure",
		ID:       id,
		Parts:    map[string]string{"subscription": id},
	}
	if name != "" {
		scope.Label = name
	}
	return scope
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
