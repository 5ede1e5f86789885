// Package oci discovers stopped Compute instances across subscribed
// regions and accessible compartments. OCI surfaces no stop timestamp
// or stop event, so record ages are creation-based and stop times
// carry the estimate.
package oci

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/core"
	"github.com/oracle/oci-go-sdk/v65/identity"

	"github.com/yairfalse/horros/normalize"
	"github.com/yairfalse/horros/providers"
	"github.com/yairfalse/horros/telemetry"
	"github.com/yairfalse/horros/types"
)

// Factory function for creating OCI providers
func NewFactory(ctx context.Context, opts providers.Options) (providers.InstanceSource, error) {
	return New(ctx, opts)
}

func init() {
	providers.Register("oci", NewFactory)
}

// fallbackRegions stand in when the region subscription lookup fails.
var fallbackRegions = []string{"us-ashburn-1", "us-phoenix-1"}

// IdentityAPI is the identity surface this provider consumes.
type IdentityAPI interface {
	GetTenancy(ctx context.Context, request identity.GetTenancyRequest) (identity.GetTenancyResponse, error)
	ListRegionSubscriptions(ctx context.Context, request identity.ListRegionSubscriptionsRequest) (identity.ListRegionSubscriptionsResponse, error)
	ListCompartments(ctx context.Context, request identity.ListCompartmentsRequest) (identity.ListCompartmentsResponse, error)
	GetCompartment(ctx context.Context, request identity.GetCompartmentRequest) (identity.GetCompartmentResponse, error)
}

// ComputeAPI is the compute surface this provider consumes.
type ComputeAPI interface {
	ListInstances(ctx context.Context, request core.ListInstancesRequest) (core.ListInstancesResponse, error)
	ListBootVolumeAttachments(ctx context.Context, request core.ListBootVolumeAttachmentsRequest) (core.ListBootVolumeAttachmentsResponse, error)
	ListVolumeAttachments(ctx context.Context, request core.ListVolumeAttachmentsRequest) (core.ListVolumeAttachmentsResponse, error)
}

// StorageAPI is the block storage surface used for disk sizes.
type StorageAPI interface {
	GetBootVolume(ctx context.Context, request core.GetBootVolumeRequest) (core.GetBootVolumeResponse, error)
	GetVolume(ctx context.Context, request core.GetVolumeRequest) (core.GetVolumeResponse, error)
}

// Provider implements providers.InstanceSource using the OCI SDK.
type Provider struct {
	opts     providers.Options
	clock    normalize.RunClock
	defaults normalize.DiskDefaults
	logger   *telemetry.Logger

	tenancyID  string
	identity   IdentityAPI
	newCompute func(region string) (ComputeAPI, error)
	newStorage func(region string) (StorageAPI, error)

	retryBase time.Duration
	apiCalls  atomic.Int64
	skipped   atomic.Int64
}

var _ providers.InstanceSource = (*Provider)(nil)
var _ providers.APICallCounter = (*Provider)(nil)
var _ providers.SkipCounter = (*Provider)(nil)

// New creates an OCI provider from the configured profile.
func New(ctx context.Context, opts providers.Options) (*Provider, error) {
	profile := ""
	tenancyID := ""
	if opts.Config != nil {
		profile = opts.Config.OCI.Profile
		tenancyID = opts.Config.OCI.TenancyID
	}

	configProvider := common.DefaultConfigProvider()
	if profile != "" && profile != "DEFAULT" {
		configProvider = common.CustomProfileConfigProvider("", profile)
	}

	if tenancyID == "" {
		id, err := configProvider.TenancyOCID()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve OCI tenancy: %w", err)
		}
		tenancyID = id
	}

	identityClient, err := identity.NewIdentityClientWithConfigurationProvider(configProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCI identity client: %w", err)
	}

	p := &Provider{
		opts:      opts,
		clock:     normalize.NewRunClock(),
		logger:    telemetry.NewLogger("provider-oci"),
		tenancyID: tenancyID,
		identity:  identityClient,
		newCompute: func(region string) (ComputeAPI, error) {
			client, err := core.NewComputeClientWithConfigurationProvider(configProvider)
			if err != nil {
				return nil, err
			}
			if region != "" {
				client.SetRegion(region)
			}
			return client, nil
		},
		newStorage: func(region string) (StorageAPI, error) {
			client, err := core.NewBlockstorageClientWithConfigurationProvider(configProvider)
			if err != nil {
				return nil, err
			}
			if region != "" {
				client.SetRegion(region)
			}
			return client, nil
		},
		retryBase: retryBaseDelay,
	}
	if opts.Config != nil {
		p.defaults = opts.Config.NormalizeDiskDefaults()
	}
	return p, nil
}

// Name returns the provider name
func (p *Provider) Name() string { return "oci" }

// AgeBasis reports that OCI records threshold on creation age.
func (p *Provider) AgeBasis() types.AgeBasis { return types.BasisCreation }

// APICalls returns how many OCI API calls this run made.
func (p *Provider) APICalls() int64 { return p.apiCalls.Load() }

func (p *Provider) SkippedRecords() int64 { return p.skipped.Load() }

// CheckAuth verifies the profile resolves to a reachable tenancy.
func (p *Provider) CheckAuth(ctx context.Context) error {
	p.apiCalls.Add(1)
	out, err := p.identity.GetTenancy(ctx, identity.GetTenancyRequest{
		TenancyId: common.String(p.tenancyID),
	})
	if err != nil {
		return fmt.Errorf("OCI authentication failed: %w", err)
	}
	p.logger.WithContext(ctx).Debug().
		Str("tenancy", p.tenancyID).
		Str("name", strVal(out.Tenancy.Name)).
		Msg("OCI identity verified")
	return nil
}

// ListScopes crosses every region with every compartment: configured
// lists when set, otherwise subscribed regions and the accessible
// compartment tree. Compartment names resolve once here so records
// never repeat the lookup.
func (p *Provider) ListScopes(ctx context.Context) ([]types.ScanScope, error) {
	regions := p.regions(ctx)
	compartments, err := p.compartments(ctx)
	if err != nil {
		return nil, err
	}

	scopes := make([]types.ScanScope, 0, len(regions)*len(compartments))
	for _, region := range regions {
		if region == "" {
			continue
		}
		for _, comp := range compartments {
			scopes = append(scopes, compartmentScope(region, comp))
		}
	}
	return scopes, nil
}

// regions returns the configured region list when present, otherwise
// every READY region subscription. A failed lookup degrades to the
// fallback pair rather than aborting the run.
func (p *Provider) regions(ctx context.Context) []string {
	if p.opts.Config != nil && len(p.opts.Config.OCI.Regions) > 0 {
		return p.opts.Config.OCI.Regions
	}

	p.apiCalls.Add(1)
	out, err := p.identity.ListRegionSubscriptions(ctx, identity.ListRegionSubscriptionsRequest{
		TenancyId: common.String(p.tenancyID),
	})
	if err != nil {
		p.logger.WithContext(ctx).Warn().Err(err).
			Strs("fallback", fallbackRegions).
			Msg("region subscription lookup failed, using fallback regions")
		return fallbackRegions
	}

	regions := make([]string, 0, len(out.Items))
	for _, sub := range out.Items {
		if sub.Status != identity.RegionSubscriptionStatusReady {
			continue
		}
		if name := strVal(sub.RegionName); name != "" {
			regions = append(regions, name)
		}
	}
	return regions
}

// compartmentRef pairs a compartment OCID with its display name.
type compartmentRef struct {
	ID   string
	Name string
}

func (p *Provider) compartments(ctx context.Context) ([]compartmentRef, error) {
	if p.opts.Config != nil && len(p.opts.Config.OCI.Compartments) > 0 {
		return p.configuredCompartments(ctx, p.opts.Config.OCI.Compartments), nil
	}
	return p.discoverCompartments(ctx)
}

// configuredCompartments resolves names for explicitly listed
// compartment OCIDs. A failed name lookup keeps the compartment in
// scope under "Unknown".
func (p *Provider) configuredCompartments(ctx context.Context, ids []string) []compartmentRef {
	refs := make([]compartmentRef, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		name := "Unknown"
		p.apiCalls.Add(1)
		out, err := p.identity.GetCompartment(ctx, identity.GetCompartmentRequest{
			CompartmentId: common.String(id),
		})
		if err != nil {
			p.logger.WithContext(ctx).Warn().Err(err).
				Str("compartment", id).
				Msg("compartment lookup failed")
		} else if n := strVal(out.Compartment.Name); n != "" {
			name = n
		}
		refs = append(refs, compartmentRef{ID: id, Name: name})
	}
	return refs
}

// discoverCompartments walks the whole accessible tree under the
// tenancy, root included.
func (p *Provider) discoverCompartments(ctx context.Context) ([]compartmentRef, error) {
	refs := []compartmentRef{{ID: p.tenancyID, Name: p.rootLabel(ctx)}}

	var page *string
	for {
		p.apiCalls.Add(1)
		out, err := p.identity.ListCompartments(ctx, identity.ListCompartmentsRequest{
			CompartmentId:          common.String(p.tenancyID),
			CompartmentIdInSubtree: common.Bool(true),
			AccessLevel:            identity.ListCompartmentsAccessLevelAccessible,
			Page:                   page,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list compartments: %w", err)
		}
		for _, comp := range out.Items {
			if comp.LifecycleState != identity.CompartmentLifecycleStateActive {
				continue
			}
			id := strVal(comp.Id)
			if id == "" {
				continue
			}
			name := strVal(comp.Name)
			if name == "" {
				name = "Unknown"
			}
			refs = append(refs, compartmentRef{ID: id, Name: name})
		}
		if out.OpcNextPage == nil {
			break
		}
		page = out.OpcNextPage
	}
	return refs, nil
}

// rootLabel names the root compartment after the tenancy.
func (p *Provider) rootLabel(ctx context.Context) string {
	p.apiCalls.Add(1)
	out, err := p.identity.GetTenancy(ctx, identity.GetTenancyRequest{
		TenancyId: common.String(p.tenancyID),
	})
	if err != nil || strVal(out.Tenancy.Name) == "" {
		return "Root Compartment"
	}
	return strVal(out.Tenancy.Name) + " (Root)"
}

func compartmentScope(region string, comp compartmentRef) types.ScanScope {
	return types.ScanScope{
		Provider: "oci",
		ID:       region + "/" + comp.Name,
		Parts: map[string]string{
			"region":           region,
			"compartment_id":   comp.ID,
			"compartment_name": comp.Name,
		},
	}
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
