// Package gcp discovers stopped Compute Engine instances. Stop times
// come from the instance's last stop timestamp, then from zone
// operations, then from the fixed estimate.
package gcp

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/option"

	"github.com/yairfalse/horros/normalize"
	"github.com/yairfalse/horros/providers"
	"github.com/yairfalse/horros/telemetry"
	"github.com/yairfalse/horros/types"
)

// Factory function for creating GCP providers
func NewFactory(ctx context.Context, opts providers.Options) (providers.InstanceSource, error) {
	return New(ctx, opts)
}

func init() {
	providers.Register("gcp", NewFactory)
}

// ComputeAPI is the compute surface this provider consumes.
type ComputeAPI interface {
	ListZones(ctx context.Context, project string) ([]*compute.Zone, error)
	ListStoppedInstances(ctx context.Context, project, zone string) ([]*compute.Instance, error)
	ListZoneOperations(ctx context.Context, project, zone, filter string) ([]*compute.Operation, error)
}

// ProjectsAPI is the resource-manager surface used for the auth
// precondition.
type ProjectsAPI interface {
	GetProject(ctx context.Context, project string) (*cloudresourcemanager.Project, error)
}

// Provider implements providers.InstanceSource using the Google API
// client.
type Provider struct {
	opts     providers.Options
	project  string
	clock    normalize.RunClock
	defaults normalize.DiskDefaults
	logger   *telemetry.Logger

	computeAPI  ComputeAPI
	projectsAPI ProjectsAPI

	apiCalls atomic.Int64
	skipped  atomic.Int64
}

var _ providers.InstanceSource = (*Provider)(nil)
var _ providers.APICallCounter = (*Provider)(nil)
var _ providers.SkipCounter = (*Provider)(nil)

// New creates a GCP provider from application default credentials. A
// project must be configured; zones are discoverable.
func New(ctx context.Context, opts providers.Options) (*Provider, error) {
	if opts.Config == nil || opts.Config.GCP.Project == "" {
		return nil, fmt.Errorf("GCP requires a configured project")
	}

	// Application default credentials: GOOGLE_APPLICATION_CREDENTIALS,
	// gcloud auth application-default login, or the GCE metadata server.
	creds, err := google.FindDefaultCredentials(ctx,
		compute.ComputeReadonlyScope,
		cloudresourcemanager.CloudPlatformReadOnlyScope,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to discover GCP credentials: %w", err)
	}

	computeSvc, err := compute.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create Compute client: %w", err)
	}

	crmSvc, err := cloudresourcemanager.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create Resource Manager client: %w", err)
	}

	p := &Provider{
		opts:    opts,
		project: opts.Config.GCP.Project,
		clock:   normalize.NewRunClock(),
		logger:  telemetry.NewLogger("provider-gcp"),
	}
	p.computeAPI = &computeService{svc: computeSvc, calls: &p.apiCalls}
	p.projectsAPI = &projectsService{svc: crmSvc, calls: &p.apiCalls}
	p.defaults = opts.Config.NormalizeDiskDefaults()
	return p, nil
}

// Name returns the provider name
func (p *Provider) Name() string { return "gcp" }

// AgeBasis reports that GCP records threshold on creation age.
func (p *Provider) AgeBasis() types.AgeBasis { return types.BasisCreation }

// APICalls returns how many GCP API calls this run made.
func (p *Provider) APICalls() int64 { return p.apiCalls.Load() }

func (p *Provider) SkippedRecords() int64 { return p.skipped.Load() }

// CheckAuth verifies the credential can read the configured project.
func (p *Provider) CheckAuth(ctx context.Context) error {
	project, err := p.projectsAPI.GetProject(ctx, p.project)
	if err != nil {
		return fmt.Errorf("GCP authentication failed: %w", err)
	}
	p.logger.WithContext(ctx).Debug().
		Str("project", project.ProjectId).
		Str("name", project.Name).
		Msg("GCP identity verified")
	return nil
}

// ListScopes returns one scope per zone: the configured zones when
// set, otherwise every zone in the project.
func (p *Provider) ListScopes(ctx context.Context) ([]types.ScanScope, error) {
	if zones := p.opts.Config.GCP.Zones; len(zones) > 0 {
		scopes := make([]types.ScanScope, 0, len(zones))
		for _, zone := range zones {
			scopes = append(scopes, p.zoneScope(zone))
		}
		return scopes, nil
	}

	zones, err := p.computeAPI.ListZones(ctx, p.project)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}

	scopes := make([]types.ScanScope, 0, len(zones))
	for _, zone := range zones {
		if zone == nil || zone.Name == "" {
			continue
		}
		scopes = append(scopes, p.zoneScope(zone.Name))
	}
	return scopes, nil
}

func (p *Provider) zoneScope(zone string) types.ScanScope {
	return types.ScanScope{
		Provider: "gcp",
		ID:       zone,
		Parts:    map[string]string{"project": p.project, "zone": zone},
	}
}

// computeService adapts *compute.Service to the narrow ComputeAPI.
type computeService struct {
	svc   *compute.Service
	calls *atomic.Int64
}

func (c *computeService) ListZones(ctx context.Context, project string) ([]*compute.Zone, error) {
	var zones []*compute.Zone
	err := c.svc.Zones.List(project).Pages(ctx, func(page *compute.ZoneList) error {
		c.calls.Add(1)
		zones = append(zones, page.Items...)
		return nil
	})
	return zones, err
}

func (c *computeService) ListStoppedInstances(ctx context.Context, project, zone string) ([]*compute.Instance, error) {
	var instances []*compute.Instance
	err := c.svc.Instances.List(project, zone).
		Filter(`status = TERMINATED`).
		Pages(ctx, func(page *compute.InstanceList) error {
			c.calls.Add(1)
			instances = append(instances, page.Items...)
			return nil
		})
	return instances, err
}

func (c *computeService) ListZoneOperations(ctx context.Context, project, zone, filter string) ([]*compute.Operation, error) {
	var ops []*compute.Operation
	err := c.svc.ZoneOperations.List(project, zone).
		Filter(filter).
		Pages(ctx, func(page *compute.OperationList) error {
			c.calls.Add(1)
			ops = append(ops, page.Items...)
			return nil
		})
	return ops, err
}

// projectsService adapts the resource-manager client to ProjectsAPI.
type projectsService struct {
	svc   *cloudresourcemanager.Service
	calls *atomic.Int64
}

func (c *projectsService) GetProject(ctx context.Context, project string) (*cloudresourcemanager.Project, error) {
	c.calls.Add(1)
	return c.svc.Projects.Get(project).Context(ctx).Do()
}
