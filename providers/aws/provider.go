// Package aws discovers stopped EC2 instances. Stop times come from
// the instance's state transition reason when it carries a timestamp,
// then from CloudTrail, then from the fixed estimate.
package aws

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/yairfalse/horros/normalize"
	"github.com/yairfalse/horros/providers"
	"github.com/yairfalse/horros/telemetry"
	"github.com/yairfalse/horros/types"
)

// Factory function for creating AWS providers
func NewFactory(ctx context.Context, opts providers.Options) (providers.InstanceSource, error) {
	return New(ctx, opts)
}

func init() {
	providers.Register("aws", NewFactory)
}

// EC2API is the EC2 surface this provider consumes.
type EC2API interface {
	ec2.DescribeInstancesAPIClient
	ec2.DescribeVolumesAPIClient
	DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
}

// TrailAPI is the CloudTrail surface this provider consumes.
type TrailAPI interface {
	LookupEvents(ctx context.Context, params *cloudtrail.LookupEventsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error)
}

// STSAPI is the identity surface used for the auth precondition.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Provider implements providers.InstanceSource using AWS SDK v2.
type Provider struct {
	opts     providers.Options
	clock    normalize.RunClock
	defaults normalize.DiskDefaults
	logger   *telemetry.Logger

	newEC2   func(region string) EC2API
	newTrail func(region string) TrailAPI
	stsAPI   STSAPI

	apiCalls atomic.Int64
	skipped  atomic.Int64
}

var _ providers.InstanceSource = (*Provider)(nil)
var _ providers.APICallCounter = (*Provider)(nil)
var _ providers.SkipCounter = (*Provider)(nil)

// New creates an AWS provider from ambient credentials.
func New(ctx context.Context, opts providers.Options) (*Provider, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Config != nil && opts.Config.AWS.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Config.AWS.Region))
	}
	if opts.Config != nil && opts.Config.AWS.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Config.AWS.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	p := &Provider{
		opts:   opts,
		clock:  normalize.NewRunClock(),
		logger: telemetry.NewLogger("provider-aws"),
		newEC2: func(region string) EC2API {
			return ec2.NewFromConfig(cfg, func(o *ec2.Options) {
				if region != "" {
					o.Region = region
				}
			})
		},
		newTrail: func(region string) TrailAPI {
			return cloudtrail.NewFromConfig(cfg, func(o *cloudtrail.Options) {
				if region != "" {
					o.Region = region
				}
			})
		},
		stsAPI: sts.NewFromConfig(cfg),
	}
	if opts.Config != nil {
		p.defaults = opts.Config.NormalizeDiskDefaults()
	}
	return p, nil
}

// Name returns the provider name
func (p *Provider) Name() string { return "aws" }

// AgeBasis reports that AWS records threshold on creation age.
func (p *Provider) AgeBasis() types.AgeBasis { return types.BasisCreation }

// APICalls returns how many AWS API calls this run made.
func (p *Provider) APICalls() int64 { return p.apiCalls.Load() }

func (p *Provider) SkippedRecords() int64 { return p.skipped.Load() }

// CheckAuth verifies credentials resolve to a real identity.
func (p *Provider) CheckAuth(ctx context.Context) error {
	p.apiCalls.Add(1)
	out, err := p.stsAPI.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("AWS authentication failed: %w", err)
	}
	p.logger.WithContext(ctx).Debug().
		Str("account", aws.ToString(out.Account)).
		Str("arn", aws.ToString(out.Arn)).
		Msg("AWS identity verified")
	return nil
}

// ListScopes returns one scope per region: the configured region when
// set, otherwise every region enabled for the account.
func (p *Provider) ListScopes(ctx context.Context) ([]types.ScanScope, error) {
	if p.opts.Config != nil && p.opts.Config.AWS.Region != "" {
		return []types.ScanScope{regionScope(p.opts.Config.AWS.Region)}, nil
	}

	p.apiCalls.Add(1)
	out, err := p.newEC2("").DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}

	scopes := make([]types.ScanScope, 0, len(out.Regions))
	for _, r := range out.Regions {
		name := aws.ToString(r.RegionName)
		if name == "" {
			continue
		}
		scopes = append(scopes, regionScope(name))
	}
	return scopes, nil
}

func regionScope(region string) types.ScanScope {
	return types.ScanScope{
		Provider: "aws",
		ID:       region,
		Parts:    map[string]string{"region": region},
	}
}

// instanceStateFilter builds the discovery filter, widened to include
// terminated instances when configured.
func (p *Provider) instanceStateFilter() ec2types.Filter {
	values := []string{string(ec2types.InstanceStateNameStopped)}
	if p.opts.Config != nil && p.opts.Config.IncludeTerminated {
		values = append(values, string(ec2types.InstanceStateNameTerminated))
	}
	return ec2types.Filter{
		Name:   aws.String("instance-state-name"),
		Values: values,
	}
}
