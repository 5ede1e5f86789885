package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/horros/config"
	"github.com/yairfalse/horros/journal"
	"github.com/yairfalse/horros/providers"
	"github.com/yairfalse/horros/types"
)

// fakeSource feeds the runner canned scopes and records.
type fakeSource struct {
	name      string
	basis     types.AgeBasis
	scopes    []types.ScanScope
	scopesErr error
	authErr   error
	records   map[string][]types.InstanceRecord
	listErr   map[string]error
	apiCalls  int64
	skipped   int64
}

var _ providers.InstanceSource = (*fakeSource)(nil)
var _ providers.APICallCounter = (*fakeSource)(nil)
var _ providers.SkipCounter = (*fakeSource)(nil)

func (f *fakeSource) ListScopes(ctx context.Context) ([]types.ScanScope, error) {
	return f.scopes, f.scopesErr
}

func (f *fakeSource) ListStoppedInstances(ctx context.Context, scope types.ScanScope) ([]types.InstanceRecord, error) {
	if err := f.listErr[scope.ID]; err != nil {
		return nil, err
	}
	return f.records[scope.ID], nil
}

func (f *fakeSource) CheckAuth(ctx context.Context) error { return f.authErr }
func (f *fakeSource) Name() string                        { return f.name }
func (f *fakeSource) AgeBasis() types.AgeBasis            { return f.basis }
func (f *fakeSource) APICalls() int64                     { return f.apiCalls }
func (f *fakeSource) SkippedRecords() int64               { return f.skipped }

// registerFake registers src under name; names are unique per test
// because the provider registry is process-global.
func registerFake(name string, src *fakeSource) {
	src.name = name
	if src.basis == "" {
		src.basis = types.BasisCreation
	}
	providers.Register(name, func(ctx context.Context, opts providers.Options) (providers.InstanceSource, error) {
		return src, nil
	})
}

func testConfig(t *testing.T, provider string) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Provider = provider
	cfg.OutputDir = t.TempDir()
	cfg.Cache.Disabled = true
	cfg.MinAgeDays = 30
	cfg.Concurrency = 2
	return cfg
}

func fakeScope(id string) types.ScanScope {
	return types.ScanScope{Provider: "fake", ID: id}
}

func agedRecord(name, scope string, ageDays int) types.InstanceRecord {
	return types.InstanceRecord{
		Name:           name,
		ID:             "id-" + name,
		Provider:       "fake",
		Scope:          scope,
		State:          types.StateStopped,
		CreatedAt:      time.Now().AddDate(0, 0, -ageDays),
		AgeDays:        ageDays,
		StoppedDaysAgo: ageDays,
		Owner:          "platform",
		SizeClass:      "m5.large",
		TotalDiskGB:    50,
	}
}

func TestRunHappyPath(t *testing.T) {
	src := &fakeSource{
		scopes: []types.ScanScope{fakeScope("scope-a"), fakeScope("scope-b")},
		records: map[string][]types.InstanceRecord{
			"scope-a": {
				agedRecord("old-api", "scope-a", 120),
				agedRecord("young-api", "scope-a", 10),
			},
			"scope-b": {
				agedRecord("ancient-db", "scope-b", 400),
			},
		},
		apiCalls: 7,
		skipped:  1,
	}
	registerFake("fake-happy", src)

	cfg := testConfig(t, "fake-happy")
	r, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "fake-happy", result.Provider)
	assert.Equal(t, types.BasisCreation, result.Basis)
	assert.Len(t, result.Records, 2)

	assert.Equal(t, 2, result.RunStats.ScopesPlanned)
	assert.Equal(t, 0, result.RunStats.ScopesFailed)
	assert.Equal(t, 3, result.RunStats.Found)
	assert.Equal(t, 2, result.RunStats.Filtered)
	assert.Equal(t, int64(7), result.RunStats.APICalls)
	assert.Equal(t, 1, result.RunStats.SkippedRecords)
	assert.False(t, result.RunStats.FinishedAt.IsZero())

	assert.Equal(t, 2, result.Stats.Total)
	assert.Equal(t, 100, result.Stats.TotalDiskGB)

	require.NotEmpty(t, result.Files.CSV)
	require.NotEmpty(t, result.Files.HTML)
	_, err = os.Stat(result.Files.CSV)
	assert.NoError(t, err)
	_, err = os.Stat(result.Files.HTML)
	assert.NoError(t, err)
}

func TestRunScopeFailureIsSoft(t *testing.T) {
	src := &fakeSource{
		scopes: []types.ScanScope{fakeScope("good"), fakeScope("bad")},
		records: map[string][]types.InstanceRecord{
			"good": {agedRecord("survivor", "good", 100)},
		},
		listErr: map[string]error{
			"bad": errors.New("throttled"),
		},
	}
	registerFake("fake-softfail", src)

	cfg := testConfig(t, "fake-softfail")
	r, err := New(context.Background(), cfg)
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.RunStats.ScopesFailed)
	assert.Equal(t, 1, result.RunStats.Found)
	assert.Len(t, result.Records, 1)
	assert.Equal(t, "survivor", result.Records[0].Name)
}

func TestRunAuthFailure(t *testing.T) {
	src := &fakeSource{
		scopes:  []types.ScanScope{fakeScope("never-reached")},
		authErr: errors.New("credentials expired"),
	}
	registerFake("fake-badauth", src)

	cfg := testConfig(t, "fake-badauth")
	r, err := New(context.Background(), cfg)
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials expired")
}

func TestRunNoScopes(t *testing.T) {
	registerFake("fake-empty", &fakeSource{})

	cfg := testConfig(t, "fake-empty")
	r, err := New(context.Background(), cfg)
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned no scopes")
}

func TestRunScopeFilterRemovesEverything(t *testing.T) {
	src := &fakeSource{
		scopes: []types.ScanScope{fakeScope("us-east-1"), fakeScope("eu-west-1")},
	}
	registerFake("fake-filtered-out", src)

	cfg := testConfig(t, "fake-filtered-out")
	cfg.Scopes.Allow = []string{"ap-*"}

	r, err := New(context.Background(), cfg)
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scope filters matched no scopes")
	assert.Contains(t, err.Error(), "ap-*")
}

func TestRunScopeFilterAllow(t *testing.T) {
	src := &fakeSource{
		scopes: []types.ScanScope{fakeScope("prod"), fakeScope("dev")},
		records: map[string][]types.InstanceRecord{
			"prod": {agedRecord("prod-api", "prod", 200)},
			"dev":  {agedRecord("dev-api", "dev", 200)},
		},
	}
	registerFake("fake-allow", src)

	cfg := testConfig(t, "fake-allow")
	cfg.Scopes.Allow = []string{"prod"}

	r, err := New(context.Background(), cfg)
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.RunStats.ScopesPlanned)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "prod-api", result.Records[0].Name)
}

const keepStoppedRego = `package horros.keep_stopped

import rego.v1

exclude if {
	input.record.extra["KeepStopped"] == "true"
}

reason := "instance tagged KeepStopped" if exclude
`

func TestRunPolicyExclusions(t *testing.T) {
	keep := agedRecord("keeper", "scope-a", 100)
	keep.Extra = map[string]string{"KeepStopped": "true"}

	src := &fakeSource{
		scopes: []types.ScanScope{fakeScope("scope-a")},
		records: map[string][]types.InstanceRecord{
			"scope-a": {keep, agedRecord("reportable", "scope-a", 100)},
		},
	}
	registerFake("fake-policy", src)

	policyDir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(policyDir, "keep_stopped.rego"),
		[]byte(keepStoppedRego), 0644))

	cfg := testConfig(t, "fake-policy")
	cfg.Policies.Dir = policyDir

	r, err := New(context.Background(), cfg)
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	assert.Equal(t, "reportable", result.Records[0].Name)
	require.Len(t, result.Excluded, 1)
	assert.Equal(t, "keeper", result.Excluded[0].Record.Name)
	assert.Equal(t, "instance tagged KeepStopped", result.Excluded[0].Reason)
	assert.Equal(t, 1, result.RunStats.SkippedPolicy)
}

func TestNewRejectsBrokenPolicies(t *testing.T) {
	policyDir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(policyDir, "broken.rego"),
		[]byte("package horros.broken\n\nexclude {{{"), 0644))

	cfg := testConfig(t, "fake-irrelevant")
	cfg.Policies.Dir = policyDir

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load policies")
}

func TestRunWritesJournal(t *testing.T) {
	src := &fakeSource{
		scopes: []types.ScanScope{fakeScope("good"), fakeScope("bad")},
		records: map[string][]types.InstanceRecord{
			"good": {agedRecord("old-api", "good", 120)},
		},
		listErr: map[string]error{
			"bad": errors.New("throttled"),
		},
	}
	registerFake("fake-journal", src)

	journalDir := t.TempDir()

	cfg := testConfig(t, "fake-journal")
	r, err := New(context.Background(), cfg)
	require.NoError(t, err)
	r.WithJournal(journalDir)

	_, err = r.Run(context.Background())
	require.NoError(t, err)

	counts := make(map[journal.EntryType]int)
	err = journal.Replay(journalDir, time.Time{}, func(e *journal.Entry) error {
		counts[e.Type]++
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, counts[journal.EntryRunStarted])
	assert.Equal(t, 1, counts[journal.EntryScopeScanned])
	assert.Equal(t, 1, counts[journal.EntryScopeFailed])
	assert.Equal(t, 1, counts[journal.EntryReportWritten])
	assert.Equal(t, 1, counts[journal.EntryRunFinished])
}

func TestRunZeroMatches(t *testing.T) {
	src := &fakeSource{
		scopes: []types.ScanScope{fakeScope("scope-a")},
		records: map[string][]types.InstanceRecord{
			"scope-a": {agedRecord("fresh", "scope-a", 3)},
		},
	}
	registerFake("fake-zero", src)

	cfg := testConfig(t, "fake-zero")
	r, err := New(context.Background(), cfg)
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, result.Records)
	assert.Equal(t, 1, result.RunStats.Found)
	assert.Equal(t, 0, result.RunStats.Filtered)
	assert.Empty(t, result.Files.CSV)
	assert.Empty(t, result.Files.HTML)
}

func TestRunUnknownProvider(t *testing.T) {
	cfg := testConfig(t, "doesnotexist")

	r, err := New(context.Background(), cfg)
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRunPassesProviderOptions(t *testing.T) {
	src := &fakeSource{
		scopes: []types.ScanScope{fakeScope("scope-a")},
	}

	var captured providers.Options
	providers.Register("fake-opts", func(ctx context.Context, opts providers.Options) (providers.InstanceSource, error) {
		captured = opts
		src.name = "fake-opts"
		src.basis = types.BasisCreation
		return src, nil
	})

	cfg := testConfig(t, "fake-opts")
	cfg.FastMode = true
	cfg.StopLookbackDays = 45
	cfg.EstimatedStoppedDays = 80

	r, err := New(context.Background(), cfg)
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Records)

	assert.True(t, captured.FastMode)
	assert.Equal(t, 45, captured.LookbackDays)
	assert.Equal(t, 80, captured.EstimatedDays)
	assert.Nil(t, captured.Cache)
	require.NotNil(t, captured.Config)
	assert.Equal(t, "fake-opts", captured.Config.Provider)
}
