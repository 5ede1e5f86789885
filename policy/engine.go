// Package policy evaluates optional Rego rules against discovered
// instances. A policy can only exclude a record from the report and
// say why; nothing here touches infrastructure.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/horros/telemetry"
	"github.com/yairfalse/horros/types"
)

// Input is the document each policy sees as `input`.
type Input struct {
	Record    types.InstanceRecord `json:"record"`
	Timestamp time.Time            `json:"timestamp"`
}

// Verdict is the outcome of evaluating all loaded policies against one
// record. The first policy that excludes wins.
type Verdict struct {
	Exclude bool
	Reason  string
	Policy  string
}

// Exclusion pairs a dropped record with the policy that dropped it.
type Exclusion struct {
	Record types.InstanceRecord
	Reason string
	Policy string
}

// Engine holds compiled Rego queries, evaluated in policy-name order.
type Engine struct {
	logger  *telemetry.Logger
	tracer  trace.Tracer
	queries map[string]rego.PreparedEvalQuery
	names   []string
}

// NewEngine creates an empty policy engine.
func NewEngine() *Engine {
	return &Engine{
		logger:  telemetry.NewLogger("policy-engine"),
		tracer:  otel.Tracer("policy-engine"),
		queries: make(map[string]rego.PreparedEvalQuery),
	}
}

// Len returns how many policies are loaded.
func (e *Engine) Len() int {
	return len(e.names)
}

// LoadPolicy compiles one Rego module under the horros namespace.
func (e *Engine) LoadPolicy(ctx context.Context, name string, regoCode string) error {
	ctx, span := e.tracer.Start(ctx, "policy_engine.load_policy",
		trace.WithAttributes(attribute.String("policy.name", name)))
	defer span.End()

	query := rego.New(
		rego.Query("data.horros"),
		rego.Module(name, regoCode),
	)

	prepared, err := query.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	if _, exists := e.queries[name]; !exists {
		e.names = append(e.names, name)
		sort.Strings(e.names)
	}
	e.queries[name] = prepared

	e.logger.WithContext(ctx).Info().
		Str("policy_name", name).
		Msg("policy loaded")
	return nil
}

// LoadDir compiles every .rego file under dir. A missing directory is
// an error; an empty dir string loads nothing.
func (e *Engine) LoadDir(ctx context.Context, dir string) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("policy directory does not exist: %s", dir)
	}

	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".rego") {
			return nil
		}
		if err := validatePolicyPath(dir, path); err != nil {
			return fmt.Errorf("invalid policy path %s: %w", path, err)
		}

		content, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return fmt.Errorf("failed to read policy file %s: %w", path, err)
		}

		name := strings.TrimSuffix(filepath.Base(path), ".rego")
		return e.LoadPolicy(ctx, name, string(content))
	})
}

// Evaluate runs every loaded policy against one record. A policy that
// fails to evaluate is logged and skipped, never fatal to the scan.
func (e *Engine) Evaluate(ctx context.Context, record types.InstanceRecord) Verdict {
	if len(e.names) == 0 {
		return Verdict{}
	}

	ctx, span := e.tracer.Start(ctx, "policy_engine.evaluate",
		trace.WithAttributes(attribute.String("record.id", record.ID)))
	defer span.End()

	input := Input{Record: record, Timestamp: time.Now().UTC()}

	for _, name := range e.names {
		results, err := e.queries[name].Eval(ctx, rego.EvalInput(input))
		if err != nil {
			e.logger.WithContext(ctx).Warn().
				Err(err).
				Str("policy_name", name).
				Str("record_id", record.ID).
				Msg("policy evaluation failed, skipping policy")
			continue
		}

		for _, res := range results {
			for _, expr := range res.Expressions {
				if reason, excluded := findExclusion(expr.Value); excluded {
					return Verdict{Exclude: true, Reason: reason, Policy: name}
				}
			}
		}
	}
	return Verdict{}
}

// Apply splits records into kept and excluded.
func (e *Engine) Apply(ctx context.Context, records []types.InstanceRecord) ([]types.InstanceRecord, []Exclusion) {
	if len(e.names) == 0 {
		return records, nil
	}

	kept := make([]types.InstanceRecord, 0, len(records))
	var excluded []Exclusion
	for _, record := range records {
		verdict := e.Evaluate(ctx, record)
		if !verdict.Exclude {
			kept = append(kept, record)
			continue
		}
		excluded = append(excluded, Exclusion{Record: record, Reason: verdict.Reason, Policy: verdict.Policy})
		e.logger.WithContext(ctx).Debug().
			Str("record_id", record.ID).
			Str("policy_name", verdict.Policy).
			Str("reason", verdict.Reason).
			Msg("record excluded by policy")
	}
	return kept, excluded
}

// findExclusion walks the evaluated document for an exclude rule.
// Policies live in subpackages of horros, so the exclusion may sit one
// or more levels down; keys are visited in sorted order so the verdict
// is deterministic.
func findExclusion(value interface{}) (string, bool) {
	doc, ok := value.(map[string]interface{})
	if !ok {
		return "", false
	}

	if exclude, ok := doc["exclude"].(bool); ok && exclude {
		reason, _ := doc["reason"].(string)
		return reason, true
	}

	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if reason, found := findExclusion(doc[key]); found {
			return reason, true
		}
	}
	return "", false
}

func validatePolicyPath(dir, path string) error {
	relPath, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to resolve relative path: %w", err)
	}
	if strings.HasPrefix(relPath, "..") {
		return fmt.Errorf("path traversal detected")
	}
	return nil
}
