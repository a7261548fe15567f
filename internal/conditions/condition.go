package conditions

import (
	"context"
	"log/slog"

	"github.com/rendis/autoprogress/internal/expressions"
	"github.com/rendis/autoprogress/internal/record"
	"github.com/rendis/autoprogress/pkg/schema"
)

// Reasons reported with a not-ready verdict.
const (
	ReasonNoCondition       = "no_condition"
	ReasonInvalid           = "invalid_descriptor"
	ReasonEntityMismatch    = "entity_mismatch"
	ReasonFieldEmpty        = "field_empty"
	ReasonConditionFalse    = "condition_false"
	ReasonConditionError    = "condition_error"
	ReasonNotRiskEntity     = "not_risk_entity"
	ReasonScoreMissing      = "score_missing"
	ReasonScoreNotNumeric   = "score_not_numeric"
	ReasonNoThreshold       = "no_threshold"
	ReasonThresholdError    = "threshold_error"
	ReasonOverAppetite      = "over_appetite"
	ReasonReady             = "ready"
	ReasonNoThresholdSource = "no_threshold_provider"
)

// Condition is one auto-progression policy. The set of variants is closed:
// FieldCompletion, Auto and RiskAppetite.
type Condition interface {
	Type() Type
	ready(ctx context.Context, subj *record.Bound, c *Checker) Result
}

// Result is the verdict for one step against one record.
type Result struct {
	Type   Type   `json:"type,omitempty"`
	Ready  bool   `json:"ready"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

func notReady(t Type, reason, detail string) Result {
	return Result{Type: t, Reason: reason, Detail: detail}
}

func ready(t Type) Result {
	return Result{Type: t, Ready: true, Reason: ReasonReady}
}

// FieldCompletion is ready when every listed attribute is filled and the
// optional condition holds.
type FieldCompletion struct {
	Entity    string
	Fields    []string
	Condition string
	Dialect   string
}

func (f *FieldCompletion) Type() Type { return TypeFieldCompletion }

func (f *FieldCompletion) ready(ctx context.Context, subj *record.Bound, c *Checker) Result {
	if f.Entity != "" && f.Entity != subj.TypeName() {
		return notReady(TypeFieldCompletion, ReasonEntityMismatch, subj.TypeName())
	}
	for _, name := range f.Fields {
		if !subj.Lookup(name).Filled() {
			return notReady(TypeFieldCompletion, ReasonFieldEmpty, name)
		}
	}
	if f.Condition != "" {
		return c.expression(ctx, TypeFieldCompletion, f.Dialect, f.Condition, subj)
	}
	return ready(TypeFieldCompletion)
}

// Auto is ready unless its condition evaluates false.
type Auto struct {
	Condition string
	Dialect   string
}

func (a *Auto) Type() Type { return TypeAuto }

func (a *Auto) ready(ctx context.Context, subj *record.Bound, c *Checker) Result {
	if a.Condition == "" {
		return ready(TypeAuto)
	}
	return c.expression(ctx, TypeAuto, a.Dialect, a.Condition, subj)
}

// RiskAppetite is ready when the record's risk score does not exceed the
// applicable appetite threshold.
type RiskAppetite struct {
	Entity         string
	RiskScoreField string
	CategoryField  string
}

func (r *RiskAppetite) Type() Type { return TypeRiskAppetite }

func (r *RiskAppetite) ready(ctx context.Context, subj *record.Bound, c *Checker) Result {
	if !c.riskEntities[r.Entity] {
		return notReady(TypeRiskAppetite, ReasonNotRiskEntity, r.Entity)
	}
	if subj.TypeName() != r.Entity {
		return notReady(TypeRiskAppetite, ReasonEntityMismatch, subj.TypeName())
	}

	raw := subj.Lookup(r.RiskScoreField)
	if raw.IsNull() {
		return notReady(TypeRiskAppetite, ReasonScoreMissing, r.RiskScoreField)
	}
	score, ok := raw.AsNumber()
	if !ok {
		return notReady(TypeRiskAppetite, ReasonScoreNotNumeric, raw.Text())
	}

	if c.thresholds == nil {
		return notReady(TypeRiskAppetite, ReasonNoThresholdSource, "")
	}

	var category string
	if r.CategoryField != "" {
		category = c.scalar(subj.Lookup(r.CategoryField))
	}
	tenant := c.scalar(subj.Lookup(TenantAttribute))

	maxRisk, found, err := c.thresholds.Resolve(ctx, tenant, category)
	if err != nil {
		c.logger.WarnContext(ctx, "risk appetite lookup failed",
			slog.String("tenant", tenant),
			slog.String("category", category),
			slog.String("error", err.Error()),
		)
		return notReady(TypeRiskAppetite, ReasonThresholdError, err.Error())
	}
	if !found {
		c.logger.WarnContext(ctx, "no active risk appetite found",
			slog.String("tenant", tenant),
			slog.String("category", category),
			slog.Float64("risk_score", score),
		)
		return notReady(TypeRiskAppetite, ReasonNoThreshold, category)
	}

	acceptable := score <= float64(maxRisk)
	c.logger.InfoContext(ctx, "risk appetite check",
		slog.Float64("risk_score", score),
		slog.Int("max_acceptable", maxRisk),
		slog.String("category", category),
		slog.Bool("is_acceptable", acceptable),
	)
	if !acceptable {
		return notReady(TypeRiskAppetite, ReasonOverAppetite, raw.Text())
	}
	return ready(TypeRiskAppetite)
}

// Checker evaluates step conditions against records.
type Checker struct {
	evaluator    *expressions.Evaluator
	reader       record.Reader
	thresholds   ThresholdProvider
	riskEntities map[string]bool
	logger       *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithEvaluator sets the expression evaluator. Defaults to the native condition language only.
func WithEvaluator(ev *expressions.Evaluator) Option {
	return func(c *Checker) { c.evaluator = ev }
}

// WithReader sets the attribute reader. Defaults to record.DefaultReader.
func WithReader(r record.Reader) Option {
	return func(c *Checker) { c.reader = r }
}

// WithThresholds sets the risk appetite threshold provider.
func WithThresholds(p ThresholdProvider) Option {
	return func(c *Checker) { c.thresholds = p }
}

// WithRiskEntities replaces the set of record types risk_appetite applies to.
// Default is "Risk".
func WithRiskEntities(names ...string) Option {
	return func(c *Checker) {
		c.riskEntities = make(map[string]bool, len(names))
		for _, n := range names {
			c.riskEntities[n] = true
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Checker) { c.logger = l }
}

// NewChecker creates a Checker.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		reader:       record.DefaultReader,
		riskEntities: map[string]bool{"Risk": true},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.evaluator == nil {
		c.evaluator = expressions.NewEvaluator()
	}
	return c
}

// Reader returns the attribute reader used by the checker.
func (c *Checker) Reader() record.Reader { return c.reader }

// Evaluator returns the expression evaluator used by the checker.
func (c *Checker) Evaluator() *expressions.Evaluator { return c.evaluator }

// Check decides whether rec satisfies the condition configured on step.
// A step without a descriptor, or with a malformed one, is never ready.
func (c *Checker) Check(ctx context.Context, step *schema.WorkflowStep, rec any) Result {
	cond, ok, err := FromStep(step)
	if !ok {
		return Result{Reason: ReasonNoCondition}
	}
	if err != nil {
		return notReady("", ReasonInvalid, err.Error())
	}
	return c.Evaluate(ctx, cond, rec)
}

// Evaluate runs a built condition against rec.
func (c *Checker) Evaluate(ctx context.Context, cond Condition, rec any) Result {
	return cond.ready(ctx, record.Bind(c.reader, rec), c)
}

func (c *Checker) expression(ctx context.Context, t Type, dialect, expr string, subj *record.Bound) Result {
	ok, err := c.evaluator.Check(ctx, dialect, expr, subj)
	if err != nil {
		c.logger.DebugContext(ctx, "condition could not be evaluated",
			slog.String("condition", expr),
			slog.String("error", err.Error()),
		)
		return notReady(t, ReasonConditionError, err.Error())
	}
	if !ok {
		return notReady(t, ReasonConditionFalse, expr)
	}
	return ready(t)
}

// scalar renders an attribute used as a lookup key. Object values (an
// embedded tenant or category entity) are keyed by their id.
func (c *Checker) scalar(v record.Value) string {
	switch v.Kind() {
	case record.KindNull:
		return ""
	case record.KindObject:
		return c.reader.Get(v.Any(), record.IDAttribute).Text()
	default:
		return v.Text()
	}
}
