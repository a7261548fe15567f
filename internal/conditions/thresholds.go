package conditions

import (
	"context"
	"time"

	"github.com/rendis/autoprogress/pkg/schema"
)

// ThresholdProvider resolves the maximum acceptable risk score for a tenant and
// category. A category-specific appetite wins over the global one (empty
// category). ok is false when neither exists.
type ThresholdProvider interface {
	Resolve(ctx context.Context, tenant, category string) (maxRisk int, ok bool, err error)
}

// AppetiteSource lists the risk appetites configured for a tenant.
type AppetiteSource interface {
	ListRiskAppetites(ctx context.Context, tenant string) ([]*schema.RiskAppetite, error)
}

// AppetiteThresholds resolves thresholds from stored RiskAppetite rows,
// ignoring inactive appetites and those outside their validity window.
type AppetiteThresholds struct {
	source AppetiteSource
	now    func() time.Time
}

// NewAppetiteThresholds creates a provider backed by source.
func NewAppetiteThresholds(source AppetiteSource) *AppetiteThresholds {
	return &AppetiteThresholds{source: source, now: time.Now}
}

// Resolve implements ThresholdProvider.
func (p *AppetiteThresholds) Resolve(ctx context.Context, tenant, category string) (int, bool, error) {
	appetites, err := p.source.ListRiskAppetites(ctx, tenant)
	if err != nil {
		return 0, false, err
	}

	now := p.now()
	var global *schema.RiskAppetite
	for _, a := range appetites {
		if !a.IsCurrentlyValid(now) {
			continue
		}
		if category != "" && a.Category == category {
			return a.MaxAcceptableRisk, true, nil
		}
		if a.Category == "" && global == nil {
			global = a
		}
	}
	if global != nil {
		return global.MaxAcceptableRisk, true, nil
	}
	return 0, false, nil
}

// StaticThresholds is a fixed category to threshold table. The empty key is
// the global default. Tenants are ignored.
type StaticThresholds map[string]int

// Resolve implements ThresholdProvider.
func (s StaticThresholds) Resolve(_ context.Context, _, category string) (int, bool, error) {
	if category != "" {
		if v, ok := s[category]; ok {
			return v, true, nil
		}
	}
	v, ok := s[""]
	return v, ok, nil
}

var (
	_ ThresholdProvider = (*AppetiteThresholds)(nil)
	_ ThresholdProvider = StaticThresholds(nil)
)
