// Package promo resolves promo codes configured in the YAML config.
// Code management lives elsewhere; this is only the lookup.
package promo

import (
	"context"
	"strings"

	"slotbook/internal/domain"
	"slotbook/internal/models"
)

type StaticResolver struct {
	rules map[string]models.DiscountRule
}

func NewStaticResolver(rules []models.DiscountRule) *StaticResolver {
	r := &StaticResolver{rules: make(map[string]models.DiscountRule, len(rules))}
	for _, rule := range rules {
		code := normalize(rule.Code)
		rule.Code = code
		r.rules[code] = rule
	}
	return r
}

// Resolve returns nil for an empty code and ErrValidation for an unknown one.
func (r *StaticResolver) Resolve(ctx context.Context, code string) (*models.DiscountRule, error) {
	code = normalize(code)
	if code == "" {
		return nil, nil
	}
	rule, ok := r.rules[code]
	if !ok {
		return nil, domain.Validationf("unknown promo code %s", code)
	}
	return &rule, nil
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
