package middleware

import (
	"net/http"
	"regexp"
	"time"

	"github.com/posuite/request-guard/internal/domain"
)

// GlobalRateLimitPolicy is the per-IP ceiling applied ahead of every tier.
var GlobalRateLimitPolicy = RateLimitPolicy{Name: "global", Limit: 1000, Window: 15 * time.Minute}

// EndpointRule overrides the role tier for paths matching Pattern.
type EndpointRule struct {
	Pattern string
	Policy  RateLimitPolicy
}

// DefaultEndpointRules is ordered most specific first; the first match wins.
var DefaultEndpointRules = []EndpointRule{
	{"/api/auth/login", RateLimitPolicy{Name: "auth_login", Limit: 5, Window: 15 * time.Minute}},
	{"/api/auth/2fa/verify", RateLimitPolicy{Name: "2fa_verify", Limit: 10, Window: 15 * time.Minute}},
	{"/api/auth/2fa/setup", RateLimitPolicy{Name: "2fa_setup", Limit: 3, Window: 15 * time.Minute}},
	{"/api/excel-automation/upload-and-process", RateLimitPolicy{Name: "excel_upload", Limit: 10, Window: 5 * time.Minute}},
	{"/api/po-template/upload", RateLimitPolicy{Name: "po_template_upload", Limit: 20, Window: 5 * time.Minute}},
	{"/api/excel-automation/send-emails", RateLimitPolicy{Name: "send_emails", Limit: 50, Window: 15 * time.Minute}},
	{"/api/orders/*/send", RateLimitPolicy{Name: "order_send", Limit: 100, Window: 15 * time.Minute}},
	{"/api/orders", RateLimitPolicy{Name: "orders", Limit: 100, Window: 5 * time.Minute}},
	{"/api/vendors", RateLimitPolicy{Name: "vendors", Limit: 100, Window: 5 * time.Minute}},
	{"/api/items", RateLimitPolicy{Name: "items", Limit: 100, Window: 5 * time.Minute}},
	{"/api/dashboard/*", RateLimitPolicy{Name: "dashboard", Limit: 60, Window: time.Minute}},
}

func DefaultRoleTiers() map[domain.Role]RateLimitPolicy {
	return map[domain.Role]RateLimitPolicy{
		domain.RoleAdmin:          {Name: "role_admin", Limit: 1000, Window: 15 * time.Minute},
		domain.RoleExecutive:      {Name: "role_executive", Limit: 500, Window: 15 * time.Minute},
		domain.RoleHQManagement:   {Name: "role_hq_management", Limit: 300, Window: 15 * time.Minute},
		domain.RoleProjectManager: {Name: "role_project_manager", Limit: 200, Window: 15 * time.Minute},
		domain.RoleFieldWorker:    {Name: "role_field_worker", Limit: 100, Window: 15 * time.Minute},
	}
}

type compiledEndpointRule struct {
	re     *regexp.Regexp
	policy RateLimitPolicy
}

// Tiers resolves a request to an endpoint override, else the caller's role
// tier, else the global policy.
type Tiers struct {
	endpoints []compiledEndpointRule
	roles     map[domain.Role]RateLimitPolicy
	global    RateLimitPolicy
}

func NewTiers(endpoints []EndpointRule, roles map[domain.Role]RateLimitPolicy, global RateLimitPolicy) (*Tiers, error) {
	t := &Tiers{roles: roles, global: normalizePolicy(global)}
	for _, e := range endpoints {
		res, err := compilePathPatterns([]string{e.Pattern})
		if err != nil {
			return nil, err
		}
		t.endpoints = append(t.endpoints, compiledEndpointRule{re: res[0], policy: normalizePolicy(e.Policy)})
	}
	return t, nil
}

func DefaultTiers() *Tiers {
	t, err := NewTiers(DefaultEndpointRules, DefaultRoleTiers(), GlobalRateLimitPolicy)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Tiers) Resolve(r *http.Request) RateRule {
	for _, e := range t.endpoints {
		if e.re.MatchString(r.URL.Path) {
			return RateRule{Policy: e.policy, Scope: ScopeUserPath}
		}
	}
	if len(t.roles) > 0 {
		role := domain.DefaultRole
		if ac, ok := AuthContextFromContext(r.Context()); ok {
			role = ac.Role
		}
		policy, ok := t.roles[role]
		if !ok {
			policy, ok = t.roles[domain.DefaultRole]
		}
		if ok {
			return RateRule{Policy: normalizePolicy(policy), Scope: ScopeRoleUser}
		}
	}
	return RateRule{Policy: t.global, Scope: ScopeIP}
}
