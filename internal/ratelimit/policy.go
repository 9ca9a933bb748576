package ratelimit

import (
	"fmt"
	"time"

	"github.com/sodown4thecause/seobot-sub007/pkg/config"
)

// Policy is one named window/limit pair. Policies are immutable after
// startup; adding a protected endpoint class means adding a policy, not code.
type Policy struct {
	Name        string
	Window      time.Duration
	MaxRequests int
	Message     string
}

// Policies is the read-only policy table built once at process start.
type Policies struct {
	byName map[string]Policy
}

// NewPolicies builds the policy table from configuration rules.
func NewPolicies(rules []config.PolicyRule) (*Policies, error) {
	byName := make(map[string]Policy, len(rules))

	for _, rule := range rules {
		if rule.Name == "" {
			return nil, fmt.Errorf("rate limit policy with empty name")
		}
		if _, exists := byName[rule.Name]; exists {
			return nil, fmt.Errorf("duplicate rate limit policy %q", rule.Name)
		}
		if rule.Window <= 0 || rule.MaxRequests <= 0 {
			return nil, fmt.Errorf("rate limit policy %q has non-positive window or limit", rule.Name)
		}

		message := rule.Message
		if message == "" {
			message = "Too many requests. Please try again later."
		}

		byName[rule.Name] = Policy{
			Name:        rule.Name,
			Window:      rule.Window,
			MaxRequests: rule.MaxRequests,
			Message:     message,
		}
	}

	return &Policies{byName: byName}, nil
}

// Get returns the named policy.
func (p *Policies) Get(name string) (Policy, bool) {
	policy, ok := p.byName[name]
	return policy, ok
}
