package proxy

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
)

// Rule decides whether a request URL bypasses the cache. Bypassed requests
// are forwarded to the network untouched, as if they were not intercepted.
type Rule func(context.Context, *url.URL) bool

// NewRegexRule creates a Rule matching the URL path and query against regex.
func NewRegexRule(regex *regexp.Regexp) Rule {
	return func(ctx context.Context, u *url.URL) bool {
		return regex.MatchString(u.RequestURI())
	}
}

// ParseRules compiles one regex Rule per pattern.
func ParseRules(patterns []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid bypass pattern %q: %w", p, err)
		}
		rules = append(rules, NewRegexRule(re))
	}
	return rules, nil
}

func bypassed(ctx context.Context, rules []Rule, u *url.URL) bool {
	for _, rule := range rules {
		if rule(ctx, u) {
			return true
		}
	}
	return false
}
