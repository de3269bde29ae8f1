package notebridge

import (
	"fmt"
	"regexp"
	"strings"
)

// Scope decides which paths under the route are forwarded. Exclude rules are checked first,
// then include rules. A path matching neither is allowed only when there are no include rules.
type Scope struct {
	IncludeRules []*regexp.Regexp
	ExcludeRules []*regexp.Regexp
}

// NewScope compiles the allow and deny patterns from gateway.allow_paths and gateway.deny_paths.
// A pattern may also be given with a leading "-" in include to mark it as an exclusion.
func NewScope(include []string, exclude []string) (*Scope, error) {
	scope := &Scope{}
	for _, pattern := range include {
		if err := scope.AddRule(pattern, strings.HasPrefix(pattern, "-")); err != nil {
			return nil, err
		}
	}
	for _, pattern := range exclude {
		if err := scope.AddRule(pattern, true); err != nil {
			return nil, err
		}
	}
	return scope, nil
}

// AddRule compiles pattern and adds it to the include or exclude list.
func (s *Scope) AddRule(pattern string, exclude bool) error {
	compiled, err := regexp.Compile(strings.TrimPrefix(pattern, "-"))
	if err != nil {
		return fmt.Errorf("invalid regex pattern %q : %w", pattern, err)
	}

	if exclude {
		s.ExcludeRules = append(s.ExcludeRules, compiled)
	} else {
		s.IncludeRules = append(s.IncludeRules, compiled)
	}
	return nil
}

// Matches reports whether path is in scope.
func (s *Scope) Matches(path string) bool {
	if s == nil {
		return true
	}

	for _, rule := range s.ExcludeRules {
		if rule.MatchString(path) {
			return false
		}
	}

	for _, rule := range s.IncludeRules {
		if rule.MatchString(path) {
			return true
		}
	}

	return len(s.IncludeRules) == 0
}
