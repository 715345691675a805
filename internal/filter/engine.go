// Package filter implements keyword matching for feed entries.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"feedbridge/internal/model"
)

type rule struct {
	include bool
	scope   model.FilterScope
	word    string
	re      *regexp.Regexp
}

// Set is a compiled list of filter rules for one feed.
// A nil or empty Set passes every entry.
type Set struct {
	rules       []rule
	hasIncludes bool
}

// Compile validates filters and prepares them for matching.
func Compile(filters []model.Filter) (*Set, error) {
	s := &Set{}
	for i, f := range filters {
		r := rule{scope: f.Scope}
		if r.scope == "" {
			r.scope = model.ScopeAll
		}
		switch r.scope {
		case model.ScopeTitle, model.ScopeContent, model.ScopeAll:
		default:
			return nil, fmt.Errorf("filter %d: invalid scope %q", i, f.Scope)
		}
		if strings.TrimSpace(f.Value) == "" {
			return nil, fmt.Errorf("filter %d: value is required", i)
		}

		switch f.Kind {
		case model.FilterInclude, model.FilterExclude:
			r.word = strings.ToLower(f.Value)
		case model.FilterIncludeRe, model.FilterExcludeRe:
			re, err := regexp.Compile("(?i)" + f.Value)
			if err != nil {
				return nil, fmt.Errorf("filter %d: invalid regex: %w", i, err)
			}
			r.re = re
		default:
			return nil, fmt.Errorf("filter %d: invalid kind %q", i, f.Kind)
		}

		r.include = f.Kind == model.FilterInclude || f.Kind == model.FilterIncludeRe
		if r.include {
			s.hasIncludes = true
		}
		s.rules = append(s.rules, r)
	}
	return s, nil
}

// Match checks whether an entry passes the set.
// Include rules use OR logic (at least one must match).
// Exclude rules use AND logic (none must match).
func (s *Set) Match(e model.Entry) bool {
	if s == nil || len(s.rules) == 0 {
		return true
	}

	anyIncludeMatched := false
	for _, r := range s.rules {
		if !r.matches(e) {
			continue
		}
		if !r.include {
			return false
		}
		anyIncludeMatched = true
	}
	return !s.hasIncludes || anyIncludeMatched
}

// Apply returns the entries that pass the set, keeping their order.
func (s *Set) Apply(entries []model.Entry) []model.Entry {
	if s == nil || len(s.rules) == 0 {
		return entries
	}
	out := make([]model.Entry, 0, len(entries))
	for _, e := range entries {
		if s.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

func (r rule) matches(e model.Entry) bool {
	text := textForScope(e, r.scope)
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(text, r.word)
}

func textForScope(e model.Entry, scope model.FilterScope) string {
	switch scope {
	case model.ScopeTitle:
		return strings.ToLower(e.Title)
	case model.ScopeContent:
		return strings.ToLower(e.Summary)
	default:
		return strings.ToLower(e.Title + " " + e.Summary)
	}
}
