package filter

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"feedbridge/internal/model"
)

func TestSetMatch(t *testing.T) {
	tests := []struct {
		name    string
		entry   model.Entry
		filters []model.Filter
		want    bool
	}{
		{
			name:    "no filters passes everything",
			entry:   model.Entry{Title: "anything", Summary: "whatever"},
			filters: nil,
			want:    true,
		},
		{
			name:  "include word is case insensitive",
			entry: model.Entry{Title: "GO 1.26 released"},
			filters: []model.Filter{
				{Kind: model.FilterInclude, Value: "go 1.26"},
			},
			want: true,
		},
		{
			name:  "include word no match",
			entry: model.Entry{Title: "Rust update", Summary: "New borrow checker"},
			filters: []model.Filter{
				{Kind: model.FilterInclude, Scope: model.ScopeAll, Value: "golang"},
			},
			want: false,
		},
		{
			name:  "exclude wins over include",
			entry: model.Entry{Title: "Golang meetup", Summary: "Sponsored"},
			filters: []model.Filter{
				{Kind: model.FilterInclude, Scope: model.ScopeAll, Value: "golang"},
				{Kind: model.FilterExclude, Scope: model.ScopeAll, Value: "sponsored"},
			},
			want: false,
		},
		{
			name:  "includes use OR logic",
			entry: model.Entry{Title: "Matrix 2.0 spec"},
			filters: []model.Filter{
				{Kind: model.FilterInclude, Value: "xmpp"},
				{Kind: model.FilterInclude, Value: "matrix"},
			},
			want: true,
		},
		{
			name:  "regex include",
			entry: model.Entry{Title: "Release v3.15.2"},
			filters: []model.Filter{
				{Kind: model.FilterIncludeRe, Value: `v\d+\.\d+`},
			},
			want: true,
		},
		{
			name:  "regex exclude",
			entry: model.Entry{Title: "Weekly digest #42"},
			filters: []model.Filter{
				{Kind: model.FilterExcludeRe, Value: "weekly.*digest"},
			},
			want: false,
		},
		{
			name:  "title scope ignores summary",
			entry: model.Entry{Title: "Release notes", Summary: "golang inside"},
			filters: []model.Filter{
				{Kind: model.FilterInclude, Scope: model.ScopeTitle, Value: "golang"},
			},
			want: false,
		},
		{
			name:  "content scope ignores title",
			entry: model.Entry{Title: "Promo", Summary: "A real article"},
			filters: []model.Filter{
				{Kind: model.FilterExclude, Scope: model.ScopeContent, Value: "promo"},
			},
			want: true,
		},
		{
			name:  "unicode include",
			entry: model.Entry{Title: "Деплой сервиса", Summary: ""},
			filters: []model.Filter{
				{Kind: model.FilterInclude, Value: "деплой"},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Compile(tt.filters)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			got := s.Match(tt.entry)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Match() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name   string
		filter model.Filter
	}{
		{name: "invalid regex", filter: model.Filter{Kind: model.FilterIncludeRe, Value: "[invalid"}},
		{name: "unknown kind", filter: model.Filter{Kind: "maybe", Value: "x"}},
		{name: "unknown scope", filter: model.Filter{Kind: model.FilterInclude, Scope: "body", Value: "x"}},
		{name: "empty value", filter: model.Filter{Kind: model.FilterExclude, Value: "  "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compile([]model.Filter{tt.filter}); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestSetApplyKeepsOrder(t *testing.T) {
	s, err := Compile([]model.Filter{{Kind: model.FilterExclude, Scope: model.ScopeTitle, Value: "skip"}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	entries := []model.Entry{
		{ID: "c", Title: "third"},
		{ID: "a", Title: "skip me"},
		{ID: "b", Title: "first"},
	}
	got := s.Apply(entries)

	want := []model.Entry{{ID: "c", Title: "third"}, {ID: "b", Title: "first"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Apply() mismatch (-want +got):\n%s", diff)
	}

	var nilSet *Set
	if diff := cmp.Diff(entries, nilSet.Apply(entries)); diff != "" {
		t.Errorf("nil set should pass everything (-want +got):\n%s", diff)
	}
}
