package alias

import "testing"

func TestResolve(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		// date suffixes
		{"gpt-4o-2024-08-06", "gpt-4o"},
		{"claude-3-5-sonnet-2024-10-22", "claude-3-5-sonnet"},
		// build numbers
		{"gpt-4-0613", "gpt-4"},
		{"gpt-3.5-turbo-16k-0613", "gpt-3.5-turbo-16k"},
		// preview suffixes
		{"gpt-4o-realtime-preview-10-01", "gpt-4o-realtime"},
		// colon-versioned ids are never aliased
		{"anthropic.claude-3-sonnet-20240229-v1:0", "anthropic.claude-3-sonnet-20240229-v1:0"},
		{"meta.llama3-70b-instruct-v1:0", "meta.llama3-70b-instruct-v1:0"},
		// no rule matches
		{"gpt-4o", "gpt-4o"},
		{"claude-sonnet-4", "claude-sonnet-4"},
		{"llama-3.3-70b-versatile", "llama-3.3-70b-versatile"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Resolve(tt.in); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolve_Idempotent(t *testing.T) {
	inputs := []string{
		"gpt-4o-2024-08-06",
		"gpt-4-0613",
		"gpt-4o-realtime-preview-10-01",
		"anthropic.claude-3-sonnet-20240229-v1:0",
		"gpt-4o",
		"",
	}
	for _, in := range inputs {
		once := Resolve(in)
		twice := Resolve(once)
		if once != twice {
			t.Errorf("Resolve not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}
