package cache

import (
	"strings"
	"testing"
)

func TestKey_String(t *testing.T) {
	k := Key{
		Operation: "complete",
		Subject:   "octocat",
		Params:    map[string]any{"max_repos": 50, "include_readme": true},
	}

	got := k.String()
	parts := strings.Split(got, ":")
	if len(parts) != 3 {
		t.Fatalf("Key.String() = %q, want 3 colon-separated parts", got)
	}
	if parts[0] != "complete" || parts[1] != "octocat" {
		t.Errorf("prefix = %q:%q, want complete:octocat", parts[0], parts[1])
	}
	if len(parts[2]) != 16 {
		t.Errorf("hash %q should be 16 hex characters", parts[2])
	}
}

func TestKey_ParamOrderDoesNotMatter(t *testing.T) {
	a := Key{Operation: "repos", Subject: "alice", Params: map[string]any{}}
	b := Key{Operation: "repos", Subject: "alice", Params: map[string]any{}}
	a.Params["max_repos"] = 10
	a.Params["include_readme"] = false
	a.Params["truncate"] = true
	b.Params["truncate"] = true
	b.Params["include_readme"] = false
	b.Params["max_repos"] = 10

	if a.String() != b.String() {
		t.Errorf("keys differ: %q vs %q", a.String(), b.String())
	}
}

func TestKey_Distinguishes(t *testing.T) {
	base := Key{Operation: "complete", Subject: "alice", Params: map[string]any{"max_repos": 10}}

	tests := []struct {
		name  string
		other Key
	}{
		{"operation", Key{Operation: "profile", Subject: "alice", Params: map[string]any{"max_repos": 10}}},
		{"subject", Key{Operation: "complete", Subject: "bob", Params: map[string]any{"max_repos": 10}}},
		{"param value", Key{Operation: "complete", Subject: "alice", Params: map[string]any{"max_repos": 11}}},
		{"extra param", Key{Operation: "complete", Subject: "alice", Params: map[string]any{"max_repos": 10, "x": 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if base.String() == tt.other.String() {
				t.Errorf("keys collide: %q", base.String())
			}
		})
	}
}

func TestKey_SubjectCaseInsensitive(t *testing.T) {
	a := Key{Operation: "profile", Subject: "OctoCat"}
	b := Key{Operation: "profile", Subject: "octocat", Params: map[string]any{}}
	if a.String() != b.String() {
		t.Errorf("%q != %q", a.String(), b.String())
	}
}
