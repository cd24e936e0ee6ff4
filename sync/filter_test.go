package sync

import (
	"testing"

	"github.com/stretchr/testify/require"

	"reactor/diff"
)

func TestFilterAllowKeysTopLevelOnly(t *testing.T) {
	d := diff.Diff{"todos": map[string]any{"__new": []any{"a"}}, "user": diff.Diff{"name": "grace"}}
	out := FilterDiff(d, []string{"todos"}, nil, nil)
	require.Contains(t, out, "todos")
	require.NotContains(t, out, "user")
}

func TestFilterAllowPathsWildcard(t *testing.T) {
	d := diff.Diff{"users": diff.Diff{
		"1": diff.Diff{"name": "ada", "role": "admin"},
		"2": diff.Diff{"name": "grace"},
	}}
	out := FilterDiff(d, nil, []string{"users.*.name"}, nil)
	users := out["users"].(diff.Diff)
	u1 := users["1"].(diff.Diff)
	require.Equal(t, "ada", u1["name"])
	require.NotContains(t, u1, "role")
	u2 := users["2"].(diff.Diff)
	require.Equal(t, "grace", u2["name"])
}

func TestFilterSensitiveOverridesAllow(t *testing.T) {
	d := diff.Diff{"user": diff.Diff{"name": "ada", "role": "admin"}}
	out := FilterDiff(d, []string{"user"}, nil, []string{"user.role"})
	user := out["user"].(diff.Diff)
	require.Equal(t, "ada", user["name"])
	require.NotContains(t, user, "role")
}

func TestFilterSensitiveDropsExactTopLevelSentinel(t *testing.T) {
	d := diff.Diff{"token": map[string]any{"__added": "secret"}, "name": "ada"}
	out := FilterDiff(d, nil, nil, []string{"token"})
	require.NotContains(t, out, "token")
	require.Equal(t, "ada", out["name"])
}

func TestFilterSensitiveScrubsNestedAddedPayload(t *testing.T) {
	d := diff.Diff{"user": map[string]any{"__added": map[string]any{
		"name":     "ada",
		"password": "hunter2",
	}}}
	out := FilterDiff(d, nil, nil, []string{"user.password"})
	added := out["user"].(map[string]any)["__added"].(map[string]any)
	require.Equal(t, "ada", added["name"])
	require.NotContains(t, added, "password")
}
