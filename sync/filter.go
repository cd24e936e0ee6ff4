package sync

import "reactor/diff"

// FilterDiff applies the three path-based scrubbing rules spec.md §6 and
// §4.F (outbound step 3, inbound step 5) share: an allowKeys top-level
// whitelist, a recursive allowPaths whitelist with "*" wildcards, and a
// recursive sensitiveKeys blacklist that takes precedence over both —
// run in that order, since a blacklist entry must be able to blank out a
// subtree even inside an otherwise-allowed key. The same function is
// used for both outbound and inbound diffs; Session calls it once per
// direction.
func FilterDiff(d diff.Diff, allowKeys, allowPaths, sensitiveKeys []string) diff.Diff {
	out := d
	if len(allowKeys) > 0 {
		out = filterAllowKeys(out, allowKeys)
	}
	if len(allowPaths) > 0 {
		out = filterAllowPaths(out, compilePaths(allowPaths), nil)
	}
	if len(sensitiveKeys) > 0 {
		out = filterSensitive(out, compilePaths(sensitiveKeys), nil)
	}
	return out
}

// filterAllowKeys retains only top-level keys present in keys. It does
// not inspect nested structure: allowKeys is the coarse, whole-subtree
// whitelist (spec.md §6 "top-level whitelist"), distinct from the
// dotted-path allowPaths below.
func filterAllowKeys(d diff.Diff, keys []string) diff.Diff {
	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		allowed[k] = struct{}{}
	}
	out := make(diff.Diff, len(d))
	for key, v := range d {
		if _, ok := allowed[key]; ok {
			out[key] = v
		}
	}
	return out
}

// filterAllowPaths retains only Diff entries whose full dotted path
// matches one of patterns, recursing into nested diffs whose prefix
// could still yield a deeper match. A sentinel-wrapped value (whole-key
// add/remove/replace) is kept only on an exact match: its payload is not
// itself diff-shaped, so there is no finer-grained path to recurse into.
func filterAllowPaths(d diff.Diff, patterns [][]string, prefix []string) diff.Diff {
	out := make(diff.Diff, len(d))
	for key, v := range d {
		path := append(append([]string{}, prefix...), key)

		if nested, isNested := diff.IsNested(v); isNested {
			if anyExact(patterns, path) {
				out[key] = v
				continue
			}
			if !anyPrefix(patterns, path) {
				continue
			}
			sub := filterAllowPaths(nested, patterns, path)
			if len(sub) != 0 {
				out[key] = sub
			}
			continue
		}

		if anyExact(patterns, path) {
			out[key] = v
		}
	}
	return out
}

// filterSensitive removes Diff entries whose full dotted path matches
// one of patterns, recursing into nested diffs so a blacklist entry can
// blank out a subtree nested inside an otherwise-allowed key (spec.md
// §6: sensitiveKeys "takes precedence, can blank out subtrees inside an
// allowed key").
//
// An __added sentinel's payload is a plain snapshot subtree, not a
// nested Diff, so a pattern pointing inside it (e.g. a newly-added
// "user" object containing "user.password") would otherwise survive
// unscrubbed; scrubSnapshotSensitive walks that payload the same way.
func filterSensitive(d diff.Diff, patterns [][]string, prefix []string) diff.Diff {
	out := make(diff.Diff, len(d))
	for key, v := range d {
		path := append(append([]string{}, prefix...), key)
		if anyExact(patterns, path) {
			continue
		}

		if nested, isNested := diff.IsNested(v); isNested {
			sub := filterSensitive(nested, patterns, path)
			if len(sub) != 0 {
				out[key] = sub
			}
			continue
		}

		if kind, payload, isSentinel := diff.Sentinel(v); isSentinel && kind == diff.KeyAdded {
			out[key] = map[string]any{diff.KeyAdded: scrubSnapshotSensitive(payload, patterns, path)}
			continue
		}

		out[key] = v
	}
	return out
}

// scrubSnapshotSensitive removes entries matching patterns from v, a
// plain value tree (an __added payload or one of its nested maps, never
// itself sentinel-wrapped). Non-map values and unmatched keys pass
// through unchanged.
func scrubSnapshotSensitive(v any, patterns [][]string, prefix []string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for key, val := range m {
		path := append(append([]string{}, prefix...), key)
		if anyExact(patterns, path) {
			continue
		}
		out[key] = scrubSnapshotSensitive(val, patterns, path)
	}
	return out
}
