package session

import "github.com/alfianX/crossgate-gw/internal/repo"

// diffVersions applies the versions a terminal reports onto cur. It never
// mutates cur; changed is false when every reported Current already matches.
func diffVersions(cur map[string]repo.FileVersion, reported map[string]string) (map[string]repo.FileVersion, bool) {
	changed := false
	for code, ver := range reported {
		if fv, ok := cur[code]; !ok || fv.Current != ver {
			changed = true
			break
		}
	}
	if !changed {
		return cur, false
	}

	out := make(map[string]repo.FileVersion, len(cur)+len(reported))
	for code, fv := range cur {
		out[code] = fv
	}
	for code, ver := range reported {
		fv := out[code]
		fv.Current = ver
		out[code] = fv
	}
	return out, true
}

// diffProperties reports whether reported differs from cur. Reported maps
// replace the stored map entirely.
func diffProperties(cur, reported map[string]string) (map[string]string, bool) {
	if len(cur) != len(reported) {
		return copyProps(reported), true
	}
	for k, v := range reported {
		if old, ok := cur[k]; !ok || old != v {
			return copyProps(reported), true
		}
	}
	return cur, false
}

func copyProps(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// outdated lists versions whose expectation is resolved and differs from
// what the terminal runs.
func outdated(versions map[string]repo.FileVersion) map[string]repo.FileVersion {
	out := make(map[string]repo.FileVersion)
	for code, fv := range versions {
		if !fv.IsExpired && fv.Expected != "" && fv.Current != fv.Expected {
			out[code] = fv
		}
	}
	return out
}
