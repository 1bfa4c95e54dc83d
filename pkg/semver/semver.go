// Package semver provides SemVer-precedence ordering helpers shared by the
// operations engine's list output and the HTML renderer's default-version
// selection. Callers never compare version strings lexically.
package semver

import (
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog/log"
)

// SortVersions sorts version strings by SemVer precedence, latest first.
// Versions that fail to parse are logged and dropped.
func SortVersions(versions []string) []string {
	parsed := parseAll(versions)

	sort.Slice(parsed, func(i, j int) bool {
		return parsed[i].GreaterThan(parsed[j])
	})

	return toStrings(parsed)
}

// SortVersionsAscending sorts version strings by SemVer precedence, oldest
// first.
func SortVersionsAscending(versions []string) []string {
	parsed := parseAll(versions)

	sort.Slice(parsed, func(i, j int) bool {
		return parsed[i].LessThan(parsed[j])
	})

	return toStrings(parsed)
}

// GetLatestVersion returns the highest-precedence version among versions.
func GetLatestVersion(versions []string) string {
	if len(versions) == 0 {
		return ""
	}

	sorted := SortVersions(versions)
	if len(sorted) == 0 {
		return versions[0]
	}

	return sorted[0]
}

// GetLatestNonYanked returns the highest-precedence version whose yanked
// flag is false, or "" if every version is yanked.
func GetLatestNonYanked(versions []string, yanked map[string]bool) string {
	candidates := make([]string, 0, len(versions))
	for _, v := range versions {
		if !yanked[v] {
			candidates = append(candidates, v)
		}
	}
	return GetLatestVersion(candidates)
}

// IsPrerelease reports whether version carries a SemVer prerelease tag.
func IsPrerelease(version string) bool {
	sv, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return sv.Prerelease() != ""
}

// CompareVersions compares two version strings by SemVer precedence.
// Returns -1, 0, 1 for v1 < v2, v1 == v2, v1 > v2, and 2 if either version
// fails to parse.
func CompareVersions(v1, v2 string) int {
	sv1, err := semver.NewVersion(v1)
	if err != nil {
		return 2
	}

	sv2, err := semver.NewVersion(v2)
	if err != nil {
		return 2
	}

	switch {
	case sv1.LessThan(sv2):
		return -1
	case sv1.Equal(sv2):
		return 0
	default:
		return 1
	}
}

func parseAll(versions []string) []*semver.Version {
	out := make([]*semver.Version, 0, len(versions))
	for _, v := range versions {
		sv, err := semver.NewVersion(v)
		if err != nil {
			log.Warn().Str("version", v).Err(err).Msg("invalid semver version")
			continue
		}
		out = append(out, sv)
	}
	return out
}

func toStrings(versions []*semver.Version) []string {
	out := make([]string, len(versions))
	for i, v := range versions {
		out[i] = v.String()
	}
	return out
}
