package utils

import (
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog/log"
)

// SortRevisions orders revision identifiers oldest first. Revisions are
// compared numerically ("2" before "10"); identifiers that do not parse as a
// version keep their relative order after all parsable ones.
func SortRevisions(revisions []string) []string {
	type parsed struct {
		raw string
		v   *semver.Version
	}

	valid := make([]parsed, 0, len(revisions))
	var invalid []string
	for _, r := range revisions {
		v, err := semver.NewVersion(r)
		if err != nil {
			log.Warn().Str("revision", r).Err(err).Msg("unparsable revision")
			invalid = append(invalid, r)
			continue
		}
		valid = append(valid, parsed{raw: r, v: v})
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].v.LessThan(valid[j].v)
	})

	result := make([]string, 0, len(revisions))
	for _, p := range valid {
		result = append(result, p.raw)
	}
	return append(result, invalid...)
}

// LatestRevision returns the highest revision, or "" for an empty list
func LatestRevision(revisions []string) string {
	sorted := SortRevisions(revisions)
	if len(sorted) == 0 {
		return ""
	}

	// Unparsable identifiers sort last; prefer the last parsable one
	for i := len(sorted) - 1; i >= 0; i-- {
		if _, err := semver.NewVersion(sorted[i]); err == nil {
			return sorted[i]
		}
	}
	return sorted[len(sorted)-1]
}
