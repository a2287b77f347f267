package compilation

import (
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// vyperPrerelease matches the PEP 440 style suffixes vyper uses ("0.4.0rc6", "0.3.1b2").
var vyperPrerelease = regexp.MustCompile(`^(\d+\.\d+\.\d+)((?:a|b|rc)\d+)`)

// CanonicalVersion converts a compiler version string ("0.8.21+commit.d9974bed",
// "v0.4.0rc6") to the "vMAJOR.MINOR.PATCH[-pre]" form understood by semver.
// It returns "" when the version is not recognisable.
func CanonicalVersion(version string) string {
	v := strings.TrimPrefix(strings.TrimSpace(version), "v")
	if i := strings.IndexByte(v, '+'); i >= 0 {
		v = v[:i]
	}
	if m := vyperPrerelease.FindStringSubmatch(v); m != nil {
		v = m[1] + "-" + m[2]
	}
	return semver.Canonical("v" + v)
}

// VersionBefore reports whether version is strictly lower than threshold. Pre-releases
// of threshold count as lower. Unparseable versions are never before anything.
func VersionBefore(version, threshold string) bool {
	v, t := CanonicalVersion(version), CanonicalVersion(threshold)
	if v == "" || t == "" {
		return false
	}
	return semver.Compare(v, t) < 0
}
