package version

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the released version, overridable at build time:
//
//	go build -ldflags "-X github.com/hrygo/medisense/internal/version.Version=0.3.0"
var Version = "0.1.0"

// GitCommit is the commit hash stamped at build time.
var GitCommit = "unknown"

// BuildTime is the build timestamp in RFC3339 format.
var BuildTime = "unknown"

// Compare orders two "major.minor.patch" versions, with or without a leading v.
// It returns -1, 0 or +1. Invalid versions sort before valid ones.
func Compare(a, b string) int {
	return semver.Compare(canonical(a), canonical(b))
}

// IsNewer reports whether v is strictly newer than than.
func IsNewer(v, than string) bool {
	return Compare(v, than) > 0
}

// IsValid reports whether v is "major.minor.patch" semver, with or without a leading v.
func IsValid(v string) bool {
	return semver.IsValid(canonical(v))
}

// Sort orders versions oldest first, in place. "0.10.0" sorts after "0.2.0".
func Sort(versions []string) {
	slices.SortStableFunc(versions, Compare)
}

// Latest returns the newest of versions, or "" when empty.
func Latest(versions []string) string {
	if len(versions) == 0 {
		return ""
	}
	return slices.MaxFunc(versions, Compare)
}

func canonical(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// String returns the version with the short commit hash appended when known.
func String() string {
	if GitCommit == "" || GitCommit == "unknown" {
		return Version
	}
	short := GitCommit
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%s", Version, short)
}
