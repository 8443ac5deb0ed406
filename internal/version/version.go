package version

import (
	"fmt"
	"strconv"
	"strings"
)

// ExtractMajorVersion returns the leading numeric component of a version
// string such as "2", "2.4" or "2.4.1-beta".
func ExtractMajorVersion(version string) (int, error) {
	if version == "" {
		return 0, fmt.Errorf("empty version string")
	}

	major, _, _ := strings.Cut(version, ".")
	major, _, _ = strings.Cut(major, "-")
	major, _, _ = strings.Cut(major, "+")

	n, err := strconv.Atoi(major)
	if err != nil {
		return 0, fmt.Errorf("invalid major version: %v", err)
	}

	if n < 0 {
		return 0, fmt.Errorf("major version cannot be negative")
	}

	return n, nil
}

// TargetMajor picks the major version a license is checked against: the
// caller's app version when given, otherwise the current release.
func TargetMajor(appVersion string, current int) (int, error) {
	appVersion = strings.TrimSpace(appVersion)
	if appVersion == "" {
		return current, nil
	}
	return ExtractMajorVersion(strings.TrimPrefix(appVersion, "v"))
}
