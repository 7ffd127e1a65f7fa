package gold

import "os"

// EnvVar is the environment variable that selects the operating mode.
const EnvVar = "SNAPGOLD"

// Mode is the operating policy of an assertion call. It governs whether the
// baseline is compared, overwritten, or mirrored into the artifacts directory.
type Mode int

const (
	// ModeDefault only compares the actual image against the baseline.
	ModeDefault Mode = iota

	// ModeOverwrite overwrites the baseline with the actual image, i.e.
	// accepts the changes. No comparison is performed.
	ModeOverwrite

	// ModeStoreArtifact always stores a copy of the actual image under the
	// artifacts directory.
	ModeStoreArtifact

	// ModeStoreArtifactOnMismatch stores a copy of the actual image under the
	// artifacts directory only when the comparison fails.
	ModeStoreArtifactOnMismatch
)

// ParseMode maps the raw value of the configuration signal onto a Mode. The
// match is exact and case-sensitive; every unknown value, including the empty
// string, degrades silently to ModeDefault.
func ParseMode(raw string) Mode {
	switch raw {
	case "overwrite":
		return ModeOverwrite
	case "store-artifact":
		return ModeStoreArtifact
	case "store-artifact-on-mismatch":
		return ModeStoreArtifactOnMismatch
	default:
		return ModeDefault
	}
}

// ModeFromEnv resolves the current Mode from the environment. It is read
// fresh on every assertion call, so tests within the same process can override
// it per test.
func ModeFromEnv() Mode {
	return ParseMode(os.Getenv(EnvVar))
}
