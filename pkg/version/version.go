// Package version maps on-disk magic markers to logical format versions.
//
// A magic marker is four bytes: a three byte product prefix followed by a
// version discriminant. The discriminant of each released format is one
// letter greater than the previous one and is never reused.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

type Version int

const (
	V1_14 Version = iota
	V1_15
	V1_16
	V2_0
	V2_1
	V2_2
	V2_3
	V2_4

	// Latest is the only format written and the only one Open accepts.
	Latest = V2_4

	numVersions = int(Latest) + 1
)

// Magic is the 4 byte marker at the start of a persisted record.
type Magic [4]byte

// Prefix identifies the product family.
var Prefix = [3]byte{'R', 'D', 'm'}

// obsoleteMarker is the 1.13 format, which cannot be migrated in place.
const obsoleteMarker = 'd'

// markers holds the discriminant of each version, indexed by Version.
// Adding a version without a marker changes the array length and fails
// to compile.
var markers = [...]byte{
	V1_14: 'e',
	V1_15: 'f',
	V1_16: 'g',
	V2_0:  'h',
	V2_1:  'i',
	V2_2:  'j',
	V2_3:  'k',
	V2_4:  'l',
}

var _ [numVersions]byte = markers

var tokens = [numVersions]string{
	V1_14: "v1_14",
	V1_15: "v1_15",
	V1_16: "v1_16",
	V2_0:  "v2_0",
	V2_1:  "v2_1",
	V2_2:  "v2_2",
	V2_3:  "v2_3",
	V2_4:  "v2_4",
}

var releases = [numVersions]string{
	V1_14: "1.14",
	V1_15: "1.15",
	V1_16: "1.16",
	V2_0:  "2.0",
	V2_1:  "2.1",
	V2_2:  "2.2",
	V2_3:  "2.3",
	V2_4:  "2.4",
}

var (
	// ErrUnrecognizedFormat is the panic value when the magic prefix does
	// not belong to this product.
	ErrUnrecognizedFormat = errors.New("unrecognized on-disk format")

	ErrMigrationUnsupported = errors.Errorf(
		"this version cannot migrate in-place from databases created by versions older than %s",
		releases[V1_14],
	)

	ErrFutureFormat = errors.New(
		"trying to open a database created by a later version with an earlier version " +
			"(installed software is older than the database)",
	)
)

func init() {
	checkMarkers(markers[:])
}

func checkMarkers(list []byte) {
	if !slices.IsSorted(list) || len(slices.Compact(slices.Clone(list))) != len(list) {
		panic(errors.New("version markers must be strictly increasing"))
	}
	if list[0] <= obsoleteMarker {
		panic(errors.New("oldest version marker must follow the obsolete marker"))
	}
}

// LatestMagic is the marker written to every new record.
func LatestMagic() Magic {
	return VersionToMagic(Latest)
}

func VersionToMagic(v Version) Magic {
	if !v.Valid() {
		panic(errors.Errorf("invalid version %d", int(v)))
	}
	return Magic{Prefix[0], Prefix[1], Prefix[2], markers[v]}
}

// MagicToVersion returns the version a marker encodes. A prefix mismatch
// means the data is not ours at all and panics with ErrUnrecognizedFormat.
func MagicToVersion(m Magic) (Version, error) {
	if m[0] != Prefix[0] || m[1] != Prefix[1] || m[2] != Prefix[2] {
		panic(errors.Wrapf(ErrUnrecognizedFormat, "magic %q", m[:]))
	}

	d := m[3]
	if d < markers[0] {
		return 0, errors.Wrapf(ErrMigrationUnsupported, "magic %q", m[:])
	}

	i, found := slices.BinarySearch(markers[:], d)
	if !found {
		return 0, errors.Wrapf(ErrFutureFormat, "magic %q", m[:])
	}
	return Version(i), nil
}

// ParseToken maps a version token such as "v2_4" back to its version.
func ParseToken(token string) (Version, bool) {
	i := slices.Index(tokens[:], token)
	if i < 0 {
		return 0, false
	}
	return Version(i), true
}

// IsNewerToken reports whether token is well formed, "v<major>_<minor>",
// and names a format later than Latest.
func IsNewerToken(token string) bool {
	major, minor, ok := splitToken(token)
	if !ok {
		return false
	}
	latestMajor, latestMinor, _ := splitToken(tokens[Latest])
	return major > latestMajor || major == latestMajor && minor > latestMinor
}

func splitToken(token string) (major, minor int, ok bool) {
	rest, found := strings.CutPrefix(token, "v")
	if !found {
		return 0, 0, false
	}
	ma, mi, found := strings.Cut(rest, "_")
	if !found {
		return 0, 0, false
	}
	if major, ok = number(ma); !ok {
		return 0, 0, false
	}
	if minor, ok = number(mi); !ok {
		return 0, 0, false
	}
	return major, minor, true
}

// number accepts decimal digits only, no sign.
func number(s string) (int, bool) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

func (v Version) Valid() bool {
	return v >= 0 && int(v) < numVersions
}

// Token is the string stored under version keys.
func (v Version) Token() string {
	if !v.Valid() {
		return fmt.Sprintf("v?_%d", int(v))
	}
	return tokens[v]
}

// Release is the human readable release number, e.g. "2.4".
func (v Version) Release() string {
	if !v.Valid() {
		return "unknown"
	}
	return releases[v]
}

func (v Version) String() string {
	return v.Token()
}

func (m Magic) String() string {
	return string(m[:])
}
