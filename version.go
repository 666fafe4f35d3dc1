package ascend

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a dotted numeric version label such as "1", "2.1" or "1.2.3".
// Versions order lexicographically by component, so 1.2 < 1.2.0 < 1.10.
// The sentinels MinVersion and MaxVersion bound every possible label.
type Version struct {
	parts    []int64
	sentinel int8
}

// MinVersion sorts below every parseable version label.
var MinVersion = Version{sentinel: -1}

// MaxVersion sorts above every parseable version label.
var MaxVersion = Version{sentinel: 1}

// ParseVersion parses a dotted numeric label into a Version.
func ParseVersion(label string) (Version, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return Version{}, fmt.Errorf("empty version label")
	}
	raw := strings.Split(label, ".")
	parts := make([]int64, len(raw))
	for i, p := range raw {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version label %q: component %q is not a non-negative integer", label, p)
		}
		parts[i] = n
	}
	return Version{parts: parts}, nil
}

// MustParseVersion is ParseVersion that panics on malformed labels.
// Intended for constants and tests.
func MustParseVersion(label string) Version {
	v, err := ParseVersion(label)
	if err != nil {
		panic(err)
	}
	return v
}

// IsDefined reports whether v carries a value (a parsed label or a
// sentinel).  The zero Version is undefined.
func (v Version) IsDefined() bool {
	return v.sentinel != 0 || v.parts != nil
}

// Compare returns -1, 0 or 1 depending on whether v sorts before, equal to
// or after o.
func (v Version) Compare(o Version) int {
	if v.sentinel != 0 || o.sentinel != 0 {
		switch {
		case v.sentinel < o.sentinel:
			return -1
		case v.sentinel > o.sentinel:
			return 1
		default:
			return 0
		}
	}
	for i := 0; i < len(v.parts) && i < len(o.parts); i++ {
		switch {
		case v.parts[i] < o.parts[i]:
			return -1
		case v.parts[i] > o.parts[i]:
			return 1
		}
	}
	switch {
	case len(v.parts) < len(o.parts):
		return -1
	case len(v.parts) > len(o.parts):
		return 1
	}
	return 0
}

// Less reports whether v sorts strictly before o.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// Equal reports whether v and o are the same label.
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

// String renders the label.  MinVersion renders as "0" and MaxVersion as
// "max", matching what the CLI accepts for the start and target options.
func (v Version) String() string {
	switch v.sentinel {
	case -1:
		return "0"
	case 1:
		return "max"
	}
	if v.parts == nil {
		return ""
	}
	raw := make([]string, len(v.parts))
	for i, p := range v.parts {
		raw[i] = strconv.FormatInt(p, 10)
	}
	return strings.Join(raw, ".")
}
