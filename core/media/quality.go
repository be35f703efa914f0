package media

import (
	"fmt"
	"strings"
)

// Quality is a playback quality tier understood by every plugin.
type Quality string

const (
	QualityLow      Quality = "low"
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
	QualitySuper    Quality = "super"
)

// Qualities lists every tier from lowest to highest.
var Qualities = []Quality{QualityLow, QualityStandard, QualityHigh, QualitySuper}

// DefaultQuality is used when neither the caller nor the configuration picks one.
const DefaultQuality = QualityStandard

// String returns the wire name of the quality.
func (q Quality) String() string {
	return string(q)
}

// Valid reports whether q is one of the known tiers.
func (q Quality) Valid() bool {
	return q.rank() >= 0
}

func (q Quality) rank() int {
	for i, item := range Qualities {
		if item == q {
			return i
		}
	}
	return -1
}

// ParseQuality converts a string to a Quality.
func ParseQuality(s string) (Quality, error) {
	q := Quality(strings.ToLower(strings.TrimSpace(s)))
	if !q.Valid() {
		return DefaultQuality, fmt.Errorf("unknown quality level: %s", s)
	}
	return q, nil
}

// MissingPolicy decides which direction to walk when the requested quality
// is not available.
type MissingPolicy string

const (
	PreferLower  MissingPolicy = "lower"
	PreferHigher MissingPolicy = "higher"
)

// ParseMissingPolicy maps a config value to a MissingPolicy. Unknown values
// fall back to PreferLower.
func ParseMissingPolicy(s string) MissingPolicy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "higher", "asc", "prefer-higher":
		return PreferHigher
	default:
		return PreferLower
	}
}

// QualityOrder returns the sequence of qualities to attempt, starting with q.
//
// PreferHigher yields q, then the higher tiers ascending, then the lower tiers
// descending. PreferLower yields q, then the lower tiers descending, then the
// higher tiers ascending.
func QualityOrder(q Quality, policy MissingPolicy) []Quality {
	idx := q.rank()
	if idx < 0 {
		q = DefaultQuality
		idx = q.rank()
	}

	lower := make([]Quality, 0, idx)
	for i := idx - 1; i >= 0; i-- {
		lower = append(lower, Qualities[i])
	}
	higher := append([]Quality(nil), Qualities[idx+1:]...)

	order := make([]Quality, 0, len(Qualities))
	order = append(order, q)
	if policy == PreferHigher {
		order = append(order, higher...)
		return append(order, lower...)
	}
	order = append(order, lower...)
	return append(order, higher...)
}
