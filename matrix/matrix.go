// Package matrix expands declarative axis definitions into the set of
// execution lanes for a tier. Expansion is pure: deterministic order,
// unique lane identities, no side effects.
package matrix

import (
	"fmt"

	"github.com/driftsync/sync-acceptor/types"
)

// Axis is a named dimension with an ordered sequence of values.
type Axis struct {
	Name   string   `yaml:"name"`
	Values []string `yaml:"values"`
}

// Exclusion marks one axis-value combination as unsupported. A lane is
// excluded when it matches every binding in the exclusion.
type Exclusion map[string]string

// CredentialBinding maps the values of one axis to credential slot
// names. Tiers that exercise live accounts must bind every lane.
type CredentialBinding struct {
	Axis  string            `yaml:"axis"`
	Slots map[string]string `yaml:"slots"`
}

// UnboundCredentialError indicates a lane in a credentialed tier has no
// assigned slot.
type UnboundCredentialError struct {
	LaneID string
}

func (e *UnboundCredentialError) Error() string {
	return fmt.Sprintf("lane %s has no assigned credential slot", e.LaneID)
}

// Expand produces the full Cartesian product of the axes, minus
// exclusions, as lanes. Axes and values are walked in declaration order,
// so repeated calls with the same input yield the same lanes in the same
// order. When credentials is non-nil, every lane must resolve to a slot.
func Expand(axes []Axis, exclusions []Exclusion, credentials *CredentialBinding) ([]types.Lane, error) {
	if len(axes) == 0 {
		return nil, fmt.Errorf("at least one axis is required")
	}
	for _, axis := range axes {
		if axis.Name == "" {
			return nil, fmt.Errorf("axis with empty name")
		}
		if len(axis.Values) == 0 {
			return nil, fmt.Errorf("axis %q has no values", axis.Name)
		}
	}

	combos := cartesian(axes)
	lanes := make([]types.Lane, 0, len(combos))
	seen := make(map[string]struct{}, len(combos))

	for _, values := range combos {
		if excluded(values, exclusions) {
			continue
		}
		lane := types.Lane{
			ID:     types.LaneID(values),
			Values: values,
		}
		if _, dup := seen[lane.ID]; dup {
			return nil, fmt.Errorf("duplicate lane identity %s (axis values must be unique)", lane.ID)
		}
		seen[lane.ID] = struct{}{}

		if credentials != nil {
			slot, err := credentials.slotFor(lane)
			if err != nil {
				return nil, err
			}
			lane.Slot = slot
		}
		lanes = append(lanes, lane)
	}
	return lanes, nil
}

// cartesian walks axes in declaration order, building every combination.
func cartesian(axes []Axis) [][]types.AxisValue {
	combos := [][]types.AxisValue{{}}
	for _, axis := range axes {
		next := make([][]types.AxisValue, 0, len(combos)*len(axis.Values))
		for _, combo := range combos {
			for _, value := range axis.Values {
				extended := make([]types.AxisValue, len(combo), len(combo)+1)
				copy(extended, combo)
				extended = append(extended, types.AxisValue{Axis: axis.Name, Value: value})
				next = append(next, extended)
			}
		}
		combos = next
	}
	return combos
}

func excluded(values []types.AxisValue, exclusions []Exclusion) bool {
	for _, excl := range exclusions {
		if matchesExclusion(values, excl) {
			return true
		}
	}
	return false
}

func matchesExclusion(values []types.AxisValue, excl Exclusion) bool {
	if len(excl) == 0 {
		return false
	}
	for axis, value := range excl {
		if !hasBinding(values, axis, value) {
			return false
		}
	}
	return true
}

func hasBinding(values []types.AxisValue, axis, value string) bool {
	for _, v := range values {
		if v.Axis == axis && v.Value == value {
			return true
		}
	}
	return false
}

func (b *CredentialBinding) slotFor(lane types.Lane) (string, error) {
	value := lane.Get(b.Axis)
	if value == "" {
		return "", &UnboundCredentialError{LaneID: lane.ID}
	}
	slot, ok := b.Slots[value]
	if !ok || slot == "" {
		return "", &UnboundCredentialError{LaneID: lane.ID}
	}
	return slot, nil
}

// DistinctSlots returns the number of distinct credential slots assigned
// across the lanes. The online concurrency cap is bounded by this.
func DistinctSlots(lanes []types.Lane) int {
	slots := make(map[string]struct{})
	for _, lane := range lanes {
		if lane.Slot != "" {
			slots[lane.Slot] = struct{}{}
		}
	}
	return len(slots)
}
