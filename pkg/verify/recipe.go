package verify

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Bay identifies one physical dispensing compartment. The dispenser has
// exactly four, laid out left to right in the camera frame.
type Bay string

// The fixed bay set.
const (
	Bay1 Bay = "dispensing_bay_1"
	Bay2 Bay = "dispensing_bay_2"
	Bay3 Bay = "dispensing_bay_3"
	Bay4 Bay = "dispensing_bay_4"
)

// AllBays returns the bays in physical left-to-right order.
func AllBays() []Bay {
	return []Bay{Bay1, Bay2, Bay3, Bay4}
}

// Valid reports whether b names a real bay.
func (b Bay) Valid() bool {
	switch b {
	case Bay1, Bay2, Bay3, Bay4:
		return true
	}
	return false
}

// Medication is one prescribed (or detected) pill entry.
type Medication struct {
	PillName string `json:"pill_name"`
	Count    int    `json:"count"`
}

// Recipe maps each bay to its expected medications for one dispensing
// session. A bay absent from the map expects nothing. Replaced wholesale
// on each selection; never patched.
type Recipe map[Bay][]Medication

// ErrInvalidRecipe marks recipe payloads whose shape or content is
// rejected at the boundary.
var ErrInvalidRecipe = errors.New("invalid recipe")

// ParseRecipe decodes and validates a recipe payload of the shape
// {"<bay>": [{"pill_name": ..., "count": ...}, ...], ...}.
func ParseRecipe(data []byte) (Recipe, error) {
	var raw map[string][]Medication
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecipe, err)
	}
	r := make(Recipe, len(raw))
	for name, meds := range raw {
		r[Bay(name)] = meds
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks bay names and medication entries.
func (r Recipe) Validate() error {
	for bay, meds := range r {
		if !bay.Valid() {
			return fmt.Errorf("%w: unknown bay %q", ErrInvalidRecipe, string(bay))
		}
		for i, m := range meds {
			if m.PillName == "" {
				return fmt.Errorf("%w: bay %s entry %d has empty pill_name", ErrInvalidRecipe, bay, i)
			}
			if m.Count < 1 {
				return fmt.Errorf("%w: bay %s entry %d (%s) has count %d", ErrInvalidRecipe, bay, i, m.PillName, m.Count)
			}
		}
	}
	return nil
}
