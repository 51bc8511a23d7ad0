package verify

// BayReport is the comparison outcome for one bay.
type BayReport struct {
	Bay      Bay          `json:"bay"`
	Expected []Medication `json:"expected"`
	Found    []Medication `json:"found"`
	Match    bool         `json:"match"`
}

// Report is the verdict for one verification frame. There is no
// "unknown" state: every bay gets a concrete match boolean and the
// overall verdict is the conjunction.
type Report struct {
	Bays   []BayReport `json:"bays"`
	Passed bool        `json:"verification_passed"`
}

// Match compares the expected recipe against the per-bay detections of
// one frame. Expected entries are expanded into per-pill units (an entry
// with count 2 expects two pills) and compared pairwise in enumeration
// order: recipe order on one side, detection traversal order on the
// other. A bay absent from both sides matches vacuously.
//
// The strict-order contract is deliberate; MatchCounts is the candidate
// replacement should order turn out not to be meaningful.
func Match(recipe Recipe, found map[Bay][]Medication) Report {
	report := Report{Passed: true}
	for _, bay := range AllBays() {
		expected := recipe[bay]
		got := found[bay]

		match := pairwiseEqual(expandUnits(expected), expandUnits(got))
		if !match {
			report.Passed = false
		}

		report.Bays = append(report.Bays, BayReport{
			Bay:      bay,
			Expected: emptyIfNil(expected),
			Found:    emptyIfNil(got),
			Match:    match,
		})
	}
	return report
}

// MatchCounts compares two medication lists as per-pill multisets,
// ignoring order. Not used by the verdict path.
func MatchCounts(expected, found []Medication) bool {
	counts := make(map[string]int)
	for _, m := range expected {
		counts[m.PillName] += m.Count
	}
	for _, m := range found {
		counts[m.PillName] -= m.Count
	}
	for _, n := range counts {
		if n != 0 {
			return false
		}
	}
	return true
}

// expandUnits flattens medication entries into one pill name per unit.
func expandUnits(meds []Medication) []string {
	var units []string
	for _, m := range meds {
		for i := 0; i < m.Count; i++ {
			units = append(units, m.PillName)
		}
	}
	return units
}

func pairwiseEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func emptyIfNil(meds []Medication) []Medication {
	if meds == nil {
		return []Medication{}
	}
	return meds
}
