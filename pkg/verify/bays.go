package verify

// BayLayout partitions the frame width into contiguous horizontal bands,
// one per bay. Boundaries are upper band edges as fractions of the frame
// width; the last must be 1.0. The bands are deliberately unequal, as
// the physical bays are.
type BayLayout struct {
	Boundaries [4]float64
}

// DefaultBayLayout matches the production dispenser: bay 1 is the wide
// leftmost compartment, bays 2 and 3 the narrow middle ones.
func DefaultBayLayout() BayLayout {
	return BayLayout{Boundaries: [4]float64{0.35, 0.50, 0.65, 1.0}}
}

// Assign maps a horizontal center coordinate to a bay. Each band is
// half-open [start, end); a center that falls past every band (the
// right-edge numerical case) is clamped to the last bay so a detection
// is never silently dropped.
func (l BayLayout) Assign(centerX, frameWidth int) Bay {
	bays := AllBays()
	start := 0.0
	for i, end := range l.Boundaries {
		lo := int(start * float64(frameWidth))
		hi := int(end * float64(frameWidth))
		if centerX >= lo && centerX < hi {
			return bays[i]
		}
		start = end
	}
	return bays[len(bays)-1]
}
