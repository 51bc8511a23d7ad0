// Package verify implements the capture-and-verify core: the environment
// readiness gate, bay assignment, recipe matching and the verification
// manager that ties them to the detection engine.
package verify

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
)

// Point is one polygon vertex in image coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// HolderSpace is one cavity of the holder, outlined by a polygon. The
// emptiness check inspects each space's bounding rectangle.
type HolderSpace struct {
	Label   string  `json:"label"`
	Polygon []Point `json:"polygon"`
}

// BoundingRect returns the axis-aligned bounding rectangle of the
// polygon, truncated to integer pixels.
func (h HolderSpace) BoundingRect() image.Rectangle {
	if len(h.Polygon) == 0 {
		return image.Rectangle{}
	}
	minX, minY := int(h.Polygon[0].X), int(h.Polygon[0].Y)
	maxX, maxY := minX, minY
	for _, p := range h.Polygon[1:] {
		if x := int(p.X); x < minX {
			minX = x
		} else if x > maxX {
			maxX = x
		}
		if y := int(p.Y); y < minY {
			minY = y
		} else if y > maxY {
			maxY = y
		}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// Geometry is the fixed set of holder-space polygons for the fixture.
// Loaded once at initialization and immutable afterwards.
type Geometry struct {
	HolderSpaces []HolderSpace `json:"holder_spaces"`
}

// LoadGeometry reads and validates the geometry file.
func LoadGeometry(path string) (*Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("geometry file: %w", err)
	}
	var g Geometry
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("geometry file %s: %w", path, err)
	}
	if len(g.HolderSpaces) == 0 {
		return nil, fmt.Errorf("geometry file %s: no holder spaces", path)
	}
	for i, hs := range g.HolderSpaces {
		if len(hs.Polygon) < 3 {
			return nil, fmt.Errorf("geometry file %s: holder space %d has %d points, need at least 3",
				path, i, len(hs.Polygon))
		}
	}
	return &g, nil
}
