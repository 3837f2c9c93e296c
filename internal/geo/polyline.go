package geo

import (
	"fmt"

	"github.com/tracksynth/tracksynth/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// Path builds a WGS84 line string (x=lon, y=lat) through the given positions.
func Path(positions []core.Position) (geom.LineString, error) {
	if len(positions) < 2 {
		return geom.LineString{}, fmt.Errorf("path must have at least 2 points, got %d", len(positions))
	}

	flatCoords := make([]float64, 0, len(positions)*2)
	for i, p := range positions {
		if !Valid(p) {
			return geom.LineString{}, fmt.Errorf("point %d: %w", i, ErrInvalidCoordinates)
		}
		flatCoords = append(flatCoords, p.Lon, p.Lat)
	}

	seq := geom.NewSequence(flatCoords, geom.DimXY)
	return geom.NewLineString(seq), nil
}

// PathLength sums the great-circle distance in kilometres along positions.
func PathLength(positions []core.Position) float64 {
	var total float64
	for i := 1; i < len(positions); i++ {
		total += Distance(positions[i-1], positions[i])
	}
	return total
}
