package geo

import (
	"errors"
	"math"

	"github.com/tracksynth/tracksynth/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Positions are simulated on a sphere. Stored positions are projected to
// EPSG:3857 and kept as WKB so SQLite and Postgres can both scan them.

// EarthRadiusKm is the mean earth radius used for great-circle math.
const EarthRadiusKm = 6371.0088

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }
func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

// Destination returns the point reached by travelling distanceKm from p
// along the great circle that starts at bearingDeg (clockwise from north).
// The result is always inside global bounds.
func Destination(p core.Position, bearingDeg, distanceKm float64) core.Position {
	if distanceKm == 0 {
		return Normalize(p)
	}

	delta := distanceKm / EarthRadiusKm
	theta := toRadians(bearingDeg)
	phi1 := toRadians(p.Lat)
	lambda1 := toRadians(p.Lon)

	sinPhi2 := math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta)
	phi2 := math.Asin(math.Max(-1, math.Min(1, sinPhi2)))

	y := math.Sin(theta) * math.Sin(delta) * math.Cos(phi1)
	x := math.Cos(delta) - math.Sin(phi1)*math.Sin(phi2)
	lambda2 := lambda1 + math.Atan2(y, x)

	return Normalize(core.Position{Lat: toDegrees(phi2), Lon: toDegrees(lambda2)})
}

// Distance returns the haversine distance in kilometres between a and b.
func Distance(a, b core.Position) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Normalize clamps latitude to [-90,90] and wraps longitude into [-180,180].
func Normalize(p core.Position) core.Position {
	return core.Position{Lat: ClampLatitude(p.Lat), Lon: NormalizeLongitude(p.Lon)}
}

// ClampLatitude limits lat to [-90,90].
func ClampLatitude(lat float64) float64 {
	return math.Max(-90, math.Min(90, lat))
}

// NormalizeLongitude wraps lon into [-180,180].
func NormalizeLongitude(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// NormalizeBearing wraps a bearing into [0,360).
func NormalizeBearing(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// Valid reports whether p lies within global bounds.
func Valid(p core.Position) bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Coords3857From4326 projects a WGS84 longitude/latitude to a web mercator point.
func Coords3857From4326(longitude, latitude float64) (geom.Point, error) {
	if !Valid(core.Position{Lat: latitude, Lon: longitude}) {
		return geom.NewEmptyPoint(geom.DimXY), ErrInvalidCoordinates
	}
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ := f(longitude, latitude, 0)
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: x, Y: y}}), nil
}
