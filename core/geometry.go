package core

import (
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/sagin-domain-engine/model"
)

// EarthRadiusKm is the mean Earth radius used for all simple geometry
// calculations (kilometres).
const EarthRadiusKm = 6371.0

// speedOfLightKmPerSec is the propagation speed used for link-delay
// estimates, in vacuum. Kilometres per second.
const speedOfLightKmPerSec = 299792.458

// Vec3 is an ECEF-style vector in kilometres.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// GeodeticToECEF converts a geodetic position to ECEF kilometres at
// the given instant. The feed carries latitude/longitude in degrees
// and altitude in kilometres; go-satellite wants radians and a Julian
// day for the intermediate ECI frame.
func GeodeticToECEF(g model.Geodetic, at time.Time) Vec3 {
	year, month, day := at.Date()
	hour, min, sec := at.Clock()
	jd := satellite.JDay(year, int(month), day, hour, min, sec)

	eci := satellite.LLAToECI(satellite.LatLong{
		Latitude:  g.LatDeg * satellite.DEG2RAD,
		Longitude: g.LonDeg * satellite.DEG2RAD,
	}, g.AltKm, jd)

	gmst := satellite.ThetaG_JD(jd)
	ecef := satellite.ECIToECEF(eci, gmst)
	return Vec3{X: ecef.X, Y: ecef.Y, Z: ecef.Z}
}

// PropagationDelayMs estimates the one-way propagation delay between
// two ECEF points in milliseconds, assuming straight-line propagation
// at the speed of light.
func PropagationDelayMs(a, b Vec3) float64 {
	return a.DistanceTo(b) / speedOfLightKmPerSec * 1000.0
}
