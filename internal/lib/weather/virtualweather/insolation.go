package virtualweather

import (
	"math"
	"time"
)

const degToRad = math.Pi / 180

// solarTime is the local apparent solar hour of t at longitude (degrees).
func solarTime(t time.Time, longitude float64) float64 {
	u := t.UTC()
	hour := float64(u.Hour()*3600+u.Minute()*60+u.Second()) / 3600
	return math.Mod(hour+longitude/15+24, 24)
}

// hourAngle in radians, zero at solar noon
func hourAngle(t time.Time, longitude float64) float64 {
	return (solarTime(t, longitude) - 12) * 15 * degToRad
}

func declinationAngle(t time.Time) float64 {
	x1 := math.Sin(((float64(t.UTC().YearDay()) - 81) * 2 * math.Pi) / 365.25)
	x2 := math.Sin(0.40928)

	return math.Asin(x1 * x2)
}

// elevationAngle of the sun above the horizon in radians; negative at night.
func elevationAngle(latitude, longitude float64, t time.Time) float64 {
	lat := latitude * degToRad
	d := declinationAngle(t)

	z1 := math.Sin(d) * math.Sin(lat)
	z2 := math.Cos(d) * math.Cos(lat) * math.Cos(hourAngle(t, longitude))

	return math.Asin(clamp(z1+z2, -1, 1))
}

// halfDay is the sunrise-to-noon span in hours; 0 in polar night, 12 in
// polar day.
func halfDay(latitude float64, t time.Time) float64 {
	lat := latitude * degToRad
	d := declinationAngle(t)
	cosH := -math.Tan(lat) * math.Tan(d)
	if cosH >= 1 {
		return 0
	}
	if cosH <= -1 {
		return 12
	}
	return math.Acos(cosH) / degToRad / 15
}

// sunrise returns the solar-time hour of sunrise on the day of t.
func sunrise(latitude float64, t time.Time) float64 {
	return 12 - halfDay(latitude, t)
}

// sunset returns the solar-time hour of sunset on the day of t.
func sunset(latitude float64, t time.Time) float64 {
	return 12 + halfDay(latitude, t)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
