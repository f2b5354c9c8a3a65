package solar

import (
	"math"
	"time"
)

// Solar position math following the standard sun-position formulas
// (Astronomy Answers / NOAA), operating on julian dates.

const (
	degRad = math.Pi / 180

	julian1970 = 2440588
	julian2000 = 2451545
	julianZero = 0.0009

	// obliquity of the Earth
	obliquity = degRad * 23.4397

	msPerDay = 86400000.0
)

func toJulian(t time.Time) float64 {
	return float64(t.UnixMilli())/msPerDay - 0.5 + julian1970
}

func fromJulian(j float64) time.Time {
	ms := (j + 0.5 - julian1970) * msPerDay
	return time.UnixMilli(int64(math.Round(ms))).UTC()
}

func toDays(t time.Time) float64 {
	return toJulian(t) - julian2000
}

func solarMeanAnomaly(d float64) float64 {
	return degRad * (357.5291 + 0.98560028*d)
}

func eclipticLongitude(m float64) float64 {
	// equation of center
	c := degRad * (1.9148*math.Sin(m) + 0.02*math.Sin(2*m) + 0.0003*math.Sin(3*m))
	// perihelion of the Earth
	p := degRad * 102.9372
	return m + c + p + math.Pi
}

func declination(l float64) float64 {
	return math.Asin(math.Sin(l) * math.Sin(obliquity))
}

func julianCycle(d, lw float64) float64 {
	return math.Round(d - julianZero - lw/(2*math.Pi))
}

func approxTransit(ht, lw, n float64) float64 {
	return julianZero + (ht+lw)/(2*math.Pi) + n
}

func solarTransitJ(ds, m, l float64) float64 {
	return julian2000 + ds + 0.0053*math.Sin(m) - 0.0069*math.Sin(2*l)
}

// hourAngle returns NaN when the sun never reaches altitude h on the
// given day (polar night / midnight sun).
func hourAngle(h, phi, dec float64) float64 {
	return math.Acos((math.Sin(h) - math.Sin(phi)*math.Sin(dec)) / (math.Cos(phi) * math.Cos(dec)))
}

func getSetJ(h, lw, phi, dec, n, m, l float64) float64 {
	w := hourAngle(h, phi, dec)
	a := approxTransit(w, lw, n)
	return solarTransitJ(a, m, l)
}

// altitude/event pairs: each sun altitude yields a rising and a setting
// event mirrored around solar noon.
var eventAltitudes = []struct {
	angle float64 // degrees
	rise  Event
	set   Event
}{
	{-0.833, Sunrise, Sunset},
	{-0.3, SunriseEnd, SunsetStart},
	{-6, CivilDawn, CivilDusk},
	{-12, NauticalDawn, NauticalDusk},
	{-18, NightEnd, NightStart},
	{6, MorningGoldenHourEnd, EveningGoldenHourStart},
}

// eventTimes computes every event instant for the calendar day of date
// at the given coordinate. Events that do not occur on that day (polar
// latitudes) are omitted from the map.
func eventTimes(date time.Time, lat, lon float64) map[Event]time.Time {
	lw := degRad * -lon
	phi := degRad * lat

	d := toDays(date)
	n := julianCycle(d, lw)
	ds := approxTransit(0, lw, n)
	m := solarMeanAnomaly(ds)
	l := eclipticLongitude(m)
	dec := declination(l)

	jNoon := solarTransitJ(ds, m, l)

	times := map[Event]time.Time{
		SolarNoon: fromJulian(jNoon),
		Nadir:     fromJulian(jNoon - 0.5),
	}

	for _, ea := range eventAltitudes {
		jSet := getSetJ(ea.angle*degRad, lw, phi, dec, n, m, l)
		if math.IsNaN(jSet) {
			continue
		}
		jRise := jNoon - (jSet - jNoon)
		times[ea.rise] = fromJulian(jRise)
		times[ea.set] = fromJulian(jSet)
	}
	return times
}
