package rebase

import (
	"math"
	"time"
)

// TargetMultiple returns the multiple of the start price the asset should trade at.
//
// The target moves geometrically from 1.0 at the band start to endPrice/startPrice at
// the band end; outside the band the boundary value is returned.
func TargetMultiple(now time.Time, band PriceBand) float64 {
	t := bandProgress(now, band)
	if t <= 0 {
		return 1.0
	}
	m := band.EndMultiple()
	if t >= 1 {
		return m
	}
	return math.Exp(math.Log(1) + t*math.Log(m))
}

// bandProgress maps now onto [0,1] across the band, clamped at both ends.
func bandProgress(now time.Time, band PriceBand) float64 {
	start := float64(band.start.UnixMilli()) / 1000
	end := float64(band.end.UnixMilli()) / 1000
	x := float64(now.UnixMilli()) / 1000

	x = math.Min(math.Max(x, start), end)
	return (x - start) / (end - start)
}
