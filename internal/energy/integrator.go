package energy

import (
	"sort"
	"time"

	"github.com/Wattine-core-poc/server/internal/assistant/model"
)

// DefaultMaxGap caps the elapsed time credited to a single interval so a
// reporting outage is not misread as sustained draw at the last known power.
const DefaultMaxGap = 15 * time.Minute

// WindowTotals converts each device's power stream into total energy (Wh)
// over the window using step-hold integration: the previous sample's power is
// held constant until the current sample's timestamp, with the interval
// clamped to [0, maxGap]. The first sample of a stream has no predecessor and
// contributes zero energy; that is an expected case, not an error.
func WindowTotals(samples []model.EnergySample, maxGap time.Duration) map[string]float64 {
	if maxGap <= 0 {
		maxGap = DefaultMaxGap
	}
	totals := make(map[string]float64)
	for deviceID, stream := range splitByDevice(samples) {
		var wh float64
		for i := 1; i < len(stream); i++ {
			wh += intervalWh(stream[i-1], stream[i], maxGap)
		}
		totals[deviceID] = wh
	}
	return totals
}

// Buckets integrates each device's stream into per-(device, calendar bucket)
// energy. Bucket boundaries are aligned in loc and reported as UTC instants.
// Each interval's energy lands in the bucket containing the current sample's
// timestamp. AvgPowerW is the arithmetic mean of the sample values in the
// bucket and SampleCount counts every sample, including the first of a
// stream, which carries no energy.
func Buckets(samples []model.EnergySample, gran model.Granularity, loc *time.Location, maxGap time.Duration) []model.EnergyBucket {
	if maxGap <= 0 {
		maxGap = DefaultMaxGap
	}
	if loc == nil {
		loc = time.UTC
	}

	type key struct {
		deviceID string
		start    time.Time
	}
	acc := make(map[key]*model.EnergyBucket)

	add := func(deviceID string, ts time.Time, wh float64, power float64) *model.EnergyBucket {
		k := key{deviceID: deviceID, start: BucketStart(ts, gran, loc)}
		b, ok := acc[k]
		if !ok {
			b = &model.EnergyBucket{DeviceID: deviceID, BucketStart: k.start.UTC()}
			acc[k] = b
		}
		b.EnergyWh += wh
		b.AvgPowerW += power // running sum; divided by count below
		b.SampleCount++
		return b
	}

	for deviceID, stream := range splitByDevice(samples) {
		for i, s := range stream {
			var wh float64
			if i > 0 {
				wh = intervalWh(stream[i-1], s, maxGap)
			}
			add(deviceID, s.Timestamp, wh, s.PowerWatts)
		}
	}

	out := make([]model.EnergyBucket, 0, len(acc))
	for _, b := range acc {
		if b.SampleCount > 0 {
			b.AvgPowerW /= float64(b.SampleCount)
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BucketStart.Equal(out[j].BucketStart) {
			return out[i].BucketStart.Before(out[j].BucketStart)
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}

// BucketStart truncates ts to the start of its calendar bucket in loc.
// time.Time.Truncate is not used because it rounds absolute durations and
// misaligns calendar buckets in zones with non-hour offsets.
func BucketStart(ts time.Time, gran model.Granularity, loc *time.Location) time.Time {
	t := ts.In(loc)
	y, m, d := t.Date()
	switch gran {
	case model.GranMinute:
		return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc)
	case model.GranHour:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, loc)
	case model.GranWeek:
		wd := int(t.Weekday())
		if wd == 0 {
			wd = 7
		}
		monday := t.AddDate(0, 0, -(wd - 1))
		y, m, d = monday.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case model.GranMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	default: // day
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}

func intervalWh(prev, cur model.EnergySample, maxGap time.Duration) float64 {
	delta := cur.Timestamp.Sub(prev.Timestamp)
	if delta < 0 {
		delta = 0
	}
	if delta > maxGap {
		delta = maxGap
	}
	return prev.PowerWatts * delta.Seconds() / 3600.0
}

func splitByDevice(samples []model.EnergySample) map[string][]model.EnergySample {
	streams := make(map[string][]model.EnergySample)
	for _, s := range samples {
		streams[s.DeviceID] = append(streams[s.DeviceID], s)
	}
	for _, stream := range streams {
		sort.Slice(stream, func(i, j int) bool {
			return stream[i].Timestamp.Before(stream[j].Timestamp)
		})
	}
	return streams
}
