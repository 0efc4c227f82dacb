package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Wattine-core-poc/server/internal/assistant/model"
	"github.com/Wattine-core-poc/server/internal/energy"
	"github.com/google/uuid"
)

// MemoryStore is the in-process realization of the device directory and the
// aggregation collaborator. It keeps raw samples per device and delegates the
// numeric work to the energy integrator, so tests and the demo harness
// exercise the exact algorithm the database path implements in SQL.
type MemoryStore struct {
	mu      sync.RWMutex
	loc     *time.Location
	maxGap  time.Duration
	devices map[string]map[string]string   // userID -> deviceID -> name
	samples map[string][]model.EnergySample // deviceID -> readings
}

func NewMemoryStore(loc *time.Location, maxGap time.Duration) *MemoryStore {
	if loc == nil {
		loc = time.UTC
	}
	if maxGap <= 0 {
		maxGap = energy.DefaultMaxGap
	}
	return &MemoryStore{
		loc:     loc,
		maxGap:  maxGap,
		devices: make(map[string]map[string]string),
		samples: make(map[string][]model.EnergySample),
	}
}

// AddDevice registers a device for the user and returns its generated id.
func (s *MemoryStore) AddDevice(userID, name string) string {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.devices[userID] == nil {
		s.devices[userID] = make(map[string]string)
	}
	s.devices[userID][id] = name
	return id
}

// Record appends one power reading for the device.
func (s *MemoryStore) Record(deviceID string, ts time.Time, powerWatts float64) {
	if powerWatts < 0 {
		powerWatts = 0
	}
	s.mu.Lock()
	s.samples[deviceID] = append(s.samples[deviceID], model.EnergySample{
		DeviceID:   deviceID,
		Timestamp:  ts,
		PowerWatts: powerWatts,
	})
	s.mu.Unlock()
}

func (s *MemoryStore) Devices(_ context.Context, userID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.devices[userID]))
	for id, name := range s.devices[userID] {
		out[id] = name
	}
	return out, nil
}

func (s *MemoryStore) Aggregate(ctx context.Context, userID string, window model.TimeWindow, deviceIDs []string) ([]model.EnergyBucket, error) {
	names, err := s.Devices(ctx, userID)
	if err != nil {
		return nil, err
	}
	in := s.windowSamples(names, window, deviceIDs)
	buckets := energy.Buckets(in, window.Granularity, s.loc, s.maxGap)
	for i := range buckets {
		buckets[i].DeviceName = names[buckets[i].DeviceID]
	}
	return buckets, nil
}

func (s *MemoryStore) DeviceTotals(ctx context.Context, userID string, window model.TimeWindow, deviceIDs []string) ([]model.RankedDevice, error) {
	names, err := s.Devices(ctx, userID)
	if err != nil {
		return nil, err
	}
	in := s.windowSamples(names, window, deviceIDs)
	totals := energy.WindowTotals(in, s.maxGap)

	out := make([]model.RankedDevice, 0, len(totals))
	for id, wh := range totals {
		if wh <= 0 {
			continue
		}
		out = append(out, model.RankedDevice{
			DeviceID:  id,
			Name:      names[id],
			EnergyKWh: wh / 1000.0,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnergyKWh > out[j].EnergyKWh })
	return out, nil
}

// windowSamples collects the user's readings inside [start, end), scoped to
// deviceIDs when given.
func (s *MemoryStore) windowSamples(owned map[string]string, window model.TimeWindow, deviceIDs []string) []model.EnergySample {
	wanted := make(map[string]bool, len(deviceIDs))
	for _, id := range deviceIDs {
		wanted[id] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.EnergySample
	for id := range owned {
		if len(wanted) > 0 && !wanted[id] {
			continue
		}
		for _, sample := range s.samples[id] {
			if sample.Timestamp.Before(window.Start) || !sample.Timestamp.Before(window.End) {
				continue
			}
			out = append(out, sample)
		}
	}
	return out
}
