package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/Wattine-core-poc/server/internal/assistant/model"
	logx "github.com/Wattine-core-poc/server/pkg/logger"
)

// CachedDirectory is a read-through TTL cache over a device directory.
// Device names change rarely and every turn needs them for alias matching,
// so one directory hit per user per TTL is enough. Expiry is checked at read
// time; a lookup failure serves the stale entry when one exists.
type CachedDirectory struct {
	inner model.DeviceDirectory
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]directoryEntry
}

type directoryEntry struct {
	fetchedAt time.Time
	devices   map[string]string
}

func NewCachedDirectory(inner model.DeviceDirectory, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedDirectory{
		inner: inner,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]directoryEntry),
	}
}

// WithClock overrides the time source. Test seam.
func (d *CachedDirectory) WithClock(now func() time.Time) *CachedDirectory {
	d.now = now
	return d
}

func (d *CachedDirectory) Devices(ctx context.Context, userID string) (map[string]string, error) {
	d.mu.Lock()
	entry, ok := d.cache[userID]
	fresh := ok && d.now().Sub(entry.fetchedAt) <= d.ttl
	d.mu.Unlock()

	if fresh {
		return copyDevices(entry.devices), nil
	}

	devices, err := d.inner.Devices(ctx, userID)
	if err != nil {
		if ok {
			logx.Warn().Err(err).Str("userID", userID).Msg("directory lookup failed, serving stale cache")
			return copyDevices(entry.devices), nil
		}
		return nil, err
	}

	d.mu.Lock()
	d.cache[userID] = directoryEntry{fetchedAt: d.now(), devices: copyDevices(devices)}
	d.mu.Unlock()
	return devices, nil
}

// Invalidate drops the cached entry for the user.
func (d *CachedDirectory) Invalidate(userID string) {
	d.mu.Lock()
	delete(d.cache, userID)
	d.mu.Unlock()
}

func copyDevices(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
