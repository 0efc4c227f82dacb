package telemetry

import (
	"context"
	"database/sql"
	"time"

	"github.com/Wattine-core-poc/server/internal/assistant/model"
	errx "github.com/Wattine-core-poc/server/internal/core/error"
	"github.com/Wattine-core-poc/server/internal/energy"
	logx "github.com/Wattine-core-poc/server/pkg/logger"
	"github.com/lib/pq"
)

// PostgresStore realizes the directory and aggregation contracts on the
// telemetry database. Integration runs as a window-function query: LAG gives
// the step-hold predecessor and GREATEST/LEAST caps the gap, so the numeric
// result matches the in-process integrator.
type PostgresStore struct {
	db     *sql.DB
	maxGap time.Duration
}

func NewPostgresStore(db *sql.DB, maxGap time.Duration) *PostgresStore {
	if maxGap <= 0 {
		maxGap = energy.DefaultMaxGap
	}
	return &PostgresStore{db: db, maxGap: maxGap}
}

func (s *PostgresStore) Devices(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name FROM devices WHERE user_id = $1`, userID)
	if err != nil {
		logx.Error().Err(err).Str("userID", userID).Msg("device directory query failed")
		return nil, errx.WrapPostgres(err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, errx.WrapPostgres(err)
		}
		out[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapPostgres(err)
	}
	return out, nil
}

const aggregateSQL = `
WITH filtered AS (
    SELECT
        t.device_id,
        d.name AS device_name,
        t.timestamp,
        t.power_watts AS power_w,
        LAG(t.timestamp)   OVER (PARTITION BY t.device_id ORDER BY t.timestamp) AS prev_ts,
        LAG(t.power_watts) OVER (PARTITION BY t.device_id ORDER BY t.timestamp) AS prev_w
    FROM telemetry t
    JOIN devices d ON d.id = t.device_id
    WHERE d.user_id = $1
      AND t.timestamp >= $2
      AND t.timestamp < $3
      AND (cardinality($4::text[]) = 0 OR t.device_id = ANY($4::text[]))
),
intervals AS (
    SELECT
        device_id,
        device_name,
        timestamp,
        power_w,
        COALESCE(prev_w, power_w) AS power_w_for_interval,
        GREATEST(0, LEAST($5::double precision,
            EXTRACT(EPOCH FROM (timestamp - prev_ts)))) AS delta_s
    FROM filtered
)
SELECT
    device_id,
    device_name,
    date_trunc($6, timestamp AT TIME ZONE $7) AT TIME ZONE $7 AS bucket_start,
    SUM(power_w_for_interval * COALESCE(delta_s, 0) / 3600.0) AS energy_wh,
    AVG(power_w) AS avg_power_w,
    COUNT(*) AS sample_count
FROM intervals
GROUP BY device_id, device_name, bucket_start
ORDER BY bucket_start, device_id;
`

func (s *PostgresStore) Aggregate(ctx context.Context, userID string, window model.TimeWindow, deviceIDs []string) ([]model.EnergyBucket, error) {
	rows, err := s.db.QueryContext(ctx, aggregateSQL,
		userID,
		window.Start,
		window.End,
		pq.Array(normalizeIDs(deviceIDs)),
		s.maxGap.Seconds(),
		truncField(window.Granularity),
		"UTC",
	)
	if err != nil {
		logx.Error().Err(err).Str("userID", userID).Str("window", window.Label).Msg("aggregate query failed")
		return nil, errx.WrapPostgres(err)
	}
	defer rows.Close()

	var out []model.EnergyBucket
	for rows.Next() {
		var b model.EnergyBucket
		if err := rows.Scan(&b.DeviceID, &b.DeviceName, &b.BucketStart, &b.EnergyWh, &b.AvgPowerW, &b.SampleCount); err != nil {
			return nil, errx.WrapPostgres(err)
		}
		b.BucketStart = b.BucketStart.UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapPostgres(err)
	}
	return out, nil
}

const deviceTotalsSQL = `
WITH filtered AS (
    SELECT
        t.device_id,
        d.name AS device_name,
        t.timestamp,
        t.power_watts AS power_w,
        LAG(t.timestamp)   OVER (PARTITION BY t.device_id ORDER BY t.timestamp) AS prev_ts,
        LAG(t.power_watts) OVER (PARTITION BY t.device_id ORDER BY t.timestamp) AS prev_w
    FROM telemetry t
    JOIN devices d ON d.id = t.device_id
    WHERE d.user_id = $1
      AND t.timestamp >= $2
      AND t.timestamp < $3
      AND (cardinality($4::text[]) = 0 OR t.device_id = ANY($4::text[]))
),
intervals AS (
    SELECT
        device_id,
        device_name,
        COALESCE(prev_w, power_w) AS power_w_for_interval,
        GREATEST(0, LEAST($5::double precision,
            EXTRACT(EPOCH FROM (timestamp - prev_ts)))) AS delta_s
    FROM filtered
)
SELECT
    device_id,
    device_name,
    SUM(power_w_for_interval * COALESCE(delta_s, 0) / 3600.0) / 1000.0 AS energy_kwh
FROM intervals
GROUP BY device_id, device_name
HAVING SUM(power_w_for_interval * COALESCE(delta_s, 0) / 3600.0) > 0
ORDER BY energy_kwh DESC;
`

func (s *PostgresStore) DeviceTotals(ctx context.Context, userID string, window model.TimeWindow, deviceIDs []string) ([]model.RankedDevice, error) {
	rows, err := s.db.QueryContext(ctx, deviceTotalsSQL,
		userID,
		window.Start,
		window.End,
		pq.Array(normalizeIDs(deviceIDs)),
		s.maxGap.Seconds(),
	)
	if err != nil {
		logx.Error().Err(err).Str("userID", userID).Str("window", window.Label).Msg("device totals query failed")
		return nil, errx.WrapPostgres(err)
	}
	defer rows.Close()

	var out []model.RankedDevice
	for rows.Next() {
		var d model.RankedDevice
		if err := rows.Scan(&d.DeviceID, &d.Name, &d.EnergyKWh); err != nil {
			return nil, errx.WrapPostgres(err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapPostgres(err)
	}
	return out, nil
}

func truncField(gran model.Granularity) string {
	switch gran {
	case model.GranMinute:
		return "minute"
	case model.GranHour:
		return "hour"
	case model.GranWeek:
		return "week"
	case model.GranMonth:
		return "month"
	default:
		return "day"
	}
}

func normalizeIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
