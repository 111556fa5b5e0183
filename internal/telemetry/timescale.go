package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/sweeney/geyser-sim/internal/logger"
	"github.com/sweeney/geyser-sim/internal/mqtt"
)

const columns = "uid, ts, type, thermostat_temp, internal_energy, coil_power, coil_state, ambient_temp, soc, t_profile"

// TimescaleStore keeps samples in a PostgreSQL/TimescaleDB table keyed by
// (uid, ts).
type TimescaleStore struct {
	db    *sql.DB
	table string
}

// NewTimescaleStore wraps an open database.
func NewTimescaleStore(db *sql.DB, table string) *TimescaleStore {
	return &TimescaleStore{db: db, table: pq.QuoteIdentifier(table)}
}

// Open connects with lib/pq, verifies the connection and creates the table if
// needed.
func Open(ctx context.Context, connString, table string) (*TimescaleStore, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("open timescale: %w", err)
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping timescale: %w", err)
	}

	store := NewTimescaleStore(db, table)
	if err = store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *TimescaleStore) Name() string { return "timescaledb" }

// EnsureSchema creates the sample table if it does not exist and turns it into
// a hypertable when the timescaledb extension is available. A plain
// PostgreSQL table is kept otherwise.
func (s *TimescaleStore) EnsureSchema(ctx context.Context) error {
	query := "CREATE TABLE IF NOT EXISTS " + s.table + ` (
	uid TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	type TEXT NOT NULL,
	thermostat_temp DOUBLE PRECISION,
	internal_energy DOUBLE PRECISION,
	coil_power DOUBLE PRECISION,
	coil_state BOOLEAN,
	ambient_temp DOUBLE PRECISION,
	soc DOUBLE PRECISION,
	t_profile JSONB,
	PRIMARY KEY (uid, ts)
)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}

	if _, err := s.db.ExecContext(ctx, "SELECT create_hypertable($1, 'ts', if_not_exists => TRUE)", s.table); err != nil {
		logger.WarnKV(ctx, "hypertable not created, using a plain table", "table", s.table, "error", err)
	}

	return nil
}

// WriteData inserts one sample. A repeated (uid, ts) is ignored.
func (s *TimescaleStore) WriteData(ctx context.Context, msg mqtt.DataMessage) error {
	var profile []byte
	if msg.TProfile != nil {
		var err error
		if profile, err = json.Marshal(msg.TProfile); err != nil {
			return fmt.Errorf("marshal temperature profile: %w", err)
		}
	}

	kind := string(msg.Type)
	if kind == "" {
		kind = string(mqtt.KindData)
	}

	query := "INSERT INTO " + s.table + " (" + columns + ") VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) ON CONFLICT (uid, ts) DO NOTHING"
	_, err := s.db.ExecContext(ctx, query,
		msg.UID,
		msg.Timestamp.Time,
		kind,
		msg.ThermostatTemp,
		msg.InternalEnergy,
		msg.CoilPower,
		msg.CoilState,
		msg.AmbientTemp,
		msg.SOC,
		profile,
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}

	return nil
}

// Query returns the samples of uid in [from, to], oldest first.
func (s *TimescaleStore) Query(ctx context.Context, uid string, from, to time.Time) ([]mqtt.DataMessage, error) {
	query := "SELECT " + columns + " FROM " + s.table + " WHERE uid = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts"

	rows, err := s.db.QueryContext(ctx, query, uid, from, to)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []mqtt.DataMessage
	for rows.Next() {
		var (
			msg     mqtt.DataMessage
			ts      time.Time
			kind    string
			profile []byte
		)
		err = rows.Scan(&msg.UID, &ts, &kind, &msg.ThermostatTemp, &msg.InternalEnergy,
			&msg.CoilPower, &msg.CoilState, &msg.AmbientTemp, &msg.SOC, &profile)
		if err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}

		msg.Type = mqtt.Kind(kind)
		msg.Timestamp = mqtt.Time{Time: ts}
		if len(profile) > 0 {
			if err = json.Unmarshal(profile, &msg.TProfile); err != nil {
				return nil, fmt.Errorf("decode temperature profile: %w", err)
			}
		}

		out = append(out, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}

	return out, nil
}

// Delete removes samples in [from, to] matching predicate.
func (s *TimescaleStore) Delete(ctx context.Context, from, to time.Time, predicate string) (int64, error) {
	filter, err := ParsePredicate(predicate)
	if err != nil {
		return 0, err
	}

	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(s.table)
	b.WriteString(" WHERE ts >= $1 AND ts <= $2")

	args := []any{from, to}
	if filter.UID != "" {
		args = append(args, filter.UID)
		fmt.Fprintf(&b, " AND uid = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		fmt.Fprintf(&b, " AND lower(type) = lower($%d)", len(args))
	}

	res, err := s.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("delete samples: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete samples: %w", err)
	}

	return n, nil
}

// Close releases the database handle.
func (s *TimescaleStore) Close() error {
	return s.db.Close()
}

var (
	_ Store = (*TimescaleStore)(nil)
	_ Store = Discard{}
)
