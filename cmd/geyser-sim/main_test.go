package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/geyser-sim/internal/config"
	"github.com/sweeney/geyser-sim/internal/logger"
	"github.com/sweeney/geyser-sim/internal/mqtt"
	"github.com/sweeney/geyser-sim/internal/profile"
	"github.com/sweeney/geyser-sim/internal/telemetry"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

const simYAML = `
simParameters:
  startTime: 2024-01-01T00:00:00
  stopTime: 2024-01-01T00:30:00
  dt: 600
input:
  tempSet: {value: 65, unit: degC}
  coilPower: {value: 2000, unit: W}
  ambientTemp: {value: 18, unit: degC}
  events:
    charge:
      - start: 2024-01-01T00:10:00
        stop: 2024-01-01T00:20:00
        flowRate: {value: 4, unit: l/min}
        inletTemp: {value: 12, unit: degC}
`

func testSettings(t *testing.T, httpAddr string) *config.Settings {
	t.Helper()
	users := filepath.Join(t.TempDir(), "users.json")
	s, err := config.Parse([]byte(`
master:
  url: master.example
  port: 1883
tenant_list: ` + users + `
heartbeat: 1h
connect_timeout: 200ms
http:
  addr: "` + httpAddr + `"
`))
	require.NoError(t, err)
	return s
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestServeRunsUntilCancelled(t *testing.T) {
	s := testSettings(t, config.Disabled)
	broker := mqtt.NewFakeBroker()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- runServe(ctx, s, broker.Dial) }()

	require.Eventually(t, func() bool {
		link := broker.Link(s.Master)
		return link != nil && link.IsConnected() && link.Subscribed("GeyserMaster/Add")
	}, waitFor, tick)

	alice := mqtt.UserMessage{
		Header:      mqtt.NewHeader(mqtt.KindAdd, "u1", time.Now()),
		Name:        "Alice",
		Credentials: mqtt.Credentials{URL: "alice.example", Port: 1883},
	}
	payload, err := mqtt.Encode(alice)
	require.NoError(t, err)
	require.Equal(t, 1, broker.Link(s.Master).Deliver("GeyserMaster/Add", payload))

	require.Eventually(t, func() bool {
		link := broker.Link(alice.Credentials)
		return link != nil && link.IsConnected()
	}, waitFor, tick)

	raw, err := os.ReadFile(s.TenantList)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"u1"`)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("serve did not stop")
	}
	assert.True(t, broker.Link(s.Master).Closed())
	assert.True(t, broker.Link(alice.Credentials).Closed())
}

func TestServeMasterConnectFails(t *testing.T) {
	s := testSettings(t, config.Disabled)
	broker := mqtt.NewFakeBroker()
	broker.FailConnect(s.Master, errors.New("connection refused"))

	err := runServe(context.Background(), s, broker.Dial)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "tcp://master.example:1883")
}

func TestServeHTTPListenerFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := testSettings(t, ln.Addr().String())
	broker := mqtt.NewFakeBroker()

	errc := make(chan error, 1)
	go func() { errc <- runServe(context.Background(), s, broker.Dial) }()

	select {
	case err := <-errc:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http server")
	case <-time.After(waitFor):
		t.Fatal("serve did not fail")
	}
}

func TestOpenStoreFallsBackToDiscard(t *testing.T) {
	ctx := context.Background()

	store, closeStore := openStore(ctx, config.TimescaleConfig{})
	assert.Equal(t, "discard", store.Name())
	closeStore()

	store, closeStore = openStore(ctx, config.TimescaleConfig{
		ConnString: "host=127.0.0.1 port=1 sslmode=disable connect_timeout=1",
		Table:      config.DefaultTable,
	})
	assert.Equal(t, "discard", store.Name())
	closeStore()
}

func TestCompileWritesProfiles(t *testing.T) {
	sim := writeFile(t, "sim.yaml", simYAML)
	out := filepath.Join(t.TempDir(), "profiles.json")
	var stdout bytes.Buffer

	require.NoError(t, runCompile(context.Background(), sim, out, nil, &stdout))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var p profile.Profiles
	require.NoError(t, json.Unmarshal(raw, &p))
	assert.Equal(t, 4, p.Len())
	assert.Equal(t, []float64{0, -4, 0, 0}, p.Flow.Values)
	assert.Equal(t, "wrote 4 samples to "+out+"\n", stdout.String())
}

type fakeRunner struct {
	code int
	err  error
	path string
}

func (r *fakeRunner) Run(_ context.Context, path string) (int, error) {
	r.path = path
	return r.code, r.err
}

func TestCompileRunsSimulator(t *testing.T) {
	sim := writeFile(t, "sim.yaml", simYAML)
	out := filepath.Join(t.TempDir(), "profiles.json")

	ok := &fakeRunner{}
	var stdout bytes.Buffer
	require.NoError(t, runCompile(context.Background(), sim, out, ok, &stdout))
	assert.Equal(t, out, ok.path)
	assert.Contains(t, stdout.String(), "simulation finished")

	failed := &fakeRunner{code: 3}
	err := runCompile(context.Background(), sim, out, failed, &bytes.Buffer{})
	assert.EqualError(t, err, "simulator exited with status 3")
}

func TestCompileInvalidSimulation(t *testing.T) {
	sim := writeFile(t, "sim.json", `{"simParameters": {"dt": 0}}`)
	out := filepath.Join(t.TempDir(), "profiles.json")

	err := runCompile(context.Background(), sim, out, nil, &bytes.Buffer{})

	assert.ErrorIs(t, err, config.ErrConfig)
	assert.NoFileExists(t, out)
}

func TestCompileRejectsOversizedGrid(t *testing.T) {
	sim := writeFile(t, "sim.yaml", strings.Replace(simYAML, "dt: 600", "dt: 0.000001", 1))
	out := filepath.Join(t.TempDir(), "profiles.json")

	err := runCompile(context.Background(), sim, out, nil, &bytes.Buffer{})

	var sizeErr *profile.GridTooLargeError
	require.ErrorAs(t, err, &sizeErr)
	assert.ErrorIs(t, err, profile.ErrCompile)
	assert.NoFileExists(t, out)
}

func TestQueryRequiresConnString(t *testing.T) {
	open := func(context.Context, string, string) (telemetry.Store, func() error, error) {
		t.Fatal("store opened without a connection string")
		return nil, nil, nil
	}

	err := runQuery(context.Background(), config.TimescaleConfig{}, "u1", time.Time{}, time.Now(), &bytes.Buffer{}, open)

	assert.Error(t, err)
}

func TestQueryPrintsSamples(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)
	rows := sqlmock.NewRows([]string{"uid", "ts", "type", "thermostat_temp", "internal_energy",
		"coil_power", "coil_state", "ambient_temp", "soc", "t_profile"}).
		AddRow("u1", from.Add(time.Minute), "Data", 58.5, 1.2, 3000.0, true, 20.0, 0.8, []byte("[55,60]")).
		AddRow("u1", from.Add(2*time.Minute), "Data", 59.0, 1.3, 0.0, false, 20.0, 0.9, nil)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT uid, ts, type, thermostat_temp, internal_energy, coil_power, coil_state, ambient_temp, soc, t_profile FROM "geyser_data" WHERE uid = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts`)).
		WithArgs("u1", from, to).
		WillReturnRows(rows)
	mock.ExpectClose()

	open := func(_ context.Context, connString, table string) (telemetry.Store, func() error, error) {
		assert.Equal(t, "postgres://db", connString)
		return telemetry.NewTimescaleStore(db, table), db.Close, nil
	}

	var out bytes.Buffer
	cfg := config.TimescaleConfig{ConnString: "postgres://db", Table: config.DefaultTable}
	require.NoError(t, runQuery(context.Background(), cfg, "u1", from, to, &out, open))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	first, err := mqtt.Decode[mqtt.DataMessage]([]byte(lines[0]))
	require.NoError(t, err)
	assert.Equal(t, 58.5, first.ThermostatTemp)
	assert.Equal(t, []float64{55, 60}, first.TProfile)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryOpenFailure(t *testing.T) {
	open := func(context.Context, string, string) (telemetry.Store, func() error, error) {
		return nil, nil, sql.ErrConnDone
	}

	err := runQuery(context.Background(), config.TimescaleConfig{ConnString: "x"}, "u1", time.Time{}, time.Now(), &bytes.Buffer{}, open)

	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestParseBound(t *testing.T) {
	fallback := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := parseBound("", fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, got)

	got, err = parseBound("2026-03-01T10:00:00Z", fallback)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))

	_, err = parseBound("yesterday", fallback)
	assert.Error(t, err)
}

func TestRootCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "version: ")

	root = newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--log-level", "loud", "version"})
	assert.Error(t, root.Execute())
}

func TestRootSeedsCommandLogger(t *testing.T) {
	var name string
	root := newRootCmd()
	root.AddCommand(&cobra.Command{
		Use: "inspect",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name = logger.FromContext(cmd.Context()).Desugar().Name()
			return nil
		},
	})
	root.SetArgs([]string{"inspect"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "inspect", name)
}
