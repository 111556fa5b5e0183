// Package config loads the service settings (YAML) and simulation
// configuration documents (JSON or YAML).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/geyser-sim/internal/logger"
	"github.com/sweeney/geyser-sim/internal/mqtt"
)

const (
	// DefaultSettingsFilename is used when no settings path is given.
	DefaultSettingsFilename = "geyser-sim.yaml"

	DefaultTenantList     = "users.json"
	DefaultHeartbeat      = 10 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultHTTPAddr       = ":8080"
	DefaultTable          = "geyser_data"

	// UIDPlaceholder in a tenant topic is replaced with the tenant id.
	UIDPlaceholder = "{uid}"

	// Disabled switches off an optional topic or listener.
	Disabled = "-"
)

// ErrConfig wraps every settings or simulation document failure.
var ErrConfig = errors.New("invalid configuration")

// DuplicatePolicy decides what an Add for an already registered tenant does.
type DuplicatePolicy string

const (
	// DuplicateReplace stops the running worker and starts a new one.
	DuplicateReplace DuplicatePolicy = "replace"
	// DuplicateReject keeps the running worker and refuses the Add.
	DuplicateReject DuplicatePolicy = "reject"
)

// Settings is the service configuration of the geyser-sim daemon.
type Settings struct {
	// Master is the control broker.
	Master mqtt.Credentials `yaml:"master"`
	Topics Topics           `yaml:"topics"`
	// TenantList is the JSON file of registered tenants.
	TenantList string `yaml:"tenant_list"`
	// Heartbeat is the interval of each session's liveness Info.
	Heartbeat time.Duration `yaml:"heartbeat"`
	// ConnectTimeout bounds a single broker connect attempt.
	ConnectTimeout time.Duration   `yaml:"connect_timeout"`
	DuplicateAdd   DuplicatePolicy `yaml:"duplicate_add"`
	Timescale      TimescaleConfig `yaml:"timescale"`
	HTTP           HTTPConfig      `yaml:"http"`
	LogLevel       string          `yaml:"log_level"`
}

// Topics lists every topic the service subscribes or publishes to.
type Topics struct {
	MasterSub MasterSubTopics `yaml:"master_sub"`
	MasterPub MasterPubTopics `yaml:"master_pub"`
	TenantSub TenantSubTopics `yaml:"tenant_sub"`
	TenantPub TenantPubTopics `yaml:"tenant_pub"`
}

type MasterSubTopics struct {
	Add string `yaml:"add"`
	Set string `yaml:"set"`
	Get string `yaml:"get"`
	// Delete is optional; empty disables telemetry deletion.
	Delete string `yaml:"delete"`
}

type MasterPubTopics struct {
	Info  string `yaml:"info"`
	Event string `yaml:"event"`
	Data  string `yaml:"data"`
}

type TenantSubTopics struct {
	Set string `yaml:"set"`
	// Data carries simulator telemetry. "-" disables forwarding.
	Data string `yaml:"data"`
}

type TenantPubTopics struct {
	Info string `yaml:"info"`
}

// ForTenant returns the tenant topics with the uid placeholder filled in.
func (t Topics) ForTenant(uid string) (TenantSubTopics, TenantPubTopics) {
	fill := func(s string) string {
		if s == Disabled {
			return ""
		}
		return strings.ReplaceAll(s, UIDPlaceholder, uid)
	}

	return TenantSubTopics{Set: fill(t.TenantSub.Set), Data: fill(t.TenantSub.Data)},
		TenantPubTopics{Info: fill(t.TenantPub.Info)}
}

type TimescaleConfig struct {
	// ConnString is a lib/pq connection string. Empty disables the store.
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

type HTTPConfig struct {
	// Addr of the status and metrics listener. "-" disables it.
	Addr string `yaml:"addr"`
}

// Enabled reports whether the HTTP listener should run.
func (h HTTPConfig) Enabled() bool {
	return h.Addr != Disabled
}

// DefaultTopics are the GeyserMaster/GeyserIn/GeyserOut topic names.
func DefaultTopics() Topics {
	return Topics{
		MasterSub: MasterSubTopics{Add: "GeyserMaster/Add", Set: "GeyserMaster/Set", Get: "GeyserMaster/Get"},
		MasterPub: MasterPubTopics{Info: "GeyserMaster/Info", Event: "GeyserMaster/Event", Data: "GeyserMaster/Data"},
		TenantSub: TenantSubTopics{Set: "GeyserIn/Set", Data: "GeyserOut/Data"},
		TenantPub: TenantPubTopics{Info: "GeyserOut/Info"},
	}
}

// Load reads settings from path, applies defaults and validates them.
func Load(path string) (*Settings, error) {
	if path == "" {
		path = DefaultSettingsFilename
	}

	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: read settings: %v", ErrConfig, err)
	}

	return Parse(raw)
}

// Parse decodes YAML settings, applies defaults and validates them.
func Parse(raw []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: unmarshal settings: %v", ErrConfig, err)
	}

	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

func (s *Settings) applyDefaults() {
	d := DefaultTopics()
	setDefault(&s.Topics.MasterSub.Add, d.MasterSub.Add)
	setDefault(&s.Topics.MasterSub.Set, d.MasterSub.Set)
	setDefault(&s.Topics.MasterSub.Get, d.MasterSub.Get)
	setDefault(&s.Topics.MasterPub.Info, d.MasterPub.Info)
	setDefault(&s.Topics.MasterPub.Event, d.MasterPub.Event)
	setDefault(&s.Topics.MasterPub.Data, d.MasterPub.Data)
	setDefault(&s.Topics.TenantSub.Set, d.TenantSub.Set)
	setDefault(&s.Topics.TenantSub.Data, d.TenantSub.Data)
	setDefault(&s.Topics.TenantPub.Info, d.TenantPub.Info)

	setDefault(&s.TenantList, DefaultTenantList)
	setDefault(&s.Timescale.Table, DefaultTable)
	setDefault(&s.HTTP.Addr, DefaultHTTPAddr)

	if s.Heartbeat == 0 {
		s.Heartbeat = DefaultHeartbeat
	}
	if s.ConnectTimeout == 0 {
		s.ConnectTimeout = DefaultConnectTimeout
	}
	if s.DuplicateAdd == "" {
		s.DuplicateAdd = DuplicateReplace
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// Validate checks required fields and value ranges.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.Master.URL) == "" {
		return fmt.Errorf("%w: master.url is required", ErrConfig)
	}
	if s.Master.Port < 0 || s.Master.Port > 65535 {
		return fmt.Errorf("%w: master.port %d out of range", ErrConfig, s.Master.Port)
	}
	if s.Heartbeat <= 0 {
		return fmt.Errorf("%w: heartbeat must be positive, got %s", ErrConfig, s.Heartbeat)
	}
	if s.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect_timeout must be positive, got %s", ErrConfig, s.ConnectTimeout)
	}

	switch s.DuplicateAdd {
	case DuplicateReplace, DuplicateReject:
	default:
		return fmt.Errorf("%w: duplicate_add must be %q or %q, got %q", ErrConfig, DuplicateReplace, DuplicateReject, s.DuplicateAdd)
	}

	if _, ok := logger.ParseLogLevel(s.LogLevel); !ok {
		return fmt.Errorf("%w: unknown log_level %q", ErrConfig, s.LogLevel)
	}

	if strings.Contains(s.Topics.MasterSub.Add+s.Topics.MasterSub.Set+s.Topics.MasterSub.Get, UIDPlaceholder) {
		return fmt.Errorf("%w: master topics cannot contain %s", ErrConfig, UIDPlaceholder)
	}

	return nil
}
