// services/config/config.go
package config

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"accessorycard-go/bus"
	"accessorycard-go/errcode"
	"accessorycard-go/x/strx"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const (
	serviceName  = "config"
	configPrefix = "config"
	envPrefix    = "ENFD"

	// DefaultBoard selects the embedded config when neither a file nor a
	// board is given.
	DefaultBoard = "host"
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(board string) ([]byte, bool) {
	b, ok := embeddedConfigs[board]
	return b, ok
}

// EEPROM locates one slot's identity EEPROM: either a file (sysfs eeprom
// attribute) or a device on an i2c-dev bus.
type EEPROM struct {
	Path   string `mapstructure:"path" yaml:"path,omitempty"`
	I2CBus string `mapstructure:"i2c_bus" yaml:"i2c_bus,omitempty"`
	Addr   uint16 `mapstructure:"addr" yaml:"addr,omitempty"`
}

type Slot struct {
	EEPROM EEPROM `mapstructure:"eeprom" yaml:"eeprom"`
}

type Config struct {
	Board       string `mapstructure:"board" yaml:"board"`
	Platform    string `mapstructure:"platform" yaml:"platform"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	BusQueueLen int    `mapstructure:"bus_queue_len" yaml:"bus_queue_len"`
	ProductID   string `mapstructure:"product_id" yaml:"product_id"`
	BaseAlias   string `mapstructure:"base_alias" yaml:"base_alias"`
	RootNode    string `mapstructure:"root_node" yaml:"root_node"`
	RequireCard bool   `mapstructure:"require_card" yaml:"require_card"`
	Slots       []Slot `mapstructure:"slots" yaml:"slots"`

	settings map[string]any
}

// Default returns the built-in settings every loaded config starts from.
func Default() Config {
	return Config{
		Board:       DefaultBoard,
		Platform:    "host",
		LogLevel:    "info",
		BusQueueLen: 16,
		ProductID:   "XAP-EA-004",
		BaseAlias:   "enf",
		RootNode:    "mts-io",
		RequireCard: true,
	}
}

// LoadOptions selects where configuration comes from. A File wins over the
// embedded config for Board.
type LoadOptions struct {
	Fs    afero.Fs // nil means the OS filesystem
	File  string
	Board string
}

// Load resolves defaults, then the config file or embedded board config, then
// ENFD_* environment overrides.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	if opts.Fs != nil {
		v.SetFs(opts.Fs)
	}

	d := Default()
	v.SetDefault("board", d.Board)
	v.SetDefault("platform", d.Platform)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("bus_queue_len", d.BusQueueLen)
	v.SetDefault("product_id", d.ProductID)
	v.SetDefault("base_alias", d.BaseAlias)
	v.SetDefault("root_node", d.RootNode)
	v.SetDefault("require_card", d.RequireCard)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case opts.File != "":
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, errcode.Wrap(errcode.InvalidParams, "read config "+opts.File, err)
		}
	default:
		board := opts.Board
		if board == "" {
			board = v.GetString("board")
		}
		raw, ok := EmbeddedConfigLookup(board)
		if !ok {
			return nil, &errcode.E{C: errcode.InvalidParams, Op: "load config", Msg: "no embedded config for board " + board}
		}
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
			return nil, errcode.Wrap(errcode.InvalidPayload, "parse embedded config "+board, err)
		}
		v.Set("board", board)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errcode.Wrap(errcode.InvalidPayload, "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.settings = v.AllSettings()
	return &cfg, nil
}

// Validate checks the fields the daemon cannot run without.
func (c *Config) Validate() error {
	bad := func(msg string) error {
		return &errcode.E{C: errcode.InvalidParams, Op: "validate config", Msg: msg}
	}
	if c.ProductID == "" {
		return bad("product_id is empty")
	}
	if !strx.IsPathElem(c.BaseAlias) {
		return bad(fmt.Sprintf("base_alias %q is not a valid name", c.BaseAlias))
	}
	if !strx.IsPathElem(c.RootNode) {
		return bad(fmt.Sprintf("root_node %q is not a valid name", c.RootNode))
	}
	if len(c.Slots) == 0 {
		return bad("no slots configured")
	}
	for i, s := range c.Slots {
		e := s.EEPROM
		if (e.Path == "") == (e.I2CBus == "") {
			return bad(fmt.Sprintf("slot %d: exactly one of eeprom.path and eeprom.i2c_bus is required", i+1))
		}
		if e.I2CBus != "" && (e.Addr == 0 || e.Addr > 0x7f) {
			return bad(fmt.Sprintf("slot %d: eeprom.addr 0x%x is not a 7-bit address", i+1, e.Addr))
		}
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return bad(err.Error())
	}
	return nil
}

// Level returns the parsed log level; Validate has already checked it.
func (c *Config) Level() log.Level {
	l, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return l
}

// Settings returns the effective settings as loaded, keyed by top-level name.
func (c *Config) Settings() map[string]any { return c.settings }

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
	cfg  *Config
}

func NewConfigService(cfg *Config) *ConfigService {
	return &ConfigService{Name: serviceName, cfg: cfg}
}

// publishConfig publishes each top-level setting retained on config/<key>.
func (s *ConfigService) publishConfig(conn *bus.Connection) error {
	m := s.cfg.Settings()
	if len(m) == 0 {
		return &errcode.E{C: errcode.NotReady, Op: "publish config", Msg: "config was not loaded"}
	}
	for k, v := range m {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
	}
	return nil
}

// Start publishes the config and returns; retained messages serve late
// subscribers.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.publishConfig(conn)
}
