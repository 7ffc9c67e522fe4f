// Package config provides Viper-based configuration loading for the world server.
//
// All tunables are resolved once at startup; no code path reads the
// environment mid-tick. Environment overrides use the PW_ prefix with dots
// replaced by underscores, so the viper key "train.soft_leash" is
// overridable via PW_TRAIN_SOFT_LEASH.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// ShardID is the shard token used in world room ids ("<shard>:<x>,<y>").
	ShardID string `mapstructure:"shard_id"`
	// Name is the server display name sent in the welcome payload.
	Name string `mapstructure:"name"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// GatewayConfig holds the websocket gateway listener settings.
type GatewayConfig struct {
	// Host is the bind address for the websocket listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the websocket listener.
	Port int `mapstructure:"port"`
	// IdleTimeout is the duration of client inactivity before the session is reaped.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// SendBuffer is the per-session outbound message buffer size.
	SendBuffer int `mapstructure:"send_buffer"`
}

// Addr returns the "host:port" listen address.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// TickConfig holds the simulation tick driver settings.
type TickConfig struct {
	// IntervalMs is the fixed tick interval in milliseconds.
	IntervalMs int `mapstructure:"interval_ms"`
}

// Interval returns the tick interval as a duration.
func (t TickConfig) Interval() time.Duration {
	return time.Duration(t.IntervalMs) * time.Millisecond
}

// CorpseConfig holds corpse despawn delays per NPC category.
type CorpseConfig struct {
	NpcMs      int `mapstructure:"npc_ms"`
	BeastMs    int `mapstructure:"beast_ms"`
	ResourceMs int `mapstructure:"resource_ms"`
}

// RespawnConfig holds NPC respawn scheduling.
type RespawnConfig struct {
	// AfterCorpseMs is the delay from death to respawn; suppressed for resources.
	AfterCorpseMs int `mapstructure:"after_corpse_ms"`
}

// ReturnMode selects how a disengaging NPC returns to its spawn home.
type ReturnMode string

const (
	// ReturnSnap teleports the NPC back to its spawn coordinates.
	ReturnSnap ReturnMode = "snap"
	// ReturnDrift walks the NPC home one step per tick.
	ReturnDrift ReturnMode = "drift"
)

// TrainConfig holds NPC pursuit ("train") tuning.
type TrainConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	Step              float64 `mapstructure:"step"`
	SoftLeash         float64 `mapstructure:"soft_leash"`
	HardLeash         float64 `mapstructure:"hard_leash"`
	PursueTimeoutMs   int     `mapstructure:"pursue_timeout_ms"`
	RoomsEnabled      bool    `mapstructure:"rooms_enabled"`
	MaxRoomsFromSpawn int     `mapstructure:"max_rooms_from_spawn"`
	AssistEnabled     bool    `mapstructure:"assist_enabled"`
	AssistSnapAllies  bool    `mapstructure:"assist_snap_allies"`
	// AssistSnapMaxAllies caps allies snapped into the pursuit room per call.
	AssistSnapMaxAllies int `mapstructure:"assist_snap_max_allies"`
	// AssistRange bounds cross-room assist as a room-grid Chebyshev distance.
	AssistRange int        `mapstructure:"assist_range"`
	ReturnMode  ReturnMode `mapstructure:"return_mode"`
}

// PursueTimeout returns the pursuit timeout as a duration.
func (t TrainConfig) PursueTimeout() time.Duration {
	return time.Duration(t.PursueTimeoutMs) * time.Millisecond
}

// ClampShort returns a copy of t clamped to the "short" regional pursuit
// profile: tight leashes, quick disengage, no pack assist.
func (t TrainConfig) ClampShort() TrainConfig {
	out := t
	if out.SoftLeash > 12 {
		out.SoftLeash = 12
	}
	if out.HardLeash > 20 {
		out.HardLeash = 20
	}
	if out.PursueTimeoutMs > 6000 {
		out.PursueTimeoutMs = 6000
	}
	if out.MaxRoomsFromSpawn > 1 {
		out.MaxRoomsFromSpawn = 1
	}
	out.AssistEnabled = false
	out.AssistSnapAllies = false
	return out
}

// AssistConfig holds pack-assist threat sharing and throttles.
type AssistConfig struct {
	ThreatSharePct       float64 `mapstructure:"threat_share_pct"`
	ThreatShareMin       float64 `mapstructure:"threat_share_min"`
	ThreatShareMax       float64 `mapstructure:"threat_share_max"`
	MinThreatDeltaToBump float64 `mapstructure:"min_threat_delta_to_bump"`
	// CallCooldownMs throttles one caller's assist calls per offender. 0 = off.
	CallCooldownMs int `mapstructure:"call_cooldown_ms"`
	// OffenderWindowMs throttles assist per (group, offender) across callers. 0 = off.
	OffenderWindowMs int `mapstructure:"offender_window_ms"`
	// MaxAlliesPerCall caps allies notified per call. 0 = unlimited.
	MaxAlliesPerCall int `mapstructure:"max_allies_per_call"`
	// MarkTtlMs is how long an (ally, offender) assist mark suppresses re-marking.
	MarkTtlMs int `mapstructure:"mark_ttl_ms"`
}

// TauntConfig holds forced-target tuning.
type TauntConfig struct {
	// ImmunityMs rejects a new forced target from a different taunter within
	// this window of the previous taunt. 0 = off.
	ImmunityMs int `mapstructure:"immunity_ms"`
}

// ThreatConfig holds threat accounting tuning.
type ThreatConfig struct {
	// HealMult converts healing done into threat on engaged NPCs.
	HealMult float64 `mapstructure:"heal_mult"`
}

// TownConfig holds sanctuary pressure and siege alarm tuning.
type TownConfig struct {
	SanctuaryPressureWindowMs   int `mapstructure:"sanctuary_pressure_window_ms"`
	SanctuaryPressureThreshold  int `mapstructure:"sanctuary_pressure_threshold"`
	SanctuaryPressureCooldownMs int `mapstructure:"sanctuary_pressure_cooldown_ms"`
	SiegeAlarmRangeTiles        int `mapstructure:"siege_alarm_range_tiles"`
	SiegeAlarmCooldownMs        int `mapstructure:"siege_alarm_cooldown_ms"`
	// BreachMs is how long an opened breach admits hostiles.
	BreachMs int `mapstructure:"breach_ms"`
}

// HotConfig holds heal-over-time output flags.
type HotConfig struct {
	// TickMessages emits a combat line for each HOT tick when true.
	TickMessages bool `mapstructure:"tick_messages"`
}

// DotConfig holds damage-over-time output flags.
type DotConfig struct {
	// CombatLog emits a combat line for each DOT tick when true.
	CombatLog bool `mapstructure:"combat_log"`
}

// DebugConfig holds development-time verbosity switches.
type DebugConfig struct {
	// Entity logs every entity create/move/remove at debug level.
	Entity bool `mapstructure:"entity"`
}

// ContentConfig holds content catalog directories.
type ContentConfig struct {
	// NpcDir is the directory of NPC prototype YAML files.
	NpcDir string `mapstructure:"npc_dir"`
	// SpawnDir is the directory of spawn point YAML files.
	SpawnDir string `mapstructure:"spawn_dir"`
	// BrainScriptDir is the directory of Lua brain scripts; empty disables them.
	BrainScriptDir string `mapstructure:"brain_script_dir"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tick     TickConfig     `mapstructure:"tick"`
	Corpse   CorpseConfig   `mapstructure:"corpse"`
	Respawn  RespawnConfig  `mapstructure:"respawn"`
	Train    TrainConfig    `mapstructure:"train"`
	Assist   AssistConfig   `mapstructure:"assist"`
	Taunt    TauntConfig    `mapstructure:"taunt"`
	Threat   ThreatConfig   `mapstructure:"threat"`
	Town     TownConfig     `mapstructure:"town"`
	Hot      HotConfig      `mapstructure:"hot"`
	Dot      DotConfig      `mapstructure:"dot"`
	Debug    DebugConfig    `mapstructure:"debug"`
	Content  ContentConfig  `mapstructure:"content"`
	// TestMode collapses corpse/respawn delays for fast tests (WORLDCORE_TEST).
	TestMode bool `mapstructure:"test_mode"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if c.Server.ShardID == "" {
		errs = append(errs, "server.shard_id must not be empty")
	}
	if strings.Contains(c.Server.ShardID, ":") {
		errs = append(errs, "server.shard_id must not contain ':'")
	}
	if err := validateDatabase(c.Database); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Sprintf("gateway.port must be 1-65535, got %d", c.Gateway.Port))
	}
	if c.Tick.IntervalMs < 1 {
		errs = append(errs, fmt.Sprintf("tick.interval_ms must be >= 1, got %d", c.Tick.IntervalMs))
	}
	if err := validateTrain(c.Train); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateAssist(c.Assist); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Threat.HealMult < 0 {
		errs = append(errs, fmt.Sprintf("threat.heal_mult must be >= 0, got %f", c.Threat.HealMult))
	}
	if c.Corpse.NpcMs < 0 || c.Corpse.BeastMs < 0 || c.Corpse.ResourceMs < 0 {
		errs = append(errs, "corpse delays must not be negative")
	}
	if c.Respawn.AfterCorpseMs < 0 {
		errs = append(errs, "respawn.after_corpse_ms must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 || d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must be in [0, max_conns]")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateTrain(t TrainConfig) error {
	var errs []string
	if t.Step <= 0 {
		errs = append(errs, fmt.Sprintf("train.step must be > 0, got %f", t.Step))
	}
	if t.SoftLeash < 0 || t.HardLeash < t.SoftLeash {
		errs = append(errs, "train leashes must satisfy 0 <= soft_leash <= hard_leash")
	}
	if t.ReturnMode != ReturnSnap && t.ReturnMode != ReturnDrift {
		errs = append(errs, fmt.Sprintf("train.return_mode must be snap or drift, got %q", t.ReturnMode))
	}
	if t.MaxRoomsFromSpawn < 0 {
		errs = append(errs, "train.max_rooms_from_spawn must be >= 0")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateAssist(a AssistConfig) error {
	var errs []string
	if a.ThreatSharePct < 0 || a.ThreatSharePct > 1 {
		errs = append(errs, fmt.Sprintf("assist.threat_share_pct must be in [0, 1], got %f", a.ThreatSharePct))
	}
	if a.ThreatShareMin < 0 || a.ThreatShareMax < a.ThreatShareMin {
		errs = append(errs, "assist threat share must satisfy 0 <= min <= max")
	}
	if a.MaxAlliesPerCall < 0 {
		errs = append(errs, "assist.max_allies_per_call must be >= 0")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path (a missing file falls
// back to defaults), applies PW_-prefixed environment variable overrides,
// and validates the result.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetEnvPrefix("PW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// WORLDCORE_TEST sits outside the PW_ namespace for historical reasons.
	_ = v.BindEnv("test_mode", "WORLDCORE_TEST")

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(path); statErr == nil {
				return Config{}, fmt.Errorf("reading config file: %w", err)
			}
			// Absent file: env + defaults only.
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if cfg.Town.SanctuaryPressureCooldownMs == 0 {
		cfg.Town.SanctuaryPressureCooldownMs = cfg.Town.SanctuaryPressureWindowMs
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ErrNoConfig is returned by helpers that require an explicit config file.
var ErrNoConfig = errors.New("no configuration file provided")

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.shard_id", "prime_shard")
	v.SetDefault("server.name", "worldcore")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "worldcore")
	v.SetDefault("database.password", "worldcore")
	v.SetDefault("database.name", "worldcore")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 4200)
	v.SetDefault("gateway.idle_timeout", "5m")
	v.SetDefault("gateway.send_buffer", 64)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("tick.interval_ms", 50)

	v.SetDefault("corpse.npc_ms", 15000)
	v.SetDefault("corpse.beast_ms", 20000)
	v.SetDefault("corpse.resource_ms", 2500)
	v.SetDefault("respawn.after_corpse_ms", 8000)

	v.SetDefault("train.enabled", false)
	v.SetDefault("train.step", 1.5)
	v.SetDefault("train.soft_leash", 25.0)
	v.SetDefault("train.hard_leash", 40.0)
	v.SetDefault("train.pursue_timeout_ms", 20000)
	v.SetDefault("train.rooms_enabled", false)
	v.SetDefault("train.max_rooms_from_spawn", 6)
	v.SetDefault("train.assist_enabled", false)
	v.SetDefault("train.assist_snap_allies", false)
	v.SetDefault("train.assist_snap_max_allies", 6)
	v.SetDefault("train.assist_range", 10)
	v.SetDefault("train.return_mode", "snap")

	v.SetDefault("assist.threat_share_pct", 0.5)
	v.SetDefault("assist.threat_share_min", 1.0)
	v.SetDefault("assist.threat_share_max", 50.0)
	v.SetDefault("assist.min_threat_delta_to_bump", 0.0)
	v.SetDefault("assist.call_cooldown_ms", 0)
	v.SetDefault("assist.offender_window_ms", 0)
	v.SetDefault("assist.max_allies_per_call", 0)
	v.SetDefault("assist.mark_ttl_ms", 0)

	v.SetDefault("taunt.immunity_ms", 0)
	v.SetDefault("threat.heal_mult", 0.5)

	v.SetDefault("town.sanctuary_pressure_window_ms", 15000)
	v.SetDefault("town.sanctuary_pressure_threshold", 12)
	v.SetDefault("town.sanctuary_pressure_cooldown_ms", 0)
	v.SetDefault("town.siege_alarm_range_tiles", 0)
	v.SetDefault("town.siege_alarm_cooldown_ms", 15000)
	v.SetDefault("town.breach_ms", 30000)

	v.SetDefault("hot.tick_messages", false)
	v.SetDefault("dot.combat_log", false)
	v.SetDefault("debug.entity", false)

	v.SetDefault("content.npc_dir", "content/npcs")
	v.SetDefault("content.spawn_dir", "content/spawns")
	v.SetDefault("content.brain_script_dir", "")

	v.SetDefault("test_mode", false)
}
