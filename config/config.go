package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/eddielth/turbine-fleet/fleet"
	"github.com/eddielth/turbine-fleet/generator"
	"github.com/eddielth/turbine-fleet/logger"
	"github.com/eddielth/turbine-fleet/query"
	"github.com/eddielth/turbine-fleet/validator"
)

// EnvPrefix prefixes environment overrides, e.g. TURBINE_STORAGE_DSN
const EnvPrefix = "TURBINE"

// Config is the application configuration
type Config struct {
	Fleet        FleetConfig            `mapstructure:"fleet"`
	Generator    GeneratorConfig        `mapstructure:"generator"`
	Schedule     ScheduleConfig         `mapstructure:"schedule"`
	Query        QueryConfig            `mapstructure:"query"`
	Storage      StorageConfig          `mapstructure:"storage"`
	MQTT         MQTTConfig             `mapstructure:"mqtt"`
	Transformers map[string]Transformer `mapstructure:"transformers" validate:"dive"`
	Logger       LoggerConfig           `mapstructure:"logger"`
	Metrics      MetricsConfig          `mapstructure:"metrics"`
	Tracing      TracingConfig          `mapstructure:"tracing"`
}

// FleetConfig is the provisioning-time fleet definition.
// An empty property list selects the built-in wind turbine model.
type FleetConfig struct {
	Model      string           `mapstructure:"model" validate:"required"`
	Properties []PropertyConfig `mapstructure:"properties" validate:"dive"`
	Assets     []AssetConfig    `mapstructure:"assets" validate:"required,min=1,dive"`
}

// PropertyConfig describes one property of a custom model
type PropertyConfig struct {
	Name       string `mapstructure:"name" validate:"required"`
	ExternalID string `mapstructure:"external_id" validate:"required,excludesall=/"`
	DataType   string `mapstructure:"data_type" validate:"oneof=STRING DOUBLE"`
	Kind       string `mapstructure:"kind" validate:"oneof=Attribute Measurement"`
}

// AssetConfig is one turbine; Attributes override the fleet-wide attribute values
type AssetConfig struct {
	Name       string            `mapstructure:"name" validate:"required,excludesall=/"`
	Attributes map[string]string `mapstructure:"attributes"`
}

// GeneratorConfig holds the value ranges per measurement and the fleet-wide attribute values.
// For the built-in model, missing entries fall back to the reference ranges and attributes.
// A zero seed draws from a time-seeded source.
type GeneratorConfig struct {
	Ranges     map[string]generator.Range `mapstructure:"ranges" validate:"dive"`
	Attributes map[string]string          `mapstructure:"attributes"`
	Seed       uint64                     `mapstructure:"seed"`
}

// ScheduleConfig is the ingestion cadence
type ScheduleConfig struct {
	Interval   time.Duration `mapstructure:"interval" validate:"gt=0"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gte=0"`
	RunOnStart bool          `mapstructure:"run_on_start"`
}

// QueryConfig holds the FilterSpec defaults applied to partial query requests
type QueryConfig struct {
	Defaults query.FilterSpec `mapstructure:"defaults"`
}

// StorageConfig selects the latest-value store
type StorageConfig struct {
	Backend string            `mapstructure:"backend" validate:"oneof=memory postgresql mysql sqlite"`
	DSN     string            `mapstructure:"dsn" validate:"required_unless=Backend memory"`
	File    FileStorageConfig `mapstructure:"file"`
}

// FileStorageConfig mirrors every accepted batch to JSON files
type FileStorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

// MQTTConfig is the MQTT connection configuration
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker" validate:"required_if=Enabled true"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix" validate:"required_if=Enabled true"`
	QoS         byte   `mapstructure:"qos" validate:"lte=2"`
	// PublishValues mirrors every accepted value as a retained message on {topic_prefix}/values{address}
	PublishValues bool `mapstructure:"publish_values"`
}

// Transformer is a script applied to the generated values of one property
type Transformer struct {
	ScriptPath string `mapstructure:"script_path"`
	ScriptCode string `mapstructure:"script_code"`
}

// LoggerConfig is the logging configuration
type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	FilePath string `mapstructure:"file_path"`
	// MaxSize is the file size in MB that triggers rotation
	MaxSize    int  `mapstructure:"max_size" validate:"gte=0"`
	MaxBackups int  `mapstructure:"max_backups" validate:"gte=0"`
	Console    bool `mapstructure:"console"`
}

// MetricsConfig exposes Prometheus metrics and health on Addr
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

// TracingConfig enables span export to stdout
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	PrettyPrint bool   `mapstructure:"pretty_print"`
}

// ConfigChangeCallback is called with the new configuration after the file changed
type ConfigChangeCallback func(cfg *Config) error

func setDefaults(v *viper.Viper) {
	assets := make([]map[string]any, 0, 4)
	for _, name := range fleet.TurbineNames(4) {
		assets = append(assets, map[string]any{"name": name})
	}
	v.SetDefault("fleet.model", fleet.WindTurbineModelName)
	v.SetDefault("fleet.assets", assets)

	v.SetDefault("generator.seed", 0)

	v.SetDefault("schedule.interval", "60s")
	v.SetDefault("schedule.timeout", "30s")
	v.SetDefault("schedule.run_on_start", true)

	defaults := query.DefaultFilterSpec()
	v.SetDefault("query.defaults.make", defaults.Make)
	v.SetDefault("query.defaults.location", defaults.Location)
	v.SetDefault("query.defaults.rpm_threshold", defaults.RPMThreshold)
	v.SetDefault("query.defaults.torque_threshold", defaults.TorqueThreshold)
	v.SetDefault("query.defaults.wind_speed_threshold", defaults.WindSpeedThreshold)
	v.SetDefault("query.defaults.wind_direction_threshold", defaults.WindDirectionThreshold)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.file.enabled", false)
	v.SetDefault("storage.file.path", "data")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "turbine-fleet")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "turbines")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.publish_values", true)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.file_path", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.console", true)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "turbine-fleet")
	v.SetDefault("tracing.pretty_print", false)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads the YAML file at configPath; an empty path uses defaults and environment only
func LoadConfig(configPath string) (*Config, error) {
	v := newViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s failed: %w", configPath, err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config failed: %w", err)
	}
	cfg.fillGeneratorDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) fillGeneratorDefaults() {
	if len(c.Fleet.Properties) > 0 {
		return
	}
	if c.Generator.Ranges == nil {
		c.Generator.Ranges = make(map[string]generator.Range)
	}
	for externalID, r := range generator.DefaultRanges() {
		if _, ok := c.Generator.Ranges[externalID]; !ok {
			c.Generator.Ranges[externalID] = r
		}
	}
	if c.Generator.Attributes == nil {
		c.Generator.Attributes = make(map[string]string)
	}
	for externalID, value := range generator.DefaultAttributes() {
		if _, ok := c.Generator.Attributes[externalID]; !ok {
			c.Generator.Attributes[externalID] = value
		}
	}
}

// Validate checks struct tags and the cross-field rules of the fleet definition
func (c *Config) Validate() error {
	if err := validator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := logger.ParseLogLevel(c.Logger.Level); err != nil {
		return fmt.Errorf("invalid config: logger.level: %w", err)
	}
	if err := c.Query.Defaults.Validate(); err != nil {
		return fmt.Errorf("invalid config: query.defaults: %w", err)
	}
	registry, err := c.Fleet.Registry()
	if err != nil {
		return fmt.Errorf("invalid config: fleet: %w", err)
	}
	if _, err := generator.New(registry, c.Generator.Ranges, c.Generator.Attributes); err != nil {
		return fmt.Errorf("invalid config: generator: %w", err)
	}
	return nil
}

// AssetModel builds the asset model of the fleet
func (f FleetConfig) AssetModel() (*fleet.AssetModel, error) {
	if len(f.Properties) == 0 {
		if f.Model != "" && f.Model != fleet.WindTurbineModelName {
			return nil, fmt.Errorf("model %s needs a property list", f.Model)
		}
		return fleet.WindTurbineModel(), nil
	}

	props := make([]fleet.PropertyDefinition, 0, len(f.Properties))
	for _, p := range f.Properties {
		props = append(props, fleet.PropertyDefinition{
			Name:       p.Name,
			ExternalID: p.ExternalID,
			DataType:   fleet.DataType(p.DataType),
			Kind:       fleet.PropertyKind(p.Kind),
		})
	}
	return fleet.NewAssetModel(f.Model, props...)
}

// Registry provisions the configured fleet
func (f FleetConfig) Registry() (*fleet.Registry, error) {
	model, err := f.AssetModel()
	if err != nil {
		return nil, err
	}
	specs := make([]fleet.AssetSpec, 0, len(f.Assets))
	for _, a := range f.Assets {
		specs = append(specs, fleet.AssetSpec{Name: a.Name, Attributes: a.Attributes})
	}
	return fleet.NewRegistry(model, specs...)
}

// debounceInterval is the quiet period after the last write before the file is reloaded
var debounceInterval = 2 * time.Second

// WatchConfig reloads the file once writes have settled and calls callback with the new configuration.
// A file that fails to parse or validate is logged and the previous configuration stays in effect.
func WatchConfig(configPath string, callback ConfigChangeCallback) error {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}

	v := newViper()
	v.SetConfigFile(absPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s failed: %w", absPath, err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		newConfig, err := LoadConfig(absPath)
		if err != nil {
			logger.Error("parse updated config failed: %v", err)
			return
		}

		if err := callback(newConfig); err != nil {
			logger.Error("apply updated config failed: %v", err)
			return
		}

		logger.Info("config updated and applied")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		logger.Debug("config file changed: %s", e.Name)

		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceInterval, reload)
	})
	v.WatchConfig()

	logger.Info("watching config file %s", absPath)
	return nil
}
