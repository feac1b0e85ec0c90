package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/chargeslot/api"
	"github.com/kilianp07/chargeslot/core/admission"
	"github.com/kilianp07/chargeslot/core/directory"
	"github.com/kilianp07/chargeslot/core/metrics"
	"github.com/kilianp07/chargeslot/core/store"
	"github.com/kilianp07/chargeslot/infra/monitoring"
	"github.com/kilianp07/chargeslot/infra/mqtt"
)

type Config struct {
	Admission admission.Config        `json:"admission"`
	Store     store.Config            `json:"store"`
	Directory directory.Config        `json:"directory"`
	MQTT      mqtt.Config             `json:"mqtt"`
	Metrics   metrics.Config          `json:"metrics"`
	API       api.Config              `json:"api"`
	Logging   LoggingConfig           `json:"logging"`
	Sentry    monitoring.SentryConfig `json:"sentry"`
}

// Load reads a YAML or JSON file and applies K_ prefixed environment
// overrides, where "__" separates nested keys (K_STORE__BACKEND__TYPE=sqlite).
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section that has defaults. Admission timings are
// left untouched so that missing values fail validation.
func (c *Config) SetDefaults() {
	c.Admission.SetDefaults()
	c.Store.SetDefaults()
	c.MQTT.SetDefaults()
	c.API.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks each section.
func (c Config) Validate() error {
	if err := c.Admission.Validate(); err != nil {
		return err
	}
	if err := c.Directory.Validate(); err != nil {
		return err
	}
	if err := c.MQTT.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}
