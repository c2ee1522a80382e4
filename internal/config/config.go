package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	NATS        NATSConfig        `yaml:"nats"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Plugins     PluginsConfig     `yaml:"plugins"`
	Weather     WeatherConfig     `yaml:"weather"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminToken  string `yaml:"admin_token"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL        string `yaml:"url"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type ScoringConfig struct {
	DefaultAlpha          float64         `yaml:"default_alpha"`
	BinWidthMinutes       int             `yaml:"bin_width_minutes"`
	LookbackHours         int             `yaml:"lookback_hours"`
	Tau                   float64         `yaml:"tau"`
	BootstrapRate         float64         `yaml:"bootstrap_rate"`
	IncidentSeverityScale float64         `yaml:"incident_severity_scale"`
	Severity              SeverityWeights `yaml:"severity_weights"`
	Uplift                UpliftConfig    `yaml:"uplift"`
	RTSI                  RTSIConfig      `yaml:"rtsi"`
}

type SeverityWeights struct {
	Fatal  float64 `yaml:"fatal"`
	Injury float64 `yaml:"injury"`
	PDO    float64 `yaml:"pdo"`
}

type UpliftConfig struct {
	K1              float64 `yaml:"k1"`
	K2              float64 `yaml:"k2"`
	K3              float64 `yaml:"k3"`
	Beta1           float64 `yaml:"beta1"`
	Beta2           float64 `yaml:"beta2"`
	Beta3           float64 `yaml:"beta3"`
	TurningFraction float64 `yaml:"turning_fraction"`
	ConflictScale   float64 `yaml:"conflict_scale"`
}

type RTSIConfig struct {
	K4           float64 `yaml:"k4"`
	K5           float64 `yaml:"k5"`
	Gamma        float64 `yaml:"gamma"`
	RoadCapacity float64 `yaml:"road_capacity"`
	OmegaVRU     float64 `yaml:"omega_vru"`
	OmegaVehicle float64 `yaml:"omega_vehicle"`
}

type CalibrationConfig struct {
	IntervalHours  int     `yaml:"interval_hours"`
	HistoryYears   int     `yaml:"history_years"`
	RiskWindowDays int     `yaml:"risk_window_days"`
	Stratify       bool    `yaml:"stratify"`
	FallbackK      float64 `yaml:"fallback_k"`
}

type PluginsConfig struct {
	MaxWorkers int          `yaml:"max_workers"`
	Telemetry  PluginConfig `yaml:"telemetry"`
	Incidents  PluginConfig `yaml:"incidents"`
	Weather    PluginConfig `yaml:"weather"`
}

type PluginConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Weight    float64 `yaml:"weight"`
	TimeoutMs int     `yaml:"timeout_ms"`
}

func (p PluginConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

type WeatherConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) BinWidth() time.Duration {
	return time.Duration(c.Scoring.BinWidthMinutes) * time.Minute
}

func (c *Config) Lookback() time.Duration {
	return time.Duration(c.Scoring.LookbackHours) * time.Hour
}

func (c *Config) CalibrationInterval() time.Duration {
	return time.Duration(c.Calibration.IntervalHours) * time.Hour
}

func (c *Config) HistoryWindow() time.Duration {
	return time.Duration(c.Calibration.HistoryYears) * 365 * 24 * time.Hour
}

func (c *Config) RiskWindow() time.Duration {
	return time.Duration(c.Calibration.RiskWindowDays) * 24 * time.Hour
}

func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8700,
			MetricsPort: 8701,
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Redis: RedisConfig{
			TTLSeconds: 900,
		},
		Scoring: ScoringConfig{
			DefaultAlpha:          0.5,
			BinWidthMinutes:       60,
			LookbackHours:         24,
			Tau:                   0.02,
			BootstrapRate:         0.5,
			IncidentSeverityScale: 100,
			Severity: SeverityWeights{
				Fatal:  100,
				Injury: 10,
				PDO:    1,
			},
			Uplift: UpliftConfig{
				K1:              1.0,
				K2:              0.5,
				K3:              1.0,
				Beta1:           0.5,
				Beta2:           0.3,
				Beta3:           0.4,
				TurningFraction: 0.15,
				ConflictScale:   500,
			},
			RTSI: RTSIConfig{
				K4:           2.0,
				K5:           1.0,
				Gamma:        1.0,
				RoadCapacity: 600,
				OmegaVRU:     0.6,
				OmegaVehicle: 0.4,
			},
		},
		Calibration: CalibrationConfig{
			IntervalHours:  24,
			HistoryYears:   3,
			RiskWindowDays: 7,
			FallbackK:      10,
		},
		Plugins: PluginsConfig{
			MaxWorkers: 5,
			Telemetry:  PluginConfig{Enabled: true, Weight: 0.5, TimeoutMs: 5000},
			Incidents:  PluginConfig{Enabled: true, Weight: 0.3, TimeoutMs: 5000},
			Weather:    PluginConfig{Enabled: false, Weight: 0.2, TimeoutMs: 10000},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the documented coefficient ranges at load time.
// Violations fail startup; values are never clamped at use time.
func (c *Config) Validate() error {
	s := c.Scoring
	if s.DefaultAlpha < 0 || s.DefaultAlpha > 1 {
		return fmt.Errorf("scoring.default_alpha %f outside [0,1]", s.DefaultAlpha)
	}
	if s.BinWidthMinutes <= 0 {
		return fmt.Errorf("scoring.bin_width_minutes must be positive")
	}
	if s.LookbackHours <= 0 {
		return fmt.Errorf("scoring.lookback_hours must be positive")
	}
	if s.Tau < 0 {
		return fmt.Errorf("scoring.tau must be non-negative")
	}
	if s.BootstrapRate < 0 {
		return fmt.Errorf("scoring.bootstrap_rate must be non-negative")
	}
	if s.Severity.Fatal <= 0 || s.Severity.Injury <= 0 || s.Severity.PDO <= 0 {
		return fmt.Errorf("severity weights must be positive")
	}

	u := s.Uplift
	for name, v := range map[string]float64{
		"k1": u.K1, "k2": u.K2, "k3": u.K3,
	} {
		if v <= 0 {
			return fmt.Errorf("uplift.%s must be positive", name)
		}
	}
	for name, v := range map[string]float64{
		"beta1": u.Beta1, "beta2": u.Beta2, "beta3": u.Beta3,
	} {
		if v < 0 {
			return fmt.Errorf("uplift.%s must be non-negative", name)
		}
	}
	if u.TurningFraction < 0 || u.TurningFraction > 1 {
		return fmt.Errorf("uplift.turning_fraction %f outside [0,1]", u.TurningFraction)
	}
	if u.ConflictScale <= 0 {
		return fmt.Errorf("uplift.conflict_scale must be positive")
	}

	r := s.RTSI
	if r.K4 <= 0 || r.K5 <= 0 || r.Gamma <= 0 || r.RoadCapacity <= 0 {
		return fmt.Errorf("rtsi coefficients must be positive")
	}
	if r.OmegaVRU < 0 || r.OmegaVehicle < 0 {
		return fmt.Errorf("rtsi omega weights must be non-negative")
	}
	if math.Abs(r.OmegaVRU+r.OmegaVehicle-1.0) > 1e-3 {
		return fmt.Errorf("rtsi omega weights sum to %f, expected 1.0",
			r.OmegaVRU+r.OmegaVehicle)
	}

	if c.Calibration.FallbackK <= 0 {
		return fmt.Errorf("calibration.fallback_k must be positive")
	}

	for name, p := range map[string]PluginConfig{
		"telemetry": c.Plugins.Telemetry,
		"incidents": c.Plugins.Incidents,
		"weather":   c.Plugins.Weather,
	} {
		if p.Weight < 0 || p.Weight > 1 {
			return fmt.Errorf("plugins.%s.weight %f outside [0,1]", name, p.Weight)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SAFETYINDEX_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("SAFETYINDEX_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("SAFETYINDEX_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("SAFETYINDEX_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("SAFETYINDEX_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("SAFETYINDEX_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SAFETYINDEX_DEFAULT_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Scoring.DefaultAlpha = f
		}
	}
	if v := os.Getenv("SAFETYINDEX_WEATHER_URL"); v != "" {
		cfg.Weather.URL = v
	}
	if v := os.Getenv("SAFETYINDEX_WEATHER_API_KEY"); v != "" {
		cfg.Weather.APIKey = v
	}
	if v := os.Getenv("SAFETYINDEX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
