// Package config 提供定价引擎统一的配置加载、校验与热更新能力.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/wyfcoding/optionlattice/logging"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 全局顶级配置结构.
type Config struct {
	Version    string           `mapstructure:"version"    toml:"version"`
	Log        LogConfig        `mapstructure:"log"        toml:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"    toml:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing"    toml:"tracing"`
	Cache      CacheConfig      `mapstructure:"cache"      toml:"cache"`
	Lattice    LatticeConfig    `mapstructure:"lattice"    toml:"lattice"`
	MonteCarlo MonteCarloConfig `mapstructure:"montecarlo" toml:"montecarlo"`
}

// LogConfig 日志配置.
type LogConfig struct {
	Level      string `mapstructure:"level"       toml:"level"       validate:"oneof=debug info warn error"` // 日志级别。
	File       string `mapstructure:"file"        toml:"file"`                                             // 日志文件路径，为空输出到 stdout。
	MaxSize    int    `mapstructure:"max_size"    toml:"max_size"    validate:"gte=0"`                      // 单个文件最大大小 (MB)。
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups" validate:"gte=0"`                      // 最大备份数。
	MaxAge     int    `mapstructure:"max_age"     toml:"max_age"     validate:"gte=0"`                      // 最大保留天数。
	Compress   bool   `mapstructure:"compress"    toml:"compress"`                                         // 是否启用压缩。
}

// MetricsConfig 普罗米修斯监控指标暴露配置.
type MetricsConfig struct {
	Port    string `mapstructure:"port"    toml:"port"    validate:"required_if=Enabled true"`
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
}

// TracingConfig 链路追踪配置.
type TracingConfig struct {
	ServiceName  string  `mapstructure:"service_name"  toml:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" toml:"otlp_endpoint" validate:"required_if=Enabled true"`
	SamplerRatio float64 `mapstructure:"sampler_ratio" toml:"sampler_ratio" validate:"gte=0,lte=1"`
	Enabled      bool    `mapstructure:"enabled"       toml:"enabled"`
}

// CacheConfig 报价缓存配置.
type CacheConfig struct {
	TTL     time.Duration `mapstructure:"ttl"     toml:"ttl"     validate:"gte=0"`
	MaxMB   int           `mapstructure:"max_mb"  toml:"max_mb"  validate:"gte=0"`
	Enabled bool          `mapstructure:"enabled" toml:"enabled"`
}

// LatticeConfig 二叉树引擎配置.
type LatticeConfig struct {
	Model          string `mapstructure:"model"           toml:"model"           validate:"oneof=crr gbm"`
	Exercise       string `mapstructure:"exercise"        toml:"exercise"        validate:"oneof=European American"`
	Resolutions    int    `mapstructure:"resolutions"     toml:"resolutions"     validate:"min=1,ltefield=MaxResolutions"` // 请求未指定 num_sim 时的默认值。
	MaxResolutions int    `mapstructure:"max_resolutions" toml:"max_resolutions" validate:"min=1,max=16"`
	Workers        int    `mapstructure:"workers"         toml:"workers"         validate:"gte=0"`
}

// MonteCarloConfig 蒙特卡洛模拟配置.
type MonteCarloConfig struct {
	Scheme       string `mapstructure:"scheme"        toml:"scheme"        validate:"oneof=euler exact"`
	Steps        int    `mapstructure:"steps"         toml:"steps"         validate:"min=1"`
	PathExponent int    `mapstructure:"path_exponent" toml:"path_exponent" validate:"min=1,max=24"`
	Seed         uint64 `mapstructure:"seed"          toml:"seed"`
	Workers      int    `mapstructure:"workers"       toml:"workers"       validate:"gte=0"`
	BatchSize    int    `mapstructure:"batch_size"    toml:"batch_size"    validate:"gte=0"`
}

// Default 返回一份可直接使用的默认配置.
func Default() *Config {
	return &Config{
		Version: "dev",
		Log:     LogConfig{Level: "info", MaxSize: 100, MaxBackups: 3, MaxAge: 7},
		Tracing: TracingConfig{ServiceName: "optionlattice", SamplerRatio: 1},
		Cache:   CacheConfig{TTL: 10 * time.Minute, MaxMB: 64},
		Lattice: LatticeConfig{
			Model:          "crr",
			Exercise:       "European",
			Resolutions:    10,
			MaxResolutions: 14,
			Workers:        1,
		},
		MonteCarlo: MonteCarloConfig{
			Scheme:       "euler",
			Steps:        100,
			PathExponent: 16,
			BatchSize:    4096,
		},
	}
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("version", def.Version)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.max_size", def.Log.MaxSize)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age", def.Log.MaxAge)
	v.SetDefault("tracing.service_name", def.Tracing.ServiceName)
	v.SetDefault("tracing.sampler_ratio", def.Tracing.SamplerRatio)
	v.SetDefault("cache.ttl", def.Cache.TTL)
	v.SetDefault("cache.max_mb", def.Cache.MaxMB)
	v.SetDefault("lattice.model", def.Lattice.Model)
	v.SetDefault("lattice.exercise", def.Lattice.Exercise)
	v.SetDefault("lattice.resolutions", def.Lattice.Resolutions)
	v.SetDefault("lattice.max_resolutions", def.Lattice.MaxResolutions)
	v.SetDefault("lattice.workers", def.Lattice.Workers)
	v.SetDefault("montecarlo.scheme", def.MonteCarlo.Scheme)
	v.SetDefault("montecarlo.steps", def.MonteCarlo.Steps)
	v.SetDefault("montecarlo.path_exponent", def.MonteCarlo.PathExponent)
	v.SetDefault("montecarlo.batch_size", def.MonteCarlo.BatchSize)
}

var (
	mu       sync.Mutex
	nextHook int
	onReload = map[int]func(*Config){}
)

// RegisterReloadHook 注册配置热更新回调，返回的函数用于注销，可重复调用。
func RegisterReloadHook(hook func(*Config)) (unregister func()) {
	if hook == nil {
		return func() {}
	}
	mu.Lock()
	defer mu.Unlock()
	id := nextHook
	nextHook++
	onReload[id] = hook
	return func() {
		mu.Lock()
		defer mu.Unlock()
		delete(onReload, id)
	}
}

// reloadHooks 按注册顺序返回当前回调的快照。
func reloadHooks() []func(*Config) {
	mu.Lock()
	defer mu.Unlock()
	ids := make([]int, 0, len(onReload))
	for id := range onReload {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	hooks := make([]func(*Config), len(ids))
	for i, id := range ids {
		hooks[i] = onReload[id]
	}
	return hooks
}

// Validate 对配置执行结构体标签校验.
func Validate(conf *Config) error {
	if err := validator.New().Struct(conf); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Load 读取 TOML 配置，叠加 APP_ 前缀的环境变量，校验后开启文件监听.
// 文件变更时重新解析、同步日志级别并依次调用热更新回调；校验失败的变更被丢弃.
func Load(path string, conf *Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	setDefaults(v)

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config error: %w", err)
	}

	if err := v.Unmarshal(conf); err != nil {
		return fmt.Errorf("unmarshal config error: %w", err)
	}

	if err := Validate(conf); err != nil {
		return err
	}

	v.OnConfigChange(func(event fsnotify.Event) {
		slog.Info("detecting config change", "file", event.Name)
		const debounceTimeout = 500 * time.Millisecond
		time.Sleep(debounceTimeout)

		next := &Config{}
		if err := v.Unmarshal(next); err != nil {
			slog.Error("reload config unmarshal failed", "error", err)
			return
		}
		if err := Validate(next); err != nil {
			slog.Error("reload config validation failed", "error", err)
			return
		}

		mu.Lock()
		*conf = *next
		mu.Unlock()

		logging.SetLevel(conf.Log.Level)
		slog.Info("config hot-reloaded and validated successfully")
		for _, hook := range reloadHooks() {
			hook(conf)
		}
	})
	v.WatchConfig()

	return nil
}

// PrintWithMask 以 logger 脱敏打印当前配置，logger 为 nil 时使用 slog 默认值.
func PrintWithMask(logger *slog.Logger, conf *Config) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := json.Marshal(conf)
	if err != nil {
		logger.Error("failed to marshal config for printing", "error", err)

		return
	}

	var configMap map[string]any
	if unmarshalErr := json.Unmarshal(data, &configMap); unmarshalErr != nil {
		logger.Error("failed to unmarshal config for masking", "error", unmarshalErr)

		return
	}

	mask(configMap)

	maskedJSON, marshalErr := json.Marshal(configMap)
	if marshalErr != nil {
		logger.Error("failed to marshal masked config", "error", marshalErr)

		return
	}

	logger.Info("current effective configuration", "config", string(maskedJSON))
}

func mask(configMap map[string]any) {
	sensitiveKeys := []string{"password", "secret", "dsn", "key", "token", "endpoint"}

	for key, val := range configMap {
		if subMap, ok := val.(map[string]any); ok {
			mask(subMap)

			continue
		}

		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(strings.ToLower(key), sensitiveKey) {
				configMap[key] = "******"

				break
			}
		}
	}
}
