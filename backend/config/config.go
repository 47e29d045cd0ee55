package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
		Group   string   `mapstructure:"group"`
	} `mapstructure:"kafka"`
	Auth struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"auth"`
	Collab struct {
		PresenceTTL    time.Duration `mapstructure:"presencettl"`
		SendBuffer     int           `mapstructure:"sendbuffer"`
		Debounce       time.Duration `mapstructure:"debounce"`
		AllowedOrigins []string      `mapstructure:"allowedorigins"`
	} `mapstructure:"collab"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 3003)
	v.SetDefault("mysql.dsn", "")
	v.SetDefault("redis.addrs", []string{"127.0.0.1:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "collab.document-changes")
	v.SetDefault("kafka.group", "collab-change-archiver")
	v.SetDefault("auth.secret", "dev-secret")
	v.SetDefault("collab.presencettl", 60*time.Second)
	v.SetDefault("collab.sendbuffer", 64)
	v.SetDefault("collab.debounce", 800*time.Millisecond)
	v.SetDefault("collab.allowedorigins", []string{})
}

// Load reads collabConfig.yaml from the given directories, or from the usual
// locations when none are given. A missing file is not an error: defaults and
// COLLAB_* environment variables (COLLAB_KAFKA_TOPIC, ...) still apply.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("collabConfig")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		// 兼容从项目根目录或 backend 目录启动
		paths = []string{"./backend/config", "./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	setDefaults(v)

	v.SetEnvPrefix("COLLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
