package config

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

type Config struct {
	App       App           `yaml:"app"`
	Server    Server        `yaml:"server"`
	Storage   Storage       `yaml:"storage"`
	Retention Retention     `yaml:"retention"`
	Session   Session       `yaml:"session"`
	Health    Health        `yaml:"health"`
	Queue     *RabbitMQ     `yaml:"rabbitmq"`
	Archive   *minio.Client `yaml:"archive"`
	Bucket    string        `yaml:"archive_bucket"`
	DB        *sql.DB       `yaml:"db"`
}

type App struct {
	Environment string `yaml:"environment"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
}

type Storage struct {
	Root     string `yaml:"root"`
	FeedFile string `yaml:"feed_file"`
}

type Retention struct {
	MaxAge            time.Duration `yaml:"max_age"`
	CameraBudgetBytes int64         `yaml:"camera_budget_bytes"`
	FreeFloorBytes    int64         `yaml:"free_floor_bytes"`
	ScanInterval      time.Duration `yaml:"scan_interval"`
	UnverifiedTimeout time.Duration `yaml:"unverified_timeout"`
}

type Session struct {
	SegmentDuration time.Duration `yaml:"segment_duration"`
	SegmentMaxBytes int64         `yaml:"segment_max_bytes"`
	GracePeriod     time.Duration `yaml:"grace_period"`
	BackoffInitial  time.Duration `yaml:"backoff_initial"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	SuccessWindow   time.Duration `yaml:"success_window"`
}

type Health struct {
	DegradedThreshold int           `yaml:"degraded_threshold"`
	OfflineThreshold  int           `yaml:"offline_threshold"`
	OfflineAfter      time.Duration `yaml:"offline_after"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("app.environment", "develop")
	viper.SetDefault("server.port", "8554")
	viper.SetDefault("storage.root", "/var/lib/nvr/recordings")
	viper.SetDefault("storage.feed_file", "/var/lib/nvr/cameras.conf")
	viper.SetDefault("retention.max_age", "168h")
	viper.SetDefault("retention.camera_budget_bytes", int64(0))
	viper.SetDefault("retention.free_floor_bytes", int64(2<<30))
	viper.SetDefault("retention.scan_interval", "5m")
	viper.SetDefault("retention.unverified_timeout", "24h")
	viper.SetDefault("session.segment_duration", "5m")
	viper.SetDefault("session.segment_max_bytes", int64(512<<20))
	viper.SetDefault("session.grace_period", "10s")
	viper.SetDefault("session.backoff_initial", "2s")
	viper.SetDefault("session.backoff_max", "2m")
	viper.SetDefault("session.success_window", "10m")
	viper.SetDefault("health.degraded_threshold", 3)
	viper.SetDefault("health.offline_threshold", 5)
	viper.SetDefault("health.offline_after", "30m")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{
		App: App{
			Environment: viper.GetString("app.environment"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
		},
		Storage: Storage{
			Root:     viper.GetString("storage.root"),
			FeedFile: viper.GetString("storage.feed_file"),
		},
		Retention: Retention{
			MaxAge:            viper.GetDuration("retention.max_age"),
			CameraBudgetBytes: viper.GetInt64("retention.camera_budget_bytes"),
			FreeFloorBytes:    viper.GetInt64("retention.free_floor_bytes"),
			ScanInterval:      viper.GetDuration("retention.scan_interval"),
			UnverifiedTimeout: viper.GetDuration("retention.unverified_timeout"),
		},
		Session: Session{
			SegmentDuration: viper.GetDuration("session.segment_duration"),
			SegmentMaxBytes: viper.GetInt64("session.segment_max_bytes"),
			GracePeriod:     viper.GetDuration("session.grace_period"),
			BackoffInitial:  viper.GetDuration("session.backoff_initial"),
			BackoffMax:      viper.GetDuration("session.backoff_max"),
			SuccessWindow:   viper.GetDuration("session.success_window"),
		},
		Health: Health{
			DegradedThreshold: viper.GetInt("health.degraded_threshold"),
			OfflineThreshold:  viper.GetInt("health.offline_threshold"),
			OfflineAfter:      viper.GetDuration("health.offline_after"),
		},
	}

	if viper.GetString("rabbitmq_host") != "" {
		cfg.Queue = &RabbitMQ{
			Host:         viper.GetString("rabbitmq_host"),
			Port:         viper.GetInt("rabbitmq_port"),
			User:         viper.GetString("rabbitmq_user"),
			Pass:         viper.GetString("rabbitmq_pass"),
			ExchangeName: viper.GetString("rabbitmq_exchange"),
			Kind:         viper.GetString("rabbitmq_kind"),
		}
	}

	if viper.GetString("minio.url") != "" {
		archive, err := minio.New(viper.GetString("minio.url"), &minio.Options{
			Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
			Secure: false,
		})
		if err != nil {
			return nil, err
		}
		cfg.Archive = archive
		cfg.Bucket = viper.GetString("minio.bucket")
	}

	if viper.GetString("postgresql_host") != "" {
		db, err := sql.Open("postgres", viper.GetString("postgresql_host"))
		if err != nil {
			return nil, err
		}
		cfg.DB = db
	}

	return cfg, nil
}
