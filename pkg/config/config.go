package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Lock struct {
		TTL  time.Duration `mapstructure:"TTL"`
		Wait time.Duration `mapstructure:"WAIT"`
	} `mapstructure:"LOCK"`
	Task struct {
		Concurrency int `mapstructure:"CONCURRENCY"`
	} `mapstructure:"TASK"`
	Kafka struct {
		Brokers string `mapstructure:"BROKERS"`
		Topic   string `mapstructure:"TOPIC"`
	} `mapstructure:"KAFKA"`
	AccessControl struct {
		Model  string `mapstructure:"MODEL"`
		Policy string `mapstructure:"POLICY"`
	} `mapstructure:"ACCESS_CONTROL"`
	Consul struct {
		Addr        string `mapstructure:"ADDR"`
		ServiceHost string `mapstructure:"SERVICE_HOST"`
	} `mapstructure:"CONSUL"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Affiliate  Affiliate   `mapstructure:"AFFILIATE"`
	Milestones []Milestone `mapstructure:"MILESTONES"`
	Broker     struct {
		URL              string        `mapstructure:"URL"`
		Username         string        `mapstructure:"USERNAME"`
		Password         string        `mapstructure:"PASSWORD"`
		Timeout          time.Duration `mapstructure:"TIMEOUT"`
		FailureThreshold uint32        `mapstructure:"FAILURE_THRESHOLD"`
		OpenTimeout      time.Duration `mapstructure:"OPEN_TIMEOUT"`
	} `mapstructure:"BROKER"`
	Mail struct {
		Host        string `mapstructure:"HOST"`
		Port        int    `mapstructure:"PORT"`
		Username    string `mapstructure:"USERNAME"`
		Password    string `mapstructure:"PASSWORD"`
		From        string `mapstructure:"FROM"`
		TemplateDir string `mapstructure:"TEMPLATE_DIR"`
	} `mapstructure:"MAIL"`
}

type Affiliate struct {
	FrontendURL          string    `mapstructure:"FRONTEND_URL"`
	MinimumPayout        float64   `mapstructure:"MINIMUM_PAYOUT"`
	OrderAgeDays         int       `mapstructure:"ORDER_AGE_DAYS"`
	FundedPayoutDays     int       `mapstructure:"FUNDED_PAYOUT_DAYS"`
	AddOnPayoutDays      int       `mapstructure:"ADD_ON_PAYOUT_DAYS"`
	ActiveTiers          int       `mapstructure:"ACTIVE_TIERS"`
	TierRates            []float64 `mapstructure:"TIER_RATES"`
	MultiTierFeatureFlag string    `mapstructure:"MULTI_TIER_FEATURE_FLAG"`
}

// Milestone is one entry of the ordered milestone list. Exactly one of
// Tier/TotalUsers/Expression drives the condition.
type Milestone struct {
	Rank       int    `mapstructure:"RANK"`
	Label      string `mapstructure:"LABEL"`
	Tier       int    `mapstructure:"TIER"`
	Users      int    `mapstructure:"USERS"`
	TotalUsers int    `mapstructure:"TOTAL_USERS"`
	Expression string `mapstructure:"EXPRESSION"`
	Reward     string `mapstructure:"REWARD"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func LoadConfig(p Params) *Config {
	config := viper.New()
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()
	setDefaults(config)

	if err := config.ReadInConfig(); err != nil {
		zap.L().Error("failed to read config", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	if len(cfg.Milestones) == 0 {
		cfg.Milestones = DefaultMilestones()
	}

	if p.Vault != nil {
		ctx := context.Background()

		zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
		secret, err := p.Vault.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
		if err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Info("Success Get Secret")

		get := func(key, fallback string) string {
			if val, ok := secret.Data.Data[key].(string); ok && val != "" {
				return val
			}
			return fallback
		}

		cfg.Database.User = get("postgres_user", cfg.Database.User)
		cfg.Database.Password = get("postgres_password", cfg.Database.Password)
		cfg.Redis.Password = get("redis_password", cfg.Redis.Password)
		cfg.Broker.Username = get("broker_username", cfg.Broker.Username)
		cfg.Broker.Password = get("broker_password", cfg.Broker.Password)
		cfg.Mail.Password = get("smtp_password", cfg.Mail.Password)
		cfg.Flagsmith.ApiKey = get("flagsmith_api_key", cfg.Flagsmith.ApiKey)
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "affiliate")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("GRPC_SERVER.ADDR", "9090")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("LOCK.TTL", 10*time.Second)
	v.SetDefault("LOCK.WAIT", 3*time.Second)
	v.SetDefault("TASK.CONCURRENCY", 10)
	v.SetDefault("KAFKA.TOPIC", "affiliate.events")
	v.SetDefault("AFFILIATE.MINIMUM_PAYOUT", 100)
	v.SetDefault("AFFILIATE.ORDER_AGE_DAYS", 14)
	v.SetDefault("AFFILIATE.FUNDED_PAYOUT_DAYS", 14)
	v.SetDefault("AFFILIATE.ADD_ON_PAYOUT_DAYS", 7)
	v.SetDefault("AFFILIATE.ACTIVE_TIERS", 1)
	v.SetDefault("AFFILIATE.TIER_RATES", []float64{0.10, 0.05, 0.03, 0.02})
	v.SetDefault("AFFILIATE.MULTI_TIER_FEATURE_FLAG", "affiliate_multi_tier_commission")
	v.SetDefault("BROKER.TIMEOUT", 15*time.Second)
	v.SetDefault("BROKER.FAILURE_THRESHOLD", 5)
	v.SetDefault("BROKER.OPEN_TIMEOUT", 30*time.Second)
	v.SetDefault("MAIL.PORT", 587)
	v.SetDefault("MAIL.TEMPLATE_DIR", "templates")
}

// DefaultMilestones is used when config.yaml does not list any.
func DefaultMilestones() []Milestone {
	return []Milestone{
		{Rank: 1, Label: "Bronze", Tier: 1, Users: 5, Reward: "$50 bonus"},
		{Rank: 2, Label: "Silver", Tier: 1, Users: 25, Reward: "$250 bonus"},
		{Rank: 3, Label: "Gold", Tier: 2, Users: 25, Reward: "Free 50K challenge"},
		{Rank: 4, Label: "Platinum", TotalUsers: 250, Reward: "$1,000 bonus"},
		{Rank: 5, Label: "Diamond", TotalUsers: 1000, Reward: "$5,000 bonus"},
	}
}
