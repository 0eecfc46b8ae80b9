package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Redis     RedisConfig     `yaml:"redis"`
	YtDLP     YtDLPConfig     `yaml:"ytdlp"`
	Cache     CacheConfig     `yaml:"cache"`
	Storage   StorageConfig   `yaml:"storage"`
	Verify    VerifyConfig    `yaml:"verify"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port         int           `yaml:"port"`
	GRPCPort     int           `yaml:"grpc_port"`
	Mode         string        `yaml:"mode"` // debug, release
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PublicHost   string        `yaml:"public_host"`
}

// DatabaseConfig 数据库配置, Host 为空时使用内存存储
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

// Enabled 是否配置了数据库
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// GetURL 获取数据库连接URL (用于golang-migrate)
func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&x-migrations-table=schema_migrations_fetch",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// RabbitMQConfig RabbitMQ 配置, URL 为空时不启动消费者
type RabbitMQConfig struct {
	URL           string `yaml:"url"`
	Queue         string `yaml:"queue"`
	PrefetchCount int    `yaml:"prefetch_count"`
}

// RedisConfig Redis 配置, Addr 为空时不发布进度
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// YtDLPConfig yt-dlp 配置
type YtDLPConfig struct {
	BinaryPath          string   `yaml:"binary_path"`
	InfoTimeout         int      `yaml:"info_timeout"` // 解析超时(秒)
	SocketTimeout       int      `yaml:"socket_timeout"`
	Retries             int      `yaml:"retries"`
	FragmentRetries     int      `yaml:"fragment_retries"`
	ConcurrentFragments int      `yaml:"concurrent_fragments"`
	MergeFormat         string   `yaml:"merge_format"`
	MaxConcurrentInfo   int      `yaml:"max_concurrent_info"` // 同时进行的解析数
	DefaultArgs         []string `yaml:"default_args"`
}

// GetInfoTimeout 获取解析超时时间
func (c *YtDLPConfig) GetInfoTimeout() time.Duration {
	return time.Duration(c.InfoTimeout) * time.Second
}

// CacheConfig 格式缓存配置
type CacheConfig struct {
	InfoSize    int `yaml:"info_size"`
	FormatsSize int `yaml:"formats_size"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	DownloadsDir      string  `yaml:"downloads_dir"`
	DiskUsedThreshold float64 `yaml:"disk_used_threshold"` // 百分比, 0 表示不检查
}

// VerifyConfig 文件校验配置
type VerifyConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	StabilityWindow time.Duration `yaml:"stability_window"`
}

// CleanupConfig 清理配置
type CleanupConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	Retention time.Duration `yaml:"retention"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	GlobalRPS int `yaml:"global_rps"`
	IPRPS     int `yaml:"ip_rps"`
	Burst     int `yaml:"burst"`
}

// CORSConfig 跨域配置, AllowedOrigins 为空时允许所有来源
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	// .env 文件可选
	_ = godotenv.Load()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

// applyEnv 从环境变量覆盖配置
func applyEnv(cfg *Config) {
	// 数据库配置
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DB_PORT"); dbPort != "" {
		if port, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = port
		}
	}
	if dbUser := os.Getenv("DB_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPassword := os.Getenv("DB_PASSWORD"); dbPassword != "" {
		cfg.Database.Password = dbPassword
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		cfg.Database.DBName = dbName
	}

	// Redis 配置
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		cfg.Redis.Addr = redisAddr
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}

	// RabbitMQ 配置
	if rabbitMQURL := os.Getenv("RABBITMQ_URL"); rabbitMQURL != "" {
		cfg.RabbitMQ.URL = rabbitMQURL
	}

	// 存储与 yt-dlp
	if dir := os.Getenv("DOWNLOADS_DIR"); dir != "" {
		cfg.Storage.DownloadsDir = dir
	}
	if bin := os.Getenv("YTDLP_BINARY"); bin != "" {
		cfg.YtDLP.BinaryPath = bin
	}
	if minutes := os.Getenv("RETENTION_MINUTES"); minutes != "" {
		if m, err := strconv.Atoi(minutes); err == nil && m > 0 {
			cfg.Cleanup.Retention = time.Duration(m) * time.Minute
		}
	}
}

// applyDefaults 设置默认值
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MigrationsPath == "" {
		cfg.Database.MigrationsPath = "file://migrations"
	}
	if cfg.RabbitMQ.PrefetchCount == 0 {
		cfg.RabbitMQ.PrefetchCount = 1
	}
	if cfg.YtDLP.BinaryPath == "" {
		cfg.YtDLP.BinaryPath = "yt-dlp"
	}
	if cfg.YtDLP.InfoTimeout == 0 {
		cfg.YtDLP.InfoTimeout = 60
	}
	if cfg.YtDLP.SocketTimeout == 0 {
		cfg.YtDLP.SocketTimeout = 30
	}
	if cfg.YtDLP.Retries == 0 {
		cfg.YtDLP.Retries = 5
	}
	if cfg.YtDLP.FragmentRetries == 0 {
		cfg.YtDLP.FragmentRetries = 5
	}
	if cfg.YtDLP.ConcurrentFragments == 0 {
		cfg.YtDLP.ConcurrentFragments = 8
	}
	if cfg.YtDLP.MergeFormat == "" {
		cfg.YtDLP.MergeFormat = "mp4"
	}
	if cfg.YtDLP.MaxConcurrentInfo == 0 {
		cfg.YtDLP.MaxConcurrentInfo = 4
	}
	if cfg.Cache.InfoSize == 0 {
		cfg.Cache.InfoSize = 100
	}
	if cfg.Cache.FormatsSize == 0 {
		cfg.Cache.FormatsSize = 100
	}
	if cfg.Storage.DownloadsDir == "" {
		cfg.Storage.DownloadsDir = "downloads"
	}
	if cfg.Verify.MaxAttempts == 0 {
		cfg.Verify.MaxAttempts = 3
	}
	if cfg.Verify.RetryDelay == 0 {
		cfg.Verify.RetryDelay = 2 * time.Second
	}
	if cfg.Verify.StabilityWindow == 0 {
		cfg.Verify.StabilityWindow = 500 * time.Millisecond
	}
	if cfg.Cleanup.Interval == 0 {
		cfg.Cleanup.Interval = time.Hour
	}
	if cfg.Cleanup.Retention == 0 {
		cfg.Cleanup.Retention = 24 * time.Hour
	}
	if cfg.RateLimit.GlobalRPS == 0 {
		cfg.RateLimit.GlobalRPS = 200
	}
	if cfg.RateLimit.IPRPS == 0 {
		cfg.RateLimit.IPRPS = 10
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
