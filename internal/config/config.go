package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Facebook FacebookConfig `json:"facebook"`
	Sync     SyncConfig     `json:"sync"`
	Email    EmailConfig    `json:"email"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env                string        `json:"env"`                  // 运行环境: local / prod
	LogLevel           string        `json:"log_level"`            // 日志级别: debug / info / warn / error
	HTTPAddr           string        `json:"http_addr"`            // API 服务监听地址
	WorkerPoolSize     int           `json:"worker_pool_size"`     // 通知 worker 数量
	QueueCapacity      int           `json:"queue_capacity"`       // 通知队列容量
	ExportTTL          time.Duration `json:"export_ttl"`           // 导出文件保留时间（如 "1h"）
	DedupWindow        int           `json:"dedup_window"`         // 采集去重窗口（秒）
	SlowQueryThreshold time.Duration `json:"slow_query_threshold"` // 慢查询阈值（如 "200ms"）
	JanitorInterval    time.Duration `json:"janitor_interval"`     // 停滞任务巡检间隔
	StallTimeout       time.Duration `json:"stall_timeout"`        // running 任务多久无进度视为失败，负数关闭巡检
}

// DatabaseConfig 关系数据库配置。
type DatabaseConfig struct {
	Driver string `json:"driver"` // postgres / mysql
	DSN    string `json:"dsn"`    // 数据库连接字符串
}

// RedisConfig Redis 配置。Addr 为空时不启用 Redis（限流、去重、导出下载退化为本地实现）。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
	DB       int    `json:"db"`
}

// FacebookConfig Graph API 配置。访问令牌只能来自配置文件或环境变量。
type FacebookConfig struct {
	BaseURL          string        `json:"base_url"`          // Graph API 根地址
	APIVersion       string        `json:"api_version"`       // 如 "v18.0"
	AppID            string        `json:"app_id"`            // 应用 ID
	AppSecret        string        `json:"app_secret"`        // 应用密钥（仅用于 debug_token / 换取长期令牌）
	AccessToken      string        `json:"access_token"`      // Bearer 令牌
	Timeout          time.Duration `json:"timeout"`           // 单次请求超时
	RateLimit        float64       `json:"rate_limit"`        // 请求速率（token/s）
	RateBurst        float64       `json:"rate_burst"`        // 令牌桶容量
	BreakerThreshold uint32        `json:"breaker_threshold"` // 连续失败多少次后熔断
	BreakerTimeout   time.Duration `json:"breaker_timeout"`   // 熔断后多久进入半开
	ThrottlePause    time.Duration `json:"throttle_pause"`    // Graph 报告配额耗尽后全局暂停多久
}

// Enabled reports whether the Graph API proxy can be used.
func (f FacebookConfig) Enabled() bool {
	return f.AccessToken != ""
}

// SyncConfig 客户端轮询同步配置。
type SyncConfig struct {
	APIBaseURL    string        `json:"api_base_url"`   // console 访问的 API 地址
	StatsInterval time.Duration `json:"stats_interval"` // 统计刷新间隔
	TasksInterval time.Duration `json:"tasks_interval"` // 任务列表刷新间隔
	DataInterval  time.Duration `json:"data_interval"`  // 数据分页刷新间隔
	FetchTimeout  time.Duration `json:"fetch_timeout"`  // 单次拉取超时
	RetryMaxTries uint          `json:"retry_max_tries"`
	PageSize      int           `json:"page_size"`
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
	ToEmail   string `json:"to_email"` // 任务完成/失败通知接收人
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值，
// 最后用环境变量覆盖。
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault 加载配置，如果失败则返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// Save 保存配置到 JSON 文件。密钥字段不会被写出。
func Save(path string, cfg *Config) error {
	out := *cfg
	out.Facebook.AccessToken = ""
	out.Facebook.AppSecret = ""
	out.Email.SMTPPass = ""
	out.Redis.Password = ""

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:                "local",
			LogLevel:           "info",
			HTTPAddr:           ":8080",
			WorkerPoolSize:     4,
			QueueCapacity:      256,
			ExportTTL:          time.Hour,
			DedupWindow:        7 * 24 * 3600,
			SlowQueryThreshold: 200 * time.Millisecond,
			JanitorInterval:    5 * time.Minute,
			StallTimeout:       30 * time.Minute,
		},
		Database: DatabaseConfig{
			Driver: "postgres",
			DSN:    "host=localhost user=postgres dbname=northsea port=5432 sslmode=disable",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Facebook: FacebookConfig{
			BaseURL:          "https://graph.facebook.com",
			APIVersion:       "v18.0",
			Timeout:          15 * time.Second,
			RateLimit:        3,
			RateBurst:        10,
			BreakerThreshold: 5,
			BreakerTimeout:   30 * time.Second,
			ThrottlePause:    time.Minute,
		},
		Sync: SyncConfig{
			APIBaseURL:    "http://localhost:8080",
			StatsInterval: 5 * time.Second,
			TasksInterval: 3 * time.Second,
			DataInterval:  10 * time.Second,
			FetchTimeout:  10 * time.Second,
			RetryMaxTries: 3,
			PageSize:      10,
		},
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.WorkerPoolSize == 0 {
		cfg.App.WorkerPoolSize = defaults.App.WorkerPoolSize
	}
	if cfg.App.QueueCapacity == 0 {
		cfg.App.QueueCapacity = defaults.App.QueueCapacity
	}
	if cfg.App.ExportTTL == 0 {
		cfg.App.ExportTTL = defaults.App.ExportTTL
	}
	if cfg.App.DedupWindow == 0 {
		cfg.App.DedupWindow = defaults.App.DedupWindow
	}
	if cfg.App.SlowQueryThreshold == 0 {
		cfg.App.SlowQueryThreshold = defaults.App.SlowQueryThreshold
	}
	if cfg.App.JanitorInterval == 0 {
		cfg.App.JanitorInterval = defaults.App.JanitorInterval
	}
	if cfg.App.StallTimeout == 0 {
		cfg.App.StallTimeout = defaults.App.StallTimeout
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaults.Database.Driver
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == defaults.Database.Driver {
		cfg.Database.DSN = defaults.Database.DSN
	}
	if cfg.Facebook.BaseURL == "" {
		cfg.Facebook.BaseURL = defaults.Facebook.BaseURL
	}
	if cfg.Facebook.APIVersion == "" {
		cfg.Facebook.APIVersion = defaults.Facebook.APIVersion
	}
	if cfg.Facebook.Timeout == 0 {
		cfg.Facebook.Timeout = defaults.Facebook.Timeout
	}
	if cfg.Facebook.RateLimit == 0 {
		cfg.Facebook.RateLimit = defaults.Facebook.RateLimit
	}
	if cfg.Facebook.RateBurst == 0 {
		cfg.Facebook.RateBurst = defaults.Facebook.RateBurst
	}
	if cfg.Facebook.BreakerThreshold == 0 {
		cfg.Facebook.BreakerThreshold = defaults.Facebook.BreakerThreshold
	}
	if cfg.Facebook.BreakerTimeout == 0 {
		cfg.Facebook.BreakerTimeout = defaults.Facebook.BreakerTimeout
	}
	if cfg.Facebook.ThrottlePause == 0 {
		cfg.Facebook.ThrottlePause = defaults.Facebook.ThrottlePause
	}
	if cfg.Sync.APIBaseURL == "" {
		cfg.Sync.APIBaseURL = defaults.Sync.APIBaseURL
	}
	if cfg.Sync.StatsInterval == 0 {
		cfg.Sync.StatsInterval = defaults.Sync.StatsInterval
	}
	if cfg.Sync.TasksInterval == 0 {
		cfg.Sync.TasksInterval = defaults.Sync.TasksInterval
	}
	if cfg.Sync.DataInterval == 0 {
		cfg.Sync.DataInterval = defaults.Sync.DataInterval
	}
	if cfg.Sync.FetchTimeout == 0 {
		cfg.Sync.FetchTimeout = defaults.Sync.FetchTimeout
	}
	if cfg.Sync.RetryMaxTries == 0 {
		cfg.Sync.RetryMaxTries = defaults.Sync.RetryMaxTries
	}
	if cfg.Sync.PageSize == 0 {
		cfg.Sync.PageSize = defaults.Sync.PageSize
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
}

// secretEnv 经 viper 绑定的敏感变量，只从环境读取，不写回配置文件。
var secretEnv = map[string]string{
	"db_host":         "DB_HOST",
	"db_password":     "DB_PASSWORD",
	"redis_addr":      "REDIS_ADDR",
	"redis_password":  "REDIS_PASSWORD",
	"smtp_pass":       "SMTP_PASS",
	"fb_access_token": "FB_ACCESS_TOKEN",
	"fb_app_secret":   "FB_APP_SECRET",
	"fb_app_id":       "FB_APP_ID",
}

// envBinding 把一个环境变量写入配置字段；解析失败的值被忽略。
type envBinding struct {
	name  string
	apply func(raw string) error
}

func strEnv(name string, dst *string) envBinding {
	return envBinding{name, func(raw string) error { *dst = raw; return nil }}
}

func parsedEnv[T any](name string, dst *T, parse func(string) (T, error)) envBinding {
	return envBinding{name, func(raw string) error {
		v, err := parse(raw)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}}
}

func intEnv(name string, dst *int) envBinding {
	return parsedEnv(name, dst, strconv.Atoi)
}

func floatEnv(name string, dst *float64) envBinding {
	return parsedEnv(name, dst, func(raw string) (float64, error) { return strconv.ParseFloat(raw, 64) })
}

func durationEnv(name string, dst *time.Duration) envBinding {
	return parsedEnv(name, dst, time.ParseDuration)
}

func plainEnv(cfg *Config) []envBinding {
	return []envBinding{
		strEnv("APP_ENV", &cfg.App.Env),
		strEnv("APP_LOG_LEVEL", &cfg.App.LogLevel),
		strEnv("APP_HTTP_ADDR", &cfg.App.HTTPAddr),
		intEnv("APP_WORKER_POOL_SIZE", &cfg.App.WorkerPoolSize),
		intEnv("APP_QUEUE_CAPACITY", &cfg.App.QueueCapacity),
		intEnv("APP_DEDUP_WINDOW", &cfg.App.DedupWindow),
		durationEnv("APP_EXPORT_TTL", &cfg.App.ExportTTL),
		durationEnv("APP_JANITOR_INTERVAL", &cfg.App.JanitorInterval),
		durationEnv("APP_STALL_TIMEOUT", &cfg.App.StallTimeout),

		strEnv("DB_DRIVER", &cfg.Database.Driver),
		intEnv("REDIS_DB", &cfg.Redis.DB),

		strEnv("FB_GRAPH_BASE_URL", &cfg.Facebook.BaseURL),
		strEnv("FB_API_VERSION", &cfg.Facebook.APIVersion),
		floatEnv("FB_RATE_LIMIT", &cfg.Facebook.RateLimit),
		floatEnv("FB_RATE_BURST", &cfg.Facebook.RateBurst),
		durationEnv("FB_THROTTLE_PAUSE", &cfg.Facebook.ThrottlePause),

		strEnv("SYNC_API_BASE_URL", &cfg.Sync.APIBaseURL),
		durationEnv("SYNC_STATS_INTERVAL", &cfg.Sync.StatsInterval),
		durationEnv("SYNC_TASKS_INTERVAL", &cfg.Sync.TasksInterval),
		durationEnv("SYNC_DATA_INTERVAL", &cfg.Sync.DataInterval),

		strEnv("SMTP_HOST", &cfg.Email.SMTPHost),
		intEnv("SMTP_PORT", &cfg.Email.SMTPPort),
		strEnv("SMTP_USER", &cfg.Email.SMTPUser),
		strEnv("SMTP_FROM", &cfg.Email.FromEmail),
		strEnv("NOTIFY_EMAIL", &cfg.Email.ToEmail),
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()
	for key, env := range secretEnv {
		_ = viper.BindEnv(key, env)
	}

	for _, b := range plainEnv(cfg) {
		if raw := os.Getenv(b.name); raw != "" {
			_ = b.apply(raw)
		}
	}

	secret := func(key string, dst *string) {
		if v := viper.GetString(key); v != "" {
			*dst = v
		}
	}
	secret("redis_addr", &cfg.Redis.Addr)
	secret("redis_password", &cfg.Redis.Password)
	secret("fb_access_token", &cfg.Facebook.AccessToken)
	secret("fb_app_secret", &cfg.Facebook.AppSecret)
	secret("fb_app_id", &cfg.Facebook.AppID)
	secret("smtp_pass", &cfg.Email.SMTPPass)

	// REDIS_DISABLED=1 关闭 Redis（本地开发）
	if v := os.Getenv("REDIS_DISABLED"); v == "1" || v == "true" {
		cfg.Redis.Addr = ""
	}

	dbParts := hasAnyEnv("DB_PORT", "DB_USER", "DB_NAME") ||
		viper.GetString("db_host") != "" || viper.GetString("db_password") != ""
	switch {
	case os.Getenv("DB_DSN") != "":
		cfg.Database.DSN = os.Getenv("DB_DSN")
	case dbParts && cfg.Database.Driver == "mysql":
		cfg.Database.DSN = overrideMySQLDSN(cfg.Database.DSN)
	case dbParts && cfg.Database.Driver == "postgres":
		cfg.Database.DSN = overridePostgresDSN(cfg.Database.DSN)
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

// overrideMySQLDSN 用 DB_* 环境变量覆盖 MySQL DSN 中的对应字段。
// clientFoundRows 必须开启：条件更新依赖“匹配行数”而非“变更行数”。
func overrideMySQLDSN(dsn string) string {
	parsed := parseMySQLDSN(dsn)
	if v := viper.GetString("db_host"); v != "" {
		port := getenvDefault("DB_PORT", parsed.Addr, "3306")
		parsed.Addr = v + ":" + port
	} else if v := os.Getenv("DB_PORT"); v != "" {
		host := parsed.Addr
		if strings.Contains(host, ":") {
			host = strings.Split(host, ":")[0]
		}
		parsed.Addr = host + ":" + v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		parsed.User = v
	}
	if v := viper.GetString("db_password"); v != "" {
		parsed.Passwd = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		parsed.DBName = v
	}
	parsed.ClientFoundRows = true
	parsed.ParseTime = true
	return parsed.FormatDSN()
}

// overridePostgresDSN 以 key=value 形式重建 Postgres DSN。
func overridePostgresDSN(dsn string) string {
	fields := map[string]string{}
	var order []string
	for _, part := range strings.Fields(dsn) {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if _, seen := fields[k]; !seen {
			order = append(order, k)
		}
		fields[k] = v
	}
	set := func(k, v string) {
		if v == "" {
			return
		}
		if _, seen := fields[k]; !seen {
			order = append(order, k)
		}
		fields[k] = v
	}
	set("host", viper.GetString("db_host"))
	set("port", os.Getenv("DB_PORT"))
	set("user", os.Getenv("DB_USER"))
	set("password", viper.GetString("db_password"))
	set("dbname", os.Getenv("DB_NAME"))

	parts := make([]string, 0, len(order))
	for _, k := range order {
		parts = append(parts, k+"="+fields[k])
	}
	return strings.Join(parts, " ")
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := func() *mysql.Config {
		c := mysql.NewConfig()
		c.User = "root"
		c.Net = "tcp"
		c.Addr = "localhost:3306"
		c.DBName = "northsea"
		c.ParseTime = true
		c.ClientFoundRows = true
		return c
	}
	if dsn == "" {
		return fallback()
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback()
	}
	return parsed
}

// duration 字段在 JSON 中以字符串表示（如 "5s"）。
func parseDurationField(name, raw string, dst *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s format: %w", name, err)
	}
	*dst = d
	return nil
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		ExportTTL          string `json:"export_ttl"`
		SlowQueryThreshold string `json:"slow_query_threshold"`
		JanitorInterval    string `json:"janitor_interval"`
		StallTimeout       string `json:"stall_timeout"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if err := parseDurationField("export_ttl", aux.ExportTTL, &a.ExportTTL); err != nil {
		return err
	}
	if err := parseDurationField("janitor_interval", aux.JanitorInterval, &a.JanitorInterval); err != nil {
		return err
	}
	if err := parseDurationField("stall_timeout", aux.StallTimeout, &a.StallTimeout); err != nil {
		return err
	}
	return parseDurationField("slow_query_threshold", aux.SlowQueryThreshold, &a.SlowQueryThreshold)
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		ExportTTL          string `json:"export_ttl"`
		SlowQueryThreshold string `json:"slow_query_threshold"`
		JanitorInterval    string `json:"janitor_interval"`
		StallTimeout       string `json:"stall_timeout"`
		*Alias
	}{
		ExportTTL:          a.ExportTTL.String(),
		SlowQueryThreshold: a.SlowQueryThreshold.String(),
		JanitorInterval:    a.JanitorInterval.String(),
		StallTimeout:       a.StallTimeout.String(),
		Alias:              (*Alias)(&a),
	})
}

func (f *FacebookConfig) UnmarshalJSON(data []byte) error {
	type Alias FacebookConfig
	aux := &struct {
		Timeout        string `json:"timeout"`
		BreakerTimeout string `json:"breaker_timeout"`
		ThrottlePause  string `json:"throttle_pause"`
		*Alias
	}{
		Alias: (*Alias)(f),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if err := parseDurationField("timeout", aux.Timeout, &f.Timeout); err != nil {
		return err
	}
	if err := parseDurationField("breaker_timeout", aux.BreakerTimeout, &f.BreakerTimeout); err != nil {
		return err
	}
	return parseDurationField("throttle_pause", aux.ThrottlePause, &f.ThrottlePause)
}

func (f FacebookConfig) MarshalJSON() ([]byte, error) {
	type Alias FacebookConfig
	return json.Marshal(&struct {
		Timeout        string `json:"timeout"`
		BreakerTimeout string `json:"breaker_timeout"`
		ThrottlePause  string `json:"throttle_pause"`
		*Alias
	}{
		Timeout:        f.Timeout.String(),
		BreakerTimeout: f.BreakerTimeout.String(),
		ThrottlePause:  f.ThrottlePause.String(),
		Alias:          (*Alias)(&f),
	})
}

func (s *SyncConfig) UnmarshalJSON(data []byte) error {
	type Alias SyncConfig
	aux := &struct {
		StatsInterval string `json:"stats_interval"`
		TasksInterval string `json:"tasks_interval"`
		DataInterval  string `json:"data_interval"`
		FetchTimeout  string `json:"fetch_timeout"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"stats_interval", aux.StatsInterval, &s.StatsInterval},
		{"tasks_interval", aux.TasksInterval, &s.TasksInterval},
		{"data_interval", aux.DataInterval, &s.DataInterval},
		{"fetch_timeout", aux.FetchTimeout, &s.FetchTimeout},
	} {
		if err := parseDurationField(f.name, f.raw, f.dst); err != nil {
			return err
		}
	}
	return nil
}

func (s SyncConfig) MarshalJSON() ([]byte, error) {
	type Alias SyncConfig
	return json.Marshal(&struct {
		StatsInterval string `json:"stats_interval"`
		TasksInterval string `json:"tasks_interval"`
		DataInterval  string `json:"data_interval"`
		FetchTimeout  string `json:"fetch_timeout"`
		*Alias
	}{
		StatsInterval: s.StatsInterval.String(),
		TasksInterval: s.TasksInterval.String(),
		DataInterval:  s.DataInterval.String(),
		FetchTimeout:  s.FetchTimeout.String(),
		Alias:         (*Alias)(&s),
	})
}
