package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "RECEIPTD_CONFIG"

// DefaultPath 是未设置环境变量时使用的配置文件。
const DefaultPath = "configs/receiptd.json"

// Config 描述了 receiptd 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Chain    ChainConfig    `json:"chain"`
	MySQL    MySQLConfig    `json:"mysql"`
	Redis    RedisConfig    `json:"redis"`
	Storage  StorageConfig  `json:"storage"`
	Ledger   LedgerConfig   `json:"ledger"`
	Events   EventsConfig   `json:"events"`
	Queue    QueueConfig    `json:"queue"`
	Verify   VerifyConfig   `json:"verify"`
	Alerting AlertingConfig `json:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址与限流参数。
type ServerConfig struct {
	Address        string `json:"address"`
	RateLimitRPS   int    `json:"rate_limit_rps"`
	RateLimitBurst int    `json:"rate_limit_burst"`
	MaxBodyBytes   int64  `json:"max_body_bytes"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// ChainConfig 指向链定义文件。
type ChainConfig struct {
	DefinitionsPath string `json:"definitions_path"`
	DefaultNetwork  string `json:"default_network"`
}

// MySQLConfig 是所有 MySQL 后端共享的连接信息。
type MySQLConfig struct {
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime string `json:"conn_max_lifetime"`
}

// RedisConfig 是所有 Redis 后端共享的连接信息。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// StorageConfig 选择收据文档的内容存储。
type StorageConfig struct {
	Driver string `json:"driver"`
}

// LedgerConfig 选择锚定账本的实现。
type LedgerConfig struct {
	Driver          string `json:"driver"`
	Network         string `json:"network"`
	ContractAddress string `json:"contract_address"`
	WriterAddress   string `json:"writer_address"`
	WriterKeyEnv    string `json:"writer_key_env"`
	// GasLimit 为 0 时由节点估算锚定交易的 gas。
	GasLimit uint64 `json:"gas_limit"`
	// DeployContract 在未配置合约地址时于启动阶段部署新的锚定合约。
	DeployContract bool `json:"deploy_contract"`
}

// EventsConfig 选择锚定事件的发布方式。
type EventsConfig struct {
	Driver     string `json:"driver"`
	URL        string `json:"url"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
}

// QueueConfig 描述批量校验任务的队列与存储。
type QueueConfig struct {
	Driver     string `json:"driver"`
	Store      string `json:"store"`
	Workers    int    `json:"workers"`
	MaxRetries int    `json:"max_retries"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	Prefetch   int    `json:"prefetch"`
	// DeadLetterExchange 接收无法解析的校验消息，仅 rabbitmq 驱动使用。
	DeadLetterExchange string `json:"dead_letter_exchange"`
}

// VerifyConfig 控制校验引擎。
type VerifyConfig struct {
	CheckTimeout   string `json:"check_timeout"`
	OnChainDefault bool   `json:"on_chain_default"`
}

// AlertingConfig 配置告警出口。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// Path 返回环境变量或默认的配置文件路径。
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(content, filepath.Dir(path))
}

// Parse 解析 JSON 配置并补齐默认值。相对路径以 baseDir 为基准。
func Parse(content []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults(baseDir)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 用环境变量覆盖敏感字段。
func (c *Config) applyEnv() {
	if v := os.Getenv("RECEIPTD_MYSQL_DSN"); v != "" {
		c.MySQL.DSN = v
	}
	if v := os.Getenv("RECEIPTD_REDIS_ADDR"); v != "" {
		c.Redis.Address = v
	}
	if v := os.Getenv("RECEIPTD_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("RECEIPTD_RABBITMQ_URL"); v != "" {
		c.Queue.URL = v
		c.Events.URL = v
	}
	if v := os.Getenv("RECEIPTD_LISTEN_ADDR"); v != "" {
		c.Server.Address = v
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.RateLimitRPS <= 0 {
		c.Server.RateLimitRPS = 20
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = 2 * c.Server.RateLimitRPS
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}

	if c.Chain.DefinitionsPath != "" && !filepath.IsAbs(c.Chain.DefinitionsPath) {
		c.Chain.DefinitionsPath = filepath.Join(baseDir, c.Chain.DefinitionsPath)
	}

	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "agentreceipt"
	}

	c.Storage.Driver = lowerOr(c.Storage.Driver, "memory")
	c.Ledger.Driver = lowerOr(c.Ledger.Driver, "memory")
	if c.Ledger.WriterKeyEnv == "" {
		c.Ledger.WriterKeyEnv = "RECEIPTD_WRITER_KEY"
	}
	c.Events.Driver = lowerOr(c.Events.Driver, "memory")
	if c.Events.Exchange == "" {
		c.Events.Exchange = "agentreceipt.anchors"
	}

	c.Queue.Driver = lowerOr(c.Queue.Driver, "memory")
	c.Queue.Store = lowerOr(c.Queue.Store, "memory")
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.MaxRetries <= 0 {
		c.Queue.MaxRetries = 3
	}

	if c.Verify.CheckTimeout == "" {
		c.Verify.CheckTimeout = "10s"
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.Verify.CheckTimeout); err != nil {
		return fmt.Errorf("verify.check_timeout 无效: %w", err)
	}
	if c.MySQL.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(c.MySQL.ConnMaxLifetime); err != nil {
			return fmt.Errorf("mysql.conn_max_lifetime 无效: %w", err)
		}
	}
	if err := oneOf("storage.driver", c.Storage.Driver, "memory", "redis", "mysql"); err != nil {
		return err
	}
	if err := oneOf("ledger.driver", c.Ledger.Driver, "memory", "redis", "mysql", "contract"); err != nil {
		return err
	}
	if err := oneOf("events.driver", c.Events.Driver, "memory", "rabbitmq"); err != nil {
		return err
	}
	if err := oneOf("queue.driver", c.Queue.Driver, "memory", "redis", "rabbitmq"); err != nil {
		return err
	}
	if err := oneOf("queue.store", c.Queue.Store, "memory", "mysql"); err != nil {
		return err
	}
	if c.Ledger.Driver == "contract" && c.Ledger.ContractAddress == "" && !c.Ledger.DeployContract {
		return errors.New("ledger.driver=contract 需要配置 ledger.contract_address 或开启 ledger.deploy_contract")
	}
	if c.Ledger.ContractAddress != "" && !common.IsHexAddress(c.Ledger.ContractAddress) {
		return fmt.Errorf("ledger.contract_address 无效: %s", c.Ledger.ContractAddress)
	}
	return nil
}

// CheckTimeout 返回单项校验的超时时间。
func (c *Config) CheckTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Verify.CheckTimeout)
	return d
}

// ConnMaxLifetime 返回 MySQL 连接的最长存活时间，未配置时为 0。
func (c *Config) ConnMaxLifetime() time.Duration {
	d, _ := time.ParseDuration(c.MySQL.ConnMaxLifetime)
	return d
}

// WriterKey 从配置指定的环境变量读取签名私钥。
func (c *Config) WriterKey() string {
	return strings.TrimSpace(os.Getenv(c.Ledger.WriterKeyEnv))
}

func lowerOr(value, fallback string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return fallback
	}
	return value
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s 不支持 %q，可选值: %s", field, value, strings.Join(allowed, ", "))
}
