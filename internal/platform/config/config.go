package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. SAFESWAP_HTTP_PORT
const EnvPrefix = "SAFESWAP"

// Config holds all configuration for the quoter service
type Config struct {
	Chain         ChainConfig         `mapstructure:"chain"`
	Tokens        []TokenOverride     `mapstructure:"tokens"`
	Quote         QuoteConfig         `mapstructure:"quote"`
	Price         PriceConfig         `mapstructure:"price"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Redis         RedisConfig         `mapstructure:"redis"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`

	registry *Registry
}

// ChainConfig holds BSC connection configuration
type ChainConfig struct {
	ID                  int64         `mapstructure:"id"`
	RPCEndpoints        []RPCEndpoint `mapstructure:"rpc_endpoints"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
}

// RPCEndpoint represents a JSON-RPC endpoint
type RPCEndpoint struct {
	URL    string `mapstructure:"url"`
	Weight int    `mapstructure:"weight"`
}

// TokenOverride adds or replaces a registry entry
type TokenOverride struct {
	Symbol   string `mapstructure:"symbol"`
	Address  string `mapstructure:"address"`
	Decimals uint8  `mapstructure:"decimals"`
}

// QuoteConfig holds quote resolution settings
type QuoteConfig struct {
	RouterEntries      []RouterEntry   `mapstructure:"routers"` // priority order
	Hops               []string        `mapstructure:"hops"`    // symbols or addresses
	ForcedHops         []ForcedHopRule `mapstructure:"forced_hops"`
	CallTimeout        time.Duration   `mapstructure:"call_timeout"`
	MaxConcurrentCalls int64           `mapstructure:"max_concurrent_calls"`
	SlippageBps        int64           `mapstructure:"slippage_bps"`
	ReflectionPadBps   int64           `mapstructure:"reflection_pad_bps"`
	MaxBatch           int             `mapstructure:"max_batch"`
	Workers            int             `mapstructure:"workers"`

	parsedRouters    []Router
	parsedHops       []common.Address
	parsedForcedHops []ForcedHop
}

// RouterEntry names a V2 router contract
type RouterEntry struct {
	Name    string `mapstructure:"name"`
	Address string `mapstructure:"address"`
}

// ForcedHopRule pins an intermediate token for a token pair
type ForcedHopRule struct {
	A   string `mapstructure:"a"`
	B   string `mapstructure:"b"`
	Via string `mapstructure:"via"`
}

// Router is a parsed RouterEntry
type Router struct {
	Name    string
	Address common.Address
}

// ForcedHop is a parsed ForcedHopRule
type ForcedHop struct {
	A, B, Via common.Address
}

// Routers returns the parsed routers in priority order
func (q *QuoteConfig) Routers() []Router { return q.parsedRouters }

// HopAddresses returns the parsed generic hop tokens
func (q *QuoteConfig) HopAddresses() []common.Address { return q.parsedHops }

// ForcedHopRules returns the parsed forced-hop table
func (q *QuoteConfig) ForcedHopRules() []ForcedHop { return q.parsedForcedHops }

// PriceConfig holds price feed settings
type PriceConfig struct {
	FeaturedToken   string          `mapstructure:"featured_token"`
	Sources         []string        `mapstructure:"sources"` // tried in order inside each attempt
	PricebookURL    string          `mapstructure:"pricebook_url"`
	DexScreenerURL  string          `mapstructure:"dexscreener_url"`
	DexScreenerPair string          `mapstructure:"dexscreener_pair"`
	CoinGeckoURL    string          `mapstructure:"coingecko_url"`
	CoinGeckoID     string          `mapstructure:"coingecko_id"`
	Timeout         time.Duration   `mapstructure:"timeout"`
	Retry           RetrySettings   `mapstructure:"retry"`
	Circuit         CircuitSettings `mapstructure:"circuit"`
	ReadThroughTTL  time.Duration   `mapstructure:"readthrough_ttl"`
	RefreshSchedule string          `mapstructure:"refresh_schedule"` // cron spec, empty disables
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RetrySettings configures upstream retry/backoff
type RetrySettings struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      time.Duration `mapstructure:"jitter"`
}

// CircuitSettings configures the price circuit breaker
type CircuitSettings struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	OpenFor          time.Duration `mapstructure:"open_for"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// CacheConfig holds caching configuration
type CacheConfig struct {
	Durable     string        `mapstructure:"durable"` // redis, dynamodb or none
	PriceKey    string        `mapstructure:"price_key"`
	PriceTTL    time.Duration `mapstructure:"price_ttl"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	L1MaxSize   int           `mapstructure:"l1_max_size"`
	L1MaxTTL    time.Duration `mapstructure:"l1_max_ttl"`
	DynamoTable string        `mapstructure:"dynamo_table"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AWSConfig holds AWS service configuration
type AWSConfig struct {
	Endpoint    string `mapstructure:"endpoint"` // LocalStack or empty for AWS
	Region      string `mapstructure:"region"`
	SNSTopicARN string `mapstructure:"sns_topic_arn"` // empty disables notifications
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Environment string        `mapstructure:"environment"`
	Logging     LoggingConfig `mapstructure:"logging"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(configPath == "" && errors.Is(err, fs.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Registry returns the token registry with overrides applied
func (c *Config) Registry() *Registry {
	if c.registry == nil {
		c.registry = DefaultRegistry()
	}
	return c.registry
}

func setDefaults(v *viper.Viper) {
	// Chain defaults (BSC mainnet)
	v.SetDefault("chain.id", 56)
	v.SetDefault("chain.rpc_endpoints", []map[string]any{
		{"url": "https://bsc-dataseed.binance.org", "weight": 1},
		{"url": "https://bsc-dataseed1.defibit.io", "weight": 1},
	})
	v.SetDefault("chain.health_check_interval", "30s")

	// Quote defaults
	v.SetDefault("quote.routers", []map[string]any{
		{"name": "PANCAKE", "address": PancakeRouterV2},
		{"name": "APESWAP", "address": ApeSwapRouter},
	})
	v.SetDefault("quote.hops", []string{"WBNB", "USDT"})
	v.SetDefault("quote.forced_hops", []map[string]any{
		{"a": "GCC", "b": "BTCB", "via": "WBNB"},
	})
	v.SetDefault("quote.call_timeout", "5s")
	v.SetDefault("quote.max_concurrent_calls", 32)
	v.SetDefault("quote.slippage_bps", 300)
	v.SetDefault("quote.reflection_pad_bps", 200)
	v.SetDefault("quote.max_batch", 16)
	v.SetDefault("quote.workers", 8)

	// Price defaults
	v.SetDefault("price.featured_token", "GCC")
	v.SetDefault("price.sources", []string{"pricebook", "dexscreener", "coingecko", "onchain"})
	v.SetDefault("price.pricebook_url", "")
	v.SetDefault("price.dexscreener_url", "https://api.dexscreener.com/latest/dex/pairs/bsc/")
	v.SetDefault("price.dexscreener_pair", "")
	v.SetDefault("price.coingecko_url", "https://api.coingecko.com/api/v3/simple/price")
	v.SetDefault("price.coingecko_id", "")
	v.SetDefault("price.timeout", "4s")
	v.SetDefault("price.retry.max_attempts", 3)
	v.SetDefault("price.retry.base_delay", "200ms")
	v.SetDefault("price.retry.max_delay", "5s")
	v.SetDefault("price.retry.jitter", "200ms")
	v.SetDefault("price.circuit.failure_threshold", 5)
	v.SetDefault("price.circuit.open_for", "30s")
	v.SetDefault("price.readthrough_ttl", "25s")
	v.SetDefault("price.refresh_schedule", "@every 30s")
	v.SetDefault("price.rate_limit.requests_per_minute", 120)
	v.SetDefault("price.rate_limit.burst", 5)

	// Cache defaults
	v.SetDefault("cache.durable", "redis")
	v.SetDefault("cache.price_key", "pricebook:last_good")
	v.SetDefault("cache.price_ttl", "24h")
	v.SetDefault("cache.token_ttl", "24h")
	v.SetDefault("cache.l1_max_size", 1000)
	v.SetDefault("cache.l1_max_ttl", "1m")
	v.SetDefault("cache.dynamo_table", "safeswap-cache")

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// AWS defaults
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.sns_topic_arn", "")

	// Observability defaults
	v.SetDefault("observability.service_name", "safeswap-quoter")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_ratio", 1.0)

	// HTTP defaults
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "15s")
}

// parse resolves symbols and addresses into typed values
func (c *Config) parse() error {
	reg := DefaultRegistry()
	for _, o := range c.Tokens {
		if !common.IsHexAddress(o.Address) {
			return fmt.Errorf("token %s: invalid address %q", o.Symbol, o.Address)
		}
		reg.Register(TokenInfo{
			Symbol:   strings.ToUpper(o.Symbol),
			Address:  common.HexToAddress(o.Address),
			Decimals: o.Decimals,
		})
	}
	c.registry = reg

	routers := make([]Router, 0, len(c.Quote.RouterEntries))
	for _, r := range c.Quote.RouterEntries {
		if !common.IsHexAddress(r.Address) {
			return fmt.Errorf("router %s: invalid address %q", r.Name, r.Address)
		}
		routers = append(routers, Router{Name: strings.ToUpper(r.Name), Address: common.HexToAddress(r.Address)})
	}
	c.Quote.parsedRouters = routers

	hops := make([]common.Address, 0, len(c.Quote.Hops))
	for _, h := range c.Quote.Hops {
		tok, err := reg.Resolve(h)
		if err != nil {
			return fmt.Errorf("hop %q: %w", h, err)
		}
		hops = append(hops, reg.Wrapped(tok).Address)
	}
	c.Quote.parsedHops = hops

	forced := make([]ForcedHop, 0, len(c.Quote.ForcedHops))
	for _, rule := range c.Quote.ForcedHops {
		var addrs [3]common.Address
		for i, s := range []string{rule.A, rule.B, rule.Via} {
			tok, err := reg.Resolve(s)
			if err != nil {
				return fmt.Errorf("forced hop %s/%s via %s: %w", rule.A, rule.B, rule.Via, err)
			}
			addrs[i] = reg.Wrapped(tok).Address
		}
		forced = append(forced, ForcedHop{A: addrs[0], B: addrs[1], Via: addrs[2]})
	}
	c.Quote.parsedForcedHops = forced

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Chain.RPCEndpoints) == 0 {
		return fmt.Errorf("at least one RPC endpoint is required")
	}

	if len(c.Quote.RouterEntries) == 0 {
		return fmt.Errorf("at least one router is required")
	}
	if c.Quote.CallTimeout <= 0 {
		return fmt.Errorf("quote call timeout must be > 0")
	}
	if c.Quote.SlippageBps < 0 || c.Quote.SlippageBps >= 10_000 {
		return fmt.Errorf("slippage bps must be in [0, 10000): %d", c.Quote.SlippageBps)
	}
	if c.Quote.ReflectionPadBps < 0 || c.Quote.ReflectionPadBps >= 10_000 {
		return fmt.Errorf("reflection pad bps must be in [0, 10000): %d", c.Quote.ReflectionPadBps)
	}

	if _, err := c.Registry().Resolve(c.Price.FeaturedToken); err != nil {
		return fmt.Errorf("featured token: %w", err)
	}
	if c.Price.Retry.MaxAttempts < 1 {
		return fmt.Errorf("price retry max attempts must be >= 1")
	}
	validSources := map[string]bool{
		"pricebook":   true,
		"dexscreener": true,
		"coingecko":   true,
		"onchain":     true,
	}
	for _, s := range c.Price.Sources {
		if !validSources[s] {
			return fmt.Errorf("unknown price source: %s", s)
		}
	}

	switch c.Cache.Durable {
	case "redis":
		if c.Redis.Address == "" {
			return fmt.Errorf("redis address is required")
		}
	case "dynamodb":
		if c.Cache.DynamoTable == "" {
			return fmt.Errorf("dynamo table is required")
		}
		if c.AWS.Region == "" {
			return fmt.Errorf("AWS region is required")
		}
	case "none":
	default:
		return fmt.Errorf("invalid durable cache: %s", c.Cache.Durable)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	return nil
}
