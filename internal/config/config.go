package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crossarb/pkg/utils"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Security  SecurityConfig
	Exchanges ExchangesConfig
	Detector  DetectorConfig
	Executor  ExecutorConfig
	Health    HealthConfig
	Logging   LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port int
	Host string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// RedisConfig - настройки Redis для публикации событий
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Префикс каналов публикации событий
	ChannelPrefix string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// Ключ AES-256 для расшифровки API ключей бирж из БД
	EncryptionKey string
	// Пользователь, чьи активные ключи из БД перекрывают переменные
	// окружения (0 = брать ключи только из окружения)
	CredentialUserID int
}

// ExchangeConfig - настройки одной биржи
type ExchangeConfig struct {
	Name      string
	APIKey    string
	APISecret string
	// Лимит запросов к REST API
	RateLimit float64
	Burst     float64
	// Ставка комиссии тейкера (доля, 0.0035 = 0.35%)
	TakerFee decimal.Decimal
}

// ExchangesConfig - настройки всех подключаемых бирж
type ExchangesConfig struct {
	Enabled []ExchangeConfig
	// Торгуемые пары в каноническом формате (BTCUSDT)
	Pairs []string
}

// DetectorConfig - настройки движка обнаружения возможностей
type DetectorConfig struct {
	// Интервал сканирования рынков
	ScanInterval time.Duration
	// Минимальный чистый профит (%) для регистрации возможности
	MinProfitPercentage decimal.Decimal
	// Минимальный профит (%) отдельной биржи в мульти-биржевой стратегии
	MinProfitPerExchange decimal.Decimal
	// Время жизни возможности с момента обнаружения
	OpportunityTTL time.Duration
	// Максимальный возраст тикера для участия в сканировании
	TickerMaxAge time.Duration
	// Глубина запрашиваемого стакана
	OrderBookDepth int
	// Максимальная доля пула на одну ногу мульти-биржевой стратегии
	MaxLegFraction decimal.Decimal
	// Доля пула, отводимая сложной (complex) стратегии
	ComplexPoolFraction decimal.Decimal
	// Консервативный коэффициент: торгуем долей доступной ликвидности
	ConservativeAllocation decimal.Decimal
	// Параллелизм сканирования пар
	ScanConcurrency int
	// Потолок объёма по парам (опционально, отсутствие = без потолка)
	AmountCaps map[string]decimal.Decimal
}

// ExecutorConfig - настройки координатора исполнения
type ExecutorConfig struct {
	// Допустимое отклонение текущей цены от цены обнаружения (%)
	PriceTolerance decimal.Decimal
	// Минимальная доля профита при повторной проверке перед исполнением
	ProfitRecheckFraction decimal.Decimal
	// Дедлайн исполнения: по истечении ноги отменяются
	ExecutionTimeout time.Duration
	// Таймаут размещения одного ордера
	OrderTimeout time.Duration
	// Интервал опроса статуса ордера
	OrderPollInterval time.Duration
	// Максимум одновременных исполнений (0 = без лимита)
	MaxConcurrentExecutions int
	// Проверять балансы перед исполнением
	CheckBalances bool
	// Размещать ноги одновременно (false = последовательно)
	SimultaneousLegs bool
	// Автоматически исполнять лучшие возможности из реестра
	AutoExecute bool
	// Интервал диспетчеризации при автоисполнении
	DispatchInterval time.Duration
}

// HealthConfig - настройки менеджера соединений
type HealthConfig struct {
	// Период проверки живости соединений
	CheckInterval time.Duration
	// Окно без данных, после которого соединение считается застойным
	StaleWindow time.Duration
	// Максимальный возраст рыночных данных для детектора
	MarketDataMaxAge time.Duration
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "crossarb"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", "localhost:6379"),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			ChannelPrefix: getEnv("REDIS_CHANNEL_PREFIX", "crossarb"),
		},
		Security: SecurityConfig{
			EncryptionKey:    getEnv("ENCRYPTION_KEY", ""),
			CredentialUserID: getEnvAsInt("CREDENTIAL_USER_ID", 0),
		},
		Exchanges: ExchangesConfig{
			Enabled: loadExchanges(),
			Pairs:   getEnvAsList("TRADING_PAIRS", []string{"BTCUSDT", "ETHUSDT", "USDTIRT"}),
		},
		Detector: DetectorConfig{
			ScanInterval:           getEnvAsDuration("SCAN_INTERVAL", 5*time.Second),
			MinProfitPercentage:    getEnvAsDecimal("MIN_PROFIT_PERCENTAGE", "0.5"),
			MinProfitPerExchange:   getEnvAsDecimal("MIN_PROFIT_PER_EXCHANGE", "0.1"),
			OpportunityTTL:         getEnvAsDuration("OPPORTUNITY_TTL", 60*time.Second),
			TickerMaxAge:           getEnvAsDuration("TICKER_MAX_AGE", 30*time.Second),
			OrderBookDepth:         getEnvAsInt("ORDER_BOOK_DEPTH", 20),
			MaxLegFraction:         getEnvAsDecimal("MAX_LEG_FRACTION", "0.4"),
			ComplexPoolFraction:    getEnvAsDecimal("COMPLEX_POOL_FRACTION", "0.3333"),
			ConservativeAllocation: getEnvAsDecimal("CONSERVATIVE_ALLOCATION", "0.8"),
			ScanConcurrency:        getEnvAsInt("SCAN_CONCURRENCY", 4),
			AmountCaps:             loadAmountCaps(),
		},
		Executor: ExecutorConfig{
			PriceTolerance:          getEnvAsDecimal("PRICE_TOLERANCE", "2.0"),
			ProfitRecheckFraction:   getEnvAsDecimal("PROFIT_RECHECK_FRACTION", "0.8"),
			ExecutionTimeout:        getEnvAsDuration("EXECUTION_TIMEOUT", 30*time.Second),
			OrderTimeout:            getEnvAsDuration("ORDER_TIMEOUT", 10*time.Second),
			OrderPollInterval:       getEnvAsDuration("ORDER_POLL_INTERVAL", 1*time.Second),
			MaxConcurrentExecutions: getEnvAsInt("MAX_CONCURRENT_EXECUTIONS", 3),
			CheckBalances:           getEnvAsBool("CHECK_BALANCES", true),
			SimultaneousLegs:        getEnvAsBool("SIMULTANEOUS_LEGS", true),
			AutoExecute:             getEnvAsBool("AUTO_EXECUTE", false),
			DispatchInterval:        getEnvAsDuration("DISPATCH_INTERVAL", 2*time.Second),
		},
		Health: HealthConfig{
			CheckInterval:    getEnvAsDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
			StaleWindow:      getEnvAsDuration("STALE_WINDOW", 5*time.Minute),
			MarketDataMaxAge: getEnvAsDuration("MARKET_DATA_MAX_AGE", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadAmountCaps разбирает AMOUNT_CAPS вида "BTCUSDT:0.5,ETHUSDT:10".
// Некорректные записи пропускаются
func loadAmountCaps() map[string]decimal.Decimal {
	raw := getEnv("AMOUNT_CAPS", "")
	if raw == "" {
		return nil
	}

	caps := make(map[string]decimal.Decimal)
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 {
			continue
		}
		value, err := decimal.NewFromString(parts[1])
		if err != nil || value.LessThanOrEqual(decimal.Zero) {
			continue
		}
		caps[strings.ToUpper(parts[0])] = value
	}
	if len(caps) == 0 {
		return nil
	}
	return caps
}

// loadExchanges собирает настройки бирж из переменных окружения.
// Имена бирж в EXCHANGES, ключи в <NAME>_API_KEY / <NAME>_API_SECRET
func loadExchanges() []ExchangeConfig {
	names := getEnvAsList("EXCHANGES", []string{"nobitex", "wallex", "ramzinex"})

	exchanges := make([]ExchangeConfig, 0, len(names))
	for _, name := range names {
		prefix := strings.ToUpper(name)
		exchanges = append(exchanges, ExchangeConfig{
			Name:      strings.ToLower(name),
			APIKey:    getEnv(prefix+"_API_KEY", ""),
			APISecret: getEnv(prefix+"_API_SECRET", ""),
			RateLimit: getEnvAsFloat(prefix+"_RATE_LIMIT", 10),
			Burst:     getEnvAsFloat(prefix+"_BURST", 20),
			// 0.35% - типичная комиссия тейкера иранских спотовых бирж
			TakerFee: getEnvAsDecimal(prefix+"_TAKER_FEE", "0.0035"),
		})
	}
	return exchanges
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для расшифровки API ключей бирж
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for decrypting API keys")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if len(c.Exchanges.Enabled) < 2 {
		return fmt.Errorf("at least 2 exchanges required for arbitrage, got %d", len(c.Exchanges.Enabled))
	}

	if len(c.Exchanges.Pairs) == 0 {
		return fmt.Errorf("TRADING_PAIRS must not be empty")
	}

	for _, ex := range c.Exchanges.Enabled {
		if err := utils.ValidateExchangeName(ex.Name); err != nil {
			return fmt.Errorf("EXCHANGES: %w", err)
		}
	}

	for _, pair := range c.Exchanges.Pairs {
		if err := utils.ValidatePair(pair); err != nil {
			return fmt.Errorf("TRADING_PAIRS: %w", err)
		}
	}

	if c.Detector.MinProfitPercentage.IsNegative() {
		return fmt.Errorf("MIN_PROFIT_PERCENTAGE cannot be negative, got %s", c.Detector.MinProfitPercentage)
	}

	if c.Detector.ScanInterval <= 0 {
		return fmt.Errorf("SCAN_INTERVAL must be positive, got %v", c.Detector.ScanInterval)
	}

	if c.Detector.ScanConcurrency < 1 {
		return fmt.Errorf("SCAN_CONCURRENCY must be at least 1, got %d", c.Detector.ScanConcurrency)
	}

	// Доля ноги не может превышать весь пул
	one := decimal.NewFromInt(1)
	if c.Detector.MaxLegFraction.LessThanOrEqual(decimal.Zero) || c.Detector.MaxLegFraction.GreaterThan(one) {
		return fmt.Errorf("MAX_LEG_FRACTION must be in (0, 1], got %s", c.Detector.MaxLegFraction)
	}

	if c.Detector.ConservativeAllocation.LessThanOrEqual(decimal.Zero) || c.Detector.ConservativeAllocation.GreaterThan(one) {
		return fmt.Errorf("CONSERVATIVE_ALLOCATION must be in (0, 1], got %s", c.Detector.ConservativeAllocation)
	}

	if c.Executor.PriceTolerance.IsNegative() {
		return fmt.Errorf("PRICE_TOLERANCE cannot be negative, got %s", c.Executor.PriceTolerance)
	}

	if c.Executor.ProfitRecheckFraction.LessThanOrEqual(decimal.Zero) || c.Executor.ProfitRecheckFraction.GreaterThan(one) {
		return fmt.Errorf("PROFIT_RECHECK_FRACTION must be in (0, 1], got %s", c.Executor.ProfitRecheckFraction)
	}

	if c.Executor.ExecutionTimeout <= 0 {
		return fmt.Errorf("EXECUTION_TIMEOUT must be positive, got %v", c.Executor.ExecutionTimeout)
	}

	if c.Executor.MaxConcurrentExecutions < 0 {
		return fmt.Errorf("MAX_CONCURRENT_EXECUTIONS cannot be negative, got %d", c.Executor.MaxConcurrentExecutions)
	}

	if c.Health.StaleWindow <= c.Health.CheckInterval {
		return fmt.Errorf("STALE_WINDOW (%v) must exceed HEALTH_CHECK_INTERVAL (%v)",
			c.Health.StaleWindow, c.Health.CheckInterval)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDecimal читает decimal. Денежные пороги не проходят через
// float64, иначе 0.1 перестаёт быть 0.1
func getEnvAsDecimal(key, defaultValue string) decimal.Decimal {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		value, _ = decimal.NewFromString(defaultValue)
	}
	return value
}

// getEnvAsList читает список значений, разделённых запятыми
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
