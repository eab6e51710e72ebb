package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	DebugMode    bool   `env:"DEBUG_MODE"`               // Режим дебага
	Host         string `env:"LOCAL_API_HOST"`           // Адрес, на котором слушает локальный API
	Port         int    `env:"LOCAL_API_PORT"`           // Порт локального API; если не задан — берётся PORT
	MaxBodyBytes int64  `env:"LOCAL_API_MAX_BODY_BYTES"` // Максимальный размер тела запроса (скриншоты в base64 большие)
	// MockOpenAI: "true"|"false"; пусто — мок, если не настроен ни ключ, ни секрет
	MockOpenAI string `env:"MOCK_OPENAI"`
	OpenAI     OpenAIConfig

	// Ограничения истории, отправляемой модели. Неположительные значения заменяются дефолтами
	MaxHistoryMessages int    `env:"MAX_HISTORY_MESSAGES"`
	MaxHistoryChars    int    `env:"MAX_HISTORY_CHARS"`
	ReplyLanguage      string `env:"REPLY_LANGUAGE"` // Язык ответа, подставляется в системный промпт

	Screenshots    ScreenshotConfig
	MetricsEnabled bool `env:"METRICS_ENABLED"` // Отдавать /metrics

	// Клиент (cmd/ask)
	AnalyzeURL     string `env:"ANALYZE_URL"`     // Полный URL эндпоинта /analyze
	WelcomeMessage string `env:"WELCOME_MESSAGE"` // Приветствие новой сессии, пусто — без приветствия
}

// OpenAIConfig параметры модели и источники ключа.
type OpenAIConfig struct {
	APIKey      string  `env:"OPENAI_API_KEY"`   // Ключ для локальной разработки
	SecretID    string  `env:"OPENAI_SECRET_ID"` // Id секрета в AWS Secrets Manager с ключом внутри
	BaseURL     string  `env:"OPENAI_BASE_URL"`  // Пусто — адрес SDK по умолчанию
	Model       string  `env:"OPENAI_MODEL"`
	Temperature float64 `env:"OPENAI_TEMPERATURE"`
	MaxTokens   int64   `env:"OPENAI_MAX_TOKENS"`
}

// ScreenshotConfig отладочное сохранение присланных скриншотов.
type ScreenshotConfig struct {
	DumpEnabled bool   `env:"SCREENSHOT_DUMP_ENABLED"`
	Dir         string `env:"SCREENSHOT_DUMP_DIR"`
	TTLSeconds  int    `env:"SCREENSHOT_TTL_SECONDS"` // Время жизни сохранённых скриншотов, в секундах
}

const (
	DefaultPort               = 8787
	DefaultMaxBodyBytes int64 = 25_000_000
	DefaultHistoryMessages    = 40
	DefaultHistoryChars       = 12000
)

// Defaults возвращает конфигурацию с предустановленными значениями по умолчанию.
// Эти значения перекрываются .env, переменными окружения и флагами CLI.
func Defaults() *Config {
	return &Config{
		DebugMode:    false,
		Host:         "127.0.0.1",
		Port:         DefaultPort,
		MaxBodyBytes: DefaultMaxBodyBytes,
		OpenAI: OpenAIConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   600,
		},
		MaxHistoryMessages: DefaultHistoryMessages,
		MaxHistoryChars:    DefaultHistoryChars,
		ReplyLanguage:      "Traditional Chinese",
		Screenshots: ScreenshotConfig{
			DumpEnabled: false,
			Dir:         os.TempDir(),
			TTLSeconds:  600,
		},
		MetricsEnabled: true,
		AnalyzeURL:     "http://127.0.0.1:8787/analyze",
		WelcomeMessage: "Hi! Ask me anything, or attach a screenshot.",
	}
}

// NewConfig загружает конфигурацию приложения из .env, окружения и os.Args.
func NewConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load загружает конфигурацию: дефолты → .env → окружение → флаги из args.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	// PORT — запасной вариант для LOCAL_API_PORT
	if _, ok := os.LookupEnv("LOCAL_API_PORT"); !ok {
		if p, ok := os.LookupEnv("PORT"); ok && strings.TrimSpace(p) != "" {
			port, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, fmt.Errorf("config: parse PORT: %w", err)
			}
			cfg.Port = port
		}
	}

	fs := flag.NewFlagSet("local-api", flag.ContinueOnError)
	fs.BoolVar(&cfg.DebugMode, "debug-mode", cfg.DebugMode, "включить режим дебага")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "адрес для прослушивания")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "порт для прослушивания")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", cfg.MaxBodyBytes, "максимальный размер тела запроса, байт")
	fs.StringVar(&cfg.MockOpenAI, "mock-openai", cfg.MockOpenAI, "мок вместо OpenAI: true|false, пусто — авто")
	// OpenAI
	fs.StringVar(&cfg.OpenAI.SecretID, "openai-secret-id", cfg.OpenAI.SecretID, "id секрета AWS Secrets Manager с ключом OpenAI")
	fs.StringVar(&cfg.OpenAI.BaseURL, "openai-base-url", cfg.OpenAI.BaseURL, "базовый URL OpenAI API")
	fs.StringVar(&cfg.OpenAI.Model, "openai-model", cfg.OpenAI.Model, "модель OpenAI")
	fs.Float64Var(&cfg.OpenAI.Temperature, "openai-temperature", cfg.OpenAI.Temperature, "температура модели")
	fs.Int64Var(&cfg.OpenAI.MaxTokens, "openai-max-tokens", cfg.OpenAI.MaxTokens, "максимум токенов ответа")
	// История и промпт
	fs.IntVar(&cfg.MaxHistoryMessages, "max-history-messages", cfg.MaxHistoryMessages, "максимум сообщений истории для модели")
	fs.IntVar(&cfg.MaxHistoryChars, "max-history-chars", cfg.MaxHistoryChars, "максимум символов истории для модели")
	fs.StringVar(&cfg.ReplyLanguage, "reply-language", cfg.ReplyLanguage, "язык ответа модели")
	// Скриншоты
	fs.BoolVar(&cfg.Screenshots.DumpEnabled, "screenshot-dump", cfg.Screenshots.DumpEnabled, "сохранять присланные скриншоты во временную папку")
	fs.StringVar(&cfg.Screenshots.Dir, "screenshot-dump-dir", cfg.Screenshots.Dir, "папка для сохранённых скриншотов")
	fs.IntVar(&cfg.Screenshots.TTLSeconds, "screenshot-ttl-seconds", cfg.Screenshots.TTLSeconds, "через сколько секунд удалять сохранённые скриншоты")
	fs.BoolVar(&cfg.MetricsEnabled, "metrics", cfg.MetricsEnabled, "отдавать метрики Prometheus на /metrics")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.MaxHistoryMessages <= 0 {
		c.MaxHistoryMessages = DefaultHistoryMessages
	}
	if c.MaxHistoryChars <= 0 {
		c.MaxHistoryChars = DefaultHistoryChars
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	c.MockOpenAI = strings.ToLower(strings.TrimSpace(c.MockOpenAI))
	c.OpenAI.APIKey = strings.TrimSpace(c.OpenAI.APIKey)
	c.OpenAI.SecretID = strings.TrimSpace(c.OpenAI.SecretID)
	if strings.TrimSpace(c.Screenshots.Dir) == "" {
		c.Screenshots.Dir = os.TempDir()
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: port out of range: %d", c.Port))
	}
	switch c.MockOpenAI {
	case "", "true", "false":
	default:
		errs = append(errs, fmt.Errorf("config: MOCK_OPENAI must be true or false, got %q", c.MockOpenAI))
	}
	return errors.Join(errs...)
}

// Mock сообщает, нужно ли отвечать моком вместо обращения к модели.
func (c *Config) Mock() bool {
	switch c.MockOpenAI {
	case "true":
		return true
	case "false":
		return false
	default:
		return c.OpenAI.APIKey == "" && c.OpenAI.SecretID == ""
	}
}

// Addr возвращает адрес для прослушивания в виде host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
