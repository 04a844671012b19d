package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env         string `mapstructure:"GO_ENV"`
	Port        string `mapstructure:"PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	FrontendURL string `mapstructure:"FRONTEND_URL"`

	// Redis backs per-user send throttling; chat keeps working without it
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	// Chat
	ChatSendLimit      int           `mapstructure:"CHAT_SEND_LIMIT"`
	ChatSendWindow     time.Duration `mapstructure:"CHAT_SEND_WINDOW"`
	TypingThrottle     time.Duration `mapstructure:"CHAT_TYPING_THROTTLE"`
	MaxMessageLength   int           `mapstructure:"CHAT_MAX_MESSAGE_LENGTH"`
	SocketPingInterval time.Duration `mapstructure:"SOCKET_PING_INTERVAL"`
}

var AppConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("GO_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("FRONTEND_URL", "http://localhost:5173")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("CHAT_SEND_LIMIT", 30)
	v.SetDefault("CHAT_SEND_WINDOW", time.Minute)
	v.SetDefault("CHAT_TYPING_THROTTLE", 3*time.Second)
	v.SetDefault("CHAT_MAX_MESSAGE_LENGTH", 8000)
	v.SetDefault("SOCKET_PING_INTERVAL", 25*time.Second)
}

func LoadConfig() {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()
	setDefaults(v)

	// AutomaticEnv only resolves keys viper already knows about
	for _, key := range []string{"DATABASE_URL", "JWT_SECRET", "REDIS_PASSWORD"} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	if err := v.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Unable to decode config: %v", err)
	}
}

// Default returns a config populated with defaults only; used by tests and tools.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}
