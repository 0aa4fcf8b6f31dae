package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string        `mapstructure:"PORT"`
	Env           string        `mapstructure:"ENV"`
	AppName       string        `mapstructure:"APP_NAME"`
	PublicBaseURL string        `mapstructure:"PUBLIC_BASE_URL"`
	DatabaseURL   string        `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32         `mapstructure:"DB_MIN_CONNS"`
	DBMaxConnLife time.Duration `mapstructure:"DB_MAX_CONN_LIFETIME"`
	RedisURL      string        `mapstructure:"REDIS_URL"`
	CORSOrigins   []string      `mapstructure:"CORS_ORIGINS"`

	JWTSecret       string        `mapstructure:"JWT_SECRET"`
	JWTIssuer       string        `mapstructure:"JWT_ISSUER"`
	AccessTokenTTL  time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTokenTTL time.Duration `mapstructure:"REFRESH_TOKEN_TTL"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	MailEnabled       bool   `mapstructure:"MAIL_ENABLED"`
	MailServer        string `mapstructure:"MAIL_SERVER"`
	MailPort          int    `mapstructure:"MAIL_PORT"`
	MailUsername      string `mapstructure:"MAIL_USERNAME"`
	MailPassword      string `mapstructure:"MAIL_PASSWORD"`
	MailDefaultSender string `mapstructure:"MAIL_DEFAULT_SENDER"`

	TwilioAccountSID string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `mapstructure:"TWILIO_FROM_NUMBER"`

	VideoConferenceTimeout      int           `mapstructure:"VIDEOCONFERENCE_TIMEOUT"`
	ICEServers                  []string      `mapstructure:"ICE_SERVERS"`
	MaxAppointmentsPerDoctorDay int           `mapstructure:"MAX_APPOINTMENTS_PER_DOCTOR_DAY"`
	PDFFooterText               string        `mapstructure:"PDF_FOOTER_TEXT"`
	ReminderInterval            time.Duration `mapstructure:"REMINDER_INTERVAL"`
}

var keys = []string{
	"PORT", "ENV", "APP_NAME", "PUBLIC_BASE_URL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_MAX_CONN_LIFETIME", "REDIS_URL", "CORS_ORIGINS",
	"JWT_SECRET", "JWT_ISSUER", "ACCESS_TOKEN_TTL", "REFRESH_TOKEN_TTL",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"MAIL_ENABLED", "MAIL_SERVER", "MAIL_PORT", "MAIL_USERNAME", "MAIL_PASSWORD", "MAIL_DEFAULT_SENDER",
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER",
	"VIDEOCONFERENCE_TIMEOUT", "ICE_SERVERS", "MAX_APPOINTMENTS_PER_DOCTOR_DAY",
	"PDF_FOOTER_TEXT", "REMINDER_INTERVAL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("APP_NAME", "Telemed")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8000")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_MAX_CONN_LIFETIME", "30m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("JWT_ISSUER", "telemed")
	v.SetDefault("ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("REFRESH_TOKEN_TTL", "720h")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("MAIL_ENABLED", false)
	v.SetDefault("MAIL_SERVER", "smtp.gmail.com")
	v.SetDefault("MAIL_PORT", 587)
	v.SetDefault("MAIL_DEFAULT_SENDER", "noreply@telemed.local")
	v.SetDefault("VIDEOCONFERENCE_TIMEOUT", 3600)
	v.SetDefault("ICE_SERVERS", "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302")
	v.SetDefault("MAX_APPOINTMENTS_PER_DOCTOR_DAY", 20)
	v.SetDefault("PDF_FOOTER_TEXT", "Documento generado electrónicamente. Verifique su autenticidad con el código QR.")
	v.SetDefault("REMINDER_INTERVAL", "5m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.ICEServers = splitList(cfg.ICEServers, v.GetString("ICE_SERVERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// splitList normalizes comma-separated list values, trimming blanks.
func splitList(current []string, raw string) []string {
	if len(current) > 0 {
		raw = strings.Join(current, ",")
	}
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// MaxRoomMinutes is the default maximum duration of a video room, derived
// from VIDEOCONFERENCE_TIMEOUT.
func (c *Config) MaxRoomMinutes() int {
	if c.VideoConferenceTimeout <= 0 {
		return 60
	}
	return c.VideoConferenceTimeout / 60
}

// SigningKey returns the JWT signing key. Development falls back to a fixed
// key so the server can boot without configuration.
func (c *Config) SigningKey() []byte {
	if c.JWTSecret == "" && !c.IsProduction() {
		return []byte("telemed-development-signing-key-0000")
	}
	return []byte(c.JWTSecret)
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 bytes in production, got %d", len(c.JWTSecret))
		}
	}
	if c.Env != "development" && c.Env != "production" && c.Env != "test" {
		return fmt.Errorf("ENV must be \"development\", \"test\" or \"production\", got %q", c.Env)
	}
	if c.MailEnabled && c.MailUsername == "" {
		return fmt.Errorf("MAIL_USERNAME is required when MAIL_ENABLED is true")
	}
	if c.MaxAppointmentsPerDoctorDay <= 0 {
		return fmt.Errorf("MAX_APPOINTMENTS_PER_DOCTOR_DAY must be positive, got %d", c.MaxAppointmentsPerDoctorDay)
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	return nil
}

// SMSEnabled reports whether Twilio credentials are configured.
func (c *Config) SMSEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}
