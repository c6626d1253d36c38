package config

import "time"

// Config defines the application configuration. Values can be set through
// config.yaml or environment variables prefixed with HYPERBOT_
// (e.g. HYPERBOT_SECURITY_MASTER_SECRET).
type Config struct {
	Log            LogConfig            `mapstructure:"log"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Security       SecurityConfig       `mapstructure:"security"`
	Gateway        GatewayConfig        `mapstructure:"gateway"`
	Reconnect      ReconnectConfig      `mapstructure:"reconnect"`
	Events         EventsConfig         `mapstructure:"events"`
	TelegramAlerts TelegramAlertsConfig `mapstructure:"telegram_alerts"`
	Gemini         GeminiConfig         `mapstructure:"gemini"`
	Branding       BrandingConfig       `mapstructure:"branding"`
	Messages       MessagesConfig       `mapstructure:"messages"`
	Scheduler      SchedulerConfig      `mapstructure:"scheduler"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig holds the sqlite database location.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// SecurityConfig holds the master secret the credential vault key is derived from.
type SecurityConfig struct {
	MasterSecret string `mapstructure:"master_secret" validate:"required,min=16"`
	KDFSalt      string `mapstructure:"kdf_salt"      validate:"required"`
}

// GatewayConfig configures the chat-network gateway connection for every session.
type GatewayConfig struct {
	URL            string        `mapstructure:"url"             validate:"required,url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"min=1s,max=5m"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"   validate:"min=1s,max=5m"`
	QRTimeout      time.Duration `mapstructure:"qr_timeout"      validate:"min=1s,max=5m"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"      validate:"min=1s,max=5m"`
	Browser        []string      `mapstructure:"browser"         validate:"len=3,dive,required"`
}

// ReconnectConfig configures the exponential-backoff reconnect policy.
type ReconnectConfig struct {
	MaxRetries int           `mapstructure:"max_retries" validate:"min=0,max=20"`
	BaseDelay  time.Duration `mapstructure:"base_delay"  validate:"min=100ms"`
	MaxDelay   time.Duration `mapstructure:"max_delay"   validate:"gtefield=BaseDelay"`
}

// EventsConfig configures the websocket event hub clients subscribe to.
type EventsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" validate:"required_if=Enabled true"`
	Path       string `mapstructure:"path"        validate:"required_if=Enabled true,omitempty,startswith=/"`
}

// TelegramAlertsConfig configures forwarding of selected status events to an operator chat.
type TelegramAlertsConfig struct {
	Token    string   `mapstructure:"token"`
	ChatID   int64    `mapstructure:"chat_id"  validate:"required_with=Token"`
	Statuses []string `mapstructure:"statuses" validate:"dive,oneof=connecting connected reconnecting error disconnected"`
}

// GeminiConfig configures the optional AI text generation used by fun commands.
type GeminiConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"       validate:"required_with=APIKey"`
	Temperature float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	Timeout     time.Duration `mapstructure:"timeout"     validate:"min=1s,max=5m"`
	MaxRetries  int           `mapstructure:"max_retries" validate:"min=0,max=5"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`

	BreakerFailures int           `mapstructure:"breaker_failures" validate:"min=0"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// BrandingConfig feeds the help card.
type BrandingConfig struct {
	BotName        string `mapstructure:"bot_name"        validate:"required"`
	Version        string `mapstructure:"version"`
	Owner          string `mapstructure:"owner"`
	OwnerNumber    string `mapstructure:"owner_number"`
	ChannelLink    string `mapstructure:"channel_link"    validate:"omitempty,url"`
	NewsletterJID  string `mapstructure:"newsletter_jid"`
	NewsletterName string `mapstructure:"newsletter_name"`
	ThumbnailURL   string `mapstructure:"thumbnail_url"   validate:"omitempty,url"`
	ImagePath      string `mapstructure:"image_path"`
}

// MessagesConfig holds user-facing reply texts.
type MessagesConfig struct {
	Greeting        string `mapstructure:"greeting"         validate:"required"`
	Connected       string `mapstructure:"connected"        validate:"required"`
	BotNotAdmin     string `mapstructure:"bot_not_admin"    validate:"required"`
	SenderNotAdmin  string `mapstructure:"sender_not_admin" validate:"required"`
	GroupOnly       string `mapstructure:"group_only"       validate:"required"`
	LinkRemoved     string `mapstructure:"link_removed"     validate:"required"`
	MentionRequired string `mapstructure:"mention_required" validate:"required"`
	GeneralError    string `mapstructure:"general_error"    validate:"required"`
}

// SchedulerConfig maps task names to their cron schedule.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig configures one scheduled task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}
