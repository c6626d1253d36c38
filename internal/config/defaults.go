package config

import "time"

// Default values for configuration
const (
	DefaultLogLevel = "info"
	DefaultLogJSON  = true

	DefaultDBPath = "hyperbot.db"

	DefaultKDFSalt = "hyperbot-credential-vault"

	DefaultGatewayURL            = "ws://127.0.0.1:8790"
	DefaultGatewayConnectTimeout = 60 * time.Second
	DefaultGatewayQueryTimeout   = 60 * time.Second
	DefaultGatewayQRTimeout      = 40 * time.Second
	DefaultGatewayKeepAlive      = 30 * time.Second

	DefaultReconnectMaxRetries = 3
	DefaultReconnectBaseDelay  = 2 * time.Second
	DefaultReconnectMaxDelay   = 10 * time.Second

	DefaultEventsListenAddr = ":8081"
	DefaultEventsPath       = "/events"

	DefaultGeminiModel       = "gemini-2.0-flash"
	DefaultGeminiTemperature = 1.0
	DefaultGeminiTimeout     = 30 * time.Second
	DefaultGeminiMaxRetries  = 2
	DefaultGeminiRetryDelay  = 2 * time.Second

	DefaultSQLMaintenanceSchedule = "0 0 4 * * *"
)

// DefaultBrowser identifies the engine to the chat network.
var DefaultBrowser = []string{"Hyper Bot", "Chrome", "1.0.0"}

// DefaultAlertStatuses are forwarded to the operator chat when alerts are enabled.
var DefaultAlertStatuses = []string{"error"}

// DefaultBranding feeds the help card.
var DefaultBranding = BrandingConfig{
	BotName:        "HYPERBOT",
	Version:        "1.0.0",
	Owner:          "JIMEX",
	NewsletterJID:  "120363161513685998@newsletter",
	NewsletterName: "HyperBot MD powered by JIMEX",
	ThumbnailURL:   "https://i.imgur.com/trP1VbB.png",
	ImagePath:      "assets/bot_image.jpg",
}

// DefaultMessages holds the default user-facing replies.
var DefaultMessages = MessagesConfig{
	Greeting:        "Hi, How can I help you?\nYou can use .menu for more info and commands.",
	Connected:       "🎉 *%s* is connected!",
	BotNotAdmin:     "Please make the bot an admin to use admin commands.",
	SenderNotAdmin:  "Sorry, only group admins can use this command.",
	GroupOnly:       "This command can only be used in groups.",
	LinkRemoved:     "⚠️ Links are not allowed in this group. Message from @%s was removed.",
	MentionRequired: "Please mention or reply to a user.",
	GeneralError:    "❌ An error occurred. Please try again later.",
}

// setDefaults registers default values for every optional key so that
// environment variables can override them.
func setDefaults(v viperSetter) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", DefaultLogJSON)

	v.SetDefault("database.path", DefaultDBPath)

	v.SetDefault("security.master_secret", "")
	v.SetDefault("security.kdf_salt", DefaultKDFSalt)

	v.SetDefault("gateway.url", DefaultGatewayURL)
	v.SetDefault("gateway.connect_timeout", DefaultGatewayConnectTimeout)
	v.SetDefault("gateway.query_timeout", DefaultGatewayQueryTimeout)
	v.SetDefault("gateway.qr_timeout", DefaultGatewayQRTimeout)
	v.SetDefault("gateway.keep_alive", DefaultGatewayKeepAlive)
	v.SetDefault("gateway.browser", DefaultBrowser)

	v.SetDefault("reconnect.max_retries", DefaultReconnectMaxRetries)
	v.SetDefault("reconnect.base_delay", DefaultReconnectBaseDelay)
	v.SetDefault("reconnect.max_delay", DefaultReconnectMaxDelay)

	v.SetDefault("events.enabled", true)
	v.SetDefault("events.listen_addr", DefaultEventsListenAddr)
	v.SetDefault("events.path", DefaultEventsPath)

	v.SetDefault("telegram_alerts.token", "")
	v.SetDefault("telegram_alerts.chat_id", 0)
	v.SetDefault("telegram_alerts.statuses", DefaultAlertStatuses)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", DefaultGeminiModel)
	v.SetDefault("gemini.temperature", DefaultGeminiTemperature)
	v.SetDefault("gemini.timeout", DefaultGeminiTimeout)
	v.SetDefault("gemini.max_retries", DefaultGeminiMaxRetries)
	v.SetDefault("gemini.retry_delay", DefaultGeminiRetryDelay)
	v.SetDefault("gemini.breaker_failures", 3)
	v.SetDefault("gemini.breaker_timeout", time.Minute)

	v.SetDefault("branding.bot_name", DefaultBranding.BotName)
	v.SetDefault("branding.version", DefaultBranding.Version)
	v.SetDefault("branding.owner", DefaultBranding.Owner)
	v.SetDefault("branding.owner_number", "")
	v.SetDefault("branding.channel_link", "")
	v.SetDefault("branding.newsletter_jid", DefaultBranding.NewsletterJID)
	v.SetDefault("branding.newsletter_name", DefaultBranding.NewsletterName)
	v.SetDefault("branding.thumbnail_url", DefaultBranding.ThumbnailURL)
	v.SetDefault("branding.image_path", DefaultBranding.ImagePath)

	v.SetDefault("messages.greeting", DefaultMessages.Greeting)
	v.SetDefault("messages.connected", DefaultMessages.Connected)
	v.SetDefault("messages.bot_not_admin", DefaultMessages.BotNotAdmin)
	v.SetDefault("messages.sender_not_admin", DefaultMessages.SenderNotAdmin)
	v.SetDefault("messages.group_only", DefaultMessages.GroupOnly)
	v.SetDefault("messages.link_removed", DefaultMessages.LinkRemoved)
	v.SetDefault("messages.mention_required", DefaultMessages.MentionRequired)
	v.SetDefault("messages.general_error", DefaultMessages.GeneralError)

	v.SetDefault("scheduler.tasks", map[string]any{
		"sql_maintenance": map[string]any{
			"enabled":  true,
			"schedule": DefaultSQLMaintenanceSchedule,
		},
	})
}

type viperSetter interface {
	SetDefault(key string, value any)
}
