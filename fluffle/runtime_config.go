package fluffle

import (
	"github.com/bwmarrin/discordgo"
	"log/slog"
)

var (
	columnRuntimeConfigAdminUsername = "admin_username"
	columnRuntimeConfigAdminPassword = "admin_password"
	columnRuntimeConfigPaused        = "paused"
)

// CommandOptions holds the runtime-tunable settings consulted while
// handling commands and triggers
//
//nolint:lll // struct tags can't be split
type CommandOptions struct {
	// RecoverPanic determines whether the bot should recover from panics
	// while executing commands and triggers
	RecoverPanic bool `json:"recover_panic" gorm:"not null;default:false"`

	// Error message sent to the user if their command fails
	DiscordErrorMessage string `json:"discord_error_message" gorm:"type:string" binding:"max=2000"`

	// Message sent when a user is rate limited. A single %s verb is
	// replaced with how long until they can try again.
	DiscordRateLimitMessage string `json:"discord_rate_limit_message" gorm:"type:string" binding:"max=2000"`

	// Message sent when a command is used in a channel the guild's
	// whitelist/blacklist denies
	DiscordChannelDeniedMessage string `json:"discord_channel_denied_message" gorm:"type:string" binding:"max=2000"`

	// Message sent to non-owners using commands while the bot is paused
	DiscordPausedMessage string `json:"discord_paused_message" gorm:"type:string" binding:"max=2000"`

	// Message sent when a user lacks the permissions a command requires.
	// The missing permissions are appended.
	DiscordPermissionDeniedMessage string `json:"discord_permission_denied_message" gorm:"type:string" binding:"max=2000"`

	// If specified, the bot will send certain events to the specified
	// channel, such as when it connects
	DiscordNotificationChannelID string `json:"discord_notification_channel_id" gorm:"type:string"`
}

// RuntimeConfig stores settings that can be modified while the bot is
// running, and are persisted across restarts (e.g. being paused).
//
//nolint:lll // struct tags can't be split
type RuntimeConfig struct {
	ModelUintID
	ModelUnixTime
	CommandOptions

	// Paused indicates whether the bot is currently paused. While paused,
	// only owners may use commands, and triggers don't fire.
	Paused bool `json:"paused" gorm:"not null;default:false"`

	// Opens a discord gateway websocket connection.
	// If the bot receives commands via gateway, this is required.
	// If the bot receives commands via webhook, enabling this allows the
	// bot to appear online, set its status and receive messages.
	DiscordGatewayEnabled bool `json:"discord_gateway_enabled" gorm:"not null;default:true"`

	// DiscordCustomStatus is the custom status message displayed for the bot on Discord.
	DiscordCustomStatus string `json:"discord_custom_status" gorm:"type:string" binding:"max=128"`

	// AdminUsername for the admin API
	AdminUsername string `json:"admin_username" gorm:"type:string" log:"[redacted]"`

	// AdminPassword stores the hashed password for the admin user
	AdminPassword string `json:"-" gorm:"type:string" log:"[redacted]"`

	LogLevel               DBLogLevel `gorm:"default:INFO;type:string;check:log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"log_level" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel        DBLogLevel `gorm:"default:INFO;type:string;check:discord_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discord_log_level" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel      DBLogLevel `gorm:"default:WARN;column:discordgo_log_level;type:string;check:discordgo_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discordgo_log_level" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel       DBLogLevel `gorm:"default:INFO;type:string;check:database_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"database_log_level" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	DiscordWebhookLogLevel DBLogLevel `gorm:"default:INFO;type:string;check:discord_webhook_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discord_webhook_log_level" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	APILogLevel            DBLogLevel `gorm:"default:INFO;type:string;check:api_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"api_log_level" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
}

func (RuntimeConfig) TableName() string {
	return "config"
}

func (r RuntimeConfig) LogValue() slog.Value {
	return structToSlogValue(r)
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		CommandOptions: CommandOptions{
			RecoverPanic:                   true,
			DiscordErrorMessage:            DefaultDiscordErrorMessage,
			DiscordRateLimitMessage:        DefaultDiscordRateLimitMessage,
			DiscordChannelDeniedMessage:    DefaultDiscordChannelDeniedMessage,
			DiscordPausedMessage:           DefaultDiscordPausedMessage,
			DiscordPermissionDeniedMessage: DefaultDiscordPermissionDeniedMessage,
		},
		DiscordGatewayEnabled:  true,
		DiscordCustomStatus:    DefaultDiscordCustomStatus,
		LogLevel:               DBLogLevelInfo,
		DiscordLogLevel:        DBLogLevelInfo,
		DiscordGoLogLevel:      DBLogLevelWarn,
		DatabaseLogLevel:       DBLogLevelInfo,
		DiscordWebhookLogLevel: DBLogLevelInfo,
		APILogLevel:            DBLogLevelInfo,
	}
}

// RuntimeConfigUpdate is a partial update to [RuntimeConfig]. Nil
// fields are left unchanged.
//
//nolint:lll // can't break tags
type RuntimeConfigUpdate struct {
	Paused       *bool `json:"paused,omitempty"`
	RecoverPanic *bool `json:"recover_panic,omitempty"`

	DiscordGatewayEnabled          *bool   `json:"discord_gateway_enabled,omitempty"`
	DiscordCustomStatus            *string `json:"discord_custom_status,omitempty" binding:"omitnil,max=128"`
	DiscordRateLimitMessage        *string `json:"discord_rate_limit_message,omitempty" binding:"omitnil,min=1,max=2000"`
	DiscordErrorMessage            *string `json:"discord_error_message,omitempty" binding:"omitnil,min=1,max=2000"`
	DiscordChannelDeniedMessage    *string `json:"discord_channel_denied_message,omitempty" binding:"omitnil,min=1,max=2000"`
	DiscordPausedMessage           *string `json:"discord_paused_message,omitempty" binding:"omitnil,min=1,max=2000"`
	DiscordPermissionDeniedMessage *string `json:"discord_permission_denied_message,omitempty" binding:"omitnil,min=1,max=2000"`
	DiscordNotificationChannelID   *string `json:"discord_notification_channel_id,omitempty" binding:"omitnil,omitempty,numeric"`

	LogLevel               *DBLogLevel `json:"log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel        *DBLogLevel `json:"discord_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel      *DBLogLevel `json:"discordgo_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel       *DBLogLevel `json:"database_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordWebhookLogLevel *DBLogLevel `json:"discord_webhook_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	APILogLevel            *DBLogLevel `json:"api_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (b RuntimeConfigUpdate) validate() error {
	return structValidator.Struct(b)
}

// getDiscordPresenceStatusUpdate returns the presence the bot should
// show. While paused, the bot shows as 'do not disturb'.
func getDiscordPresenceStatusUpdate(config RuntimeConfig) discordgo.GatewayStatusUpdate {
	if config.Paused {
		return discordgo.GatewayStatusUpdate{
			AFK:    true,
			Status: string(discordgo.StatusDoNotDisturb),
		}
	}
	status := discordgo.GatewayStatusUpdate{Status: string(discordgo.StatusOnline)}
	if config.DiscordCustomStatus != "" {
		status.Game = discordgo.Activity{
			Name:  "Custom Status",
			Type:  discordgo.ActivityTypeCustom,
			State: config.DiscordCustomStatus,
		}
	}
	return status
}

// getDiscordStatusData is the gateway presence update equivalent of
// getDiscordPresenceStatusUpdate, sent when the config changes while
// connected
func getDiscordStatusData(config RuntimeConfig) discordgo.UpdateStatusData {
	presence := getDiscordPresenceStatusUpdate(config)
	data := discordgo.UpdateStatusData{
		AFK:        presence.AFK,
		Status:     presence.Status,
		Activities: []*discordgo.Activity{},
	}
	if presence.Game.State != "" {
		data.Activities = append(data.Activities, &presence.Game)
	}
	return data
}
