package fluffle

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"sync"
)

// InteractionLog records every command/autocomplete interaction received
//
//nolint:lll // struct tags can't be split
type InteractionLog struct {
	ModelUintID
	Method        DiscordInteractionReceiveMethod `json:"method" gorm:"type:string"` // webhook or gateway
	InteractionID string                          `json:"interaction_id" gorm:"not null"`
	Type          string                          `json:"type" gorm:"type:string"`
	CommandName   string                          `json:"command_name" gorm:"type:string;index"`
	UserID        string                          `json:"user_id" gorm:"not null"`
	Username      string                          `json:"username" gorm:"type:string"`
	AppID         string                          `json:"application_id" gorm:"type:string"`
	GuildID       string                          `json:"guild_id" gorm:"type:string"`
	ChannelID     string                          `json:"channel_id" gorm:"type:string"`
	Context       int                             `json:"context"`
	Payload       string                          `json:"payload" gorm:"type:string"`
	CreatedAt     int64                           `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

func newInteractionLog(
	i *discordgo.InteractionCreate,
	u *discordgo.User,
	handler InteractionHandler,
) (*InteractionLog, error) {
	p, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("error marshaling interaction: %w", err)
	}

	interactionLog := &InteractionLog{
		InteractionID: i.ID,
		Type:          i.Type.String(),
		AppID:         i.AppID,
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
		Context:       int(i.Context),
		Payload:       string(p),
		Method:        handler.InteractionReceiveMethod(),
	}
	if u != nil {
		interactionLog.UserID = u.ID
		interactionLog.Username = u.String()
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand,
		discordgo.InteractionApplicationCommandAutocomplete:
		interactionLog.CommandName = i.ApplicationCommandData().Name
	}
	return interactionLog, nil
}

// InteractionHandler responds to a single interaction. Commands use it
// the same way whether the interaction arrived over the gateway or as
// a webhook POST.
type InteractionHandler interface {
	// Respond sends the initial interaction response
	Respond(ctx context.Context, i *discordgo.InteractionResponse) error

	// GetResponse returns the message sent as the initial response
	GetResponse(ctx context.Context) (*discordgo.Message, error)

	// Edit edits the initial response (or fills in a deferred one)
	Edit(
		ctx context.Context,
		e *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Followup sends an additional message after the initial response
	Followup(
		ctx context.Context,
		params *discordgo.WebhookParams,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Delete deletes the initial response
	Delete(ctx context.Context, opts ...discordgo.RequestOption)
	GetInteraction() *discordgo.InteractionCreate
	InteractionReceiveMethod() DiscordInteractionReceiveMethod
	Logger() *slog.Logger
	Config() CommandOptions
}

// GatewayHandler is an [InteractionHandler] for interactions received
// over the gateway websocket, responding through the session
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
	config      CommandOptions
	mu          *sync.RWMutex
}

func newGatewayHandler(
	session DiscordSessionHandler,
	i *discordgo.InteractionCreate,
	config CommandOptions,
	logger *slog.Logger,
) GatewayHandler {
	return GatewayHandler{
		session:     session,
		interaction: i,
		logger:      logger,
		config:      config,
		mu:          &sync.RWMutex{},
	}
}

func (GatewayHandler) InteractionReceiveMethod() DiscordInteractionReceiveMethod {
	return discordInteractionReceiveMethodGateway
}

func (w GatewayHandler) Config() CommandOptions {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	i *discordgo.InteractionResponse,
) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session.InteractionRespond(
		w.interaction.Interaction,
		i,
		discordgo.WithContext(ctx),
	)
}

func (w GatewayHandler) GetResponse(ctx context.Context) (
	*discordgo.Message,
	error,
) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.session.InteractionResponse(
		w.interaction.Interaction,
		discordgo.WithContext(ctx),
	)
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Edit(
	ctx context.Context,
	e *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	opts = append(opts, discordgo.WithContext(ctx))
	return w.session.InteractionResponseEdit(w.interaction.Interaction, e, opts...)
}

func (w GatewayHandler) Followup(
	ctx context.Context,
	params *discordgo.WebhookParams,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	opts = append(opts, discordgo.WithContext(ctx))
	return w.session.FollowupMessageCreate(w.interaction.Interaction, true, params, opts...)
}

func (w GatewayHandler) Delete(ctx context.Context, opts ...discordgo.RequestOption) {
	w.mu.Lock()
	defer w.mu.Unlock()
	opts = append(opts, discordgo.WithContext(ctx))
	if err := w.session.InteractionResponseDelete(w.interaction.Interaction, opts...); err != nil {
		w.logger.ErrorContext(ctx, "error deleting interaction response", tint.Err(err))
	}
}

func (w GatewayHandler) Logger() *slog.Logger {
	return w.logger
}
