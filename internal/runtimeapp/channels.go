package runtimeapp

import (
	"context"
	"log/slog"
	"time"

	"github.com/tarsline/agentrt/internal/brain"
	"github.com/tarsline/agentrt/internal/channels"
	"github.com/tarsline/agentrt/internal/channels/discord"
	"github.com/tarsline/agentrt/internal/channels/slack"
	"github.com/tarsline/agentrt/internal/channels/telegram"
	"github.com/tarsline/agentrt/internal/config"
	"github.com/tarsline/agentrt/pkg/models"
)

// buildChannelRegistry constructs one channels.Registry from whichever
// platform adapters are enabled in config, leaving disabled ones
// unregistered. Telegram, Discord, and Slack are the supported chat
// surfaces; WhatsApp/Signal/iMessage/Matrix/Nostr/Mattermost are out of
// scope for this runtime.
func buildChannelRegistry(cfg config.ChannelsConfig, logger *slog.Logger) *channels.Registry {
	reg := channels.NewRegistry()

	if cfg.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(telegram.Config{
			Token:  cfg.Telegram.BotToken,
			Mode:   telegram.ModeLongPolling,
			Logger: logger,
		})
		if err != nil {
			logger.Error("telegram adapter not started", "error", err)
		} else {
			reg.Register(adapter)
		}
	}

	if cfg.Discord.Enabled {
		adapter, err := discord.NewAdapter(discord.Config{
			Token:  cfg.Discord.BotToken,
			Logger: logger,
		})
		if err != nil {
			logger.Error("discord adapter not started", "error", err)
		} else {
			reg.Register(adapter)
		}
	}

	if cfg.Slack.Enabled {
		reg.Register(slack.NewAdapter(slack.Config{
			BotToken: cfg.Slack.BotToken,
			AppToken: cfg.Slack.AppToken,
		}))
	}

	return reg
}

// routeChannelMessages starts every lifecycle adapter, feeds inbound
// messages to the brain, and replies on the adapter each message arrived
// on. Runs until ctx is cancelled.
func routeChannelMessages(ctx context.Context, reg *channels.Registry, b *brain.Brain, logger *slog.Logger) error {
	if err := reg.StartAll(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		reg.StopAll(stopCtx)
	}()

	inbound := reg.AggregateMessages(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			go replyToMessage(ctx, reg, b, msg, logger)
		}
	}
}

func replyToMessage(ctx context.Context, reg *channels.Registry, b *brain.Brain, msg *models.Message, logger *slog.Logger) {
	reply := b.Handle(ctx, msg.Content)
	outbound, ok := reg.GetOutbound(msg.Channel)
	if !ok {
		logger.Warn("no outbound adapter for channel", "channel", msg.Channel)
		return
	}
	replyMsg := &models.Message{
		Channel:   msg.Channel,
		ChannelID: msg.ChannelID,
		SessionID: msg.SessionID,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   reply,
	}
	if err := outbound.Send(ctx, replyMsg); err != nil {
		logger.Error("failed to send reply", "channel", msg.Channel, "error", err)
	}
}
