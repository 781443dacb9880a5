package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/halolabs/reflector/utils/pkg/retry"
)

// SlackConfig configures the Slack channel notifier.
type SlackConfig struct {
	Logger   *slog.Logger
	BotToken string
	Channel  string
}

func (cfg *SlackConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BotToken == "" {
		return errors.New("bot token is required")
	}
	if cfg.Channel == "" {
		return errors.New("channel is required")
	}
	return nil
}

// SlackNotifier posts operational messages to a Slack channel. Callers
// treat delivery as best effort; a failed post never blocks a cycle.
type SlackNotifier struct {
	log     *slog.Logger
	api     *slack.Client
	channel string
}

func NewSlackNotifier(cfg SlackConfig) (*SlackNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SlackNotifier{
		log:     cfg.Logger,
		api:     slack.New(cfg.BotToken),
		channel: cfg.Channel,
	}, nil
}

func (n *SlackNotifier) Notify(ctx context.Context, message string) error {
	retryCfg := retry.DefaultConfig()
	err := retry.Do(ctx, retryCfg, func() error {
		_, _, err := n.api.PostMessageContext(ctx, n.channel,
			slack.MsgOptionText(message, false),
			slack.MsgOptionDisableLinkUnfurl(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to post slack message after retries: %w", err)
	}
	n.log.Debug("notify: posted slack message", "channel", n.channel)
	return nil
}

// NopNotifier discards every message. Used when Slack is not
// configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string) error { return nil }
