// Package telegram listens for Telegram messages via long polling and
// forwards each one to the dispatcher as a NormalizedMessage, grounded on
// original_source/stark-backend/src/channels/telegram.rs.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/starkbot-agent/core/internal/channels"
	"github.com/starkbot-agent/core/pkg/models"
)

// Dispatcher is the narrow slice of dispatcher.Dispatcher this listener
// needs, kept local so this package never has to import internal/dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg models.NormalizedMessage) models.DispatchResult
}

// Config configures the Telegram listener.
type Config struct {
	Token       string
	ChannelID   int64
	AdminUserID string
	Logger      *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Adapter implements channels.Adapter + channels.LifecycleAdapter +
// channels.HealthAdapter for Telegram.
type Adapter struct {
	*channels.BaseHealthAdapter

	config     Config
	dispatcher Dispatcher
	botClient  BotClient // overridable for tests
	sendLimit  *channels.RateLimiter

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Telegram listener. Call Start to begin long-polling.
func New(config Config, dispatcher Dispatcher) *Adapter {
	config.applyDefaults()
	return &Adapter{
		BaseHealthAdapter: channels.NewBaseHealthAdapter(models.ChannelTelegram, config.Logger),
		config:            config,
		dispatcher:        dispatcher,
		sendLimit:         channels.NewRateLimiter(20, 30),
	}
}

// SetBotClient overrides the bot client, primarily for tests.
func (a *Adapter) SetBotClient(client BotClient) {
	a.botClient = client
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelTelegram }

// Start creates the bot client, registers the message handler, and launches
// the long-polling loop in a goroutine.
func (a *Adapter) Start(ctx context.Context) error {
	if a.botClient == nil {
		b, err := bot.New(a.config.Token)
		if err != nil {
			a.SetStatus(false, err.Error())
			return channels.ErrAuthentication(fmt.Sprintf("telegram: failed to create bot: %v", err), err)
		}
		a.botClient = newRealBotClient(b)
	}

	a.botClient.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, a.handleMessage)

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	go func() {
		defer close(a.done)
		a.botClient.Start(loopCtx)
	}()

	a.SetStatus(true, "")
	a.RecordConnectionOpened()
	a.config.Logger.Info("telegram: listener started")
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.SetStatus(false, "")
	a.RecordConnectionClosed()
	if a.cancel != nil {
		a.cancel()
	}
	if a.done != nil {
		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// handleMessage converts an inbound Telegram update into a NormalizedMessage,
// dispatches it, and replies inline with the result.
func (a *Adapter) handleMessage(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	a.RecordMessageReceived()

	msg := update.Message
	userID := strconv.FormatInt(msg.From.ID, 10)
	userName := strings.TrimSpace(strings.TrimSpace(msg.From.FirstName) + " " + strings.TrimSpace(msg.From.LastName))
	if userName == "" {
		userName = msg.From.Username
	}

	isAdmin := a.config.AdminUserID != "" && a.config.AdminUserID == userID
	forceSafeMode := !isAdmin && a.config.AdminUserID != ""

	result := a.dispatcher.Dispatch(ctx, models.NormalizedMessage{
		ChannelID:     a.config.ChannelID,
		ChannelType:   string(models.ChannelTelegram),
		ChatID:        strconv.FormatInt(msg.Chat.ID, 10),
		UserID:        userID,
		UserName:      userName,
		Text:          msg.Text,
		MessageID:     strconv.Itoa(msg.ID),
		ForceSafeMode: forceSafeMode,
	})

	response := result.Response
	if result.Error != "" {
		response = "Sorry, I encountered an error: " + result.Error
	}
	if response == "" {
		return
	}

	if a.botClient == nil {
		return
	}
	if err := a.sendLimit.Wait(ctx); err != nil {
		a.config.Logger.Warn("telegram: rate limiter wait interrupted", "error", err)
		return
	}
	if _, err := a.botClient.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: msg.Chat.ID,
		Text:   response,
	}); err != nil {
		a.RecordMessageFailed()
		a.RecordError(channels.ErrCodeConnection)
		a.config.Logger.Error("telegram: failed to send reply", "error", err, "chat_id", msg.Chat.ID)
		return
	}
	a.RecordMessageSent()
}
