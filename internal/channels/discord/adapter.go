// Package discord listens for Discord messages over a gateway session and
// forwards each one to the dispatcher as a NormalizedMessage, grounded on
// original_source/stark-backend/src/channels/discord.rs.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/starkbot-agent/core/internal/channels"
	"github.com/starkbot-agent/core/pkg/models"
)

// discordSession is the slice of *discordgo.Session this adapter needs,
// narrowed so tests can inject a fake.
type discordSession interface {
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

// Dispatcher is the narrow slice of dispatcher.Dispatcher this listener
// needs, kept local so this package never has to import internal/dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg models.NormalizedMessage) models.DispatchResult
}

// Config configures the Discord listener.
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
// channels.HealthAdapter for Discord.
type Adapter struct {
	*channels.BaseHealthAdapter

	config     Config
	dispatcher Dispatcher
	session    discordSession // overridable for tests
	sendLimit  *channels.RateLimiter
}

// New constructs a Discord listener. Call Start to open the gateway session.
func New(config Config, dispatcher Dispatcher) *Adapter {
	config.applyDefaults()
	return &Adapter{
		BaseHealthAdapter: channels.NewBaseHealthAdapter(models.ChannelDiscord, config.Logger),
		config:            config,
		dispatcher:        dispatcher,
		sendLimit:         channels.NewRateLimiter(5, 10),
	}
}

// SetSession overrides the Discord session, primarily for tests.
func (a *Adapter) SetSession(session discordSession) {
	a.session = session
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelDiscord }

// Start opens the gateway session and registers the message handler,
// retrying the initial Open through a Reconnector since the gateway
// handshake occasionally fails under load.
func (a *Adapter) Start(ctx context.Context) error {
	if a.session == nil {
		dg, err := discordgo.New("Bot " + a.config.Token)
		if err != nil {
			a.SetStatus(false, err.Error())
			return channels.ErrAuthentication(fmt.Sprintf("discord: failed to create session: %v", err), err)
		}
		a.session = dg
	}

	a.session.AddHandler(a.handleMessageCreate)

	reconnector := channels.Reconnector{Logger: a.config.Logger, Health: a.BaseHealthAdapter}
	if err := reconnector.Run(ctx, func(context.Context) error { return a.session.Open() }); err != nil {
		a.SetStatus(false, err.Error())
		return channels.ErrConnection("discord: failed to open gateway session", err)
	}

	a.SetStatus(true, "")
	a.RecordConnectionOpened()
	a.config.Logger.Info("discord: listener started")
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	if a.session == nil {
		return nil
	}
	a.SetStatus(false, "")
	a.RecordConnectionClosed()
	if err := a.session.Close(); err != nil {
		return channels.ErrConnection("discord: failed to close gateway session", err)
	}
	return nil
}

// handleMessageCreate converts an inbound Discord message into a
// NormalizedMessage, dispatches it, and replies inline with the result.
func (a *Adapter) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	a.RecordMessageReceived()

	userID := m.Author.ID
	isAdmin := a.config.AdminUserID != "" && a.config.AdminUserID == userID
	forceSafeMode := !isAdmin && a.config.AdminUserID != ""

	result := a.dispatcher.Dispatch(context.Background(), models.NormalizedMessage{
		ChannelID:     a.config.ChannelID,
		ChannelType:   string(models.ChannelDiscord),
		ChatID:        m.ChannelID,
		UserID:        userID,
		UserName:      m.Author.Username,
		Text:          m.Content,
		MessageID:     m.ID,
		ForceSafeMode: forceSafeMode,
	})

	response := result.Response
	if result.Error != "" {
		response = "Sorry, I encountered an error: " + result.Error
	}
	if response == "" {
		return
	}

	if a.session == nil {
		return
	}
	if err := a.sendLimit.Wait(context.Background()); err != nil {
		a.config.Logger.Warn("discord: rate limiter wait interrupted", "error", err)
		return
	}
	if _, err := a.session.ChannelMessageSend(m.ChannelID, response); err != nil {
		a.RecordMessageFailed()
		a.RecordError(channels.ErrCodeConnection)
		a.config.Logger.Error("discord: failed to send reply", "error", err, "channel_id", m.ChannelID)
		return
	}
	a.RecordMessageSent()
}
