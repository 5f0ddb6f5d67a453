// Package slack listens for Slack messages over Socket Mode and forwards
// each one to the dispatcher as a NormalizedMessage, grounded on
// original_source/stark-backend/src/channels/slack.rs.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/starkbot-agent/core/internal/channels"
	"github.com/starkbot-agent/core/pkg/models"
)

// Dispatcher is the narrow slice of dispatcher.Dispatcher this listener
// needs, kept local so this package never has to import internal/dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg models.NormalizedMessage) models.DispatchResult
}

// apiClient is the slice of *slack.Client this adapter needs, narrowed so
// tests can inject a fake.
type apiClient interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Config configures the Slack listener.
type Config struct {
	BotToken    string // xoxb- token for API calls
	AppToken    string // xapp- token for Socket Mode
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
// channels.HealthAdapter for Slack.
type Adapter struct {
	*channels.BaseHealthAdapter

	config     Config
	dispatcher Dispatcher

	client    apiClient
	socket    *socketmode.Client
	botUser   string
	sendLimit *channels.RateLimiter

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Slack listener. Call Start to connect via Socket Mode.
func New(config Config, dispatcher Dispatcher) *Adapter {
	config.applyDefaults()

	realClient := slack.New(config.BotToken, slack.OptionAppLevelToken(config.AppToken))
	socket := socketmode.New(realClient, socketmode.OptionDebug(false))

	return &Adapter{
		BaseHealthAdapter: channels.NewBaseHealthAdapter(models.ChannelSlack, config.Logger),
		config:            config,
		dispatcher:        dispatcher,
		client:            realClient,
		socket:            socket,
		sendLimit:         channels.NewRateLimiter(1, 5),
	}
}

// SetClient overrides the Slack API client, primarily for tests.
func (a *Adapter) SetClient(client apiClient) {
	a.client = client
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelSlack }

// Start authenticates, then launches the Socket Mode event loop in a
// goroutine.
func (a *Adapter) Start(ctx context.Context) error {
	authResp, err := a.client.AuthTestContext(ctx)
	if err != nil {
		a.SetStatus(false, err.Error())
		return channels.ErrAuthentication(fmt.Sprintf("slack: failed to authenticate: %v", err), err)
	}
	a.botUser = authResp.UserID
	a.SetStatus(true, "")
	a.RecordConnectionOpened()
	a.config.Logger.Info("slack: credentials validated", "bot_user_id", a.botUser)

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	go a.eventLoop(loopCtx)

	reconnector := channels.Reconnector{Logger: a.config.Logger, Health: a.BaseHealthAdapter}
	go func() {
		if err := reconnector.Run(loopCtx, func(context.Context) error { return a.socket.Run() }); err != nil {
			a.config.Logger.Error("slack: socket mode run exited", "error", err)
		}
	}()

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

func (a *Adapter) eventLoop(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-a.socket.Events:
			if !ok {
				return
			}
			if event.Type != socketmode.EventTypeEventsAPI {
				if event.Request != nil {
					a.socket.Ack(*event.Request)
				}
				continue
			}
			a.handleEventsAPI(ctx, event)
		}
	}
}

func (a *Adapter) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if event.Request != nil {
		a.socket.Ack(*event.Request)
	}

	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		a.handleMessage(ctx, ev.User, ev.Channel, ev.Text, ev.TimeStamp)
	case *slackevents.MessageEvent:
		if ev.BotID != "" {
			return
		}
		if ev.SubType != "" {
			return
		}
		isDM := strings.HasPrefix(ev.Channel, "D")
		isMention := strings.Contains(ev.Text, fmt.Sprintf("<@%s>", a.botUser))
		if !isDM && !isMention && ev.ThreadTimeStamp == "" {
			return
		}
		a.handleMessage(ctx, ev.User, ev.Channel, ev.Text, ev.TimeStamp)
	}
}

func (a *Adapter) handleMessage(ctx context.Context, userID, channelID, rawText, ts string) {
	a.RecordMessageReceived()
	text := stripMentions(rawText)

	isAdmin := a.config.AdminUserID != "" && a.config.AdminUserID == userID
	forceSafeMode := !isAdmin && a.config.AdminUserID != ""

	result := a.dispatcher.Dispatch(ctx, models.NormalizedMessage{
		ChannelID:     a.config.ChannelID,
		ChannelType:   string(models.ChannelSlack),
		ChatID:        channelID,
		UserID:        userID,
		Text:          text,
		MessageID:     fmt.Sprintf("%s:%s", channelID, ts),
		ForceSafeMode: forceSafeMode,
	})

	response := result.Response
	if result.Error != "" {
		response = "Sorry, I encountered an error: " + result.Error
	}
	if response == "" {
		return
	}

	if err := a.sendLimit.Wait(ctx); err != nil {
		a.config.Logger.Warn("slack: rate limiter wait interrupted", "error", err)
		return
	}
	if _, _, err := a.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(response, false)); err != nil {
		a.RecordMessageFailed()
		a.RecordError(channels.ErrCodeConnection)
		a.config.Logger.Error("slack: failed to send reply", "error", err, "channel_id", channelID)
		return
	}
	a.RecordMessageSent()
}

// stripMentions removes leading/embedded "<@USERID>" mentions, as Slack
// includes the bot's own mention in the message text.
func stripMentions(text string) string {
	for strings.Contains(text, "<@") {
		start := strings.Index(text, "<@")
		end := strings.Index(text[start:], ">")
		if end == -1 {
			break
		}
		text = text[:start] + text[start+end+1:]
	}
	return strings.TrimSpace(text)
}
