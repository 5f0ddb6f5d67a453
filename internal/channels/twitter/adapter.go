// Package twitter polls the Twitter/X v2 "recent search" endpoint for
// @mentions of a configured bot handle and feeds each one to the dispatcher
// as a NormalizedMessage, grounded on
// original_source/stark-backend/src/channels/twitter.rs.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/starkbot-agent/core/internal/channels"
	"github.com/starkbot-agent/core/pkg/models"
)

const (
	apiBase           = "https://api.twitter.com/2"
	minPollInterval   = 60 * time.Second
	maxCharsStandard  = 280
	maxCharsPro       = 25_000
	threadReserveRune = 5
)

var leadingMentionPattern = regexp.MustCompile(`(?i)^\s*@\w+\s*`)

// Dispatcher is the narrow slice of dispatcher.Dispatcher this listener
// needs, kept local so this package never has to import internal/dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg models.NormalizedMessage) models.DispatchResult
}

// Config configures the Twitter mention listener. PollInterval is clamped
// up to minPollInterval — Twitter's recent-search endpoint rate limit makes
// tighter polling self-defeating.
type Config struct {
	BotHandle          string
	BotUserID          string
	PollInterval       time.Duration
	IsPro              bool
	ReplyChance        int // 1-100; 100 always replies
	MaxMentionsPerHour int // 0 = unlimited
	AdminUserID        string
	Credentials        Credentials

	// BearerToken is the app-only OAuth2 bearer token used for read
	// endpoints (mention search, user lookup). Posting replies always
	// requires the OAuth 1.0a user-context Credentials above, since v2
	// write endpoints attribute the tweet to a specific user.
	BearerToken string

	ChannelID int64
	Logger    *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.PollInterval < minPollInterval {
		c.PollInterval = minPollInterval
	}
	if c.ReplyChance <= 0 || c.ReplyChance > 100 {
		c.ReplyChance = 100
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func (c *Config) maxChars() int {
	if c.IsPro {
		return maxCharsPro
	}
	return maxCharsStandard
}

// Adapter implements channels.Adapter + channels.LifecycleAdapter for the
// Twitter mention polling listener.
type Adapter struct {
	config     Config
	dispatcher Dispatcher

	// readClient carries the app-only bearer token (oauth2.StaticTokenSource)
	// for GET endpoints; writeClient is a plain client whose requests are
	// signed per-request with OAuth 1.0a via generateOAuthHeader, since
	// posting attributes the tweet to the configured user.
	readClient  *http.Client
	writeClient *http.Client

	// limiter paces outbound API calls independent of the poll ticker, so a
	// burst of username lookups during a busy poll can't itself trip
	// Twitter's per-window rate limit.
	limiter *rate.Limiter

	mu                sync.Mutex
	sinceID           string
	hourStart         time.Time
	repliesThisHour   int
	processedTweetIDs map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Twitter listener. Call Start to begin polling.
func New(config Config, dispatcher Dispatcher) *Adapter {
	config.applyDefaults()

	readClient := &http.Client{Timeout: 15 * time.Second}
	if config.BearerToken != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: config.BearerToken,
			TokenType:   "Bearer",
		})
		readClient = oauth2.NewClient(context.Background(), src)
		readClient.Timeout = 15 * time.Second
	}

	return &Adapter{
		config:            config,
		dispatcher:        dispatcher,
		readClient:        readClient,
		writeClient:       &http.Client{Timeout: 15 * time.Second},
		limiter:           rate.NewLimiter(rate.Every(time.Second), 3),
		hourStart:         time.Time{},
		processedTweetIDs: make(map[string]bool),
	}
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelTwitter }

// Start validates credentials then launches the poll loop in a goroutine.
func (a *Adapter) Start(ctx context.Context) error {
	username, err := a.verifyCredentials(ctx)
	if err != nil {
		return channels.ErrAuthentication(fmt.Sprintf("twitter: invalid credentials: %v", err), err)
	}
	a.config.Logger.Info("twitter: credentials validated", "username", username)

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	go a.pollLoop(loopCtx)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
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

func (a *Adapter) pollLoop(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.pollOnce(ctx)
		}
	}
}

func (a *Adapter) pollOnce(ctx context.Context) {
	a.mu.Lock()
	sinceID := a.sinceID
	a.mu.Unlock()

	tweets, rateRemaining, resetAt, err := a.pollMentions(ctx, sinceID)
	if err != nil {
		a.config.Logger.Error("twitter: poll mentions failed", "error", err)
		if strings.Contains(err.Error(), "429") {
			select {
			case <-time.After(5 * time.Minute):
			case <-ctx.Done():
			}
		}
		return
	}

	if rateRemaining != nil && *rateRemaining <= 3 {
		a.config.Logger.Warn("twitter: rate limit low", "remaining", *rateRemaining)
	}
	if rateRemaining != nil && *rateRemaining == 0 {
		wait := 60 * time.Second
		if resetAt != nil {
			if d := time.Until(*resetAt); d > wait {
				wait = d
			}
		}
		a.config.Logger.Warn("twitter: rate limit exhausted, backing off", "wait", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
		return
	}

	// Process oldest first, as the Rust listener does.
	for i := len(tweets) - 1; i >= 0; i-- {
		a.processMention(ctx, tweets[i])
	}
}

func (a *Adapter) processMention(ctx context.Context, tweet tweet) {
	a.mu.Lock()
	alreadyProcessed := a.processedTweetIDs[tweet.ID]
	a.mu.Unlock()
	if alreadyProcessed {
		return
	}
	defer a.markProcessed(tweet.ID)

	if tweet.isRetweetOrQuote() {
		return
	}

	a.mu.Lock()
	if time.Since(a.hourStart) >= time.Hour {
		a.hourStart = time.Now()
		a.repliesThisHour = 0
	}
	overHourlyLimit := a.config.MaxMentionsPerHour > 0 && a.repliesThisHour >= a.config.MaxMentionsPerHour
	a.mu.Unlock()
	if overHourlyLimit {
		a.config.Logger.Info("twitter: hourly reply limit reached, skipping", "tweet_id", tweet.ID)
		return
	}

	if a.config.ReplyChance < 100 {
		if roll := rand.Intn(100) + 1; roll > a.config.ReplyChance {
			return
		}
	}

	authorUsername := a.lookupUsername(ctx, tweet.AuthorID)

	commandText := extractCommandText(tweet.Text, a.config.BotHandle)
	if commandText == "" {
		return
	}

	isAdmin := a.config.AdminUserID != "" && a.config.AdminUserID == tweet.AuthorID
	forceSafeMode := !isAdmin && a.config.AdminUserID != ""

	charHint := "Keep your response under 280 characters or it will be threaded"
	if a.config.IsPro {
		charHint = "This is an X Premium account; responses up to 25,000 characters are not threaded"
	}
	text := fmt.Sprintf("[TWITTER MENTION from @%s - %s]\n\n%s", authorUsername, charHint, commandText)

	chatID := tweet.ConversationID
	if chatID == "" {
		chatID = tweet.ID
	}

	result := a.dispatcher.Dispatch(ctx, models.NormalizedMessage{
		ChannelID:     a.config.ChannelID,
		ChannelType:   string(models.ChannelTwitter),
		ChatID:        chatID,
		UserID:        tweet.AuthorID,
		UserName:      authorUsername,
		Text:          text,
		MessageID:     tweet.ID,
		ForceSafeMode: forceSafeMode,
	})

	response := result.Response
	if result.Error != "" {
		response = "Sorry, I encountered an error: " + result.Error
	}
	if response == "" {
		return
	}

	if _, err := a.postReply(ctx, tweet.ID, response); err != nil {
		a.config.Logger.Error("twitter: failed to post reply", "error", err)
		return
	}
	a.mu.Lock()
	a.repliesThisHour++
	a.sinceID = tweet.ID
	a.mu.Unlock()
}

func (a *Adapter) markProcessed(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.processedTweetIDs[id] = true
	// Bound memory: the sinceID cursor makes old entries irrelevant once
	// every currently-in-flight poll window has passed.
	if len(a.processedTweetIDs) > 10_000 {
		a.processedTweetIDs = map[string]bool{id: true}
	}
}

// extractCommandText strips the bot's own @handle and any other leading
// @mentions, mirroring extract_command_text.
func extractCommandText(text, botHandle string) string {
	result := text
	if botHandle != "" {
		pattern := regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(botHandle))
		result = pattern.ReplaceAllString(result, "")
	}
	for leadingMentionPattern.MatchString(result) {
		result = leadingMentionPattern.ReplaceAllString(result, "")
	}
	return strings.TrimSpace(result)
}

// splitForTwitter breaks text into <= maxChars chunks on word boundaries,
// appending " i/N" thread indicators when more than one chunk results.
func splitForTwitter(text string, maxChars int) []string {
	if len([]rune(text)) <= maxChars {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	maxChunk := maxChars - threadReserveRune

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimRight(current.String(), "\n"))
			current.Reset()
		}
	}

	for _, line := range strings.Split(text, "\n") {
		for _, word := range strings.Fields(line) {
			candidate := word
			if current.Len() > 0 {
				candidate = current.String() + " " + word
			}
			if len([]rune(candidate)) > maxChunk {
				if current.Len() > 0 {
					flush()
					current.WriteString(word)
				} else {
					truncated := []rune(word)
					if len(truncated) > maxChunk-3 {
						truncated = truncated[:maxChunk-3]
					}
					chunks = append(chunks, string(truncated)+"...")
				}
			} else {
				current.Reset()
				current.WriteString(candidate)
			}
		}
		if current.Len() > 0 && len([]rune(current.String())) < maxChunk {
			current.WriteString("\n")
		}
	}
	flush()

	if len(chunks) > 1 {
		total := len(chunks)
		for i, chunk := range chunks {
			chunks[i] = fmt.Sprintf("%s %d/%d", strings.TrimRight(chunk, "\n"), i+1, total)
		}
	}
	return chunks
}

// --- Twitter API v2 wire types and calls ---

type tweet struct {
	ID               string            `json:"id"`
	Text             string            `json:"text"`
	AuthorID         string            `json:"author_id"`
	ConversationID   string            `json:"conversation_id"`
	InReplyToUserID  string            `json:"in_reply_to_user_id"`
	ReferencedTweets []referencedTweet `json:"referenced_tweets"`
}

type referencedTweet struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (t tweet) isRetweetOrQuote() bool {
	for _, ref := range t.ReferencedTweets {
		if ref.Type == "retweeted" || ref.Type == "quoted" {
			return true
		}
	}
	return false
}

type mentionsResponse struct {
	Data   []tweet           `json:"data"`
	Errors []twitterAPIError `json:"errors"`
}

type twitterAPIError struct {
	Message string `json:"message"`
}

type singleUserResponse struct {
	Data *twitterUser `json:"data"`
}

type twitterUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type postTweetResponse struct {
	Data   *postedTweet      `json:"data"`
	Errors []twitterAPIError `json:"errors"`
}

type postedTweet struct {
	ID string `json:"id"`
}

func (a *Adapter) verifyCredentials(ctx context.Context) (string, error) {
	reqURL := apiBase + "/users/me"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", err
	}
	a.signRead(req, reqURL, nil)

	body, _, err := a.doRead(ctx, req)
	if err != nil {
		return "", err
	}
	var resp singleUserResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing /users/me response: %w", err)
	}
	if resp.Data == nil {
		return "", fmt.Errorf("no user data returned")
	}
	return resp.Data.Username, nil
}

func (a *Adapter) pollMentions(ctx context.Context, sinceID string) ([]tweet, *int, *time.Time, error) {
	reqURL := apiBase + "/tweets/search/recent"
	params := map[string]string{
		"query":        "@" + a.config.BotHandle,
		"tweet.fields": "author_id,conversation_id,in_reply_to_user_id,referenced_tweets",
		"max_results":  "10",
	}
	if sinceID != "" {
		params["since_id"] = sinceID
	}

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	fullURL := reqURL + "?" + values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	a.signRead(req, reqURL, params)

	body, headers, err := a.doRead(ctx, req)
	remaining := parseIntHeader(headers, "X-Rate-Limit-Remaining")
	resetAt := parseUnixHeader(headers, "X-Rate-Limit-Reset")
	if err != nil {
		return nil, remaining, resetAt, err
	}

	var resp mentionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, remaining, resetAt, fmt.Errorf("parsing mentions response: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, remaining, resetAt, fmt.Errorf("twitter API errors: %s", joinErrors(resp.Errors))
	}
	return resp.Data, remaining, resetAt, nil
}

func (a *Adapter) lookupUsername(ctx context.Context, userID string) string {
	reqURL := apiBase + "/users/" + userID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "user_" + userID
	}
	a.signRead(req, reqURL, nil)

	body, _, err := a.doRead(ctx, req)
	if err != nil {
		return "user_" + userID
	}
	var resp singleUserResponse
	if json.Unmarshal(body, &resp) != nil || resp.Data == nil {
		return "user_" + userID
	}
	return resp.Data.Username
}

// postReply threads text across multiple tweets if it exceeds the
// account's character limit, replying each chunk to the previous.
func (a *Adapter) postReply(ctx context.Context, replyToID, text string) (string, error) {
	chunks := splitForTwitter(text, a.config.maxChars())
	lastID := replyToID
	for _, chunk := range chunks {
		id, err := a.postSingleTweet(ctx, chunk, lastID)
		if err != nil {
			return "", err
		}
		lastID = id
	}
	return lastID, nil
}

func (a *Adapter) postSingleTweet(ctx context.Context, text, replyToID string) (string, error) {
	reqURL := apiBase + "/tweets"
	payload := map[string]any{"text": text}
	if replyToID != "" {
		payload["reply"] = map[string]string{"in_reply_to_tweet_id": replyToID}
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(string(bodyBytes)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", generateOAuthHeader(http.MethodPost, reqURL, a.config.Credentials, nil))
	req.Header.Set("Content-Type", "application/json")

	body, _, err := a.doWrite(ctx, req)
	if err != nil {
		return "", err
	}
	var resp postTweetResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing post-tweet response: %w", err)
	}
	if len(resp.Errors) > 0 {
		return "", fmt.Errorf("twitter API errors: %s", joinErrors(resp.Errors))
	}
	if resp.Data == nil {
		return "", fmt.Errorf("no tweet data returned")
	}
	return resp.Data.ID, nil
}

// signRead attaches an OAuth 1.0a signature unless a bearer token is
// configured, in which case oauth2.NewClient's transport already sets the
// Authorization header on the outgoing request.
func (a *Adapter) signRead(req *http.Request, baseURL string, params map[string]string) {
	if a.config.BearerToken != "" {
		return
	}
	req.Header.Set("Authorization", generateOAuthHeader(req.Method, baseURL, a.config.Credentials, params))
}

func (a *Adapter) doRead(ctx context.Context, req *http.Request) ([]byte, http.Header, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limiter: %w", err)
	}
	return do(a.readClient, req)
}

func (a *Adapter) doWrite(ctx context.Context, req *http.Request) ([]byte, http.Header, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limiter: %w", err)
	}
	return do(a.writeClient, req)
}

func do(client *http.Client, req *http.Request) ([]byte, http.Header, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.Header, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, resp.Header, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}
	return body, resp.Header, nil
}

func joinErrors(errs []twitterAPIError) string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

func parseIntHeader(h http.Header, key string) *int {
	v := h.Get(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func parseUnixHeader(h http.Header, key string) *time.Time {
	v := h.Get(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	t := time.Unix(n, 0)
	return &t
}
