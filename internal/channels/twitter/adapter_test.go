package twitter

import (
	"context"
	"strings"
	"testing"

	"github.com/starkbot-agent/core/pkg/models"
)

func TestExtractCommandTextStripsBotHandleAndLeadingMentions(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"bot mention only", "@starkbot what's my balance?", "what's my balance?"},
		{"bot mention plus other mention", "@alice @starkbot send 1 eth", "send 1 eth"},
		{"case insensitive handle", "@StarkBot hello", "hello"},
		{"no command left", "@starkbot", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := extractCommandText(tc.text, "starkbot")
			if got != tc.want {
				t.Errorf("extractCommandText(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestSplitForTwitterSingleChunkUnderLimit(t *testing.T) {
	text := "short reply"
	chunks := splitForTwitter(text, maxCharsStandard)
	if len(chunks) != 1 || chunks[0] != text {
		t.Fatalf("expected single unmodified chunk, got %v", chunks)
	}
}

func TestSplitForTwitterThreadsLongText(t *testing.T) {
	word := "lorem "
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString(word)
	}
	chunks := splitForTwitter(b.String(), maxCharsStandard)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len([]rune(chunk)) > maxCharsStandard {
			t.Errorf("chunk %d exceeds max chars: %d", i, len([]rune(chunk)))
		}
		if !strings.Contains(chunk, "/") {
			t.Errorf("chunk %d missing thread suffix: %q", i, chunk)
		}
	}
	if !strings.HasSuffix(chunks[0], "1/"+itoa(len(chunks))) {
		t.Errorf("first chunk missing expected 1/N suffix, got %q", chunks[0])
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func TestTweetIsRetweetOrQuote(t *testing.T) {
	cases := []struct {
		name string
		tw   tweet
		want bool
	}{
		{"plain mention", tweet{ReferencedTweets: nil}, false},
		{"reply", tweet{ReferencedTweets: []referencedTweet{{Type: "replied_to", ID: "1"}}}, false},
		{"retweet", tweet{ReferencedTweets: []referencedTweet{{Type: "retweeted", ID: "1"}}}, true},
		{"quote", tweet{ReferencedTweets: []referencedTweet{{Type: "quoted", ID: "1"}}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.tw.isRetweetOrQuote(); got != tc.want {
				t.Errorf("isRetweetOrQuote() = %v, want %v", got, tc.want)
			}
		})
	}
}

type stubDispatcher struct {
	lastMsg models.NormalizedMessage
	result  models.DispatchResult
}

func (s *stubDispatcher) Dispatch(ctx context.Context, msg models.NormalizedMessage) models.DispatchResult {
	s.lastMsg = msg
	return s.result
}

func TestProcessMentionSkipsRetweets(t *testing.T) {
	disp := &stubDispatcher{result: models.Success("ignored")}
	a := New(Config{BotHandle: "starkbot", ReplyChance: 100}, disp)

	a.processMention(context.Background(), tweet{
		ID:               "1",
		Text:             "@starkbot check this out",
		AuthorID:         "u1",
		ReferencedTweets: []referencedTweet{{Type: "retweeted", ID: "0"}},
	})

	if disp.lastMsg.MessageID != "" {
		t.Errorf("expected dispatcher not to be called for a retweet, got msg %+v", disp.lastMsg)
	}
}

func TestProcessMentionForcesSafeModeForNonAdmin(t *testing.T) {
	disp := &stubDispatcher{result: models.Success("")}
	a := New(Config{
		BotHandle:   "starkbot",
		ReplyChance: 100,
		AdminUserID: "admin-1",
	}, disp)

	a.processMention(context.Background(), tweet{
		ID:       "2",
		Text:     "@starkbot send 1 eth to alice",
		AuthorID: "someone-else",
	})

	if !disp.lastMsg.ForceSafeMode {
		t.Errorf("expected ForceSafeMode=true for non-admin mention when an admin is configured")
	}
}

func TestProcessMentionAllowsAdminOutOfSafeMode(t *testing.T) {
	disp := &stubDispatcher{result: models.Success("")}
	a := New(Config{
		BotHandle:   "starkbot",
		ReplyChance: 100,
		AdminUserID: "admin-1",
	}, disp)

	a.processMention(context.Background(), tweet{
		ID:       "3",
		Text:     "@starkbot send 1 eth to alice",
		AuthorID: "admin-1",
	})

	if disp.lastMsg.ForceSafeMode {
		t.Errorf("expected admin mention to not be forced into safe mode")
	}
}

func TestProcessMentionSkipsEmptyCommandText(t *testing.T) {
	disp := &stubDispatcher{result: models.Success("")}
	a := New(Config{BotHandle: "starkbot", ReplyChance: 100}, disp)

	a.processMention(context.Background(), tweet{
		ID:       "4",
		Text:     "@starkbot",
		AuthorID: "u1",
	})

	if disp.lastMsg.MessageID != "" {
		t.Errorf("expected dispatcher not to be called when no command text remains")
	}
}

func TestGenerateOAuthHeaderIncludesRequiredFields(t *testing.T) {
	creds := Credentials{
		ConsumerKey:       "ck",
		ConsumerSecret:    "cs",
		AccessToken:       "at",
		AccessTokenSecret: "ats",
	}
	header := generateOAuthHeader("GET", "https://api.twitter.com/2/users/me", creds, nil)
	for _, field := range []string{"oauth_consumer_key", "oauth_nonce", "oauth_signature", "oauth_signature_method", "oauth_timestamp", "oauth_token", "oauth_version"} {
		if !strings.Contains(header, field) {
			t.Errorf("header missing %s: %s", field, header)
		}
	}
	if !strings.HasPrefix(header, "OAuth ") {
		t.Errorf("header should start with 'OAuth ', got %q", header)
	}
}

func TestPercentEncodeLeavesUnreservedCharsAlone(t *testing.T) {
	in := "abcXYZ019-._~"
	if got := percentEncode(in); got != in {
		t.Errorf("percentEncode(%q) = %q, want unchanged", in, got)
	}
}

func TestPercentEncodeEscapesReservedChars(t *testing.T) {
	got := percentEncode("a b/c")
	want := "a%20b%2Fc"
	if got != want {
		t.Errorf("percentEncode = %q, want %q", got, want)
	}
}
