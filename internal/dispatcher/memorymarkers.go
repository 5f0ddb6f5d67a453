package dispatcher

import (
	"context"
	"regexp"
	"strings"

	"github.com/starkbot-agent/core/internal/memory"
	"github.com/starkbot-agent/core/pkg/models"
)

var (
	dailyLogPattern          = regexp.MustCompile(`\[DAILY_LOG:\s*(.+?)\]`)
	rememberPattern          = regexp.MustCompile(`\[REMEMBER:\s*(.+?)\]`)
	rememberImportantPattern = regexp.MustCompile(`\[REMEMBER_IMPORTANT:\s*(.+?)\]`)
)

// extractMemoryMarkers scans body for the three memory markers (§4.8 step
// 11), persists each as a memory.Entry, then strips every marker and
// collapses whitespace before returning the user-facing text. Grounded on
// process_memory_markers / clean_response.
func (d *Dispatcher) extractMemoryMarkers(ctx context.Context, identityID string, session *models.Session, msg models.NormalizedMessage, body string) string {
	if d.Memory != nil {
		d.recordMarkers(ctx, identityID, session, msg, body, dailyLogPattern, memory.KindDailyLog, 5)
		d.recordMarkers(ctx, identityID, session, msg, body, rememberPattern, memory.KindLongTerm, 7)
		d.recordMarkers(ctx, identityID, session, msg, body, rememberImportantPattern, memory.KindLongTerm, 9)
	}
	return cleanResponse(body)
}

func (d *Dispatcher) recordMarkers(ctx context.Context, identityID string, session *models.Session, msg models.NormalizedMessage, body string, pattern *regexp.Regexp, kind memory.Kind, importance int) {
	for _, m := range pattern.FindAllStringSubmatch(body, -1) {
		content := strings.TrimSpace(m[1])
		if content == "" {
			continue
		}
		d.Memory.Append(ctx, memory.Entry{
			IdentityID:  identityID,
			Kind:        kind,
			Content:     content,
			Importance:  importance,
			SessionID:   session.ID,
			ChannelType: msg.ChannelType,
			MessageID:   msg.MessageID,
		})
	}
}

// cleanResponse removes every memory marker and collapses whitespace,
// mirroring clean_response's replace-all-then-split-join behavior.
func cleanResponse(body string) string {
	cleaned := dailyLogPattern.ReplaceAllString(body, "")
	cleaned = rememberPattern.ReplaceAllString(cleaned, "")
	cleaned = rememberImportantPattern.ReplaceAllString(cleaned, "")
	return strings.Join(strings.Fields(cleaned), " ")
}
