package trinkets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"meridian/internal/domain/services/workingmemory"
)

// Reminder is one active, due-or-upcoming reminder to surface to the model.
type Reminder struct {
	Text   string
	DueAt  time.Time
	Zone   *time.Location
}

// ReminderSource supplies a user's currently active reminders. Implemented
// by a reminders store; no such store exists yet in this system so the
// trinket degrades to empty output until one is wired.
type ReminderSource interface {
	ActiveReminders(ctx context.Context, userID string) ([]Reminder, error)
}

// ReminderTrinket fetches active reminders and formats them with timezone
// conversion (§4.6). Non-cacheable: due reminders change independently of
// the conversation, so this section is regenerated fresh every turn.
type ReminderTrinket struct {
	source ReminderSource
}

func NewReminderTrinket(source ReminderSource) *ReminderTrinket {
	return &ReminderTrinket{source: source}
}

func (t *ReminderTrinket) Name() string      { return "reminders" }
func (t *ReminderTrinket) CachePolicy() bool { return false }

func (t *ReminderTrinket) GenerateContent(ctx context.Context, update workingmemory.UpdateContext) (string, error) {
	if t.source == nil {
		return "", nil
	}
	reminders, err := t.source.ActiveReminders(ctx, update.UserID)
	if err != nil {
		return "", fmt.Errorf("reminder trinket: %w", err)
	}
	if len(reminders) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("<active_reminders>\n")
	for _, r := range reminders {
		due := r.DueAt
		if r.Zone != nil {
			due = due.In(r.Zone)
		}
		fmt.Fprintf(&sb, "- %s (due %s)\n", r.Text, due.Format("2006-01-02 15:04 MST"))
	}
	sb.WriteString("</active_reminders>")
	return sb.String(), nil
}
