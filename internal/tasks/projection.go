package tasks

import (
	"fmt"
	"strings"
	"time"

	"github.com/jw6ventures/taskcal/internal/store"
)

// EventDuration is the length of the calendar slot a due task occupies.
const EventDuration = 30 * time.Minute

// EventDescription is the calendar body for a task: its description, then priority and
// status labels.
func EventDescription(t store.Task) string {
	desc := strings.TrimSpace(t.Description)
	if desc == "" {
		desc = "No description"
	}
	return fmt.Sprintf("%s\n\nPriority: %s\nStatus: %s", desc, PriorityLabel(t.Priority), StatusLabel(t.Status))
}

// EventWindow returns the UTC start and end of a task's calendar slot.
func EventWindow(due time.Time) (time.Time, time.Time) {
	start := due.UTC()
	return start, start.Add(EventDuration)
}

// PriorityLabel renders a priority for humans.
func PriorityLabel(p store.Priority) string {
	switch p {
	case store.PriorityLow:
		return "Low"
	case store.PriorityHigh:
		return "High"
	case store.PriorityUrgent:
		return "Urgent"
	default:
		return "Medium"
	}
}

// StatusLabel renders a status for humans.
func StatusLabel(s store.Status) string {
	switch s {
	case store.StatusInProgress:
		return "In progress"
	case store.StatusDone:
		return "Done"
	default:
		return "To do"
	}
}
