package feeds

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/jw6ventures/taskcal/internal/store"
	"github.com/jw6ventures/taskcal/internal/tasks"
)

const icsTimeFormat = "20060102T150405Z"

// RenderICS renders the calendar of every dated task visible to the ICS token's owner.
func (s *Service) RenderICS(ctx context.Context, token string) ([]byte, error) {
	userID, err := s.UserForICSToken(ctx, token)
	if err != nil {
		return nil, err
	}
	items, err := s.tasks.ListTasks(ctx, userID, tasks.ListFilter{WithDueDate: true})
	if err != nil {
		return nil, err
	}
	return []byte(buildCalendar(s.name, items)), nil
}

func buildCalendar(name string, items []store.Task) string {
	var sb strings.Builder
	write := func(line string) {
		sb.WriteString(foldLine(line))
		sb.WriteString("\r\n")
	}
	write("BEGIN:VCALENDAR")
	write("VERSION:2.0")
	write("PRODID:-//TaskCal//Tasks//EN")
	write("CALSCALE:GREGORIAN")
	write("METHOD:PUBLISH")
	write("X-WR-CALNAME:" + escapeText(name))
	for _, t := range items {
		if t.DueDate == nil {
			continue
		}
		start, end := tasks.EventWindow(*t.DueDate)
		write("BEGIN:VEVENT")
		write("UID:" + t.ID + "@taskcal")
		write("DTSTAMP:" + t.UpdatedAt.UTC().Format(icsTimeFormat))
		write("DTSTART:" + start.Format(icsTimeFormat))
		write("DTEND:" + end.Format(icsTimeFormat))
		write("SUMMARY:" + escapeText(t.Title))
		write("DESCRIPTION:" + escapeText(tasks.EventDescription(t)))
		write("PRIORITY:" + icsPriority(t.Priority))
		write("STATUS:CONFIRMED")
		if t.IsCompleted {
			// VEVENT has no completed status; completed tasks stop blocking time.
			write("TRANSP:TRANSPARENT")
			write("X-TASKCAL-COMPLETED:TRUE")
		} else {
			write("TRANSP:OPAQUE")
		}
		write("LAST-MODIFIED:" + t.UpdatedAt.UTC().Format(icsTimeFormat))
		write("END:VEVENT")
	}
	write("END:VCALENDAR")
	return sb.String()
}

// icsPriority maps priorities onto the RFC 5545 1 (highest) to 9 (lowest) scale.
func icsPriority(p store.Priority) string {
	switch p {
	case store.PriorityUrgent:
		return "1"
	case store.PriorityHigh:
		return "3"
	case store.PriorityLow:
		return "9"
	default:
		return "5"
	}
}

// escapeText escapes a TEXT value per RFC 5545 section 3.3.11.
func escapeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// foldLine splits content lines longer than 75 octets without breaking a UTF-8 sequence.
func foldLine(line string) string {
	const limit = 75
	if len(line) <= limit {
		return line
	}
	var sb strings.Builder
	width := limit
	for len(line) > width {
		cut := width
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		sb.WriteString(line[:cut])
		sb.WriteString("\r\n ")
		line = line[cut:]
		// Continuation lines lose one octet to the leading space.
		width = limit - 1
	}
	sb.WriteString(line)
	return sb.String()
}
