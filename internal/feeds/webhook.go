package feeds

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jw6ventures/taskcal/internal/apperr"
	"github.com/jw6ventures/taskcal/internal/schema"
	"github.com/jw6ventures/taskcal/internal/store"
	"github.com/jw6ventures/taskcal/internal/tasks"
)

var webhookSchema = schema.MustCompile("webhook-task.json", `{
	"type": "object",
	"properties": {
		"title": {"type": "string", "minLength": 1, "maxLength": 200, "pattern": "\\S"},
		"description": {"type": "string", "maxLength": 5000},
		"dueDate": {"type": ["string", "null"], "format": "date-time"},
		"priority": {"enum": ["LOW", "MEDIUM", "HIGH", "URGENT"]},
		"status": {"enum": ["TODO", "IN_PROGRESS", "DONE"]},
		"listId": {"type": "string", "minLength": 1},
		"listName": {"type": "string", "minLength": 1, "maxLength": 100}
	},
	"required": ["title"],
	"not": {"required": ["listId", "listName"]},
	"additionalProperties": false
}`)

type webhookPayload struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	DueDate     *time.Time     `json:"dueDate"`
	Priority    store.Priority `json:"priority"`
	Status      store.Status   `json:"status"`
	ListID      *string        `json:"listId"`
	ListName    *string        `json:"listName"`
}

// IngestWebhook creates a task for the webhook token's owner. The payload is validated
// before anything is written. The activity entry carries no actor.
func (s *Service) IngestWebhook(ctx context.Context, token string, body []byte) (*tasks.TaskView, error) {
	userID, err := s.UserForWebhookToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := webhookSchema.Validate(body); err != nil {
		return nil, apperr.Validation("invalid webhook payload: %v", err)
	}
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, apperr.Validation("invalid webhook payload: %v", err)
	}

	in := tasks.TaskInput{
		Title:       p.Title,
		Description: p.Description,
		DueDate:     p.DueDate,
		Priority:    p.Priority,
		Status:      p.Status,
		ListID:      p.ListID,
	}
	if err := tasks.ValidateTaskInput(in); err != nil {
		return nil, err
	}
	if p.ListName != nil {
		list, err := s.tasks.EnsureList(ctx, userID, *p.ListName)
		if err != nil {
			return nil, err
		}
		in.ListID = &list.ID
	}
	return s.tasks.CreateSystemTask(ctx, userID, in)
}
