// Package tasks implements list, sharing and task operations on behalf of a principal.
package tasks

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jw6ventures/taskcal/internal/access"
	"github.com/jw6ventures/taskcal/internal/activity"
	"github.com/jw6ventures/taskcal/internal/apperr"
	"github.com/jw6ventures/taskcal/internal/store"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 5000
	maxListNameLength    = 100
	maxCommentLength     = 2000
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Service coordinates the store, the access resolver and the activity recorder.
type Service struct {
	store    *store.Store
	access   *access.Resolver
	activity *activity.Recorder
}

// NewService wires a Service.
func NewService(s *store.Store, recorder *activity.Recorder) *Service {
	return &Service{store: s, access: access.NewResolver(s), activity: recorder}
}

// Access exposes the resolver for callers that need raw role checks.
func (s *Service) Access() *access.Resolver {
	return s.access
}

func requireText(field, value string, max int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", apperr.Validation("%s is required", field)
	}
	if utf8.RuneCountInString(value) > max {
		return "", apperr.Validation("%s must be at most %d characters", field, max)
	}
	return value, nil
}

func validateDescription(desc string) error {
	if utf8.RuneCountInString(desc) > maxDescriptionLength {
		return apperr.Validation("description must be at most %d characters", maxDescriptionLength)
	}
	return nil
}

// normalizeColor returns nil for an empty color.
func normalizeColor(color *string) (*string, error) {
	if color == nil {
		return nil, nil
	}
	c := strings.TrimSpace(*color)
	if c == "" {
		return nil, nil
	}
	if !colorPattern.MatchString(c) {
		return nil, apperr.Validation("color must be a hex value like #1A2B3C")
	}
	c = strings.ToUpper(c)
	return &c, nil
}
