package tasks

import "github.com/jw6ventures/taskcal/internal/store"

// NormalizeCompletion keeps status and isCompleted in lockstep. An explicit status wins
// over an explicit completion flag; a lone flag maps to DONE or TODO; with neither the
// current status is kept.
func NormalizeCompletion(status *store.Status, isCompleted *bool, current store.Status) (store.Status, bool) {
	switch {
	case status != nil:
		return *status, *status == store.StatusDone
	case isCompleted != nil && *isCompleted:
		return store.StatusDone, true
	case isCompleted != nil:
		return store.StatusTodo, false
	}
	return current, current == store.StatusDone
}
