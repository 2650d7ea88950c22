package session

import (
	"context"

	"dirbrowse/host"
)

// Target describes an entry pending deletion.
type Target struct {
	Name string    `json:"name"`
	Kind host.Kind `json:"kind"`
}

// ConfirmPrompt asks the user to confirm a delete. It blocks until the user
// answers.
type ConfirmPrompt interface {
	ConfirmDelete(ctx context.Context, target Target) (bool, error)
}

// NamePrompt asks for a new folder name. Implementations reject empty
// input and names in siblings before returning; an empty result means the
// user cancelled.
type NamePrompt interface {
	PromptName(ctx context.Context, siblings []string) (string, error)
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Notification struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// Notifier receives one notification per terminal outcome.
type Notifier interface {
	Notify(n Notification)
}

type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }
