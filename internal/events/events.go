// Package events publishes catalog change notifications.
package events

import (
	"context"
	"strings"
	"time"

	"mdcatalog/internal/model"
)

// DefaultPrefix is the first subject token of every catalog event.
const DefaultPrefix = "catalog"

// Actions, the last subject token.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionBlocked   = "blocked"
	ActionUnblocked = "unblocked"
)

// Subject builds "<prefix>.<Kind>.<action>".
func Subject(prefix, kind, action string) string {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "." + kind + "." + action
}

// BlockAction maps a new blocked status to its action.
func BlockAction(blocked bool) string {
	if blocked {
		return ActionBlocked
	}
	return ActionUnblocked
}

// Event types

type EntityCreated struct {
	Entity *model.Entity `json:"entity"`
}

type EntityUpdated struct {
	Entity *model.Entity `json:"entity"`
	// Changes holds the submitted keys: field name -> new value, nil when cleared.
	Changes map[string]any `json:"changes"`
}

type StatusChanged struct {
	Kind            string    `json:"kind"`
	ID              string    `json:"id"`
	Blocked         bool      `json:"blocked"`
	RestrictedKinds []string  `json:"restrictedKinds"`
	At              time.Time `json:"at"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, subject string, event any) error
	Close() error
}
