package main

import (
	"context"

	"dirbrowse/session"
)

// Over HTTP the user has already answered by the time the request arrives:
// the answers travel in the request context.

type promptKey int

const (
	confirmKey promptKey = iota
	nameKey
)

func withConfirm(ctx context.Context, confirmed bool) context.Context {
	return context.WithValue(ctx, confirmKey, confirmed)
}

func withName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, nameKey, name)
}

type httpConfirm struct{}

func (httpConfirm) ConfirmDelete(ctx context.Context, _ session.Target) (bool, error) {
	confirmed, _ := ctx.Value(confirmKey).(bool)
	return confirmed, nil
}

type httpName struct{}

func (httpName) PromptName(ctx context.Context, _ []string) (string, error) {
	name, _ := ctx.Value(nameKey).(string)
	return name, nil
}
