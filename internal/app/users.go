package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mintwatch/internal/broadcast"
	"mintwatch/internal/notify"
	"mintwatch/internal/storage"
)

// AddUser registers a broadcast recipient.
func (a *App) AddUser(ctx context.Context, opts AddUserOptions) error {
	st, err := a.openStores(ctx, true)
	if err != nil {
		return err
	}
	defer st.close()

	created, err := st.users.UpsertUser(ctx, storage.User{
		ID:        opts.UserID,
		Username:  strings.TrimPrefix(strings.TrimSpace(opts.Username), "@"),
		FirstName: strings.TrimSpace(opts.FirstName),
		LastName:  strings.TrimSpace(opts.LastName),
	})
	if err != nil {
		return err
	}

	if created {
		fmt.Fprintf(a.Out, "user %d registered\n", opts.UserID)
	} else {
		fmt.Fprintf(a.Out, "user %d updated\n", opts.UserID)
	}
	return nil
}

// Stats prints registry and alert totals.
func (a *App) Stats(ctx context.Context) error {
	st, err := a.openStores(ctx, true)
	if err != nil {
		return err
	}
	defer st.close()

	users, err := st.users.CountUsers(ctx)
	if err != nil {
		return err
	}
	alerts, err := st.alerts.ListAllAlerts(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "users: %d\nactive alerts: %d\n", users, len(alerts))
	return nil
}

// Broadcast sends one message to every registered user and prints how many
// deliveries succeeded.
func (a *App) Broadcast(ctx context.Context, opts BroadcastOptions) (broadcast.Result, error) {
	text := strings.TrimSpace(opts.Text)
	if text == "" {
		return broadcast.Result{}, errors.New("broadcast message is empty")
	}
	if !opts.Markdown {
		text = notify.Escape(text)
	}

	st, err := a.openStores(ctx, true)
	if err != nil {
		return broadcast.Result{}, err
	}
	defer st.close()

	dispatcher, err := a.newDispatcher()
	if err != nil {
		return broadcast.Result{}, err
	}

	res, err := a.newBroadcaster(st, dispatcher).Send(ctx, notify.Message{
		Text:      text,
		ParseMode: notify.ModeMarkdownV2,
	})
	if err != nil {
		return res, err
	}

	fmt.Fprintf(a.Out, "broadcast sent to %d of %d users, %d failed\n", res.Sent, res.Recipients, len(res.Failed))
	return res, nil
}
