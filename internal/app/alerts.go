package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"mintwatch/internal/storage"
)

// AddAlert validates and stores a price alert, printing the current price of
// the symbol.
func (a *App) AddAlert(ctx context.Context, opts AddAlertOptions) (storage.PriceAlert, error) {
	direction, err := storage.ParseDirection(opts.Direction)
	if err != nil {
		return storage.PriceAlert{}, err
	}
	target, err := decimal.NewFromString(strings.TrimSpace(opts.Price))
	if err != nil {
		return storage.PriceAlert{}, fmt.Errorf("invalid price %q: %w", opts.Price, err)
	}
	if !target.IsPositive() {
		return storage.PriceAlert{}, errors.New("price must be greater than zero")
	}

	symbol := storage.NormalizeSymbol(opts.Symbol)
	quotes := a.newOracle()
	if !quotes.Supports(symbol) {
		return storage.PriceAlert{}, fmt.Errorf("unsupported symbol %q", symbol)
	}
	quote, err := quotes.FetchQuote(ctx, symbol)
	if err != nil {
		return storage.PriceAlert{}, fmt.Errorf("fetch current price: %w", err)
	}
	if !quote.Available {
		return storage.PriceAlert{}, fmt.Errorf("no current price for %s", symbol)
	}

	st, err := a.openStores(ctx, true)
	if err != nil {
		return storage.PriceAlert{}, err
	}
	defer st.close()

	if _, err := st.users.UpsertUser(ctx, storage.User{ID: opts.UserID}); err != nil {
		return storage.PriceAlert{}, fmt.Errorf("register alert owner: %w", err)
	}

	alert, err := st.alerts.CreateAlert(ctx, storage.PriceAlert{
		UserID:      opts.UserID,
		Symbol:      symbol,
		TargetPrice: target,
		Direction:   direction,
	})
	if err != nil {
		return storage.PriceAlert{}, err
	}

	cur := strings.ToUpper(a.Config.Oracle.VsCurrency)
	fmt.Fprintf(a.Out, "alert %d created: %s %s %s %s (current price %s %s)\n",
		alert.ID, alert.Symbol, alert.Direction, alert.TargetPrice.String(), cur, quote.Price.String(), cur)
	return alert, nil
}

// ListAlerts prints stored alerts; userID 0 lists every user's alerts.
func (a *App) ListAlerts(ctx context.Context, userID int64) error {
	st, err := a.openStores(ctx, true)
	if err != nil {
		return err
	}
	defer st.close()

	var alerts []storage.PriceAlert
	if userID != 0 {
		alerts, err = st.alerts.ListUserAlerts(ctx, userID)
	} else {
		alerts, err = st.alerts.ListAllAlerts(ctx)
	}
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tUser\tSymbol\tDirection\tTarget\tCreated (UTC)")
	for _, alert := range alerts {
		fmt.Fprintf(writer, "%d\t%d\t%s\t%s\t%s\t%s\n",
			alert.ID,
			alert.UserID,
			alert.Symbol,
			alert.Direction,
			alert.TargetPrice.String(),
			alert.CreatedAt.UTC().Format(time.RFC3339),
		)
	}
	return writer.Flush()
}

// RemoveAlert deletes an alert. With a non-zero userID only that user's
// alert can be removed.
func (a *App) RemoveAlert(ctx context.Context, id, userID int64) error {
	st, err := a.openStores(ctx, true)
	if err != nil {
		return err
	}
	defer st.close()

	var deleted bool
	if userID != 0 {
		deleted, err = st.alerts.DeleteUserAlert(ctx, id, userID)
	} else {
		deleted, err = st.alerts.DeleteAlert(ctx, id)
	}
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("alert %d: %w", id, storage.ErrNotFound)
	}

	fmt.Fprintf(a.Out, "alert %d removed\n", id)
	return nil
}
