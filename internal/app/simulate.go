package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"mintwatch/internal/oracle"
	"mintwatch/internal/service"
)

// SimulateAlert runs one evaluation tick against the configured store and
// dispatcher, pricing symbol at price instead of asking the oracle.
func (a *App) SimulateAlert(ctx context.Context, symbol string, price decimal.Decimal) (service.TickSummary, error) {
	if !a.Config.Alerting.Enabled {
		return service.TickSummary{}, errors.New("alerting is disabled")
	}
	if !price.IsPositive() {
		return service.TickSummary{}, errors.New("price must be greater than zero")
	}

	st, err := a.openStores(ctx, false)
	if err != nil {
		return service.TickSummary{}, err
	}
	defer st.close()

	dispatcher, err := a.newDispatcher()
	if err != nil {
		return service.TickSummary{}, err
	}

	static := oracle.NewStatic(map[string]decimal.Decimal{symbol: price})
	svc := a.newService(st, static, dispatcher, a.newCelebrator(st, dispatcher), nil, nil)

	summary, err := svc.RunTick(ctx, time.Now().UTC())
	if err != nil {
		return summary, err
	}

	fmt.Fprintf(a.Out, "tick %s: %d alerts, %d triggered, %d notified, %d failed, %d deleted\n",
		summary.TickID, summary.Alerts, summary.Triggered, summary.Notified, summary.NotifyFailed, summary.Deleted)
	return summary, nil
}
