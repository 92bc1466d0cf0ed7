// Package notify delivers committed balance changes to out-of-band
// listeners. Delivery is fire-and-forget: nothing here can affect the ledger.
package notify

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hongminglow/all-in-floor/internal/models"
)

// Publisher delivers a balance change event.
type Publisher interface {
	Publish(ctx context.Context, event models.BalanceChanged) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, models.BalanceChanged) error { return nil }

// Fanout publishes to every member and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event models.BalanceChanged) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func encode(event models.BalanceChanged) ([]byte, error) {
	return json.Marshal(event)
}
