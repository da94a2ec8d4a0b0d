package exchange

import (
	"testing"

	"tickflow/exchange/binance"
	"tickflow/exchange/bybit"
	"tickflow/exchange/okx"
	"tickflow/subscription"
)

func TestRegistryLookup(t *testing.T) {
	r, err := NewRegistry(
		binance.New(binance.Config{}),
		okx.New(okx.Config{}),
		bybit.New(bybit.Config{}),
	)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	for _, id := range []subscription.ExchangeID{subscription.Binance, subscription.Okx, subscription.Bybit} {
		c, ok := r.Connector(id)
		if !ok {
			t.Fatalf("no connector for %s", id)
		}
		if c.ID() != id {
			t.Errorf("connector for %s reports id %s", id, c.ID())
		}
	}

	if _, ok := r.Connector("kraken"); ok {
		t.Error("lookup of unregistered exchange succeeded")
	}
	if got := len(r.IDs()); got != 3 {
		t.Errorf("expected 3 registered ids, got %d", got)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(
		okx.New(okx.Config{}),
		okx.New(okx.Config{}),
	)
	if err == nil {
		t.Fatal("expected duplicate connector error")
	}
}
