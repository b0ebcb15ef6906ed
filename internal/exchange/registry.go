package exchange

import (
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Options carries the per-provider settings an adapter needs at construction
// time. BaseURL may be empty to use the provider's public host.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// factory builds a concrete Adapter from options.
type factory func(opts Options) Adapter

var registry = map[string]factory{
	"bybit": func(opts Options) Adapter {
		return NewBybitAdapter(opts.BaseURL, opts.Timeout, opts.Logger)
	},
	"binance": func(opts Options) Adapter {
		return NewBinanceAdapter(opts.BaseURL, opts.Timeout, opts.Logger)
	},
}

// New builds the adapter registered under the given provider id.
func New(provider string, opts Options) (Adapter, error) {
	build, ok := registry[provider]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s (supported: %v)", provider, Supported())
	}
	return build(opts), nil
}

// Supported returns the registered provider ids in sorted order.
func Supported() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
