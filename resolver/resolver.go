// Package resolver looks up the public address from two independent providers.
package resolver

//go:generate mockgen -destination=mock_provider.go -package=resolver github.com/st-keller/dust-client/resolver Provider

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/st-keller/dust-client/logger"
	"github.com/st-keller/dust-client/types"
)

// Provider returns a JSON address-echo body.
type Provider interface {
	Name() string
	Lookup(ctx context.Context) (json.RawMessage, error)
}

// Resolver queries a generic provider (A) and the collector-operated one (B)
// concurrently.
type Resolver struct {
	a       Provider
	b       Provider
	timeout time.Duration
	log     logger.Logger
}

// New creates a Resolver. A zero timeout leaves lookups bounded only by ctx.
func New(a, b Provider, timeout time.Duration, log logger.Logger) *Resolver {
	return &Resolver{a: a, b: b, timeout: timeout, log: log.WithComponent("resolver")}
}

// Resolve waits for both lookups to settle. A failing provider leaves its
// slot nil; when both fail the result is nil.
func (r *Resolver) Resolve(ctx context.Context) *types.AddressRecord {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var (
		g      errgroup.Group
		record types.AddressRecord
	)

	// lookups never return an error, so one failure cannot cut the other short
	g.Go(func() error {
		record.ProviderA = r.lookup(ctx, r.a)
		return nil
	})
	g.Go(func() error {
		record.ProviderB = r.lookup(ctx, r.b)
		return nil
	})
	_ = g.Wait()

	if !record.Usable() {
		r.log.Warn().Msg("Failed to fetch IP data")
		return nil
	}

	return &record
}

func (r *Resolver) lookup(ctx context.Context, p Provider) json.RawMessage {
	if p == nil {
		return nil
	}

	body, err := p.Lookup(ctx)
	if err != nil {
		r.log.Warn().Err(err).Str("provider", p.Name()).Msg("Address lookup failed")
		return nil
	}

	return body
}
