package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"futures-hedge-bot/internal/cache"
	"futures-hedge-bot/internal/events"
	"futures-hedge-bot/internal/exchange"
	"futures-hedge-bot/internal/logging"
	"futures-hedge-bot/internal/position"
	"futures-hedge-bot/internal/snapshot"
)

// balanceFreshFor bounds how long a fetched account balance may serve
// later update cycles before the gateway is asked again. Every pair's
// lifecycle reads balances each cycle, so this collapses the fan-out
// to at most one account call per credential per window.
const balanceFreshFor = 10 * time.Second

// Reconciler merges the two credential gateways into one logical venue
// view. Primaries trade on the primary credential, hedges on the hedge
// credential when one is configured, and every authoritative fetch
// writes the per-credential snapshot through the store.
type Reconciler struct {
	primary  exchange.Gateway
	hedge    exchange.Gateway
	store    snapshot.Store
	bus      *events.Bus
	balances *cache.BalanceCache
	log      *logging.Logger
}

// NewReconciler wires the gateways. hedge may be nil, in which case all
// hedge traffic falls back to the primary credential. store may be nil
// to disable snapshots.
func NewReconciler(primary, hedge exchange.Gateway, store snapshot.Store, bus *events.Bus) *Reconciler {
	return &Reconciler{
		primary:  primary,
		hedge:    hedge,
		store:    store,
		bus:      bus,
		balances: cache.NewBalanceCache(balanceFreshFor),
		log:      logging.Default().WithComponent("reconciler"),
	}
}

// HedgeGateway returns the gateway hedge orders route to.
func (r *Reconciler) HedgeGateway() exchange.Gateway {
	if r.hedge != nil {
		return r.hedge
	}
	return r.primary
}

// SplitCredentials reports whether hedges trade on their own account.
func (r *Reconciler) SplitCredentials() bool {
	return r.hedge != nil && r.hedge.CredentialTag() != r.primary.CredentialTag()
}

// gatewayFor routes by the credential tag stamped on a position,
// defaulting to the primary credential for unknown tags.
func (r *Reconciler) gatewayFor(credential string) exchange.Gateway {
	if r.hedge != nil && credential == r.hedge.CredentialTag() {
		return r.hedge
	}
	return r.primary
}

// OpenPrimary opens a primary position on the primary credential.
func (r *Reconciler) OpenPrimary(ctx context.Context, req exchange.OpenRequest) (*position.Position, error) {
	return r.primary.OpenPosition(ctx, req)
}

// OpenHedge opens a hedge on the hedge credential, falling back to the
// primary credential when no hedge gateway is configured.
func (r *Reconciler) OpenHedge(ctx context.Context, req exchange.OpenRequest) (*position.Position, error) {
	return r.HedgeGateway().OpenPosition(ctx, req)
}

// Close market-closes a position on the credential it was opened with.
func (r *Reconciler) Close(ctx context.Context, pos *position.Position) error {
	return r.gatewayFor(pos.Credential).ClosePosition(ctx, pos)
}

// SetTakeProfit places or replaces the reduce-only take-profit on the
// position's own credential.
func (r *Reconciler) SetTakeProfit(ctx context.Context, pos *position.Position, price float64) error {
	return r.gatewayFor(pos.Credential).SetTakeProfitOrder(ctx, pos, price)
}

// CurrentPrice reads the mark price from the primary credential; both
// accounts trade the same venue so one quote source suffices.
func (r *Reconciler) CurrentPrice(ctx context.Context, pair string) (float64, error) {
	return r.primary.GetCurrentPrice(ctx, pair)
}

// Balances fetches both account balances concurrently, serving recent
// fetches from a short-lived cache so per-pair update cycles do not
// multiply account endpoint calls. Without a hedge credential the hedge
// balance mirrors the primary's.
func (r *Reconciler) Balances(ctx context.Context) (exchange.Balance, exchange.Balance, error) {
	if !r.SplitCredentials() {
		if b, ok := r.balances.Get(r.primary.CredentialTag()); ok {
			return b, b, nil
		}
		b, err := r.primary.GetAccountBalance(ctx)
		if err != nil {
			return exchange.Balance{}, exchange.Balance{}, err
		}
		r.balances.Put(r.primary.CredentialTag(), b)
		return b, b, nil
	}

	primaryBal, primaryOK := r.balances.Get(r.primary.CredentialTag())
	hedgeBal, hedgeOK := r.balances.Get(r.hedge.CredentialTag())
	if primaryOK && hedgeOK {
		return primaryBal, hedgeBal, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		primaryBal, err = r.primary.GetAccountBalance(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		hedgeBal, err = r.hedge.GetAccountBalance(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return exchange.Balance{}, exchange.Balance{}, err
	}

	r.balances.Put(r.primary.CredentialTag(), primaryBal)
	r.balances.Put(r.hedge.CredentialTag(), hedgeBal)
	return primaryBal, hedgeBal, nil
}

// AllPositions fetches open positions from both credentials, writes the
// snapshot per credential and returns the concatenated set. A snapshot
// write failure is logged, never fatal: the live view is authoritative.
func (r *Reconciler) AllPositions(ctx context.Context, pair string) ([]*position.Position, error) {
	if !r.SplitCredentials() {
		positions, err := r.primary.GetOpenPositions(ctx, pair)
		if err != nil {
			return nil, err
		}
		r.writeSnapshot(ctx, r.primary.CredentialTag(), positions)
		return positions, nil
	}

	var primaryPositions, hedgePositions []*position.Position
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		primaryPositions, err = r.primary.GetOpenPositions(gctx, pair)
		return err
	})
	g.Go(func() error {
		var err error
		hedgePositions, err = r.hedge.GetOpenPositions(gctx, pair)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.writeSnapshot(ctx, r.primary.CredentialTag(), primaryPositions)
	r.writeSnapshot(ctx, r.hedge.CredentialTag(), hedgePositions)

	merged := make([]*position.Position, 0, len(primaryPositions)+len(hedgePositions))
	merged = append(merged, primaryPositions...)
	merged = append(merged, hedgePositions...)
	return merged, nil
}

func (r *Reconciler) writeSnapshot(ctx context.Context, credential string, positions []*position.Position) {
	if r.store == nil {
		return
	}
	if err := r.store.Write(ctx, credential, snapshot.FromPositions(positions)); err != nil {
		r.log.Warn("snapshot write failed", "credential", credential, "error", err)
		return
	}
	if r.bus != nil {
		r.bus.PublishSnapshotWritten(credential, len(positions))
	}
}

// Restore reads the last snapshot back as positions, newest write first
// per credential. Gone snapshots restore an empty set.
func (r *Reconciler) Restore(ctx context.Context) ([]*position.Position, error) {
	if r.store == nil {
		return nil, nil
	}

	docs, err := r.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var restored []*position.Position
	for _, doc := range docs {
		for _, entry := range doc.Positions {
			restored = append(restored, entry.ToPosition())
		}
	}
	return restored, nil
}
