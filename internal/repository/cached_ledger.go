package repository

import (
	"context"

	"github.com/Dhoini/billing-scheduler/internal/domain"
	"github.com/Dhoini/billing-scheduler/pkg/logger"
)

// CachedLedger отдает снимки журнала через Redis, если кэш подключен.
// Источник истины всегда LedgerStore; ошибки кэша только логируются.
// Кэш принимает только снимки новее уже записанного, поэтому параллельные
// Refresh не откатывают его к старому состоянию.
type CachedLedger struct {
	store *LedgerStore
	cache *SnapshotCache
	log   *logger.Logger
}

// NewCachedLedger создает читателя с кэшированием. cache может быть nil.
func NewCachedLedger(store *LedgerStore, cache *SnapshotCache, log *logger.Logger) *CachedLedger {
	return &CachedLedger{
		store: store,
		cache: cache,
		log:   log,
	}
}

// Snapshot сначала смотрит в кэш, потом в хранилище
func (r *CachedLedger) Snapshot(ctx context.Context) Snapshot {
	if r.cache == nil {
		return r.store.Snapshot(ctx)
	}

	cached, err := r.cache.Load(ctx)
	if err != nil {
		r.log.Warnw("Error getting snapshot from cache", "error", err)
	}
	if cached != nil {
		return *cached
	}

	snap := r.store.Snapshot(ctx)
	if _, err := r.cache.Store(ctx, snap); err != nil {
		r.log.Warnw("Failed to cache snapshot after fetching", "error", err)
	}
	return snap
}

// Subscription ищет подписку в том же снимке, что и списки
func (r *CachedLedger) Subscription(ctx context.Context, id string) (domain.Subscription, error) {
	if r.cache == nil {
		return r.store.GetSubscription(ctx, id)
	}
	for _, sub := range r.Snapshot(ctx).Subscriptions {
		if sub.ID == id {
			return sub, nil
		}
	}
	return domain.Subscription{}, domain.NewNotFoundError(entitySubscription, id)
}

// Transaction ищет транзакцию в том же снимке, что и списки
func (r *CachedLedger) Transaction(ctx context.Context, id string) (domain.Transaction, error) {
	if r.cache == nil {
		return r.store.GetTransaction(ctx, id)
	}
	for _, txn := range r.Snapshot(ctx).Transactions {
		if txn.ID == id {
			return txn, nil
		}
	}
	return domain.Transaction{}, domain.NewNotFoundError(entityTransaction, id)
}

// Refresh записывает в кэш текущее состояние хранилища
func (r *CachedLedger) Refresh(ctx context.Context) {
	if r.cache == nil {
		return
	}
	if _, err := r.cache.Store(ctx, r.store.Snapshot(ctx)); err != nil {
		r.log.Warnw("Failed to refresh snapshot cache", "error", err)
		if err := r.cache.Invalidate(ctx); err != nil {
			r.log.Warnw("Failed to invalidate snapshot cache", "error", err)
		}
	}
}
