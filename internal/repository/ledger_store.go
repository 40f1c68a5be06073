package repository

import (
	"context"
	"sync"
	"time"

	"github.com/Dhoini/billing-scheduler/internal/domain"
	"github.com/Dhoini/billing-scheduler/pkg/logger"
)

const (
	entitySubscription = "subscription"
	entityTransaction  = "transaction"
)

// Snapshot неизменяемая копия обеих коллекций, снятая под одной блокировкой.
// Version растет с каждым изменением хранилища.
type Snapshot struct {
	Version       uint64                `json:"version"`
	Subscriptions []domain.Subscription `json:"subscriptions"`
	Transactions  []domain.Transaction  `json:"transactions"`
}

// LedgerStore хранит подписки и журнал транзакций в памяти.
// Все изменения проходят через один мьютекс, наружу отдаются только копии.
// Ключ идемпотентности уникален по всему журналу.
type LedgerStore struct {
	mu sync.RWMutex

	subscriptions map[string]domain.Subscription
	subOrder      []string

	transactions map[string]domain.Transaction
	txnOrder     []string

	// idempotency key -> transaction id
	byKey map[string]string

	version uint64

	log *logger.Logger
}

// NewLedgerStore создает пустое хранилище
func NewLedgerStore(log *logger.Logger) *LedgerStore {
	return &LedgerStore{
		subscriptions: make(map[string]domain.Subscription),
		transactions:  make(map[string]domain.Transaction),
		byKey:         make(map[string]string),
		log:           log,
	}
}

// AddTransaction добавляет транзакцию в журнал
func (s *LedgerStore) AddTransaction(ctx context.Context, txn domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkTransactionLocked(txn); err != nil {
		return err
	}
	s.insertTransactionLocked(txn)
	s.version++
	return nil
}

// AddSubscription атомарно добавляет подписку вместе с ее первой транзакцией
func (s *LedgerStore) AddSubscription(ctx context.Context, sub domain.Subscription, first domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID]; exists {
		return domain.NewDuplicateError(entitySubscription, "id", sub.ID)
	}
	if err := s.checkTransactionLocked(first); err != nil {
		return err
	}

	s.subscriptions[sub.ID] = sub
	s.subOrder = append(s.subOrder, sub.ID)
	s.insertTransactionLocked(first)
	s.version++
	return nil
}

// Load заполняет хранилище готовыми данными (демо-набор, восстановление).
// Либо загружается все, либо ничего.
func (s *LedgerStore) Load(ctx context.Context, subs []domain.Subscription, txns []domain.Transaction) error {
	return s.Apply(ctx, func(tx *LedgerTx) error {
		for _, sub := range subs {
			if err := tx.InsertSubscription(sub); err != nil {
				return err
			}
		}
		for _, txn := range txns {
			if err := tx.InsertTransaction(txn); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetSubscription возвращает подписку по ID
func (s *LedgerStore) GetSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, exists := s.subscriptions[id]
	if !exists {
		return domain.Subscription{}, domain.NewNotFoundError(entitySubscription, id)
	}
	return sub, nil
}

// GetTransaction возвращает транзакцию по ID
func (s *LedgerStore) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, exists := s.transactions[id]
	if !exists {
		return domain.Transaction{}, domain.NewNotFoundError(entityTransaction, id)
	}
	return txn, nil
}

// FindByIdempotencyKey возвращает транзакцию с указанным ключом
func (s *LedgerStore) FindByIdempotencyKey(ctx context.Context, key string) (domain.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[key]
	if !ok {
		return domain.Transaction{}, false
	}
	return s.transactions[id], true
}

// Subscriptions возвращает подписки в порядке создания
func (s *LedgerStore) Subscriptions(ctx context.Context) []domain.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriptionsLocked()
}

// Transactions возвращает транзакции в порядке добавления, отфильтрованные по filter
func (s *LedgerStore) Transactions(ctx context.Context, filter domain.TransactionFilter) []domain.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, len(s.txnOrder))
	for _, id := range s.txnOrder {
		if txn := s.transactions[id]; filter.Match(txn) {
			result = append(result, txn)
		}
	}
	return result
}

// Snapshot возвращает согласованную копию обеих коллекций
func (s *LedgerStore) Snapshot(ctx context.Context) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txns := make([]domain.Transaction, 0, len(s.txnOrder))
	for _, id := range s.txnOrder {
		txns = append(txns, s.transactions[id])
	}
	return Snapshot{
		Version:       s.version,
		Subscriptions: s.subscriptionsLocked(),
		Transactions:  txns,
	}
}

// UpdateSubscription изменяет подписку функцией fn под блокировкой записи.
// Если fn возвращает ошибку, подписка не меняется.
func (s *LedgerStore) UpdateSubscription(ctx context.Context, id string, fn func(*domain.Subscription) error) (domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subscriptions[id]
	if !exists {
		return domain.Subscription{}, domain.NewNotFoundError(entitySubscription, id)
	}
	if err := fn(&sub); err != nil {
		return domain.Subscription{}, err
	}
	s.subscriptions[id] = sub
	s.version++
	return sub, nil
}

// ClaimDue выбирает все транзакции, готовые к списанию на момент now, и
// переводит их функцией begin (обычно в processing) одним шагом.
// Транзакции, для которых begin вернул ошибку, остаются как были.
func (s *LedgerStore) ClaimDue(ctx context.Context, now time.Time, begin func(domain.Transaction) (domain.Transaction, error)) []domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []domain.Transaction
	for _, id := range s.txnOrder {
		txn := s.transactions[id]
		if !txn.IsDue(now) {
			continue
		}
		next, err := begin(txn)
		if err != nil {
			s.log.Warnw("Skipping due transaction", "transactionID", id, "error", err)
			continue
		}
		s.transactions[id] = next
		claimed = append(claimed, next)
	}
	if len(claimed) > 0 {
		s.version++
	}
	return claimed
}

// Apply выполняет fn над транзакционным представлением хранилища.
// Изменения видны остальным только целиком и только если fn вернул nil.
func (s *LedgerStore) Apply(ctx context.Context, fn func(tx *LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &LedgerTx{
		store: s,
		subs:  make(map[string]domain.Subscription),
		txns:  make(map[string]domain.Transaction),
		keys:  make(map[string]string),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commitLocked()
	s.version++
	return nil
}

func (s *LedgerStore) subscriptionsLocked() []domain.Subscription {
	result := make([]domain.Subscription, 0, len(s.subOrder))
	for _, id := range s.subOrder {
		result = append(result, s.subscriptions[id])
	}
	return result
}

func (s *LedgerStore) checkTransactionLocked(txn domain.Transaction) error {
	if _, exists := s.transactions[txn.ID]; exists {
		return domain.NewDuplicateError(entityTransaction, "id", txn.ID)
	}
	if _, exists := s.byKey[txn.IdempotencyKey]; exists {
		return domain.NewDuplicateError(entityTransaction, "idempotency_key", txn.IdempotencyKey)
	}
	return nil
}

func (s *LedgerStore) insertTransactionLocked(txn domain.Transaction) {
	s.transactions[txn.ID] = txn
	s.txnOrder = append(s.txnOrder, txn.ID)
	s.byKey[txn.IdempotencyKey] = txn.ID
}

// LedgerTx накапливает изменения внутри Apply
type LedgerTx struct {
	store *LedgerStore

	subs    map[string]domain.Subscription
	newSubs []string
	txns    map[string]domain.Transaction
	newTxns []string
	keys    map[string]string
}

// Subscription читает подписку с учетом накопленных изменений
func (tx *LedgerTx) Subscription(id string) (domain.Subscription, bool) {
	if sub, ok := tx.subs[id]; ok {
		return sub, true
	}
	sub, ok := tx.store.subscriptions[id]
	return sub, ok
}

// Transaction читает транзакцию с учетом накопленных изменений
func (tx *LedgerTx) Transaction(id string) (domain.Transaction, bool) {
	if txn, ok := tx.txns[id]; ok {
		return txn, true
	}
	txn, ok := tx.store.transactions[id]
	return txn, ok
}

// HasIdempotencyKey сообщает, занят ли ключ в журнале или в этом пакете
func (tx *LedgerTx) HasIdempotencyKey(key string) bool {
	if _, ok := tx.keys[key]; ok {
		return true
	}
	_, ok := tx.store.byKey[key]
	return ok
}

// HasOpenTransaction сообщает, есть ли у подписки незавершенная транзакция
func (tx *LedgerTx) HasOpenTransaction(subscriptionID string) bool {
	for _, txn := range tx.txns {
		if txn.SubscriptionID == subscriptionID && !txn.Status.Terminal() {
			return true
		}
	}
	for id, txn := range tx.store.transactions {
		if _, staged := tx.txns[id]; staged {
			continue
		}
		if txn.SubscriptionID == subscriptionID && !txn.Status.Terminal() {
			return true
		}
	}
	return false
}

// UpdateSubscription заменяет существующую подписку
func (tx *LedgerTx) UpdateSubscription(sub domain.Subscription) error {
	if _, ok := tx.Subscription(sub.ID); !ok {
		return domain.NewNotFoundError(entitySubscription, sub.ID)
	}
	tx.subs[sub.ID] = sub
	return nil
}

// InsertSubscription добавляет новую подписку
func (tx *LedgerTx) InsertSubscription(sub domain.Subscription) error {
	if _, ok := tx.Subscription(sub.ID); ok {
		return domain.NewDuplicateError(entitySubscription, "id", sub.ID)
	}
	tx.subs[sub.ID] = sub
	tx.newSubs = append(tx.newSubs, sub.ID)
	return nil
}

// UpdateTransaction заменяет существующую транзакцию; ключ идемпотентности менять нельзя
func (tx *LedgerTx) UpdateTransaction(txn domain.Transaction) error {
	current, ok := tx.Transaction(txn.ID)
	if !ok {
		return domain.NewNotFoundError(entityTransaction, txn.ID)
	}
	if current.IdempotencyKey != txn.IdempotencyKey {
		return domain.ErrInvalidOperation
	}
	tx.txns[txn.ID] = txn
	return nil
}

// InsertTransaction добавляет новую транзакцию, проверяя уникальность ключа
func (tx *LedgerTx) InsertTransaction(txn domain.Transaction) error {
	if _, ok := tx.Transaction(txn.ID); ok {
		return domain.NewDuplicateError(entityTransaction, "id", txn.ID)
	}
	if tx.HasIdempotencyKey(txn.IdempotencyKey) {
		return domain.NewDuplicateError(entityTransaction, "idempotency_key", txn.IdempotencyKey)
	}
	tx.txns[txn.ID] = txn
	tx.newTxns = append(tx.newTxns, txn.ID)
	tx.keys[txn.IdempotencyKey] = txn.ID
	return nil
}

func (tx *LedgerTx) commitLocked() {
	s := tx.store
	for id, sub := range tx.subs {
		s.subscriptions[id] = sub
	}
	s.subOrder = append(s.subOrder, tx.newSubs...)

	for id, txn := range tx.txns {
		s.transactions[id] = txn
	}
	s.txnOrder = append(s.txnOrder, tx.newTxns...)

	for key, id := range tx.keys {
		s.byKey[key] = id
	}
}
