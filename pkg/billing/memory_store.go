package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// In-memory store implementations, one per aggregate. Suitable for tests
// and single-node deployments that do not need durability; production
// deployments use the postgres implementations.

// MemorySubscriptionStore is an in-memory SubscriptionStore.
type MemorySubscriptionStore struct {
	mu    sync.RWMutex
	subs  map[uuid.UUID]*Subscription
	items map[uuid.UUID][]SubscriptionItem
}

// NewMemorySubscriptionStore creates an empty subscription store.
func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{
		subs:  make(map[uuid.UUID]*Subscription),
		items: make(map[uuid.UUID][]SubscriptionItem),
	}
}

var _ SubscriptionStore = (*MemorySubscriptionStore)(nil)

func (m *MemorySubscriptionStore) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *MemorySubscriptionStore) GetByOrganization(ctx context.Context, orgID uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subs {
		if sub.OrganizationID == orgID && !sub.Status.Terminal() {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemorySubscriptionStore) GetByProviderSubID(ctx context.Context, provider, providerSubID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subs {
		if sub.Provider == provider && sub.ProviderSubID == providerSubID && providerSubID != "" {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemorySubscriptionStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.subs {
		if existing.OrganizationID == sub.OrganizationID && !existing.Status.Terminal() {
			return ErrSubscriptionExists
		}
	}

	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemorySubscriptionStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[sub.ID]; !ok {
		return ErrSubscriptionNotFound
	}
	sub.UpdatedAt = time.Now().UTC()
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemorySubscriptionStore) ListPastDue(ctx context.Context, since time.Time) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Subscription
	for _, sub := range m.subs {
		if sub.Status == StatusPastDue && sub.PastDueSince != nil && sub.PastDueSince.Before(since) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemorySubscriptionStore) ReplaceItems(ctx context.Context, subID uuid.UUID, items []SubscriptionItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[subID]; !ok {
		return ErrSubscriptionNotFound
	}

	cp := make([]SubscriptionItem, len(items))
	copy(cp, items)
	for i := range cp {
		if cp[i].ID == uuid.Nil {
			cp[i].ID = uuid.New()
		}
		cp[i].SubscriptionID = subID
	}
	m.items[subID] = cp
	return nil
}

func (m *MemorySubscriptionStore) ListItems(ctx context.Context, subID uuid.UUID) ([]SubscriptionItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := m.items[subID]
	cp := make([]SubscriptionItem, len(items))
	copy(cp, items)
	return cp, nil
}

// MemoryInvoiceStore is an in-memory InvoiceStore.
type MemoryInvoiceStore struct {
	mu   sync.RWMutex
	invs map[uuid.UUID]*Invoice
}

// NewMemoryInvoiceStore creates an empty invoice store.
func NewMemoryInvoiceStore() *MemoryInvoiceStore {
	return &MemoryInvoiceStore{invs: make(map[uuid.UUID]*Invoice)}
}

var _ InvoiceStore = (*MemoryInvoiceStore)(nil)

func (m *MemoryInvoiceStore) Upsert(ctx context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, existing := range m.invs {
		if existing.Provider == inv.Provider && existing.ProviderInvoiceID == inv.ProviderInvoiceID {
			if existing.Paid() {
				// Replays of the settling event are no-ops; anything that
				// would change a paid invoice is rejected.
				if inv.Status == InvoicePaid {
					return nil
				}
				return ErrInvoiceImmutable
			}
			inv.ID = id
			inv.CreatedAt = existing.CreatedAt
			cp := *inv
			m.invs[id] = &cp
			return nil
		}
	}

	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	cp := *inv
	m.invs[inv.ID] = &cp
	return nil
}

func (m *MemoryInvoiceStore) GetByProviderID(ctx context.Context, provider, providerInvoiceID string) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, inv := range m.invs {
		if inv.Provider == provider && inv.ProviderInvoiceID == providerInvoiceID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrInvoiceNotFound
}

func (m *MemoryInvoiceStore) ListBySubscription(ctx context.Context, subID uuid.UUID) ([]*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Invoice
	for _, inv := range m.invs {
		if inv.SubscriptionID == subID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MemoryPaymentMethodStore is an in-memory PaymentMethodStore.
type MemoryPaymentMethodStore struct {
	mu      sync.RWMutex
	methods map[uuid.UUID]*PaymentMethod
}

// NewMemoryPaymentMethodStore creates an empty payment method store.
func NewMemoryPaymentMethodStore() *MemoryPaymentMethodStore {
	return &MemoryPaymentMethodStore{methods: make(map[uuid.UUID]*PaymentMethod)}
}

var _ PaymentMethodStore = (*MemoryPaymentMethodStore)(nil)

func (m *MemoryPaymentMethodStore) Upsert(ctx context.Context, pm *PaymentMethod) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Keep at most one default per organization.
	if pm.IsDefault {
		for _, existing := range m.methods {
			if existing.OrganizationID == pm.OrganizationID {
				existing.IsDefault = false
			}
		}
	}

	for id, existing := range m.methods {
		if existing.Provider == pm.Provider && existing.ProviderID == pm.ProviderID {
			pm.ID = id
			pm.CreatedAt = existing.CreatedAt
			cp := *pm
			m.methods[id] = &cp
			return nil
		}
	}

	if pm.ID == uuid.Nil {
		pm.ID = uuid.New()
	}
	if pm.CreatedAt.IsZero() {
		pm.CreatedAt = time.Now().UTC()
	}
	cp := *pm
	m.methods[pm.ID] = &cp
	return nil
}

func (m *MemoryPaymentMethodStore) List(ctx context.Context, orgID uuid.UUID) ([]*PaymentMethod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*PaymentMethod
	for _, pm := range m.methods {
		if pm.OrganizationID == orgID {
			cp := *pm
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MemoryEventStore is an in-memory EventStore.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[uuid.UUID]*WebhookEvent
	// keys indexes (provider, provider_event_id) for the idempotent insert.
	keys map[string]uuid.UUID
	// order preserves insertion order so ListUnprocessed returns oldest first.
	order []uuid.UUID
}

// NewMemoryEventStore creates an empty event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		events: make(map[uuid.UUID]*WebhookEvent),
		keys:   make(map[string]uuid.UUID),
	}
}

var _ EventStore = (*MemoryEventStore)(nil)

func eventKey(provider, providerEventID string) string {
	return provider + ":" + providerEventID
}

func (m *MemoryEventStore) Insert(ctx context.Context, ev *WebhookEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := eventKey(ev.Provider, ev.ProviderEventID)
	if _, ok := m.keys[key]; ok {
		return false, nil
	}

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	cp := *ev
	m.events[ev.ID] = &cp
	m.keys[key] = ev.ID
	m.order = append(m.order, ev.ID)
	return true, nil
}

func (m *MemoryEventStore) Get(ctx context.Context, id uuid.UUID) (*WebhookEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := *ev
	return &cp, nil
}

func (m *MemoryEventStore) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[id]
	if !ok {
		return ErrEventNotFound
	}
	now := time.Now().UTC()
	ev.Processed = true
	ev.ProcessedAt = &now
	ev.LastError = ""
	return nil
}

func (m *MemoryEventStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[id]
	if !ok {
		return ErrEventNotFound
	}
	now := time.Now().UTC()
	ev.Attempts++
	ev.LastAttemptAt = &now
	ev.LastError = errMsg
	return nil
}

func (m *MemoryEventStore) MarkDeadLettered(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[id]
	if !ok {
		return ErrEventNotFound
	}
	ev.DeadLettered = true
	return nil
}

func (m *MemoryEventStore) ListUnprocessed(ctx context.Context, limit int) ([]*WebhookEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*WebhookEvent
	for _, id := range m.order {
		ev := m.events[id]
		if ev.Processed || ev.DeadLettered {
			continue
		}
		cp := *ev
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
