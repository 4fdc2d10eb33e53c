package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"payment-orchestrator/internal/domains/payment/model"
	"payment-orchestrator/internal/domains/payment/statemachine"
)

// =====================================================
// IN-MEMORY REPOSITORIES
// =====================================================
// Used by tests and by the API when no database is configured. They honour
// the same version and uniqueness rules as the Postgres implementations.

type MemoryPaymentRepository struct {
	mu       sync.RWMutex
	payments map[uuid.UUID]*model.Payment
}

func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{payments: make(map[uuid.UUID]*model.Payment)}
}

func (r *MemoryPaymentRepository) Create(_ context.Context, p *model.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payments[p.ID]; exists {
		return model.NewPaymentError(model.ErrConflict, model.ErrCodeConcurrentUpdate, "Payment already exists", nil)
	}
	p.Version = 1
	r.payments[p.ID] = p.Clone()
	return nil
}

func (r *MemoryPaymentRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payments[id]
	if !ok {
		return nil, model.NewPaymentNotFoundError(id.String())
	}
	return p.Clone(), nil
}

func (r *MemoryPaymentRepository) GetByOrderID(_ context.Context, merchantID, orderID string) (*model.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *model.Payment
	for _, p := range r.payments {
		if p.MerchantID != merchantID || p.OrderID != orderID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, model.NewPaymentNotFoundError("order " + orderID)
	}
	return latest.Clone(), nil
}

func (r *MemoryPaymentRepository) GetByTransactionID(_ context.Context, provider, transactionID string) (*model.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.payments {
		if p.Provider != provider {
			continue
		}
		if (p.TransactionID != nil && *p.TransactionID == transactionID) ||
			p.Metadata[model.MetadataOriginalTransactionID] == transactionID {
			return p.Clone(), nil
		}
	}
	return nil, model.NewPaymentNotFoundError("transaction " + transactionID)
}

func (r *MemoryPaymentRepository) List(_ context.Context, filter model.ListPaymentsRequest) ([]*model.Payment, int, error) {
	filter.Normalize()

	r.mu.RLock()
	var matched []*model.Payment
	for _, p := range r.payments {
		if filter.MerchantID != "" && p.MerchantID != filter.MerchantID {
			continue
		}
		if filter.OrderID != "" && p.OrderID != filter.OrderID {
			continue
		}
		matched = append(matched, p.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset >= total {
		return []*model.Payment{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

func (r *MemoryPaymentRepository) Update(_ context.Context, p *model.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.payments[p.ID]
	if !ok || stored.Version != p.Version {
		return model.NewConcurrentUpdateError(p.ID.String())
	}
	p.Version++
	r.payments[p.ID] = p.Clone()
	return nil
}

func (r *MemoryPaymentRepository) ListStale(_ context.Context, statuses []statemachine.Status, cutoff time.Time, limit int) ([]*model.Payment, error) {
	wanted := make(map[statemachine.Status]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Payment
	for _, p := range r.payments {
		if wanted[p.Status] && p.CreatedAt.Before(cutoff) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count reports how many payments are stored.
func (r *MemoryPaymentRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.payments)
}

// =====================================================

type MemoryCallbackLogRepository struct {
	mu   sync.Mutex
	logs map[string]*model.CallbackLog
	byID map[uuid.UUID]string
}

func NewMemoryCallbackLogRepository() *MemoryCallbackLogRepository {
	return &MemoryCallbackLogRepository{
		logs: make(map[string]*model.CallbackLog),
		byID: make(map[uuid.UUID]string),
	}
}

func (r *MemoryCallbackLogRepository) Record(_ context.Context, entry *model.CallbackLog) (*model.CallbackLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := entry.Provider + "|" + entry.EventKey
	if existing, ok := r.logs[key]; ok {
		existing.Attempts++
		cp := *existing
		return &cp, nil
	}

	stored := *entry
	stored.Attempts = 1
	stored.Processed = false
	r.logs[key] = &stored
	r.byID[stored.ID] = key

	cp := stored
	return &cp, nil
}

func (r *MemoryCallbackLogRepository) MarkProcessed(_ context.Context, id uuid.UUID, paymentID *uuid.UUID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.byID[id]
	if !ok {
		return nil
	}
	entry := r.logs[key]
	if paymentID != nil {
		entry.PaymentID = paymentID
	}
	if errMsg != "" {
		entry.Error = &errMsg
		return nil
	}
	now := time.Now()
	entry.Processed = true
	entry.Error = nil
	entry.ProcessedAt = &now
	return nil
}
