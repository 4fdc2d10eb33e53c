package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"payment-orchestrator/internal/domains/webhook/model"
)

// =====================================================
// IN-MEMORY REPOSITORIES
// =====================================================

type MemoryDeliveryRepository struct {
	mu         sync.Mutex
	deliveries map[uuid.UUID]*model.Delivery
}

func NewMemoryDeliveryRepository() *MemoryDeliveryRepository {
	return &MemoryDeliveryRepository{deliveries: make(map[uuid.UUID]*model.Delivery)}
}

func (r *MemoryDeliveryRepository) Create(_ context.Context, d *model.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries[d.ID] = d.Clone()
	return nil
}

func (r *MemoryDeliveryRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.deliveries[id]
	if !ok {
		return nil, model.ErrDeliveryNotFound
	}
	return d.Clone(), nil
}

func (r *MemoryDeliveryRepository) Update(_ context.Context, d *model.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.deliveries[d.ID]; !ok {
		return model.ErrDeliveryNotFound
	}
	r.deliveries[d.ID] = d.Clone()
	return nil
}

func (r *MemoryDeliveryRepository) ClaimDue(_ context.Context, now, leaseUntil time.Time, limit int) ([]*model.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*model.Delivery
	for _, d := range r.deliveries {
		if d.IsReadyForRetry(now) || d.IsLeaseExpired(now) {
			due = append(due, d)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*model.Delivery, 0, len(due))
	for _, d := range due {
		d.Claim(now, leaseUntil)
		claimed = append(claimed, d.Clone())
	}
	return claimed, nil
}

func (r *MemoryDeliveryRepository) ListByPayment(_ context.Context, paymentID uuid.UUID) ([]*model.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.Delivery
	for _, d := range r.deliveries {
		if d.PaymentID == paymentID {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =====================================================
// ENDPOINTS
// =====================================================

type MemoryEndpointRepository struct {
	mu        sync.RWMutex
	endpoints []*model.Endpoint
}

func NewMemoryEndpointRepository() *MemoryEndpointRepository {
	return &MemoryEndpointRepository{}
}

func (r *MemoryEndpointRepository) Create(_ context.Context, e *model.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *e
	c.Events = append([]string(nil), e.Events...)
	r.endpoints = append(r.endpoints, &c)
	return nil
}

func (r *MemoryEndpointRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.endpoints {
		if e.ID == id {
			c := *e
			return &c, nil
		}
	}
	return nil, model.ErrEndpointNotFound
}

func (r *MemoryEndpointRepository) ListActive(_ context.Context, merchantID string) ([]*model.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Endpoint
	for _, e := range r.endpoints {
		if e.MerchantID == merchantID && e.Active {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *MemoryEndpointRepository) Deactivate(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.endpoints {
		if e.ID == id {
			e.Active = false
			e.UpdatedAt = time.Now()
			return nil
		}
	}
	return model.ErrEndpointNotFound
}
