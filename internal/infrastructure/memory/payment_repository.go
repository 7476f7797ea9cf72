package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ofbconnect/internal/domain/payment"
)

type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]payment.Payment
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{payments: make(map[string]payment.Payment)}
}

func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[p.ID]; ok {
		return fmt.Errorf("payment %s already exists", p.ID)
	}
	r.payments[p.ID] = *p
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*payment.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, s payment.BankStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return fmt.Errorf("payment %s not found", id)
	}
	p.Status, p.StatusReason, p.UpdatedAt = s.Status, s.Reason, s.UpdatedAt
	r.payments[id] = p
	return nil
}

func (r *PaymentRepository) List(ctx context.Context, f payment.Filter) ([]*payment.Payment, int, error) {
	f.Normalize()
	r.mu.RLock()
	var matched []*payment.Payment
	for _, p := range r.payments {
		if f.Matches(&p) {
			matched = append(matched, &p)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	start := min(f.Offset(), total)
	end := min(start+f.PageSize, total)
	return matched[start:end], total, nil
}
