package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"ofbconnect/internal/domain/openfinance"
)

// JobRepository keeps sync jobs and refuses to modify finished ones.
type JobRepository struct {
	mu   sync.RWMutex
	jobs map[string]openfinance.SyncJob
}

func NewJobRepository() *JobRepository {
	return &JobRepository{jobs: make(map[string]openfinance.SyncJob)}
}

func cloneJob(j openfinance.SyncJob) *openfinance.SyncJob {
	j.Errors = slices.Clone(j.Errors)
	return &j
}

func (r *JobRepository) Create(ctx context.Context, job *openfinance.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("sync job %s already exists", job.ID)
	}
	r.jobs[job.ID] = *cloneJob(*job)
	return nil
}

func (r *JobRepository) Update(ctx context.Context, job *openfinance.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[job.ID]
	if !ok {
		return fmt.Errorf("sync job %s not found", job.ID)
	}
	if stored.Status.IsTerminal() {
		return openfinance.ErrJobFinalized
	}
	r.jobs[job.ID] = *cloneJob(*job)
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*openfinance.SyncJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	return cloneJob(j), nil
}

func (r *JobRepository) ListByConnection(ctx context.Context, connectionID string, limit int) ([]*openfinance.SyncJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*openfinance.SyncJob
	for _, j := range r.jobs {
		if j.ConnectionID == connectionID {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type txKey struct{ accountID, externalID string }

// TransactionStore keeps imported transactions unique by (account, external id).
type TransactionStore struct {
	mu  sync.RWMutex
	txs map[txKey]openfinance.ImportedTransaction
}

func NewTransactionStore() *TransactionStore {
	return &TransactionStore{txs: make(map[txKey]openfinance.ImportedTransaction)}
}

func (s *TransactionStore) UpsertByExternalID(ctx context.Context, tx *openfinance.ImportedTransaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := txKey{tx.AccountID, tx.ExternalID}
	if _, ok := s.txs[key]; ok {
		return false, nil
	}
	stored := *tx
	stored.Tags = slices.Clone(tx.Tags)
	s.txs[key] = stored
	return true, nil
}

// ListByAccount returns the transactions of an account ordered by booking date.
func (s *TransactionStore) ListByAccount(ctx context.Context, accountID string) ([]*openfinance.ImportedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*openfinance.ImportedTransaction
	for k, tx := range s.txs {
		if k.accountID == accountID {
			tx := tx
			out = append(out, &tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BookingDate.Equal(out[j].BookingDate) {
			return out[i].ExternalID < out[j].ExternalID
		}
		return out[i].BookingDate.Before(out[j].BookingDate)
	})
	return out, nil
}

func (s *TransactionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txs)
}
