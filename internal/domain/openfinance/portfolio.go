package openfinance

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"ofbconnect/internal/domain/connection"
)

// BankBalance is the available balance of one connection's BRL accounts.
type BankBalance struct {
	ConnectionID string
	BankCode     string
	BankName     string
	Available    decimal.Decimal
	// Accounts counts the accounts with a known balance.
	Accounts int
	// OldestUpdate is the least recent balance included, nil when none is known.
	OldestUpdate *time.Time
}

// BalanceSummary adds up the balances stored by the last syncs of every ACTIVE
// connection of a user.
type BalanceSummary struct {
	Total    decimal.Decimal
	Currency string
	Banks    []BankBalance
	AsOf     time.Time
}

// Balances aggregates the available balance across the user's ACTIVE connections.
// Balances come from the last sync; accounts never synced are left out.
func (s *ConnectService) Balances(ctx context.Context, userID string) (*BalanceSummary, error) {
	conns, err := s.connections.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &BalanceSummary{Total: decimal.Zero, Currency: "BRL", Banks: []BankBalance{}, AsOf: s.now().UTC()}
	for _, conn := range conns {
		if conn.Status != connection.StatusActive {
			continue
		}
		accounts, err := s.connections.ListAccounts(ctx, conn.ID)
		if err != nil {
			return nil, err
		}

		bank := BankBalance{
			ConnectionID: conn.ID,
			BankCode:     conn.BankCode,
			BankName:     conn.BankName,
			Available:    decimal.Zero,
		}
		for _, a := range accounts {
			if a.AvailableBalance == nil || (a.Currency != "" && a.Currency != "BRL") {
				continue
			}
			bank.Available = bank.Available.Add(*a.AvailableBalance)
			bank.Accounts++
			if a.BalanceUpdatedAt != nil && (bank.OldestUpdate == nil || a.BalanceUpdatedAt.Before(*bank.OldestUpdate)) {
				t := *a.BalanceUpdatedAt
				bank.OldestUpdate = &t
			}
		}
		summary.Total = summary.Total.Add(bank.Available)
		summary.Banks = append(summary.Banks, bank)
	}
	return summary, nil
}

// BankSyncResult is the outcome of one connection in SyncAll. Exactly one of
// Queued, Job and Err describes it.
type BankSyncResult struct {
	ConnectionID string
	BankCode     string
	BankName     string
	Queued       bool
	Job          *SyncJob
	Err          error
}

// SyncAll starts a manual sync of every ACTIVE connection of the user. With a
// sync queue the syncs are enqueued; without one they run one after another. A
// failing connection does not stop the others.
func (s *ConnectService) SyncAll(ctx context.Context, userID string) ([]BankSyncResult, error) {
	conns, err := s.connections.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	results := make([]BankSyncResult, 0, len(conns))
	for _, conn := range conns {
		if conn.Status != connection.StatusActive {
			continue
		}
		res := BankSyncResult{ConnectionID: conn.ID, BankCode: conn.BankCode, BankName: conn.BankName}

		if s.queue != nil {
			if err := s.queue.EnqueueSync(conn.ID, TriggerManual); err == nil {
				res.Queued = true
				results = append(results, res)
				continue
			} else {
				log.Warn().Err(err).Str("connection_id", conn.ID).Msg("Sync queue rejected sync, running inline")
			}
		}

		res.Job, res.Err = s.engine.RunSync(ctx, conn.ID, SyncOptions{Trigger: TriggerManual})
		if res.Err != nil {
			log.Error().Err(res.Err).Str("connection_id", conn.ID).Msg("Sync of connection failed")
			res.Job = nil
		}
		results = append(results, res)
	}

	log.Info().
		Str("user_id", userID).
		Int("connections", len(results)).
		Msg("Sync of all connections started")
	return results, nil
}
