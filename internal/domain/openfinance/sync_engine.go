package openfinance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ofbconnect/internal/domain/connection"
	"ofbconnect/internal/domain/consent"
)

var syncTracer = otel.Tracer("ofbconnect/sync")

const (
	defaultRangeDays = 30
	// maxPages guards against a bank that never reports the last page.
	maxPages = 1000
)

// SyncOptions tunes a single RunSync call.
type SyncOptions struct {
	// Range defaults to the last RangeDays days.
	Range   *DateRange
	Trigger string
}

// SyncEngine imports accounts, balances and transactions for bank connections.
type SyncEngine struct {
	gateway     BankGateway
	consents    ConsentChecker
	connections *connection.Service
	store       TransactionStore
	categorizer Categorizer
	jobs        JobRepository
	notifier    Notifier
	rangeDays   int
	now         func() time.Time
}

// NewSyncEngine creates a sync engine. categorizer and notifier may be nil.
func NewSyncEngine(
	gateway BankGateway,
	consents ConsentChecker,
	connections *connection.Service,
	store TransactionStore,
	categorizer Categorizer,
	jobs JobRepository,
	notifier Notifier,
	rangeDays int,
) *SyncEngine {
	if rangeDays <= 0 {
		rangeDays = defaultRangeDays
	}
	return &SyncEngine{
		gateway:     gateway,
		consents:    consents,
		connections: connections,
		store:       store,
		categorizer: categorizer,
		jobs:        jobs,
		notifier:    notifier,
		rangeDays:   rangeDays,
		now:         time.Now,
	}
}

// RunSync runs one sync job for connectionID. A job is returned whenever one was
// created; the error is non-nil only when the job itself could not be recorded.
// A consent that is not ACTIVE when the sync starts yields a failed job.
func (e *SyncEngine) RunSync(ctx context.Context, connectionID string, opts SyncOptions) (*SyncJob, error) {
	conn, err := e.connections.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	ctx, span := syncTracer.Start(ctx, "sync.run",
		trace.WithAttributes(
			attribute.String("connection.id", conn.ID),
			attribute.String("bank.code", conn.BankCode),
		),
	)
	defer span.End()

	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}
	now := e.now().UTC()
	job := &SyncJob{
		ID:           uuid.NewString(),
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		Trigger:      opts.Trigger,
		Status:       JobPending,
		CreatedAt:    now,
	}

	c, activeErr := e.consents.RequireActive(ctx, conn.ConsentID)
	r := e.resolveRange(opts.Range, c, now)
	job.From, job.To = r.From, r.To

	if err := e.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create sync job: %w", err)
	}

	logger := log.With().
		Str("job_id", job.ID).
		Str("connection_id", conn.ID).
		Str("consent_id", conn.ConsentID).
		Str("bank_code", conn.BankCode).
		Logger()

	switch {
	case activeErr != nil:
		job.Errors = append(job.Errors, "consent: "+activeErr.Error())
		return e.finish(ctx, job, conn, span)
	case conn.Status == connection.StatusDisconnected:
		job.Errors = append(job.Errors, "connection is disconnected")
		return e.finish(ctx, job, conn, span)
	}

	started := e.now().UTC()
	job.Status, job.StartedAt = JobRunning, &started
	if err := e.jobs.Update(ctx, job); err != nil {
		return job, fmt.Errorf("failed to start sync job: %w", err)
	}
	logger.Info().Str("trigger", job.Trigger).Time("from", r.From).Time("to", r.To).Msg("Sync started")

	session := Session{UserID: conn.UserID, ConsentID: conn.ConsentID, BankCode: conn.BankCode}

	bankAccounts, err := e.gateway.ListAccounts(ctx, session)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list accounts")
		job.Errors = append(job.Errors, "list accounts: "+err.Error())
		return e.finish(ctx, job, conn, span)
	}

	accounts := make([]*connection.Account, 0, len(bankAccounts))
	for _, ba := range bankAccounts {
		acct, _, err := e.connections.UpsertAccount(ctx, toAccount(ba, conn.ID))
		if err != nil {
			job.AccountsFailed++
			job.Errors = append(job.Errors, fmt.Sprintf("account %s: %v", ba.ExternalID, err))
			continue
		}
		accounts = append(accounts, acct)
	}

	grants := grantsOf(c)
	for i, acct := range accounts {
		if stop := e.shouldStop(ctx, conn.ConsentID); stop != nil {
			remaining := len(accounts) - i
			job.AccountsSkipped += remaining
			for _, skipped := range accounts[i:] {
				job.Errors = append(job.Errors, fmt.Sprintf("account %s skipped: %v", skipped.ExternalID, stop))
			}
			logger.Warn().Err(stop).Int("skipped_accounts", remaining).Msg("Sync stopped before all accounts were fetched")
			break
		}

		if err := e.syncAccount(ctx, job, conn, acct, session, r, grants); err != nil {
			job.AccountsFailed++
			job.Errors = append(job.Errors, fmt.Sprintf("account %s: %v", acct.ExternalID, err))
			logger.Error().Err(err).Str("account_id", acct.ExternalID).Msg("Account sync failed")
			continue
		}
		job.AccountsProcessed++
	}
	if job.AccountsProcessed > 0 {
		for _, scope := range grants.missing() {
			job.Errors = append(job.Errors, scope+" skipped: consent does not grant "+scope)
		}
	}

	return e.finish(ctx, job, conn, span)
}

// dataGrants says which account data a consent allows the sync to read.
type dataGrants struct {
	balances     bool
	transactions bool
}

func grantsOf(c *consent.Consent) dataGrants {
	return dataGrants{
		balances:     c.HasScopes(consent.ScopeBalances) || c.HasScopes(consent.ScopeAccounts),
		transactions: c.HasScopes(consent.ScopeTransactions),
	}
}

func (g dataGrants) missing() []string {
	var out []string
	if !g.balances {
		out = append(out, consent.ScopeBalances)
	}
	if !g.transactions {
		out = append(out, consent.ScopeTransactions)
	}
	return out
}

// shouldStop returns a non-nil error when no further account may be fetched.
func (e *SyncEngine) shouldStop(ctx context.Context, consentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := e.consents.RequireActive(ctx, consentID); err != nil {
		return err
	}
	return nil
}

func (e *SyncEngine) syncAccount(
	ctx context.Context,
	job *SyncJob,
	conn *connection.Connection,
	acct *connection.Account,
	session Session,
	r DateRange,
	grants dataGrants,
) error {
	if grants.balances {
		e.syncBalance(ctx, job, conn, acct, session)
	}
	if !grants.transactions {
		return nil
	}

	seen := make(map[string]struct{})
	for page := 1; page <= maxPages; page++ {
		p, err := e.gateway.ListTransactions(ctx, acct.ExternalID, session, r, page)
		if err != nil {
			return fmt.Errorf("transactions page %d: %w", page, err)
		}

		for _, bt := range p.Transactions {
			if bt.ExternalID == "" {
				job.SkippedCount++
				continue
			}
			if _, dup := seen[bt.ExternalID]; dup {
				job.SkippedCount++
				continue
			}
			seen[bt.ExternalID] = struct{}{}

			tx := toImported(bt, conn, acct)
			tx.ID = uuid.NewString()
			tx.ImportedAt = e.now().UTC()
			tx.CategoryID = e.suggest(ctx, tx)

			created, err := e.store.UpsertByExternalID(ctx, tx)
			if err != nil {
				return fmt.Errorf("store transaction %s: %w", bt.ExternalID, err)
			}
			if created {
				job.ImportedCount++
			} else {
				job.SkippedCount++
			}
		}

		if p.TotalPages <= page || len(p.Transactions) == 0 {
			return nil
		}
	}
	return fmt.Errorf("transactions: more than %d pages", maxPages)
}

// syncBalance stores the account balance. Failures are recorded on the job only.
func (e *SyncEngine) syncBalance(
	ctx context.Context,
	job *SyncJob,
	conn *connection.Connection,
	acct *connection.Account,
	session Session,
) {
	bal, err := e.gateway.GetBalances(ctx, acct.ExternalID, session)
	if err != nil {
		job.Errors = append(job.Errors, fmt.Sprintf("account %s balance: %v", acct.ExternalID, err))
		log.Warn().Err(err).
			Str("consent_id", conn.ConsentID).
			Str("bank_code", conn.BankCode).
			Str("account_id", acct.ExternalID).
			Msg("Balance fetch failed")
		return
	}
	if err := e.connections.UpdateBalance(ctx, acct.ID, connection.Balance{
		Available:             bal.Available,
		Blocked:               bal.Blocked,
		AutomaticallyInvested: bal.AutomaticallyInvested,
		Currency:              bal.Currency,
		UpdatedAt:             bal.UpdatedAt,
	}); err != nil {
		job.Errors = append(job.Errors, fmt.Sprintf("account %s balance: %v", acct.ExternalID, err))
	}
}

// suggest asks the categorizer for a category. Failures leave the transaction uncategorized.
func (e *SyncEngine) suggest(ctx context.Context, tx *ImportedTransaction) string {
	if e.categorizer == nil {
		return ""
	}
	id, err := e.categorizer.Suggest(ctx, tx.Description, tx.Amount)
	if err != nil {
		log.Debug().Err(err).Str("external_id", tx.ExternalID).Msg("Categorization failed")
		return ""
	}
	return id
}

func (e *SyncEngine) finish(ctx context.Context, job *SyncJob, conn *connection.Connection, span trace.Span) (*SyncJob, error) {
	finished := e.now().UTC()
	job.FinishedAt = &finished
	// Failed when nothing was imported from any account and something went wrong.
	if job.AccountsProcessed == 0 && (len(job.Errors) > 0 || job.StartedAt == nil) {
		job.Status = JobFailed
	} else {
		job.Status = JobCompleted
	}

	span.SetAttributes(
		attribute.String("job.status", string(job.Status)),
		attribute.Int("job.imported", job.ImportedCount),
		attribute.Int("job.skipped", job.SkippedCount),
	)
	if job.Status == JobFailed {
		span.SetStatus(codes.Error, strings.Join(job.Errors, "; "))
	}

	if err := e.jobs.Update(ctx, job); err != nil {
		return job, fmt.Errorf("failed to finish sync job: %w", err)
	}

	event := log.Info()
	if job.Status == JobFailed {
		event = log.Warn()
	}
	event.
		Str("job_id", job.ID).
		Str("connection_id", conn.ID).
		Str("consent_id", conn.ConsentID).
		Str("bank_code", conn.BankCode).
		Str("status", string(job.Status)).
		Int("accounts_processed", job.AccountsProcessed).
		Int("accounts_failed", job.AccountsFailed).
		Int("accounts_skipped", job.AccountsSkipped).
		Int("imported", job.ImportedCount).
		Int("skipped", job.SkippedCount).
		Msg("Sync finished")

	if job.Status == JobCompleted {
		if err := e.connections.MarkSynced(ctx, conn); err != nil {
			log.Error().Err(err).Str("connection_id", conn.ID).Msg("Failed to record sync time")
		}
		if e.notifier != nil && job.ImportedCount > 0 {
			if err := e.notifier.SyncCompleted(ctx, conn.UserID, conn.BankName, job.ImportedCount); err != nil {
				log.Warn().Err(err).Str("connection_id", conn.ID).Msg("Sync notification failed")
			}
		}
	}
	return job, nil
}

// resolveRange picks the requested range or the default window, clipped to the
// transaction window granted by the consent.
func (e *SyncEngine) resolveRange(requested *DateRange, c *consent.Consent, now time.Time) DateRange {
	r := DateRange{From: now.AddDate(0, 0, -e.rangeDays), To: now}
	if requested != nil {
		if !requested.From.IsZero() {
			r.From = requested.From.UTC()
		}
		if !requested.To.IsZero() {
			r.To = requested.To.UTC()
		}
	}
	if c != nil {
		if c.TransactionFrom != nil && r.From.Before(*c.TransactionFrom) {
			r.From = *c.TransactionFrom
		}
		if c.TransactionTo != nil && r.To.After(*c.TransactionTo) {
			r.To = *c.TransactionTo
		}
	}
	return r
}

// Jobs returns the most recent jobs of a connection.
func (e *SyncEngine) Jobs(ctx context.Context, connectionID string, limit int) ([]*SyncJob, error) {
	if limit <= 0 {
		limit = 20
	}
	return e.jobs.ListByConnection(ctx, connectionID, limit)
}
