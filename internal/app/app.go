// Package app wires the Open Finance services from configuration. Both the API
// server and the admin CLI build their object graph here.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"ofbconnect/internal/domain/categorization"
	"ofbconnect/internal/domain/connection"
	"ofbconnect/internal/domain/consent"
	of "ofbconnect/internal/domain/openfinance"
	"ofbconnect/internal/domain/payment"
	"ofbconnect/internal/domain/token"
	"ofbconnect/internal/infrastructure/cache"
	"ofbconnect/internal/infrastructure/certstore"
	"ofbconnect/internal/infrastructure/crypto"
	"ofbconnect/internal/infrastructure/firebase"
	"ofbconnect/internal/infrastructure/memory"
	"ofbconnect/internal/infrastructure/monitoring"
	ofclient "ofbconnect/internal/infrastructure/openfinance"
	"ofbconnect/internal/infrastructure/postgres"
	"ofbconnect/internal/infrastructure/postgres/listener"
	"ofbconnect/internal/shared/config"
	"ofbconnect/internal/shared/messages"
)

// App holds the initialized services.
type App struct {
	Config   *config.Config
	Messages *messages.Messages

	Certs   *certstore.Store
	Monitor *monitoring.Monitor

	Consents    *consent.Service
	Connections *connection.Service
	Vault       *token.Vault
	Engine      *of.SyncEngine
	Connect     *of.ConnectService
	Pending     of.PendingStore

	db       *postgres.DB
	listener *listener.ConsentListener
	closers  []func() error
}

type repositories struct {
	consents     consent.Repository
	tokens       token.Repository
	connections  connection.Repository
	jobs         of.JobRepository
	transactions of.TransactionStore
	payments     payment.Repository
}

// Build creates every service described by cfg. reg receives the monitoring
// counters; nil skips registration.
func Build(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	a := &App{Config: cfg}

	texts, err := messages.Load(cfg.MessagesFile)
	if err != nil {
		return nil, err
	}
	a.Messages = texts

	a.Certs, err = certstore.Load(cfg.Certificates)
	if err != nil {
		return nil, err
	}
	if err := a.Certs.Validate(); err != nil {
		log.Error().Err(err).Msg("Open Finance certificates are not usable")
	}
	a.Monitor = monitoring.NewMonitor(reg)

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		return nil, err
	}

	repos, err := a.openStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Pending, err = a.openPendingStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	ofCfg := cfg.OpenFinance
	a.Consents = consent.NewService(repos.consents,
		consent.WithAuthorizationWindow(ofCfg.AuthorizationWindow),
		consent.WithDefaultExpirationDays(ofCfg.ConsentExpirationDays),
	)
	a.Connections = connection.NewService(repos.connections, ofCfg.DefaultSyncTime)

	httpClient := a.Certs.HTTPClient(ofCfg.RequestTimeout)
	authorizer := ofclient.NewAuthorizer(ofCfg, httpClient, a.Certs, a.Monitor)
	a.Vault = token.NewVault(repos.tokens, encryptor, a.Consents, authorizer)
	gateway := ofclient.NewClient(ofCfg, httpClient, a.Vault, a.Monitor)

	a.Consents.AddTerminationListener(a.Vault)
	a.Consents.AddTerminationListener(a.Connections)

	notifier := a.newNotifier(ctx)
	banks := make(map[string]string, len(ofCfg.Banks))
	for _, b := range ofCfg.Banks {
		banks[b.Code] = b.Name
	}

	a.Engine = of.NewSyncEngine(
		gateway,
		a.Consents,
		a.Connections,
		repos.transactions,
		categorization.NewRuleCategorizer(categorization.DefaultRules...),
		repos.jobs,
		notifier,
		ofCfg.SyncRangeDays,
	)
	a.Connect = of.NewConnectService(
		a.Consents,
		a.Vault,
		authorizer,
		a.Pending,
		gateway,
		gateway,
		repos.payments,
		a.Connections,
		a.Engine,
		notifier,
		banks,
	)

	log.Info().
		Str("storage", cfg.Storage.Driver).
		Str("verifier_store", cfg.Storage.VerifierStore).
		Bool("certificates_loaded", a.Certs.Loaded()).
		Int("banks", len(banks)).
		Msg("Open Finance services initialized")
	return a, nil
}

func (a *App) openStorage(ctx context.Context) (*repositories, error) {
	if a.Config.Storage.Driver == "memory" {
		log.Warn().Msg("Using in-memory storage; data is lost on restart")
		return &repositories{
			consents:     memory.NewConsentRepository(),
			tokens:       memory.NewTokenRepository(),
			connections:  memory.NewConnectionRepository(),
			jobs:         memory.NewJobRepository(),
			transactions: memory.NewTransactionStore(),
			payments:     memory.NewPaymentRepository(),
		}, nil
	}

	db, err := postgres.New(a.Config.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	log.Info().Msg("Connected to database")

	if err := db.Migrate(ctx); err != nil {
		return nil, err
	}
	return &repositories{
		consents:     postgres.NewConsentRepository(db),
		tokens:       postgres.NewTokenRepository(db),
		connections:  postgres.NewConnectionRepository(db),
		jobs:         postgres.NewJobRepository(db),
		transactions: postgres.NewTransactionStore(db),
		payments:     postgres.NewPaymentRepository(db),
	}, nil
}

func (a *App) openPendingStore(ctx context.Context) (of.PendingStore, error) {
	window := a.Config.OpenFinance.AuthorizationWindow
	if a.Config.Storage.VerifierStore != "redis" {
		store := cache.NewMemoryVerifierStore(window)
		a.closers = append(a.closers, store.Close)
		return store, nil
	}

	rc := a.Config.Redis
	client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	log.Info().Str("addr", rc.Addr).Msg("Connected to redis")
	return cache.NewRedisVerifierStore(client, "ofbconnect"), nil
}

func (a *App) newNotifier(ctx context.Context) of.Notifier {
	if a.Config.Firebase.CredentialsFile == "" {
		log.Info().Msg("Firebase not configured, notifications are logged only")
		return firebase.LogNotifier{}
	}
	n, err := firebase.NewNotifier(ctx, a.Config.Firebase.CredentialsFile, a.Messages)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Firebase, notifications are logged only")
		return firebase.LogNotifier{}
	}
	return n
}

// StartConsentListener follows consent terminations made by other instances or
// directly in the database. Tokens, connections and pending authorization state
// are cleaned up again; each step is idempotent. It is a no-op with in-memory storage.
func (a *App) StartConsentListener(ctx context.Context) {
	if a.db == nil {
		return
	}
	a.listener = listener.NewConsentListener(a.Config.Database.ConnectionString(), a.handleTermination)
	a.listener.Start(ctx)
}

func (a *App) handleTermination(ctx context.Context, n listener.ConsentNotification) error {
	if _, err := a.Pending.Consume(ctx, n.ConsentID); err != nil {
		return fmt.Errorf("failed to discard pending authorization: %w", err)
	}
	c := &consent.Consent{ID: n.ConsentID, UserID: n.UserID, Status: consent.Status(n.Status)}
	if err := a.Vault.ConsentTerminated(ctx, c); err != nil {
		return err
	}
	return a.Connections.ConsentTerminated(ctx, c)
}

// AddCloser registers fn to run on Close, before the resources created by Build.
func (a *App) AddCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	if a.listener != nil {
		a.listener.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
