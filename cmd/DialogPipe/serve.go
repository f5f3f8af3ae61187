package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/BTreeMap/DialogPipe/internal/admission"
	"github.com/BTreeMap/DialogPipe/internal/api"
	"github.com/BTreeMap/DialogPipe/internal/blob"
	"github.com/BTreeMap/DialogPipe/internal/dispatcher"
	"github.com/BTreeMap/DialogPipe/internal/flow"
	"github.com/BTreeMap/DialogPipe/internal/lockfile"
	"github.com/BTreeMap/DialogPipe/internal/lookup"
	"github.com/BTreeMap/DialogPipe/internal/messaging"
	"github.com/BTreeMap/DialogPipe/internal/records"
	"github.com/BTreeMap/DialogPipe/internal/store"
	"github.com/BTreeMap/DialogPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/DialogPipe/internal/whatsapp"
)

// DefaultLookupTimeout bounds a vacancy API request.
const DefaultLookupTimeout = 10 * time.Second

// cleanup runs registered shutdown steps in reverse order.
type cleanup []func()

func (c *cleanup) add(fn func()) {
	*c = append(*c, fn)
}

func (c cleanup) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// sessionBackend is everything the dispatcher needs from the storage layer.
type sessionBackend struct {
	sessions store.SessionStore
	dedup    store.DedupRepo
	locker   store.DistributedLocker
	purger   store.IdlePurger
}

// buildSessionBackend picks Redis when REDIS_ADDR is set, otherwise a SQL or
// in-memory store from the DSN. File-backed SQLite locks the state directory.
func buildSessionBackend(ctx context.Context, cfg Config, done *cleanup) (sessionBackend, error) {
	if cfg.RedisAddr != "" {
		rs, err := store.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, store.WithTTL(cfg.SessionIdleTTL))
		if err != nil {
			return sessionBackend{}, err
		}
		done.add(func() { closeLogged("redis store", rs.Close) })
		slog.Info("buildSessionBackend: using Redis", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		return sessionBackend{
			sessions: rs,
			dedup:    rs,
			locker:   store.NewRedisLocker(rs.Client(), store.DefaultKeyPrefix),
		}, nil
	}

	dsn := cfg.sessionDSN()
	switch {
	case dsn == MemoryDSN:
		slog.Warn("buildSessionBackend: using in-memory sessions, state is lost on restart")
		ms := store.NewInMemoryStore()
		return sessionBackend{sessions: ms, dedup: ms, purger: ms}, nil

	case store.DetectDSNType(dsn) == "postgres":
		ps, err := store.NewPostgresStore(store.WithPostgresDSN(dsn))
		if err != nil {
			return sessionBackend{}, err
		}
		done.add(func() { closeLogged("postgres store", ps.Close) })
		slog.Info("buildSessionBackend: using PostgreSQL")
		return sessionBackend{sessions: ps, dedup: ps, purger: ps}, nil

	default:
		lock, err := lockfile.Acquire(cfg.StateDir)
		if err != nil {
			return sessionBackend{}, err
		}
		done.add(func() { closeLogged("state lock", lock.Release) })
		ss, err := store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
		if err != nil {
			return sessionBackend{}, err
		}
		done.add(func() { closeLogged("sqlite store", ss.Close) })
		slog.Info("buildSessionBackend: using SQLite", "path", dsn)
		return sessionBackend{sessions: ss, dedup: ss, purger: ss}, nil
	}
}

// buildRecords connects to MongoDB, or keeps records in memory when no URI is set.
func buildRecords(ctx context.Context, cfg Config, done *cleanup) (records.Store, error) {
	if cfg.MongoURI == "" {
		slog.Warn("buildRecords: MONGO_DB_URI not set, registrations are kept in memory")
		return records.NewMemoryStore(), nil
	}
	ms, err := records.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return nil, err
	}
	done.add(func() {
		ctx, cancel := context.WithTimeout(context.Background(), records.DefaultTimeout)
		defer cancel()
		if err := ms.Close(ctx); err != nil {
			slog.Warn("buildRecords: mongo disconnect failed", "error", err)
		}
	})
	return ms, nil
}

// providerService is the messaging service plus the API options that mount its webhooks.
type providerService struct {
	service messaging.Service
	apiOpts []api.Option
	token   string
}

func buildProvider(ctx context.Context, cfg Config) (providerService, error) {
	switch cfg.Provider {
	case ProviderMeta:
		meta, err := messaging.NewMetaService(
			messaging.WithMetaToken(cfg.MetaToken),
			messaging.WithMetaNumberID(cfg.MetaNumberID),
			messaging.WithMetaVerifyToken(cfg.MetaVerifyToken),
			messaging.WithMetaAPIVersion(cfg.MetaAPIVersion),
		)
		if err != nil {
			return providerService{}, err
		}
		return providerService{service: meta, apiOpts: []api.Option{api.WithMetaService(meta)}, token: cfg.MetaToken}, nil

	case ProviderTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.TwilioSID),
			twiliowhatsapp.WithAuthToken(cfg.TwilioToken),
			twiliowhatsapp.WithFromWhats(cfg.TwilioFrom),
		)
		if err != nil {
			return providerService{}, err
		}
		tw := messaging.NewTwilioService(client)
		return providerService{service: tw, apiOpts: []api.Option{api.WithTwilioService(tw)}}, nil

	case ProviderWhatsApp:
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.whatsAppDSN())}
		if cfg.QROutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(cfg.QROutput))
		}
		if cfg.NumericCode {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return providerService{}, err
		}
		return providerService{service: messaging.NewWhatsAppService(client)}, nil
	}
	return providerService{}, fmt.Errorf("unknown messaging provider %q", cfg.Provider)
}

// buildGraph assembles the admission flows.
func buildGraph(cfg Config, recs records.Store, blobs blob.Transfer, grades lookup.Client) (*flow.Graph, error) {
	var graphOpts []flow.GraphOption
	if cfg.CaseInsensitive {
		graphOpts = append(graphOpts, flow.WithCaseInsensitiveKeywords())
	}
	var botOpts []admission.Option
	if cfg.PaymentQRURL != "" {
		botOpts = append(botOpts, admission.WithPaymentQRURL(cfg.PaymentQRURL))
	}
	return admission.New(recs, blobs, grades, botOpts...).Graph(graphOpts...)
}

// runServe wires every component and blocks until ctx is cancelled.
func runServe(ctx context.Context, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	var done cleanup
	defer done.run()

	backend, err := buildSessionBackend(ctx, cfg, &done)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	recs, err := buildRecords(ctx, cfg, &done)
	if err != nil {
		return fmt.Errorf("records: %w", err)
	}
	provider, err := buildProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("messaging provider: %w", err)
	}

	blobs, err := blob.NewStore(ctx, cfg.bucketURL(), blob.WithBearerToken(provider.token))
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	done.add(func() { closeLogged("blob store", blobs.Close) })

	if cfg.LookupBaseURL == "" {
		slog.Warn("runServe: LOOKUP_BASE_URL not set, vacancy checks will fail")
	}
	grades := lookup.NewHTTPClient(cfg.LookupBaseURL, &http.Client{Timeout: DefaultLookupTimeout})

	graph, err := buildGraph(cfg, recs, blobs, grades)
	if err != nil {
		return fmt.Errorf("flow graph: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dispOpts := []dispatcher.Option{
		dispatcher.WithDedup(backend.dedup),
		dispatcher.WithMetrics(dispatcher.NewMetrics(reg)),
		dispatcher.WithDefaultFlow(admission.FlowPrincipal),
		dispatcher.WithMaxFallbacks(cfg.MaxFallbacks),
		dispatcher.WithEscalation(cfg.EscalationMessage, ""),
		dispatcher.WithBlacklist(dispatcher.NewBlacklist(cfg.Blacklist...)),
	}
	if backend.locker != nil {
		dispOpts = append(dispOpts, dispatcher.WithLocker(backend.locker))
	}
	d, err := dispatcher.New(graph, backend.sessions, provider.service, dispOpts...)
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	if err := provider.service.Start(ctx); err != nil {
		return fmt.Errorf("start %s service: %w", cfg.Provider, err)
	}
	done.add(func() { closeLogged(cfg.Provider+" service", provider.service.Stop) })

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		d.Consume(ctx, provider.service.Events())
	}()

	if backend.purger != nil {
		go store.NewSessionSweeper(backend.purger, cfg.SessionIdleTTL, cfg.SweepInterval).Run(ctx)
	}

	apiOpts := append([]api.Option{
		api.WithGatherer(reg),
		api.WithRecipientCanonicalizer(provider.service.ValidateAndCanonicalizeRecipient),
	}, provider.apiOpts...)
	server := api.NewServer(d, apiOpts...)

	slog.Info("runServe: DialogPipe running", "provider", cfg.Provider, "addr", cfg.APIAddr, "flows", len(graph.Flows()))
	serveErr := server.Run(ctx, cfg.APIAddr)

	// Consume returns once ctx is done; a listener failure has to stop it too.
	if serveErr != nil && ctx.Err() == nil {
		closeLogged(cfg.Provider+" service", provider.service.Stop)
	}
	<-consumed
	d.Close()
	return serveErr
}

func closeLogged(name string, fn func() error) {
	if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("cleanup: close failed", "component", name, "error", err)
	}
}
