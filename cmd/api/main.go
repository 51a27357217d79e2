package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/ilakkiyam/api/internal/domain"
	"github.com/ilakkiyam/api/internal/handlers"
	"github.com/ilakkiyam/api/internal/platform/auth"
	"github.com/ilakkiyam/api/internal/platform/config"
	pfirestore "github.com/ilakkiyam/api/internal/platform/firestore"
	"github.com/ilakkiyam/api/internal/platform/httpx"
	"github.com/ilakkiyam/api/internal/platform/idempotency"
	"github.com/ilakkiyam/api/internal/platform/jobs"
	pmongo "github.com/ilakkiyam/api/internal/platform/mongo"
	"github.com/ilakkiyam/api/internal/platform/observability"
	"github.com/ilakkiyam/api/internal/platform/secrets"
	platformstorage "github.com/ilakkiyam/api/internal/platform/storage"
	"github.com/ilakkiyam/api/internal/repositories"
	firestoreRepo "github.com/ilakkiyam/api/internal/repositories/firestore"
	mongoRepo "github.com/ilakkiyam/api/internal/repositories/mongo"
	"github.com/ilakkiyam/api/internal/services"
)

const meterName = "github.com/ilakkiyam/api"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	resolver, err := secrets.NewResolver(ctx, secretProjectFromEnv(),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithLocalFile(os.Getenv("API_SECRETS_LOCAL_FILE")),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(resolver),
		config.WithRequiredSecrets(requiredSecretNames(os.Getenv("API_STORE_DRIVER"))...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger = logger.With(zap.String("environment", cfg.Environment))

	stores, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise persistence", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, closer := range stores.closers {
			if err := closer(closeCtx); err != nil {
				logger.Warn("store close error", zap.Error(err))
			}
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	storageClient, err := cloudstorage.NewClient(ctx)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer func() {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()
	proofStore, err := newProofStore(storageClient, cfg)
	if err != nil {
		logger.Fatal("failed to initialise payment proof storage", zap.Error(err))
	}
	if proofStore == nil {
		logger.Warn("payment proof bucket not configured; proof uploads are disabled")
	}

	publisher, stopPublisher, err := newEventPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	defer stopPublisher()

	meter := otel.Meter(meterName)
	eventLogger := observability.EventLogger(logger.Named("orders"))

	counterService, err := services.NewCounterService(services.CounterServiceDeps{Repository: stores.counters})
	if err != nil {
		logger.Fatal("failed to initialise counter service", zap.Error(err))
	}

	orderDeps := services.OrderServiceDeps{
		Orders:              stores.orders,
		Books:               stores.books,
		Counters:            counterService,
		Meter:               meter,
		Clock:               time.Now,
		Logger:              services.Logger(eventLogger),
		DefaultShippingCost: cfg.Orders.DefaultShippingCost,
		PaymentInstructions: map[domain.PaymentMethod]string{
			domain.PaymentMethodEpayum: cfg.Payments.EpayumInstructions,
			domain.PaymentMethodFBX:    cfg.Payments.FBXInstructions,
		},
		BankDetails: cfg.Payments.BankDetails,
	}
	// Typed nils must not reach the interface fields.
	if proofStore != nil {
		orderDeps.Proofs = proofStore
	}
	if publisher != nil {
		orderDeps.Events = publisher
	}
	orderService, err := services.NewOrderService(orderDeps)
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:              stores.orders,
		Events:              orderDeps.Events,
		Meter:               meter,
		Clock:               time.Now,
		Logger:              services.Logger(eventLogger),
		DefaultShippingCost: cfg.Orders.DefaultShippingCost,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment service", zap.Error(err))
	}

	systemService, err := newSystemService(stores.checks, buildInfoFromEnv(cfg, startedAt))
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	idempotencyStore := newIdempotencyStore(stores.firestore, logger)
	purgeCtx, stopPurge := context.WithCancel(context.Background())
	defer stopPurge()
	go idempotency.RunPurger(purgeCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))

	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService, paymentService,
		handlers.WithMaxUploadBytes(cfg.Orders.MaxUploadBytes),
		handlers.WithCheckoutRateLimit(cfg.Orders.CheckoutPerMinute, time.Now),
		handlers.WithCheckoutMiddlewares(idempotency.Guard(idempotencyStore,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
			idempotency.WithMaxBody(cfg.Orders.MaxUploadBytes+1<<20),
		)),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(),
			httpx.DebugMiddleware(cfg.DebugErrors()),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(systemService)),
		handlers.WithOrderRoutes(orderHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("ilakkiyam api listening", zap.String("store", cfg.Store.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")
	stopPurge()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// storeSet holds the repositories of the configured driver along with its readiness probes.
type storeSet struct {
	orders    repositories.OrderRepository
	books     repositories.BookRepository
	counters  repositories.CounterRepository
	firestore *firestore.Client
	checks    []repositories.DependencyCheck
	closers   []func(context.Context) error
}

func openStores(ctx context.Context, cfg config.Config) (storeSet, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMongo:
		return openMongoStores(ctx, cfg)
	default:
		return openFirestoreStores(ctx, cfg)
	}
}

func openFirestoreStores(ctx context.Context, cfg config.Config) (storeSet, error) {
	provider := pfirestore.NewProvider(cfg.Firestore)
	client, err := provider.Client(ctx)
	if err != nil {
		return storeSet{}, err
	}
	set := storeSet{firestore: client, closers: []func(context.Context) error{provider.Close}}

	if set.orders, err = firestoreRepo.NewOrderRepository(provider); err != nil {
		return set, err
	}
	if set.books, err = firestoreRepo.NewBookRepository(provider); err != nil {
		return set, err
	}
	if set.counters, err = firestoreRepo.NewCounterRepository(provider); err != nil {
		return set, err
	}
	set.checks = append(set.checks, repositories.DependencyCheck{
		Name: "firestore",
		Check: func(ctx context.Context) error {
			// A missing document still proves the backend answered.
			_, err := client.Collection("healthchecks").Doc("ping").Get(ctx)
			if err != nil && status.Code(err) != codes.NotFound {
				return err
			}
			return nil
		},
	})
	return set, nil
}

func openMongoStores(ctx context.Context, cfg config.Config) (storeSet, error) {
	client, err := pmongo.Connect(ctx, cfg.Mongo)
	if err != nil {
		return storeSet{}, err
	}
	set := storeSet{closers: []func(context.Context) error{client.Close}}
	if err := client.EnsureOrderIndexes(ctx); err != nil {
		return set, err
	}

	if set.orders, err = mongoRepo.NewOrderRepository(client); err != nil {
		return set, err
	}
	if set.books, err = mongoRepo.NewBookRepository(client); err != nil {
		return set, err
	}
	if set.counters, err = mongoRepo.NewCounterRepository(client); err != nil {
		return set, err
	}
	set.checks = append(set.checks, repositories.DependencyCheck{Name: "mongo", Check: client.Ping})
	return set, nil
}

// newProofStore returns nil when no proofs bucket is configured. Signed URLs need the signer key.
func newProofStore(client *cloudstorage.Client, cfg config.Config) (*platformstorage.ProofStore, error) {
	bucket := strings.TrimSpace(cfg.Storage.ProofsBucket)
	if bucket == "" {
		return nil, nil
	}
	storeCfg := platformstorage.ProofStoreConfig{
		Bucket:   bucket,
		MaxBytes: cfg.Orders.MaxUploadBytes,
		URLTTL:   cfg.Storage.SignedURLTTL,
	}
	if key := strings.TrimSpace(cfg.Storage.SignerKey); key != "" {
		accountSigner, err := platformstorage.NewServiceAccountSigner([]byte(key))
		if err != nil {
			return nil, fmt.Errorf("parse storage signer key: %w", err)
		}
		urlSigner, err := platformstorage.NewURLSigner(accountSigner)
		if err != nil {
			return nil, err
		}
		storeCfg.Signer = urlSigner
	}
	return platformstorage.NewProofStore(client, storeCfg)
}

// newEventPublisher returns a nil publisher when no topic is configured.
func newEventPublisher(ctx context.Context, cfg config.Config) (*jobs.PubSubOrderEventPublisher, func(), error) {
	topicName := strings.TrimSpace(cfg.PubSub.OrderEventsTopic)
	if topicName == "" {
		return nil, func() {}, nil
	}
	if host := strings.TrimSpace(cfg.PubSub.EmulatorHost); host != "" {
		if err := os.Setenv("PUBSUB_EMULATOR_HOST", host); err != nil {
			return nil, nil, err
		}
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	publisher, err := jobs.NewPubSubOrderEventPublisher(client.Topic(topicName))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return publisher, func() {
		publisher.Stop()
		_ = client.Close()
	}, nil
}

func newIdempotencyStore(client *firestore.Client, logger *zap.Logger) idempotency.Store {
	if client == nil {
		logger.Warn("idempotency keys are kept in memory; replays do not survive restarts or span instances")
		return idempotency.NewMemoryStore()
	}
	return idempotency.NewFirestoreStore(client)
}

func newSystemService(checks []repositories.DependencyCheck, build services.BuildInfo) (services.SystemService, error) {
	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Clock:            time.Now,
		Build:            build,
	})
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = strings.TrimSpace(os.Getenv("K_REVISION"))
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

// requiredSecretNames lists secret-backed fields that must resolve for the chosen driver.
func requiredSecretNames(driver string) []string {
	if strings.EqualFold(strings.TrimSpace(driver), config.StoreDriverMongo) {
		return []string{"Mongo.URI"}
	}
	return nil
}

func secretProjectFromEnv() string {
	for _, key := range []string{"API_SECRET_DEFAULT_PROJECT_ID", "API_FIREBASE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"} {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
