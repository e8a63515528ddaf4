package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/courseloft/api/internal/catalog"
	"github.com/courseloft/api/internal/handlers"
	"github.com/courseloft/api/internal/payments"
	"github.com/courseloft/api/internal/platform/config"
	pfirestore "github.com/courseloft/api/internal/platform/firestore"
	"github.com/courseloft/api/internal/platform/gateway"
	"github.com/courseloft/api/internal/platform/idempotency"
	"github.com/courseloft/api/internal/platform/mail"
	"github.com/courseloft/api/internal/platform/observability"
	"github.com/courseloft/api/internal/platform/secrets"
	"github.com/courseloft/api/internal/services"

	"github.com/courseloft/api/internal/platform/jobs"
	firestoreRepo "github.com/courseloft/api/internal/repositories/firestore"
)

const (
	idempotencyCleanupInterval = time.Hour
	idempotencyCleanupBatch    = 100
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	userRepo, err := firestoreRepo.NewUserRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise user repository", zap.Error(err))
	}
	cartRepo, err := firestoreRepo.NewCartRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise cart repository", zap.Error(err))
	}
	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	enrollmentRepo, err := firestoreRepo.NewEnrollmentRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise enrollment repository", zap.Error(err))
	}
	giftRepo, err := firestoreRepo.NewGiftRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise gift repository", zap.Error(err))
	}

	catalogClient, err := catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.AuthToken,
		catalog.WithCacheTTL(cfg.Catalog.CacheTTL),
	)
	if err != nil {
		logger.Fatal("failed to initialise catalog client", zap.Error(err))
	}

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:    cfg.Stripe.APIKey,
		AccountID: cfg.Stripe.AccountID,
		Logger:    eventLogger(logger.Named("payments")),
		Clock:     time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
	}

	var analytics services.AnalyticsPublisher
	var pubsubClient *pubsub.Client
	var analyticsTopic *pubsub.Topic
	if cfg.Analytics.ProjectID != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.Analytics.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		analyticsTopic = pubsubClient.Topic(cfg.Analytics.Topic)
		analytics, err = jobs.NewPubSubAnalyticsPublisher(analyticsTopic)
		if err != nil {
			logger.Fatal("failed to initialise analytics publisher", zap.Error(err))
		}
	} else {
		logger.Warn("analytics project not configured; tracking events disabled")
	}
	defer func() {
		if analyticsTopic != nil {
			analyticsTopic.Stop()
		}
		if pubsubClient != nil {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}
	}()

	var mailSender services.MailSender
	var messages services.MessageBuilder
	if cfg.Mail.BaseURL != "" {
		mailClient, err := mail.NewClient(cfg.Mail.BaseURL, cfg.Mail.APIKey, cfg.Mail.FromAddress)
		if err != nil {
			logger.Fatal("failed to initialise mail client", zap.Error(err))
		}
		confirmations, err := mail.NewConfirmationBuilder(cfg.Checkout.Currency)
		if err != nil {
			logger.Fatal("failed to initialise confirmation builder", zap.Error(err))
		}
		mailSender = mailClient
		messages = confirmations
	} else {
		logger.Warn("mail api not configured; confirmation emails disabled")
	}

	dispatcher, err := services.NewSideEffectDispatcher(services.SideEffectsDeps{
		Mail:      mailSender,
		Messages:  messages,
		Analytics: analytics,
		Logger:    eventLogger(logger.Named("sideeffects")),
	})
	if err != nil {
		logger.Fatal("failed to initialise side effect dispatcher", zap.Error(err))
	}

	promotionService, err := services.NewPromotionService(cfg.Promotions, cfg.Redemptions)
	if err != nil {
		logger.Fatal("failed to initialise promotion service", zap.Error(err))
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Catalog:    catalogClient,
		Promotions: promotionService,
		Payments:   stripeProvider,
		Users:      userRepo,
		Carts:      cartRepo,
		Sale:       cfg.Sale,
		SuccessURL: cfg.Checkout.SuccessURL,
		CancelURL:  cfg.Checkout.CancelURL,
		Currency:   cfg.Checkout.Currency,
		Clock:      time.Now,
		Logger:     eventLogger(logger.Named("checkout")),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	enrollmentService, err := services.NewEnrollmentService(services.EnrollmentServiceDeps{
		Enrollments: enrollmentRepo,
		Orders:      orderRepo,
		Catalog:     catalogClient,
		Promotions:  promotionService,
		Dispatcher:  dispatcher,
		Clock:       time.Now,
		Logger:      eventLogger(logger.Named("enrollments")),
	})
	if err != nil {
		logger.Fatal("failed to initialise enrollment service", zap.Error(err))
	}

	giftService, err := services.NewGiftService(services.GiftServiceDeps{
		Gifts:       giftRepo,
		Orders:      orderRepo,
		Users:       userRepo,
		Enrollments: enrollmentService,
		Catalog:     catalogClient,
		Dispatcher:  dispatcher,
		Sale:        cfg.Sale,
		Clock:       time.Now,
		Logger:      eventLogger(logger.Named("gifts")),
	})
	if err != nil {
		logger.Fatal("failed to initialise gift service", zap.Error(err))
	}

	reconciler, err := services.NewReconciler(services.ReconcilerDeps{
		Payments:    stripeProvider,
		Catalog:     catalogClient,
		Orders:      orderRepo,
		Enrollments: enrollmentService,
		Carts:       cartRepo,
		Promotions:  promotionService,
		Dispatcher:  dispatcher,
		Sale:        cfg.Sale,
		Clock:       time.Now,
		Logger:      eventLogger(logger.Named("reconciler")),
	})
	if err != nil {
		logger.Fatal("failed to initialise reconciler", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupTicker := time.NewTicker(idempotencyCleanupInterval)
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		cleanupLogger := logger.Named("idempotency")
		for {
			select {
			case <-cleanupTicker.C:
				runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
				removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), idempotencyCleanupBatch)
				cancel()
				if err != nil {
					cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	checkoutHandlers := handlers.NewCheckoutHandlers(checkoutService, reconciler, cfg.Checkout.SuccessURL, cfg.Checkout.FailureURL)
	enrollmentHandlers := handlers.NewEnrollmentHandlers(enrollmentService)
	webhookHandlers := handlers.NewWebhookHandlers(reconciler, cfg.Stripe.WebhookSecret)
	internalHandlers := handlers.NewInternalHandlers(giftService, enrollmentService)
	healthHandlers := handlers.NewHealthHandlers(firestoreReadiness(firestoreProvider))

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		gateway.PrincipalMiddleware(),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes, idempotencyMiddleware),
		handlers.WithEnrollmentRoutes(enrollmentHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if cfg.Features.EnablePromotions {
		promotionHandlers := handlers.NewPromotionHandlers(promotionService)
		opts = append(opts, handlers.WithPromotionRoutes(promotionHandlers.Routes))
	}
	if cfg.Features.EnableGifts {
		giftHandlers := handlers.NewGiftHandlers(giftService)
		opts = append(opts, handlers.WithGiftRoutes(giftHandlers.Routes))
	}

	router := handlers.NewRouter(opts...)
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
		serverLogger.Info("courseloft api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupTicker.Stop()
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	dispatcher.Wait()
}

// eventLogger adapts a zap logger to the event callback the services expect.
func eventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service event", zFields...)
	}
}

func firestoreReadiness(provider *pfirestore.Provider) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		probeCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
		defer cancel()
		client, err := provider.Client(probeCtx)
		if err != nil {
			return err
		}
		iter := client.Collections(probeCtx)
		_, err = iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		return err
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_SECRET_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields whose secret references must
// resolve before the server starts. Catalog and mail credentials are only
// required when the corresponding integration is configured.
func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"Stripe.APIKey",
		"Stripe.WebhookSecret",
	}
	if env != nil {
		if strings.TrimSpace(env["API_CATALOG_AUTH_TOKEN"]) != "" {
			required = append(required, "Catalog.AuthToken")
		}
		if strings.TrimSpace(env["API_MAIL_API_KEY"]) != "" {
			required = append(required, "Mail.APIKey")
		}
	}
	return required
}
