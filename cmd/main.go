package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/RaikyD/orders-checkout/internal/application"
	"github.com/RaikyD/orders-checkout/internal/auth"
	"github.com/RaikyD/orders-checkout/internal/config"
	"github.com/RaikyD/orders-checkout/internal/dedup"
	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/RaikyD/orders-checkout/internal/kafka"
	"github.com/RaikyD/orders-checkout/internal/logger"
	"github.com/RaikyD/orders-checkout/internal/metrics"
	"github.com/RaikyD/orders-checkout/internal/migrate"
	"github.com/RaikyD/orders-checkout/internal/notify"
	"github.com/RaikyD/orders-checkout/internal/outbox"
	"github.com/RaikyD/orders-checkout/internal/payment"
	"github.com/RaikyD/orders-checkout/internal/presentation"
	"github.com/RaikyD/orders-checkout/internal/repository"
	"github.com/RaikyD/orders-checkout/internal/shipping"
	"github.com/RaikyD/orders-checkout/internal/tasks"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Init(logger.Options{})
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}
	logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DB_MIGRATE {
		if err := migrate.Up(ctx, cfg.DB_STRING); err != nil {
			logger.Error("migrations failed", "err", err)
			os.Exit(1)
		}
	}

	// DB pool
	pool, err := pgxpool.New(ctx, cfg.DB_STRING)
	if err != nil {
		logger.Error("pgxpool new failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("db ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("db connected")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("redis ping failed", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	taxRate, err := decimal.NewFromString(cfg.TaxRate)
	if err != nil {
		logger.Error("bad TAX_RATE", "value", cfg.TaxRate, "err", err)
		os.Exit(1)
	}

	// Wiring
	store := repository.NewPostgresStore(pool)
	carrier := shipping.NewClient(shipping.Config{
		BaseURL: cfg.CarrierBaseURL,
		Token:   cfg.CarrierToken,
		ShopID:  cfg.CarrierShopID,
	}, nil)

	vnpay := payment.NewVNPay(payment.VNPayConfig{
		TmnCode:    cfg.VNPayTmnCode,
		HashSecret: cfg.VNPayHashSecret,
		PayURL:     cfg.VNPayPayURL,
		ReturnURL:  cfg.VNPayReturnURL,
	})
	momo := payment.NewMomo(payment.MomoConfig{
		PartnerCode: cfg.MomoPartnerCode,
		AccessKey:   cfg.MomoAccessKey,
		SecretKey:   cfg.MomoSecretKey,
		Endpoint:    cfg.MomoEndpoint,
		RedirectURL: cfg.MomoRedirectURL,
		IPNURL:      cfg.MomoIPNURL,
		MaxAge:      cfg.WebhookMaxAge,
	}, nil)
	vietqr := payment.NewVietQR(payment.VietQRConfig{
		BankBin:     cfg.VietQRBankBin,
		AccountNo:   cfg.VietQRAccountNo,
		AccountName: cfg.VietQRAccountName,
		Secret:      cfg.VietQRSecret,
		MaxAge:      cfg.WebhookMaxAge,
	})

	checkout := application.NewCheckoutService(store, carrier, map[domain.PaymentMethod]application.PaymentInitiator{
		domain.PaymentCOD:    payment.COD{},
		domain.PaymentVNPay:  vnpay,
		domain.PaymentMomo:   momo,
		domain.PaymentVietQR: vietqr,
	}, application.CheckoutOptions{
		DefaultShippingFee: decimal.NewFromInt(cfg.DefaultShippingFee),
		TaxRate:            taxRate,
		Precision:          cfg.MoneyPrecision,
		Timeout:            cfg.CheckoutTimeout,
		MaxRetries:         cfg.CheckoutMaxRetries,
		StockExpiryDelay:   cfg.StockExpiryDelay,
	}, m)
	transitions := application.NewTransitionService(store, carrier, m)
	reconciler := application.NewWebhookReconciler(store, transitions, application.NewRewards(store, nil, cfg.MoneyPrecision), m, vnpay, momo, vietqr)
	orders := application.NewOrdersService(store)

	// отложенные задачи: проверка неоплаченных заказов
	queue := tasks.NewRedisQueue(rdb, "orders:tasks")
	workers := tasks.NewPool(queue, tasks.PoolOptions{Workers: cfg.TaskWorkers, Metrics: m})
	workers.Handle(tasks.TypeStockExpiry, transitions.HandleStockExpiry)
	go workers.Run(ctx)

	// Kafka producer для событий из outbox
	prod := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer prod.Close()

	dispatcher := outbox.NewDispatcher(store, prod, queue, outbox.Options{
		Batch:       cfg.OutboxBatch,
		Interval:    cfg.OutboxInterval,
		MaxAttempts: cfg.OutboxMaxAttempts,
		Lease:       cfg.OutboxLease,
	}, m)
	go dispatcher.Run(ctx)

	// Kafka consumer: уведомления покупателю и админу
	notifier := notify.NewHandler(dedup.NewRedisStore(rdb, "orders:notified", cfg.DedupTTL), notify.LogNotifier{})
	reader, err := kafka.StartConsumer(ctx, notifier, kafka.ConsumerConfig{
		Brokers:         cfg.KafkaBrokers,
		Topic:           cfg.KafkaTopic,
		GroupID:         cfg.KafkaGroupID,
		MaxAttempts:     cfg.KafkaMaxAttempts,
		RetryBackoff:    cfg.KafkaRetryBackoff,
		DeadLetterTopic: cfg.KafkaDeadLetterTopic,
	})
	if err != nil {
		logger.Error("kafka consumer start failed", "err", err)
		os.Exit(1)
	}
	defer reader.Close()

	// API
	router := presentation.NewRouter(presentation.RouterDeps{
		Auth:     auth.NewAuthenticator(cfg.JWTSecret),
		Orders:   presentation.NewOrdersHandler(checkout, transitions, orders),
		Payments: presentation.NewPaymentHandler(reconciler, vnpay),
		Shipping: presentation.NewShippingHandler(transitions, cfg.CarrierWebhookToken),
		Metrics:  m,
		Health: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP_PORT,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting http", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server crashed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
}
