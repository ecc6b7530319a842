package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/asiradnan/musical-bassoon/pkg/config"
	"github.com/asiradnan/musical-bassoon/pkg/db"
	"github.com/asiradnan/musical-bassoon/pkg/logx"
	"github.com/asiradnan/musical-bassoon/pkg/mq"
	"github.com/asiradnan/musical-bassoon/pkg/obs"
	cons "github.com/asiradnan/musical-bassoon/services/booking-service/internal/consumer"
	"github.com/asiradnan/musical-bassoon/services/booking-service/internal/domain"
	"github.com/asiradnan/musical-bassoon/services/booking-service/internal/lock"
	"github.com/asiradnan/musical-bassoon/services/booking-service/internal/outbox"
	"github.com/asiradnan/musical-bassoon/services/booking-service/internal/repository"
	"github.com/asiradnan/musical-bassoon/services/booking-service/internal/service"
	httpx "github.com/asiradnan/musical-bassoon/services/booking-service/internal/transport/http"
)

func must[T any](v T, err error) T {
	if err != nil {
		log.Fatal(err)
	}
	return v
}

func main() {
	cfg := must(config.Load())
	lg := logx.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTelEnabled {
		shutdown := must(obs.InitTracer(ctx, "booking-service", cfg.OTelEndpoint, cfg.Env))
		defer func() { _ = shutdown(context.Background()) }()
	}

	// Studio rules
	loc := must(cfg.Location())
	rates := must(domain.ParseRateTable(cfg.RoomRates))
	hours := must(domain.ParseOpeningHours(cfg.OpenFrom, cfg.OpenTo))

	// DB
	gdb := must(db.Open(cfg.DBDriver, cfg.DBDSN))
	repo := repository.NewBookingRepo(gdb)
	must(0, repo.Migrate())

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		must(0, rdb.Ping(ctx).Err())
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL)
		lg.WithField("addr", cfg.RedisAddr).Info("[booking] slot locks via redis")
	}

	svc := service.NewBookingSvc(repo, service.Options{
		Rates:       rates,
		Hours:       hours,
		MinDuration: cfg.MinDuration,
		Policy:      domain.NewCancellationPolicy(cfg.CancelMinNotice, loc),
		Location:    loc,
		Clock:       domain.RealClock{},
		Locker:      locker,
		Logger:      lg,
	})

	// Outbox relay (booking.* events -> notification-service)
	bookingPub := must(mq.NewPublisher(cfg.RabbitURL, cfg.BookingExchange))
	defer bookingPub.Close()
	disp := outbox.NewDispatcher(repository.NewOutboxRepo(gdb), bookingPub, cfg.OutboxPollInterval, cfg.OutboxBatch, lg)
	go disp.Run(ctx)

	// Consumer (payment.paid)
	paymentCons := must(mq.NewConsumer(mq.ConsumerConfig{
		URL:      cfg.RabbitURL,
		Exchange: cfg.PaymentExchange,
		Queue:    cfg.PaymentQueue,
		Keys:     []string{"payment.paid"},
		Prefetch: 16,
	}))
	defer paymentCons.Close()
	must(0, cons.NewPaymentConsumer(svc, paymentCons, lg).Run(ctx))
	lg.Info("[booking] consumer started (payment.paid)")

	// HTTP
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	httpx.Register(r, httpx.NewBookingHandler(svc, lg), []byte(cfg.JWTSecret))
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		lg.WithField("addr", cfg.HTTPAddr).Info("[booking] http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.WithError(err).Fatal("[booking] http server")
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	cancel()
	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		lg.WithError(err).Warn("[booking] http shutdown")
	}
	lg.WithFields(logrus.Fields{"service": "booking"}).Info("[booking] stopped")
}
