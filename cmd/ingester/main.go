package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/dblock/sparta-social/internal/config"
	"github.com/dblock/sparta-social/internal/consumer"
	"github.com/dblock/sparta-social/internal/identity"
	"github.com/dblock/sparta-social/internal/materializer"
	persistence "github.com/dblock/sparta-social/internal/persistence/postgres"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)
	mat := materializer.New(repo)
	handler := consumer.NewMaterializeHandler(mat)
	resolver := identity.NewDirectoryResolver(cfg.PLCDirectoryURL, cfg.HandleCacheTTL)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	go func() {
		log.Printf("ingester metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.ConsumerGroupID,
		Topic:           cfg.StreamTopic,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	})

	proc := consumer.NewProcessor(reader, handler, consumer.SubscriptionOptions{
		Collections:           cfg.Collections,
		ExcludeIdentityEvents: cfg.ExcludeIdentityEvents,
		ExcludeAccountEvents:  cfg.ExcludeAccountEvents,
	}, consumer.WithResolver(resolver))

	var wg sync.WaitGroup
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer reader.Close()

		log.Printf("ingester started (topic=%s, group=%s, collections=%v)", cfg.StreamTopic, cfg.ConsumerGroupID, cfg.Collections)
		if err := proc.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("ingester stopped with error: %v", err)
		}
	}()

	<-stop
	log.Println("ingester shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	wg.Wait()
}
