package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"

	"parceltrack/internal/api/parcelsapi"
	"parceltrack/internal/broker/messages"
	"parceltrack/internal/models"
	"parceltrack/internal/services/parcels"
)

type parcelAPIOpts struct {
	httpAddr    string
	swaggerPath string

	scanTopic     string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

// isPermanentScanReject отличает доменный отказ (дубликат скана, неизвестная
// посылка, мусор в полях) от инфраструктурной ошибки. Первый ретраить
// бессмысленно, второй должен остановить цикл и переехать на ребалансировку.
func isPermanentScanReject(err error) bool {
	return errors.Is(err, models.ErrValidation) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrInvalidTransition) ||
		errors.Is(err, models.ErrInconsistentTimeline)
}

func runParcelAPI(ctx context.Context, opts parcelAPIOpts, api *parcelsapi.ParcelsAPI, svc *parcels.Service, consumer kafkaConsumer) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8080"
	}
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	r.Group(api.Routes)

	if consumer != nil {
		go func() {
			slog.Info("kafka consumer started", "topic", opts.scanTopic, "group", opts.consumerGroup)
			err := consumer.Consume(ctx, func(key, value []byte) error {
				var m messages.ScanRecorded
				if err := json.Unmarshal(value, &m); err != nil {
					// Битое сообщение: ретрай его не починит, коммитим и едем дальше.
					slog.Warn("skipping malformed scan message", "key", string(key), "error", err)
					return nil
				}
				if err := svc.ApplyKafkaScan(ctx, m); err != nil {
					if isPermanentScanReject(err) {
						slog.Warn("scan message rejected", "tracking_code", m.TrackingCode, "type", m.Type, "error", err)
						return nil
					}
					return err
				}
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("kafka consumer stopped", "topic", opts.scanTopic, "error", err)
			}
		}()
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}
