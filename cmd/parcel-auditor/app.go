package main

import (
	"context"
	"fmt"
	"time"

	"parceltrack/config"
	"parceltrack/internal/broker/kafka"
	"parceltrack/internal/services/auditor"
	"parceltrack/internal/storage/pgparcel"
)

type auditorFactories struct {
	newStorage  func(cfg *config.Config) (repo auditor.Repository, closeFn func(), err error)
	newProducer func(cfg *config.Config) auditor.Producer
}

func defaultAuditorFactories() auditorFactories {
	return auditorFactories{
		newStorage: func(cfg *config.Config) (auditor.Repository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgparcel.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) auditor.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
	}
}

func buildAuditor(cfg *config.Config, f auditorFactories) (*auditor.Auditor, func(), error) {
	statusTopic := cfg.Kafka.StatusChangedTopicName
	if statusTopic == "" {
		statusTopic = "parcel.status-changed"
	}

	sweepInterval := time.Duration(cfg.ParcelTrack.AuditorSweepIntervalSeconds) * time.Second
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	batchSize := cfg.ParcelTrack.AuditorBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := cfg.ParcelTrack.AuditorConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	lease := time.Duration(cfg.ParcelTrack.AuditorLeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 120 * time.Second
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return nil, nil, err
	}
	producer := f.newProducer(cfg)

	// Если в конфиге задан фиксированный интервал для активных посылок,
	// джиттер схлопывается (min == max).
	activeDelay := time.Duration(cfg.ParcelTrack.AuditorActiveDelaySeconds) * time.Second
	a := auditor.New(repo, producer, statusTopic).
		WithSettings(sweepInterval, batchSize, concurrency, lease).
		WithSchedule(auditor.ScheduleConfig{
			ActiveMinDelay:    activeDelay,
			ActiveMaxDelay:    activeDelay,
			TerminalDelay:     time.Duration(cfg.ParcelTrack.AuditorTerminalDelaySeconds) * time.Second,
			InconsistentDelay: time.Duration(cfg.ParcelTrack.AuditorInconsistentDelaySeconds) * time.Second,
		})
	return a, closeFn, nil
}

func RunParcelAuditor(ctx context.Context, cfg *config.Config, f auditorFactories) error {
	a, closeFn, err := buildAuditor(cfg, f)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return a.Run(ctx)
}
