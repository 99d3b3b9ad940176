package auditor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"parceltrack/internal/broker/messages"
	"parceltrack/internal/lifecycle"
	"parceltrack/internal/models"
)

type Repository interface {
	ClaimDueParcels(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Parcel, error)
	LoadEvents(ctx context.Context, parcelID int64) ([]*models.ScanEvent, error)
	ApplyAuditResult(ctx context.Context, parcelID int64, status string, nextAuditAt time.Time) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Auditor периодически сверяет хранимый статус посылки с реплеем её событий.
// Статус в колонке parcels.status — денормализация; источник истины всегда
// таймлайн, и аудитор чинит расхождения.
type Auditor struct {
	repo     Repository
	producer Producer

	topic string

	schedule *Schedule

	sweepInterval time.Duration
	batchSize     int
	concurrency   int
	lease         time.Duration

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastSweepUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalAudited        atomic.Int64
	totalRepaired       atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, producer Producer, topic string) *Auditor {
	return &Auditor{
		repo: repo, producer: producer, topic: topic,
		schedule:      DefaultSchedule(),
		sweepInterval: 30 * time.Second,
		batchSize:     100,
		concurrency:   10,
		lease:         120 * time.Second,
		triggerCh:     make(chan struct{}, 1),

		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (a *Auditor) WithSettings(sweepInterval time.Duration, batchSize, concurrency int, lease time.Duration) *Auditor {
	if sweepInterval > 0 {
		a.sweepInterval = sweepInterval
	}
	if batchSize > 0 {
		a.batchSize = batchSize
	}
	if concurrency > 0 {
		a.concurrency = concurrency
	}
	if lease > 0 {
		a.lease = lease
	}
	return a
}

func (a *Auditor) WithSchedule(cfg ScheduleConfig) *Auditor {
	a.schedule = NewSchedule(cfg, nil)
	return a
}

// Trigger forces an immediate sweep (best-effort, non-blocking).
func (a *Auditor) Trigger() {
	a.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case a.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastSweepAt   *time.Time `json:"lastSweepAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed  int64      `json:"totalClaimed"`
	TotalAudited  int64      `json:"totalAudited"`
	TotalRepaired int64      `json:"totalRepaired"`
	TotalErrors   int64      `json:"totalErrors"`
	InFlight      int64      `json:"inFlight"`
	LastError     string     `json:"lastError,omitempty"`
}

func (a *Auditor) Stats() Stats {
	st := Stats{
		StartedAt:     time.Unix(0, a.startedAtUnixNano).UTC(),
		TotalClaimed:  a.totalClaimed.Load(),
		TotalAudited:  a.totalAudited.Load(),
		TotalRepaired: a.totalRepaired.Load(),
		TotalErrors:   a.totalErrors.Load(),
		InFlight:      a.inFlight.Load(),
	}
	if n := a.lastSweepUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastSweepAt = &t
	}
	if n := a.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	a.lastErrorMu.Lock()
	st.LastError = a.lastError
	a.lastErrorMu.Unlock()
	return st
}

func (a *Auditor) Run(ctx context.Context) error {
	t := time.NewTicker(a.sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			a.runOnce(ctx)
		case <-a.triggerCh:
			a.runOnce(ctx)
		}
	}
}

func (a *Auditor) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	a.lastSweepUnixNano.Store(now.UnixNano())

	items, err := a.repo.ClaimDueParcels(ctx, now, a.batchSize, a.lease)
	if err != nil {
		slog.Error("claim due parcels", "error", err.Error())
		a.lastErrorMu.Lock()
		a.lastError = err.Error()
		a.lastErrorMu.Unlock()
		return
	}
	a.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, a.concurrency)
	var wg sync.WaitGroup
	for _, p := range items {
		sem <- struct{}{}
		wg.Add(1)
		pCopy := p
		a.inFlight.Add(1)
		go func() {
			defer func() {
				a.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := a.auditOne(ctx, pCopy); err != nil {
				a.totalErrors.Add(1)
				a.lastErrorMu.Lock()
				a.lastError = err.Error()
				a.lastErrorMu.Unlock()
				slog.Error("audit parcel", "tracking_code", pCopy.TrackingCode, "error", err.Error())
			}
			a.totalAudited.Add(1)
		}()
	}
	wg.Wait()
}

func (a *Auditor) auditOne(ctx context.Context, p *models.Parcel) error {
	now := time.Now().UTC()

	events, err := a.repo.LoadEvents(ctx, p.ID)
	if err != nil {
		return errors.Wrap(err, "load events")
	}
	derived := lifecycle.Derive(events)

	if err := a.repo.ApplyAuditResult(ctx, p.ID, derived, now.Add(a.schedule.NextAuditDelay(derived))); err != nil {
		return errors.Wrap(err, "apply audit result")
	}

	if derived == p.Status {
		return nil
	}
	a.totalRepaired.Add(1)
	slog.Warn("stored status diverged from timeline",
		"tracking_code", p.TrackingCode, "stored", p.Status, "derived", derived)

	if a.producer == nil || a.topic == "" {
		return nil
	}
	b, err := json.Marshal(messages.ParcelStatusChanged{
		TrackingCode: p.TrackingCode,
		Status:       derived,
		Reason:       "audit",
		OccurredAt:   now,
	})
	if err != nil {
		return errors.Wrap(err, "marshal kafka msg")
	}
	// Kafka может быть не готова сразу после старта docker compose.
	// Для демо/устойчивости делаем небольшой retry.
	var pubErr error
	for i := 0; i < 10; i++ {
		if err := a.producer.Publish(ctx, a.topic, []byte(p.TrackingCode), b); err == nil {
			pubErr = nil
			break
		} else {
			pubErr = err
			time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
		}
	}
	return pubErr
}
