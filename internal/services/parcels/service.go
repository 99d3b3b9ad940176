package parcels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"parceltrack/internal/broker/messages"
	"parceltrack/internal/cache"
	"parceltrack/internal/codes"
	"parceltrack/internal/models"
)

type Repository interface {
	CreateCustomer(ctx context.Context, in models.CustomerCreateInput) (*models.Customer, error)
	SearchCustomers(ctx context.Context, query string) ([]*models.Customer, error)
	GetCustomer(ctx context.Context, id int64) (*models.Customer, error)
	CreateParcel(ctx context.Context, p *models.Parcel) (*models.Parcel, error)
	GetParcelByCode(ctx context.Context, trackingCode string) (*models.Parcel, error)
	ListParcels(ctx context.Context, filter models.ParcelFilter) ([]*models.Parcel, error)
	AppendScan(ctx context.Context, trackingCode string, ev *models.ScanEvent) (*models.Timeline, string, error)
	GetTimeline(ctx context.Context, trackingCode string) (*models.Timeline, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Service struct {
	repo  Repository
	codes *codes.Generator

	cache       cache.BytesCache
	timelineTTL time.Duration

	producer    Producer
	statusTopic string

	// Сколько раз повторяем AppendScan при конфликте параллельных сканов.
	conflictRetries int

	log *slog.Logger
}

func New(repo Repository, gen *codes.Generator, c cache.BytesCache, timelineTTL time.Duration, producer Producer, statusTopic string, conflictRetries int, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if conflictRetries < 0 {
		conflictRetries = 0
	}
	return &Service{
		repo:            repo,
		codes:           gen,
		cache:           c,
		timelineTTL:     timelineTTL,
		producer:        producer,
		statusTopic:     statusTopic,
		conflictRetries: conflictRetries,
		log:             log,
	}
}

func (s *Service) CreateCustomer(ctx context.Context, in models.CustomerCreateInput) (*models.Customer, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, models.NewValidationError("name", "is required")
	}
	return s.repo.CreateCustomer(ctx, in)
}

func (s *Service) SearchCustomers(ctx context.Context, query string) ([]*models.Customer, error) {
	return s.repo.SearchCustomers(ctx, strings.TrimSpace(query))
}

func (s *Service) CreateParcel(ctx context.Context, in models.ParcelCreateInput) (*models.Parcel, error) {
	if in.CustomerID == 0 {
		return nil, models.NewValidationError("customer_id", "is required")
	}
	if in.WeightKG <= 0 {
		return nil, models.NewValidationError("weight_kg", "must be positive")
	}
	in.AddrFrom = strings.TrimSpace(in.AddrFrom)
	in.AddrTo = strings.TrimSpace(in.AddrTo)
	if in.AddrFrom == "" {
		return nil, models.NewValidationError("addr_from", "is required")
	}
	if in.AddrTo == "" {
		return nil, models.NewValidationError("addr_to", "is required")
	}

	if _, err := s.repo.GetCustomer(ctx, in.CustomerID); err != nil {
		return nil, err
	}

	code, err := s.codes.Next(ctx, time.Now().UTC().Year())
	if err != nil {
		return nil, err
	}

	return s.repo.CreateParcel(ctx, &models.Parcel{
		TrackingCode: code,
		CustomerID:   in.CustomerID,
		WeightKG:     in.WeightKG,
		AddrFrom:     in.AddrFrom,
		AddrTo:       in.AddrTo,
		Status:       models.StatusNew,
	})
}

func (s *Service) GetParcel(ctx context.Context, trackingCode string) (*models.Parcel, error) {
	if trackingCode == "" {
		return nil, models.NewValidationError("tracking_code", "is required")
	}
	return s.repo.GetParcelByCode(ctx, trackingCode)
}

func (s *Service) ListParcels(ctx context.Context, filter models.ParcelFilter) ([]*models.Parcel, error) {
	if filter.Status != "" && !isKnownStatus(filter.Status) {
		return nil, models.NewValidationError("status", "unknown status")
	}
	return s.repo.ListParcels(ctx, filter)
}

// AddScan записывает скан в таймлайн. При конфликте параллельных записей
// повторяем: проигравший перечитывает свежую историю и валидируется заново.
func (s *Service) AddScan(ctx context.Context, trackingCode string, in models.ScanInput) (*models.Timeline, string, error) {
	if trackingCode == "" {
		return nil, "", models.NewValidationError("tracking_code", "is required")
	}
	if !models.IsScanType(in.Type) {
		return nil, "", models.NewValidationError("type", "unknown scan type")
	}
	if in.TS.IsZero() {
		return nil, "", models.NewValidationError("ts", "is required")
	}
	in.Location = strings.TrimSpace(in.Location)
	if in.Location == "" {
		return nil, "", models.NewValidationError("location", "is required")
	}

	ev := &models.ScanEvent{
		Type:     in.Type,
		TS:       in.TS.UTC(),
		Location: in.Location,
		Note:     in.Note,
	}

	var (
		tl     *models.Timeline
		status string
		err    error
	)
	for attempt := 0; attempt <= s.conflictRetries; attempt++ {
		tl, status, err = s.repo.AppendScan(ctx, trackingCode, ev)
		if err == nil || !errors.Is(err, models.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, "", err
	}

	if s.cache != nil {
		_ = s.cache.Del(ctx, timelineKey(trackingCode))
	}
	s.publishStatusChanged(ctx, trackingCode, status, "scan", ev)

	return tl, status, nil
}

// GetTimeline отдаёт историю сканов; горячие таймлайны живут в Redis.
func (s *Service) GetTimeline(ctx context.Context, trackingCode string) (*models.Timeline, error) {
	if trackingCode == "" {
		return nil, models.NewValidationError("tracking_code", "is required")
	}

	if s.cache != nil && s.timelineTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, timelineKey(trackingCode)); err == nil && ok {
			var tl models.Timeline
			if json.Unmarshal(b, &tl) == nil {
				return &tl, nil
			}
		}
	}

	tl, err := s.repo.GetTimeline(ctx, trackingCode)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && s.timelineTTL > 0 {
		if b, err := json.Marshal(tl); err == nil {
			_ = s.cache.Set(ctx, timelineKey(trackingCode), b, s.timelineTTL)
		}
	}
	return tl, nil
}

// ApplyKafkaScan обрабатывает скан, пришедший через брокер (например, с
// терминала сортировочного центра).
func (s *Service) ApplyKafkaScan(ctx context.Context, msg messages.ScanRecorded) error {
	if msg.TrackingCode == "" {
		return models.NewValidationError("tracking_code", "is required")
	}
	if msg.TS.IsZero() {
		msg.TS = time.Now().UTC()
	}
	_, _, err := s.AddScan(ctx, msg.TrackingCode, models.ScanInput{
		Type:     msg.Type,
		TS:       msg.TS,
		Location: msg.Location,
		Note:     msg.Note,
	})
	return err
}

func (s *Service) publishStatusChanged(ctx context.Context, trackingCode, status, reason string, ev *models.ScanEvent) {
	if s.producer == nil || s.statusTopic == "" {
		return
	}
	var rec *messages.ScanRecorded
	if ev != nil {
		rec = &messages.ScanRecorded{
			TrackingCode: trackingCode,
			Type:         ev.Type,
			TS:           ev.TS,
			Location:     ev.Location,
			Note:         ev.Note,
		}
	}
	b, err := json.Marshal(messages.ParcelStatusChanged{
		TrackingCode: trackingCode,
		Status:       status,
		Reason:       reason,
		OccurredAt:   time.Now().UTC(),
		Event:        rec,
	})
	if err != nil {
		return
	}
	// Фид статусов — best effort, запись в БД уже применена.
	if err := s.producer.Publish(ctx, s.statusTopic, []byte(trackingCode), b); err != nil {
		s.log.Warn("publish status change", "tracking_code", trackingCode, "err", err)
	}
}

func isKnownStatus(st string) bool {
	for _, known := range models.Statuses() {
		if st == known {
			return true
		}
	}
	return false
}

func timelineKey(trackingCode string) string {
	return fmt.Sprintf("parcel:%s:timeline", trackingCode)
}
