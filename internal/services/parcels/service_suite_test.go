package parcels

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"parceltrack/internal/codes"
	"parceltrack/internal/models"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) CreateCustomer(ctx context.Context, in models.CustomerCreateInput) (*models.Customer, error) {
	args := m.Called(ctx, in)
	c, _ := args.Get(0).(*models.Customer)
	return c, args.Error(1)
}
func (m *mockRepo) SearchCustomers(ctx context.Context, query string) ([]*models.Customer, error) {
	args := m.Called(ctx, query)
	cs, _ := args.Get(0).([]*models.Customer)
	return cs, args.Error(1)
}
func (m *mockRepo) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(*models.Customer)
	return c, args.Error(1)
}
func (m *mockRepo) CreateParcel(ctx context.Context, p *models.Parcel) (*models.Parcel, error) {
	args := m.Called(ctx, p)
	out, _ := args.Get(0).(*models.Parcel)
	return out, args.Error(1)
}
func (m *mockRepo) GetParcelByCode(ctx context.Context, trackingCode string) (*models.Parcel, error) {
	args := m.Called(ctx, trackingCode)
	p, _ := args.Get(0).(*models.Parcel)
	return p, args.Error(1)
}
func (m *mockRepo) ListParcels(ctx context.Context, filter models.ParcelFilter) ([]*models.Parcel, error) {
	args := m.Called(ctx, filter)
	ps, _ := args.Get(0).([]*models.Parcel)
	return ps, args.Error(1)
}
func (m *mockRepo) AppendScan(ctx context.Context, trackingCode string, ev *models.ScanEvent) (*models.Timeline, string, error) {
	args := m.Called(ctx, trackingCode, ev)
	tl, _ := args.Get(0).(*models.Timeline)
	return tl, args.String(1), args.Error(2)
}
func (m *mockRepo) GetTimeline(ctx context.Context, trackingCode string) (*models.Timeline, error) {
	args := m.Called(ctx, trackingCode)
	tl, _ := args.Get(0).(*models.Timeline)
	return tl, args.Error(1)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	args := m.Called(ctx, key)
	b, _ := args.Get(0).([]byte)
	return b, args.Bool(1), args.Error(2)
}
func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}
func (m *mockCache) Del(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type ServiceSuite struct {
	suite.Suite

	repo  *mockRepo
	cache *mockCache
	svc   *Service
}

type suiteSeq struct{}

func (suiteSeq) NextSeq(ctx context.Context, year int) (int64, error) { return 42, nil }

func (s *ServiceSuite) SetupTest() {
	s.repo = &mockRepo{}
	s.cache = &mockCache{}
	s.svc = New(s.repo, codes.New(suiteSeq{}), s.cache, 10*time.Minute, nil, "", 0, nil)
}

func (s *ServiceSuite) TestGetTimeline_CacheHit_NoDB() {
	tl := &models.Timeline{TrackingCode: "PRC-2026-000042"}
	b, _ := json.Marshal(tl)

	s.cache.On("Get", mock.Anything, "parcel:PRC-2026-000042:timeline").
		Return(b, true, nil).
		Once()

	out, err := s.svc.GetTimeline(context.Background(), "PRC-2026-000042")
	s.Require().NoError(err)
	s.Require().Equal("PRC-2026-000042", out.TrackingCode)

	// БД не должна трогаться
	s.repo.AssertNotCalled(s.T(), "GetTimeline", mock.Anything, mock.Anything)
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestGetTimeline_CacheMiss_FillsEvenIfSetFails() {
	tl := &models.Timeline{TrackingCode: "PRC-2026-000042"}

	s.cache.On("Get", mock.Anything, "parcel:PRC-2026-000042:timeline").
		Return([]byte(nil), false, nil).
		Once()
	s.repo.On("GetTimeline", mock.Anything, "PRC-2026-000042").
		Return(tl, nil).
		Once()
	// Set ошибки игнорируются
	s.cache.On("Set", mock.Anything, "parcel:PRC-2026-000042:timeline", mock.Anything, 10*time.Minute).
		Return(errors.New("set failed")).
		Once()

	out, err := s.svc.GetTimeline(context.Background(), "PRC-2026-000042")
	s.Require().NoError(err)
	s.Require().Equal(tl, out)
	s.repo.AssertExpectations(s.T())
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestGetTimeline_CacheBadJSON_IsMiss() {
	tl := &models.Timeline{TrackingCode: "PRC-2026-000042"}

	s.cache.On("Get", mock.Anything, "parcel:PRC-2026-000042:timeline").
		Return([]byte("not-json"), true, nil).
		Once()
	s.repo.On("GetTimeline", mock.Anything, "PRC-2026-000042").
		Return(tl, nil).
		Once()
	s.cache.On("Set", mock.Anything, "parcel:PRC-2026-000042:timeline", mock.Anything, 10*time.Minute).
		Return(nil).
		Once()

	out, err := s.svc.GetTimeline(context.Background(), "PRC-2026-000042")
	s.Require().NoError(err)
	s.Require().Equal(tl, out)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestGetTimeline_TTLZero_TreatedAsDisabled() {
	// cache есть, но TTL=0 => кэш выключен, Get/Set не должны вызываться
	svc := New(s.repo, codes.New(suiteSeq{}), s.cache, 0, nil, "", 0, nil)
	tl := &models.Timeline{TrackingCode: "PRC-2026-000042"}
	s.repo.On("GetTimeline", mock.Anything, "PRC-2026-000042").
		Return(tl, nil).
		Once()

	_, err := svc.GetTimeline(context.Background(), "PRC-2026-000042")
	s.Require().NoError(err)
	s.cache.AssertNotCalled(s.T(), "Get", mock.Anything, mock.Anything)
	s.cache.AssertNotCalled(s.T(), "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestAddScan_DelsCacheEvenWhenDelFails() {
	tl := &models.Timeline{TrackingCode: "PRC-2026-000042"}
	s.repo.On("AppendScan", mock.Anything, "PRC-2026-000042", mock.Anything).
		Return(tl, models.StatusPickup, nil).
		Once()
	s.cache.On("Del", mock.Anything, "parcel:PRC-2026-000042:timeline").
		Return(errors.New("redis down")).
		Once()

	_, status, err := s.svc.AddScan(context.Background(), "PRC-2026-000042", models.ScanInput{
		Type: models.StatusPickup, TS: time.Now().UTC(), Location: "WH1",
	})
	s.Require().NoError(err)
	s.Require().Equal(models.StatusPickup, status)
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestAddScan_AppendErrorNoCacheTouch() {
	s.repo.On("AppendScan", mock.Anything, "PRC-2026-000042", mock.Anything).
		Return((*models.Timeline)(nil), "", models.ErrInvalidTransition).
		Once()

	_, _, err := s.svc.AddScan(context.Background(), "PRC-2026-000042", models.ScanInput{
		Type: models.StatusDelivered, TS: time.Now().UTC(), Location: "Dest",
	})
	s.Require().ErrorIs(err, models.ErrInvalidTransition)
	s.cache.AssertNotCalled(s.T(), "Del", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestCreateParcel_RepoErrorStops() {
	want := errors.New("insert failed")
	s.repo.On("GetCustomer", mock.Anything, int64(5)).
		Return(&models.Customer{ID: 5}, nil).
		Once()
	s.repo.On("CreateParcel", mock.Anything, mock.MatchedBy(func(p *models.Parcel) bool {
		return p.Status == models.StatusNew && p.TrackingCode != ""
	})).Return((*models.Parcel)(nil), want).Once()

	_, err := s.svc.CreateParcel(context.Background(), models.ParcelCreateInput{
		CustomerID: 5, WeightKG: 1, AddrFrom: "A", AddrTo: "B",
	})
	s.Require().ErrorIs(err, want)
	s.repo.AssertExpectations(s.T())
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
