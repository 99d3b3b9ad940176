package parcelsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"parceltrack/internal/codes"
	"parceltrack/internal/lifecycle"
	"parceltrack/internal/models"
	"parceltrack/internal/services/parcels"
	"parceltrack/internal/services/reports"
	"parceltrack/internal/storage/pgparcel"
)

// In-memory repo: достаточно настоящий, чтобы гонять HTTP-сценарии без БД.
type memRepo struct {
	customers map[int64]*models.Customer
	nextCust  int64

	parcels map[string]*models.Parcel
	events  map[string][]*models.ScanEvent
	nextID  int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		customers: map[int64]*models.Customer{},
		parcels:   map[string]*models.Parcel{},
		events:    map[string][]*models.ScanEvent{},
	}
}

func (m *memRepo) CreateCustomer(ctx context.Context, in models.CustomerCreateInput) (*models.Customer, error) {
	m.nextCust++
	c := &models.Customer{ID: m.nextCust, Name: in.Name, Email: in.Email, Phone: in.Phone, CreatedAt: time.Now().UTC()}
	m.customers[c.ID] = c
	return c, nil
}
func (m *memRepo) SearchCustomers(ctx context.Context, query string) ([]*models.Customer, error) {
	out := []*models.Customer{}
	for _, c := range m.customers {
		if query == "" || strings.Contains(strings.ToLower(c.Name), strings.ToLower(query)) {
			out = append(out, c)
		}
	}
	return out, nil
}
func (m *memRepo) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	if c, ok := m.customers[id]; ok {
		return c, nil
	}
	return nil, models.NewNotFoundError("customer", "?")
}
func (m *memRepo) CreateParcel(ctx context.Context, p *models.Parcel) (*models.Parcel, error) {
	m.nextID++
	out := *p
	out.ID = m.nextID
	out.CreatedAt = time.Now().UTC()
	m.parcels[out.TrackingCode] = &out
	return &out, nil
}
func (m *memRepo) GetParcelByCode(ctx context.Context, trackingCode string) (*models.Parcel, error) {
	if p, ok := m.parcels[trackingCode]; ok {
		return p, nil
	}
	return nil, models.NewNotFoundError("parcel", trackingCode)
}
func (m *memRepo) ListParcels(ctx context.Context, filter models.ParcelFilter) ([]*models.Parcel, error) {
	out := []*models.Parcel{}
	for _, p := range m.parcels {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
func (m *memRepo) AppendScan(ctx context.Context, trackingCode string, ev *models.ScanEvent) (*models.Timeline, string, error) {
	p, ok := m.parcels[trackingCode]
	if !ok {
		return nil, "", models.NewNotFoundError("parcel", trackingCode)
	}
	status, err := lifecycle.PlanAppend(m.events[trackingCode], ev)
	if err != nil {
		return nil, "", err
	}
	m.events[trackingCode] = lifecycle.SortEvents(append(m.events[trackingCode], ev))
	p.Status = status
	return &models.Timeline{TrackingCode: trackingCode, Events: m.events[trackingCode]}, status, nil
}
func (m *memRepo) GetTimeline(ctx context.Context, trackingCode string) (*models.Timeline, error) {
	if _, ok := m.parcels[trackingCode]; !ok {
		return nil, models.NewNotFoundError("parcel", trackingCode)
	}
	return &models.Timeline{TrackingCode: trackingCode, Events: m.events[trackingCode]}, nil
}
func (m *memRepo) ParcelsForReport(ctx context.Context, from, to time.Time) ([]*pgparcel.ReportParcel, error) {
	out := []*pgparcel.ReportParcel{}
	for code, p := range m.parcels {
		inWindow := !p.CreatedAt.Before(from) && !p.CreatedAt.After(to)
		var evs []*models.ScanEvent
		for _, e := range m.events[code] {
			if !e.TS.After(to) {
				evs = append(evs, e)
			}
			if !e.TS.Before(from) && !e.TS.After(to) {
				inWindow = true
			}
		}
		if inWindow {
			out = append(out, &pgparcel.ReportParcel{ID: p.ID, Events: evs})
		}
	}
	return out, nil
}

type memSeq struct{ n int64 }

func (s *memSeq) NextSeq(ctx context.Context, year int) (int64, error) {
	s.n++
	return s.n, nil
}

type fakeRL struct {
	allowed bool
	key     string
}

func (r *fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	r.key = key
	return r.allowed, 1, nil
}

func newTestServer(t *testing.T, rl RateLimiter) (*httptest.Server, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	svc := parcels.New(repo, codes.New(&memSeq{}), nil, 0, nil, "", 1, nil)
	api := New(svc, reports.New(repo), rl, 100)

	r := chi.NewRouter()
	api.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	var req *http.Request
	var err error
	if body == "" {
		req, err = http.NewRequest(method, url, nil)
	} else {
		req, err = http.NewRequest(method, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func createParcel(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/customers", `{"name":"ACME"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/parcels",
		`{"customer_id":1,"weight_kg":2.5,"addr_from":"WH1","addr_to":"Main st. 7"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	code, _ := body["tracking_code"].(string)
	require.Regexp(t, `^PRC-\d{4}-\d{6}$`, code)
	return code
}

func TestAPI_CreateCustomer(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/customers", `{"name":""}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, body["detail"], "name")

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/customers", `{"name":"ACME","email":"ops@acme.test"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "ACME", body["name"])
}

func TestAPI_CreateParcel_errors(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/parcels", `{bad json`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/parcels",
		`{"customer_id":99,"weight_kg":1,"addr_from":"A","addr_to":"B"}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	doJSON(t, http.MethodPost, srv.URL+"/customers", `{"name":"ACME"}`)
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/parcels",
		`{"customer_id":1,"weight_kg":-1,"addr_from":"A","addr_to":"B"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, body["detail"], "weight_kg")
}

func TestAPI_GetParcel(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	code := createParcel(t, srv)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/parcels/"+code, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "new", body["status"])

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/parcels/PRC-0000-000000", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Scans_andTimeline(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	code := createParcel(t, srv)

	// datetime-local без секунд — так шлёт форма оператора.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/parcels/"+code+"/scans",
		`{"type":"pickup","ts":"2026-03-01T10:00","location":"WH1"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	// В ответ приходит обновлённый таймлайн, а не обёртка вокруг него.
	require.Equal(t, code, body["tracking_code"])
	events, ok := body["events"].([]any)
	require.True(t, ok)
	require.Len(t, events, 1)

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/parcels/"+code+"/scans",
		`{"type":"delivered","ts":"2026-03-01T11:00:00Z","location":"Dest"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Contains(t, body["detail"], "invalid transition")

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/parcels/"+code+"/scans",
		`{"type":"pickup","ts":"not-a-time","location":"WH1"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/parcels/"+code+"/scans",
		`{"type":"in_transit","ts":"2026-03-01T12:00","location":"Hub"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, tl := doJSON(t, http.MethodGet, srv.URL+"/parcels/"+code+"/timeline", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events, ok = tl["events"].([]any)
	require.True(t, ok)
	require.Len(t, events, 2)
}

func TestAPI_Scans_rateLimited(t *testing.T) {
	rl := &fakeRL{allowed: false}
	srv, _ := newTestServer(t, rl)
	code := createParcel(t, srv)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/parcels/"+code+"/scans",
		`{"type":"pickup","ts":"2026-03-01T10:00","location":"WH1"}`)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Contains(t, rl.key, "rl:scan:"+code)
}

func TestAPI_ListParcels(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	code := createParcel(t, srv)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/parcels?page=zero", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/parcels?status=lost", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/parcels?status=new", nil)
	require.NoError(t, err)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	var list []map[string]any
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&list))
	require.Len(t, list, 1)
	require.Equal(t, code, list[0]["tracking_code"])
}

func TestAPI_Report(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	code := createParcel(t, srv)

	_, _ = doJSON(t, http.MethodPost, srv.URL+"/parcels/"+code+"/scans",
		`{"type":"pickup","ts":"`+time.Now().UTC().Format("2006-01-02T15:04")+`","location":"WH1"}`)

	today := time.Now().UTC().Format("2006-01-02")
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/reports/parcels-by-status?from="+today+"&to="+today, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Тело отчёта — плоская карта status -> count: каждый статус является
	// ключом верхнего уровня, ноли не выбрасываются.
	require.EqualValues(t, 1, body["pickup"])
	require.EqualValues(t, 0, body["delivered"])
	for _, st := range models.Statuses() {
		_, ok := body[st]
		require.True(t, ok, "status %s must be a top-level key", st)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/reports/parcels-by-status?from=2026-02-01&to=2026-01-01", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/reports/parcels-by-status?from=bad&to=2026-01-01", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
