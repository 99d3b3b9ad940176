package parcelsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"parceltrack/internal/models"
	"parceltrack/internal/services/parcels"
	"parceltrack/internal/services/reports"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type ParcelsAPI struct {
	svc     *parcels.Service
	reports *reports.Aggregator

	rl              RateLimiter
	scanRateLimitPM int64
}

func New(svc *parcels.Service, agg *reports.Aggregator, rl RateLimiter, scanRateLimitPerMinute int64) *ParcelsAPI {
	return &ParcelsAPI{svc: svc, reports: agg, rl: rl, scanRateLimitPM: scanRateLimitPerMinute}
}

func (a *ParcelsAPI) Routes(r chi.Router) {
	r.Post("/customers", a.createCustomer)
	r.Get("/customers", a.searchCustomers)

	r.Post("/parcels", a.createParcel)
	r.Get("/parcels", a.listParcels)
	r.Get("/parcels/{code}", a.getParcel)
	r.Get("/parcels/{code}/timeline", a.getTimeline)
	r.Post("/parcels/{code}/scans", a.addScan)

	r.Get("/reports/parcels-by-status", a.parcelsByStatus)
}

func (a *ParcelsAPI) createCustomer(w http.ResponseWriter, r *http.Request) {
	var in models.CustomerCreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json body")
		return
	}
	c, err := a.svc.CreateCustomer(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *ParcelsAPI) searchCustomers(w http.ResponseWriter, r *http.Request) {
	cs, err := a.svc.SearchCustomers(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		writeError(w, err)
		return
	}
	if cs == nil {
		cs = []*models.Customer{}
	}
	writeJSON(w, http.StatusOK, cs)
}

func (a *ParcelsAPI) createParcel(w http.ResponseWriter, r *http.Request) {
	var in models.ParcelCreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json body")
		return
	}
	p, err := a.svc.CreateParcel(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *ParcelsAPI) listParcels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ParcelFilter{
		Status: q.Get("status"),
		Query:  q.Get("q"),
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeDetail(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		filter.Page = n
	}
	if v := q.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeDetail(w, http.StatusBadRequest, "size must be a positive integer")
			return
		}
		filter.Size = n
	}

	ps, err := a.svc.ListParcels(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if ps == nil {
		ps = []*models.Parcel{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (a *ParcelsAPI) getParcel(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.GetParcel(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *ParcelsAPI) getTimeline(w http.ResponseWriter, r *http.Request) {
	tl, err := a.svc.GetTimeline(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

type scanRequest struct {
	Type     string  `json:"type"`
	TS       string  `json:"ts"`
	Location string  `json:"location"`
	Note     *string `json:"note,omitempty"`
}

func (a *ParcelsAPI) addScan(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	if a.rl != nil && a.scanRateLimitPM > 0 {
		minuteKey := fmt.Sprintf("rl:scan:%s:%s", code, time.Now().UTC().Format("200601021504"))
		allowed, _, err := a.rl.Allow(r.Context(), minuteKey, a.scanRateLimitPM, 70*time.Second)
		if err == nil && !allowed {
			writeDetail(w, http.StatusTooManyRequests, "too many scans for this parcel, slow down")
			return
		}
	}

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json body")
		return
	}
	ts, err := parseScanTS(req.TS)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "ts: invalid timestamp")
		return
	}

	tl, _, err := a.svc.AddScan(r.Context(), code, models.ScanInput{
		Type:     req.Type,
		TS:       ts,
		Location: req.Location,
		Note:     req.Note,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	// Ответ — обновлённый таймлайн; текущий статус клиент читает из GET /parcels/{code}.
	writeJSON(w, http.StatusCreated, tl)
}

func (a *ParcelsAPI) parcelsByStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := time.Parse("2006-01-02", q.Get("from"))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "from: expected YYYY-MM-DD")
		return
	}
	to, err := time.Parse("2006-01-02", q.Get("to"))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "to: expected YYYY-MM-DD")
		return
	}
	// Границы дат включительные: to растягиваем до конца суток.
	rep, err := a.reports.CountByStatus(r.Context(), from, to.Add(24*time.Hour-time.Nanosecond))
	if err != nil {
		writeError(w, err)
		return
	}
	// Тело ответа — плоская карта status -> count, её рендерит таблица в UI.
	writeJSON(w, http.StatusOK, rep.Counts)
}

// Сканеры и формы присылают время в разной полноте: с зоной, с секундами,
// и как datetime-local без секунд.
var scanTSLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

func parseScanTS(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty")
	}
	for _, layout := range scanTSLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("unsupported timestamp %q", s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeDetail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrConflict),
		errors.Is(err, models.ErrInconsistentTimeline):
		writeDetail(w, http.StatusConflict, err.Error())
	default:
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}
