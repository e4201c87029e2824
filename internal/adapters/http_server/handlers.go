package httpserver

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/mikolaj2268/review-radar/internal/analysis"
	"github.com/mikolaj2268/review-radar/internal/app"
	"github.com/mikolaj2268/review-radar/internal/domain"
)

type Handlers struct {
	Q        *app.QueryService
	Sync     *app.SyncService
	Resolver *app.Resolver

	// Page holds the locale defaults applied to sync requests.
	Page domain.PageOptions
	// Model is the sentiment model used when ?model= is absent.
	Model string
	LLM   analysis.Scorer
	// SyncPerMinute limits sync mutations per client; 0 disables the limit.
	SyncPerMinute int
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Route("/v1/apps", func(r chi.Router) {
		r.Get("/", h.listApps)
		r.Get("/search", h.search)
		r.Get("/{app}/reviews", h.listReviews)
		r.Get("/{app}/coverage", h.coverage)
		r.Get("/{app}/analysis", h.analyze)
		r.Get("/{app}/sync", h.syncStatus)
		r.Group(func(r chi.Router) {
			if h.SyncPerMinute > 0 {
				r.Use(RateLimit(h.SyncPerMinute))
			}
			r.Post("/{app}/sync", h.startSync)
			r.Delete("/{app}/sync", h.cancelSync)
		})
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

func writeWithETag(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write body")
	}
}

func appParam(r *http.Request) string {
	raw := chi.URLParam(r, "app")
	if s, err := url.PathUnescape(raw); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(raw)
}

// dateParam parses an optional YYYY-MM-DD query value.
func dateParam(r *http.Request, key string) (*domain.Date, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil, nil
	}
	d, err := domain.ParseDate(v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func dateBounds(r *http.Request) (*domain.Date, *domain.Date, error) {
	from, err := dateParam(r, "from")
	if err != nil {
		return nil, nil, err
	}
	to, err := dateParam(r, "to")
	if err != nil {
		return nil, nil, err
	}
	if from != nil && to != nil && from.After(*to) {
		return nil, nil, domain.ErrInvalidRange
	}
	return from, to, nil
}

func reviewFilter(from, to *domain.Date, limit int) domain.ReviewFilter {
	f := domain.ReviewFilter{Limit: limit}
	if from != nil {
		t := from.Time()
		f.From = &t
	}
	if to != nil {
		_, end := domain.DateRange{Start: *to, End: *to}.Bounds()
		f.To = &end
	}
	return f
}

func (h *Handlers) listApps(w http.ResponseWriter, r *http.Request) {
	apps, err := h.Q.Apps(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("list apps failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "could not list apps")
		return
	}
	if apps == nil {
		apps = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"apps": apps})
}

func (h *Handlers) search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeProblem(w, http.StatusBadRequest, "Missing query", "q is required")
		return
	}
	res, err := h.Resolver.Resolve(r.Context(), q)
	if err != nil {
		log.Warn().Err(err).Str("q", q).Msg("app search failed")
		writeProblem(w, http.StatusBadGateway, "Upstream Error", "app search failed")
		return
	}
	if res.Candidates == nil {
		res.Candidates = []domain.AppCandidate{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) listReviews(w http.ResponseWriter, r *http.Request) {
	name := appParam(r)
	from, to, err := dateBounds(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid dates", err.Error())
		return
	}
	limit := app.DefaultReviewLimit
	if ls := r.URL.Query().Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 || l > app.MaxReviewLimit {
			writeProblem(w, http.StatusBadRequest, "Invalid limit",
				"limit must be an integer between 1 and "+strconv.Itoa(app.MaxReviewLimit))
			return
		}
		limit = l
	}

	out, err := h.Q.ListReviews(r.Context(), name, reviewFilter(from, to, limit))
	if err != nil {
		log.Error().Err(err).Str("app", name).Msg("list reviews failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "could not load reviews")
		return
	}
	if out == nil {
		out = []domain.ReviewRecord{}
	}
	writeWithETag(w, r, map[string]any{"app_name": name, "count": len(out), "reviews": out})
}

func (h *Handlers) coverage(w http.ResponseWriter, r *http.Request) {
	name := appParam(r)
	from, to, err := dateBounds(r)
	if err == nil && (from == nil || to == nil) {
		err = errors.New("from and to are required")
	}
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid dates", err.Error())
		return
	}
	res, err := h.Q.Coverage(r.Context(), name, domain.DateRange{Start: *from, End: *to})
	if err != nil {
		log.Error().Err(err).Str("app", name).Msg("coverage failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "could not compute coverage")
		return
	}
	writeWithETag(w, r, res)
}

type syncBody struct {
	AppID       string `json:"app_id"`
	From        string `json:"from"`
	To          string `json:"to"`
	Lang        string `json:"lang"`
	Country     string `json:"country"`
	Sort        string `json:"sort"`
	Score       *int   `json:"score"`
	Device      *int   `json:"device"`
	RecheckFrom string `json:"recheck_from"`
}

func (h *Handlers) syncRequest(r *http.Request, name string, b syncBody) (domain.SyncRequest, int, error) {
	start, err := domain.ParseDate(b.From)
	if err != nil {
		return domain.SyncRequest{}, http.StatusBadRequest, err
	}
	end, err := domain.ParseDate(b.To)
	if err != nil {
		return domain.SyncRequest{}, http.StatusBadRequest, err
	}
	window, err := domain.NewDateRange(start, end)
	if err != nil {
		return domain.SyncRequest{}, http.StatusBadRequest, err
	}
	if b.Score != nil && (*b.Score < 1 || *b.Score > 5) {
		return domain.SyncRequest{}, http.StatusBadRequest, errors.New("score must be between 1 and 5")
	}
	// gap syncs stop early on date order, so they only walk newest first
	if b.Sort != "" && domain.SortOrder(strings.ToLower(strings.TrimSpace(b.Sort))) != domain.SortNewest {
		return domain.SyncRequest{}, http.StatusBadRequest, errors.New(`sort must be "newest" for a sync`)
	}

	appID := strings.TrimSpace(b.AppID)
	if appID == "" {
		c, ok, err := h.Resolver.First(r.Context(), name)
		if err != nil {
			return domain.SyncRequest{}, http.StatusBadGateway, err
		}
		if !ok {
			return domain.SyncRequest{}, http.StatusNotFound, errors.New("no app matches " + strconv.Quote(name))
		}
		appID = c.AppID
	}

	page := h.Page
	if b.Lang != "" {
		page.Lang = b.Lang
	}
	if b.Country != "" {
		page.Country = b.Country
	}
	page.Sort = domain.SortNewest
	page.Score, page.Device = b.Score, b.Device

	req := domain.SyncRequest{AppID: appID, AppName: name, Window: window, Page: page}
	if b.RecheckFrom != "" {
		d, err := domain.ParseDate(b.RecheckFrom)
		if err != nil {
			return domain.SyncRequest{}, http.StatusBadRequest, err
		}
		req.RecheckFrom = &d
	}
	return req, 0, nil
}

func (h *Handlers) startSync(w http.ResponseWriter, r *http.Request) {
	name := appParam(r)
	var b syncBody
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", err.Error())
		return
	}
	req, status, err := h.syncRequest(r, name, b)
	if err != nil {
		writeProblem(w, status, http.StatusText(status), err.Error())
		return
	}

	runID, err := h.Sync.Start(r.Context(), req)
	switch {
	case errors.Is(err, domain.ErrSyncInProgress):
		writeProblem(w, http.StatusConflict, "Conflict", "a sync for this app is already running")
		return
	case errors.Is(err, domain.ErrInvalidRange):
		writeProblem(w, http.StatusBadRequest, "Invalid dates", err.Error())
		return
	case err != nil:
		log.Error().Err(err).Str("app", name).Msg("start sync failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "could not start sync")
		return
	}
	w.Header().Set("Location", "/v1/apps/"+url.PathEscape(name)+"/sync")
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "app_name": name, "app_id": req.AppID})
}

func (h *Handlers) syncStatus(w http.ResponseWriter, r *http.Request) {
	snap, _ := h.Sync.Status(appParam(r))
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handlers) cancelSync(w http.ResponseWriter, r *http.Request) {
	name := appParam(r)
	if !h.Sync.Cancel(name) {
		writeProblem(w, http.StatusNotFound, "Not Found", "no sync running for this app")
		return
	}
	log.Info().Str("app", name).Msg("sync cancel requested")
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handlers) analyze(w http.ResponseWriter, r *http.Request) {
	name := appParam(r)
	from, to, err := dateBounds(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid dates", err.Error())
		return
	}
	model := r.URL.Query().Get("model")
	if model == "" {
		model = h.Model
	}
	scorer, err := analysis.ScorerFor(model, h.LLM)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Unknown model", err.Error())
		return
	}

	start := time.Now()
	rows, err := h.Q.ListReviews(r.Context(), name, reviewFilter(from, to, app.MaxReviewLimit))
	if err != nil {
		log.Error().Err(err).Str("app", name).Msg("load reviews for analysis failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "could not load reviews")
		return
	}
	prepared := analysis.Preprocess(rows)
	sum, err := analysis.Summarize(r.Context(), prepared, scorer, 4)
	if err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Analysis Aborted", err.Error())
		return
	}
	log.Debug().Str("app", name).Str("model", sum.Model).Int("rows", len(rows)).Int("kept", len(prepared)).
		Dur("took", time.Since(start)).Msg("analysis done")
	writeJSON(w, http.StatusOK, map[string]any{"app_name": name, "loaded": len(rows), "summary": sum})
}
