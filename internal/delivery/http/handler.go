package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/azizikri/offer-feed/internal/catalog"
	"github.com/azizikri/offer-feed/internal/domain"
	"github.com/azizikri/offer-feed/internal/feed"
	"github.com/go-chi/chi/v5"
)

type SignInRequest struct {
	UserID string `json:"user_id"`
}

type ToggleRequest struct {
	Identifier string `json:"identifier"`
}

type BulkRequest struct {
	Identifiers []string `json:"identifiers"`
}

type SavedToggleRequest struct {
	OfferID string `json:"offer_id"`
}

type SearchRequest struct {
	Term  string `json:"term"`
	Flush bool   `json:"flush"`
}

type StatusResponse struct {
	IsLoading bool   `json:"is_loading"`
	LastError string `json:"last_error,omitempty"`
}

type FeedResponse struct {
	Offers      []domain.Offer `json:"offers"`
	SearchTerm  string         `json:"search_term"`
	PendingTerm string         `json:"pending_term"`
	LiveUpdates bool           `json:"live_updates"`
	Status      StatusResponse `json:"status"`
}

type PreferencesResponse struct {
	Preferences domain.PreferenceSet `json:"preferences"`
	Saved       []string             `json:"saved"`
}

type FlashPageResponse struct {
	Page       int            `json:"page"`
	TotalPages int            `json:"total_pages"`
	Total      int            `json:"total"`
	Offers     []domain.Offer `json:"offers"`
}

type CountsResponse struct {
	Stores     []catalog.LabelCount `json:"stores"`
	Categories []catalog.LabelCount `json:"categories"`
}

type Handler struct {
	sessions *feed.SessionManager
	repo     *catalog.Repository
}

func NewHandler(sessions *feed.SessionManager, repo *catalog.Repository) *Handler {
	return &Handler{sessions: sessions, repo: repo}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", h.SignIn)
		r.Delete("/sessions/{userID}", h.SignOut)
		r.Get("/catalog/counts", h.Counts)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/feed", h.Feed)
			r.Get("/preferences", h.Preferences)
			r.Post("/preferences/{category}/toggle", h.TogglePreference)
			r.Delete("/preferences/{category}", h.ClearCategory)
			r.Put("/preferences/{category}", h.ApplyBulk)
			r.Post("/saved/toggle", h.ToggleSaved)
			r.Post("/search", h.Search)
			r.Get("/flash", h.FlashPage)
		})
	})
}

func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s, err := h.sessions.SignIn(r.Context(), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, feedResponse(s))
}

func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.SignOut(chi.URLParam(r, "userID")) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, feedResponse(s))
}

func (h *Handler) Preferences(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, PreferencesResponse{
		Preferences: s.Prefs.Snapshot(),
		Saved:       s.Prefs.SavedOfferIDs(),
	})
}

func (h *Handler) TogglePreference(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cat, err := domain.ParseCategory(chi.URLParam(r, "category"))
	if err == nil {
		err = s.Prefs.Toggle(r.Context(), cat, req.Identifier)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feedResponse(s))
}

func (h *Handler) ClearCategory(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	cat, err := domain.ParseCategory(chi.URLParam(r, "category"))
	if err == nil {
		err = s.Prefs.ClearCategory(r.Context(), cat)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feedResponse(s))
}

func (h *Handler) ApplyBulk(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cat, err := domain.ParseCategory(chi.URLParam(r, "category"))
	if err == nil {
		err = s.Prefs.ApplyBulk(r.Context(), cat, req.Identifiers)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feedResponse(s))
}

func (h *Handler) ToggleSaved(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SavedToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.Prefs.ToggleSaved(r.Context(), req.OfferID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PreferencesResponse{
		Preferences: s.Prefs.Snapshot(),
		Saved:       s.Prefs.SavedOfferIDs(),
	})
}

// Search feeds the debouncer. The response reflects the committed term, which
// lags the input unless flush is set.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.Controller.SetSearchTerm(req.Term)
	if req.Flush {
		s.Controller.FlushSearch()
	}
	writeJSON(w, http.StatusAccepted, feedResponse(s))
}

func (h *Handler) FlashPage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	page := s.Flash.CurrentPage()
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return
		}
		page = s.SetFlashPage(n)
	}

	offers := s.Flash.Page()
	if offers == nil {
		offers = []domain.Offer{}
	}
	writeJSON(w, http.StatusOK, FlashPageResponse{
		Page:       page,
		TotalPages: s.Flash.TotalPages(),
		Total:      s.Flash.Total(),
		Offers:     offers,
	})
}

func (h *Handler) Counts(w http.ResponseWriter, r *http.Request) {
	top := 0
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid top", http.StatusBadRequest)
			return
		}
		top = n
	}

	counts := h.repo.Counts()
	writeJSON(w, http.StatusOK, CountsResponse{
		Stores:     catalog.Top(counts.Stores, top),
		Categories: catalog.Top(counts.Categories, top),
	})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*feed.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return s, true
}

func feedResponse(s *feed.Session) FeedResponse {
	st := s.Status()
	resp := FeedResponse{
		Offers:      s.Controller.Feed(),
		SearchTerm:  s.Controller.CommittedSearchTerm(),
		PendingTerm: s.Controller.PendingSearchTerm(),
		LiveUpdates: s.LiveUpdatesAttached(),
		Status:      StatusResponse{IsLoading: st.IsLoading},
	}
	if err := st.LastError(); err != nil {
		resp.Status.LastError = err.Error()
	}
	if resp.Offers == nil {
		resp.Offers = []domain.Offer{}
	}
	return resp
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCategory), errors.Is(err, domain.ErrInvalidIdentifier):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNoSession):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrPreferenceWriteFailed):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
