// Package api exposes the inventory service over HTTP: REST for CRUD
// and queries, a websocket endpoint for the push channel, plus health
// and metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lotwire/lotwire"
	"github.com/lotwire/lotwire/pkg/channel"
	"github.com/lotwire/lotwire/pkg/logger"
	"github.com/lotwire/lotwire/pkg/query"
	"github.com/lotwire/lotwire/pkg/store"
	"github.com/lotwire/lotwire/pkg/vehicle"
)

// API serves the HTTP surface of the service.
type API struct {
	svc     *lotwire.Service
	channel *channel.Server
	logger  logger.Logger

	// Gatherer backs /metrics. Defaults to the prometheus default
	// gatherer.
	Gatherer prometheus.Gatherer
}

// New creates the API. channel may be nil to disable the websocket
// endpoint.
func New(svc *lotwire.Service, ch *channel.Server, log logger.Logger) *API {
	if log == nil {
		log = logger.Nop
	}
	return &API{
		svc:      svc,
		channel:  ch,
		logger:   log,
		Gatherer: prometheus.DefaultGatherer,
	}
}

// Router builds the route table.
func (a *API) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", a.handleHealth).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(a.Gatherer, promhttp.HandlerOpts{}))

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/vehicles", a.handleListVehicles).Methods("GET")
	api.HandleFunc("/vehicles", a.handleCreateVehicle).Methods("POST")
	api.HandleFunc("/vehicles/{id}", a.handleGetVehicle).Methods("GET")
	api.HandleFunc("/vehicles/{id}", a.handleUpdateVehicle).Methods("PUT")
	api.HandleFunc("/vehicles/{id}", a.handleDeleteVehicle).Methods("DELETE")
	api.HandleFunc("/vehicles/{id}/status", a.handleSetStatus).Methods("PATCH")
	api.HandleFunc("/vehicles/refresh", a.handleRefresh).Methods("POST")

	if a.channel != nil {
		router.Handle("/ws", a.channel)
	}

	return router
}

// listResponse is the wire shape of a paginated vehicle listing.
type listResponse struct {
	Data       []vehicle.Vehicle `json:"data"`
	Count      int               `json:"count"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	TotalPages int               `json:"totalPages"`
	Source     lotwire.Source    `json:"source"`
}

func (a *API) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	req, err := parseListRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.svc.List(r.Context(), req)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, listResponse{
		Data:       res.Items,
		Count:      res.TotalCount,
		Page:       req.Page,
		Limit:      req.PageSize,
		TotalPages: res.TotalPages,
		Source:     a.svc.Source(),
	})
}

func (a *API) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	v, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (a *API) handleCreateVehicle(w http.ResponseWriter, r *http.Request) {
	var v vehicle.Vehicle
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if v.Status != "" && !v.Status.Valid() {
		respondError(w, http.StatusBadRequest, "unknown status: "+string(v.Status))
		return
	}

	if err := a.svc.Create(r.Context(), &v); err != nil {
		a.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, v)
}

func (a *API) handleUpdateVehicle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var v vehicle.Vehicle
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	v.ID = id
	if v.Status != "" && !v.Status.Valid() {
		respondError(w, http.StatusBadRequest, "unknown status: "+string(v.Status))
		return
	}

	if err := a.svc.Update(r.Context(), &v); err != nil {
		a.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (a *API) handleDeleteVehicle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := a.svc.Delete(r.Context(), id); err != nil {
		a.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

type statusRequest struct {
	Status vehicle.Status `json:"status"`
	Note   string         `json:"note,omitempty"`
}

func (a *API) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if !req.Status.Valid() {
		respondError(w, http.StatusBadRequest, "unknown status: "+string(req.Status))
		return
	}

	v, err := a.svc.SetStatus(r.Context(), id, req.Status, req.Note)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Refresh(r.Context()); err != nil {
		a.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "refresh broadcast"})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"source": a.svc.Source(),
	})
}

func (a *API) respondServiceError(w http.ResponseWriter, err error) {
	var verr *query.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "vehicle not found")
	default:
		a.logger.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// parseListRequest maps URL query parameters onto a query.Request.
// Unknown values fail here with 400 rather than deep in the engine.
func parseListRequest(r *http.Request) (query.Request, error) {
	q := r.URL.Query()

	req := query.Request{
		Search:    q.Get("search"),
		Status:    q.Get("status"),
		Make:      q.Get("make"),
		SortBy:    q.Get("sortBy"),
		SortOrder: query.Direction(q.Get("sortOrder")),
		Page:      1,
		PageSize:  20,
	}

	var err error
	if req.Year, err = intParam(q.Get("year"), "year"); err != nil {
		return query.Request{}, err
	}
	if req.MinMileage, err = intParam(q.Get("minMileage"), "minMileage"); err != nil {
		return query.Request{}, err
	}
	if req.MaxMileage, err = intParam(q.Get("maxMileage"), "maxMileage"); err != nil {
		return query.Request{}, err
	}
	if req.MinPrice, err = floatParam(q.Get("minPrice"), "minPrice"); err != nil {
		return query.Request{}, err
	}
	if req.MaxPrice, err = floatParam(q.Get("maxPrice"), "maxPrice"); err != nil {
		return query.Request{}, err
	}

	if page, err := intParam(q.Get("page"), "page"); err != nil {
		return query.Request{}, err
	} else if page != nil {
		req.Page = *page
	}
	if limit, err := intParam(q.Get("limit"), "limit"); err != nil {
		return query.Request{}, err
	} else if limit != nil {
		req.PageSize = *limit
	}

	return req, nil
}

func intParam(raw, field string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &query.ValidationError{Field: field, Reason: "not an integer"}
	}
	return &n, nil
}

func floatParam(raw, field string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, &query.ValidationError{Field: field, Reason: "not a number"}
	}
	return &f, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_, _ = w.Write(response)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
