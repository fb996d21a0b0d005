package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-insurance/merlin/internal/domain"
	"github.com/opensource-insurance/merlin/internal/rating"
	"github.com/opensource-insurance/merlin/internal/rules"
	"github.com/opensource-insurance/merlin/internal/validate"
)

// GlobalTenantID is used for heuristic rules that apply to all tenants.
const GlobalTenantID = "*"

// dateLayout is the wire format for policy and validity dates.
const dateLayout = "2006-01-02"

// FactInvalidator drops cached fact lookups after rating-table writes.
// Optional; without one, staleness is bounded by the cache TTL alone.
type FactInvalidator interface {
	Invalidate(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, ratingKey string, date time.Time) error
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo        domain.Repository
	cache       domain.Cache
	bus         domain.EventBus
	invalidator FactInvalidator
	calculator  *rating.Calculator
	validator   *validate.Validator
	heuristics  *rules.Engine
	version     string
}

// NewHandler creates a new API handler. repo, cache, bus and invalidator
// may be nil; the corresponding side effects are skipped.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, invalidator FactInvalidator, calculator *rating.Calculator, validator *validate.Validator, heuristics *rules.Engine, version string) *Handler {
	return &Handler{
		repo:        repo,
		cache:       cache,
		bus:         bus,
		invalidator: invalidator,
		calculator:  calculator,
		validator:   validator,
		heuristics:  heuristics,
		version:     version,
	}
}

// VehicleInfo is the vehicle snapshot in quote requests.
type VehicleInfo struct {
	Make                  string `json:"make"`
	Model                 string `json:"model"`
	YearOfManufacture     int    `json:"yearOfManufacture"`
	FirstRegistrationDate string `json:"firstRegistrationDate"` // YYYY-MM-DD
	EngineCapacity        int    `json:"engineCapacity"`        // cc
	Power                 int    `json:"power"`                 // hp
}

// QuoteRequest is the request body for POST /quotes and
// POST /quotes/validate.
type QuoteRequest struct {
	InsuranceType string      `json:"insuranceType"`
	Vehicle       VehicleInfo `json:"vehicle"`
	PolicyDate    string      `json:"policyDate,omitempty"` // YYYY-MM-DD, defaults to today
}

// QuoteResponse is the response for POST /quotes.
type QuoteResponse struct {
	QuoteID       string                   `json:"quoteId"`
	Status        string                   `json:"status"`
	InsuranceType domain.InsuranceType     `json:"insuranceType"`
	PolicyDate    string                   `json:"policyDate"`
	Breakdown     *domain.PremiumBreakdown `json:"breakdown,omitempty"`
	Warnings      []string                 `json:"warnings,omitempty"`
	Reasons       []string                 `json:"reasons,omitempty"`
	Metadata      struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// parseQuoteRequest decodes and structurally validates a quote request.
// Returned errors are client errors; the message goes on the wire.
func parseQuoteRequest(r *http.Request) (domain.InsuranceType, *domain.Vehicle, time.Time, error) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", nil, time.Time{}, errors.New("invalid JSON request body")
	}

	insuranceType := domain.InsuranceType(req.InsuranceType)
	if req.InsuranceType == "" {
		return "", nil, time.Time{}, errors.New("insuranceType is required")
	}
	if !insuranceType.Valid() {
		return "", nil, time.Time{}, errors.New("insuranceType must be one of OC, AC, NNW")
	}

	if req.Vehicle.FirstRegistrationDate == "" {
		return "", nil, time.Time{}, errors.New("vehicle.firstRegistrationDate is required")
	}
	firstReg, err := time.Parse(dateLayout, req.Vehicle.FirstRegistrationDate)
	if err != nil {
		return "", nil, time.Time{}, errors.New("vehicle.firstRegistrationDate must be YYYY-MM-DD")
	}
	if req.Vehicle.EngineCapacity <= 0 {
		return "", nil, time.Time{}, errors.New("vehicle.engineCapacity must be positive")
	}
	if req.Vehicle.Power <= 0 {
		return "", nil, time.Time{}, errors.New("vehicle.power must be positive")
	}

	policyDate := time.Now().UTC().Truncate(24 * time.Hour)
	if req.PolicyDate != "" {
		policyDate, err = time.Parse(dateLayout, req.PolicyDate)
		if err != nil {
			return "", nil, time.Time{}, errors.New("policyDate must be YYYY-MM-DD")
		}
	}

	vehicle := &domain.Vehicle{
		Make:                  req.Vehicle.Make,
		Model:                 req.Vehicle.Model,
		YearOfManufacture:     req.Vehicle.YearOfManufacture,
		FirstRegistrationDate: firstReg,
		EngineCapacity:        req.Vehicle.EngineCapacity,
		Power:                 req.Vehicle.Power,
	}
	return insuranceType, vehicle, policyDate, nil
}

// CreateQuote handles POST /quotes. The premium is calculated
// synchronously; pre-flight validation errors reject the quote without
// failing the request.
func (h *Handler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	insuranceType, vehicle, policyDate, err := parseQuoteRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	quoteID := uuid.New().String()

	result, err := h.validator.ValidateRatingFactors(ctx, tenantID, insuranceType, vehicle, policyDate)
	if err != nil {
		slog.Error("pre-flight validation failed", "quote_id", quoteID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "validation failed",
		})
		return
	}

	quote := &domain.Quote{
		ID:            quoteID,
		TenantID:      tenantID,
		InsuranceType: insuranceType,
		Vehicle:       *vehicle,
		PolicyDate:    policyDate,
		Warnings:      result.Warnings,
		CreatedAt:     time.Now().UTC(),
	}

	if !result.IsValid() {
		quote.Status = domain.QuoteStatusRejected
		quote.Reasons = result.Errors
	} else {
		breakdown, err := h.calculator.CalculatePremiumBreakdown(ctx, tenantID, insuranceType, vehicle, policyDate)
		if err != nil {
			slog.Error("premium calculation failed", "quote_id", quoteID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "premium calculation failed",
			})
			return
		}
		quote.Status = domain.QuoteStatusQuoted
		quote.Breakdown = *breakdown
	}

	if h.repo != nil {
		if err := h.repo.SaveQuote(ctx, tenantID, quote); err != nil {
			// The quote is still returned; persistence is for audit.
			slog.Error("failed to save quote", "quote_id", quoteID, "error", err)
		}
	}

	if h.cache != nil {
		if _, err := h.cache.IncrementCounter(ctx, tenantID, "quotes", 24*time.Hour); err != nil {
			slog.Warn("failed to increment quote counter", "error", err)
		}
	}

	h.publishQuoteEvent(ctx, quote, traceID)

	resp := QuoteResponse{
		QuoteID:       quote.ID,
		Status:        quote.Status,
		InsuranceType: insuranceType,
		PolicyDate:    policyDate.Format(dateLayout),
		Warnings:      quote.Warnings,
		Reasons:       quote.Reasons,
	}
	if quote.Status == domain.QuoteStatusQuoted {
		resp.Breakdown = &quote.Breakdown
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) publishQuoteEvent(ctx context.Context, quote *domain.Quote, traceID string) {
	if h.bus == nil {
		return
	}

	topic := domain.TopicQuoteCompleted
	if quote.Status == domain.QuoteStatusRejected {
		topic = domain.TopicQuoteRejected
	}

	payload, err := json.Marshal(map[string]any{
		"quoteId":       quote.ID,
		"insuranceType": quote.InsuranceType,
		"status":        quote.Status,
		"finalPremium":  quote.Breakdown.FinalPremium,
		"traceId":       traceID,
	})
	if err != nil {
		return
	}
	if err := h.bus.Publish(ctx, quote.TenantID, topic, payload); err != nil {
		slog.Warn("failed to publish quote event", "topic", topic, "error", err)
	}
}

// GetQuote handles GET /quotes/{id}.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	quoteID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	quote, err := h.repo.GetQuote(ctx, tenantID, quoteID)
	if err != nil {
		writeError(w, "quote", quoteID, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// ValidateQuoteResponse is the response for POST /quotes/validate.
type ValidateQuoteResponse struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ValidateQuote handles POST /quotes/validate. It runs the same
// pre-flight checks as quote creation without calculating, persisting
// or publishing anything.
func (h *Handler) ValidateQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	insuranceType, vehicle, policyDate, err := parseQuoteRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result, err := h.validator.ValidateRatingFactors(ctx, tenantID, insuranceType, vehicle, policyDate)
	if err != nil {
		slog.Error("validation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "validation failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, ValidateQuoteResponse{
		Valid:    result.IsValid(),
		Errors:   result.Errors,
		Warnings: result.Warnings,
	})
}

// CreateFactRequest is the request body for POST /facts.
type CreateFactRequest struct {
	ID            string  `json:"id,omitempty"`
	InsuranceType string  `json:"insuranceType"`
	RatingKey     string  `json:"ratingKey"`
	Multiplier    float64 `json:"multiplier"`
	ValidFrom     string  `json:"validFrom"`          // YYYY-MM-DD
	ValidTo       string  `json:"validTo,omitempty"`  // YYYY-MM-DD, open-ended if absent
	Enabled       *bool   `json:"enabled,omitempty"`  // defaults to true
}

// CreateFact handles POST /facts. The fact is validated before storage;
// validation errors block the write, warnings are returned alongside
// the stored fact.
func (h *Handler) CreateFact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateFactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	fact := &domain.RatingFact{
		ID:            req.ID,
		TenantID:      tenantID,
		InsuranceType: domain.InsuranceType(req.InsuranceType),
		RatingKey:     req.RatingKey,
		Multiplier:    req.Multiplier,
		Enabled:       true,
	}
	if fact.ID == "" {
		fact.ID = uuid.New().String()
	}
	if req.Enabled != nil {
		fact.Enabled = *req.Enabled
	}

	if req.ValidFrom != "" {
		validFrom, err := time.Parse(dateLayout, req.ValidFrom)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "validFrom must be YYYY-MM-DD",
			})
			return
		}
		fact.ValidFrom = validFrom
	}
	if req.ValidTo != "" {
		validTo, err := time.Parse(dateLayout, req.ValidTo)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "validTo must be YYYY-MM-DD",
			})
			return
		}
		fact.ValidTo = &validTo
	}

	result, err := h.validator.ValidateRatingTable(ctx, tenantID, fact)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		slog.Error("fact validation failed", "id", fact.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "fact validation failed",
		})
		return
	}
	if !result.IsValid() {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "fact failed validation",
			"errors": result.Errors,
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}
	if err := h.repo.SaveFact(ctx, tenantID, fact); err != nil {
		slog.Error("failed to save fact", "id", fact.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save fact",
		})
		return
	}

	h.invalidateFact(ctx, tenantID, fact)

	if h.bus != nil {
		payload, _ := json.Marshal(fact)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicFactCreated, payload); err != nil {
			slog.Warn("failed to publish fact event", "id", fact.ID, "error", err)
		}
	}

	slog.Info("rating fact saved",
		"id", fact.ID,
		"insurance_type", fact.InsuranceType,
		"rating_key", fact.RatingKey,
		"multiplier", fact.Multiplier,
	)
	writeJSON(w, http.StatusCreated, map[string]any{
		"fact":     fact,
		"warnings": result.Warnings,
	})
}

// invalidateFact drops the cached lookups a fact write is most likely
// to affect: today and the fact's first valid day. Everything else ages
// out with the cache TTL.
func (h *Handler) invalidateFact(ctx context.Context, tenantID string, fact *domain.RatingFact) {
	if h.invalidator == nil {
		return
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	dates := []time.Time{today}
	if !fact.ValidFrom.Equal(today) {
		dates = append(dates, fact.ValidFrom)
	}
	for _, d := range dates {
		if err := h.invalidator.Invalidate(ctx, tenantID, fact.InsuranceType, fact.RatingKey, d); err != nil {
			slog.Warn("failed to invalidate fact cache", "rating_key", fact.RatingKey, "error", err)
		}
	}
}

// GetFact handles GET /facts/{id}. Disabled facts are still returned.
func (h *Handler) GetFact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	factID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	fact, err := h.repo.GetFact(ctx, tenantID, factID)
	if err != nil {
		writeError(w, "fact", factID, err)
		return
	}

	writeJSON(w, http.StatusOK, fact)
}

// DeleteFact handles DELETE /facts/{id}. The fact is disabled, not
// removed, so historical quotes stay explainable.
func (h *Handler) DeleteFact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	factID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	fact, err := h.repo.GetFact(ctx, tenantID, factID)
	if err != nil {
		writeError(w, "fact", factID, err)
		return
	}

	if err := h.repo.DeleteFact(ctx, tenantID, factID); err != nil {
		writeError(w, "fact", factID, err)
		return
	}

	h.invalidateFact(ctx, tenantID, fact)

	slog.Info("rating fact disabled", "id", factID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "fact disabled",
	})
}

// ListFacts handles GET /facts?type=OC&validOn=2026-06-01. validOn
// defaults to today.
func (h *Handler) ListFacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	insuranceType := domain.InsuranceType(r.URL.Query().Get("type"))
	if !insuranceType.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "type query parameter must be one of OC, AC, NNW",
		})
		return
	}

	validOn := time.Now().UTC().Truncate(24 * time.Hour)
	if raw := r.URL.Query().Get("validOn"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "validOn must be YYYY-MM-DD",
			})
			return
		}
		validOn = parsed
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	facts, err := h.repo.AllValidOnDate(ctx, tenantID, insuranceType, validOn)
	if err != nil {
		slog.Error("failed to list facts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list facts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"facts":   facts,
		"count":   len(facts),
		"validOn": validOn.Format(dateLayout),
	})
}

// ListHeuristics returns all heuristics loaded in the engine.
func (h *Handler) ListHeuristics(w http.ResponseWriter, r *http.Request) {
	loaded := h.heuristics.LoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"heuristics": loaded,
		"count":      len(loaded),
	})
}

// CreateHeuristicRequest is the request body for POST /heuristics.
type CreateHeuristicRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Message     string `json:"message"`
	Severity    string `json:"severity,omitempty"` // defaults to warning
	Enabled     bool   `json:"enabled"`
}

// CreateHeuristic creates a heuristic rule and saves it to the
// database. Heuristics are saved globally (tenant_id = "*") so they
// apply to all tenants. Enabled rules are hot-loaded immediately.
func (h *Handler) CreateHeuristic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateHeuristicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, expression, and message are required",
		})
		return
	}

	severity := req.Severity
	if severity == "" {
		severity = domain.HeuristicSeverityWarning
	}
	if severity != domain.HeuristicSeverityWarning && severity != domain.HeuristicSeverityError {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "severity must be warning or error",
		})
		return
	}

	rule := &domain.HeuristicRule{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Message:     req.Message,
		Severity:    severity,
		Enabled:     req.Enabled,
	}

	if err := h.heuristics.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveHeuristicRule(ctx, GlobalTenantID, rule); err != nil {
			slog.Error("failed to save heuristic rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save heuristic rule",
			})
			return
		}
	}

	if rule.Enabled {
		if err := h.heuristics.LoadRule(rule); err != nil {
			slog.Error("failed to load heuristic rule", "id", rule.ID, "error", err)
		}
	}

	slog.Info("heuristic rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"heuristic": rule,
	})
}

// ReloadHeuristics reloads heuristics from the database into the
// engine. Builtin rules are always kept; database rules with the same
// ID override them.
func (h *Handler) ReloadHeuristics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListHeuristicRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list heuristic rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load heuristic rules from database",
		})
		return
	}

	all := append(rules.BuiltinHeuristics(), dbRules...)
	if err := h.heuristics.ReloadRules(all); err != nil {
		slog.Error("failed to reload heuristic rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload heuristic rules: " + err.Error(),
		})
		return
	}

	slog.Info("heuristic rules reloaded", "count", h.heuristics.RulesCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "heuristic rules reloaded successfully",
		"count":   h.heuristics.RulesCount(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// writeError maps repository errors to HTTP status codes.
func writeError(w http.ResponseWriter, kind, id string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": kind + " not found",
		})
	case errors.Is(err, domain.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	default:
		slog.Error("repository error", "kind", kind, "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
