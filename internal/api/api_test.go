package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/opensource-insurance/merlin/internal/domain"
	"github.com/opensource-insurance/merlin/internal/rating"
	"github.com/opensource-insurance/merlin/internal/rules"
	"github.com/opensource-insurance/merlin/internal/validate"
)

// memRepo is an in-memory Repository for handler tests.
type memRepo struct {
	mu     sync.Mutex
	facts  map[string]*domain.RatingFact
	quotes map[string]*domain.Quote
	rules  map[string]*domain.HeuristicRule
}

func newMemRepo() *memRepo {
	return &memRepo{
		facts:  make(map[string]*domain.RatingFact),
		quotes: make(map[string]*domain.Quote),
		rules:  make(map[string]*domain.HeuristicRule),
	}
}

func (m *memRepo) key(tenantID, id string) string { return tenantID + "/" + id }

func (m *memRepo) SaveFact(ctx context.Context, tenantID string, fact *domain.RatingFact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *fact
	cp.TenantID = tenantID
	m.facts[m.key(tenantID, fact.ID)] = &cp
	return nil
}

func (m *memRepo) GetFact(ctx context.Context, tenantID, factID string) (*domain.RatingFact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fact, ok := m.facts[m.key(tenantID, factID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *fact
	return &cp, nil
}

func (m *memRepo) DeleteFact(ctx context.Context, tenantID, factID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fact, ok := m.facts[m.key(tenantID, factID)]
	if !ok {
		return domain.ErrNotFound
	}
	fact.Enabled = false
	return nil
}

func (m *memRepo) FactsFor(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, ratingKey string, date time.Time) ([]*domain.RatingFact, error) {
	return m.filter(tenantID, func(f *domain.RatingFact) bool {
		return f.InsuranceType == insuranceType && f.RatingKey == ratingKey && f.CoversDate(date)
	}), nil
}

func (m *memRepo) FactsOverlapping(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, ratingKey string, from time.Time, to *time.Time) ([]*domain.RatingFact, error) {
	return m.filter(tenantID, func(f *domain.RatingFact) bool {
		return f.InsuranceType == insuranceType && f.RatingKey == ratingKey && f.OverlapsWindow(from, to)
	}), nil
}

func (m *memRepo) AllCurrentlyValid(ctx context.Context, tenantID string, insuranceType domain.InsuranceType) ([]*domain.RatingFact, error) {
	return m.AllValidOnDate(ctx, tenantID, insuranceType, time.Now().UTC())
}

func (m *memRepo) AllValidOnDate(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, date time.Time) ([]*domain.RatingFact, error) {
	return m.filter(tenantID, func(f *domain.RatingFact) bool {
		return f.InsuranceType == insuranceType && f.CoversDate(date)
	}), nil
}

func (m *memRepo) filter(tenantID string, keep func(*domain.RatingFact) bool) []*domain.RatingFact {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.RatingFact
	for _, f := range m.facts {
		if f.TenantID == tenantID && f.Enabled && keep(f) {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memRepo) SaveQuote(ctx context.Context, tenantID string, quote *domain.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *quote
	m.quotes[m.key(tenantID, quote.ID)] = &cp
	return nil
}

func (m *memRepo) GetQuote(ctx context.Context, tenantID, quoteID string) (*domain.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	quote, ok := m.quotes[m.key(tenantID, quoteID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *quote
	return &cp, nil
}

func (m *memRepo) SaveHeuristicRule(ctx context.Context, tenantID string, rule *domain.HeuristicRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rule
	m.rules[m.key(tenantID, rule.ID)] = &cp
	return nil
}

func (m *memRepo) ListHeuristicRules(ctx context.Context, tenantID string) ([]*domain.HeuristicRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.HeuristicRule
	for _, r := range m.rules {
		if r.TenantID == tenantID && r.Enabled {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) Ping(ctx context.Context) error { return nil }
func (m *memRepo) Close() error                   { return nil }

// newTestServer builds a server over the given repository with the
// reference configuration and builtin heuristics.
func newTestServer(repo domain.Repository) *Server {
	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	deriver := rating.NewDeriver(domain.DefaultRatingConfig())
	engine, _ := rules.NewEngine()
	engine.LoadRules(rules.BuiltinHeuristics())
	validator := validate.NewValidator(repo, deriver, engine, domain.DefaultValidationConfig())
	calculator := rating.NewCalculator(repo, deriver, domain.DefaultRatingConfig(), nil)

	return NewServer(cfg, repo, nil, nil, nil, calculator, validator, engine, "test-v1")
}

// seedOCFacts stores a 0.9 multiplier for every key the test vehicle
// derives under OC: VEHICLE_AGE_5, ENGINE_MEDIUM, POWER_MEDIUM,
// OC_STANDARD on the test policy date.
func seedOCFacts(t *testing.T, repo *memRepo, tenantID string) {
	t.Helper()
	validFrom := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, key := range []string{"VEHICLE_AGE_5", "ENGINE_MEDIUM", "POWER_MEDIUM", "OC_STANDARD"} {
		fact := &domain.RatingFact{
			ID:            "seed-" + key,
			InsuranceType: domain.InsuranceTypeOC,
			RatingKey:     key,
			Multiplier:    0.9,
			ValidFrom:     validFrom,
			Enabled:       true,
		}
		if err := repo.SaveFact(context.Background(), tenantID, fact); err != nil {
			t.Fatalf("failed to seed fact %s: %v", key, err)
		}
	}
}

func testQuoteBody() QuoteRequest {
	return QuoteRequest{
		InsuranceType: "OC",
		Vehicle: VehicleInfo{
			Make:                  "Skoda",
			Model:                 "Octavia",
			YearOfManufacture:     2021,
			FirstRegistrationDate: "2021-03-15",
			EngineCapacity:        1498,
			Power:                 110,
		},
		PolicyDate: "2026-06-01",
	}
}

func doRequest(server *Server, method, path, tenantID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestQuoteEndpoint(t *testing.T) {
	repo := newMemRepo()
	seedOCFacts(t, repo, "tenant-001")
	server := newTestServer(repo)

	t.Run("SuccessfulQuote", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/quotes", "tenant-001", testQuoteBody())

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp QuoteResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.QuoteID == "" {
			t.Error("expected quoteId in response")
		}
		if resp.Status != domain.QuoteStatusQuoted {
			t.Errorf("expected status QUOTED, got %s", resp.Status)
		}
		if resp.Breakdown == nil {
			t.Fatal("expected breakdown in response")
		}
		// 800 * 0.9^4 rounded to 524.88
		if resp.Breakdown.FinalPremium != 524.88 {
			t.Errorf("expected final premium 524.88, got %v", resp.Breakdown.FinalPremium)
		}
		if len(resp.Breakdown.Factors) != 4 {
			t.Errorf("expected 4 factors, got %d", len(resp.Breakdown.Factors))
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}

		// The quote must be retrievable afterwards.
		rr = doRequest(server, http.MethodGet, "/quotes/"+resp.QuoteID, "tenant-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200 on retrieval, got %d", rr.Code)
		}
		var stored domain.Quote
		if err := json.Unmarshal(rr.Body.Bytes(), &stored); err != nil {
			t.Fatalf("failed to parse stored quote: %v", err)
		}
		if stored.Status != domain.QuoteStatusQuoted {
			t.Errorf("expected stored status QUOTED, got %s", stored.Status)
		}
		if stored.Vehicle.Make != "Skoda" {
			t.Errorf("expected vehicle snapshot in stored quote, got make %q", stored.Vehicle.Make)
		}
	})

	t.Run("RejectedQuoteForOldACVehicle", func(t *testing.T) {
		body := testQuoteBody()
		body.InsuranceType = "AC"
		body.Vehicle.FirstRegistrationDate = "2005-03-15"
		body.Vehicle.YearOfManufacture = 2005

		rr := doRequest(server, http.MethodPost, "/quotes", "tenant-001", body)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp QuoteResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Status != domain.QuoteStatusRejected {
			t.Fatalf("expected status REJECTED, got %s", resp.Status)
		}
		if resp.Breakdown != nil {
			t.Error("expected no breakdown on rejection")
		}
		if len(resp.Reasons) == 0 {
			t.Fatal("expected rejection reasons")
		}
	})

	t.Run("QuoteIsTenantScoped", func(t *testing.T) {
		// tenant-002 has no facts; every factor is reported missing.
		rr := doRequest(server, http.MethodPost, "/quotes", "tenant-002", testQuoteBody())

		var resp QuoteResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Status != domain.QuoteStatusRejected {
			t.Errorf("expected status REJECTED for unseeded tenant, got %s", resp.Status)
		}
		if len(resp.Reasons) != 4 {
			t.Errorf("expected 4 missing-factor reasons, got %d: %v", len(resp.Reasons), resp.Reasons)
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/quotes", "", testQuoteBody())
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/quotes", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownInsuranceType", func(t *testing.T) {
		body := testQuoteBody()
		body.InsuranceType = "CASCO"
		rr := doRequest(server, http.MethodPost, "/quotes", "tenant-001", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MalformedPolicyDate", func(t *testing.T) {
		body := testQuoteBody()
		body.PolicyDate = "01.06.2026"
		rr := doRequest(server, http.MethodPost, "/quotes", "tenant-001", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("QuoteNotFound", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/quotes/no-such-quote", "tenant-001", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/quotes", "tenant-001", testQuoteBody())

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestValidateQuoteEndpoint(t *testing.T) {
	repo := newMemRepo()
	seedOCFacts(t, repo, "tenant-001")
	server := newTestServer(repo)

	t.Run("ValidRequest", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/quotes/validate", "tenant-001", testQuoteBody())

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ValidateQuoteResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if !resp.Valid {
			t.Errorf("expected valid, got errors: %v", resp.Errors)
		}
	})

	t.Run("MissingFactorsReported", func(t *testing.T) {
		body := testQuoteBody()
		body.InsuranceType = "NNW" // no NNW facts seeded

		rr := doRequest(server, http.MethodPost, "/quotes/validate", "tenant-001", body)

		var resp ValidateQuoteResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Valid {
			t.Fatal("expected invalid result")
		}
		if len(resp.Errors) != 4 {
			t.Errorf("expected 4 missing-factor errors, got %d: %v", len(resp.Errors), resp.Errors)
		}
		for _, msg := range resp.Errors {
			if !validate.IsMissingFactorError(msg) {
				t.Errorf("expected missing-factor error, got %q", msg)
			}
		}
	})

	t.Run("ValidationDoesNotPersist", func(t *testing.T) {
		doRequest(server, http.MethodPost, "/quotes/validate", "tenant-001", testQuoteBody())

		repo.mu.Lock()
		defer repo.mu.Unlock()
		if len(repo.quotes) != 0 {
			t.Errorf("expected no quotes persisted by validate, found %d", len(repo.quotes))
		}
	})
}

func TestFactEndpoints(t *testing.T) {
	server := newTestServer(newMemRepo())

	createFact := func(t *testing.T, tenantID string, body CreateFactRequest) *httptest.ResponseRecorder {
		t.Helper()
		return doRequest(server, http.MethodPost, "/facts", tenantID, body)
	}

	t.Run("CreateAndGetFact", func(t *testing.T) {
		rr := createFact(t, "tenant-a", CreateFactRequest{
			ID:            "fact-001",
			InsuranceType: "OC",
			RatingKey:     "ENGINE_MEDIUM",
			Multiplier:    1.15,
			ValidFrom:     "2026-01-01",
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doRequest(server, http.MethodGet, "/facts/fact-001", "tenant-a", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var fact domain.RatingFact
		if err := json.Unmarshal(rr.Body.Bytes(), &fact); err != nil {
			t.Fatalf("failed to parse fact: %v", err)
		}
		if fact.Multiplier != 1.15 {
			t.Errorf("expected multiplier 1.15, got %v", fact.Multiplier)
		}
		if !fact.Enabled {
			t.Error("expected fact to default to enabled")
		}
	})

	t.Run("MultiplierBelowMinimumBlocked", func(t *testing.T) {
		rr := createFact(t, "tenant-a", CreateFactRequest{
			InsuranceType: "OC",
			RatingKey:     "POWER_HIGH",
			Multiplier:    0.05,
			ValidFrom:     "2026-01-01",
		})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("OverlapReturnsWarning", func(t *testing.T) {
		rr := createFact(t, "tenant-b", CreateFactRequest{
			ID:            "fact-base",
			InsuranceType: "OC",
			RatingKey:     "VEHICLE_AGE_3",
			Multiplier:    1.0,
			ValidFrom:     "2026-01-01",
			ValidTo:       "2026-12-31",
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = createFact(t, "tenant-b", CreateFactRequest{
			ID:            "fact-overlap",
			InsuranceType: "OC",
			RatingKey:     "VEHICLE_AGE_3",
			Multiplier:    1.1,
			ValidFrom:     "2026-06-01",
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Warnings []string `json:"warnings"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if len(resp.Warnings) != 1 {
			t.Errorf("expected 1 overlap warning, got %d: %v", len(resp.Warnings), resp.Warnings)
		}
	})

	t.Run("MissingValidFrom", func(t *testing.T) {
		rr := createFact(t, "tenant-a", CreateFactRequest{
			InsuranceType: "OC",
			RatingKey:     "ENGINE_SMALL",
			Multiplier:    1.0,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("ListFactsByDate", func(t *testing.T) {
		for i, validFrom := range []string{"2026-01-01", "2027-01-01"} {
			rr := createFact(t, "tenant-c", CreateFactRequest{
				ID:            fmt.Sprintf("fact-list-%d", i),
				InsuranceType: "AC",
				RatingKey:     "AC_COMPREHENSIVE",
				Multiplier:    1.2,
				ValidFrom:     validFrom,
				ValidTo:       validFrom[:4] + "-12-31",
			})
			if rr.Code != http.StatusCreated {
				t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
			}
		}

		rr := doRequest(server, http.MethodGet, "/facts?type=AC&validOn=2026-06-01", "tenant-c", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 fact valid on 2026-06-01, got %d", resp.Count)
		}
	})

	t.Run("ListFactsRequiresType", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/facts", "tenant-a", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("DeleteFactDisables", func(t *testing.T) {
		rr := createFact(t, "tenant-d", CreateFactRequest{
			ID:            "fact-del",
			InsuranceType: "OC",
			RatingKey:     "OC_STANDARD",
			Multiplier:    1.0,
			ValidFrom:     "2026-01-01",
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doRequest(server, http.MethodDelete, "/facts/fact-del", "tenant-d", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		// Still retrievable for audit, but disabled and excluded from listings.
		rr = doRequest(server, http.MethodGet, "/facts/fact-del", "tenant-d", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var fact domain.RatingFact
		json.Unmarshal(rr.Body.Bytes(), &fact)
		if fact.Enabled {
			t.Error("expected fact to be disabled after delete")
		}

		rr = doRequest(server, http.MethodGet, "/facts?type=OC&validOn=2026-06-01", "tenant-d", nil)
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 0 {
			t.Errorf("expected disabled fact excluded from listing, got count %d", resp.Count)
		}
	})

	t.Run("DeleteUnknownFact", func(t *testing.T) {
		rr := doRequest(server, http.MethodDelete, "/facts/no-such-fact", "tenant-a", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("FactsAreTenantScoped", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/facts/fact-001", "tenant-z", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 for other tenant, got %d", rr.Code)
		}
	})
}

func TestHeuristicEndpoints(t *testing.T) {
	repo := newMemRepo()
	server := newTestServer(repo)
	builtinCount := len(rules.BuiltinHeuristics())

	t.Run("ListBuiltins", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/heuristics", "tenant-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != builtinCount {
			t.Errorf("expected %d builtin heuristics, got %d", builtinCount, resp.Count)
		}
	})

	t.Run("CreateHeuristic", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/heuristics", "tenant-001", CreateHeuristicRequest{
			ID:         "tuned-sports-car",
			Name:       "Tuned sports car",
			Expression: "power > 400 && engine_capacity < 2000",
			Message:    "Power output is implausible for the engine size",
			Enabled:    true,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doRequest(server, http.MethodGet, "/heuristics", "tenant-001", nil)
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != builtinCount+1 {
			t.Errorf("expected %d heuristics after create, got %d", builtinCount+1, resp.Count)
		}
	})

	t.Run("InvalidExpressionRejected", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/heuristics", "tenant-001", CreateHeuristicRequest{
			ID:         "broken",
			Name:       "Broken rule",
			Expression: "power >>> 100",
			Message:    "never",
			Enabled:    true,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("NonBoolExpressionRejected", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/heuristics", "tenant-001", CreateHeuristicRequest{
			ID:         "not-bool",
			Name:       "Not a predicate",
			Expression: "power + 1",
			Message:    "never",
			Enabled:    true,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("InvalidSeverityRejected", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/heuristics", "tenant-001", CreateHeuristicRequest{
			ID:         "bad-severity",
			Name:       "Bad severity",
			Expression: "power > 100",
			Message:    "never",
			Severity:   "fatal",
			Enabled:    true,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("ReloadKeepsBuiltinsAndDatabaseRules", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/heuristics/reload", "tenant-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		// The rule created above was saved globally and survives reload.
		if resp.Count != builtinCount+1 {
			t.Errorf("expected %d heuristics after reload, got %d", builtinCount+1, resp.Count)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(newMemRepo())

	t.Run("HealthCheck", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/health", "", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/ready", "", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
