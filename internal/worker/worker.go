// Package worker provides async quote processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-insurance/merlin/internal/domain"
	"github.com/opensource-insurance/merlin/internal/rating"
	"github.com/opensource-insurance/merlin/internal/validate"
)

// Worker processes quote requests asynchronously from the EventBus.
// Unlike the synchronous API path, queued requests are pre-flighted
// through the validator and rejected outright on any error finding.
type Worker struct {
	bus        domain.EventBus
	repo       domain.Repository
	calculator *rating.Calculator
	validator  *validate.Validator

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, calculator *rating.Calculator, validator *validate.Validator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:        bus,
		repo:       repo,
		calculator: calculator,
		validator:  validator,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins processing quote requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicQuoteRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicQuoteRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processQuoteRequest(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicQuoteRequested,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processQuoteRequest(ctx, msg.TenantID, msg)
}

// QuoteRequestMessage is the message payload for quote processing.
type QuoteRequestMessage struct {
	QuoteID       string               `json:"quoteId,omitempty"`
	TenantID      string               `json:"tenantId"`
	TraceID       string               `json:"traceId,omitempty"`
	InsuranceType domain.InsuranceType `json:"insuranceType"`
	Vehicle       domain.Vehicle       `json:"vehicle"`
	PolicyDate    time.Time            `json:"policyDate"`
}

// processQuoteRequest validates, prices, and persists one quote request.
func (w *Worker) processQuoteRequest(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var req QuoteRequestMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse quote request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if req.TenantID != "" {
		tenantID = req.TenantID
	}

	quoteID := req.QuoteID
	if quoteID == "" {
		quoteID = uuid.New().String()
	}

	slog.Debug("processing quote request",
		"quote_id", quoteID,
		"tenant_id", tenantID,
		"insurance_type", req.InsuranceType,
	)

	quote := &domain.Quote{
		ID:            quoteID,
		TenantID:      tenantID,
		InsuranceType: req.InsuranceType,
		Vehicle:       req.Vehicle,
		PolicyDate:    req.PolicyDate,
		CreatedAt:     time.Now().UTC(),
	}

	// Pre-flight validation. Any error finding rejects the request;
	// warnings ride along on the quote.
	result, err := w.validator.ValidateRatingFactors(ctx, tenantID, req.InsuranceType, &req.Vehicle, req.PolicyDate)
	if err != nil {
		slog.Error("quote validation failed",
			"quote_id", quoteID,
			"error", err,
		)
		return err
	}
	quote.Warnings = result.Warnings

	if !result.IsValid() {
		quote.Status = domain.QuoteStatusRejected
		quote.Reasons = result.Errors
	} else {
		breakdown, err := w.calculator.CalculatePremiumBreakdown(ctx, tenantID, req.InsuranceType, &req.Vehicle, req.PolicyDate)
		if err != nil {
			slog.Error("premium calculation failed",
				"quote_id", quoteID,
				"error", err,
			)
			return err
		}
		quote.Status = domain.QuoteStatusQuoted
		quote.Breakdown = *breakdown
	}

	if w.repo != nil {
		if err := w.repo.SaveQuote(ctx, tenantID, quote); err != nil {
			slog.Error("failed to save quote",
				"quote_id", quoteID,
				"error", err,
			)
		}
	}

	resultPayload, _ := json.Marshal(quote)
	topic := domain.TopicQuoteCompleted
	if quote.Status == domain.QuoteStatusRejected {
		topic = domain.TopicQuoteRejected
	}
	if err := w.bus.Publish(ctx, tenantID, topic, resultPayload); err != nil {
		slog.Error("failed to publish quote result",
			"quote_id", quoteID,
			"topic", topic,
			"error", err,
		)
	}

	slog.Info("quote request processed",
		"quote_id", quoteID,
		"tenant_id", tenantID,
		"status", quote.Status,
		"final_premium", quote.Breakdown.FinalPremium,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
