package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nytax/internal/metrics"
	"nytax/internal/model"
	"nytax/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// --- DTOs ---

// ComputeTaxRequest is the body of both the compute and the create-order endpoints.
// timestamp accepts RFC 3339, a zone-less local time or a date; it defaults to now.
type ComputeTaxRequest struct {
	Lat       *float64         `json:"lat" binding:"required" example:"40.7128"`
	Lon       *float64         `json:"lon" binding:"required" example:"-74.006"`
	Subtotal  *decimal.Decimal `json:"subtotal" binding:"required" swaggertype:"string" example:"100.00"`
	Timestamp string           `json:"timestamp" example:"2024-06-01T12:00:00Z"`
}

// TaxInput is a parsed computation request. A zero Timestamp means now.
type TaxInput struct {
	Lat       float64
	Lon       float64
	Subtotal  decimal.Decimal
	Timestamp time.Time
}

// Input validates the request shape; range checks happen in ComputeTax.
func (r ComputeTaxRequest) Input(cal Calendar) (TaxInput, error) {
	if r.Lat == nil {
		return TaxInput{}, invalid("lat", "is required")
	}
	if r.Lon == nil {
		return TaxInput{}, invalid("lon", "is required")
	}
	if r.Subtotal == nil {
		return TaxInput{}, invalid("subtotal", "is required")
	}
	in := TaxInput{Lat: *r.Lat, Lon: *r.Lon, Subtotal: *r.Subtotal}
	if r.Timestamp != "" {
		ts, _, err := cal.ParseInstant(r.Timestamp)
		if err != nil {
			return TaxInput{}, invalid("timestamp", "%s", err.Error())
		}
		in.Timestamp = ts
	}
	return in, nil
}

// Breakdown holds the rate contributed by each jurisdiction type. A type that did not resolve is
// invalid (JSON null); a resolved type without an effective rate contributes zero.
type Breakdown struct {
	State   decimal.NullDecimal
	County  decimal.NullDecimal
	City    decimal.NullDecimal
	Special decimal.NullDecimal
}

// TaxResult is a computed but not yet persisted order.
type TaxResult struct {
	Lat              float64
	Lon              float64
	Subtotal         decimal.Decimal
	Timestamp        time.Time
	CompositeTaxRate decimal.Decimal
	Breakdown        Breakdown
	TaxAmount        decimal.Decimal
	TotalAmount      decimal.Decimal
	Applied          []model.AppliedJurisdiction
}

// Order turns the result into an Order row; importID is nil for manual entry.
func (r TaxResult) Order(importID *uuid.UUID) model.Order {
	return model.Order{
		Latitude:         r.Lat,
		Longitude:        r.Lon,
		Subtotal:         r.Subtotal,
		Timestamp:        r.Timestamp,
		CompositeTaxRate: r.CompositeTaxRate,
		StateRate:        r.Breakdown.State,
		CountyRate:       r.Breakdown.County,
		CityRate:         r.Breakdown.City,
		SpecialRate:      r.Breakdown.Special,
		TaxAmount:        r.TaxAmount,
		TotalAmount:      r.TotalAmount,
		Jurisdictions:    datatypes.NewJSONSlice(r.Applied),
		ImportID:         importID,
	}
}

type BreakdownResponse struct {
	StateRate   *string `json:"state_rate"`
	CountyRate  *string `json:"county_rate"`
	CityRate    *string `json:"city_rate"`
	SpecialRate *string `json:"special_rate"`
}

type AppliedJurisdictionResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Rate        string `json:"rate"`
	RatePercent string `json:"rate_percent"`
}

type TaxResultResponse struct {
	Latitude                float64                       `json:"latitude"`
	Longitude               float64                       `json:"longitude"`
	Subtotal                string                        `json:"subtotal"`
	Timestamp               string                        `json:"timestamp"`
	CompositeTaxRate        string                        `json:"composite_tax_rate"`
	CompositeTaxRatePercent string                        `json:"composite_tax_rate_percent"`
	TaxAmount               string                        `json:"tax_amount"`
	TotalAmount             string                        `json:"total_amount"`
	Breakdown               BreakdownResponse             `json:"breakdown"`
	JurisdictionsApplied    []AppliedJurisdictionResponse `json:"jurisdictions_applied"`
}

type OrderResponse struct {
	ID string `json:"id"`
	TaxResultResponse
	Source    string  `json:"source"`
	ImportID  *string `json:"import_id"`
	CreatedAt string  `json:"created_at"`
}

// --- Interface ---

type TaxService interface {
	ComputeTax(ctx context.Context, in TaxInput) (*TaxResult, error)
	CreateOrder(ctx context.Context, in TaxInput, actor *uuid.UUID) (*model.Order, error)
}

// RateLookup is the part of RateService the engine needs.
type RateLookup interface {
	RateAt(ctx context.Context, jurisdictionID uuid.UUID, instant time.Time) (*model.RateInterval, error)
}

type taxService struct {
	resolver  ResolverService
	rates     RateLookup
	orderRepo repository.OrderRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
	notifier  Notifier
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewTaxService(
	resolver ResolverService,
	rates RateLookup,
	orderRepo repository.OrderRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	notifier Notifier,
	m *metrics.Metrics,
	log logrus.FieldLogger,
) TaxService {
	return &taxService{
		resolver:  resolver,
		rates:     rates,
		orderRepo: orderRepo,
		auditRepo: auditRepo,
		txManager: txManager,
		notifier:  notifierOrNop(notifier),
		metrics:   m,
		log:       log.WithField("component", "tax"),
		now:       time.Now,
	}
}

// --- Implementation ---

func (s *taxService) ComputeTax(ctx context.Context, in TaxInput) (*TaxResult, error) {
	res, err := s.compute(ctx, in)
	outcome := "ok"
	if err != nil {
		outcome = ErrorCode(err)
	}
	s.metrics.ObserveComputation(outcome)
	return res, err
}

// compute sums the effective rates of every resolved jurisdiction and rounds the tax once,
// half away from zero (half-up for the non-negative subtotals accepted here), to cents.
func (s *taxService) compute(ctx context.Context, in TaxInput) (*TaxResult, error) {
	if in.Subtotal.IsNegative() {
		return nil, invalid("subtotal", "must not be negative, got %s", in.Subtotal)
	}
	if !in.Subtotal.Equal(in.Subtotal.Round(2)) {
		return nil, invalid("subtotal", "must have at most two decimal places, got %s", in.Subtotal)
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = s.now()
	}

	resolution, err := s.resolver.Resolve(ctx, in.Lat, in.Lon)
	if err != nil {
		return nil, err
	}
	if resolution.State == nil {
		return nil, fmt.Errorf("%w (%v, %v)", ErrOutOfCoverage, in.Lat, in.Lon)
	}

	result := &TaxResult{
		Lat:              in.Lat,
		Lon:              in.Lon,
		Subtotal:         in.Subtotal,
		Timestamp:        in.Timestamp.UTC(),
		CompositeTaxRate: decimal.Zero,
	}

	for _, j := range resolution.All() {
		rate, err := s.rateFor(ctx, j, in.Timestamp)
		if err != nil {
			return nil, err
		}
		result.CompositeTaxRate = result.CompositeTaxRate.Add(rate)
		result.Applied = append(result.Applied, model.AppliedJurisdiction{ID: j.ID, Name: j.Name, Type: j.Type, Rate: rate})

		switch j.Type {
		case model.JurisdictionState:
			result.Breakdown.State = decimal.NewNullDecimal(rate)
		case model.JurisdictionCounty:
			result.Breakdown.County = decimal.NewNullDecimal(rate)
		case model.JurisdictionCity:
			result.Breakdown.City = decimal.NewNullDecimal(rate)
		case model.JurisdictionSpecial:
			result.Breakdown.Special = decimal.NewNullDecimal(result.Breakdown.Special.Decimal.Add(rate))
		}
	}

	result.TaxAmount = in.Subtotal.Mul(result.CompositeTaxRate).Round(2)
	result.TotalAmount = in.Subtotal.Add(result.TaxAmount)
	return result, nil
}

// rateFor returns the effective rate of j. Only the state is required to have one.
func (s *taxService) rateFor(ctx context.Context, j model.Jurisdiction, at time.Time) (decimal.Decimal, error) {
	iv, err := s.rates.RateAt(ctx, j.ID, at)
	if err == nil {
		return iv.Rate, nil
	}
	if errors.Is(err, ErrNoEffectiveRate) && j.Type != model.JurisdictionState {
		s.log.WithFields(logrus.Fields{
			"jurisdiction": j.Name,
			"type":         j.Type,
			"at":           at.Format(time.RFC3339),
		}).Debug("no effective rate, contributing zero")
		return decimal.Zero, nil
	}
	return decimal.Zero, err
}

func (s *taxService) CreateOrder(ctx context.Context, in TaxInput, actor *uuid.UUID) (*model.Order, error) {
	result, err := s.ComputeTax(ctx, in)
	if err != nil {
		return nil, err
	}

	order := result.Order(nil)
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.orderRepo.Create(txCtx, &order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.ActionCreateOrder, order.ID.String(), "", map[string]interface{}{
			"subtotal":     order.Subtotal,
			"tax_amount":   order.TaxAmount,
			"total_amount": order.TotalAmount,
		})
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Publish(EventOrderCreated, NewOrderResponse(order))
	return &order, nil
}

// --- Helpers ---

func nullString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	v := d.Decimal.String()
	return &v
}

func newTaxResultResponse(lat, lon float64, subtotal decimal.Decimal, ts time.Time, composite decimal.Decimal,
	state, county, city, special decimal.NullDecimal, tax, total decimal.Decimal, applied []model.AppliedJurisdiction) TaxResultResponse {
	resp := TaxResultResponse{
		Latitude:                lat,
		Longitude:               lon,
		Subtotal:                subtotal.StringFixed(2),
		Timestamp:               ts.UTC().Format(time.RFC3339),
		CompositeTaxRate:        composite.String(),
		CompositeTaxRatePercent: FractionToPercent(composite),
		TaxAmount:               tax.StringFixed(2),
		TotalAmount:             total.StringFixed(2),
		Breakdown: BreakdownResponse{
			StateRate:   nullString(state),
			CountyRate:  nullString(county),
			CityRate:    nullString(city),
			SpecialRate: nullString(special),
		},
		JurisdictionsApplied: make([]AppliedJurisdictionResponse, 0, len(applied)),
	}
	for _, a := range applied {
		resp.JurisdictionsApplied = append(resp.JurisdictionsApplied, AppliedJurisdictionResponse{
			ID:          a.ID.String(),
			Name:        a.Name,
			Type:        a.Type,
			Rate:        a.Rate.String(),
			RatePercent: FractionToPercent(a.Rate),
		})
	}
	return resp
}

func NewTaxResultResponse(r TaxResult) TaxResultResponse {
	return newTaxResultResponse(r.Lat, r.Lon, r.Subtotal, r.Timestamp, r.CompositeTaxRate,
		r.Breakdown.State, r.Breakdown.County, r.Breakdown.City, r.Breakdown.Special,
		r.TaxAmount, r.TotalAmount, r.Applied)
}

func NewOrderResponse(o model.Order) OrderResponse {
	resp := OrderResponse{
		ID: o.ID.String(),
		TaxResultResponse: newTaxResultResponse(o.Latitude, o.Longitude, o.Subtotal, o.Timestamp, o.CompositeTaxRate,
			o.StateRate, o.CountyRate, o.CityRate, o.SpecialRate, o.TaxAmount, o.TotalAmount, o.Jurisdictions),
		Source:    o.Source(),
		CreatedAt: o.CreatedAt.Format(time.RFC3339),
	}
	if o.ImportID != nil {
		id := o.ImportID.String()
		resp.ImportID = &id
	}
	return resp
}
