package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nytax/internal/model"
	"nytax/internal/repository"
	"nytax/internal/spatial"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// --- DTOs ---

type SeedResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// RateSeedFile is the YAML layout of a rate seed:
//
//	rates:
//	  - code: "36"
//	    rate_percent: "4"
//	    effective_date: "2020-01-01"
type RateSeedFile struct {
	Rates []RateSeed `yaml:"rates"`
}

type RateSeed struct {
	Code          string `yaml:"code"`
	RatePercent   string `yaml:"rate_percent"`
	EffectiveDate string `yaml:"effective_date"`
}

// --- Interface ---

type JurisdictionService interface {
	SeedFromGeoJSON(ctx context.Context, data []byte, actor *uuid.UUID) (*SeedResult, error)
	SeedRates(ctx context.Context, data []byte, actor *uuid.UUID) (*SeedResult, error)
	List(ctx context.Context, jurisdictionType string) ([]JurisdictionResponse, error)
	Get(ctx context.Context, id uuid.UUID) (*JurisdictionResponse, error)
}

type jurisdictionService struct {
	jurisdictionRepo repository.JurisdictionRepository
	rateRepo         repository.RateRepository
	auditRepo        repository.AuditRepository
	txManager        repository.TransactionManager
	rates            RateService
	log              logrus.FieldLogger
}

func NewJurisdictionService(
	jurisdictionRepo repository.JurisdictionRepository,
	rateRepo repository.RateRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	rates RateService,
	log logrus.FieldLogger,
) JurisdictionService {
	return &jurisdictionService{
		jurisdictionRepo: jurisdictionRepo,
		rateRepo:         rateRepo,
		auditRepo:        auditRepo,
		txManager:        txManager,
		rates:            rates,
		log:              log.WithField("component", "jurisdictions"),
	}
}

// --- Implementation ---

// SeedFromGeoJSON inserts every feature whose code is not stored yet and simplifies its boundary
// with spatial.SimplifyTolerance. Existing jurisdictions are left untouched.
func (s *jurisdictionService) SeedFromGeoJSON(ctx context.Context, data []byte, actor *uuid.UUID) (*SeedResult, error) {
	features, err := spatial.ParseFeatureCollection(data)
	if err != nil {
		return nil, invalid("geojson", "%s", err.Error())
	}
	for _, f := range features {
		if !model.ValidJurisdictionType(f.Type) {
			return nil, invalid("geojson", "feature %s has unknown type %q", f.Code, f.Type)
		}
	}

	var result SeedResult
	for _, f := range features {
		_, err := s.jurisdictionRepo.FindByCode(ctx, f.Code)
		if err == nil {
			result.Skipped++
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up jurisdiction %s: %w", f.Code, err)
		}

		j := model.Jurisdiction{Code: f.Code, Name: f.Name, Type: f.Type, Geometry: spatial.EWKT(f.Shape)}
		err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
			if err := s.jurisdictionRepo.Create(txCtx, &j); err != nil {
				return fmt.Errorf("failed to create jurisdiction %s: %w", f.Code, err)
			}
			if err := s.jurisdictionRepo.Simplify(txCtx, j.ID, spatial.SimplifyTolerance); err != nil {
				return fmt.Errorf("failed to simplify jurisdiction %s: %w", f.Code, err)
			}
			return writeAudit(txCtx, s.auditRepo, actor, model.ActionSeedJurisdiction, j.ID.String(), j.Name, map[string]string{
				"code": j.Code,
				"type": j.Type,
			})
		})
		if err != nil {
			return nil, err
		}
		result.Created++
	}

	s.log.WithFields(logrus.Fields{"created": result.Created, "skipped": result.Skipped}).Info("jurisdictions seeded")
	return &result, nil
}

// SeedRates applies each seed through SetRate, in file order, so seeds land in the ledger too.
// A seed matching an interval already on the timeline (same start, same rate) is skipped, so a
// file holding a whole history can be applied again.
func (s *jurisdictionService) SeedRates(ctx context.Context, data []byte, actor *uuid.UUID) (*SeedResult, error) {
	var file RateSeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, invalid("rates", "malformed yaml: %v", err)
	}

	var result SeedResult
	for i, seed := range file.Rates {
		field := fmt.Sprintf("rates[%d]", i)
		pct, err := decimal.NewFromString(strings.TrimSpace(seed.RatePercent))
		if err != nil {
			return nil, invalid(field, "rate_percent %q is not a decimal", seed.RatePercent)
		}
		day, err := ParseDate(seed.EffectiveDate)
		if err != nil {
			return nil, invalid(field, "%s", err.Error())
		}
		j, err := s.jurisdictionRepo.FindByCode(ctx, seed.Code)
		if err != nil {
			return nil, lookupErr(err, "jurisdiction", seed.Code)
		}

		rate := PercentToFraction(pct)
		timeline, err := s.rateRepo.ListByJurisdiction(ctx, j.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load rate timeline of %s: %w", seed.Code, err)
		}
		if seeded(timeline, day, rate) {
			result.Skipped++
			continue
		}

		if _, err := s.rates.SetRate(ctx, SetRateInput{JurisdictionID: j.ID, Rate: rate, EffectiveDate: day, ActorID: actor}); err != nil {
			return nil, fmt.Errorf("%s %s: %w", field, seed.Code, err)
		}
		result.Created++
	}
	return &result, nil
}

func seeded(timeline []model.RateInterval, day time.Time, rate decimal.Decimal) bool {
	for _, iv := range timeline {
		if iv.ValidFrom.Equal(day) && iv.Rate.Equal(rate) {
			return true
		}
	}
	return false
}

func (s *jurisdictionService) List(ctx context.Context, jurisdictionType string) ([]JurisdictionResponse, error) {
	if jurisdictionType != "" && !model.ValidJurisdictionType(jurisdictionType) {
		return nil, invalid("type", "must be state, county, city or special, got %q", jurisdictionType)
	}
	items, err := s.jurisdictionRepo.List(ctx, jurisdictionType)
	if err != nil {
		return nil, fmt.Errorf("failed to list jurisdictions: %w", err)
	}
	res := make([]JurisdictionResponse, 0, len(items))
	for _, j := range items {
		res = append(res, NewJurisdictionResponse(j))
	}
	return res, nil
}

func (s *jurisdictionService) Get(ctx context.Context, id uuid.UUID) (*JurisdictionResponse, error) {
	j, err := s.jurisdictionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "jurisdiction", id)
	}
	resp := NewJurisdictionResponse(*j)
	return &resp, nil
}
