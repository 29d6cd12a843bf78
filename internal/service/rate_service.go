package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nytax/internal/metrics"
	"nytax/internal/model"
	"nytax/internal/repository"
	"nytax/pkg/pagination"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// --- DTOs ---

// SetRateRequest takes the new rate as a percentage: 8.875 means 8.875 %.
type SetRateRequest struct {
	NewRate       *decimal.Decimal `json:"new_rate" binding:"required" swaggertype:"number" example:"4.5"`
	EffectiveDate string           `json:"effective_date" binding:"required" example:"2024-06-01"`
	// ExpectedHeadID is the current interval the change was based on. The zero uuid means "no rate yet".
	ExpectedHeadID *uuid.UUID `json:"expected_head_id,omitempty" swaggertype:"string" format:"uuid"`
}

// SetRateInput is a validated rate change; Rate is a fraction (0.045).
type SetRateInput struct {
	JurisdictionID uuid.UUID
	Rate           decimal.Decimal
	EffectiveDate  time.Time
	ActorID        *uuid.UUID
	// ExpectedHeadID pins the head the change supersedes; uuid.Nil expects an empty timeline.
	// When nil, SetRate reads the head before taking the lock.
	ExpectedHeadID *uuid.UUID
}

// Input converts the percentage request into a SetRateInput.
func (r SetRateRequest) Input(jurisdictionID uuid.UUID, actor *uuid.UUID) (SetRateInput, error) {
	if r.NewRate == nil {
		return SetRateInput{}, invalid("new_rate", "is required")
	}
	day, err := ParseDate(r.EffectiveDate)
	if err != nil {
		return SetRateInput{}, invalid("effective_date", "%s", err.Error())
	}
	return SetRateInput{
		JurisdictionID: jurisdictionID,
		Rate:           PercentToFraction(*r.NewRate),
		EffectiveDate:  day,
		ActorID:        actor,
		ExpectedHeadID: r.ExpectedHeadID,
	}, nil
}

type RateIntervalResponse struct {
	ID             string  `json:"id"`
	JurisdictionID string  `json:"jurisdiction_id"`
	Rate           string  `json:"rate"`
	RatePercent    string  `json:"rate_percent"`
	ValidFrom      string  `json:"valid_from"`
	ValidTo        *string `json:"valid_to"`
}

type MutationResponse struct {
	ID             string  `json:"id"`
	Sequence       int64   `json:"sequence"`
	JurisdictionID string  `json:"jurisdiction_id"`
	Kind           string  `json:"kind"`
	OldRate        *string `json:"old_rate"`
	NewRate        *string `json:"new_rate"`
	OldRatePercent *string `json:"old_rate_percent"`
	NewRatePercent *string `json:"new_rate_percent"`
	EffectiveDate  string  `json:"effective_date"`
	RevertsID      *string `json:"reverts_id"`
	Status         string  `json:"status"` // active, reverted, revert
	Revertible     bool    `json:"revertible"`
	ActorID        *string `json:"actor_id"`
	CreatedAt      string  `json:"created_at"`
}

// Mutation statuses
const (
	MutationStatusActive   = "active"
	MutationStatusReverted = "reverted"
	MutationStatusRevert   = "revert"
)

// --- Interface ---

type RateService interface {
	RateAt(ctx context.Context, jurisdictionID uuid.UUID, instant time.Time) (*model.RateInterval, error)
	SetRate(ctx context.Context, in SetRateInput) (*model.RateMutation, error)
	RevertLastMutation(ctx context.Context, jurisdictionID uuid.UUID, actor *uuid.UUID) (*model.RateMutation, error)
	RevertMutation(ctx context.Context, mutationID uuid.UUID, actor *uuid.UUID) (*model.RateMutation, error)
	History(ctx context.Context, jurisdictionID uuid.UUID) ([]RateIntervalResponse, error)
	ListMutations(ctx context.Context, jurisdictionID uuid.UUID, page, limit int) ([]MutationResponse, int64, error)
}

type rateService struct {
	jurisdictionRepo repository.JurisdictionRepository
	rateRepo         repository.RateRepository
	mutationRepo     repository.MutationRepository
	auditRepo        repository.AuditRepository
	txManager        repository.TransactionManager
	calendar         Calendar
	notifier         Notifier
	metrics          *metrics.Metrics
	log              logrus.FieldLogger
}

func NewRateService(
	jurisdictionRepo repository.JurisdictionRepository,
	rateRepo repository.RateRepository,
	mutationRepo repository.MutationRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	calendar Calendar,
	notifier Notifier,
	m *metrics.Metrics,
	log logrus.FieldLogger,
) RateService {
	return &rateService{
		jurisdictionRepo: jurisdictionRepo,
		rateRepo:         rateRepo,
		mutationRepo:     mutationRepo,
		auditRepo:        auditRepo,
		txManager:        txManager,
		calendar:         calendar,
		notifier:         notifierOrNop(notifier),
		metrics:          m,
		log:              log.WithField("component", "rates"),
	}
}

// --- Implementation ---

// RateAt returns the interval in effect on the tax-calendar date of instant.
func (s *rateService) RateAt(ctx context.Context, jurisdictionID uuid.UUID, instant time.Time) (*model.RateInterval, error) {
	day := s.calendar.Day(instant)
	intervals, err := s.rateRepo.FindEffective(ctx, jurisdictionID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query effective rate: %w", err)
	}

	switch len(intervals) {
	case 0:
		return nil, &NoEffectiveRateError{JurisdictionID: jurisdictionID, Name: s.jurisdictionName(ctx, jurisdictionID), Date: day}
	case 1:
		return &intervals[0], nil
	default:
		s.log.WithFields(logrus.Fields{
			"jurisdiction_id": jurisdictionID,
			"date":            day.Format(model.DateLayout),
			"first":           intervals[0].ID,
			"second":          intervals[1].ID,
		}).Error("overlapping rate intervals")
		return nil, fmt.Errorf("%w: %d intervals effective for %s on %s",
			ErrInvariantViolation, len(intervals), jurisdictionID, day.Format(model.DateLayout))
	}
}

func (s *rateService) jurisdictionName(ctx context.Context, id uuid.UUID) string {
	if j, err := s.jurisdictionRepo.FindByID(ctx, id); err == nil {
		return j.Name
	}
	return id.String()
}

// SetRate closes the head interval at the effective date and opens a new head, recording a SET
// entry in the ledger. The jurisdiction row lock serializes writers; the exclusion constraint is the
// backstop. A writer whose observed head was superseded while it waited for the lock gets
// ErrRateConflict.
func (s *rateService) SetRate(ctx context.Context, in SetRateInput) (*model.RateMutation, error) {
	if in.Rate.IsNegative() || in.Rate.GreaterThanOrEqual(one) {
		return nil, invalid("new_rate", "must be at least 0%% and below 100%%, got %s%%", FractionToPercent(in.Rate))
	}
	effective := time.Date(in.EffectiveDate.Year(), in.EffectiveDate.Month(), in.EffectiveDate.Day(), 0, 0, 0, 0, time.UTC)

	observed := uuid.Nil
	if in.ExpectedHeadID != nil {
		observed = *in.ExpectedHeadID
	} else {
		head, err := s.rateRepo.FindHead(ctx, in.JurisdictionID)
		switch {
		case err == nil:
			observed = head.ID
		case !errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("failed to load current rate: %w", err)
		}
	}

	var mutation model.RateMutation
	var jurisdiction *model.Jurisdiction
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		j, err := s.jurisdictionRepo.LockByID(txCtx, in.JurisdictionID)
		if err != nil {
			return lookupErr(err, "jurisdiction", in.JurisdictionID)
		}
		jurisdiction = j

		mutation = model.RateMutation{
			JurisdictionID: j.ID,
			Kind:           model.MutationSet,
			NewRate:        decimal.NewNullDecimal(in.Rate),
			EffectiveDate:  effective,
			ActorID:        in.ActorID,
		}

		head, err := s.rateRepo.FindHead(txCtx, j.ID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			head = nil
		case err != nil:
			return fmt.Errorf("failed to load current rate: %w", err)
		}

		current := uuid.Nil
		if head != nil {
			current = head.ID
		}
		if current != observed {
			return fmt.Errorf("%w: the current rate changed to %s while this change expected %s",
				ErrRateConflict, headLabel(current), headLabel(observed))
		}

		if head != nil {
			if !effective.After(head.ValidFrom) {
				return fmt.Errorf("%w: effective date %s must be after %s, the start of the current rate",
					ErrRateConflict, effective.Format(model.DateLayout), head.ValidFrom.Format(model.DateLayout))
			}
			if err := s.rateRepo.SetValidTo(txCtx, head.ID, &effective); err != nil {
				return conflictErr(err, "failed to close current rate")
			}
			mutation.OldRate = decimal.NewNullDecimal(head.Rate)
		}

		interval := &model.RateInterval{
			JurisdictionID: j.ID,
			Rate:           in.Rate,
			ValidFrom:      effective,
		}
		if err := s.rateRepo.Create(txCtx, interval); err != nil {
			return conflictErr(err, "failed to open new rate")
		}

		if err := s.mutationRepo.Append(txCtx, &mutation); err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}

		return writeAudit(txCtx, s.auditRepo, in.ActorID, model.ActionSetRate, j.ID.String(), j.Name, map[string]interface{}{
			"mutation_id":    mutation.ID,
			"old_rate":       mutation.OldRate,
			"new_rate":       in.Rate,
			"effective_date": effective.Format(model.DateLayout),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveMutation(model.MutationSet)
	s.log.WithFields(logrus.Fields{
		"jurisdiction": jurisdiction.Name,
		"rate":         in.Rate.String(),
		"effective":    effective.Format(model.DateLayout),
	}).Info("rate set")
	s.notifier.Publish(EventRateChanged, NewMutationResponse(mutation, false, false))
	return &mutation, nil
}

func headLabel(id uuid.UUID) string {
	if id == uuid.Nil {
		return "none"
	}
	return id.String()
}

func conflictErr(err error, msg string) error {
	if errors.Is(err, repository.ErrOverlap) {
		return fmt.Errorf("%w: %s: %v", ErrRateConflict, msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func (s *rateService) RevertLastMutation(ctx context.Context, jurisdictionID uuid.UUID, actor *uuid.UUID) (*model.RateMutation, error) {
	return s.revert(ctx, jurisdictionID, func(txCtx context.Context) (*model.RateMutation, error) {
		latest, err := s.mutationRepo.FindLatest(txCtx, jurisdictionID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: jurisdiction has no rate mutations", ErrNotRevertible)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load latest mutation: %w", err)
		}
		return latest, nil
	}, actor)
}

func (s *rateService) RevertMutation(ctx context.Context, mutationID uuid.UUID, actor *uuid.UUID) (*model.RateMutation, error) {
	target, err := s.mutationRepo.FindByID(ctx, mutationID)
	if err != nil {
		return nil, lookupErr(err, "rate mutation", mutationID)
	}
	return s.revert(ctx, target.JurisdictionID, func(txCtx context.Context) (*model.RateMutation, error) {
		return s.mutationRepo.FindByID(txCtx, mutationID)
	}, actor)
}

// revert undoes the SET returned by pick. Only the newest ledger entry of the jurisdiction
// qualifies, and only when the timeline still matches what that SET wrote.
func (s *rateService) revert(ctx context.Context, jurisdictionID uuid.UUID, pick func(context.Context) (*model.RateMutation, error), actor *uuid.UUID) (*model.RateMutation, error) {
	var entry model.RateMutation
	var jurisdiction *model.Jurisdiction
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		j, err := s.jurisdictionRepo.LockByID(txCtx, jurisdictionID)
		if err != nil {
			return lookupErr(err, "jurisdiction", jurisdictionID)
		}
		jurisdiction = j

		target, err := pick(txCtx)
		if err != nil {
			return err
		}
		latest, err := s.mutationRepo.FindLatest(txCtx, j.ID)
		if err != nil {
			return fmt.Errorf("failed to load latest mutation: %w", err)
		}
		if latest.ID != target.ID {
			return fmt.Errorf("%w: only the most recent mutation (#%d) can be reverted, not #%d",
				ErrNotRevertible, latest.Sequence, target.Sequence)
		}
		if target.Kind != model.MutationSet {
			return fmt.Errorf("%w: mutation #%d is itself a revert", ErrNotRevertible, target.Sequence)
		}

		head, err := s.rateRepo.FindHead(txCtx, j.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: jurisdiction has no open rate", ErrNotRevertible)
		}
		if err != nil {
			return fmt.Errorf("failed to load current rate: %w", err)
		}
		if !head.ValidFrom.Equal(target.EffectiveDate) || !head.Rate.Equal(target.NewRate.Decimal) {
			return fmt.Errorf("%w: current rate does not match mutation #%d", ErrNotRevertible, target.Sequence)
		}

		prev, err := s.rateRepo.FindEndingAt(txCtx, j.ID, head.ValidFrom)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			prev = nil
		case err != nil:
			return fmt.Errorf("failed to load previous rate: %w", err)
		}
		if (prev == nil) == target.OldRate.Valid || (prev != nil && !prev.Rate.Equal(target.OldRate.Decimal)) {
			return fmt.Errorf("%w: previous rate does not match mutation #%d", ErrNotRevertible, target.Sequence)
		}

		if err := s.rateRepo.Delete(txCtx, head.ID); err != nil {
			return fmt.Errorf("failed to delete current rate: %w", err)
		}
		if prev != nil {
			if err := s.rateRepo.SetValidTo(txCtx, prev.ID, nil); err != nil {
				return conflictErr(err, "failed to reopen previous rate")
			}
		}

		revertsID := target.ID
		entry = model.RateMutation{
			JurisdictionID: j.ID,
			Kind:           model.MutationRevert,
			OldRate:        target.NewRate,
			NewRate:        target.OldRate,
			EffectiveDate:  target.EffectiveDate,
			RevertsID:      &revertsID,
			ActorID:        actor,
		}
		if err := s.mutationRepo.Append(txCtx, &entry); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return fmt.Errorf("%w: mutation #%d was already reverted", ErrNotRevertible, target.Sequence)
			}
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}

		return writeAudit(txCtx, s.auditRepo, actor, model.ActionRevertRate, j.ID.String(), j.Name, map[string]interface{}{
			"mutation_id":    entry.ID,
			"reverts_id":     target.ID,
			"restored_rate":  target.OldRate,
			"effective_date": target.EffectiveDate.Format(model.DateLayout),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveMutation(model.MutationRevert)
	s.log.WithFields(logrus.Fields{
		"jurisdiction": jurisdiction.Name,
		"reverts":      entry.RevertsID,
	}).Info("rate mutation reverted")
	s.notifier.Publish(EventRateReverted, NewMutationResponse(entry, false, false))
	return &entry, nil
}

func (s *rateService) History(ctx context.Context, jurisdictionID uuid.UUID) ([]RateIntervalResponse, error) {
	if _, err := s.jurisdictionRepo.FindByID(ctx, jurisdictionID); err != nil {
		return nil, lookupErr(err, "jurisdiction", jurisdictionID)
	}
	intervals, err := s.rateRepo.ListByJurisdiction(ctx, jurisdictionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rates: %w", err)
	}

	res := make([]RateIntervalResponse, 0, len(intervals))
	for _, iv := range intervals {
		res = append(res, NewRateIntervalResponse(iv))
	}
	return res, nil
}

// ListMutations returns the ledger newest first. A SET is "reverted" once a REVERT points at it;
// only the newest entry can be revertible.
func (s *rateService) ListMutations(ctx context.Context, jurisdictionID uuid.UUID, page, limit int) ([]MutationResponse, int64, error) {
	if _, err := s.jurisdictionRepo.FindByID(ctx, jurisdictionID); err != nil {
		return nil, 0, lookupErr(err, "jurisdiction", jurisdictionID)
	}

	p := pagination.Normalize(page, limit)
	entries, total, err := s.mutationRepo.ListByJurisdiction(ctx, jurisdictionID, p.Page, p.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list mutations: %w", err)
	}

	setIDs := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		if e.Kind == model.MutationSet {
			setIDs = append(setIDs, e.ID)
		}
	}
	reverted, err := s.mutationRepo.RevertedIDs(ctx, setIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load revert status: %w", err)
	}

	var latestID uuid.UUID
	if latest, err := s.mutationRepo.FindLatest(ctx, jurisdictionID); err == nil {
		latestID = latest.ID
	}

	res := make([]MutationResponse, 0, len(entries))
	for _, e := range entries {
		revertible := e.ID == latestID && e.Kind == model.MutationSet
		res = append(res, NewMutationResponse(e, reverted[e.ID], revertible))
	}
	return res, total, nil
}

// --- Helpers ---

// PercentToFraction converts 8.875 to 0.08875.
func PercentToFraction(p decimal.Decimal) decimal.Decimal {
	return p.Div(hundred)
}

// FractionToPercent renders 0.08875 as "8.875".
func FractionToPercent(f decimal.Decimal) string {
	return f.Mul(hundred).String()
}

func NewRateIntervalResponse(iv model.RateInterval) RateIntervalResponse {
	resp := RateIntervalResponse{
		ID:             iv.ID.String(),
		JurisdictionID: iv.JurisdictionID.String(),
		Rate:           iv.Rate.String(),
		RatePercent:    FractionToPercent(iv.Rate),
		ValidFrom:      iv.ValidFrom.Format(model.DateLayout),
	}
	if iv.ValidTo != nil {
		to := iv.ValidTo.Format(model.DateLayout)
		resp.ValidTo = &to
	}
	return resp
}

func NewMutationResponse(m model.RateMutation, reverted, revertible bool) MutationResponse {
	resp := MutationResponse{
		ID:             m.ID.String(),
		Sequence:       m.Sequence,
		JurisdictionID: m.JurisdictionID.String(),
		Kind:           m.Kind,
		EffectiveDate:  m.EffectiveDate.Format(model.DateLayout),
		Revertible:     revertible,
		CreatedAt:      m.CreatedAt.Format(time.RFC3339),
	}
	resp.OldRate, resp.OldRatePercent = nullRate(m.OldRate)
	resp.NewRate, resp.NewRatePercent = nullRate(m.NewRate)
	if m.RevertsID != nil {
		id := m.RevertsID.String()
		resp.RevertsID = &id
	}
	if m.ActorID != nil {
		id := m.ActorID.String()
		resp.ActorID = &id
	}
	switch {
	case m.Kind == model.MutationRevert:
		resp.Status = MutationStatusRevert
	case reverted:
		resp.Status = MutationStatusReverted
	default:
		resp.Status = MutationStatusActive
	}
	return resp
}

func nullRate(d decimal.NullDecimal) (*string, *string) {
	if !d.Valid {
		return nil, nil
	}
	rate := d.Decimal.String()
	pct := FractionToPercent(d.Decimal)
	return &rate, &pct
}
