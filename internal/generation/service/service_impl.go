// Package service implements the generation lifecycle state machine.
//
// Status transitions are guarded UPDATE statements so two racing writers can
// never both act on the same row. Whoever flips a pending/processing row to a
// terminal status owns the follow-up side effects; the loser observes zero
// rows affected and reads back the row the winner wrote.
package service

import (
	"context"
	"strings"

	"github.com/artivio/platform/internal/clock"
	"github.com/artivio/platform/internal/config"
	generationdomain "github.com/artivio/platform/internal/generation/domain"
	ledgerdomain "github.com/artivio/platform/internal/ledger/domain"
	"github.com/artivio/platform/internal/observability/metrics"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Pricing    *config.PricingHolder
	Ledger     ledgerdomain.Service
	ObsMetrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	pricing *config.PricingHolder
	ledger  ledgerdomain.Service
	metrics *metrics.Metrics
}

func NewService(p Params) generationdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("generation.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		pricing: p.Pricing,
		ledger:  p.Ledger,
		metrics: p.ObsMetrics,
	}
}

// Create charges the account and inserts a pending generation in one
// transaction. If the conditional debit fails the row is never written, so an
// account can never hold a generation it did not pay for.
func (s *Service) Create(ctx context.Context, req generationdomain.CreateRequest) (*generationdomain.Generation, error) {
	accountID, err := snowflake.ParseString(req.AccountID)
	if err != nil {
		return nil, ledgerdomain.ErrAccountNotFound
	}

	kind := strings.ToLower(strings.TrimSpace(req.Kind))
	if kind == "" {
		return nil, generationdomain.ErrInvalidKind
	}

	cost := s.pricing.GenerationCost(kind)
	now := s.clock.Now().UTC()

	gen := generationdomain.Generation{
		ID:          s.genID.Generate(),
		AccountID:   accountID,
		Status:      generationdomain.StatusPending,
		Kind:        kind,
		CreditsCost: cost,
		Params:      datatypes.JSONMap(req.Params),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledger.DebitTx(ctx, tx, accountID, cost, ledgerdomain.ReasonGenerationDebit, gen.ID); err != nil {
			return err
		}
		return tx.Create(&gen).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("generation created",
		zap.String("generation_id", gen.ID.String()),
		zap.String("account_id", accountID.String()),
		zap.String("kind", kind),
		zap.Int64("credits_cost", cost),
	)
	return &gen, nil
}

// Start moves a pending generation to processing. Starting an already
// processing or terminal generation is a no-op that returns the current row.
func (s *Service) Start(ctx context.Context, id string) (*generationdomain.Generation, error) {
	genID, err := snowflake.ParseString(id)
	if err != nil {
		return nil, generationdomain.ErrGenerationNotFound
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE generations
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		generationdomain.StatusProcessing,
		s.clock.Now().UTC(),
		genID,
		generationdomain.StatusPending,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	return s.load(ctx, s.db, genID)
}

// Finalize settles a generation with the generator's outcome. The status
// guard makes the transition first-writer-wins: a second finalize, or a
// finalize racing a cancel, affects zero rows and returns the settled row
// without touching the ledger. A failure outcome refunds the captured cost in
// the same transaction as the status flip, so the refund happens exactly once.
func (s *Service) Finalize(ctx context.Context, req generationdomain.FinalizeRequest) (*generationdomain.Generation, error) {
	if req.Outcome != generationdomain.OutcomeSuccess && req.Outcome != generationdomain.OutcomeFailure {
		return nil, generationdomain.ErrInvalidOutcome
	}

	genID, err := snowflake.ParseString(req.GenerationID)
	if err != nil {
		return nil, generationdomain.ErrGenerationNotFound
	}

	status := generationdomain.StatusCompleted
	if req.Outcome == generationdomain.OutcomeFailure {
		status = generationdomain.StatusFailed
	}

	var resultURL, errorNote *string
	if url := strings.TrimSpace(req.ResultURL); url != "" && status == generationdomain.StatusCompleted {
		resultURL = &url
	}
	if note := strings.TrimSpace(req.ErrorNote); note != "" && status == generationdomain.StatusFailed {
		errorNote = &note
	}

	gen, won, err := s.settle(ctx, genID, status, resultURL, errorNote)
	if err != nil {
		return nil, err
	}
	if won {
		s.metrics.RecordGenerationFinished(ctx, string(status))
		s.log.Info("generation finalized",
			zap.String("generation_id", gen.ID.String()),
			zap.String("status", string(status)),
		)
	}
	return gen, nil
}

// Cancel fails a pending or processing generation on behalf of the user and
// refunds its cost. A cancel that loses the race to Finalize refunds nothing.
func (s *Service) Cancel(ctx context.Context, id string) (generationdomain.CancelResult, error) {
	genID, err := snowflake.ParseString(id)
	if err != nil {
		return generationdomain.CancelResult{}, generationdomain.ErrGenerationNotFound
	}

	note := generationdomain.CancelErrorNote
	gen, won, err := s.settle(ctx, genID, generationdomain.StatusFailed, nil, &note)
	if err != nil {
		return generationdomain.CancelResult{}, err
	}
	if !won {
		return generationdomain.CancelResult{}, nil
	}

	s.metrics.RecordGenerationFinished(ctx, string(generationdomain.StatusFailed))
	s.log.Info("generation cancelled",
		zap.String("generation_id", gen.ID.String()),
		zap.Int64("refunded", gen.CreditsCost),
	)
	return generationdomain.CancelResult{Refunded: true, Amount: gen.CreditsCost}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*generationdomain.Generation, error) {
	genID, err := snowflake.ParseString(id)
	if err != nil {
		return nil, generationdomain.ErrGenerationNotFound
	}
	return s.load(ctx, s.db, genID)
}

func (s *Service) ListByAccount(ctx context.Context, accountID string, limit int) ([]generationdomain.Generation, error) {
	id, err := snowflake.ParseString(accountID)
	if err != nil {
		return nil, ledgerdomain.ErrAccountNotFound
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	var gens []generationdomain.Generation
	err = s.db.WithContext(ctx).Raw(
		`SELECT * FROM generations
		 WHERE account_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		id, limit,
	).Scan(&gens).Error
	if err != nil {
		return nil, err
	}
	return gens, nil
}

// settle performs the guarded terminal transition. It reports whether this
// call won the transition; when it did and the terminal status is failed with
// a positive cost, the refund commits in the same transaction.
func (s *Service) settle(
	ctx context.Context,
	genID snowflake.ID,
	status generationdomain.Status,
	resultURL, errorNote *string,
) (*generationdomain.Generation, bool, error) {
	var (
		gen *generationdomain.Generation
		won bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now().UTC()
		result := tx.Exec(
			`UPDATE generations
			 SET status = ?, result_url = ?, error_note = ?, completed_at = ?, updated_at = ?
			 WHERE id = ? AND status IN (?, ?)`,
			status, resultURL, errorNote, now, now,
			genID,
			generationdomain.StatusPending, generationdomain.StatusProcessing,
		)
		if result.Error != nil {
			return result.Error
		}

		loaded, err := s.load(ctx, tx, genID)
		if err != nil {
			return err
		}
		gen = loaded

		if result.RowsAffected == 0 {
			// Lost the race: the row is already terminal. No side effects.
			return nil
		}
		won = true

		if status == generationdomain.StatusFailed && gen.CreditsCost > 0 {
			if _, err := s.ledger.CreditTx(ctx, tx, gen.AccountID, gen.CreditsCost, ledgerdomain.ReasonGenerationRefund, gen.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return gen, won, nil
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, genID snowflake.ID) (*generationdomain.Generation, error) {
	var gen generationdomain.Generation
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM generations WHERE id = ?`,
		genID,
	).Scan(&gen).Error
	if err != nil {
		return nil, err
	}
	if gen.ID == 0 {
		return nil, generationdomain.ErrGenerationNotFound
	}
	return &gen, nil
}
