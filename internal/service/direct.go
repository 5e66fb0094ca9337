package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/LeventeLantos/promo-dispatch/internal/eligibility"
	"github.com/LeventeLantos/promo-dispatch/internal/model"
	"github.com/LeventeLantos/promo-dispatch/internal/repo"
	"github.com/LeventeLantos/promo-dispatch/internal/timezone"
)

type DirectRequest struct {
	Phone string
	// MessageID zero picks a random active message.
	MessageID int64
	// Provider empty uses the run configuration's provider.
	Provider string
}

type DirectResult struct {
	MessageID int64
	Provider  string
	Outcome   Outcome
}

// DirectSendService sends one message to one known subscriber right away.
// It goes through the same eligibility gates as the queue.
type DirectSendService struct {
	subs        repo.SubscriberRepository
	messages    repo.MessageRepository
	configs     repo.ConfigRepository
	providers   *Registry
	engine      *eligibility.Engine
	dispatcher  *Dispatcher
	historyDays int
	logger      *zap.Logger
	now         func() time.Time
	pick        func(n int) int
}

func NewDirectSendService(
	subs repo.SubscriberRepository,
	messages repo.MessageRepository,
	configs repo.ConfigRepository,
	providers *Registry,
	engine *eligibility.Engine,
	dispatcher *Dispatcher,
	historyDays int,
	logger *zap.Logger,
) *DirectSendService {
	if historyDays <= 0 {
		historyDays = 30
	}
	return &DirectSendService{
		subs:        subs,
		messages:    messages,
		configs:     configs,
		providers:   providers,
		engine:      engine,
		dispatcher:  dispatcher,
		historyDays: historyDays,
		logger:      logger,
		now:         time.Now,
		pick:        rand.IntN,
	}
}

func (s *DirectSendService) Send(ctx context.Context, req DirectRequest) (DirectResult, error) {
	cfg, err := s.configs.Load(ctx)
	if err != nil {
		return DirectResult{}, fmt.Errorf("load run config: %w", err)
	}
	if !cfg.SendingEnabled {
		return DirectResult{}, ErrSendingDisabled
	}

	name := req.Provider
	if name == "" {
		name = cfg.Provider
	}
	provider, err := s.providers.Get(name)
	if err != nil {
		return DirectResult{}, err
	}

	now := s.now()
	phone := timezone.Normalize(req.Phone)
	log := s.logger.With(zap.String("phone", phone), zap.String("provider", provider.Name()))

	sub, err := s.subs.GetByPhone(ctx, phone, now.AddDate(0, 0, -s.historyDays))
	if errors.Is(err, repo.ErrNotFound) {
		return DirectResult{}, &ComplianceError{Reason: "subscriber does not exist"}
	}
	if err != nil {
		return DirectResult{}, fmt.Errorf("load subscriber: %w", err)
	}
	if sub.Status != model.Active {
		return DirectResult{}, &ComplianceError{Reason: "subscriber is not ACTIVE"}
	}

	if v := s.engine.Check(sub, cfg, now); !v.Eligible {
		log.Info("direct send suppressed", zap.String("gate", string(v.Gate)))
		return DirectResult{}, &ComplianceError{Reason: "suppressed by " + string(v.Gate) + " rule"}
	}

	msg, err := s.resolveMessage(ctx, req.MessageID)
	if err != nil {
		return DirectResult{}, err
	}

	outcome, err := s.dispatcher.Dispatch(ctx, provider, sub, msg, cfg)
	if err != nil {
		return DirectResult{}, err
	}
	if outcome == OutcomeOptedOut {
		return DirectResult{}, &ComplianceError{Reason: "number is no longer opted in at the provider"}
	}

	log.Info("direct send done", zap.Int64("message_id", msg.ID), zap.String("outcome", string(outcome)))
	return DirectResult{MessageID: msg.ID, Provider: provider.Name(), Outcome: outcome}, nil
}

func (s *DirectSendService) resolveMessage(ctx context.Context, id int64) (*model.Message, error) {
	if id > 0 {
		msg, err := s.messages.GetByID(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrNoMessage, id)
		}
		return msg, err
	}

	active, err := s.messages.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active messages: %w", err)
	}
	if len(active) == 0 {
		return nil, ErrNoMessage
	}
	return &active[s.pick(len(active))], nil
}
