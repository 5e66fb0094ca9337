package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/LeventeLantos/promo-dispatch/internal/cache"
	"github.com/LeventeLantos/promo-dispatch/internal/metrics"
	"github.com/LeventeLantos/promo-dispatch/internal/model"
)

type Outcome string

const (
	OutcomeSent     Outcome = "sent"
	OutcomeDryRun   Outcome = "dry_run"
	OutcomeOptedOut Outcome = "opted_out"
	OutcomeFailed   Outcome = "failed"
)

// Delivered reports whether the outcome wrote a SentLog row.
func (o Outcome) Delivered() bool {
	return o == OutcomeSent || o == OutcomeDryRun
}

type OptOutMarker interface {
	MarkOptOut(ctx context.Context, id int64) error
}

type SentLogWriter interface {
	Insert(ctx context.Context, l *model.SentLog) error
}

// Dispatcher performs the live opt-in check, the provider send and the
// SentLog write for one subscriber and message.
type Dispatcher struct {
	optOuts OptOutMarker
	logs    SentLogWriter
	state   cache.RunState
	logger  *zap.Logger
	now     func() time.Time
}

func NewDispatcher(optOuts OptOutMarker, logs SentLogWriter, state cache.RunState, logger *zap.Logger) *Dispatcher {
	if state == nil {
		state = cache.Nop{}
	}
	return &Dispatcher{
		optOuts: optOuts,
		logs:    logs,
		state:   state,
		logger:  logger,
		now:     time.Now,
	}
}

// Dispatch returns a *ProviderError when the provider could not be reached;
// any other error is a store failure.
func (d *Dispatcher) Dispatch(ctx context.Context, p Provider, sub *model.Subscriber, msg *model.Message, cfg model.RunConfig) (Outcome, error) {
	outcome, err := d.dispatch(ctx, p, sub, msg, cfg)
	metrics.Dispatches.WithLabelValues(p.Name(), string(outcome)).Inc()
	return outcome, err
}

func (d *Dispatcher) dispatch(ctx context.Context, p Provider, sub *model.Subscriber, msg *model.Message, cfg model.RunConfig) (Outcome, error) {
	log := d.logger.With(
		zap.Int64("subscriber_id", sub.ID),
		zap.Int64("message_id", msg.ID),
		zap.String("brand", string(msg.Brand)),
		zap.String("provider", p.Name()),
	)

	var remoteID string
	if cfg.DryRunMode {
		log.Info("dry run: skipping opt-in check and send")
	} else {
		optedIn, err := p.CheckOptIn(ctx, sub.Phone)
		if err != nil {
			log.Warn("opt-in check failed", zap.Error(err))
			return OutcomeFailed, &ProviderError{Provider: p.Name(), Op: "check_opt_in", Err: err}
		}
		if !optedIn {
			log.Warn("safety block: number not opted in at provider, marking OPTOUT")
			if err := d.optOuts.MarkOptOut(ctx, sub.ID); err != nil {
				return OutcomeOptedOut, fmt.Errorf("mark subscriber %d opted out: %w", sub.ID, err)
			}
			sub.Status = model.OptOut
			return OutcomeOptedOut, nil
		}

		remoteID, err = p.Send(ctx, sub.Phone, msg.Content)
		if err != nil {
			log.Error("send failed", zap.Error(err))
			return OutcomeFailed, &ProviderError{Provider: p.Name(), Op: "send", Err: err}
		}
	}

	entry := &model.SentLog{
		SubscriberID: sub.ID,
		MessageID:    msg.ID,
		Brand:        msg.Brand,
		SentAt:       d.now(),
	}
	outcome := OutcomeSent
	if cfg.DryRunMode {
		outcome = OutcomeDryRun
	}
	if err := d.logs.Insert(ctx, entry); err != nil {
		return outcome, fmt.Errorf("record send to subscriber %d: %w", sub.ID, err)
	}
	sub.Recent = append([]model.SentLog{*entry}, sub.Recent...)

	if err := d.state.StoreSent(ctx, entry.ID, remoteID, entry.SentAt); err != nil {
		log.Warn("store send receipt failed", zap.Error(err))
	}

	log.Info("message dispatched", zap.String("outcome", string(outcome)), zap.String("remote_id", remoteID))
	return outcome, nil
}
