package workers

import (
	"context"

	"github.com/rs/zerolog/log"

	"propvest/internal/engine/webhooks"
	"propvest/internal/platform/repositories"
)

// RetrySweep re-delivers failed webhooks for every subscription with a
// non-zero failure count, and disables subscriptions that have failed past
// the disable threshold. Disabling is a soft stop: the row stays, the
// active flag flips.
type RetrySweep struct {
	subs             *repositories.SubscriptionRepository
	dispatcher       *webhooks.Dispatcher
	disableThreshold int
}

func NewRetrySweep(subs *repositories.SubscriptionRepository, dispatcher *webhooks.Dispatcher, disableThreshold int) *RetrySweep {
	return &RetrySweep{subs: subs, dispatcher: dispatcher, disableThreshold: disableThreshold}
}

func (s *RetrySweep) Run(ctx context.Context) error {
	failing, err := s.subs.GetFailing()
	if err != nil {
		return err
	}

	for _, sub := range failing {
		if sub.FailureCount >= s.disableThreshold {
			if err := s.subs.SetActive(sub.ID, false); err != nil {
				log.Error().Err(err).Str("subscription_id", sub.ID).Msg("failed to disable subscription")
				continue
			}
			log.Warn().Str("subscription_id", sub.ID).Int("failures", sub.FailureCount).Msg("subscription disabled after repeated failures")
			continue
		}

		attempted, err := s.dispatcher.RetryFailed(ctx, sub.ID)
		if err != nil {
			log.Error().Err(err).Str("subscription_id", sub.ID).Msg("retry sweep failed for subscription")
			continue
		}
		if attempted > 0 {
			log.Info().Str("subscription_id", sub.ID).Int("retried", attempted).Msg("retry sweep re-delivered failed webhooks")
		}
	}

	return nil
}
