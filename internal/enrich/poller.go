package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enterprise/withdraw-review/internal/models"
	"github.com/enterprise/withdraw-review/internal/repositories"
)

// EnrichmentStore reads the dimension tables the external enrichment
// workers populate.
type EnrichmentStore interface {
	GetSanctions(ctx context.Context, chain, address string) (*models.SanctionsRecord, error)
	GetDestinationAge(ctx context.Context, chain, address string) (*models.AgeRecord, error)
}

// Poller waits briefly for asynchronous sanctions/address-age enrichment to
// finish before the case goes to review. It only reads; the enrichment
// workers call the external providers and write the tables.
type Poller struct {
	store       EnrichmentStore
	maxAttempts int
	delay       time.Duration

	// sleep is swappable in tests.
	sleep func(time.Duration)
}

// NewPoller creates a poller with the given attempt budget and inter-attempt
// delay.
func NewPoller(store EnrichmentStore, maxAttempts int, delay time.Duration) *Poller {
	return &Poller{
		store:       store,
		maxAttempts: maxAttempts,
		delay:       delay,
		sleep:       time.Sleep,
	}
}

// Refresh polls the enrichment tables until both statuses report CHECKED or
// the attempt budget runs out, copying resolved values into the features.
//
// Returning with a status still unresolved is not an error: it is the
// recognized "unresolved enrichment" state, and downstream consumers must
// treat it conservatively (age unknown is not new; sanctions unknown is not
// clean). Store errors during polling are swallowed and whatever partial
// state exists is returned.
func (p *Poller) Refresh(ctx context.Context, features models.FeatureSet) models.FeatureSet {
	chain := features.String("chain")
	address := features.String("destination_address")
	if chain == "" || address == "" {
		return features
	}

	if features.String("sanctions_status") == models.EnrichmentChecked &&
		features.String("age_status") == models.EnrichmentChecked {
		return features
	}

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		updated := false

		sanctions, err := p.store.GetSanctions(ctx, chain, address)
		if err == nil && sanctions.SanctionsStatus == models.EnrichmentChecked {
			features["is_sanctioned"] = sanctions.IsSanctioned
			features["sanctions_status"] = sanctions.SanctionsStatus
			updated = true
		} else if errors.Is(err, repositories.ErrEnrichmentNotFound) {
			// Row not written yet; this is the pending state being polled for.
			log.Debug().Str("chain", chain).Str("destination_address", address).
				Msg("Sanctions enrichment not populated yet")
		} else if err != nil {
			log.Warn().Err(err).Str("chain", chain).Str("destination_address", address).
				Msg("Sanctions enrichment read failed")
		}

		age, err := p.store.GetDestinationAge(ctx, chain, address)
		if err == nil && age.AgeStatus == models.EnrichmentChecked {
			features["destination_age_hours"] = age.AgeHours
			features["age_status"] = age.AgeStatus
			updated = true
		} else if errors.Is(err, repositories.ErrEnrichmentNotFound) {
			log.Debug().Str("chain", chain).Str("destination_address", address).
				Msg("Destination age enrichment not populated yet")
		} else if err != nil {
			log.Warn().Err(err).Str("chain", chain).Str("destination_address", address).
				Msg("Destination age enrichment read failed")
		}

		if updated {
			log.Debug().Str("chain", chain).Str("destination_address", address).
				Int("attempt", attempt+1).Msg("Inline sanctions/age refresh succeeded")
			break
		}

		log.Debug().
			Str("chain", chain).
			Str("destination_address", address).
			Int("attempt", attempt+1).
			Int("max_attempts", p.maxAttempts).
			Msg("Sanctions/age enrichment not ready yet")

		if attempt < p.maxAttempts-1 {
			p.sleep(p.delay)
		}
	}

	return features
}
