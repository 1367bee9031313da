// ./internal/state/event_store.go
package state

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/vectis-finance/yvm/internal/types"
)

// EventStore persists the engine's audit stream to PostgreSQL. It satisfies
// audit.Sink.
type EventStore struct{}

// NewEventStore returns a store backed by the global connection pool.
func NewEventStore() *EventStore {
	return &EventStore{}
}

// Record inserts one audit event.
func (s *EventStore) Record(event types.Event) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO vault_events (
			event_id, event_time, event_type, actor,
			source_adapter, target_adapter,
			amount_requested, amount_actual, shares_delta,
			total_shares_after, total_assets_after, idle_after,
			outcome, note
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);
	`

	_, err := DB.Exec(
		query,
		event.EventID, event.Timestamp, string(event.Type), event.Actor,
		event.SourceAdapter, event.TargetAdapter,
		event.AmountRequested.String(), event.AmountActual.String(), event.SharesDelta.String(),
		event.TotalSharesAfter.String(), event.TotalAssetsAfter.String(), event.IdleAfter.String(),
		event.Outcome, event.Note,
	)
	if err != nil {
		return fmt.Errorf("failed to insert vault event: %w", err)
	}

	log.Debug().
		Str("eventId", event.EventID).
		Str("eventType", string(event.Type)).
		Msg("Vault event persisted")
	return nil
}

// GetRecentEvents retrieves the newest events, most recent first.
func GetRecentEvents(limit int) ([]types.Event, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT
			event_id, event_time, event_type, actor,
			source_adapter, target_adapter,
			amount_requested, amount_actual, shares_delta,
			total_shares_after, total_assets_after, idle_after,
			outcome, note
		FROM vault_events
		ORDER BY event_time DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query vault events: %w", err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var (
			ev        types.Event
			eventType string
			requested, actual, sharesDelta,
			totalShares, totalAssets, idle string
		)
		err := rows.Scan(
			&ev.EventID, &ev.Timestamp, &eventType, &ev.Actor,
			&ev.SourceAdapter, &ev.TargetAdapter,
			&requested, &actual, &sharesDelta,
			&totalShares, &totalAssets, &idle,
			&ev.Outcome, &ev.Note,
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to scan vault event row")
			continue
		}

		ev.Type = types.EventType(eventType)
		ev.AmountRequested = mustInt(requested)
		ev.AmountActual = mustInt(actual)
		ev.SharesDelta = mustInt(sharesDelta)
		ev.TotalSharesAfter = mustInt(totalShares)
		ev.TotalAssetsAfter = mustInt(totalAssets)
		ev.IdleAfter = mustInt(idle)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}

	return events, nil
}

// mustInt parses a NUMERIC column back into an sdkmath.Int, treating any
// malformed value as zero rather than dropping the whole row.
func mustInt(s string) sdkmath.Int {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		log.Error().Str("value", s).Msg("Malformed amount in vault_events row")
		return sdkmath.ZeroInt()
	}
	return v
}
