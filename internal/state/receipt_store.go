// ./internal/state/receipt_store.go
package state

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/vectis-finance/yvm/internal/types"
)

// SaveRebalanceReceipt persists the outcome of one rebalance cycle.
func SaveRebalanceReceipt(result types.RebalanceResult, cycleNumber int) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO rebalance_receipts (
			operation_id, cycle_number, executed_at,
			source_adapter, target_adapter,
			amount_requested, amount_withdrawn, amount_deployed,
			outcome, message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING receipt_id;
	`

	var receiptID int64
	err := DB.QueryRow(
		query,
		result.OperationID, cycleNumber, result.Timestamp,
		result.SourceAdapter, result.TargetAdapter,
		result.Requested.String(), result.Withdrawn.String(), result.Deployed.String(),
		string(result.Outcome), result.Message,
	).Scan(&receiptID)
	if err != nil {
		return 0, fmt.Errorf("failed to save rebalance receipt: %w", err)
	}

	log.Info().
		Int64("receipt_id", receiptID).
		Int("cycle_number", cycleNumber).
		Str("outcome", string(result.Outcome)).
		Msg("Rebalance receipt saved to database")

	return receiptID, nil
}

// GetRecentReceipts retrieves recent rebalance receipts, newest first.
func GetRecentReceipts(limit int) ([]types.RebalanceResult, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	query := `
		SELECT
			operation_id, executed_at,
			source_adapter, target_adapter,
			amount_requested, amount_withdrawn, amount_deployed,
			outcome, message
		FROM rebalance_receipts
		ORDER BY executed_at DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rebalance receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.RebalanceResult
	for rows.Next() {
		var (
			r                              types.RebalanceResult
			requested, withdrawn, deployed string
			outcome                        string
		)
		err := rows.Scan(
			&r.OperationID, &r.Timestamp,
			&r.SourceAdapter, &r.TargetAdapter,
			&requested, &withdrawn, &deployed,
			&outcome, &r.Message,
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to scan rebalance receipt row")
			continue
		}
		r.Requested = mustInt(requested)
		r.Withdrawn = mustInt(withdrawn)
		r.Deployed = mustInt(deployed)
		r.Outcome = types.RebalanceOutcome(outcome)
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}

	return receipts, nil
}
