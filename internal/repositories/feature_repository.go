package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/enterprise/withdraw-review/internal/models"
)

var (
	ErrFeaturesNotFound   = errors.New("risk features not found")
	ErrEnrichmentNotFound = errors.New("enrichment record not found")
)

// FeatureRepository reads precomputed risk features and the enrichment
// dimension tables. This pipeline never writes features back; the feature
// computation job and the enrichment workers own those tables.
type FeatureRepository struct {
	db *Database
}

// NewFeatureRepository creates a new feature repository
func NewFeatureRepository(db *Database) *FeatureRepository {
	return &FeatureRepository{db: db}
}

// GetRiskFeatures fetches the feature row for one (user_code, txn_id) as a
// name-keyed map. The feature schema evolves without code changes, so the
// row is read column-by-column rather than into a fixed struct.
func (r *FeatureRepository) GetRiskFeatures(ctx context.Context, userCode, txnID string) (models.FeatureSet, error) {
	query := `SELECT * FROM rt.risk_features WHERE user_code = $1 AND txn_id = $2`

	rows, err := r.db.Pool.Query(ctx, query, userCode, txnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrFeaturesNotFound
	}

	values, err := rows.Values()
	if err != nil {
		return nil, err
	}

	features := make(models.FeatureSet, len(values))
	for i, fd := range rows.FieldDescriptions() {
		features[fd.Name] = values[i]
	}

	return features, nil
}

// GetSanctions reads the sanctions enrichment row for a destination address.
func (r *FeatureRepository) GetSanctions(ctx context.Context, chain, address string) (*models.SanctionsRecord, error) {
	query := `
		SELECT is_sanctioned, sanctions_status
		FROM rt.dim_sanctions_address
		WHERE chain = $1 AND destination_address = $2
	`

	record := &models.SanctionsRecord{}
	err := r.db.Pool.QueryRow(ctx, query, chain, address).Scan(
		&record.IsSanctioned,
		&record.SanctionsStatus,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEnrichmentNotFound
		}
		return nil, err
	}

	return record, nil
}

// GetDestinationAge reads the address-age enrichment row for a destination.
func (r *FeatureRepository) GetDestinationAge(ctx context.Context, chain, address string) (*models.AgeRecord, error) {
	query := `
		SELECT destination_age_hours, age_status
		FROM rt.dim_destination_age
		WHERE chain = $1 AND destination_address = $2
	`

	record := &models.AgeRecord{}
	err := r.db.Pool.QueryRow(ctx, query, chain, address).Scan(
		&record.AgeHours,
		&record.AgeStatus,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEnrichmentNotFound
		}
		return nil, err
	}

	return record, nil
}
