package repository

import (
	"context"

	"github.com/sygfp/spendchain/internal/apperr"
	"github.com/sygfp/spendchain/internal/database"
	"github.com/sygfp/spendchain/internal/permission"
)

// GrantRepository loads delegation and interim grants for the permission
// resolver. Grants are read fresh on every resolution.
type GrantRepository struct {
	db *database.DB
}

// NewGrantRepository creates a new GrantRepository.
func NewGrantRepository(db *database.DB) *GrantRepository {
	return &GrantRepository{db: db}
}

// GrantsForSubstitute returns every grant naming userID as substitute,
// active or not; the resolver filters by validity window.
func (r *GrantRepository) GrantsForSubstitute(ctx context.Context, userID string) ([]permission.Grant, error) {
	query := `
		SELECT id, grant_type, titulaire_id, substitute_id, roles, starts_at, ends_at
		FROM role_grants
		WHERE substitute_id = $1
		ORDER BY starts_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to load role grants")
	}
	defer rows.Close()

	var grants []permission.Grant
	for rows.Next() {
		var g permission.Grant
		err := rows.Scan(
			&g.ID,
			&g.Type,
			&g.TitulaireID,
			&g.SubstituteID,
			&g.Roles,
			&g.StartsAt,
			&g.EndsAt,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan role grant")
		}
		grants = append(grants, g)
	}
	return grants, nil
}
