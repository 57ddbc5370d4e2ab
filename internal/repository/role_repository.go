package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/bursar-backend/internal/model"
)

// RoleRepository handles role and permission data access.
type RoleRepository struct {
	pool *pgxpool.Pool
}

// NewRoleRepository creates a new RoleRepository.
func NewRoleRepository(pool *pgxpool.Pool) *RoleRepository {
	return &RoleRepository{pool: pool}
}

// GetPermissionsByRoleID retrieves all permission codes for a given role.
func (r *RoleRepository) GetPermissionsByRoleID(ctx context.Context, roleID int) ([]string, error) {
	return r.queryCodes(ctx,
		`SELECT p.code
		 FROM permissions p
		 JOIN role_permissions rp ON p.id = rp.permission_id
		 WHERE rp.role_id = $1
		 ORDER BY p.code`, roleID,
	)
}

// ListPermissionCodes returns every permission code known to the database.
func (r *RoleRepository) ListPermissionCodes(ctx context.Context) ([]string, error) {
	return r.queryCodes(ctx, `SELECT code FROM permissions ORDER BY code`)
}

// SyncPermissions inserts any of the given permission codes missing from the
// permissions table.
func (r *RoleRepository) SyncPermissions(ctx context.Context, codes []model.Permission) error {
	raw := make([]string, len(codes))
	for i, c := range codes {
		raw[i] = string(c)
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO permissions (code)
		 SELECT UNNEST($1::text[])
		 ON CONFLICT (code) DO NOTHING`, raw)
	return err
}

// ReplaceRolePermissions sets a role's permissions to exactly the given codes.
func (r *RoleRepository) ReplaceRolePermissions(ctx context.Context, roleID int, codes []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return err
	}

	rows, err := tx.Query(ctx, `SELECT id FROM permissions WHERE code = ANY($1)`, codes)
	if err != nil {
		return err
	}
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(ids) > 0 {
		_, err = tx.CopyFrom(
			ctx,
			pgx.Identifier{"role_permissions"},
			[]string{"role_id", "permission_id"},
			pgx.CopyFromSlice(len(ids), func(i int) ([]interface{}, error) {
				return []interface{}{roleID, ids[i]}, nil
			}),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *RoleRepository) queryCodes(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}
