package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Registry reads and provisions tenants in the registry database.
type Registry struct {
	pool      *pgxpool.Pool
	numShards int
}

// NewRegistry wraps the registry database pool. numShards is the number of
// configured shards, used to validate rows and spread provisioning.
func NewRegistry(pool *pgxpool.Pool, numShards int) *Registry {
	return &Registry{pool: pool, numShards: numShards}
}

const tenantColumns = `tenant_id, tenant_name, COALESCE(domain, ''), shard, status, COALESCE(contact_email, '')`

func (r *Registry) scanTenant(row pgx.Row) (*Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Domain, &t.Shard, &t.Status, &t.ContactEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: unknown tenant", ErrUnavailable)
		}
		return nil, fmt.Errorf("registry lookup: %w", err)
	}
	return &t, nil
}

// Get returns the registry row for a tenant id.
func (r *Registry) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE tenant_id = $1`, tenantID)
	return r.scanTenant(row)
}

// GetByDomain returns the registry row for a routing domain. The routing
// layer uses this to map a request's subdomain to a tenant id.
func (r *Registry) GetByDomain(ctx context.Context, domain string) (*Tenant, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE domain = $1`, domain)
	return r.scanTenant(row)
}

// Create provisions a tenant on the least-loaded shard. The shard
// assignment is made exactly once here and never rebalanced.
func (r *Registry) Create(ctx context.Context, t *Tenant) error {
	if t.ID == "" || t.Name == "" {
		return fmt.Errorf("tenant id and name are required")
	}
	if t.Status == "" {
		t.Status = StatusActive
	}
	if err := validStatus(t.Status); err != nil {
		return err
	}

	if t.Shard == 0 {
		shard, err := r.leastLoadedShard(ctx)
		if err != nil {
			return err
		}
		t.Shard = shard
	}
	if t.Shard < 1 || t.Shard > r.numShards {
		return fmt.Errorf("shard %d out of range [1, %d]", t.Shard, r.numShards)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO tenants (tenant_id, tenant_name, domain, shard, status, contact_email)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''))`,
		t.ID, t.Name, t.Domain, t.Shard, t.Status, t.ContactEmail,
	)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

// SetStatus transitions a tenant's lifecycle status. The caller must
// invalidate the router's cache afterwards.
func (r *Registry) SetStatus(ctx context.Context, tenantID string, status Status) error {
	if err := validStatus(status); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE tenants SET status = $2, updated_at = now() WHERE tenant_id = $1`,
		tenantID, status,
	)
	if err != nil {
		return fmt.Errorf("set tenant status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: unknown tenant", ErrUnavailable)
	}
	return nil
}

// leastLoadedShard picks the shard with the fewest provisioned tenants.
func (r *Registry) leastLoadedShard(ctx context.Context) (int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT shard, COUNT(*) FROM tenants GROUP BY shard`)
	if err != nil {
		return 0, fmt.Errorf("shard load query: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int, r.numShards)
	for rows.Next() {
		var shard, n int
		if err := rows.Scan(&shard, &n); err != nil {
			return 0, fmt.Errorf("shard load scan: %w", err)
		}
		counts[shard] = n
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("shard load rows: %w", err)
	}

	best, bestCount := 1, counts[1]
	for s := 2; s <= r.numShards; s++ {
		if counts[s] < bestCount {
			best, bestCount = s, counts[s]
		}
	}
	return best, nil
}
