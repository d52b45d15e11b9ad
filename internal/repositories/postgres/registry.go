// Package postgres implements the repository registry on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

// Registry hands out repositories sharing one pool.
type Registry struct {
	pool  *pgxpool.Pool
	clock func() time.Time
}

var _ repositories.Registry = (*Registry)(nil)

type Option func(*Registry)

func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// New wraps an open pool. Close releases it.
func New(pool *pgxpool.Pool, opts ...Option) (*Registry, error) {
	if pool == nil {
		return nil, errors.New("postgres registry: pool is required")
	}
	r := &Registry{pool: pool, clock: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

func (r *Registry) Close(context.Context) error {
	r.pool.Close()
	return nil
}

func (r *Registry) Tenants() repositories.TenantRepository { return tenantRepo{r} }
func (r *Registry) Vendors() repositories.VendorRepository { return vendorRepo{r} }
func (r *Registry) Products() repositories.ProductRepository { return productRepo{r} }
func (r *Registry) Inventory() repositories.InventoryRepository { return inventoryRepo{r} }
func (r *Registry) Carts() repositories.CartRepository { return cartRepo{r} }
func (r *Registry) Orders() repositories.OrderRepository { return orderRepo{r} }
func (r *Registry) Promotions() repositories.PromotionRepository { return promotionRepo{r} }
func (r *Registry) PaymentPartners() repositories.PaymentPartnerRepository {
	return partnerRepo{r}
}
func (r *Registry) Counters() repositories.CounterRepository { return counterRepo{r} }

func (r *Registry) Health() repositories.HealthRepository {
	repo, _ := repositories.NewProbeHealthRepository([]repositories.DependencyProbe{
		{Name: "postgres", Timeout: 2 * time.Second, Ping: r.pool.Ping},
	}, r.clock)
	return repo
}

// inTx runs fn in a transaction, rolling back on any error.
func (r *Registry) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapErr(op, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return wrapErr(op, err)
	}
	return wrapErr(op, tx.Commit(ctx))
}

// Postgres error codes mapped to conflicts.
const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}
	var typed interface{ IsConflict() bool }
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &repositories.StoreError{Op: op, Kind: repositories.KindNotFound, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation, codeCheckViolation, codeSerializationFailure, codeDeadlockDetected:
			return &repositories.StoreError{Op: op, Kind: repositories.KindConflict, Err: err}
		}
		return &repositories.StoreError{Op: op, Kind: repositories.KindUnknown, Err: err}
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return repositories.Unavailable(op, err)
	}
	return &repositories.StoreError{Op: op, Kind: repositories.KindUnknown, Err: err}
}
