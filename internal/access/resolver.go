package access

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"msm-monitoring/internal/auth"
	masterdata "msm-monitoring/internal/masterdata/domain"
)

// Resolver derives scopes from job titles and evaluates per-node access.
type Resolver struct {
	store  masterdata.HierarchyReader
	table  RoleTable
	logger *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver constructs a Resolver.
func NewResolver(store masterdata.HierarchyReader, table RoleTable, opts ...Option) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("access: nil hierarchy store")
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	r := &Resolver{store: store, table: table, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve computes the actor's scope. Unknown titles and grants whose targets
// are missing from the store resolve to NONE. On store failure the returned
// scope is NONE alongside the error.
func (r *Resolver) Resolve(ctx context.Context, actor auth.Actor) (Scope, error) {
	if r == nil {
		return None(), errors.New("access: nil resolver")
	}
	if actor.JobTitle == "" {
		return None(), nil
	}
	grant, ok := r.table.Roles[actor.JobTitle]
	if !ok {
		return None(), nil
	}

	switch grant.Scope {
	case ScopeAll:
		return All(), nil
	case ScopeShop:
		ids := make([]int64, 0, len(grant.Shops))
		for _, name := range grant.Shops {
			shop, err := r.store.GetShopByName(ctx, name)
			if err != nil {
				return None(), err
			}
			if shop == nil {
				r.logger.Warn("scope shop missing, access set to none",
					zap.String("job_title", actor.JobTitle), zap.String("shop", name))
				return None(), nil
			}
			ids = append(ids, shop.ID)
		}
		return Shops(ids...), nil
	case ScopeLine:
		ids := make([]int64, 0, len(grant.Lines))
		for _, ref := range grant.Lines {
			shop, err := r.store.GetShopByName(ctx, ref.Shop)
			if err != nil {
				return None(), err
			}
			if shop == nil {
				r.logger.Warn("scope shop missing, access set to none",
					zap.String("job_title", actor.JobTitle), zap.String("shop", ref.Shop))
				return None(), nil
			}
			line, err := r.store.GetLineByShopAndType(ctx, shop.ID, ref.Line)
			if err != nil {
				return None(), err
			}
			if line == nil {
				r.logger.Warn("scope line missing, access set to none",
					zap.String("job_title", actor.JobTitle), zap.String("shop", ref.Shop), zap.String("line", string(ref.Line)))
				return None(), nil
			}
			ids = append(ids, line.ID)
		}
		return Lines(ids...), nil
	default:
		return None(), nil
	}
}
