package access

import (
	"context"
	"slices"
)

// CanAccessShop reports whether the scope covers a shop. Under a line scope the
// shop is visible when it owns one of the allowed lines.
func (r *Resolver) CanAccessShop(ctx context.Context, scope Scope, shopID int64) (bool, error) {
	switch scope.Type {
	case ScopeAll:
		return true, nil
	case ScopeShop:
		return scope.hasShop(shopID), nil
	case ScopeLine:
		shopIDs, err := r.store.ShopIDsForLines(ctx, scope.LineIDs)
		if err != nil {
			return false, err
		}
		return slices.Contains(shopIDs, shopID), nil
	default:
		return false, nil
	}
}

// CanAccessLine reports whether the scope covers a line.
func (r *Resolver) CanAccessLine(ctx context.Context, scope Scope, lineID int64) (bool, error) {
	switch scope.Type {
	case ScopeAll:
		return true, nil
	case ScopeLine:
		return scope.hasLine(lineID), nil
	case ScopeShop:
		line, err := r.store.GetLine(ctx, lineID)
		if err != nil || line == nil {
			return false, err
		}
		return scope.hasShop(line.ShopID), nil
	default:
		return false, nil
	}
}

// CanAccessAggregate delegates to the aggregate's line.
func (r *Resolver) CanAccessAggregate(ctx context.Context, scope Scope, aggregateID int64) (bool, error) {
	if decided, ok := scope.unconditional(); ok {
		return decided, nil
	}
	agg, err := r.store.GetAggregate(ctx, aggregateID)
	if err != nil || agg == nil {
		return false, err
	}
	return r.CanAccessLine(ctx, scope, agg.LineID)
}

// CanAccessActuator delegates to the actuator's aggregate.
func (r *Resolver) CanAccessActuator(ctx context.Context, scope Scope, actuatorID int64) (bool, error) {
	if decided, ok := scope.unconditional(); ok {
		return decided, nil
	}
	act, err := r.store.GetActuator(ctx, actuatorID)
	if err != nil || act == nil {
		return false, err
	}
	return r.CanAccessAggregate(ctx, scope, act.AggregateID)
}

// CanAccessParameter delegates to the parameter's actuator.
func (r *Resolver) CanAccessParameter(ctx context.Context, scope Scope, parameterID int64) (bool, error) {
	if decided, ok := scope.unconditional(); ok {
		return decided, nil
	}
	param, err := r.store.GetParameter(ctx, parameterID)
	if err != nil || param == nil {
		return false, err
	}
	return r.CanAccessActuator(ctx, scope, param.ActuatorID)
}

// EnsureParameter returns ErrForbidden unless the scope covers the parameter.
func (r *Resolver) EnsureParameter(ctx context.Context, scope Scope, parameterID int64) error {
	ok, err := r.CanAccessParameter(ctx, scope, parameterID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

func (s Scope) unconditional() (bool, bool) {
	switch s.Type {
	case ScopeAll:
		return true, true
	case ScopeShop, ScopeLine:
		return false, false
	default:
		return false, true
	}
}
