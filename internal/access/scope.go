// Package access resolves an actor's visibility over the equipment tree and
// answers per-node access questions against that scope.
package access

import (
	"errors"
	"slices"
)

// ErrForbidden indicates the actor's scope does not cover the target.
var ErrForbidden = errors.New("access: forbidden")

// ScopeType is the granularity of an access scope.
type ScopeType string

const (
	ScopeAll  ScopeType = "all"
	ScopeShop ScopeType = "shop"
	ScopeLine ScopeType = "line"
	ScopeNone ScopeType = "none"
)

// Valid returns true when the scope type is known.
func (t ScopeType) Valid() bool {
	switch t {
	case ScopeAll, ScopeShop, ScopeLine, ScopeNone:
		return true
	default:
		return false
	}
}

// Scope is a per-request authorization value. It is never persisted.
type Scope struct {
	Type    ScopeType
	ShopIDs []int64
	LineIDs []int64
}

// None is the fail-closed scope.
func None() Scope { return Scope{Type: ScopeNone} }

// All is the unrestricted scope.
func All() Scope { return Scope{Type: ScopeAll} }

// Shops restricts visibility to the given shops.
func Shops(ids ...int64) Scope { return Scope{Type: ScopeShop, ShopIDs: ids} }

// Lines restricts visibility to the given lines.
func Lines(ids ...int64) Scope { return Scope{Type: ScopeLine, LineIDs: ids} }

func (s Scope) hasShop(id int64) bool { return slices.Contains(s.ShopIDs, id) }

func (s Scope) hasLine(id int64) bool { return slices.Contains(s.LineIDs, id) }
