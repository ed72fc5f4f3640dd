package masterdata

import (
	"context"
	"errors"
)

// LineType is the position of a line inside its shop.
type LineType string

const (
	LineFirst  LineType = "Первая"
	LineSecond LineType = "Вторая"
	LineThird  LineType = "Третья"
	LineFourth LineType = "Четвёртая"
)

// Valid returns true when the line position is known.
func (t LineType) Valid() bool {
	switch t {
	case LineFirst, LineSecond, LineThird, LineFourth:
		return true
	default:
		return false
	}
}

// Shop is the root of the equipment tree.
type Shop struct {
	ID   int64
	Name string
}

// Line belongs to one shop; (ShopID, Type) is unique.
type Line struct {
	ID     int64
	ShopID int64
	Type   LineType
}

// Aggregate belongs to one line; (LineID, TypeID) is unique.
type Aggregate struct {
	ID       int64
	LineID   int64
	TypeID   int64
	TypeName string
}

// Actuator belongs to one aggregate. Types may repeat under one aggregate.
type Actuator struct {
	ID          int64
	AggregateID int64
	TypeID      int64
	TypeName    string
}

// Parameter binds an actuator to a measured quantity.
type Parameter struct {
	ID         int64
	ActuatorID int64
	TypeID     int64
	TypeName   string
	Unit       string
}

// Validate checks line invariants.
func (l Line) Validate() error {
	if l.ShopID <= 0 {
		return errors.New("line: empty shop id")
	}
	if !l.Type.Valid() {
		return errors.New("line: invalid line type")
	}
	return nil
}

// HierarchyReader resolves equipment nodes by id. Missing nodes return nil, nil.
type HierarchyReader interface {
	GetShopByName(ctx context.Context, name string) (*Shop, error)
	GetLineByShopAndType(ctx context.Context, shopID int64, lineType LineType) (*Line, error)
	GetLine(ctx context.Context, id int64) (*Line, error)
	GetAggregate(ctx context.Context, id int64) (*Aggregate, error)
	GetActuator(ctx context.Context, id int64) (*Actuator, error)
	GetParameter(ctx context.Context, id int64) (*Parameter, error)
	ShopIDsForLines(ctx context.Context, lineIDs []int64) ([]int64, error)
}
