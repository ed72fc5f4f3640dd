package postgres

import (
	"database/sql"

	masterdata "msm-monitoring/internal/masterdata/domain"
)

// AncestryColumns lists the columns produced by AncestryJoin, in AncestryScan order.
const AncestryColumns = `p.parameter_id, p.actuator_id, p.parameter_type_id, pt.parameter_type_name, pt.parameter_unit,
	ac.actuator_id, ac.aggregate_id, ac.actuator_type_id, act.actuator_type_name,
	ag.aggregate_id, ag.line_id, ag.aggregate_type_id, agt.aggregate_type_name,
	l.line_id, l.shop_id, l.line_type,
	s.shop_id, s.shop_name`

// AncestryJoin walks the equipment tree upward from a parameters row aliased "p".
// Every join is LEFT so a broken link yields NULLs instead of dropping the row.
const AncestryJoin = `
LEFT JOIN parameter_types pt ON pt.parameter_type_id = p.parameter_type_id
LEFT JOIN actuators ac ON ac.actuator_id = p.actuator_id
LEFT JOIN actuator_types act ON act.actuator_type_id = ac.actuator_type_id
LEFT JOIN aggregates ag ON ag.aggregate_id = ac.aggregate_id
LEFT JOIN aggregate_types agt ON agt.aggregate_type_id = ag.aggregate_type_id
LEFT JOIN lines l ON l.line_id = ag.line_id
LEFT JOIN shops s ON s.shop_id = l.shop_id`

// AncestryScan collects nullable ancestry columns from a single row.
type AncestryScan struct {
	parameterID, parameterActuatorID, parameterTypeID sql.NullInt64
	parameterTypeName, parameterUnit                  sql.NullString

	actuatorID, actuatorAggregateID, actuatorTypeID sql.NullInt64
	actuatorTypeName                                sql.NullString

	aggregateID, aggregateLineID, aggregateTypeID sql.NullInt64
	aggregateTypeName                             sql.NullString

	lineID, lineShopID sql.NullInt64
	lineType           sql.NullString

	shopID   sql.NullInt64
	shopName sql.NullString
}

// Dest returns scan destinations matching AncestryColumns.
func (s *AncestryScan) Dest() []any {
	return []any{
		&s.parameterID, &s.parameterActuatorID, &s.parameterTypeID, &s.parameterTypeName, &s.parameterUnit,
		&s.actuatorID, &s.actuatorAggregateID, &s.actuatorTypeID, &s.actuatorTypeName,
		&s.aggregateID, &s.aggregateLineID, &s.aggregateTypeID, &s.aggregateTypeName,
		&s.lineID, &s.lineShopID, &s.lineType,
		&s.shopID, &s.shopName,
	}
}

// Ancestry converts scanned columns, leaving absent levels nil.
func (s *AncestryScan) Ancestry() masterdata.Ancestry {
	var out masterdata.Ancestry
	if s.parameterID.Valid {
		out.Parameter = &masterdata.Parameter{
			ID:         s.parameterID.Int64,
			ActuatorID: s.parameterActuatorID.Int64,
			TypeID:     s.parameterTypeID.Int64,
			TypeName:   s.parameterTypeName.String,
			Unit:       s.parameterUnit.String,
		}
	}
	if s.actuatorID.Valid {
		out.Actuator = &masterdata.Actuator{
			ID:          s.actuatorID.Int64,
			AggregateID: s.actuatorAggregateID.Int64,
			TypeID:      s.actuatorTypeID.Int64,
			TypeName:    s.actuatorTypeName.String,
		}
	}
	if s.aggregateID.Valid {
		out.Aggregate = &masterdata.Aggregate{
			ID:       s.aggregateID.Int64,
			LineID:   s.aggregateLineID.Int64,
			TypeID:   s.aggregateTypeID.Int64,
			TypeName: s.aggregateTypeName.String,
		}
	}
	if s.lineID.Valid {
		out.Line = &masterdata.Line{
			ID:     s.lineID.Int64,
			ShopID: s.lineShopID.Int64,
			Type:   masterdata.LineType(s.lineType.String),
		}
	}
	if s.shopID.Valid {
		out.Shop = &masterdata.Shop{ID: s.shopID.Int64, Name: s.shopName.String}
	}
	return out
}
