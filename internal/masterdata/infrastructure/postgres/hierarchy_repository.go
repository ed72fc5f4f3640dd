package postgres

import (
	"context"
	"database/sql"
	"errors"

	masterdata "msm-monitoring/internal/masterdata/domain"
)

// HierarchyRepository reads the shop → line → aggregate → actuator → parameter tree.
type HierarchyRepository struct {
	db DBTX
}

// NewHierarchyRepository constructs a repository.
func NewHierarchyRepository(db DBTX) *HierarchyRepository {
	return &HierarchyRepository{db: db}
}

// GetShopByName loads a shop by its unique name.
func (r *HierarchyRepository) GetShopByName(ctx context.Context, name string) (*masterdata.Shop, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("hierarchy repo: nil db")
	}
	if name == "" {
		return nil, errors.New("hierarchy repo: empty shop name")
	}
	var shop masterdata.Shop
	err := r.db.QueryRowContext(ctx, `
SELECT shop_id, shop_name
FROM shops
WHERE shop_name = $1
LIMIT 1`, name).Scan(&shop.ID, &shop.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &shop, nil
}

// GetLineByShopAndType loads a line by its (shop, position) key.
func (r *HierarchyRepository) GetLineByShopAndType(ctx context.Context, shopID int64, lineType masterdata.LineType) (*masterdata.Line, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("hierarchy repo: nil db")
	}
	return r.scanLine(r.db.QueryRowContext(ctx, `
SELECT line_id, shop_id, line_type
FROM lines
WHERE shop_id = $1 AND line_type = $2
LIMIT 1`, shopID, string(lineType)))
}

// GetLine loads a line by id.
func (r *HierarchyRepository) GetLine(ctx context.Context, id int64) (*masterdata.Line, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("hierarchy repo: nil db")
	}
	return r.scanLine(r.db.QueryRowContext(ctx, `
SELECT line_id, shop_id, line_type
FROM lines
WHERE line_id = $1`, id))
}

func (r *HierarchyRepository) scanLine(row *sql.Row) (*masterdata.Line, error) {
	var line masterdata.Line
	var lineType string
	if err := row.Scan(&line.ID, &line.ShopID, &lineType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	line.Type = masterdata.LineType(lineType)
	return &line, nil
}

// GetAggregate loads an aggregate with its type name.
func (r *HierarchyRepository) GetAggregate(ctx context.Context, id int64) (*masterdata.Aggregate, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("hierarchy repo: nil db")
	}
	var agg masterdata.Aggregate
	var typeName sql.NullString
	err := r.db.QueryRowContext(ctx, `
SELECT ag.aggregate_id, ag.line_id, ag.aggregate_type_id, agt.aggregate_type_name
FROM aggregates ag
LEFT JOIN aggregate_types agt ON agt.aggregate_type_id = ag.aggregate_type_id
WHERE ag.aggregate_id = $1`, id).Scan(&agg.ID, &agg.LineID, &agg.TypeID, &typeName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	agg.TypeName = typeName.String
	return &agg, nil
}

// GetActuator loads an actuator with its type name.
func (r *HierarchyRepository) GetActuator(ctx context.Context, id int64) (*masterdata.Actuator, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("hierarchy repo: nil db")
	}
	var act masterdata.Actuator
	var typeName sql.NullString
	err := r.db.QueryRowContext(ctx, `
SELECT ac.actuator_id, ac.aggregate_id, ac.actuator_type_id, act.actuator_type_name
FROM actuators ac
LEFT JOIN actuator_types act ON act.actuator_type_id = ac.actuator_type_id
WHERE ac.actuator_id = $1`, id).Scan(&act.ID, &act.AggregateID, &act.TypeID, &typeName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	act.TypeName = typeName.String
	return &act, nil
}

// GetParameter loads a parameter with its type name and unit.
func (r *HierarchyRepository) GetParameter(ctx context.Context, id int64) (*masterdata.Parameter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("hierarchy repo: nil db")
	}
	var param masterdata.Parameter
	var typeName, unit sql.NullString
	err := r.db.QueryRowContext(ctx, `
SELECT p.parameter_id, p.actuator_id, p.parameter_type_id, pt.parameter_type_name, pt.parameter_unit
FROM parameters p
LEFT JOIN parameter_types pt ON pt.parameter_type_id = p.parameter_type_id
WHERE p.parameter_id = $1`, id).Scan(&param.ID, &param.ActuatorID, &param.TypeID, &typeName, &unit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	param.TypeName = typeName.String
	param.Unit = unit.String
	return &param, nil
}

// ShopIDsForLines returns the distinct shop ids owning the given lines.
func (r *HierarchyRepository) ShopIDsForLines(ctx context.Context, lineIDs []int64) ([]int64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("hierarchy repo: nil db")
	}
	if len(lineIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT shop_id
FROM lines
WHERE line_id = ANY($1)`, lineIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
