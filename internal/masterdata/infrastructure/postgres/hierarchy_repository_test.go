package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	masterdata "msm-monitoring/internal/masterdata/domain"
)

func TestHierarchyRepository_GetShopByName(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM shops").
		WithArgs("Агломерационный цех").
		WillReturnRows(sqlmock.NewRows([]string{"shop_id", "shop_name"}).AddRow(int64(1), "Агломерационный цех"))
	mock.ExpectQuery("FROM shops").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"shop_id", "shop_name"}))

	repo := NewHierarchyRepository(db)
	shop, err := repo.GetShopByName(context.Background(), "Агломерационный цех")
	require.NoError(t, err)
	require.NotNil(t, shop)
	assert.Equal(t, int64(1), shop.ID)

	shop, err = repo.GetShopByName(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, shop)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHierarchyRepository_GetLineByShopAndType(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM lines").
		WithArgs(int64(1), "Вторая").
		WillReturnRows(sqlmock.NewRows([]string{"line_id", "shop_id", "line_type"}).AddRow(int64(12), int64(1), "Вторая"))

	line, err := NewHierarchyRepository(db).GetLineByShopAndType(context.Background(), 1, masterdata.LineSecond)
	require.NoError(t, err)
	require.NotNil(t, line)
	assert.Equal(t, int64(12), line.ID)
	assert.Equal(t, masterdata.LineSecond, line.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAncestryScanBrokenLink(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{
		"parameter_id", "actuator_id", "parameter_type_id", "parameter_type_name", "parameter_unit",
		"actuator_id", "aggregate_id", "actuator_type_id", "actuator_type_name",
		"aggregate_id", "line_id", "aggregate_type_id", "aggregate_type_name",
		"line_id", "shop_id", "line_type",
		"shop_id", "shop_name",
	}
	mock.ExpectQuery("FROM parameters p").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			int64(7), int64(3), int64(1), "Температура", "°C",
			int64(3), int64(2), int64(4), "Двигатель",
			nil, nil, nil, nil,
			nil, nil, nil,
			nil, nil,
		))

	var scan AncestryScan
	err = db.QueryRowContext(context.Background(),
		"SELECT "+AncestryColumns+" FROM parameters p"+AncestryJoin+" WHERE p.parameter_id = $1", int64(7)).
		Scan(scan.Dest()...)
	require.NoError(t, err)
	ancestry := scan.Ancestry()
	assert.Equal(t, "Температура", ancestry.ParameterType())
	assert.Equal(t, "°C", ancestry.Unit())
	assert.Equal(t, "Двигатель", ancestry.ActuatorType())
	assert.Nil(t, ancestry.Aggregate)
	assert.Nil(t, ancestry.Line)
	assert.Equal(t, masterdata.Placeholder, ancestry.ShopName())
	assert.Equal(t, masterdata.Placeholder, ancestry.LinePosition())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHierarchyRepository_ShopIDsForLinesEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ids, err := NewHierarchyRepository(db).ShopIDsForLines(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
