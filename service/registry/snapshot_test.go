package registry

import (
	"catalog-hub/service/meta"
	"catalog-hub/service/models"
	"catalog-hub/service/reference"
	"catalog-hub/testutil"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadSnapshot(t *testing.T, tdb *testutil.TestDB) *Snapshot {
	t.Helper()
	allow, err := reference.NewAllowList()
	require.NoError(t, err)
	snap, err := Load(context.Background(), tdb.DB, meta.DataKindProduct, allow)
	require.NoError(t, err)
	return snap
}

func TestLoad(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	factory.SeedCatalog()

	// 无效映射：两跳缺少连接定义
	factory.CreateMapping(models.ReferenceMapping{
		MappingCode:      "BROKEN_MAP",
		Shape:            meta.ShapeTwoHop,
		SourceTable:      "ref_crosswalk",
		IDColumn:         "source_id",
		JoinTable:        "ref_dictionary",
		ReturnCodeColumn: "item_code",
	})
	// 无效数据类型
	factory.CreateDefinition("BAD_TYPE", "BLOB")

	snap := loadSnapshot(t, tdb)

	def, ok := snap.Definition("WEIGHT")
	require.True(t, ok)
	assert.Equal(t, "g", def.Unit)
	assert.True(t, def.IsGoldenEAV)

	_, ok = snap.Definition("BAD_TYPE")
	assert.False(t, ok)

	_, ok = snap.Mapping("COLOR_MAP")
	assert.True(t, ok)
	_, ok = snap.Mapping("BROKEN_MAP")
	assert.False(t, ok, "无法编译的映射视为缺失")
}

func TestFixedColumnsCompanyOverride(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	factory.SeedCatalog()

	override := &models.FixedColumnMapping{
		CompanyCode: "C002",
		DataKind:    meta.DataKindProduct,
		AttrCode:    "COLOR",
		AttrSeq:     1,
		IDColumn:    "colour",
		ValueRole:   meta.ValueRoleIDOnly,
		IsActive:    true,
	}
	require.NoError(t, tdb.DB.Create(override).Error)

	snap := loadSnapshot(t, tdb)

	find := func(company string) models.FixedColumnMapping {
		for _, m := range snap.FixedColumns(company) {
			if m.AttrCode == "COLOR" {
				return m
			}
		}
		t.Fatalf("COLOR 映射不存在 (company=%s)", company)
		return models.FixedColumnMapping{}
	}

	assert.Equal(t, "color_cd", find("C001").IDColumn)
	assert.Equal(t, "colour", find("C002").IDColumn)
	assert.Len(t, snap.FixedColumns("C001"), len(snap.FixedColumns("C002")))
}

func TestPolicyChainPrecedence(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)

	factory.CreatePolicy("NAME", 1, "TRIM")
	factory.CreatePolicy("NAME", 2, "UPPER")
	factory.CreatePolicy("NAME", 2, "LOWER", testutil.ForBrand("SEIKO"))
	factory.CreatePolicy("NAME", 2, "NFKC", testutil.ForCompany("C001"))
	factory.CreatePolicy("NAME", 3, "REQUIRED", testutil.ForCategory("WATCH"))
	factory.CreatePolicy("NAME", 0, "DEFAULT", testutil.ForCompany("C999"))

	snap := loadSnapshot(t, tdb)

	tests := []struct {
		name     string
		company  string
		brand    string
		category string
		want     []string
	}{
		{"只有通配策略", "C002", "CASIO", "CLOCK", []string{"TRIM", "UPPER"}},
		{"品牌作用域覆盖通配", "C002", "SEIKO", "CLOCK", []string{"TRIM", "LOWER"}},
		{"公司作用域优先于品牌", "C001", "SEIKO", "CLOCK", []string{"TRIM", "NFKC"}},
		{"品类作用域追加步骤", "C002", "CASIO", "WATCH", []string{"TRIM", "UPPER", "REQUIRED"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := snap.PolicyChain("NAME", tt.company, tt.brand, tt.category)
			assert.Equal(t, tt.want, chain.Functions())
			assert.Equal(t, "v1", chain.RuleVersion())
		})
	}

	assert.Empty(t, snap.PolicyChain("UNKNOWN", "C001", "", ""))
}

func TestBuildChainTieBreaksByID(t *testing.T) {
	chain := buildChain([]models.CleansePolicy{
		{ID: 9, StepNo: 1, Function: "UPPER", CompanyCode: "*", BrandCode: "*", CategoryCode: "*"},
		{ID: 3, StepNo: 1, Function: "LOWER", CompanyCode: "*", BrandCode: "*", CategoryCode: "*"},
	}, "C001", "", "")

	require.Len(t, chain, 1)
	assert.Equal(t, "LOWER", chain[0].Function)
}
