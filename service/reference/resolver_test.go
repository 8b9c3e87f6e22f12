package reference

import (
	"catalog-hub/service/meta"
	"catalog-hub/service/models"
	"catalog-hub/testutil"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ResolverTestSuite 参照解析测试套件
type ResolverTestSuite struct {
	suite.Suite
	testDB  *testutil.TestDB
	factory *testutil.TestDataFactory
	allow   *AllowList
	ctx     context.Context
}

func (s *ResolverTestSuite) SetupTest() {
	s.testDB = testutil.NewTestDB()
	s.factory = testutil.NewTestDataFactory(s.testDB.DB)
	s.factory.SeedCatalog()

	allow, err := NewAllowList()
	s.Require().NoError(err)
	s.allow = allow
	s.ctx = context.Background()
}

func (s *ResolverTestSuite) TearDownTest() {
	s.testDB.Close()
}

func (s *ResolverTestSuite) compile(code string) *Mapping {
	var row models.ReferenceMapping
	s.Require().NoError(s.testDB.DB.Where("mapping_code = ?", code).First(&row).Error)
	m, err := Compile(row, s.allow)
	s.Require().NoError(err)
	return m
}

func (s *ResolverTestSuite) TestSingleHop() {
	r := NewResolver(s.testDB.DB)

	res, err := r.Resolve(s.ctx, s.compile("BRAND_MAP"), " SEIKO ", "")
	s.Require().NoError(err)
	s.True(res.Found)
	s.Equal("SEIKO", res.Code)
	s.Equal("セイコー", res.Label)
}

func (s *ResolverTestSuite) TestSingleHopWithFilter() {
	r := NewResolver(s.testDB.DB)
	m := s.compile("CURRENCY_MAP")

	res, err := r.Resolve(s.ctx, m, "JPY", "")
	s.Require().NoError(err)
	s.True(res.Found)
	s.Equal("JPY", res.Code)

	// 过滤列限定为 CURRENCY，颜色字典的 id 不会命中
	res, err = r.Resolve(s.ctx, m, "01", "")
	s.Require().NoError(err)
	s.False(res.Found)
	s.Equal(ReasonNotFound, res.Reason)
}

func (s *ResolverTestSuite) TestTwoHop() {
	r := NewResolver(s.testDB.DB)

	res, err := r.Resolve(s.ctx, s.compile("COLOR_MAP"), "BK", "ブラック")
	s.Require().NoError(err)
	s.True(res.Found)
	s.Equal("BLACK", res.Code)
	s.Equal("黒", res.Label)
}

func (s *ResolverTestSuite) TestMatchModeIDIgnoresLabel() {
	r := NewResolver(s.testDB.DB)
	m := s.compile("BRAND_MAP")

	res, err := r.Resolve(s.ctx, m, "", "カシオ")
	s.Require().NoError(err)
	s.False(res.Found)
	s.Equal(ReasonEmptyKey, res.Reason)

	auto := *m
	auto.MatchMode = meta.MatchModeAuto
	res, err = r.Resolve(s.ctx, &auto, "", "カシオ")
	s.Require().NoError(err)
	s.True(res.Found)
	s.Equal("CASIO", res.Code)
}

func (s *ResolverTestSuite) TestUnknownMatchModeFailsClosed() {
	r := NewResolver(s.testDB.DB)
	m := s.compile("BRAND_MAP")
	m.MatchMode = "FUZZY"

	res, err := r.Resolve(s.ctx, m, "SEIKO", "")
	s.Require().NoError(err)
	s.False(res.Found)
	s.Empty(res.Code)
	s.Equal(ReasonUnknownMatchMode, res.Reason)
}

func (s *ResolverTestSuite) TestNilMapping() {
	r := NewResolver(s.testDB.DB)

	res, err := r.Resolve(s.ctx, nil, "SEIKO", "")
	s.Require().NoError(err)
	s.False(res.Found)
	s.Equal(ReasonMappingMissing, res.Reason)
}

func (s *ResolverTestSuite) TestSourceValueIsBoundParameter() {
	r := NewResolver(s.testDB.DB)

	res, err := r.Resolve(s.ctx, s.compile("BRAND_MAP"), "x' OR '1'='1", "")
	s.Require().NoError(err)
	s.False(res.Found)
}

func (s *ResolverTestSuite) TestCacheServesRepeatedLookups() {
	mem := NewMemoryCache()
	r := NewResolver(s.testDB.DB, mem)
	m := s.compile("BRAND_MAP")

	_, err := r.Resolve(s.ctx, m, "SEIKO", "")
	s.Require().NoError(err)
	_, err = r.Resolve(s.ctx, m, "ROLEX", "")
	s.Require().NoError(err)
	s.Equal(2, mem.Len())

	// 参照表在批次内只读：删除后仍由缓存返回
	s.Require().NoError(s.testDB.DB.Where("brand_code = ?", "SEIKO").Delete(&models.Brand{}).Error)
	res, err := r.Resolve(s.ctx, m, "SEIKO", "")
	s.Require().NoError(err)
	s.True(res.Found)
	s.Equal(2, mem.Len())
}

func (s *ResolverTestSuite) TestLowerCacheBackfillsUpper() {
	l1, l2 := NewMemoryCache(), NewMemoryCache()
	m := s.compile("BRAND_MAP")

	_, err := NewResolver(s.testDB.DB, l2).Resolve(s.ctx, m, "CASIO", "")
	s.Require().NoError(err)
	s.Equal(0, l1.Len())

	res, err := NewResolver(s.testDB.DB, l1, l2).Resolve(s.ctx, m, "CASIO", "")
	s.Require().NoError(err)
	s.True(res.Found)
	s.Equal(1, l1.Len())
}

func (s *ResolverTestSuite) TestSharedCacheKeepsOnlyHits() {
	shared := NewMemoryCache()
	m := s.compile("BRAND_MAP")

	first := NewResolver(s.testDB.DB, NewMemoryCache(), HitsOnly(shared))
	res, err := first.Resolve(s.ctx, m, "ROLEX", "")
	s.Require().NoError(err)
	s.False(res.Found)
	_, err = first.Resolve(s.ctx, m, "SEIKO", "")
	s.Require().NoError(err)
	s.Equal(1, shared.Len())

	// 批次之间新增的品牌，下一批次即可解析
	s.factory.CreateBrand("ROLEX", "ロレックス")
	next := NewResolver(s.testDB.DB, NewMemoryCache(), HitsOnly(shared))
	res, err = next.Resolve(s.ctx, m, "ROLEX", "")
	s.Require().NoError(err)
	s.True(res.Found)
	s.Equal("ROLEX", res.Code)
	s.Equal(2, shared.Len())
}

func (s *ResolverTestSuite) TestAutoMatchRequiresIDAndLabel() {
	r := NewResolver(s.testDB.DB)
	auto := *s.compile("BRAND_MAP")
	auto.MatchMode = meta.MatchModeAuto

	res, err := r.Resolve(s.ctx, &auto, "SEIKO", "セイコー")
	s.Require().NoError(err)
	s.True(res.Found)
	s.Equal("SEIKO", res.Code)

	res, err = r.Resolve(s.ctx, &auto, "SEIKO", "カシオ")
	s.Require().NoError(err)
	s.False(res.Found)
	s.Equal(ReasonNotFound, res.Reason)

	id := *s.compile("BRAND_MAP")
	res, err = r.Resolve(s.ctx, &id, "SEIKO", "カシオ")
	s.Require().NoError(err)
	s.True(res.Found, "ID 模式忽略名称")
}

func TestResolverTestSuite(t *testing.T) {
	suite.Run(t, new(ResolverTestSuite))
}

func TestCompile(t *testing.T) {
	allow, err := NewAllowList()
	require.NoError(t, err)

	t.Run("两跳映射缺少连接定义", func(t *testing.T) {
		_, err := Compile(models.ReferenceMapping{
			MappingCode:      "COLOR_MAP",
			Shape:            meta.ShapeTwoHop,
			SourceTable:      "ref_crosswalk",
			IDColumn:         "source_id",
			JoinTable:        "ref_dictionary",
			ReturnCodeColumn: "item_code",
		}, allow)
		assert.ErrorIs(t, err, ErrMissingJoin)
	})

	t.Run("表名不在白名单", func(t *testing.T) {
		_, err := Compile(models.ReferenceMapping{
			MappingCode:      "USER_MAP",
			Shape:            meta.ShapeSingleHop,
			SourceTable:      "pg_user",
			IDColumn:         "usename",
			ReturnCodeColumn: "passwd",
		}, allow)
		assert.ErrorIs(t, err, ErrIdentifierNotAllowed)
	})

	t.Run("列名不在白名单", func(t *testing.T) {
		_, err := Compile(models.ReferenceMapping{
			MappingCode:      "BRAND_MAP",
			Shape:            meta.ShapeSingleHop,
			SourceTable:      "brand",
			IDColumn:         "brand_code; DROP TABLE brand",
			ReturnCodeColumn: "brand_code",
		}, allow)
		assert.ErrorIs(t, err, ErrIdentifierNotAllowed)
	})

	t.Run("未知形态", func(t *testing.T) {
		_, err := Compile(models.ReferenceMapping{
			MappingCode:      "BRAND_MAP",
			Shape:            "THREE_HOP",
			SourceTable:      "brand",
			IDColumn:         "brand_code",
			ReturnCodeColumn: "brand_code",
		}, allow)
		assert.ErrorIs(t, err, ErrUnknownShape)
	})

	t.Run("两跳连接按源列排序", func(t *testing.T) {
		m, err := Compile(models.ReferenceMapping{
			MappingCode:      "COLOR_MAP",
			Shape:            meta.ShapeTwoHop,
			SourceTable:      "ref_crosswalk",
			IDColumn:         "source_id",
			JoinTable:        "ref_dictionary",
			JoinColumns:      models.JSONB{"standard_id": "item_id", "dict_type": "dict_type"},
			ReturnCodeColumn: "item_code",
		}, allow)
		require.NoError(t, err)
		hop, ok := m.Shape.(TwoHop)
		require.True(t, ok)
		assert.Equal(t, []ColumnPair{{From: "dict_type", To: "dict_type"}, {From: "standard_id", To: "item_id"}}, hop.Join)
		assert.Equal(t, meta.MatchModeID, m.MatchMode)
		assert.Equal(t, "ref_crosswalk->ref_dictionary.item_code", m.Lineage())
	})
}
