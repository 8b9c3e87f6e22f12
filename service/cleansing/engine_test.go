package cleansing

import (
	"catalog-hub/service/meta"
	"catalog-hub/service/models"
	"catalog-hub/service/reference"
	"catalog-hub/service/registry"
	"catalog-hub/testutil"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// EngineTestSuite 清洗引擎测试套件
type EngineTestSuite struct {
	suite.Suite
	testDB  *testutil.TestDB
	factory *testutil.TestDataFactory
	batch   *models.BatchRun
	ctx     context.Context
}

func (s *EngineTestSuite) SetupTest() {
	s.testDB = testutil.NewTestDB()
	s.factory = testutil.NewTestDataFactory(s.testDB.DB)
	s.factory.SeedCatalog()
	s.batch = s.factory.CreateBatch()
	s.ctx = context.Background()
}

func (s *EngineTestSuite) TearDownTest() {
	s.testDB.Close()
}

// process 清洗一条暂存记录，按属性代码返回结果
func (s *EngineTestSuite) process(cols ...models.ColumnDescriptor) map[string]*models.CleansedAttribute {
	rec := s.factory.CreateStagedRecord(s.batch, 2, cols...)

	allow, err := reference.NewAllowList()
	s.Require().NoError(err)
	snap, err := registry.Load(s.ctx, s.testDB.DB, meta.DataKindProduct, allow)
	s.Require().NoError(err)

	engine := NewEngine(snap, reference.NewResolver(s.testDB.DB, reference.NewMemoryCache()), EngineOptions{
		BatchID:        s.batch.BatchID,
		SourceSystem:   "VENDOR_CSV",
		Profile:        s.batch.Profile,
		IdempotencyKey: s.batch.IdempotencyKey,
		RuleVersion:    "v0",
	})

	attrs, _, err := Extract(rec, snap)
	s.Require().NoError(err)

	out := make(map[string]*models.CleansedAttribute, len(attrs))
	for _, a := range attrs {
		chain := snap.PolicyChain(a.AttrCode, a.CompanyCode, a.BrandCode, a.CategoryCode)
		res, err := engine.ProcessAttribute(s.ctx, a, chain)
		s.Require().NoError(err)
		out[a.AttrCode] = res
	}
	return out
}

func (s *EngineTestSuite) issueCodes(a *models.CleansedAttribute) []string {
	var detail QualityDetail
	s.Require().NoError(a.QualityDetail.Decode(&detail))
	codes := make([]string, 0, len(detail.Issues))
	for _, i := range detail.Issues {
		codes = append(codes, i.Code)
	}
	return codes
}

func (s *EngineTestSuite) TestStandardRow() {
	out := s.process(testutil.ProductRow(" a001 ", " seiko", "WATCH", "腕時計 SBGA", "１２,０００",
		testutil.Col("color_cd", "BK"),
		testutil.Col("color_name", "ブラック"),
		testutil.AttrCol("MATERIAL", "steel"),
	)...)

	code := out[meta.AttrProductCode]
	s.Require().NotNil(code)
	s.Equal(meta.QualityOK, code.QualityStatus)
	s.Equal("A001", *code.ValueText)
	s.Equal("v1", code.RuleVersion)

	brand := out[meta.AttrBrand]
	s.Equal(meta.QualityOK, brand.QualityStatus)
	s.Equal("SEIKO", *brand.ValueCode)
	s.Equal("セイコー", *brand.ValueLabel)
	s.Nil(brand.ValueText)
	s.Equal("BRAND_MAP", brand.Provenance["dictionary"])
	s.Equal(meta.MatchModeID, brand.Provenance["match_mode"])
	s.Equal("brand.brand_code", brand.Provenance["lineage"])

	price := out["PRICE"]
	s.Equal(meta.QualityOK, price.QualityStatus)
	s.True(price.ValueNum.Valid)
	s.Equal("12000", price.ValueNum.Decimal.String())

	date := out["RELEASE_DATE"]
	s.Equal(meta.QualityOK, date.QualityStatus)
	s.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *date.ValueDate)

	name := out["PRODUCT_NAME"]
	s.Equal("腕時計 SBGA", *name.ValueText)

	color := out["COLOR"]
	s.Equal(meta.QualityOK, color.QualityStatus)
	s.Equal("BLACK", *color.ValueCode)
	s.Equal("黒", *color.ValueLabel)

	s.Equal("steel", *out["MATERIAL"].ValueText)

	// 规则版本缺省时取引擎配置
	s.Equal("v0", out["MATERIAL"].RuleVersion)
	s.Equal("VENDOR_CSV", out["MATERIAL"].Provenance["source_system"])
	s.Equal(s.batch.BatchID, out["MATERIAL"].Provenance["batch_id"])
}

func (s *EngineTestSuite) TestMissingRequiredIsNG() {
	out := s.process(testutil.ProductRow("   ", "SEIKO", "WATCH", "x", "100")...)

	code := out[meta.AttrProductCode]
	s.Equal(meta.QualityNG, code.QualityStatus)
	s.True(code.IsEmpty())
	s.Contains(s.issueCodes(code), meta.IssueMissingRequired)
}

func (s *EngineTestSuite) TestUnresolvedOptionalReferenceIsWarnWithNullValue() {
	out := s.process(testutil.ProductRow("A001", "ROLEX", "WATCH", "x", "100")...)

	brand := out[meta.AttrBrand]
	s.Equal(meta.QualityWarn, brand.QualityStatus)
	s.True(brand.IsEmpty())
	s.Equal("ROLEX", brand.SourceID)
	s.Contains(s.issueCodes(brand), meta.IssueRefUnresolved)
}

func (s *EngineTestSuite) TestRawFallbackKeepsSourceValue() {
	s.factory.CreatePolicy(meta.AttrBrand, 3, "RAW_FALLBACK")
	out := s.process(testutil.ProductRow("A001", "rolex", "WATCH", "x", "100")...)

	brand := out[meta.AttrBrand]
	s.Equal(meta.QualityWarn, brand.QualityStatus)
	s.Nil(brand.ValueCode)
	s.Equal("ROLEX", *brand.ValueText)
	s.Contains(s.issueCodes(brand), meta.IssueRawFallback)
}

func (s *EngineTestSuite) TestRequiredReferenceUnresolvedIsNG() {
	s.factory.CreatePolicy(meta.AttrCategory, 1, "REQUIRED")
	out := s.process(testutil.ProductRow("A001", "SEIKO", "UNKNOWN", "x", "100")...)

	s.Equal(meta.QualityNG, out[meta.AttrCategory].QualityStatus)
}

func (s *EngineTestSuite) TestCastFailureOnOptionalIsWarn() {
	out := s.process(testutil.ProductRow("A001", "SEIKO", "WATCH", "x", "abc")...)

	price := out["PRICE"]
	s.Equal(meta.QualityWarn, price.QualityStatus)
	s.False(price.ValueNum.Valid)
	s.Contains(s.issueCodes(price), meta.IssueCastFailed)
}

func (s *EngineTestSuite) TestBlankOptionalIsOKWithoutValue() {
	out := s.process(testutil.ProductRow("A001", "SEIKO", "WATCH", "x", " ")...)

	price := out["PRICE"]
	s.Equal(meta.QualityOK, price.QualityStatus)
	s.True(price.IsEmpty())
}

func (s *EngineTestSuite) TestValidationFailure() {
	s.factory.CreatePolicy("MATERIAL", 1, "MAX_LENGTH", testutil.WithParams(models.JSONB{"max": 3}))
	s.factory.CreatePolicy("PRICE", 2, "RANGE", testutil.WithParams(models.JSONB{"min": "1", "max": "1000"}))

	out := s.process(testutil.ProductRow("A001", "SEIKO", "WATCH", "x", "5000",
		testutil.AttrCol("MATERIAL", "steel"))...)

	s.Equal(meta.QualityWarn, out["MATERIAL"].QualityStatus)
	s.Nil(out["MATERIAL"].ValueText)
	s.Contains(s.issueCodes(out["MATERIAL"]), meta.IssueValidationFailed)

	s.Equal(meta.QualityWarn, out["PRICE"].QualityStatus)
	s.False(out["PRICE"].ValueNum.Valid)
}

func (s *EngineTestSuite) TestDateFormatPolicy() {
	s.factory.CreatePolicy("RELEASE_DATE", 1, "DATE_FORMAT", testutil.WithParams(models.JSONB{"format": "dd.MM.yyyy"}))
	cols := testutil.ProductRow("A001", "SEIKO", "WATCH", "x", "100")
	cols[6] = testutil.Col("release_date", "15.07.2023")

	out := s.process(cols...)

	date := out["RELEASE_DATE"]
	s.Equal(meta.QualityOK, date.QualityStatus)
	s.Equal(time.Date(2023, 7, 15, 0, 0, 0, 0, time.UTC), *date.ValueDate)
}

func (s *EngineTestSuite) TestMissingMappingIsUnresolved() {
	s.factory.CreateDefinition("SIZE", meta.DataTypeList, testutil.AsEAV(), testutil.WithRefMapping("SIZE_MAP"))
	out := s.process(testutil.ProductRow("A001", "SEIKO", "WATCH", "x", "100",
		testutil.AttrCol("SIZE", "L"))...)

	size := out["SIZE"]
	s.Equal(meta.QualityWarn, size.QualityStatus)
	s.True(size.IsEmpty())
	s.Contains(s.issueCodes(size), meta.IssueRefMappingMissing)
}

func (s *EngineTestSuite) TestUnknownMatchModeFailsClosed() {
	s.factory.CreatePolicy(meta.AttrBrand, 3, "MATCH_MODE", testutil.WithParams(models.JSONB{"mode": "fuzzy"}))
	out := s.process(testutil.ProductRow("A001", "SEIKO", "WATCH", "x", "100")...)

	brand := out[meta.AttrBrand]
	s.Equal(meta.QualityWarn, brand.QualityStatus)
	s.Nil(brand.ValueCode)
	s.Equal("FUZZY", brand.Provenance["match_mode"])
}

func (s *EngineTestSuite) TestUnknownFunctionIsSkipped() {
	s.factory.CreatePolicy("MATERIAL", 1, "EVAL", testutil.WithParams(models.JSONB{"script": "os.exit"}))
	out := s.process(testutil.ProductRow("A001", "SEIKO", "WATCH", "x", "100",
		testutil.AttrCol("MATERIAL", " steel "))...)

	material := out["MATERIAL"]
	s.Equal(meta.QualityOK, material.QualityStatus)
	s.Equal("steel", *material.ValueText)
	s.Contains(s.issueCodes(material), meta.IssueUnknownFunction)
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}
