package testutil

import (
	"catalog-hub/service/meta"
	"catalog-hub/service/models"
)

// Catalog 标准测试目录配置
type Catalog struct {
	Seiko *models.Brand
	Casio *models.Brand
	Watch *models.Category
	Clock *models.Category
}

// SeedCatalog 创建一套覆盖主表、EAV、管理实体与两跳参照的配置
//
// 固定列：product_cd, brand_cd, category_cd, product_name, price, currency,
// release_date, color_cd/color_name, mgmt_cd；属性列：MATERIAL, WEIGHT, MGMT_NOTE
func (f *TestDataFactory) SeedCatalog() *Catalog {
	c := &Catalog{
		Seiko: f.CreateBrand("SEIKO", "セイコー"),
		Casio: f.CreateBrand("CASIO", "カシオ"),
		Watch: f.CreateCategory("WATCH", "腕時計"),
		Clock: f.CreateCategory("CLOCK", "置時計"),
	}

	f.mustCreate(&[]models.RefDictionary{
		{DictType: "COLOR", ItemID: "01", ItemLabel: "黒", ItemCode: "BLACK"},
		{DictType: "COLOR", ItemID: "02", ItemLabel: "白", ItemCode: "WHITE"},
		{DictType: "CURRENCY", ItemID: "JPY", ItemLabel: "円", ItemCode: "JPY"},
		{DictType: "CURRENCY", ItemID: "USD", ItemLabel: "ドル", ItemCode: "USD"},
	})
	f.mustCreate(&[]models.RefCrosswalk{
		{CompanyCode: "C001", SourceID: "BK", SourceLabel: "ブラック", DictType: "COLOR", StandardID: "01"},
		{CompanyCode: "C001", SourceID: "WH", SourceLabel: "ホワイト", DictType: "COLOR", StandardID: "02"},
	})

	f.CreateMapping(models.ReferenceMapping{
		MappingCode:       "BRAND_MAP",
		Shape:             meta.ShapeSingleHop,
		SourceTable:       "brand",
		IDColumn:          "brand_code",
		LabelColumn:       "brand_name",
		ReturnCodeColumn:  "brand_code",
		ReturnLabelColumn: "brand_name",
	})
	f.CreateMapping(models.ReferenceMapping{
		MappingCode:      "CATEGORY_MAP",
		Shape:            meta.ShapeSingleHop,
		SourceTable:      "category",
		IDColumn:         "category_code",
		ReturnCodeColumn: "category_code",
	})
	f.CreateMapping(models.ReferenceMapping{
		MappingCode:      "CURRENCY_MAP",
		Shape:            meta.ShapeSingleHop,
		SourceTable:      "ref_dictionary",
		FilterColumn:     "dict_type",
		FilterValue:      "CURRENCY",
		IDColumn:         "item_id",
		ReturnCodeColumn: "item_code",
	})
	f.CreateMapping(models.ReferenceMapping{
		MappingCode:       "COLOR_MAP",
		Shape:             meta.ShapeTwoHop,
		SourceTable:       "ref_crosswalk",
		FilterColumn:      "company_code",
		FilterValue:       "C001",
		IDColumn:          "source_id",
		LabelColumn:       "source_label",
		JoinTable:         "ref_dictionary",
		JoinColumns:       models.JSONB{"dict_type": "dict_type", "standard_id": "item_id"},
		ReturnCodeColumn:  "item_code",
		ReturnLabelColumn: "item_label",
	})

	f.CreateDefinition(meta.AttrProductCode, meta.DataTypeText)
	f.CreateDefinition("PRODUCT_NAME", meta.DataTypeText, AsMaster("g_product_name"), AsMgmtMaster("g_mgmt_name"))
	f.CreateDefinition(meta.AttrBrand, meta.DataTypeRef, AsMaster("g_brand_id"), AsMgmtMaster("g_brand_id"), WithRefMapping("BRAND_MAP"))
	f.CreateDefinition(meta.AttrCategory, meta.DataTypeRef, AsMaster("g_category_id"), WithRefMapping("CATEGORY_MAP"))
	f.CreateDefinition("PRICE", meta.DataTypeNum, AsMaster("g_price"))
	f.CreateDefinition("CURRENCY", meta.DataTypeList, AsMaster("g_currency"), WithRefMapping("CURRENCY_MAP"))
	f.CreateDefinition("RELEASE_DATE", meta.DataTypeDate, AsMaster("g_release_date"))
	f.CreateDefinition("COLOR", meta.DataTypeList, AsEAV(), WithRefMapping("COLOR_MAP"))
	f.CreateDefinition("MATERIAL", meta.DataTypeText, AsEAV())
	f.CreateDefinition("WEIGHT", meta.DataTypeNum, AsEAV(), WithUnit("g"))
	f.CreateDefinition(meta.AttrManagementCode, meta.DataTypeText)
	f.CreateDefinition("MGMT_NOTE", meta.DataTypeText, AsMgmtEAV())

	f.CreateFixedColumn(meta.AttrProductCode, "product_cd", "", meta.ValueRoleIDOnly)
	f.CreateFixedColumn(meta.AttrBrand, "brand_cd", "", meta.ValueRoleIDOnly)
	f.CreateFixedColumn(meta.AttrCategory, "category_cd", "", meta.ValueRoleIDOnly)
	f.CreateFixedColumn("PRODUCT_NAME", "", "product_name", meta.ValueRoleLabelOnly)
	f.CreateFixedColumn("PRICE", "price", "", meta.ValueRoleIDOnly)
	f.CreateFixedColumn("CURRENCY", "currency", "", meta.ValueRoleIDOnly)
	f.CreateFixedColumn("RELEASE_DATE", "release_date", "", meta.ValueRoleIDOnly)
	f.CreateFixedColumn("COLOR", "color_cd", "color_name", meta.ValueRoleIDLabel)
	f.CreateFixedColumn(meta.AttrManagementCode, "mgmt_cd", "", meta.ValueRoleIDOnly)

	f.CreatePolicy(meta.AttrProductCode, 1, "TRIM")
	f.CreatePolicy(meta.AttrProductCode, 2, "UPPER")
	f.CreatePolicy(meta.AttrProductCode, 3, "REQUIRED")
	f.CreatePolicy(meta.AttrBrand, 1, "TRIM")
	f.CreatePolicy(meta.AttrBrand, 2, "UPPER")
	f.CreatePolicy("PRICE", 1, "NFKC")
	f.CreatePolicy("COLOR", 1, "TRIM")

	return c
}

// ProductRow 构造一行标准商品数据，extra 追加在末尾
func ProductRow(code, brand, category, name, price string, extra ...models.ColumnDescriptor) []models.ColumnDescriptor {
	cols := []models.ColumnDescriptor{
		Col("product_cd", code),
		Col("brand_cd", brand),
		Col("category_cd", category),
		Col("product_name", name),
		Col("price", price),
		Col("currency", "JPY"),
		Col("release_date", "2024/03/01"),
	}
	return append(cols, extra...)
}
