package models

// Brand 品牌参照表
type Brand struct {
	BrandID   int64  `json:"brand_id" gorm:"primaryKey;autoIncrement"`
	BrandCode string `json:"brand_code" gorm:"not null;size:128;uniqueIndex"`
	BrandName string `json:"brand_name" gorm:"size:255"`
}

// TableName 指定表名
func (Brand) TableName() string {
	return "brand"
}

// Category 品类参照表
type Category struct {
	CategoryID   int64  `json:"category_id" gorm:"primaryKey;autoIncrement"`
	CategoryCode string `json:"category_code" gorm:"not null;size:128;uniqueIndex"`
	CategoryName string `json:"category_name" gorm:"size:255"`
}

// TableName 指定表名
func (Category) TableName() string {
	return "category"
}

// RefDictionary 通用代码字典，按 dict_type 区分
type RefDictionary struct {
	ID        int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	DictType  string `json:"dict_type" gorm:"not null;size:64;index:idx_ref_dict_lookup,priority:1"`
	ItemID    string `json:"item_id" gorm:"not null;size:128;index:idx_ref_dict_lookup,priority:2"`
	ItemLabel string `json:"item_label" gorm:"size:255"`
	ItemCode  string `json:"item_code" gorm:"not null;size:128"`
}

// TableName 指定表名
func (RefDictionary) TableName() string {
	return "ref_dictionary"
}

// RefCrosswalk 公司代码到标准代码的对照表，两跳解析的第一跳
type RefCrosswalk struct {
	ID          int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	CompanyCode string `json:"company_code" gorm:"not null;size:32;index:idx_ref_crosswalk_lookup,priority:1"`
	SourceID    string `json:"source_id" gorm:"not null;size:128;index:idx_ref_crosswalk_lookup,priority:2"`
	SourceLabel string `json:"source_label" gorm:"size:255"`
	DictType    string `json:"dict_type" gorm:"not null;size:64"`
	StandardID  string `json:"standard_id" gorm:"not null;size:128"`
}

// TableName 指定表名
func (RefCrosswalk) TableName() string {
	return "ref_crosswalk"
}
