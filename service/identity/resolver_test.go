package identity

import (
	"catalog-hub/service/models"
	"catalog-hub/testutil"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestEnsureIdentity(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	ctx := context.Background()
	r := NewResolver()

	ensure := func(company, code string) (int64, bool) {
		var (
			id    int64
			isNew bool
		)
		require.NoError(t, tdb.DB.Transaction(func(tx *gorm.DB) error {
			var err error
			id, isNew, err = r.EnsureIdentity(ctx, tx, company, code)
			return err
		}))
		return id, isNew
	}

	t.Run("新代码分配代理键", func(t *testing.T) {
		id, isNew := ensure("C001", "A001")
		assert.True(t, isNew)
		assert.Equal(t, int64(1), id)
	})

	t.Run("重复调用返回同一代理键", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			id, isNew := ensure("C001", "A001")
			assert.False(t, isNew)
			assert.Equal(t, int64(1), id)
		}
	})

	t.Run("公司不同视为不同商品", func(t *testing.T) {
		id, isNew := ensure("C002", "A001")
		assert.True(t, isNew)
		assert.Equal(t, int64(2), id)
	})

	t.Run("失效身份不再匹配", func(t *testing.T) {
		require.NoError(t, tdb.DB.Model(&models.ProductIdentity{}).
			Where("company_code = ? AND source_product_code = ?", "C002", "A001").
			Update("is_active", false).Error)

		id, isNew := ensure("C002", "A001")
		assert.True(t, isNew)
		assert.Equal(t, int64(3), id)
	})

	var active int64
	tdb.DB.Model(&models.ProductIdentity{}).Where("is_active = ?", true).Count(&active)
	assert.Equal(t, int64(2), active)
}

func TestEnsureIdentityRollsBackWithOuterTransaction(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	ctx := context.Background()
	r := NewResolver()

	err := tdb.DB.Transaction(func(tx *gorm.DB) error {
		_, _, err := r.EnsureIdentity(ctx, tx, "C001", "A001")
		require.NoError(t, err)
		return gorm.ErrInvalidData
	})
	require.ErrorIs(t, err, gorm.ErrInvalidData)

	var count int64
	tdb.DB.Model(&models.ProductIdentity{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestDuplicateActiveIdentityRejected(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()

	require.NoError(t, tdb.DB.Create(&models.ProductIdentity{
		GProductID: 10, CompanyCode: "C001", SourceProductCode: "A001", IsActive: true,
	}).Error)

	created, err := tryInsert(tdb.DB, "C001", "A001", 11)
	require.NoError(t, err)
	assert.False(t, created)

	created, err = tryInsert(tdb.DB, "C001", "A002", 10)
	require.NoError(t, err)
	assert.False(t, created, "代理键碰撞同样视为冲突")
}

func TestEnsureIdentityReturnsConcurrentWinner(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	ctx := context.Background()

	// 首次查询有效身份未命中后，另一事务抢先提交同一代码
	fired := false
	require.NoError(t, tdb.DB.Callback().Query().After("gorm:query").Register("test:competing_identity", func(db *gorm.DB) {
		if fired || db.Statement.Table != (models.ProductIdentity{}).TableName() {
			return
		}
		fired = true
		err := db.Session(&gorm.Session{NewDB: true}).Exec(
			"INSERT INTO product_identity (g_product_id, company_code, source_product_code, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			42, "C001", "A001", true, time.Now(), time.Now()).Error
		require.NoError(t, err)
	}))

	var (
		id    int64
		isNew bool
	)
	require.NoError(t, tdb.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		id, isNew, err = NewResolver().EnsureIdentity(ctx, tx, "C001", "A001")
		return err
	}))

	assert.True(t, fired)
	assert.Equal(t, int64(42), id)
	assert.False(t, isNew)

	var active int64
	tdb.DB.Model(&models.ProductIdentity{}).
		Where("company_code = ? AND source_product_code = ? AND is_active = ?", "C001", "A001", true).
		Count(&active)
	assert.Equal(t, int64(1), active)

	var total int64
	tdb.DB.Model(&models.ProductIdentity{}).Count(&total)
	assert.Equal(t, int64(1), total, "落败的插入已随保存点回滚")
}
