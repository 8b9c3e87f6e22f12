/*
 * @module api/controllers/batch_controller_test
 * @description 批次控制器与健康检查单元测试
 * @architecture 测试层
 * @stateFlow 测试准备 -> 请求构建 -> 响应验证
 * @rules 导入、查询、执行接口的响应格式与错误映射
 * @dependencies testing, net/http/httptest, stretchr/testify
 */

package controllers

import (
	"bytes"
	"catalog-hub/service/batch"
	"catalog-hub/service/ingest"
	"catalog-hub/service/meta"
	"catalog-hub/service/models"
	"catalog-hub/service/pipeline"
	"catalog-hub/testutil"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngester struct {
	run       *models.BatchRun
	duplicate bool
	err       error
	got       ingest.Request
}

func (f *fakeIngester) Ingest(_ context.Context, req ingest.Request) (*models.BatchRun, bool, error) {
	f.got = req
	return f.run, f.duplicate, f.err
}

type fakeExecutor struct {
	err error
}

func (f *fakeExecutor) Run(_ context.Context, batchID string) (*pipeline.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{BatchID: batchID, Status: meta.BatchStatusCompleted, Stats: batch.NewStats()}, nil
}

func (f *fakeExecutor) Rerun(ctx context.Context, batchID string) (*pipeline.Result, error) {
	return f.Run(ctx, batchID)
}

func newBatchRouter(c *BatchController) http.Handler {
	r := chi.NewRouter()
	r.Post("/batches/ingest", c.Ingest)
	r.Get("/batches", c.ListBatches)
	r.Get("/batches/{id}", c.GetBatch)
	r.Get("/batches/{id}/errors", c.ListErrors)
	r.Post("/batches/{id}/run", c.RunBatch)
	r.Post("/batches/{id}/rerun", c.RerunBatch)
	return r
}

func serve(t *testing.T, h http.Handler, method, path string, body []byte) APIResponse {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var response APIResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return response
}

// TestIngest 测试导入接口
func TestIngest(t *testing.T) {
	ingester := &fakeIngester{run: &models.BatchRun{BatchID: "b1", Status: meta.BatchStatusRunning}}
	h := newBatchRouter(NewBatchController(nil, ingester, &fakeExecutor{}))

	body, _ := json.Marshal(ingest.Request{CompanyCode: "C001", SourceURI: "minio://imports/a.csv", Encoding: "SHIFT_JIS"})
	response := serve(t, h, http.MethodPost, "/batches/ingest", body)
	assert.Equal(t, StatusOK, response.Status)
	assert.Equal(t, "导入成功", response.Msg)
	assert.Equal(t, "SHIFT_JIS", ingester.got.Encoding)

	data, ok := response.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, data["duplicate"])

	ingester.duplicate = true
	response = serve(t, h, http.MethodPost, "/batches/ingest", body)
	assert.Equal(t, "源文件已导入", response.Msg)

	response = serve(t, h, http.MethodPost, "/batches/ingest", []byte("{"))
	assert.Equal(t, StatusBadRequest, response.Status)

	response = serve(t, h, http.MethodPost, "/batches/ingest", []byte(`{"data_kind":"ORDER"}`))
	assert.Equal(t, StatusBadRequest, response.Status)

	ingester.err = errors.New("缺少必需列: product_cd")
	response = serve(t, h, http.MethodPost, "/batches/ingest", body)
	assert.Equal(t, StatusInternalError, response.Status)
	assert.Contains(t, response.Msg, "product_cd")
}

// TestQueryBatches 测试批次与错误查询接口
func TestQueryBatches(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	f := testutil.NewTestDataFactory(tdb.DB)

	done := f.CreateBatch(testutil.WithStatus(meta.BatchStatusCompleted))
	f.CreateBatch()
	f.CreateBatch(testutil.WithCompany("C002"))

	recorder := batch.NewErrorRecorder(tdb.DB)
	for _, step := range []string{meta.StepIngest, meta.StepUpsert} {
		require.NoError(t, recorder.Record(context.Background(), models.RecordError{
			BatchID: done.BatchID, Step: step, ErrorCode: meta.ErrCodeUpsertFailed,
		}))
	}

	h := newBatchRouter(NewBatchController(tdb.DB, &fakeIngester{}, &fakeExecutor{}))

	t.Run("分页查询", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/batches?company_code=C001&size=1", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		var response PaginatedResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, StatusOK, response.Status)
		assert.Equal(t, int64(2), response.Total)
		assert.Equal(t, 1, response.Size)
		assert.Len(t, response.Data, 1)
	})

	t.Run("按状态过滤", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/batches?status=COMPLETED", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		var response PaginatedResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, int64(1), response.Total)

		response2 := serve(t, h, http.MethodGet, "/batches?status=UNKNOWN", nil)
		assert.Equal(t, StatusBadRequest, response2.Status)
	})

	t.Run("批次详情", func(t *testing.T) {
		response := serve(t, h, http.MethodGet, "/batches/"+done.BatchID, nil)
		assert.Equal(t, StatusOK, response.Status)
		data := response.Data.(map[string]interface{})
		assert.Equal(t, done.BatchID, data["batch_id"])

		response = serve(t, h, http.MethodGet, "/batches/missing", nil)
		assert.Equal(t, StatusNotFound, response.Status)
	})

	t.Run("记录级错误", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/batches/"+done.BatchID+"/errors?step=UPSERT", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		var response PaginatedResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, int64(1), response.Total)
	})
}

// TestRunBatch 测试执行与重跑接口的错误映射
func TestRunBatch(t *testing.T) {
	executor := &fakeExecutor{}
	h := newBatchRouter(NewBatchController(nil, &fakeIngester{}, executor))

	response := serve(t, h, http.MethodPost, "/batches/b1/run", nil)
	assert.Equal(t, StatusOK, response.Status)
	data := response.Data.(map[string]interface{})
	assert.Equal(t, "b1", data["batch_id"])
	assert.Equal(t, meta.BatchStatusCompleted, data["status"])

	for _, err := range []error{pipeline.ErrNotClaimable, batch.ErrNotReopenable, batch.ErrLeaseLost} {
		executor.err = err
		response = serve(t, h, http.MethodPost, "/batches/b1/rerun", nil)
		assert.Equal(t, StatusConflict, response.Status, err.Error())
	}

	executor.err = errors.New("数据库不可用")
	response = serve(t, h, http.MethodPost, "/batches/b1/run", nil)
	assert.Equal(t, StatusInternalError, response.Status)
}

// TestHealth 测试健康检查与就绪检查
func TestHealth(t *testing.T) {
	tdb := testutil.NewTestDB()
	controller := NewHealthController(tdb.DB)

	w := httptest.NewRecorder()
	controller.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	controller.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var response HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "ready", response.Status)
	assert.Equal(t, serviceName, response.Service)

	tdb.Close()
	w = httptest.NewRecorder()
	controller.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
