package pipeline

import (
	"catalog-hub/service/batch"
	"catalog-hub/service/ingest"
	"catalog-hub/service/meta"
	"catalog-hub/service/models"
	"catalog-hub/service/notify"
	"catalog-hub/testutil"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type recordingNotifier struct {
	events []notify.Event
}

func (n *recordingNotifier) BatchFinalized(_ context.Context, evt notify.Event) error {
	n.events = append(n.events, evt)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

var productHeaders = []string{"product_cd", "brand_cd", "category_cd", "product_name", "price", "currency", "release_date"}

// RunnerTestSuite 批次执行器端到端测试：导入 -> 清洗 -> Upsert -> 终态
type RunnerTestSuite struct {
	suite.Suite
	testDB   *testutil.TestDB
	factory  *testutil.TestDataFactory
	ingest   *ingest.Service
	runner   *Runner
	notifier *recordingNotifier
	ctx      context.Context
}

func (s *RunnerTestSuite) SetupTest() {
	s.testDB = testutil.NewTestDB()
	s.factory = testutil.NewTestDataFactory(s.testDB.DB)
	s.factory.SeedCatalog()

	for _, h := range productHeaders {
		s.Require().NoError(s.testDB.DB.Create(&models.ColumnProfile{
			Profile:      "vendor",
			CompanyCode:  "C001",
			DataKind:     meta.DataKindProduct,
			Header:       h,
			TargetColumn: h,
		}).Error)
	}

	s.ingest = ingest.NewService(s.testDB.DB, ingest.Router{}, batch.NewErrorRecorder(s.testDB.DB), ingest.Options{
		SourceSystem: "VENDOR_CSV",
	})
	s.notifier = &recordingNotifier{}
	runner, err := NewRunner(s.testDB.DB, nil, s.notifier, Options{
		SourceSystem: "VENDOR_CSV",
		RuleVersion:  "v0",
		ChunkSize:    2,
		Lease:        5 * time.Minute,
	})
	s.Require().NoError(err)
	s.runner = runner
	s.ctx = context.Background()
}

func (s *RunnerTestSuite) TearDownTest() {
	s.testDB.Close()
}

func (s *RunnerTestSuite) ingestCSV(dataKind string, lines ...string) *models.BatchRun {
	path := filepath.Join(s.T().TempDir(), "products.csv")
	content := strings.Join(append([]string{strings.Join(productHeaders, ",")}, lines...), "\n") + "\n"
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o644))

	run, dup, err := s.ingest.Ingest(s.ctx, ingest.Request{
		CompanyCode: "C001",
		DataKind:    dataKind,
		Profile:     "vendor",
		SourceURI:   path,
	})
	s.Require().NoError(err)
	s.Require().False(dup)
	return run
}

func (s *RunnerTestSuite) stored(batchID string) *models.BatchRun {
	var run models.BatchRun
	s.Require().NoError(s.testDB.DB.First(&run, "batch_id = ?", batchID).Error)
	return &run
}

func (s *RunnerTestSuite) TestEndToEnd() {
	run := s.ingestCSV(meta.DataKindProduct,
		"A001,SEIKO,WATCH,腕時計A,1000,JPY,2024-01-01",
		"A002,ROLEX,WATCH,腕時計B,2000,JPY,2024-01-02",
		",CASIO,WATCH,名無し,300,JPY,2024-01-03",
	)

	res, err := s.runner.Run(s.ctx, run.BatchID)
	s.Require().NoError(err)
	s.Equal(meta.BatchStatusPartial, res.Status)
	s.Equal(3, res.Stats.Ingest.Read)
	s.Equal(2, res.Stats.Upsert.Products)
	s.Equal(1, res.Stats.Upsert.Error)

	stored := s.stored(run.BatchID)
	s.Equal(meta.BatchStatusPartial, stored.Status)
	s.NotNil(stored.EndedAt)
	s.Empty(stored.LeaseOwner)
	for _, key := range []string{"ingest", "cleanse", "upsert"} {
		s.Contains(stored.Counts, key)
	}

	var masters int64
	s.testDB.DB.Model(&models.ProductMaster{}).Count(&masters)
	s.Equal(int64(2), masters)

	s.Require().Len(s.notifier.events, 1)
	s.Equal(run.BatchID, s.notifier.events[0].BatchID)
	s.Equal(meta.BatchStatusPartial, s.notifier.events[0].Status)

	// 已结束的批次不能直接执行
	_, err = s.runner.Run(s.ctx, run.BatchID)
	s.ErrorIs(err, ErrNotClaimable)
}

func (s *RunnerTestSuite) TestRerunIsIdempotent() {
	run := s.ingestCSV(meta.DataKindProduct,
		"A001,SEIKO,WATCH,腕時計A,1000,JPY,2024-01-01",
		"A002,CASIO,CLOCK,置時計B,2000,JPY,2024-01-02",
	)

	first, err := s.runner.Run(s.ctx, run.BatchID)
	s.Require().NoError(err)
	s.Equal(meta.BatchStatusCompleted, first.Status)

	second, err := s.runner.Rerun(s.ctx, run.BatchID)
	s.Require().NoError(err)
	s.Equal(meta.BatchStatusCompleted, second.Status)
	s.Equal(0, second.Stats.Upsert.Insert)
	s.Equal(0, second.Stats.Upsert.Update)
	s.Equal(first.Stats.Upsert.Insert, second.Stats.Upsert.Skip)
	s.Equal(first.Stats.Ingest.Read, second.Stats.Ingest.Read)

	var cleansed int64
	s.testDB.DB.Model(&models.CleansedAttribute{}).Where("batch_id = ?", run.BatchID).Count(&cleansed)
	s.Equal(int64(14), cleansed)
}

func (s *RunnerTestSuite) TestEventBatchStopsAfterCleanse() {
	run := s.ingestCSV(meta.DataKindEvent, "A001,SEIKO,WATCH,x,1,JPY,2024-01-01")

	res, err := s.runner.Run(s.ctx, run.BatchID)
	s.Require().NoError(err)
	s.Equal(meta.BatchStatusCompleted, res.Status)
	s.Nil(res.Stats.Upsert)
	s.NotContains(s.stored(run.BatchID).Counts, "upsert")

	var masters int64
	s.testDB.DB.Model(&models.ProductMaster{}).Count(&masters)
	s.Equal(int64(0), masters)
}

func (s *RunnerTestSuite) TestStageFailureFailsBatch() {
	run := s.ingestCSV(meta.DataKindProduct, "A001,SEIKO,WATCH,x,1,JPY,2024-01-01")
	s.Require().NoError(s.testDB.DB.Migrator().DropTable(&models.CleansedAttribute{}))

	res, err := s.runner.Run(s.ctx, run.BatchID)
	s.Require().NoError(err)
	s.Equal(meta.BatchStatusFailed, res.Status)

	stored := s.stored(run.BatchID)
	s.Equal(meta.BatchStatusFailed, stored.Status)
	s.Contains(stored.Counts, "fatal_error")

	var codes []string
	s.Require().NoError(s.testDB.DB.Model(&models.RecordError{}).
		Where("batch_id = ?", run.BatchID).Pluck("error_code", &codes).Error)
	s.Equal([]string{meta.ErrCodeCleanseStageFailed}, codes)
}

func (s *RunnerTestSuite) TestRunNext() {
	res, err := s.runner.RunNext(s.ctx)
	s.Require().NoError(err)
	s.Nil(res)

	run := s.ingestCSV(meta.DataKindProduct, "A001,SEIKO,WATCH,x,1,JPY,2024-01-01")
	res, err = s.runner.RunNext(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(res)
	s.Equal(run.BatchID, res.BatchID)
	s.Equal(meta.BatchStatusCompleted, res.Status)
}

func TestRunnerTestSuite(t *testing.T) {
	suite.Run(t, new(RunnerTestSuite))
}
