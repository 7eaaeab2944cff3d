package repo

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/momangi/Pompiconni-app/internal/pipeline"
)

type fakeQuerier struct {
	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	execSQL    []string
	execArgs   [][]any
}

func (f *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	if f.execFn != nil {
		return f.execFn(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return f.queryRowFn(ctx, sql, args...)
}

type fakeRow struct {
	scanFn func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.scanFn == nil {
		return pgx.ErrNoRows
	}
	return r.scanFn(dest...)
}

func TestSaveUpsertsRun(t *testing.T) {
	db := &fakeQuerier{}
	r := NewRunRepository(db)

	run := &pipeline.PipelineRun{
		ID:          "run-1",
		Status:      pipeline.StatusCompleted,
		UserRequest: "test",
		ActorID:     "admin",
		RetryCount:  2,
		QCReport:    &pipeline.QCReport{Result: pipeline.VerdictPass, ConfidenceScore: 0.9},
		Artifacts:   &pipeline.Artifacts{PrintPNG: []byte("p"), PDF: []byte("d"), Thumbnail: []byte("t")},
		Metadata:    map[string]any{"user_id": "admin"},
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.Save(context.Background(), run); err != nil {
		t.Fatalf("save: %v", err)
	}

	if len(db.execSQL) != 1 {
		t.Fatalf("exec calls = %d, want 1", len(db.execSQL))
	}
	if !strings.Contains(db.execSQL[0], "ON CONFLICT (id) DO UPDATE") {
		t.Fatalf("save must be an upsert: %s", db.execSQL[0])
	}
	args := db.execArgs[0]
	if args[0] != "run-1" {
		t.Fatalf("id arg = %v", args[0])
	}
	// qc report travels as json
	var report pipeline.QCReport
	if err := json.Unmarshal(args[8].([]byte), &report); err != nil {
		t.Fatalf("qc report arg not json: %v", err)
	}
	if report.Result != pipeline.VerdictPass {
		t.Fatalf("qc result = %q", report.Result)
	}
	// artifact presence flags
	for i := 10; i <= 12; i++ {
		if args[i] != true {
			t.Fatalf("arg %d = %v, want true", i, args[i])
		}
	}
}

func TestSaveNilQCReportStoredAsNull(t *testing.T) {
	db := &fakeQuerier{}
	r := NewRunRepository(db)

	run := &pipeline.PipelineRun{ID: "run-1", Status: pipeline.StatusFailed, CreatedAt: time.Now()}
	if err := r.Save(context.Background(), run); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := db.execArgs[0][8]; got != nil {
		if b, ok := got.([]byte); !ok || b != nil {
			t.Fatalf("qc arg = %v, want nil", got)
		}
	}
	for i := 10; i <= 12; i++ {
		if db.execArgs[0][i] != false {
			t.Fatalf("arg %d = %v, want false without artifacts", i, db.execArgs[0][i])
		}
	}
}

func TestSaveRequiresRun(t *testing.T) {
	r := NewRunRepository(&fakeQuerier{})
	if err := r.Save(context.Background(), nil); err == nil {
		t.Fatalf("expected an error for a nil run")
	}
}

func TestUpdateStatusMissingRowIsErrRunNotFound(t *testing.T) {
	db := &fakeQuerier{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}
	r := NewRunRepository(db)
	if err := r.UpdateStatus(context.Background(), "ghost", pipeline.StatusAsyncRetry); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestUpdateStatusHappyPath(t *testing.T) {
	db := &fakeQuerier{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}
	r := NewRunRepository(db)
	if err := r.UpdateStatus(context.Background(), "run-1", pipeline.StatusAsyncRetry); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if db.execArgs[0][1] != pipeline.StatusAsyncRetry {
		t.Fatalf("status arg = %v", db.execArgs[0][1])
	}
}

func TestGetByIDNoRowsIsErrRunNotFound(t *testing.T) {
	db := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{}
		},
	}
	r := NewRunRepository(db)
	if _, err := r.GetByID(context.Background(), "ghost"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestGetByIDDecodesJSONColumns(t *testing.T) {
	qcJSON, _ := json.Marshal(pipeline.QCReport{Result: pipeline.VerdictPartial, ConfidenceScore: 0.6})
	metaJSON, _ := json.Marshal(map[string]any{"user_id": "admin"})

	db := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{scanFn: func(dest ...any) error {
				*dest[0].(*string) = "run-1"
				*dest[1].(*pipeline.Status) = pipeline.StatusLowConfidence
				*dest[2].(*string) = "test"
				*dest[3].(*string) = "admin"
				*dest[7].(*int) = 5
				*dest[8].(*[]byte) = qcJSON
				*dest[9].(*[]byte) = metaJSON
				*dest[10].(*bool) = true
				return nil
			}}
		},
	}
	r := NewRunRepository(db)

	rec, err := r.GetByID(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if rec.Status != pipeline.StatusLowConfidence || rec.RetryCount != 5 {
		t.Fatalf("record = %+v", rec)
	}
	if rec.QCReport == nil || rec.QCReport.Result != pipeline.VerdictPartial {
		t.Fatalf("qc report = %+v", rec.QCReport)
	}
	if rec.Metadata["user_id"] != "admin" {
		t.Fatalf("metadata = %v", rec.Metadata)
	}
	if !rec.HasPrintPNG {
		t.Fatalf("has_print_png not scanned")
	}
}
