package pipeline

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ganeshchavan786/TallyConnect-sub000/internal/audit"
	"github.com/ganeshchavan786/TallyConnect-sub000/internal/schema"
	"github.com/ganeshchavan786/TallyConnect-sub000/internal/source"
	"github.com/ganeshchavan786/TallyConnect-sub000/internal/store"
	"github.com/sirupsen/logrus"
)

// fakeConnector serves canned cursor pages instead of a live ODBC session.
type fakeConnector struct {
	conn       *fakeConnection
	connectErr error
	handles    []string
}

func (c *fakeConnector) Connect(ctx context.Context, handle string) (source.Connection, error) {
	c.handles = append(c.handles, handle)
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	return c.conn, nil
}

type fakeConnection struct {
	// respond maps a query statement to the pages its cursor will yield.
	respond func(stmt string) ([][]source.Row, error)
	cursors []*fakeCursor
	closed  bool
}

func (c *fakeConnection) Query(ctx context.Context, stmt string) (source.Cursor, error) {
	pages, err := c.respond(stmt)
	if err != nil {
		return nil, err
	}
	cur := &fakeCursor{pages: pages}
	c.cursors = append(c.cursors, cur)
	return cur, nil
}

func (c *fakeConnection) Close() error {
	c.closed = true
	return nil
}

type fakeCursor struct {
	pages     [][]source.Row
	requested []int
	closed    bool
}

func (c *fakeCursor) FetchPage(n int) ([]source.Row, error) {
	c.requested = append(c.requested, n)
	if len(c.pages) == 0 {
		return nil, nil
	}
	page := c.pages[0]
	c.pages = c.pages[1:]
	return page, nil
}

func (c *fakeCursor) Close() error {
	c.closed = true
	return nil
}

// voucherRow builds one wire row for the given key fields.
func voucherRow(version, masterID, ledger string) source.Row {
	row := make(source.Row, source.VoucherColumnCount)
	row[source.ColVersionID] = version
	row[source.ColMasterID] = masterID
	row[source.ColLedgerName] = ledger
	row[source.ColDate] = "20240401"
	row[source.ColVoucherType] = "Sales"
	row[source.ColVoucherNumber] = "INV-1"
	row[source.ColDebit] = 1500.0
	row[source.ColCredit] = 0.0
	row[source.ColPartyName] = "Globex Corp"
	return row
}

// newTestDeps opens a schema-initialized store with an audit writer.
func newTestDeps(t *testing.T) (*store.DB, *audit.Writer) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	conn, err := store.OpenSecondary(dbPath)
	if err != nil {
		t.Fatalf("store.OpenSecondary() failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return db, audit.NewWriter(conn, filepath.Join(tmpDir, "backup.jsonl"), logger)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testJob() Job {
	return Job{
		Identity:     schema.NewIdentity("acme", "1001"),
		Name:         "Acme Traders",
		SourceHandle: "TallyODBC64",
		FromDate:     time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		ToDate:       time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC),
	}
}

func pagesResponder(pages ...[]source.Row) func(string) ([][]source.Row, error) {
	return func(string) ([][]source.Row, error) {
		return pages, nil
	}
}

func TestRun_PersistsPagesAndCounts(t *testing.T) {
	db, auditWriter := newTestDeps(t)
	ctx := context.Background()

	// Two pages; the second re-delivers V-2/Sales from the first.
	conn := &fakeConnection{respond: pagesResponder(
		[]source.Row{
			voucherRow("1001", "V-1", "Sales"),
			voucherRow("1001", "V-1", "Output GST"),
			voucherRow("1001", "V-2", "Sales"),
		},
		[]source.Row{
			voucherRow("1001", "V-2", "Sales"),
			voucherRow("1001", "V-3", "Sales"),
		},
	)}
	connector := &fakeConnector{conn: conn}
	runner := NewRunner(db, auditWriter, connector, quietLogger())

	var callbacks int
	result, err := runner.Run(ctx, testJob(), func(Result) { callbacks++ })
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if result.RowsFetched != 5 {
		t.Errorf("RowsFetched = %d, want 5", result.RowsFetched)
	}
	if result.RowsInserted != 4 {
		t.Errorf("RowsInserted = %d, want 4 (duplicate excluded)", result.RowsInserted)
	}
	if result.BatchesProcessed != 2 {
		t.Errorf("BatchesProcessed = %d, want 2", result.BatchesProcessed)
	}
	if callbacks != 2 {
		t.Errorf("onBatch invoked %d times, want 2", callbacks)
	}

	count, err := db.CountVouchers(ctx, schema.NewIdentity("acme", "1001"))
	if err != nil {
		t.Fatalf("CountVouchers() failed: %v", err)
	}
	if count != 4 {
		t.Errorf("Persisted %d rows, want 4", count)
	}
	if !conn.closed {
		t.Error("source connection not closed")
	}
	if len(connector.handles) != 1 || connector.handles[0] != "TallyODBC64" {
		t.Errorf("Connect handles = %v", connector.handles)
	}
}

func TestRun_Rerunnable(t *testing.T) {
	db, auditWriter := newTestDeps(t)
	ctx := context.Background()

	pages := pagesResponder([]source.Row{
		voucherRow("1001", "V-1", "Sales"),
		voucherRow("1001", "V-2", "Sales"),
	})
	runner := NewRunner(db, auditWriter,
		&fakeConnector{conn: &fakeConnection{respond: pages}}, quietLogger())

	if _, err := runner.Run(ctx, testJob(), nil); err != nil {
		t.Fatalf("First Run() failed: %v", err)
	}

	// Same window again; every row is already persisted.
	runner = NewRunner(db, auditWriter,
		&fakeConnector{conn: &fakeConnection{respond: pages}}, quietLogger())
	result, err := runner.Run(ctx, testJob(), nil)
	if err != nil {
		t.Fatalf("Second Run() failed: %v", err)
	}
	if result.RowsInserted != 0 {
		t.Errorf("Second run inserted %d rows, want 0", result.RowsInserted)
	}

	count, err := db.CountVouchers(ctx, schema.NewIdentity("acme", "1001"))
	if err != nil {
		t.Fatalf("CountVouchers() failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Persisted %d rows after rerun, want 2", count)
	}
}

func TestRun_FiltersForeignVersions(t *testing.T) {
	db, auditWriter := newTestDeps(t)
	ctx := context.Background()

	conn := &fakeConnection{respond: pagesResponder([]source.Row{
		voucherRow("1001", "V-1", "Sales"),
		voucherRow("1002", "V-1", "Sales"), // newer version of the same company
		voucherRow("1001", "V-2", "Sales"),
	})}
	runner := NewRunner(db, auditWriter, &fakeConnector{conn: conn}, quietLogger())

	result, err := runner.Run(ctx, testJob(), nil)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.RowsFiltered != 1 {
		t.Errorf("RowsFiltered = %d, want 1", result.RowsFiltered)
	}
	if result.RowsInserted != 2 {
		t.Errorf("RowsInserted = %d, want 2", result.RowsInserted)
	}

	count, err := db.CountVouchers(ctx, schema.NewIdentity("acme", "1002"))
	if err != nil {
		t.Fatalf("CountVouchers() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Foreign-version row was persisted")
	}
}

func TestRun_SkipsMalformedRows(t *testing.T) {
	db, auditWriter := newTestDeps(t)
	ctx := context.Background()

	missingLedger := voucherRow("1001", "V-2", "Sales")
	missingLedger[source.ColLedgerName] = ""

	conn := &fakeConnection{respond: pagesResponder([]source.Row{
		voucherRow("1001", "V-1", "Sales"),
		{"1001", "V-9"}, // truncated row
		missingLedger,
	})}
	runner := NewRunner(db, auditWriter, &fakeConnector{conn: conn}, quietLogger())

	result, err := runner.Run(ctx, testJob(), nil)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.RowsSkipped != 2 {
		t.Errorf("RowsSkipped = %d, want 2", result.RowsSkipped)
	}
	if result.RowsInserted != 1 {
		t.Errorf("RowsInserted = %d, want 1", result.RowsInserted)
	}

	count, err := db.CountVouchers(ctx, schema.NewIdentity("acme", "1001"))
	if err != nil {
		t.Fatalf("CountVouchers() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Persisted %d rows, want 1", count)
	}
}

func TestRun_FlooredBatchSize(t *testing.T) {
	db, auditWriter := newTestDeps(t)

	conn := &fakeConnection{respond: pagesResponder([]source.Row{
		voucherRow("1001", "V-1", "Sales"),
	})}
	runner := NewRunner(db, auditWriter, &fakeConnector{conn: conn}, quietLogger())

	job := testJob()
	job.BatchSize = 10
	if _, err := runner.Run(context.Background(), job, nil); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if len(conn.cursors) != 1 {
		t.Fatalf("Expected 1 cursor, got %d", len(conn.cursors))
	}
	for _, n := range conn.cursors[0].requested {
		if n != MinBatchSize {
			t.Errorf("FetchPage requested %d rows, want floor %d", n, MinBatchSize)
		}
	}
}

func TestRun_ConnectFailure(t *testing.T) {
	db, auditWriter := newTestDeps(t)

	connector := &fakeConnector{connectErr: errors.New("DSN not found")}
	runner := NewRunner(db, auditWriter, connector, quietLogger())

	_, err := runner.Run(context.Background(), testJob(), nil)
	if err == nil {
		t.Fatal("Run() succeeded despite connect failure")
	}
	if !strings.Contains(err.Error(), "source connect failed") {
		t.Errorf("err = %v", err)
	}
}

func TestRun_FailedSliceDoesNotAbortOthers(t *testing.T) {
	db, auditWriter := newTestDeps(t)
	ctx := context.Background()

	// A 400-day range slices monthly into fourteen windows.
	job := testJob()
	job.FromDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	job.ToDate = time.Date(2025, 2, 4, 0, 0, 0, 0, time.UTC)

	masterSeq := 0
	conn := &fakeConnection{respond: func(stmt string) ([][]source.Row, error) {
		if strings.Contains(stmt, "'20240301'") {
			return nil, errors.New("engine timeout")
		}
		masterSeq++
		return [][]source.Row{{
			voucherRow("1001", "V-"+strconv.Itoa(masterSeq), "Sales"),
		}}, nil
	}}
	runner := NewRunner(db, auditWriter, &fakeConnector{conn: conn}, quietLogger())

	result, err := runner.Run(ctx, job, nil)
	if err != nil {
		t.Fatalf("Run() failed despite surviving slices: %v", err)
	}
	if result.Windows != 14 {
		t.Errorf("Windows = %d, want 14", result.Windows)
	}
	if result.WindowsFailed != 1 {
		t.Errorf("WindowsFailed = %d, want 1", result.WindowsFailed)
	}
	if result.RowsInserted != 13 {
		t.Errorf("RowsInserted = %d, want 13 from the surviving windows", result.RowsInserted)
	}

	// The skipped window leaves a WARNING behind.
	warnings, err := auditWriter.Entries(ctx, audit.Filter{Level: schema.LevelWarning})
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(warnings) != 1 {
		t.Errorf("Expected 1 warning entry, got %d", len(warnings))
	}
}

func TestRun_AllSlicesFailed(t *testing.T) {
	db, auditWriter := newTestDeps(t)

	job := testJob()
	job.FromDate = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	job.ToDate = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

	conn := &fakeConnection{respond: func(string) ([][]source.Row, error) {
		return nil, errors.New("engine timeout")
	}}
	runner := NewRunner(db, auditWriter, &fakeConnector{conn: conn}, quietLogger())

	result, err := runner.Run(context.Background(), job, nil)
	if err == nil {
		t.Fatal("Run() succeeded despite every slice failing")
	}
	if result.WindowsFailed != result.Windows {
		t.Errorf("WindowsFailed = %d, Windows = %d", result.WindowsFailed, result.Windows)
	}
}

func TestRun_SingleWindowFailureIsFatal(t *testing.T) {
	db, auditWriter := newTestDeps(t)

	conn := &fakeConnection{respond: func(string) ([][]source.Row, error) {
		return nil, errors.New("engine timeout")
	}}
	runner := NewRunner(db, auditWriter, &fakeConnector{conn: conn}, quietLogger())

	_, err := runner.Run(context.Background(), testJob(), nil)
	if err == nil {
		t.Fatal("Run() succeeded despite the sole window failing")
	}
}

func TestRun_CancelBetweenPages(t *testing.T) {
	db, auditWriter := newTestDeps(t)
	ctx, cancel := context.WithCancel(context.Background())

	conn := &fakeConnection{respond: pagesResponder(
		[]source.Row{voucherRow("1001", "V-1", "Sales")},
		[]source.Row{voucherRow("1001", "V-2", "Sales")},
	)}
	runner := NewRunner(db, auditWriter, &fakeConnector{conn: conn}, quietLogger())

	result, err := runner.Run(ctx, testJob(), func(Result) { cancel() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if result.BatchesProcessed != 1 {
		t.Errorf("BatchesProcessed = %d, want 1 before cancel took effect", result.BatchesProcessed)
	}

	// The page persisted before cancellation stays persisted.
	count, err := db.CountVouchers(context.Background(), schema.NewIdentity("acme", "1001"))
	if err != nil {
		t.Fatalf("CountVouchers() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Persisted %d rows, want 1", count)
	}
}
