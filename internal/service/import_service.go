package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"nytax/internal/archive"
	"nytax/internal/metrics"
	"nytax/internal/model"
	"nytax/internal/repository"
	"nytax/pkg/pagination"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

const (
	// DefaultImportWorkers bounds how many rows are computed concurrently.
	DefaultImportWorkers = 8
	// maxRowErrors caps the row errors kept on the import log.
	maxRowErrors = 100
)

// --- DTOs ---

type ImportResult struct {
	ImportID     string           `json:"import_id"`
	Filename     string           `json:"filename"`
	ContentHash  string           `json:"content_hash"`
	FileSize     int64            `json:"file_size"`
	RowsTotal    int              `json:"rows_total"`
	RowsImported int              `json:"rows_imported"`
	RowsFailed   int              `json:"rows_failed"`
	DurationMs   int64            `json:"duration_ms"`
	RowErrors    []model.RowError `json:"row_errors"`
	CreatedAt    string           `json:"created_at"`
}

type RollbackResult struct {
	ImportID      string `json:"import_id"`
	OrdersRemoved int64  `json:"orders_removed"`
}

// --- Interface ---

type ImportService interface {
	ImportBatch(ctx context.Context, filename string, data []byte, actor *uuid.UUID) (*ImportResult, error)
	Rollback(ctx context.Context, importID uuid.UUID, actor *uuid.UUID) (*RollbackResult, error)
	ListImports(ctx context.Context, page, limit int) ([]ImportResult, int64, error)
	GetImport(ctx context.Context, importID uuid.UUID) (*ImportResult, error)
}

type importService struct {
	tax        TaxService
	importRepo repository.ImportLogRepository
	orderRepo  repository.OrderRepository
	auditRepo  repository.AuditRepository
	txManager  repository.TransactionManager
	archiver   archive.Archiver
	calendar   Calendar
	workers    int
	notifier   Notifier
	metrics    *metrics.Metrics
	log        logrus.FieldLogger
	now        func() time.Time
}

func NewImportService(
	tax TaxService,
	importRepo repository.ImportLogRepository,
	orderRepo repository.OrderRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	archiver archive.Archiver,
	calendar Calendar,
	workers int,
	notifier Notifier,
	m *metrics.Metrics,
	log logrus.FieldLogger,
) ImportService {
	if workers <= 0 {
		workers = DefaultImportWorkers
	}
	if archiver == nil {
		archiver = archive.Noop{}
	}
	return &importService{
		tax:        tax,
		importRepo: importRepo,
		orderRepo:  orderRepo,
		auditRepo:  auditRepo,
		txManager:  txManager,
		archiver:   archiver,
		calendar:   calendar,
		workers:    workers,
		notifier:   notifierOrNop(notifier),
		metrics:    m,
		log:        log.WithField("component", "imports"),
		now:        time.Now,
	}
}

// csvRow is one data line: its input, or why it could not be parsed.
type csvRow struct {
	line  int
	input TaxInput
	err   error
	order *model.Order
}

// --- Implementation ---

// ImportBatch computes every row of a CSV file and stores the successful ones under a new import
// log, all in one transaction. Bad rows are counted and reported; only store failures abort.
func (s *importService) ImportBatch(ctx context.Context, filename string, data []byte, actor *uuid.UUID) (*ImportResult, error) {
	started := s.now()
	if len(data) == 0 {
		return nil, invalid("file", "is empty")
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	existing, err := s.importRepo.FindByHash(ctx, hash)
	if err == nil {
		return nil, &DuplicateImportError{ExistingID: existing.ID, Hash: hash}
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check content hash: %w", err)
	}

	rows, err := s.parseCSV(data, started)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range rows {
		row := &rows[i]
		if row.err != nil {
			continue
		}
		g.Go(func() error {
			res, err := s.tax.ComputeTax(gctx, row.input)
			if err != nil {
				if isRowError(err) {
					row.err = err
					return nil
				}
				return fmt.Errorf("line %d: %w", row.line, err)
			}
			o := res.Order(nil)
			row.order = &o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("import aborted: %w", err)
	}

	log := model.ImportLog{
		Filename:    filename,
		ContentHash: hash,
		FileSize:    int64(len(data)),
		RowsTotal:   len(rows),
		ActorID:     actor,
	}
	orders := make([]model.Order, 0, len(rows))
	var rowErrors []model.RowError
	for _, row := range rows {
		if row.err != nil {
			log.RowsFailed++
			if len(rowErrors) < maxRowErrors {
				rowErrors = append(rowErrors, model.RowError{Row: row.line, Error: row.err.Error()})
			}
			continue
		}
		orders = append(orders, *row.order)
	}
	log.RowsImported = len(orders)
	log.RowErrors = datatypes.NewJSONSlice(rowErrors)

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		log.DurationMs = s.now().Sub(started).Milliseconds()
		if err := s.importRepo.Create(txCtx, &log); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				// lost a race with an identical upload
				if other, findErr := s.importRepo.FindByHash(txCtx, hash); findErr == nil {
					return &DuplicateImportError{ExistingID: other.ID, Hash: hash}
				}
				return &DuplicateImportError{Hash: hash}
			}
			return fmt.Errorf("failed to create import log: %w", err)
		}

		for i := range orders {
			orders[i].ImportID = &log.ID
		}
		if err := s.orderRepo.CreateBatch(txCtx, orders); err != nil {
			return fmt.Errorf("failed to store imported orders: %w", err)
		}

		return writeAudit(txCtx, s.auditRepo, actor, model.ActionImportOrders, log.ID.String(), filename, map[string]interface{}{
			"content_hash":  hash,
			"rows_total":    log.RowsTotal,
			"rows_imported": log.RowsImported,
			"rows_failed":   log.RowsFailed,
		})
	})
	if err != nil {
		return nil, err
	}

	if err := s.archiver.Put(ctx, archive.ImportKey(hash), data, "text/csv"); err != nil {
		s.log.WithError(err).WithField("import_id", log.ID).Warn("failed to archive import file")
	}
	elapsed := s.now().Sub(started)
	s.metrics.ObserveImport(log.RowsImported, log.RowsFailed, elapsed)
	s.log.WithFields(logrus.Fields{
		"import_id": log.ID,
		"filename":  filename,
		"imported":  log.RowsImported,
		"failed":    log.RowsFailed,
		"duration":  elapsed.String(),
	}).Info("import completed")

	result := NewImportResult(log)
	s.notifier.Publish(EventImportCompleted, result)
	return &result, nil
}

// isRowError reports errors caused by the row's own content.
func isRowError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrOutOfCoverage) || errors.Is(err, ErrNoEffectiveRate)
}

var csvColumns = map[string]string{
	"lat":       "lat",
	"latitude":  "lat",
	"lon":       "lon",
	"lng":       "lon",
	"longitude": "lon",
	"subtotal":  "subtotal",
	"timestamp": "timestamp",
}

// parseCSV reads the header and every record. Malformed records become row errors; a missing or
// incomplete header fails the whole file. Rows without a timestamp are stamped with now.
func (s *importService) parseCSV(data []byte, now time.Time) ([]csvRow, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, invalid("file", "missing header row")
	}
	if err != nil {
		return nil, invalid("file", "unreadable header: %v", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		key, ok := csvColumns[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			continue
		}
		if _, dup := cols[key]; dup {
			return nil, invalid("file", "column %q appears twice", key)
		}
		cols[key] = i
	}
	for _, required := range []string{"lat", "lon", "subtotal"} {
		if _, ok := cols[required]; !ok {
			return nil, invalid("file", "header must contain lat, lon, subtotal and optionally timestamp; missing %s", required)
		}
	}

	var rows []csvRow
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			rows = append(rows, csvRow{line: parseErr.StartLine, err: invalid("row", "%v", parseErr.Err)})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		line, _ := r.FieldPos(0)
		row := csvRow{line: line}
		row.input, row.err = s.parseRecord(record, cols, now)
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *importService) parseRecord(record []string, cols map[string]int, now time.Time) (TaxInput, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	lat, err := strconv.ParseFloat(field("lat"), 64)
	if err != nil {
		return TaxInput{}, invalid("lat", "%q is not a number", field("lat"))
	}
	lon, err := strconv.ParseFloat(field("lon"), 64)
	if err != nil {
		return TaxInput{}, invalid("lon", "%q is not a number", field("lon"))
	}
	subtotal, err := decimal.NewFromString(field("subtotal"))
	if err != nil {
		return TaxInput{}, invalid("subtotal", "%q is not a decimal", field("subtotal"))
	}

	in := TaxInput{Lat: lat, Lon: lon, Subtotal: subtotal, Timestamp: now}
	if ts := field("timestamp"); ts != "" {
		parsed, _, err := s.calendar.ParseInstant(ts)
		if err != nil {
			return TaxInput{}, invalid("timestamp", "%s", err.Error())
		}
		in.Timestamp = parsed
	}
	return in, nil
}

// Rollback deletes the import log; the foreign key cascade removes its orders in the same statement.
func (s *importService) Rollback(ctx context.Context, importID uuid.UUID, actor *uuid.UUID) (*RollbackResult, error) {
	var result RollbackResult
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		log, err := s.importRepo.FindByID(txCtx, importID)
		if err != nil {
			return lookupErr(err, "import", importID)
		}
		count, err := s.importRepo.CountOrders(txCtx, importID)
		if err != nil {
			return fmt.Errorf("failed to count imported orders: %w", err)
		}
		if err := s.importRepo.Delete(txCtx, importID); err != nil {
			return lookupErr(err, "import", importID)
		}
		result = RollbackResult{ImportID: importID.String(), OrdersRemoved: count}

		return writeAudit(txCtx, s.auditRepo, actor, model.ActionRollbackImport, importID.String(), log.Filename, map[string]interface{}{
			"content_hash":   log.ContentHash,
			"orders_removed": count,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"import_id": importID, "orders_removed": result.OrdersRemoved}).Info("import rolled back")
	s.notifier.Publish(EventImportRolledBack, result)
	return &result, nil
}

func (s *importService) ListImports(ctx context.Context, page, limit int) ([]ImportResult, int64, error) {
	p := pagination.Normalize(page, limit)
	logs, total, err := s.importRepo.List(ctx, p.Page, p.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list imports: %w", err)
	}
	res := make([]ImportResult, 0, len(logs))
	for _, l := range logs {
		res = append(res, NewImportResult(l))
	}
	return res, total, nil
}

func (s *importService) GetImport(ctx context.Context, importID uuid.UUID) (*ImportResult, error) {
	log, err := s.importRepo.FindByID(ctx, importID)
	if err != nil {
		return nil, lookupErr(err, "import", importID)
	}
	res := NewImportResult(*log)
	return &res, nil
}

func NewImportResult(l model.ImportLog) ImportResult {
	rowErrors := []model.RowError(l.RowErrors)
	if rowErrors == nil {
		rowErrors = []model.RowError{}
	}
	return ImportResult{
		ImportID:     l.ID.String(),
		Filename:     l.Filename,
		ContentHash:  l.ContentHash,
		FileSize:     l.FileSize,
		RowsTotal:    l.RowsTotal,
		RowsImported: l.RowsImported,
		RowsFailed:   l.RowsFailed,
		DurationMs:   l.DurationMs,
		RowErrors:    rowErrors,
		CreatedAt:    l.CreatedAt.Format(time.RFC3339),
	}
}
