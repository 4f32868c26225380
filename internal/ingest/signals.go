package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/district"
	"github.com/sells-group/audience-cli/internal/model"
)

// DefaultBatchSize is the number of rows upserted per round trip.
const DefaultBatchSize = 5000

const maxRowErrors = 100

// SignalWriter persists signal rows.
type SignalWriter interface {
	UpsertSignals(ctx context.Context, rows []model.DistrictSignal) (int64, error)
}

// Format is a signal file format.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat picks a format from the file extension; anything that is
// not .xlsx is read as CSV.
func DetectFormat(location string) Format {
	if strings.EqualFold(filepath.Ext(location), ".xlsx") {
		return FormatXLSX
	}
	return FormatCSV
}

// ImportOptions configures a signal import. Segment and Provider fill in
// columns missing from the file.
type ImportOptions struct {
	Format    Format
	Sheet     string
	Delimiter rune
	Segment   string
	Provider  string
	BatchSize int
}

// RowError records one rejected row. Line is 1-based and counts the header.
type RowError struct {
	Line int    `json:"line"`
	Err  string `json:"error"`
}

// ImportResult summarises an import.
type ImportResult struct {
	Rows     int        `json:"rows"`
	Imported int64      `json:"imported"`
	Skipped  int        `json:"skipped"`
	Errors   []RowError `json:"errors,omitempty"`
}

// Importer loads signal files from local paths or ftp:// URLs.
type Importer struct {
	writer  SignalWriter
	ftp     *FTPFetcher
	tempDir string
}

// NewImporter creates an Importer. tempDir holds FTP downloads; empty means
// the OS default.
func NewImporter(writer SignalWriter, ftp *FTPFetcher, tempDir string) *Importer {
	if ftp == nil {
		ftp = NewFTPFetcher(0)
	}
	return &Importer{writer: writer, ftp: ftp, tempDir: tempDir}
}

// ImportSignals reads a signal file and upserts its rows. Malformed rows are
// skipped and reported; read and write failures abort the import.
func (im *Importer) ImportSignals(ctx context.Context, location string, opts ImportOptions) (ImportResult, error) {
	log := zap.L().With(zap.String("component", "ingest.signals"), zap.String("location", location))

	if opts.Format == "" {
		opts.Format = DetectFormat(location)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	localPath := location
	if IsFTP(location) {
		p, err := im.ftp.DownloadToTemp(ctx, location, im.tempDir)
		if err != nil {
			return ImportResult{}, err
		}
		defer os.Remove(p) //nolint:errcheck
		localPath = p
	}

	rows, errs, closeFn, err := openRows(ctx, localPath, opts)
	if err != nil {
		return ImportResult{}, err
	}
	defer closeFn()

	var (
		res   ImportResult
		cols  columnIndex
		batch = make([]model.DistrictSignal, 0, opts.BatchSize)
		line  int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := im.writer.UpsertSignals(ctx, batch)
		if err != nil {
			return err
		}
		res.Imported += n
		batch = batch[:0]
		return nil
	}

	for record := range rows {
		line++
		if line == 1 {
			if cols, err = parseHeader(record, opts); err != nil {
				return res, err
			}
			continue
		}
		if isBlank(record) {
			continue
		}
		res.Rows++

		sig, err := cols.signal(record, opts)
		if err != nil {
			res.Skipped++
			if len(res.Errors) < maxRowErrors {
				res.Errors = append(res.Errors, RowError{Line: line, Err: err.Error()})
			}
			continue
		}
		batch = append(batch, sig)
		if len(batch) >= opts.BatchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := <-errs; err != nil {
		return res, err
	}
	if line == 0 {
		return res, eris.Errorf("ingest: %s is empty", location)
	}
	if err := flush(); err != nil {
		return res, err
	}

	log.Info("signals imported",
		zap.Int("rows", res.Rows),
		zap.Int64("imported", res.Imported),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func openRows(ctx context.Context, path string, opts ImportOptions) (<-chan []string, <-chan error, func(), error) {
	// The row goroutine must exit before the file is closed.
	ctx, cancel := context.WithCancel(ctx)

	switch opts.Format {
	case FormatXLSX:
		rows, errs := StreamXLSX(ctx, path, XLSXOptions{SheetName: opts.Sheet})
		return rows, errs, func() { cancel(); drain(rows) }, nil
	case FormatCSV:
		f, err := os.Open(path)
		if err != nil {
			cancel()
			return nil, nil, nil, eris.Wrapf(err, "ingest: open %s", path)
		}
		rows, errs := StreamCSV(ctx, f, CSVOptions{Delimiter: opts.Delimiter, TrimSpace: true, LazyQuotes: true})
		return rows, errs, func() { cancel(); drain(rows); _ = f.Close() }, nil
	default:
		cancel()
		return nil, nil, nil, eris.Errorf("ingest: unsupported format %q", opts.Format)
	}
}

func drain(rows <-chan []string) {
	for range rows {
	}
}

type columnIndex map[string]int

var headerAliases = map[string]string{
	"segment":           "segment_key",
	"segmentkey":        "segment_key",
	"postcode_district": "district",
	"sectors":           "sectors_count",
	"score":             "district_score_norm",
	"score_norm":        "district_score_norm",
}

func parseHeader(record []string, opts ImportOptions) (columnIndex, error) {
	cols := make(columnIndex, len(record))
	for i, h := range record {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		name = strings.ReplaceAll(name, " ", "_")
		if alias, ok := headerAliases[name]; ok {
			name = alias
		}
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}

	required := []string{"district", "sectors_count"}
	if opts.Segment == "" {
		required = append(required, "segment_key")
	}
	if opts.Provider == "" {
		required = append(required, "provider")
	}
	for _, c := range required {
		if _, ok := cols[c]; !ok {
			return nil, eris.Errorf("ingest: missing required column %q", c)
		}
	}
	return cols, nil
}

func (c columnIndex) value(record []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func (c columnIndex) signal(record []string, opts ImportOptions) (model.DistrictSignal, error) {
	sig := model.DistrictSignal{
		SegmentKey: c.value(record, "segment_key"),
		Provider:   c.value(record, "provider"),
		District:   c.value(record, "district"),
	}
	if sig.SegmentKey == "" {
		sig.SegmentKey = opts.Segment
	}
	if sig.Provider == "" {
		sig.Provider = opts.Provider
	}
	switch {
	case sig.SegmentKey == "":
		return sig, eris.New("missing segment_key")
	case sig.Provider == "":
		return sig, eris.New("missing provider")
	case district.Normalize(sig.District) == "":
		return sig, eris.Errorf("invalid district %q", sig.District)
	}

	sectors, err := strconv.Atoi(c.value(record, "sectors_count"))
	if err != nil {
		return sig, eris.Errorf("invalid sectors_count %q", c.value(record, "sectors_count"))
	}
	sig.SectorsCount = sectors

	raw := c.value(record, "district_score_norm")
	if hs := c.value(record, "has_score"); hs != "" {
		if sig.HasScore, err = strconv.ParseBool(hs); err != nil {
			return sig, eris.Errorf("invalid has_score %q", hs)
		}
	} else {
		sig.HasScore = raw != ""
	}
	if raw != "" {
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return sig, eris.Errorf("invalid district_score_norm %q", raw)
		}
		sig.ScoreNorm = &score
	}
	return sig, nil
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
