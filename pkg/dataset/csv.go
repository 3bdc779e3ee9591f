package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mchmarny/regretguard/pkg/feature"
)

const (
	dirMode  = 0o755
	fileMode = 0o644
)

// WriteCSV writes rows with a header line. Output is stable for identical rows.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, r := range rows {
		if err := cw.Write(r.record()); err != nil {
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes rows to path, creating the parent directory.
func SaveCSV(path string, rows []Row) (retErr error) {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fileMode)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && retErr == nil {
			retErr = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()
	return WriteCSV(f, rows)
}

// ReadCSV parses transaction history. Columns are matched by header name,
// extra columns are ignored, and missing or non-numeric values fail with ErrDataSchema.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty input", ErrDataSchema)
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range Columns {
		if _, ok := pos[col]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrDataSchema, col)
		}
	}

	var rows []Row
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrDataSchema, line, err)
		}
		row, err := parseRecord(rec, pos)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrDataSchema, line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// LoadCSV reads transaction history from path.
func LoadCSV(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

func (r Row) record() []string {
	offer := "0"
	if r.IsLimitedOffer {
		offer = "1"
	}
	return []string{
		formatFloat(r.Price),
		formatFloat(r.AccountBalance),
		strconv.Itoa(r.MoodScore),
		offer,
		formatFloat(r.SleepHours),
		formatFloat(r.MerchantRiskScore),
		formatFloat(r.RegretScore),
	}
}

func parseRecord(rec []string, pos map[string]int) (Row, error) {
	var (
		row Row
		err error
	)
	get := func(col string) string {
		return strings.TrimSpace(rec[pos[col]])
	}
	for _, col := range Columns {
		if pos[col] >= len(rec) {
			return row, fmt.Errorf("missing value for %s", col)
		}
	}

	if row.Price, err = parseFloat(feature.Price, get(feature.Price)); err != nil {
		return row, err
	}
	if row.AccountBalance, err = parseFloat(feature.AccountBalance, get(feature.AccountBalance)); err != nil {
		return row, err
	}
	if row.MoodScore, err = strconv.Atoi(get(feature.MoodScore)); err != nil {
		return row, fmt.Errorf("%s: %q is not an integer", feature.MoodScore, get(feature.MoodScore))
	}
	if row.IsLimitedOffer, err = parseBool(get(feature.IsLimitedOffer)); err != nil {
		return row, err
	}
	if row.SleepHours, err = parseFloat(feature.SleepHours, get(feature.SleepHours)); err != nil {
		return row, err
	}
	if row.MerchantRiskScore, err = parseFloat(feature.MerchantRiskScore, get(feature.MerchantRiskScore)); err != nil {
		return row, err
	}
	if row.RegretScore, err = parseFloat(TargetColumn, get(TargetColumn)); err != nil {
		return row, err
	}
	return row, nil
}

func parseFloat(col, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not numeric", col, s)
	}
	return v, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "1.0", "true":
		return true, nil
	case "0", "0.0", "false":
		return false, nil
	default:
		return false, fmt.Errorf("%s: %q is not a 0/1 flag", feature.IsLimitedOffer, s)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
