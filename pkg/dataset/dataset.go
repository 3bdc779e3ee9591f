package dataset

import (
	"errors"
	"fmt"
	"math"

	"github.com/mchmarny/regretguard/pkg/feature"
)

// TargetColumn is the label column of the transaction history.
const TargetColumn = "regret_score"

var (
	// ErrDataSchema is returned when input data is missing columns or holds non-numeric values.
	ErrDataSchema = errors.New("data schema error")

	// Columns is the on-disk column order of the transaction history.
	Columns = []string{
		feature.Price,
		feature.AccountBalance,
		feature.MoodScore,
		feature.IsLimitedOffer,
		feature.SleepHours,
		feature.MerchantRiskScore,
		TargetColumn,
	}
)

// Row is a single labeled transaction.
type Row struct {
	feature.Context
	RegretScore float64 `json:"regret_score" yaml:"regret_score"`
}

// Table is the engineered feature table the estimator trains on.
type Table struct {
	Columns []string
	X       [][]float64
	Y       []float64
}

// NewTable engineers the features of every row.
func NewTable(rows []Row) (*Table, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrDataSchema)
	}

	t := &Table{
		Columns: feature.Names(),
		X:       make([][]float64, len(rows)),
		Y:       make([]float64, len(rows)),
	}
	for i, r := range rows {
		if err := feature.Validate(r.Context); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrDataSchema, i+1, err)
		}
		t.X[i] = feature.Vector(r.Context)
		t.Y[i] = r.RegretScore
	}
	return t, t.Validate()
}

// Len returns the number of samples.
func (t *Table) Len() int {
	return len(t.Y)
}

// Validate checks the table shape and that every cell is a finite number.
func (t *Table) Validate() error {
	if t == nil || len(t.Y) == 0 {
		return fmt.Errorf("%w: empty table", ErrDataSchema)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("%w: no feature columns", ErrDataSchema)
	}
	if len(t.X) != len(t.Y) {
		return fmt.Errorf("%w: %d feature rows but %d targets", ErrDataSchema, len(t.X), len(t.Y))
	}
	for i, x := range t.X {
		if len(x) != len(t.Columns) {
			return fmt.Errorf("%w: row %d has %d values, expected %d", ErrDataSchema, i+1, len(x), len(t.Columns))
		}
		for j, v := range x {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: row %d column %s is not finite", ErrDataSchema, i+1, t.Columns[j])
			}
		}
		if math.IsNaN(t.Y[i]) || math.IsInf(t.Y[i], 0) {
			return fmt.Errorf("%w: row %d target is not finite", ErrDataSchema, i+1)
		}
	}
	return nil
}

// Subset returns a table holding the rows at idx.
func (t *Table) Subset(idx []int) *Table {
	s := &Table{
		Columns: t.Columns,
		X:       make([][]float64, len(idx)),
		Y:       make([]float64, len(idx)),
	}
	for i, j := range idx {
		s.X[i] = t.X[j]
		s.Y[i] = t.Y[j]
	}
	return s
}
