package dataset

import (
	"database/sql"
	"embed"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	DataFileName string = "history.db"

	insertRowSQL = `INSERT INTO transaction_history (
			price, account_balance, mood_score, is_limited_offer,
			sleep_hours, merchant_risk_score, regret_score
		) VALUES (?, ?, ?, ?, ?, ?, ?)`

	selectRowsSQL = `SELECT
			price, account_balance, mood_score, is_limited_offer,
			sleep_hours, merchant_risk_score, regret_score
		FROM transaction_history
		ORDER BY id`

	deleteRowsSQL = `DELETE FROM transaction_history`
)

var (
	//go:embed sql/*
	f embed.FS

	errDBNotInitialized = errors.New("database not initialized")
)

// Init initializes the history database at dbFilePath.
func Init(dbFilePath string) error {
	if dbFilePath == "" {
		return errors.New("dbFilePath not specified")
	}

	if _, err := os.Stat(dbFilePath); errors.Is(err, os.ErrNotExist) {
		db, err := GetDB(dbFilePath)
		if err != nil {
			return errors.Wrapf(err, "error opening database: %s", dbFilePath)
		}
		defer db.Close()

		slog.Debug("creating db schema...")
		b, err := f.ReadFile("sql/ddl.sql")
		if err != nil {
			return errors.Wrap(err, "failed to read the schema creation file")
		}
		if _, err := db.Exec(string(b)); err != nil {
			return errors.Wrapf(err, "failed to create database schema in: %s", dbFilePath)
		}
		slog.Debug("db schema created")
	}

	return nil
}

func GetDB(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", path)
	}
	return conn, nil
}

// SaveRows replaces the stored history with rows.
func SaveRows(db *sql.DB, rows []Row) error {
	if db == nil {
		return errDBNotInitialized
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	if _, err := tx.Exec(deleteRowsSQL); err != nil {
		rollbackTransaction(tx)
		return errors.Wrap(err, "failed to clear history")
	}

	stmt, err := tx.Prepare(insertRowSQL)
	if err != nil {
		rollbackTransaction(tx)
		return errors.Wrap(err, "failed to prepare history insert statement")
	}
	defer stmt.Close()

	for i, r := range rows {
		offer := 0
		if r.IsLimitedOffer {
			offer = 1
		}
		if _, err := stmt.Exec(r.Price, r.AccountBalance, r.MoodScore, offer,
			r.SleepHours, r.MerchantRiskScore, r.RegretScore); err != nil {
			rollbackTransaction(tx)
			return errors.Wrapf(err, "error inserting row %d", i+1)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	slog.Debug("history saved", "rows", len(rows))
	return nil
}

// LoadRows returns the stored history in insertion order.
func LoadRows(db *sql.DB) ([]Row, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	res, err := db.Query(selectRowsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query history")
	}
	defer res.Close()

	list := make([]Row, 0)
	for res.Next() {
		var (
			r     Row
			offer int
		)
		if err := res.Scan(&r.Price, &r.AccountBalance, &r.MoodScore, &offer,
			&r.SleepHours, &r.MerchantRiskScore, &r.RegretScore); err != nil {
			return nil, errors.Wrapf(ErrDataSchema, "failed to scan history row: %v", err)
		}
		r.IsLimitedOffer = offer != 0
		list = append(list, r)
	}
	if err := res.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate history rows")
	}
	return list, nil
}

func rollbackTransaction(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil {
		slog.Error("error rolling back transaction", "error", err)
	}
}
