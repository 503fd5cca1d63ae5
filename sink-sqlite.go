package nsweep

// sink-sqlite.go stores results in an SQLite table, one row per configuration,
// so several sweeps can be queried together afterwards.

import (
	"database/sql"
	"errors"

	_ "github.com/mattn/go-sqlite3"
)

const createResultsTable = `
CREATE TABLE IF NOT EXISTS sweep_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,

	-- sweep and configuration
	sweep TEXT,
	config_index INTEGER,
	distance1 REAL,
	distance2 REAL,
	data_mode TEXT,
	rts_cts BOOLEAN,

	-- metrics
	throughput_mbps REAL,
	mean_throughput_mbps REAL,
	mean_delay_s REAL,
	flows INTEGER,
	excluded INTEGER
);
`

const insertResult = `
INSERT INTO sweep_results (
	sweep, config_index, distance1, distance2, data_mode, rts_cts,
	throughput_mbps, mean_throughput_mbps, mean_delay_s, flows, excluded
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`

// SQLiteSink appends results to the sweep_results table of an SQLite database
type SQLiteSink struct {
	DBPath string
	Sweep  string
	db     *sql.DB
}

// OpenSQLiteSink opens (creating if needed) the database at dbPath.  Rows are
// labelled with the sweep name.
func OpenSQLiteSink(dbPath, sweep string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, &SinkWriteError{Target: dbPath, Err: err}
	}
	if _, err = db.Exec(createResultsTable); err != nil {
		db.Close()
		return nil, &SinkWriteError{Target: dbPath, Err: err}
	}
	return &SQLiteSink{DBPath: dbPath, Sweep: sweep, db: db}, nil
}

// Append inserts one row inside its own transaction
func (ss *SQLiteSink) Append(result AggregateResult) error {
	if ss.db == nil {
		return &SinkWriteError{Target: ss.DBPath, Err: errors.New("database closed")}
	}
	tx, err := ss.db.Begin()
	if err != nil {
		return &SinkWriteError{Target: ss.DBPath, Err: err}
	}
	cfg := result.Config
	_, err = tx.Exec(insertResult,
		ss.Sweep, cfg.Index, cfg.Distance1, cfg.Distance2, cfg.DataMode, cfg.RtsCts,
		result.ThroughputMbps, result.MeanThroughputMbps, result.MeanDelay,
		result.Flows, result.Excluded)
	if err != nil {
		tx.Rollback()
		return &SinkWriteError{Target: ss.DBPath, Err: err}
	}
	if err = tx.Commit(); err != nil {
		return &SinkWriteError{Target: ss.DBPath, Err: err}
	}
	return nil
}

// Results reads back the rows of this sink's sweep in configuration order
func (ss *SQLiteSink) Results() ([]AggregateResult, error) {
	rows, err := ss.db.Query(`
	SELECT config_index, distance1, distance2, data_mode, rts_cts,
		throughput_mbps, mean_throughput_mbps, mean_delay_s, flows, excluded
	FROM sweep_results WHERE sweep = ? ORDER BY config_index`, ss.Sweep)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []AggregateResult{}
	for rows.Next() {
		var res AggregateResult
		cfg := &res.Config
		if err := rows.Scan(&cfg.Index, &cfg.Distance1, &cfg.Distance2, &cfg.DataMode, &cfg.RtsCts,
			&res.ThroughputMbps, &res.MeanThroughputMbps, &res.MeanDelay, &res.Flows, &res.Excluded); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// Close releases the database handle
func (ss *SQLiteSink) Close() error {
	if ss.db == nil {
		return nil
	}
	err := ss.db.Close()
	ss.db = nil
	return err
}
