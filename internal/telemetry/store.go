package telemetry

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ZeroResultRetention caps the persisted zero-result queries.
const ZeroResultRetention = 100

// Kinds of daily counter rows.
const (
	kindScope   = "scope"
	kindBackend = "backend"
	kindLatency = "latency"
)

// SQLiteMetricsStore implements QueryMetricsStore on the registry database.
// Daily counters share one table keyed by (date, kind, key).
type SQLiteMetricsStore struct {
	db *sql.DB
}

// NewSQLiteMetricsStore wraps db, which must already carry the telemetry
// tables (see InitTelemetrySchema).
func NewSQLiteMetricsStore(db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteMetricsStore{db: db}, nil
}

// InitTelemetrySchema creates the telemetry tables if they don't exist.
func InitTelemetrySchema(db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS daily_counts (
		date  TEXT NOT NULL,
		kind  TEXT NOT NULL,
		key   TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, kind, key)
	);

	CREATE TABLE IF NOT EXISTS query_terms (
		term      TEXT PRIMARY KEY,
		count     INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		query     TEXT NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// execEach runs one statement per row inside a single transaction.
func (s *SQLiteMetricsStore) execEach(query string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, args := range rows {
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("write telemetry row: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteMetricsStore) addDaily(date, kind string, counts map[string]int64) error {
	rows := make([][]any, 0, len(counts))
	for key, n := range counts {
		rows = append(rows, []any{date, kind, key, n})
	}
	return s.execEach(`
		INSERT INTO daily_counts (date, kind, key, count) VALUES (?, ?, ?, ?)
		ON CONFLICT(date, kind, key) DO UPDATE SET count = count + excluded.count`, rows)
}

// sumDaily totals one kind of counter over an inclusive date range.
func (s *SQLiteMetricsStore) sumDaily(kind, from, to string) (map[string]int64, error) {
	rows, err := s.db.Query(`
		SELECT key, SUM(count) FROM daily_counts
		WHERE kind = ? AND date >= ? AND date <= ?
		GROUP BY key`, kind, from, to)
	if err != nil {
		return nil, fmt.Errorf("query %s counts: %w", kind, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scan %s count: %w", kind, err)
		}
		out[key] = n
	}
	return out, rows.Err()
}

// SaveScopeCounts adds to the daily per-scope query counts.
func (s *SQLiteMetricsStore) SaveScopeCounts(date string, counts map[string]int64) error {
	return s.addDaily(date, kindScope, counts)
}

// GetScopeCounts sums per-scope counts over an inclusive date range.
func (s *SQLiteMetricsStore) GetScopeCounts(from, to string) (map[string]int64, error) {
	return s.sumDaily(kindScope, from, to)
}

// SaveBackendCounts adds to the daily per-backend outcome counts. Rows
// are keyed "backend/outcome".
func (s *SQLiteMetricsStore) SaveBackendCounts(date string, counts map[string]map[Outcome]int64) error {
	flat := make(map[string]int64)
	for backend, outcomes := range counts {
		for outcome, n := range outcomes {
			flat[backend+"/"+string(outcome)] = n
		}
	}
	return s.addDaily(date, kindBackend, flat)
}

// GetBackendCounts sums outcome counts per backend over an inclusive date range.
func (s *SQLiteMetricsStore) GetBackendCounts(from, to string) (map[string]map[Outcome]int64, error) {
	flat, err := s.sumDaily(kindBackend, from, to)
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[Outcome]int64)
	for key, n := range flat {
		backend, outcome, ok := strings.Cut(key, "/")
		if !ok {
			continue
		}
		if out[backend] == nil {
			out[backend] = make(map[Outcome]int64)
		}
		out[backend][Outcome(outcome)] = n
	}
	return out, nil
}

// SaveLatencyCounts adds to the daily latency histogram.
func (s *SQLiteMetricsStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	flat := make(map[string]int64, len(counts))
	for b, n := range counts {
		flat[string(b)] = n
	}
	return s.addDaily(date, kindLatency, flat)
}

// GetLatencyCounts sums the latency histogram over an inclusive date range.
func (s *SQLiteMetricsStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	flat, err := s.sumDaily(kindLatency, from, to)
	if err != nil {
		return nil, err
	}
	out := make(map[LatencyBucket]int64, len(flat))
	for b, n := range flat {
		out[LatencyBucket(b)] = n
	}
	return out, nil
}

// UpsertTermCounts adds to the all-time query term frequencies.
func (s *SQLiteMetricsStore) UpsertTermCounts(terms map[string]int64) error {
	rows := make([][]any, 0, len(terms))
	for term, n := range terms {
		rows = append(rows, []any{term, n})
	}
	return s.execEach(`
		INSERT INTO query_terms (term, count, last_seen) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(term) DO UPDATE SET count = count + excluded.count, last_seen = CURRENT_TIMESTAMP`, rows)
}

// GetTopTerms returns the most frequent query terms.
func (s *SQLiteMetricsStore) GetTopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`SELECT term, count FROM query_terms ORDER BY count DESC, term LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan term: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// AddZeroResultQuery records a query that found nothing, keeping only the
// newest ZeroResultRetention rows.
func (s *SQLiteMetricsStore) AddZeroResultQuery(query string, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT INTO zero_result_queries (query, timestamp) VALUES (?, ?)`, query, at); err != nil {
		return fmt.Errorf("insert zero-result query: %w", err)
	}
	if _, err := tx.Exec(`
		DELETE FROM zero_result_queries
		WHERE id NOT IN (SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)`, ZeroResultRetention); err != nil {
		return fmt.Errorf("trim zero-result queries: %w", err)
	}
	return tx.Commit()
}

// GetZeroResultQueries returns the newest zero-result queries first.
func (s *SQLiteMetricsStore) GetZeroResultQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT query FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan query: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// Close is a no-op; the registry owns the database handle.
func (s *SQLiteMetricsStore) Close() error {
	return nil
}
