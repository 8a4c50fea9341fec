package mat

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	tableSnapshot = "snapshot"
	tableShape    = "shape"
)

// SnapshotStore persists matrices sampled at successive times to a sqlite
// database, for consumption by external time-evolution solvers.
type SnapshotStore struct {
	Path string
	rows int
	cols int

	db *sql.DB
}

// NewSnapshotStore opens a store at dbPath for matrices of the given shape,
// dropping any previous contents.
func NewSnapshotStore(dbPath string, rows, cols int) (*SnapshotStore, error) {
	s := &SnapshotStore{Path: dbPath, rows: rows, cols: cols}
	var err error
	s.db, err = sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	if err := s.prepare(); err != nil {
		s.db.Close()
		return nil, errors.Wrap(err, "")
	}
	return s, nil
}

// OpenSnapshotStore opens an existing store, reading its shape.
func OpenSnapshotStore(dbPath string) (*SnapshotStore, error) {
	s := &SnapshotStore{Path: dbPath}
	var err error
	s.db, err = sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT rows, cols FROM %s`, tableShape)
	if err := s.db.QueryRowContext(ctx, sqlStr).Scan(&s.rows, &s.cols); err != nil {
		s.db.Close()
		return nil, errors.Wrap(err, "")
	}
	return s, nil
}

func (s *SnapshotStore) prepare() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	stmts := []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tableSnapshot),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tableShape),
		fmt.Sprintf(`CREATE TABLE %s (t REAL, i INTEGER, j INTEGER, re REAL, im REAL, PRIMARY KEY (t, i, j)) STRICT`, tableSnapshot),
		fmt.Sprintf(`CREATE TABLE %s (rows INTEGER, cols INTEGER) STRICT`, tableShape),
	}
	for _, sqlStr := range stmts {
		if _, err := s.db.ExecContext(ctx, sqlStr); err != nil {
			return errors.Wrap(err, sqlStr)
		}
	}

	sqlStr := fmt.Sprintf(`INSERT INTO %s (rows, cols) VALUES (?, ?)`, tableShape)
	if _, err := s.db.ExecContext(ctx, sqlStr, s.rows, s.cols); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func (s *SnapshotStore) Rows() int { return s.rows }
func (s *SnapshotStore) Cols() int { return s.cols }

// Put writes all nonzero entries of m at time t.
func (s *SnapshotStore) Put(t float64, m *COO) error {
	if m.Rows() != s.rows || m.Cols() != s.cols {
		return errors.Errorf("%d %d, expected %d %d", m.Rows(), m.Cols(), s.rows, s.cols)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (t, i, j, re, im) VALUES (?, ?, ?, ?, ?)`, tableSnapshot)
	for _, v := range m.Data {
		if v.V == 0 {
			continue
		}
		if _, err1 := tx.ExecContext(ctx, sqlStr, t, v.Row, v.Col, real(v.V), imag(v.V)); err1 != nil && err == nil {
			err = errors.Wrap(err1, fmt.Sprintf("%f %d %d", t, v.Row, v.Col))
		}
	}
	if err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Get reads the snapshot at time t.
func (s *SnapshotStore) Get(t float64) (*COO, error) {
	m := COOZeros(s.rows, s.cols)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT i, j, re, im FROM %s WHERE t=? ORDER BY i, j`, tableSnapshot)
	rows, err := s.db.QueryContext(ctx, sqlStr, t)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	for rows.Next() {
		var i, j int
		var re, im float64
		if err := rows.Scan(&i, &j, &re, &im); err != nil {
			return nil, errors.Wrap(err, "")
		}
		m.Data = append(m.Data, Entry{V: complex(float32(re), float32(im)), Row: i, Col: j})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return m, nil
}

// Times returns the distinct sample times in ascending order.
func (s *SnapshotStore) Times() ([]float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT DISTINCT t FROM %s ORDER BY t`, tableSnapshot)
	rows, err := s.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	ts := make([]float64, 0)
	for rows.Next() {
		var t float64
		if err := rows.Scan(&t); err != nil {
			return nil, errors.Wrap(err, "")
		}
		ts = append(ts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return ts, nil
}

func (s *SnapshotStore) Close() error {
	return s.db.Close()
}
