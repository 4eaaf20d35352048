// Package record stores per-step sector attributes and optimizer outcomes in
// SQLite so runs can be compared after the fact.
package record

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/code-lab-org/sipg-sub003/sim"
)

// Recorder implements sim.StepObserver.
//
// Thread-safety: safe for concurrent use; database/sql serializes access.
type Recorder struct {
	conn  *sqlx.DB
	runID string
}

// Run describes one recorded simulation run.
type Run struct {
	ID         string `db:"id"`
	Federate   string `db:"federate"`
	StartedAt  int64  `db:"started_at"` // unix seconds
	StartYear  int    `db:"start_year"`
	Iterations int    `db:"iterations"`
}

// Point is one recorded attribute value.
type Point struct {
	Year      int     `db:"year"`
	Iteration int     `db:"iteration"`
	Value     float64 `db:"value"`
}

// Outcome is one recorded optimizer result.
type Outcome struct {
	Year      int     `db:"year"`
	Iteration int     `db:"iteration"`
	Sector    string  `db:"sector"`
	OK        bool    `db:"ok"`
	Reason    string  `db:"reason"`
	Cost      float64 `db:"cost"`
}

// dsn applies the pragmas on every pooled connection; modernc.org/sqlite
// only honours them through _pragma parameters.
func dsn(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Open opens or creates the database at path and registers a new run.
func Open(path, federate string, cfg sim.SimulationConfig) (*Recorder, error) {
	conn, err := sqlx.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	r := &Recorder{conn: conn, runID: uuid.NewString()}
	if err := r.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	_, err = conn.Exec(`INSERT INTO runs (id, federate, started_at, start_year, iterations) VALUES (?, ?, ?, ?, ?)`,
		r.runID, federate, time.Now().Unix(), cfg.StartYear, cfg.Iterations)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("register run: %w", err)
	}
	return r, nil
}

// RunID identifies the run being recorded.
func (r *Recorder) RunID() string { return r.runID }

// Close closes the database connection.
func (r *Recorder) Close() error {
	return r.conn.Close()
}

func (r *Recorder) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		federate TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		start_year INTEGER NOT NULL,
		iterations INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attribute_values (
		run_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		iteration INTEGER NOT NULL,
		society TEXT NOT NULL,
		sector TEXT NOT NULL,
		key TEXT NOT NULL,
		value REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS optimizations (
		run_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		iteration INTEGER NOT NULL,
		sector TEXT NOT NULL,
		ok INTEGER NOT NULL,
		reason TEXT NOT NULL,
		cost REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_values_lookup ON attribute_values(run_id, society, sector, key);
	CREATE INDEX IF NOT EXISTS idx_optimizations_run ON optimizations(run_id);
	`
	_, err := r.conn.Exec(schema)
	return err
}

// OnStep writes the attributes of every system in the tree and the root
// optimizer outcomes for the committed step t in one transaction.
func (r *Recorder) OnStep(t sim.Time, root *sim.Society) error {
	tx, err := r.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ins, err := tx.Preparex(`INSERT INTO attribute_values (run_id, year, iteration, society, sector, key, value) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer ins.Close()

	var werr error
	root.Walk(func(s *sim.Society) {
		for _, sector := range sim.Sectors {
			sys := s.System(sector)
			if sys == nil || werr != nil {
				continue
			}
			attrs := sys.Attributes()
			for _, k := range attrs.Keys() {
				if math.IsNaN(attrs[k]) {
					continue
				}
				if _, err := ins.Exec(r.runID, t.Year, t.Iteration, s.Name(), sector.String(), k, attrs[k]); err != nil {
					werr = err
					return
				}
			}
		}
	})
	if werr != nil {
		return werr
	}

	for _, sector := range sim.ResourceSectors {
		res := root.SoS(sector).LastResult()
		_, err := tx.Exec(`INSERT INTO optimizations (run_id, year, iteration, sector, ok, reason, cost) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.runID, t.Year, t.Iteration, sector.String(), res.OK, res.Reason, res.Cost)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Runs lists the recorded runs, oldest first.
func (r *Recorder) Runs() ([]Run, error) {
	var runs []Run
	err := r.conn.Select(&runs, `SELECT id, federate, started_at, start_year, iterations FROM runs ORDER BY started_at, id`)
	return runs, err
}

// Series returns one attribute of one society's sector system in time order.
func (r *Recorder) Series(runID, society string, sector sim.Sector, key string) ([]Point, error) {
	var pts []Point
	err := r.conn.Select(&pts, `
		SELECT year, iteration, value FROM attribute_values
		WHERE run_id = ? AND society = ? AND sector = ? AND key = ?
		ORDER BY year, iteration`, runID, society, sector.String(), key)
	return pts, err
}

// Outcomes returns the optimizer results of a run in time order.
func (r *Recorder) Outcomes(runID string) ([]Outcome, error) {
	var out []Outcome
	err := r.conn.Select(&out, `
		SELECT year, iteration, sector, ok, reason, cost FROM optimizations
		WHERE run_id = ? ORDER BY year, iteration, sector`, runID)
	return out, err
}
