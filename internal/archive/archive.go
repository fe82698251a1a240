// Package archive persists performance samples and export records to
// SQLite so they outlive the in-memory rolling windows.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dj-oyu/detection-dashboard/internal/model"
)

// Archive wraps sql.DB with the dashboard schema.
type Archive struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and initializes the schema.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive open failed: %w", err)
	}
	// one writer
	db.SetMaxOpenConns(1)

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA synchronous=NORMAL")

	a := &Archive{db: db}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS model_samples (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        ts_ms INTEGER NOT NULL,
        fps REAL,
        inference_ms REAL,
        object_count INTEGER,
        precision REAL,
        recall REAL,
        f1 REAL,
        mota REAL,
        motp REAL,
        objects_by_class TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_model_ts ON model_samples(ts_ms);

    CREATE TABLE IF NOT EXISTS system_samples (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        ts_ms INTEGER NOT NULL,
        cpu REAL,
        gpu REAL,
        ram REAL,
        disk REAL,
        net_in REAL,
        net_out REAL,
        temp_cpu REAL,
        temp_gpu REAL
    );
    CREATE INDEX IF NOT EXISTS idx_system_ts ON system_samples(ts_ms);

    CREATE TABLE IF NOT EXISTS exports (
        id TEXT PRIMARY KEY,
        ts_ms INTEGER NOT NULL,
        filename TEXT NOT NULL,
        total_detections INTEGER,
        filtered_detections INTEGER,
        filters TEXT
    );
    `
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}
	return nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// RecordModel stores one model metrics sample.
func (a *Archive) RecordModel(ctx context.Context, m model.ModelMetrics) error {
	classes, err := json.Marshal(m.ObjectsByClass)
	if err != nil {
		return fmt.Errorf("encode objects by class: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
        INSERT INTO model_samples (ts_ms, fps, inference_ms, object_count, precision, recall, f1, mota, motp, objects_by_class)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sampleMillis(m.Timestamp), m.FPS, m.InferenceTime, m.ObjectCount,
		m.Precision, m.Recall, m.F1Score, m.MOTA, m.MOTP, string(classes))
	if err != nil {
		return fmt.Errorf("insert model sample: %w", err)
	}
	return nil
}

// RecordSystem stores one system metrics sample.
func (a *Archive) RecordSystem(ctx context.Context, m model.SystemMetrics) error {
	_, err := a.db.ExecContext(ctx, `
        INSERT INTO system_samples (ts_ms, cpu, gpu, ram, disk, net_in, net_out, temp_cpu, temp_gpu)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sampleMillis(m.Timestamp), m.CPU, m.GPU, m.RAM, m.Disk, m.NetIn, m.NetOut, m.TempCPU, m.TempGPU)
	if err != nil {
		return fmt.Errorf("insert system sample: %w", err)
	}
	return nil
}

// ExportRecord is one completed export download.
type ExportRecord struct {
	ID                 string
	At                 time.Time
	Filename           string
	TotalDetections    int
	FilteredDetections int
	Filters            any
}

// RecordExport stores metadata of an export.
func (a *Archive) RecordExport(ctx context.Context, r ExportRecord) error {
	filters, err := json.Marshal(r.Filters)
	if err != nil {
		return fmt.Errorf("encode filters: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
        INSERT OR REPLACE INTO exports (id, ts_ms, filename, total_detections, filtered_detections, filters)
        VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.At.UnixMilli(), r.Filename, r.TotalDetections, r.FilteredDetections, string(filters))
	if err != nil {
		return fmt.Errorf("insert export: %w", err)
	}
	return nil
}

// ModelHistory returns model samples newer than since, oldest first.
func (a *Archive) ModelHistory(ctx context.Context, since time.Time) ([]model.ModelMetrics, error) {
	rows, err := a.db.QueryContext(ctx, `
        SELECT ts_ms, fps, inference_ms, object_count, precision, recall, f1, mota, motp, objects_by_class
        FROM model_samples WHERE ts_ms >= ? ORDER BY ts_ms`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query model samples: %w", err)
	}
	defer rows.Close()

	var out []model.ModelMetrics
	for rows.Next() {
		var (
			m       model.ModelMetrics
			ts      int64
			classes sql.NullString
		)
		if err := rows.Scan(&ts, &m.FPS, &m.InferenceTime, &m.ObjectCount, &m.Precision,
			&m.Recall, &m.F1Score, &m.MOTA, &m.MOTP, &classes); err != nil {
			continue
		}
		m.Timestamp = model.FromMillis(ts)
		if classes.Valid && classes.String != "null" {
			_ = json.Unmarshal([]byte(classes.String), &m.ObjectsByClass)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Summary counts archived rows.
type Summary struct {
	ModelSamples  int `json:"modelSamples"`
	SystemSamples int `json:"systemSamples"`
	Exports       int `json:"exports"`
}

// Summary returns row counts per table.
func (a *Archive) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	err := a.db.QueryRowContext(ctx, `
        SELECT
            (SELECT COUNT(*) FROM model_samples),
            (SELECT COUNT(*) FROM system_samples),
            (SELECT COUNT(*) FROM exports)`).Scan(&s.ModelSamples, &s.SystemSamples, &s.Exports)
	if err != nil {
		return Summary{}, fmt.Errorf("summary: %w", err)
	}
	return s, nil
}

// Prune deletes samples and export records older than cutoff and returns
// the number of rows removed.
func (a *Archive) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, q := range []string{
		`DELETE FROM model_samples WHERE ts_ms < ?`,
		`DELETE FROM system_samples WHERE ts_ms < ?`,
		`DELETE FROM exports WHERE ts_ms < ?`,
	} {
		res, err := a.db.ExecContext(ctx, q, cutoff.UnixMilli())
		if err != nil {
			return total, fmt.Errorf("prune: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// Maintain prunes rows older than retention and lets SQLite refresh its
// query statistics.
func (a *Archive) Maintain(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := a.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		return n, err
	}
	if _, err := a.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return n, fmt.Errorf("optimize: %w", err)
	}
	return n, nil
}

func sampleMillis(ts model.Timestamp) int64 {
	if ts.IsZero() {
		return time.Now().UnixMilli()
	}
	return ts.Millis()
}
