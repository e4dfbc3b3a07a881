package runstore

import "encoding/json"

func (s *Store) ensureSchema() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  run_id TEXT PRIMARY KEY,
  target TEXT NOT NULL DEFAULT '',
  outcome TEXT NOT NULL DEFAULT '',
  success BOOLEAN NOT NULL DEFAULT FALSE,
  result JSONB NOT NULL,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs (created_at DESC);
`)
	})
	return s.schemaErr
}

func (s *Store) putDB(rec Record) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	payload, err := json.Marshal(rec.Result)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
INSERT INTO runs (run_id, target, outcome, success, result, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (run_id)
DO UPDATE SET target=EXCLUDED.target,
  outcome=EXCLUDED.outcome,
  success=EXCLUDED.success,
  result=EXCLUDED.result`,
		rec.RunID, rec.Target, string(rec.Result.Outcome), rec.Result.Success, payload, rec.CreatedAt)
	return err
}

func (s *Store) getDB(runID string) (Record, bool) {
	if err := s.ensureSchema(); err != nil {
		return Record{}, false
	}
	row := s.db.QueryRow(`SELECT run_id, target, result, created_at
FROM runs WHERE run_id = $1`, runID)
	var rec Record
	var payload []byte
	if err := row.Scan(&rec.RunID, &rec.Target, &payload, &rec.CreatedAt); err != nil {
		return Record{}, false
	}
	if err := json.Unmarshal(payload, &rec.Result); err != nil {
		return Record{}, false
	}
	return rec, true
}

func (s *Store) listDB(limit int) []Record {
	if err := s.ensureSchema(); err != nil {
		return nil
	}
	q := `SELECT run_id, target, result, created_at FROM runs ORDER BY created_at DESC`
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(q+` LIMIT $1`, limit)
	if err != nil {
		return nil
	}
	defer rows.Close()

	out := make([]Record, 0, 32)
	for rows.Next() {
		var rec Record
		var payload []byte
		if err := rows.Scan(&rec.RunID, &rec.Target, &payload, &rec.CreatedAt); err != nil {
			continue
		}
		if err := json.Unmarshal(payload, &rec.Result); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}
