package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

var _ Store = (*PGStore)(nil)

// PGStore persists the chain in PostgreSQL. The unique constraint on seq is
// the last line of defense against a forked chain when two writers race.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const auditColumns = `seq, action, severity, entity_type, entity_id, actor, changes, source_addr, occurred_at, prev_checksum, checksum`

func (s *PGStore) Append(ctx context.Context, rec *Record) error {
	changes, err := json.Marshal(rec.Changes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into audit_log(`+auditColumns+`) values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rec.Seq, rec.Action, rec.Severity, rec.EntityType, rec.EntityID, rec.Actor,
		changes, rec.SourceAddr, rec.OccurredAt, rec.PrevChecksum, rec.Checksum,
	)
	return err
}

func (s *PGStore) Last(ctx context.Context) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+auditColumns+` from audit_log order by seq desc limit 1`)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	return rec, err
}

func (s *PGStore) Read(ctx context.Context, fromSeq, toSeq uint64) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+auditColumns+` from audit_log where seq between $1 and $2 order by seq`,
		fromSeq, toSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var changes []byte
	if err := row.Scan(
		&rec.Seq, &rec.Action, &rec.Severity, &rec.EntityType, &rec.EntityID,
		&rec.Actor, &changes, &rec.SourceAddr, &rec.OccurredAt,
		&rec.PrevChecksum, &rec.Checksum,
	); err != nil {
		return nil, err
	}
	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &rec.Changes); err != nil {
			return nil, err
		}
	}
	rec.OccurredAt = rec.OccurredAt.UTC()
	return &rec, nil
}
