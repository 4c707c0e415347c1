package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/a5c-ai/babysitter/pkg/db"
	"github.com/a5c-ai/babysitter/pkg/db/migrations"
)

// SQLiteStore implements Store on top of the shared SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens the database at dbPath and applies all migrations.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	sqlDB, err := db.Open(ctx, dbPath, migrations.All()...)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: sqlDB}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type dbRun struct {
	ID          string         `db:"id"`
	ProcessID   string         `db:"process_id"`
	Status      string         `db:"status"`
	Inputs      string         `db:"inputs"`
	Result      sql.NullString `db:"result"`
	Error       string         `db:"error"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
}

func fromRun(r *Run) dbRun {
	row := dbRun{
		ID:        r.ID,
		ProcessID: r.ProcessID,
		Status:    string(r.Status),
		Inputs:    string(r.Inputs),
		Result:    nullJSON(r.Result),
		Error:     r.Error,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if row.Inputs == "" {
		row.Inputs = "{}"
	}
	if r.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: *r.CompletedAt, Valid: true}
	}
	return row
}

func (row dbRun) toRun() *Run {
	r := &Run{
		ID:        row.ID,
		ProcessID: row.ProcessID,
		Status:    Status(row.Status),
		Inputs:    json.RawMessage(row.Inputs),
		Error:     row.Error,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.Result.Valid {
		r.Result = json.RawMessage(row.Result.String)
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		r.CompletedAt = &t
	}
	return r
}

type dbEntry struct {
	RunID     string         `db:"run_id"`
	Seq       int            `db:"seq"`
	Kind      string         `db:"kind"`
	Name      string         `db:"name"`
	Status    string         `db:"status"`
	Payload   sql.NullString `db:"payload"`
	Result    sql.NullString `db:"result"`
	Error     string         `db:"error"`
	CreatedAt time.Time      `db:"created_at"`
}

type dbBreakpoint struct {
	ID        string         `db:"id"`
	RunID     string         `db:"run_id"`
	Seq       int            `db:"seq"`
	Title     string         `db:"title"`
	Question  string         `db:"question"`
	Files     sql.NullString `db:"files"`
	Status    string         `db:"status"`
	Response  string         `db:"response"`
	DecidedBy string         `db:"decided_by"`
	CreatedAt time.Time      `db:"created_at"`
	DecidedAt sql.NullTime   `db:"decided_at"`
}

func (row dbBreakpoint) toBreakpoint() (*Breakpoint, error) {
	bp := &Breakpoint{
		ID:        row.ID,
		RunID:     row.RunID,
		Seq:       row.Seq,
		Title:     row.Title,
		Question:  row.Question,
		Status:    BreakpointStatus(row.Status),
		Response:  row.Response,
		DecidedBy: row.DecidedBy,
		CreatedAt: row.CreatedAt,
	}
	if row.Files.Valid && row.Files.String != "" {
		if err := json.Unmarshal([]byte(row.Files.String), &bp.Files); err != nil {
			return nil, errors.Wrapf(err, "failed to decode files of breakpoint %s", row.ID)
		}
	}
	if row.DecidedAt.Valid {
		t := row.DecidedAt.Time
		bp.DecidedAt = &t
	}
	return bp, nil
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

// CreateRun inserts a new run. CreatedAt/UpdatedAt default to now.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = run.CreatedAt
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (id, process_id, status, inputs, result, error, created_at, updated_at, completed_at)
		VALUES (:id, :process_id, :status, :inputs, :result, :error, :created_at, :updated_at, :completed_at)
	`, fromRun(run))
	return errors.Wrapf(err, "failed to create run %s", run.ID)
}

// GetRun loads a run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var row dbRun
	err := s.db.GetContext(ctx, &row, "SELECT * FROM runs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "run %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load run %s", id)
	}
	return row.toRun(), nil
}

// ListRuns returns runs matching filter, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var conditions []string
	var args []any

	if filter.ProcessID != "" {
		conditions = append(conditions, "process_id = ?")
		args = append(args, filter.ProcessID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := "SELECT * FROM runs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []dbRun
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}

	result := make([]*Run, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toRun())
	}
	return result, nil
}

// UpdateRun persists status, result, error and completion time of a run.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *Run) error {
	run.UpdatedAt = time.Now().UTC()

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE runs SET
			status = :status,
			result = :result,
			error = :error,
			updated_at = :updated_at,
			completed_at = :completed_at
		WHERE id = :id
	`, fromRun(run))
	if err != nil {
		return errors.Wrapf(err, "failed to update run %s", run.ID)
	}
	return requireAffected(res, "run", run.ID)
}

// DeleteRun removes a run together with its journal and breakpoints.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete run %s", id)
	}
	return requireAffected(res, "run", id)
}

// AppendJournal inserts or replaces the journal entry at (RunID, Seq).
func (s *SQLiteStore) AppendJournal(ctx context.Context, entry *JournalEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	row := dbEntry{
		RunID:     entry.RunID,
		Seq:       entry.Seq,
		Kind:      string(entry.Kind),
		Name:      entry.Name,
		Status:    string(entry.Status),
		Payload:   nullJSON(entry.Payload),
		Result:    nullJSON(entry.Result),
		Error:     entry.Error,
		CreatedAt: entry.CreatedAt,
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO run_journal (run_id, seq, kind, name, status, payload, result, error, created_at)
		VALUES (:run_id, :seq, :kind, :name, :status, :payload, :result, :error, :created_at)
		ON CONFLICT(run_id, seq) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			status = excluded.status,
			payload = excluded.payload,
			result = excluded.result,
			error = excluded.error,
			created_at = excluded.created_at
	`, row)
	return errors.Wrapf(err, "failed to save journal entry %d of run %s", entry.Seq, entry.RunID)
}

// Journal returns a run's entries ordered by sequence.
func (s *SQLiteStore) Journal(ctx context.Context, runID string) ([]*JournalEntry, error) {
	var rows []dbEntry
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM run_journal WHERE run_id = ? ORDER BY seq", runID); err != nil {
		return nil, errors.Wrapf(err, "failed to load journal of run %s", runID)
	}

	entries := make([]*JournalEntry, 0, len(rows))
	for _, row := range rows {
		e := &JournalEntry{
			RunID:     row.RunID,
			Seq:       row.Seq,
			Kind:      EntryKind(row.Kind),
			Name:      row.Name,
			Status:    EntryStatus(row.Status),
			Error:     row.Error,
			CreatedAt: row.CreatedAt,
		}
		if row.Payload.Valid {
			e.Payload = json.RawMessage(row.Payload.String)
		}
		if row.Result.Valid {
			e.Result = json.RawMessage(row.Result.String)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// CreateBreakpoint inserts a pending breakpoint.
func (s *SQLiteStore) CreateBreakpoint(ctx context.Context, bp *Breakpoint) error {
	if bp.CreatedAt.IsZero() {
		bp.CreatedAt = time.Now().UTC()
	}
	if bp.Status == "" {
		bp.Status = BreakpointPending
	}

	files, err := json.Marshal(bp.Files)
	if err != nil {
		return errors.Wrap(err, "failed to encode breakpoint files")
	}

	row := dbBreakpoint{
		ID:        bp.ID,
		RunID:     bp.RunID,
		Seq:       bp.Seq,
		Title:     bp.Title,
		Question:  bp.Question,
		Files:     sql.NullString{String: string(files), Valid: true},
		Status:    string(bp.Status),
		Response:  bp.Response,
		DecidedBy: bp.DecidedBy,
		CreatedAt: bp.CreatedAt,
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO breakpoints (id, run_id, seq, title, question, files, status, response, decided_by, created_at, decided_at)
		VALUES (:id, :run_id, :seq, :title, :question, :files, :status, :response, :decided_by, :created_at, :decided_at)
	`, row)
	return errors.Wrapf(err, "failed to create breakpoint %s", bp.ID)
}

// GetBreakpoint loads a breakpoint by id.
func (s *SQLiteStore) GetBreakpoint(ctx context.Context, id string) (*Breakpoint, error) {
	return s.getBreakpoint(ctx, "SELECT * FROM breakpoints WHERE id = ?", id)
}

// FindBreakpoint loads the breakpoint a run raised at seq.
func (s *SQLiteStore) FindBreakpoint(ctx context.Context, runID string, seq int) (*Breakpoint, error) {
	return s.getBreakpoint(ctx, "SELECT * FROM breakpoints WHERE run_id = ? AND seq = ?", runID, seq)
}

func (s *SQLiteStore) getBreakpoint(ctx context.Context, query string, args ...any) (*Breakpoint, error) {
	var row dbBreakpoint
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "breakpoint %v", args)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load breakpoint")
	}
	return row.toBreakpoint()
}

// ListBreakpoints returns breakpoints matching filter, oldest first.
func (s *SQLiteStore) ListBreakpoints(ctx context.Context, filter BreakpointFilter) ([]*Breakpoint, error) {
	var conditions []string
	var args []any

	if filter.RunID != "" {
		conditions = append(conditions, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := "SELECT * FROM breakpoints"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at, seq"

	var rows []dbBreakpoint
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list breakpoints")
	}

	result := make([]*Breakpoint, 0, len(rows))
	for _, row := range rows {
		bp, err := row.toBreakpoint()
		if err != nil {
			return nil, err
		}
		result = append(result, bp)
	}
	return result, nil
}

// DecideBreakpoint records an approval or rejection on a pending breakpoint.
func (s *SQLiteStore) DecideBreakpoint(ctx context.Context, id string, decision Decision) (*Breakpoint, error) {
	if decision.Status != BreakpointApproved && decision.Status != BreakpointRejected {
		return nil, errors.Errorf("invalid breakpoint decision %q", decision.Status)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var status string
	err = tx.GetContext(ctx, &status, "SELECT status FROM breakpoints WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "breakpoint %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load breakpoint %s", id)
	}
	if BreakpointStatus(status) != BreakpointPending {
		return nil, errors.Wrapf(ErrAlreadyDecided, "breakpoint %s is %s", id, status)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE breakpoints SET status = ?, response = ?, decided_by = ?, decided_at = ?
		WHERE id = ?
	`, string(decision.Status), decision.Response, decision.DecidedBy, time.Now().UTC(), id); err != nil {
		return nil, errors.Wrapf(err, "failed to decide breakpoint %s", id)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit breakpoint decision")
	}

	return s.GetBreakpoint(ctx, id)
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "%s %s", kind, id)
	}
	return nil
}
