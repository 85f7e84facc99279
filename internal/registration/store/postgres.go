// Package store provides the in-memory and PostgreSQL implementations of the
// registration store and its transaction boundary.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"int20h/internal/registration/models"
	"int20h/internal/registration/service"
	dErrors "int20h/pkg/domain-errors"
	"int20h/pkg/platform/sentinel"
	txcontext "int20h/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// PostgresStore persists registration data in PostgreSQL. It is pure I/O:
// team arbitration and duplicate translation live in the team and guard
// packages. Calls made with a context from PostgresTx.RunInTx run inside
// that transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) execer(ctx context.Context) txcontext.DBTX {
	return txcontext.Executor(ctx, s.db)
}

func (s *PostgresStore) CategoryExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, translateError("category exists", err)
	}
	return exists, nil
}

func (s *PostgresStore) UniversityExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM universities WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, translateError("university exists", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, translateError("list categories", err)
	}
	defer rows.Close()

	var out []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListUniversities(ctx context.Context) ([]models.University, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `SELECT id, name, city FROM universities ORDER BY name`)
	if err != nil {
		return nil, translateError("list universities", err)
	}
	defer rows.Close()

	var out []models.University
	for rows.Next() {
		var (
			u    models.University
			city sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.Name, &city); err != nil {
			return nil, fmt.Errorf("scan university: %w", err)
		}
		if city.Valid {
			u.City = &city.String
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpsertCategory inserts a category by name, leaving an existing one as is.
func (s *PostgresStore) UpsertCategory(ctx context.Context, name string) (bool, error) {
	res, err := s.execer(ctx).ExecContext(ctx,
		`INSERT INTO categories (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return false, translateError("upsert category", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpsertUniversity inserts a university by name, leaving an existing one as is.
func (s *PostgresStore) UpsertUniversity(ctx context.Context, name string, city *string) (bool, error) {
	res, err := s.execer(ctx).ExecContext(ctx,
		`INSERT INTO universities (name, city) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`, name, city)
	if err != nil {
		return false, translateError("upsert university", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *PostgresStore) FindTeam(ctx context.Context, name string, categoryID int64) (*models.Team, error) {
	query := `
		SELECT id, team_name, category_id, leader_id, created_at
		FROM teams
		WHERE team_name = $1 AND category_id = $2
	`
	var (
		t        models.Team
		leaderID sql.NullInt64
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, name, categoryID).
		Scan(&t.ID, &t.Name, &t.CategoryID, &leaderID, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, translateError("find team", err)
	}
	if leaderID.Valid {
		t.LeaderID = &leaderID.Int64
	}
	return &t, nil
}

// CreateTeam inserts a team without a leader. ON CONFLICT DO NOTHING keeps
// the transaction usable when another leader wins, so the caller can look
// the winner up afterwards.
func (s *PostgresStore) CreateTeam(ctx context.Context, team *models.Team) (*models.Team, error) {
	query := `
		INSERT INTO teams (team_name, category_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT ON CONSTRAINT ` + constraintTeamName + ` DO NOTHING
		RETURNING id
	`
	created := *team
	created.LeaderID = nil
	err := s.execer(ctx).QueryRowContext(ctx, query, team.Name, team.CategoryID, team.CreatedAt).Scan(&created.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("create team %q: %w", team.Name, sentinel.ErrAlreadyUsed)
	}
	if err != nil {
		return nil, translateError("create team", err)
	}
	return &created, nil
}

func (s *PostgresStore) AssignTeamLeader(ctx context.Context, teamID, participantID int64) error {
	res, err := s.execer(ctx).ExecContext(ctx, `UPDATE teams SET leader_id = $1 WHERE id = $2`, participantID, teamID)
	if err != nil {
		return translateError("assign team leader", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("assign team leader: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("team %d: %w", teamID, sentinel.ErrNotFound)
	}
	return nil
}

const participantColumns = `
	id, full_name, email, telegram, phone, is_student, study_year, university_id,
	category_id, participation_format, team_leader, team_id, wants_job, job_description,
	cv_url, linkedin, work_consent, source, comment, personal_data_consent, skills::text, created_at
`

// FindParticipantByContact prefers a row matching email over one matching
// only telegram.
func (s *PostgresStore) FindParticipantByContact(ctx context.Context, email, telegram string) (*models.Participant, error) {
	query := `SELECT ` + participantColumns + `
		FROM participants
		WHERE email = $1 OR telegram = $2
		ORDER BY (email = $1) DESC
		LIMIT 1
	`
	p, err := scanParticipant(s.execer(ctx).QueryRowContext(ctx, query, email, telegram))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, translateError("find participant", err)
	}
	return p, nil
}

// InsertParticipant returns *models.UniqueViolation when email or telegram
// is already taken.
func (s *PostgresStore) InsertParticipant(ctx context.Context, p *models.Participant) (*models.Participant, error) {
	query := `
		INSERT INTO participants (
			full_name, email, telegram, phone, is_student, study_year, university_id,
			category_id, participation_format, team_leader, team_id, wants_job, job_description,
			cv_url, linkedin, work_consent, source, comment, personal_data_consent, skills, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING id
	`
	var studyYear *int
	if p.StudyYear != nil {
		y := int(*p.StudyYear)
		studyYear = &y
	}
	skills := p.Skills
	if skills == nil {
		skills = []string{}
	}
	inserted := *p
	err := s.execer(ctx).QueryRowContext(ctx, query,
		p.FullName, p.Email, p.Telegram, p.Phone, p.IsStudent, studyYear, p.UniversityID,
		p.CategoryID, string(p.Format), p.TeamLeader, p.TeamID, p.WantsJob, p.JobDescription,
		p.CVURL, p.LinkedIn, p.WorkConsent, p.Source, p.Comment, p.PersonalDataConsent,
		pq.Array(skills), p.CreatedAt,
	).Scan(&inserted.ID)
	if err != nil {
		return nil, translateError("insert participant", err)
	}
	return &inserted, nil
}

func scanParticipant(row *sql.Row) (*models.Participant, error) {
	var (
		p            models.Participant
		studyYear    sql.NullInt64
		universityID sql.NullInt64
		teamID       sql.NullInt64
		format       string
		skills       pq.StringArray
	)
	err := row.Scan(
		&p.ID, &p.FullName, &p.Email, &p.Telegram, &p.Phone, &p.IsStudent, &studyYear, &universityID,
		&p.CategoryID, &format, &p.TeamLeader, &teamID, &p.WantsJob, &p.JobDescription,
		&p.CVURL, &p.LinkedIn, &p.WorkConsent, &p.Source, &p.Comment, &p.PersonalDataConsent,
		&skills, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Format = models.ParticipationFormat(format)
	p.Skills = []string(skills)
	if studyYear.Valid {
		y := models.StudyYear(studyYear.Int64)
		p.StudyYear = &y
	}
	if universityID.Valid {
		p.UniversityID = &universityID.Int64
	}
	if teamID.Valid {
		p.TeamID = &teamID.Int64
	}
	return &p, nil
}

func (s *PostgresStore) AppendOutbox(ctx context.Context, entry *models.OutboxEntry) error {
	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		entry.ID, entry.AggregateType, entry.AggregateID, entry.EventType, entry.Payload, entry.CreatedAt)
	if err != nil {
		return translateError("append outbox", err)
	}
	return nil
}

// FetchUnpublished locks up to limit unpublished entries. Call it inside a
// transaction so concurrent relays skip each other's rows.
func (s *PostgresStore) FetchUnpublished(ctx context.Context, limit int) ([]models.OutboxEntry, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, translateError("fetch outbox", err)
	}
	defer rows.Close()

	var out []models.OutboxEntry
	for rows.Next() {
		var e models.OutboxEntry
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	_, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE outbox SET published_at = $1 WHERE id = ANY($2::uuid[])`, at, pq.Array(strIDs))
	if err != nil {
		return translateError("mark outbox published", err)
	}
	return nil
}

// PostgresTx runs submissions in READ COMMITTED transactions carried in the
// context, so PostgresStore calls made with that context join them.
type PostgresTx struct {
	db      *sql.DB
	store   *PostgresStore
	timeout time.Duration
}

func NewPostgresTx(db *sql.DB, store *PostgresStore, timeout time.Duration) *PostgresTx {
	if timeout <= 0 {
		timeout = defaultTxTimeout
	}
	return &PostgresTx{db: db, store: store, timeout: timeout}
}

func (t *PostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context, store service.Store) error) error {
	return t.Run(ctx, func(ctx context.Context) error { return fn(ctx, t.store) })
}

// RunOutboxTx is RunInTx for the outbox relay.
func (t *PostgresTx) RunOutboxTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.Run(ctx, fn)
}

// Run executes fn in a READ COMMITTED transaction carried by ctx. Store
// methods called with that ctx join the transaction. The transaction is
// bounded by the configured timeout or the caller's deadline, whichever is
// earlier.
func (t *PostgresTx) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return translateError("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return translateError("commit", err)
	}
	return nil
}
