package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"int20h/internal/registration/models"
	"int20h/internal/registration/service"
	dErrors "int20h/pkg/domain-errors"
	"int20h/pkg/platform/sentinel"
)

// txState tracks one in-memory transaction. done is closed when it commits
// or rolls back.
type txState struct {
	done chan struct{}
}

type teamRow struct {
	team  models.Team
	owner *txState // nil once committed
}

type participantRow struct {
	participant models.Participant
	owner       *txState
}

type outboxRow struct {
	entry models.OutboxEntry
	owner *txState
}

type teamKey struct {
	name       string
	categoryID int64
}

// MemoryStore keeps registration data in process with Postgres READ COMMITTED
// visibility: rows written by an open transaction are invisible to others,
// and a conflicting insert blocks until the owning transaction finishes.
//
// Wait cycles are not detected. Two transactions that each wait on a key the
// other holds block until the transaction timeout and fail as unavailable,
// where Postgres would abort one of them immediately with a deadlock error.
type MemoryStore struct {
	mu sync.Mutex

	categories   map[int64]models.Category
	universities map[int64]models.University

	teams        map[teamKey]*teamRow
	participants []*participantRow
	emails       map[string]*participantRow
	telegrams    map[string]*participantRow
	outbox       []*outboxRow

	nextTeamID        int64
	nextParticipantID int64
	timeout           time.Duration
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		categories:   make(map[int64]models.Category),
		universities: make(map[int64]models.University),
		teams:        make(map[teamKey]*teamRow),
		emails:       make(map[string]*participantRow),
		telegrams:    make(map[string]*participantRow),
		timeout:      defaultTxTimeout,
	}
}

// WithTimeout sets the per-transaction timeout used by RunInTx.
func (s *MemoryStore) WithTimeout(d time.Duration) *MemoryStore {
	s.timeout = d
	return s
}

func (s *MemoryStore) AddCategory(c models.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
}

func (s *MemoryStore) AddUniversity(u models.University) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.universities[u.ID] = u
}

func (s *MemoryStore) CategoryExists(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.categories[id]
	return ok, nil
}

func (s *MemoryStore) UniversityExists(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.universities[id]
	return ok, nil
}

func (s *MemoryStore) ListCategories(_ context.Context) ([]models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b models.Category) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *MemoryStore) ListUniversities(_ context.Context) ([]models.University, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.University, 0, len(s.universities))
	for _, u := range s.universities {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b models.University) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// RunInTx runs fn in a new in-memory transaction. A nil error from fn
// commits; anything else rolls back and is returned unchanged.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, store service.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	tx := &memoryTx{store: s, state: &txState{done: make(chan struct{})}}
	committed := false
	defer func() {
		if !committed {
			s.rollback(tx.state)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w: %w", sentinel.ErrUnavailable, err)
	}
	s.commit(tx.state)
	committed = true
	return nil
}

func (s *MemoryStore) commit(state *txState) {
	s.mu.Lock()
	for _, row := range s.teams {
		if row.owner == state {
			row.owner = nil
		}
	}
	for _, row := range s.participants {
		if row.owner == state {
			row.owner = nil
		}
	}
	for _, row := range s.outbox {
		if row.owner == state {
			row.owner = nil
		}
	}
	s.mu.Unlock()
	close(state.done)
}

func (s *MemoryStore) rollback(state *txState) {
	s.mu.Lock()
	for k, row := range s.teams {
		if row.owner == state {
			delete(s.teams, k)
		}
	}
	s.participants = slices.DeleteFunc(s.participants, func(row *participantRow) bool {
		if row.owner != state {
			return false
		}
		delete(s.emails, row.participant.Email)
		delete(s.telegrams, row.participant.Telegram)
		return true
	})
	s.outbox = slices.DeleteFunc(s.outbox, func(row *outboxRow) bool { return row.owner == state })
	s.mu.Unlock()
	close(state.done)
}

// Participants returns committed participants in insertion order.
func (s *MemoryStore) Participants() []models.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Participant, 0, len(s.participants))
	for _, row := range s.participants {
		if row.owner == nil {
			out = append(out, row.participant)
		}
	}
	return out
}

// Teams returns committed teams ordered by id.
func (s *MemoryStore) Teams() []models.Team {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Team, 0, len(s.teams))
	for _, row := range s.teams {
		if row.owner == nil {
			out = append(out, row.team)
		}
	}
	slices.SortFunc(out, func(a, b models.Team) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// FetchUnpublished returns up to limit committed, unpublished outbox entries
// in creation order.
func (s *MemoryStore) FetchUnpublished(_ context.Context, limit int) ([]models.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OutboxEntry
	for _, row := range s.outbox {
		if row.owner != nil || row.entry.PublishedAt != nil {
			continue
		}
		out = append(out, row.entry)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkPublished(_ context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.outbox {
		if slices.Contains(ids, row.entry.ID) {
			published := at
			row.entry.PublishedAt = &published
		}
	}
	return nil
}

// memoryTx is the service.Store handle bound to one transaction.
type memoryTx struct {
	store *MemoryStore
	state *txState
}

func (t *memoryTx) visible(owner *txState) bool {
	return owner == nil || owner == t.state
}

// await blocks until another transaction finishes or ctx ends.
func await(ctx context.Context, other *txState) error {
	select {
	case <-other.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for concurrent transaction: %w: %w", sentinel.ErrUnavailable, ctx.Err())
	}
}

func (t *memoryTx) FindTeam(_ context.Context, name string, categoryID int64) (*models.Team, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	row, ok := t.store.teams[teamKey{name, categoryID}]
	if !ok || !t.visible(row.owner) {
		return nil, sentinel.ErrNotFound
	}
	team := row.team
	return &team, nil
}

func (t *memoryTx) CreateTeam(ctx context.Context, team *models.Team) (*models.Team, error) {
	key := teamKey{team.Name, team.CategoryID}
	for {
		t.store.mu.Lock()
		row, exists := t.store.teams[key]
		if !exists {
			t.store.nextTeamID++
			created := *team
			created.ID = t.store.nextTeamID
			created.LeaderID = nil
			t.store.teams[key] = &teamRow{team: created, owner: t.state}
			t.store.mu.Unlock()
			return &created, nil
		}
		if t.visible(row.owner) {
			t.store.mu.Unlock()
			return nil, sentinel.ErrAlreadyUsed
		}
		owner := row.owner
		t.store.mu.Unlock()

		if err := await(ctx, owner); err != nil {
			return nil, err
		}
	}
}

func (t *memoryTx) AssignTeamLeader(_ context.Context, teamID, participantID int64) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, row := range t.store.teams {
		if row.team.ID == teamID && t.visible(row.owner) {
			id := participantID
			row.team.LeaderID = &id
			return nil
		}
	}
	return fmt.Errorf("team %d: %w", teamID, sentinel.ErrNotFound)
}

func (t *memoryTx) FindParticipantByContact(_ context.Context, email, telegram string) (*models.Participant, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if row, ok := t.store.emails[email]; ok && t.visible(row.owner) {
		p := row.participant
		return &p, nil
	}
	if row, ok := t.store.telegrams[telegram]; ok && t.visible(row.owner) {
		p := row.participant
		return &p, nil
	}
	return nil, sentinel.ErrNotFound
}

func (t *memoryTx) InsertParticipant(ctx context.Context, p *models.Participant) (*models.Participant, error) {
	for {
		t.store.mu.Lock()
		blocking, field := t.conflict(p)
		if blocking == nil && field == "" {
			t.store.nextParticipantID++
			inserted := *p
			inserted.ID = t.store.nextParticipantID
			inserted.Skills = slices.Clone(p.Skills)
			row := &participantRow{participant: inserted, owner: t.state}
			t.store.participants = append(t.store.participants, row)
			t.store.emails[inserted.Email] = row
			t.store.telegrams[inserted.Telegram] = row
			t.store.mu.Unlock()
			return &inserted, nil
		}
		t.store.mu.Unlock()

		if field != "" {
			return nil, &models.UniqueViolation{Field: field, Err: sentinel.ErrAlreadyUsed}
		}
		if err := await(ctx, blocking); err != nil {
			return nil, err
		}
	}
}

// conflict reports a visible unique violation by field, or the pending
// transaction to wait for. Email is checked first. Caller holds the lock.
func (t *memoryTx) conflict(p *models.Participant) (*txState, string) {
	if row, ok := t.store.emails[p.Email]; ok {
		if t.visible(row.owner) {
			return nil, "email"
		}
		return row.owner, ""
	}
	if row, ok := t.store.telegrams[p.Telegram]; ok {
		if t.visible(row.owner) {
			return nil, "telegram"
		}
		return row.owner, ""
	}
	return nil, ""
}

func (t *memoryTx) AppendOutbox(_ context.Context, entry *models.OutboxEntry) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	e := *entry
	e.Payload = slices.Clone(entry.Payload)
	t.store.outbox = append(t.store.outbox, &outboxRow{entry: e, owner: t.state})
	return nil
}

// RunOutboxTx runs fn directly. Memory outbox reads never block writers.
func (s *MemoryStore) RunOutboxTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
