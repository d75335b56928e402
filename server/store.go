package main

import (
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	. "github.com/russross/autograder/types"
	"github.com/russross/meddler"
)

// QueueStore is the durable admission queue: at most one item per
// student, FIFO by time added.
type QueueStore interface {
	// Enqueue inserts the item unless the student already has one
	// queued or running. Returns false when the item was rejected.
	Enqueue(item *QueueItem) (bool, error)

	// ClaimNext marks the oldest unstarted item as started and
	// returns it, or nil when the queue has no pending work.
	ClaimNext() (*QueueItem, error)

	// Release flips a claimed item back to unstarted so another
	// worker can pick it up.
	Release(netID string) error

	// Complete removes the item on success or terminal failure.
	Complete(netID string) error

	Get(netID string) (*QueueItem, error)
	All() ([]*QueueItem, error)

	// ResetStarted returns every mid-flight item to the pending
	// state. Called once at startup so jobs interrupted by a crash
	// are re-run from the top.
	ResetStarted() (int, error)
}

// SubmissionStore is the append-only grading history.
type SubmissionStore interface {
	Insert(sub *Submission) error

	// Update replaces a previously inserted row with a new value
	// derived from it. Used by the manual-approval transform and by
	// re-runs that supersede an earlier row for the same attempt.
	Update(sub *Submission) error

	ForPhase(netID string, phase Phase) ([]*Submission, error)
	AllPassing(netID string) ([]*Submission, error)
	FirstPassing(netID string, phase Phase) (*Submission, error)
	ForStudent(netID string) ([]*Submission, error)
}

// ConfigStore is the flat key to typed-value runtime configuration.
type ConfigStore interface {
	GetString(key string) (string, error)
	SetValue(key, value string) error
	Entries() ([]*ConfigEntry, error)
}

// RubricStore holds the per-phase rubric definitions.
type RubricStore interface {
	RubricConfig(phase Phase) (*RubricConfig, error)
	SetRubricConfig(config *RubricConfig) error
}

// typed config helpers with defaults for missing keys

func configInt(config ConfigStore, key string, fallback int) (int, error) {
	raw, err := config.GetString(key)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config key %s: %v", key, err)
	}
	return n, nil
}

func configFloat(config ConfigStore, key string, fallback float64) (float64, error) {
	raw, err := config.GetString(key)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config key %s: %v", key, err)
	}
	return f, nil
}

func configBool(config ConfigStore, key string, fallback bool) (bool, error) {
	raw, err := config.GetString(key)
	if err != nil {
		return false, err
	}
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config key %s: %v", key, err)
	}
	return b, nil
}

func configTime(config ConfigStore, key string) (time.Time, error) {
	raw, err := config.GetString(key)
	if err != nil || raw == "" {
		return time.Time{}, err
	}
	when, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("config key %s: %v", key, err)
	}
	return when, nil
}

//
// sqlite-backed stores
//

// sqliteStore implements all of the store interfaces over a single
// sqlite database. A mutex serializes transactions; sqlite handles
// one writer at a time anyway, and holding the lock keeps write
// transactions from tripping over each other's busy timeouts.
type sqliteStore struct {
	db *sql.DB
	mu sync.Mutex
}

func newSqliteStore(db *sql.DB) *sqliteStore {
	return &sqliteStore{db: db}
}

func (s *sqliteStore) withTx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			log.Printf("store transaction took %v", elapsed.Round(time.Millisecond))
		}
	}()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("db error starting transaction: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db error committing transaction: %v", err)
	}
	return nil
}

func (s *sqliteStore) Enqueue(item *QueueItem) (inserted bool, err error) {
	err = s.withTx(func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRow(`SELECT COUNT(1) FROM queue WHERE net_id = ?`, item.NetID).Scan(&count); err != nil {
			return fmt.Errorf("db error: %v", err)
		}
		if count > 0 {
			return nil
		}
		_, err := tx.Exec(`INSERT INTO queue (net_id, phase, repo_url, time_added, started, admin) VALUES (?, ?, ?, ?, ?, ?)`,
			item.NetID, item.Phase, item.RepoURL, item.TimeAdded, item.Started, item.Admin)
		if err != nil {
			return fmt.Errorf("db error: %v", err)
		}
		inserted = true
		return nil
	})
	return inserted, err
}

func (s *sqliteStore) ClaimNext() (*QueueItem, error) {
	var claimed *QueueItem
	err := s.withTx(func(tx *sql.Tx) error {
		item := new(QueueItem)
		err := meddler.QueryRow(tx, item, `SELECT * FROM queue WHERE NOT started ORDER BY time_added LIMIT 1`)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("db error: %v", err)
		}
		if _, err := tx.Exec(`UPDATE queue SET started = 1 WHERE net_id = ?`, item.NetID); err != nil {
			return fmt.Errorf("db error: %v", err)
		}
		item.Started = true
		claimed = item
		return nil
	})
	return claimed, err
}

func (s *sqliteStore) Release(netID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE queue SET started = 0 WHERE net_id = ?`, netID)
		return err
	})
}

func (s *sqliteStore) Complete(netID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM queue WHERE net_id = ?`, netID)
		return err
	})
}

func (s *sqliteStore) Get(netID string) (*QueueItem, error) {
	var found *QueueItem
	err := s.withTx(func(tx *sql.Tx) error {
		item := new(QueueItem)
		err := meddler.QueryRow(tx, item, `SELECT * FROM queue WHERE net_id = ?`, netID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("db error: %v", err)
		}
		found = item
		return nil
	})
	return found, err
}

func (s *sqliteStore) All() ([]*QueueItem, error) {
	items := []*QueueItem{}
	err := s.withTx(func(tx *sql.Tx) error {
		return meddler.QueryAll(tx, &items, `SELECT * FROM queue ORDER BY time_added`)
	})
	return items, err
}

func (s *sqliteStore) ResetStarted() (int, error) {
	count := 0
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE queue SET started = 0 WHERE started`)
		if err != nil {
			return fmt.Errorf("db error: %v", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			count = int(n)
		}
		return nil
	})
	return count, err
}

func (s *sqliteStore) Insert(sub *Submission) error {
	return s.withTx(func(tx *sql.Tx) error {
		return meddler.Insert(tx, "submissions", sub)
	})
}

func (s *sqliteStore) Update(sub *Submission) error {
	if sub.ID < 1 {
		return fmt.Errorf("cannot update a submission that was never inserted")
	}
	return s.withTx(func(tx *sql.Tx) error {
		return meddler.Update(tx, "submissions", sub)
	})
}

func (s *sqliteStore) ForPhase(netID string, phase Phase) ([]*Submission, error) {
	subs := []*Submission{}
	err := s.withTx(func(tx *sql.Tx) error {
		return meddler.QueryAll(tx, &subs,
			`SELECT * FROM submissions WHERE net_id = ? AND phase = ? ORDER BY timestamp DESC`, netID, phase)
	})
	return subs, err
}

func (s *sqliteStore) AllPassing(netID string) ([]*Submission, error) {
	subs := []*Submission{}
	err := s.withTx(func(tx *sql.Tx) error {
		return meddler.QueryAll(tx, &subs,
			`SELECT * FROM submissions WHERE net_id = ? AND passed ORDER BY timestamp`, netID)
	})
	return subs, err
}

func (s *sqliteStore) FirstPassing(netID string, phase Phase) (*Submission, error) {
	var found *Submission
	err := s.withTx(func(tx *sql.Tx) error {
		sub := new(Submission)
		err := meddler.QueryRow(tx, sub,
			`SELECT * FROM submissions WHERE net_id = ? AND phase = ? AND passed ORDER BY timestamp LIMIT 1`, netID, phase)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("db error: %v", err)
		}
		found = sub
		return nil
	})
	return found, err
}

func (s *sqliteStore) ForStudent(netID string) ([]*Submission, error) {
	subs := []*Submission{}
	err := s.withTx(func(tx *sql.Tx) error {
		return meddler.QueryAll(tx, &subs,
			`SELECT * FROM submissions WHERE net_id = ? ORDER BY timestamp DESC`, netID)
	})
	return subs, err
}

func (s *sqliteStore) GetString(key string) (string, error) {
	value := ""
	err := s.withTx(func(tx *sql.Tx) error {
		err := tx.QueryRow(`SELECT value FROM config WHERE key = ?`, key).Scan(&value)
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	})
	return value, err
}

func (s *sqliteStore) SetValue(key, value string) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)`, key, value)
		return err
	})
}

func (s *sqliteStore) Entries() ([]*ConfigEntry, error) {
	entries := []*ConfigEntry{}
	err := s.withTx(func(tx *sql.Tx) error {
		return meddler.QueryAll(tx, &entries, `SELECT * FROM config ORDER BY key`)
	})
	return entries, err
}

func (s *sqliteStore) RubricConfig(phase Phase) (*RubricConfig, error) {
	var found *RubricConfig
	err := s.withTx(func(tx *sql.Tx) error {
		config := new(RubricConfig)
		err := meddler.QueryRow(tx, config, `SELECT * FROM rubric_configs WHERE phase = ?`, phase)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("db error: %v", err)
		}
		found = config
		return nil
	})
	return found, err
}

func (s *sqliteStore) SetRubricConfig(config *RubricConfig) error {
	if err := config.Normalize(); err != nil {
		return err
	}
	raw := mustMarshal(config.Items)
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT OR REPLACE INTO rubric_configs (phase, items) VALUES (?, ?)`, config.Phase, raw)
		return err
	})
}

//
// in-memory stores
//
// Used by the test suites and by the -memory development mode, where
// running without a database file is handy.
//

type memoryStore struct {
	mu          sync.Mutex
	queue       []*QueueItem
	submissions []*Submission
	config      map[string]string
	rubrics     map[Phase]*RubricConfig
	nextID      int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		config:  make(map[string]string),
		rubrics: make(map[Phase]*RubricConfig),
		nextID:  1,
	}
}

func (m *memoryStore) Enqueue(item *QueueItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, elt := range m.queue {
		if elt.NetID == item.NetID {
			return false, nil
		}
	}
	copied := *item
	m.queue = append(m.queue, &copied)
	return true, nil
}

func (m *memoryStore) ClaimNext() (*QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *QueueItem
	for _, elt := range m.queue {
		if elt.Started {
			continue
		}
		if oldest == nil || elt.TimeAdded.Before(oldest.TimeAdded) {
			oldest = elt
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Started = true
	copied := *oldest
	return &copied, nil
}

func (m *memoryStore) Release(netID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, elt := range m.queue {
		if elt.NetID == netID {
			elt.Started = false
		}
	}
	return nil
}

func (m *memoryStore) Complete(netID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.queue[:0]
	for _, elt := range m.queue {
		if elt.NetID != netID {
			kept = append(kept, elt)
		}
	}
	m.queue = kept
	return nil
}

func (m *memoryStore) Get(netID string) (*QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, elt := range m.queue {
		if elt.NetID == netID {
			copied := *elt
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) All() ([]*QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*QueueItem, 0, len(m.queue))
	for _, elt := range m.queue {
		copied := *elt
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeAdded.Before(out[j].TimeAdded) })
	return out, nil
}

func (m *memoryStore) ResetStarted() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, elt := range m.queue {
		if elt.Started {
			elt.Started = false
			count++
		}
	}
	return count, nil
}

func (m *memoryStore) Insert(sub *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *sub
	copied.ID = m.nextID
	m.nextID++
	sub.ID = copied.ID
	m.submissions = append(m.submissions, &copied)
	return nil
}

func (m *memoryStore) Update(sub *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID < 1 {
		return fmt.Errorf("cannot update a submission that was never inserted")
	}
	for i, elt := range m.submissions {
		if elt.ID == sub.ID {
			copied := *sub
			m.submissions[i] = &copied
			return nil
		}
	}
	return fmt.Errorf("submission %d not found", sub.ID)
}

func (m *memoryStore) ForPhase(netID string, phase Phase) ([]*Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Submission
	for _, elt := range m.submissions {
		if elt.NetID == netID && elt.Phase == phase {
			copied := *elt
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *memoryStore) AllPassing(netID string) ([]*Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Submission
	for _, elt := range m.submissions {
		if elt.NetID == netID && elt.Passed {
			copied := *elt
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *memoryStore) FirstPassing(netID string, phase Phase) (*Submission, error) {
	subs, err := m.AllPassing(netID)
	if err != nil {
		return nil, err
	}
	for _, elt := range subs {
		if elt.Phase == phase {
			return elt, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) ForStudent(netID string) ([]*Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Submission
	for _, elt := range m.submissions {
		if elt.NetID == netID {
			copied := *elt
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *memoryStore) GetString(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config[key], nil
}

func (m *memoryStore) SetValue(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[key] = value
	return nil
}

func (m *memoryStore) Entries() ([]*ConfigEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ConfigEntry, 0, len(m.config))
	for key, value := range m.config {
		out = append(out, &ConfigEntry{Key: key, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memoryStore) RubricConfig(phase Phase) (*RubricConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rubrics[phase], nil
}

func (m *memoryStore) SetRubricConfig(config *RubricConfig) error {
	if err := config.Normalize(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rubrics[config.Phase] = config
	return nil
}
