package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sipeed/agentclaw/internal/domain"
)

// MemoryEntry is a content-addressed note stored for later retrieval as
// execution context (e.g. an agent_learning entry recorded after a task
// completes or an agent shuts down).
type MemoryEntry struct {
	ID         string
	Type       string
	Content    string
	Importance float64
	TaskID     domain.EntityID
	AgentID    domain.EntityID
	Metadata   map[string]string
	CreatedAt  time.Time
}

// contentAddress derives a stable id from an entry's content so identical
// notes dedupe naturally.
func contentAddress(entryType, content string) string {
	sum := sha256.Sum256([]byte(entryType + "\x00" + content))
	return hex.EncodeToString(sum[:])
}

// MemoryStore is the capability surface from spec.md §3/§4.4 step 4: a
// content-addressed store with a semantic-ish lookup used to fetch relevant
// context before execution.
type MemoryStore interface {
	Store(ctx context.Context, entry *MemoryEntry) (*MemoryEntry, error)
	Query(ctx context.Context, queryText string, limit int) ([]*MemoryEntry, error)
}

// SQLiteMemoryStore is the production MemoryStore backend. No embedding
// model is part of this project's dependency surface, so relevance scoring
// is an honest keyword-overlap score over title/description-style queries
// rather than a fabricated vector-search dependency.
type SQLiteMemoryStore struct {
	db *sql.DB
}

// NewSQLiteMemoryStore opens (creating if necessary) the memory table at dbPath.
func NewSQLiteMemoryStore(dbPath string) (*SQLiteMemoryStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	s := &SQLiteMemoryStore{db: db}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	importance REAL DEFAULT 0,
	task_id TEXT,
	agent_id TEXT,
	metadata TEXT,
	created_at TEXT NOT NULL
)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory schema: %w", err)
	}
	return s, nil
}

// Store persists entry, deduplicating on its content address.
func (s *SQLiteMemoryStore) Store(ctx context.Context, entry *MemoryEntry) (*MemoryEntry, error) {
	if entry.ID == "" {
		entry.ID = contentAddress(entry.Type, entry.Content)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO memories (id, type, content, importance, task_id, agent_id, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET importance=excluded.importance, created_at=excluded.created_at`,
		entry.ID, entry.Type, entry.Content, entry.Importance, entry.TaskID.String(),
		entry.AgentID.String(), encodeMetadata(entry.Metadata), entry.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("store memory: %w", err)
	}
	return entry, nil
}

// Query returns up to limit entries ranked by keyword overlap with
// queryText, weighted by importance as a tiebreaker.
func (s *SQLiteMemoryStore) Query(ctx context.Context, queryText string, limit int) ([]*MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, content, importance, task_id, agent_id, metadata, created_at FROM memories`)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var all []*MemoryEntry
	for rows.Next() {
		var id, typ, content, taskID, agentID, metaStr, createdAt string
		var importance float64
		if err := rows.Scan(&id, &typ, &content, &importance, &taskID, &agentID, &metaStr, &createdAt); err != nil {
			return nil, err
		}
		e := &MemoryEntry{
			ID: id, Type: typ, Content: content, Importance: importance,
			TaskID: domain.EntityID(taskID), AgentID: domain.EntityID(agentID),
			Metadata: decodeMetadata(metaStr),
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = ts
		}
		all = append(all, e)
	}
	return rankByOverlap(all, queryText, limit), nil
}

func rankByOverlap(all []*MemoryEntry, queryText string, limit int) []*MemoryEntry {
	queryTerms := tokenize(queryText)
	type scored struct {
		entry *MemoryEntry
		score float64
	}
	var candidates []scored
	for _, e := range all {
		overlap := overlapScore(queryTerms, tokenize(e.Content))
		if overlap <= 0 {
			continue
		}
		candidates = append(candidates, scored{entry: e, score: overlap + e.Importance*0.1})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]*MemoryEntry, len(candidates))
	for i, c := range candidates {
		out[i] = c.entry
	}
	return out
}

func tokenize(s string) map[string]int {
	terms := map[string]int{}
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,;:!?()[]{}\"'")
		if f == "" {
			continue
		}
		terms[f]++
	}
	return terms
}

func overlapScore(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var hits int
	for term := range a {
		if _, ok := b[term]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(a))
}

func encodeMetadata(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	var sb strings.Builder
	first := true
	for k, v := range m {
		if !first {
			sb.WriteByte('\x1f')
		}
		first = false
		sb.WriteString(k)
		sb.WriteByte('\x1e')
		sb.WriteString(v)
	}
	return sb.String()
}

func decodeMetadata(s string) map[string]string {
	if s == "" {
		return nil
	}
	out := map[string]string{}
	for _, pair := range strings.Split(s, "\x1f") {
		kv := strings.SplitN(pair, "\x1e", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

// Close releases the underlying database handle.
func (s *SQLiteMemoryStore) Close() error { return s.db.Close() }

// InMemoryMemoryStore is the local, non-durable MemoryStore variant for tests.
type InMemoryMemoryStore struct {
	mu      sync.Mutex
	entries map[string]*MemoryEntry
}

// NewInMemoryMemoryStore constructs an empty in-memory MemoryStore.
func NewInMemoryMemoryStore() *InMemoryMemoryStore {
	return &InMemoryMemoryStore{entries: make(map[string]*MemoryEntry)}
}

// Store persists entry, deduplicating on its content address.
func (s *InMemoryMemoryStore) Store(ctx context.Context, entry *MemoryEntry) (*MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = contentAddress(entry.Type, entry.Content)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.entries[entry.ID] = entry
	return entry, nil
}

// Query returns up to limit entries ranked by keyword overlap with queryText.
func (s *InMemoryMemoryStore) Query(ctx context.Context, queryText string, limit int) ([]*MemoryEntry, error) {
	s.mu.Lock()
	all := make([]*MemoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	s.mu.Unlock()
	return rankByOverlap(all, queryText, limit), nil
}

var _ MemoryStore = (*SQLiteMemoryStore)(nil)
var _ MemoryStore = (*InMemoryMemoryStore)(nil)
