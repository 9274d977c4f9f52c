package app

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SessionStore persists sessions and their message logs in a single
// sqlite database under the data root.
type SessionStore struct {
	Root   string
	dbPath string

	mu   sync.Mutex
	db   *sql.DB
	once sync.Once
	err  error
}

func NewSessionStore(root string) (*SessionStore, error) {
	if strings.TrimSpace(root) == "" {
		root = DefaultStoreRoot()
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	st := &SessionStore{
		Root:   root,
		dbPath: filepath.Join(root, "loco.db"),
	}
	// Initialize eagerly so callers fail fast.
	if err := st.init(); err != nil {
		return nil, err
	}
	return st, nil
}

func DefaultStoreRoot() string {
	if v := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); v != "" {
		return filepath.Join(v, "loco")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".loco")
	}
	return filepath.Join(home, ".local", "share", "loco")
}

func (s *SessionStore) init() error {
	s.once.Do(func() {
		db, err := sql.Open("sqlite", s.dbPath)
		if err != nil {
			s.err = err
			return
		}
		// Keep sqlite responsive under contention.
		_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
		_, _ = db.Exec("PRAGMA journal_mode = WAL;")
		_, _ = db.Exec("PRAGMA synchronous = NORMAL;")

		schema := []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				work_dir TEXT NOT NULL,
				created_at_ns INTEGER NOT NULL,
				updated_at_ns INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at_ns);`,
			`CREATE TABLE IF NOT EXISTS messages (
				session_id TEXT NOT NULL,
				idx INTEGER NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				PRIMARY KEY (session_id, idx)
			);`,
		}
		for _, stmt := range schema {
			if _, err := db.Exec(stmt); err != nil {
				_ = db.Close()
				s.err = err
				return
			}
		}

		s.db = db
	})
	return s.err
}

func (s *SessionStore) dbConn() (*sql.DB, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, errors.New("sqlite store unavailable")
	}
	return db, nil
}

// Save upserts the session row and rewrites its message log in one
// transaction. The log is small enough that rewriting beats tracking a
// high-water mark, and it stays correct across compaction, which shrinks
// the log in place.
func (s *SessionStore) Save(sess *Session) error {
	if sess == nil {
		return errors.New("nil session")
	}
	if strings.TrimSpace(sess.ID) == "" {
		return errors.New("missing session id")
	}
	db, err := s.dbConn()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(
		`INSERT INTO sessions(id, work_dir, created_at_ns, updated_at_ns)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET work_dir=excluded.work_dir, updated_at_ns=excluded.updated_at_ns`,
		sess.ID, sess.WorkDir, sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, sess.ID); err != nil {
		return err
	}
	if sess.Conversation != nil {
		for i, m := range sess.Conversation.Messages {
			if _, err := tx.Exec(
				`INSERT INTO messages(session_id, idx, role, content) VALUES(?, ?, ?, ?)`,
				sess.ID, i, m.Role, m.Content,
			); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

var ErrSessionNotFound = errors.New("session not found")

// Load rebuilds a session and its conversation. The token estimate is
// recomputed from the stored contents rather than persisted.
func (s *SessionStore) Load(sessionID string) (*Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("missing sessionID")
	}
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}

	var sess Session
	var createdNS, updatedNS int64
	err = db.QueryRow(
		`SELECT id, work_dir, created_at_ns, updated_at_ns FROM sessions WHERE id = ?`,
		sessionID,
	).Scan(&sess.ID, &sess.WorkDir, &createdNS, &updatedNS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	sess.CreatedAt = time.Unix(0, createdNS).UTC()
	sess.UpdatedAt = time.Unix(0, updatedNS).UTC()

	rows, err := db.Query(
		`SELECT role, content FROM messages WHERE session_id = ? ORDER BY idx ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conv := &Conversation{
		MaxContext:   DefaultMaxContext,
		ThresholdPct: DefaultCompactThresholdPct,
		KeepRecent:   DefaultKeepRecent,
	}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	conv.recompute()

	sess.Conversation = conv
	return &sess, nil
}

// Latest returns the most recently updated session id, or
// ErrSessionNotFound when the store is empty.
func (s *SessionStore) Latest() (string, error) {
	db, err := s.dbConn()
	if err != nil {
		return "", err
	}
	var id string
	err = db.QueryRow(`SELECT id FROM sessions ORDER BY updated_at_ns DESC LIMIT 1`).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrSessionNotFound
		}
		return "", err
	}
	return id, nil
}

// List returns summaries of all stored sessions, most recent first.
func (s *SessionStore) List() ([]SessionInfo, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`
		SELECT s.id, s.work_dir, s.created_at_ns, s.updated_at_ns,
		       (SELECT COUNT(1) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s
		ORDER BY s.updated_at_ns DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SessionInfo, 0, 16)
	for rows.Next() {
		var info SessionInfo
		var createdNS, updatedNS int64
		if err := rows.Scan(&info.ID, &info.WorkDir, &createdNS, &updatedNS, &info.MessageCount); err != nil {
			return nil, err
		}
		info.CreatedAt = time.Unix(0, createdNS).UTC()
		info.UpdatedAt = time.Unix(0, updatedNS).UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *SessionStore) Delete(sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("missing sessionID")
	}
	db, err := s.dbConn()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
