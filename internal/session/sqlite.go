package session

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/noxd/nox/internal/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL DEFAULT '',
	data          TEXT NOT NULL DEFAULT '{}',
	created_at    INTEGER NOT NULL,
	expires_at    INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
`

// SQLiteStore persists sessions in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and initializes) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, errors.KindDatabase, "failed to open session database")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.KindDatabase, "failed to initialize session schema")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(id string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, data, created_at, expires_at, last_accessed FROM sessions WHERE id = ?`, id)

	var sess Session
	var data string
	var created, expires, accessed int64
	err := row.Scan(&sess.ID, &sess.UserID, &data, &created, &expires, &accessed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindDatabase, "failed to load session")
	}

	if err := json.Unmarshal([]byte(data), &sess.Data); err != nil {
		return nil, errors.Wrap(err, errors.KindSerialization, "corrupt session data")
	}
	sess.CreatedAt = time.Unix(created, 0)
	sess.ExpiresAt = time.Unix(expires, 0)
	sess.LastAccessed = time.Unix(accessed, 0)
	return &sess, nil
}

func (s *SQLiteStore) Save(sess *Session) error {
	data, err := json.Marshal(sess.Data)
	if err != nil {
		return errors.Wrap(err, errors.KindSerialization, "failed to encode session data")
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, user_id, data, created_at, expires_at, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			data = excluded.data,
			expires_at = excluded.expires_at,
			last_accessed = excluded.last_accessed`,
		sess.ID, sess.UserID, string(data),
		sess.CreatedAt.Unix(), sess.ExpiresAt.Unix(), sess.LastAccessed.Unix())
	if err != nil {
		return errors.Wrap(err, errors.KindDatabase, "failed to save session")
	}
	return nil
}

func (s *SQLiteStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, errors.KindDatabase, "failed to delete session")
	}
	return nil
}

func (s *SQLiteStore) CleanupExpired() (int, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at < ?`, time.Now().Unix())
	if err != nil {
		return 0, errors.Wrap(err, errors.KindDatabase, "failed to clean up sessions")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) List() ([]*Session, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, data, created_at, expires_at, last_accessed FROM sessions`)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindDatabase, "failed to list sessions")
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var sess Session
		var data string
		var created, expires, accessed int64
		if err := rows.Scan(&sess.ID, &sess.UserID, &data, &created, &expires, &accessed); err != nil {
			return nil, errors.Wrap(err, errors.KindDatabase, "failed to scan session row")
		}
		if err := json.Unmarshal([]byte(data), &sess.Data); err != nil {
			continue // skip corrupt rows
		}
		sess.CreatedAt = time.Unix(created, 0)
		sess.ExpiresAt = time.Unix(expires, 0)
		sess.LastAccessed = time.Unix(accessed, 0)
		out = append(out, &sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.KindDatabase, "failed to count sessions")
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
