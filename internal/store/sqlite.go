package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "postbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) EnsureUser(ctx context.Context, telegramID int64, username string) (User, error) {
	u, err := s.userByTelegramID(ctx, telegramID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(telegram_id, username, created_at) VALUES(?,?,?)`,
		telegramID, nullStr(username), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, err
	}
	return User{ID: id, TelegramID: telegramID, Username: username, CreatedAt: now}, nil
}

func (s *sqliteStore) userByTelegramID(ctx context.Context, telegramID int64) (User, error) {
	var (
		u        User
		username sql.NullString
		created  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, telegram_id, username, created_at FROM users WHERE telegram_id = ?`,
		telegramID,
	).Scan(&u.ID, &u.TelegramID, &username, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.Username = username.String
	u.CreatedAt = parseTime(created)
	return u, nil
}

func (s *sqliteStore) CreateDestination(ctx context.Context, d Destination) (Destination, error) {
	existing, err := s.destinationByKey(ctx, d.OwnerUserID, d.Platform, d.ExternalID)
	if err == nil {
		return existing, ErrDuplicate
	}
	if !errors.Is(err, ErrNotFound) {
		return Destination{}, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO destinations(owner_user_id, platform, external_id, display_name, credential, created_at)
		 VALUES(?,?,?,?,?,?)`,
		d.OwnerUserID, string(d.Platform), d.ExternalID, d.DisplayName, nullStr(d.Credential), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Destination{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Destination{}, err
	}
	d.ID = id
	d.CreatedAt = now
	return d, nil
}

func (s *sqliteStore) destinationByKey(ctx context.Context, owner int64, platform Platform, externalID string) (Destination, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_user_id, platform, external_id, display_name, credential, created_at
		 FROM destinations WHERE owner_user_id = ? AND platform = ? AND external_id = ?`,
		owner, string(platform), externalID,
	)
	return scanDestination(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDestination(row rowScanner) (Destination, error) {
	var (
		d       Destination
		plat    string
		cred    sql.NullString
		created string
	)
	err := row.Scan(&d.ID, &d.OwnerUserID, &plat, &d.ExternalID, &d.DisplayName, &cred, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Destination{}, ErrNotFound
	}
	if err != nil {
		return Destination{}, err
	}
	d.Platform = Platform(plat)
	d.Credential = cred.String
	d.CreatedAt = parseTime(created)
	return d, nil
}

func (s *sqliteStore) ListDestinations(ctx context.Context, ownerUserID int64) ([]Destination, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_user_id, platform, external_id, display_name, credential, created_at
		 FROM destinations WHERE owner_user_id = ? ORDER BY created_at, id`,
		ownerUserID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Destination{}
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DestinationsByIDs(ctx context.Context, ownerUserID int64, ids []int64) ([]Destination, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	byID := make(map[int64]Destination, len(ids))
	for _, id := range ids {
		row := s.db.QueryRowContext(ctx,
			`SELECT id, owner_user_id, platform, external_id, display_name, credential, created_at
			 FROM destinations WHERE id = ? AND owner_user_id = ?`,
			id, ownerUserID,
		)
		d, err := scanDestination(row)
		if errors.Is(err, ErrNotFound) {
			continue // foreign or unknown ids are dropped
		}
		if err != nil {
			return nil, err
		}
		byID[d.ID] = d
	}

	out := make([]Destination, 0, len(byID))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *sqliteStore) CanonicalizeDestination(ctx context.Context, ownerUserID int64, platform Platform, fromExternalID, toExternalID string) error {
	if fromExternalID == toExternalID {
		return nil
	}
	if _, err := s.destinationByKey(ctx, ownerUserID, platform, fromExternalID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	_, err := s.destinationByKey(ctx, ownerUserID, platform, toExternalID)
	switch {
	case err == nil:
		// Both forms exist; the canonical row wins.
		_, derr := s.db.ExecContext(ctx,
			`DELETE FROM destinations WHERE owner_user_id = ? AND platform = ? AND external_id = ?`,
			ownerUserID, string(platform), fromExternalID,
		)
		return derr
	case errors.Is(err, ErrNotFound):
		_, uerr := s.db.ExecContext(ctx,
			`UPDATE destinations SET external_id = ? WHERE owner_user_id = ? AND platform = ? AND external_id = ?`,
			toExternalID, ownerUserID, string(platform), fromExternalID,
		)
		return uerr
	default:
		return err
	}
}

func (s *sqliteStore) CreatePost(ctx context.Context, p Post) (Post, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posts(owner_user_id, source_chat_id, source_message_id, created_at) VALUES(?,?,?,?)`,
		p.OwnerUserID, p.SourceChatID, p.SourceMessageID, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Post{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Post{}, err
	}
	p.ID = id
	p.CreatedAt = now
	return p, nil
}

func (s *sqliteStore) CreateAttempts(ctx context.Context, postID int64, destinationIDs []int64) ([]DeliveryAttempt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	out := make([]DeliveryAttempt, 0, len(destinationIDs))
	for _, destID := range destinationIDs {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO delivery_attempts(post_id, destination_id, status) VALUES(?,?,?)`,
			postID, destID, string(StatusPending),
		)
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		out = append(out, DeliveryAttempt{ID: id, PostID: postID, DestinationID: destID, Status: StatusPending})
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqliteStore) MarkAttempt(ctx context.Context, attemptID int64, status AttemptStatus) error {
	if status != StatusSent && status != StatusFailed {
		return fmt.Errorf("mark attempt: status %q is not terminal", status)
	}
	var sentAt any
	if status == StatusSent {
		sentAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	// The status guard keeps transitions monotonic: pending -> sent|failed only.
	res, err := s.db.ExecContext(ctx,
		`UPDATE delivery_attempts SET status = ?, sent_at = ? WHERE id = ? AND status = ?`,
		string(status), sentAt, attemptID, string(StatusPending),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) AttemptsByPost(ctx context.Context, postID int64) ([]DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, post_id, destination_id, status, sent_at FROM delivery_attempts WHERE post_id = ? ORDER BY id`,
		postID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []DeliveryAttempt{}
	for rows.Next() {
		var (
			a      DeliveryAttempt
			status string
			sentAt sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.PostID, &a.DestinationID, &status, &sentAt); err != nil {
			return nil, err
		}
		a.Status = AttemptStatus(status)
		if sentAt.Valid {
			t := parseTime(sentAt.String)
			a.SentAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&st.Users); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM destinations`).Scan(&st.Destinations); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&st.Posts); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
