// Package sqlite provides a SQLite-backed session store implementation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/ybrake1950/planning-poker/internal/platform/storage/sqlitemigrate"
	"github.com/ybrake1950/planning-poker/internal/poker/domain"
	"github.com/ybrake1950/planning-poker/internal/poker/storage"
	"github.com/ybrake1950/planning-poker/internal/poker/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists sessions in SQLite. Updates are committed with a version
// check so concurrent per-player mutations retry instead of overwriting each
// other.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

type playerRecord struct {
	Name        string `json:"name"`
	IsSpectator bool   `json:"isSpectator"`
	HasVoted    bool   `json:"hasVoted"`
	Vote        *int   `json:"vote"`
	JoinedAt    int64  `json:"joinedAt"`
}

func encodePlayers(players map[string]domain.Player) (string, error) {
	records := make(map[string]playerRecord, len(players))
	for name, player := range players {
		records[name] = playerRecord{
			Name:        player.Name,
			IsSpectator: player.IsSpectator,
			HasVoted:    player.HasVoted,
			Vote:        player.Vote,
			JoinedAt:    toMillis(player.JoinedAt),
		}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("encode players: %w", err)
	}
	return string(raw), nil
}

func decodePlayers(raw string) (map[string]domain.Player, error) {
	var records map[string]playerRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("decode players: %w", err)
	}
	players := make(map[string]domain.Player, len(records))
	for name, record := range records {
		vote := record.Vote
		if vote != nil {
			copied := *vote
			vote = &copied
		}
		players[name] = domain.Player{
			Name:        record.Name,
			IsSpectator: record.IsSpectator,
			HasVoted:    record.HasVoted,
			Vote:        vote,
			JoinedAt:    fromMillis(record.JoinedAt),
		}
	}
	return players, nil
}

// Open opens a SQLite session store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Create inserts a new session record.
func (s *Store) Create(ctx context.Context, session domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	players, err := encodePlayers(session.Players)
	if err != nil {
		return err
	}
	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO sessions (code, players, votes_revealed, created_at, last_activity_at, version)
		 VALUES (?, ?, ?, ?, ?, 1)`,
		session.Code,
		players,
		boolToInt(session.VotesRevealed),
		toMillis(session.CreatedAt),
		toMillis(session.LastActivityAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Get returns the session with the given code.
func (s *Store) Get(ctx context.Context, code string) (domain.Session, error) {
	session, _, err := s.getVersioned(ctx, code)
	return session, err
}

func (s *Store) getVersioned(ctx context.Context, code string) (domain.Session, int64, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, 0, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Session{}, 0, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT code, players, votes_revealed, created_at, last_activity_at, version
		 FROM sessions
		 WHERE code = ?`,
		code,
	)
	var session domain.Session
	var players string
	var votesRevealed int
	var createdAt int64
	var lastActivityAt int64
	var version int64
	err := row.Scan(&session.Code, &players, &votesRevealed, &createdAt, &lastActivityAt, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, 0, storage.ErrNotFound
		}
		return domain.Session{}, 0, fmt.Errorf("get session: %w", err)
	}

	session.Players, err = decodePlayers(players)
	if err != nil {
		// Treat a corrupted record as missing, never as a crash.
		return domain.Session{}, 0, storage.ErrNotFound
	}
	session.VotesRevealed = votesRevealed != 0
	session.CreatedAt = fromMillis(createdAt)
	session.LastActivityAt = fromMillis(lastActivityAt)
	return session, version, nil
}

// Delete removes the session with the given code. Deleting a missing session
// is not an error.
func (s *Store) Delete(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE code = ?`, code); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ApplyUpdate applies update to the current record and commits it with a
// conditional write on the record version, retrying on contention.
func (s *Store) ApplyUpdate(ctx context.Context, code string, update func(*domain.Session) error) (domain.Session, error) {
	for attempt := 0; attempt < storage.UpdateAttempts; attempt++ {
		session, version, err := s.getVersioned(ctx, code)
		if err != nil {
			return domain.Session{}, err
		}

		if err := update(&session); err != nil {
			return domain.Session{}, err
		}

		players, err := encodePlayers(session.Players)
		if err != nil {
			return domain.Session{}, err
		}
		result, err := s.sqlDB.ExecContext(
			ctx,
			`UPDATE sessions
			 SET players = ?, votes_revealed = ?, last_activity_at = ?, version = version + 1
			 WHERE code = ? AND version = ?`,
			players,
			boolToInt(session.VotesRevealed),
			toMillis(session.LastActivityAt),
			code,
			version,
		)
		if err != nil {
			return domain.Session{}, fmt.Errorf("update session: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return domain.Session{}, fmt.Errorf("update session rows: %w", err)
		}
		if affected == 1 {
			return session, nil
		}

		// Version moved under us or the session was deleted; retry resolves both.
		select {
		case <-ctx.Done():
			return domain.Session{}, ctx.Err()
		case <-time.After(storage.RetryBackoff):
		}
	}
	return domain.Session{}, storage.ErrConflict
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") || strings.Contains(message, "constraint failed")
}
