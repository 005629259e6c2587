package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"taeu.kr/cmdbconsole/internal/session"
)

const credentialsTable = "credentials"

// Store persists the credential pair in the local sqlite database, one row
// per token key.
type Store struct {
	db *sql.DB
	qb sq.StatementBuilderType
}

var _ session.Storage = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{
		db: db,
		qb: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

func (s *Store) Load(ctx context.Context) (session.CredentialPair, error) {
	query, args, err := s.qb.
		Select("key", "value").
		From(credentialsTable).
		Where(sq.Eq{"key": []string{session.AccessTokenKey, session.RefreshTokenKey}}).
		ToSql()
	if err != nil {
		return session.CredentialPair{}, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return session.CredentialPair{}, err
	}
	defer rows.Close()

	var pair session.CredentialPair
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return session.CredentialPair{}, err
		}
		switch key {
		case session.AccessTokenKey:
			pair.Access = value
		case session.RefreshTokenKey:
			pair.Refresh = value
		}
	}
	return pair, rows.Err()
}

// Save upserts both keys in one transaction.
func (s *Store) Save(ctx context.Context, pair session.CredentialPair) error {
	now := time.Now()
	query, args, err := s.qb.
		Insert(credentialsTable).
		Columns("key", "value", "updated_at").
		Values(session.AccessTokenKey, pair.Access, now).
		Values(session.RefreshTokenKey, pair.Refresh, now).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to save credentials: %w", err)
		}
		return nil
	})
}

// Clear deletes both keys in one transaction.
func (s *Store) Clear(ctx context.Context) error {
	query, args, err := s.qb.
		Delete(credentialsTable).
		Where(sq.Eq{"key": []string{session.AccessTokenKey, session.RefreshTokenKey}}).
		ToSql()
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to clear credentials: %w", err)
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
