package identity

import (
	"context"
	"errors"
	"fmt"

	"MinerWs/module/miner/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountKeySchema = `
CREATE TABLE IF NOT EXISTS account_key (
	login_name  TEXT PRIMARY KEY,
	public_key  TEXT NOT NULL,
	private_key TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresAccountStore keeps account key pairs in the account_key table.
type PostgresAccountStore struct {
	pool *pgxpool.Pool
}

var _ AccountStore = (*PostgresAccountStore)(nil)

func NewPostgresAccountStore(ctx context.Context, dsn string) (*PostgresAccountStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresAccountStore{pool: pool}, nil
}

func (s *PostgresAccountStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, accountKeySchema)
	return err
}

func (s *PostgresAccountStore) Close() {
	s.pool.Close()
}

func (s *PostgresAccountStore) GetAccountKeyPair(ctx context.Context, loginName string) (*model.AccountKeyPair, error) {
	var kp model.AccountKeyPair
	err := s.pool.QueryRow(ctx,
		`SELECT public_key, private_key FROM account_key WHERE login_name = $1`, loginName,
	).Scan(&kp.PublicKey, &kp.PrivateKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound.WrapMsg("account key", "login_name", loginName)
	}
	if err != nil {
		return nil, err
	}
	return &kp, nil
}

func (s *PostgresAccountStore) PersistAccountKeyPair(ctx context.Context, loginName string, kp model.AccountKeyPair) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO account_key (login_name, public_key, private_key) VALUES ($1, $2, $3)
		 ON CONFLICT (login_name) DO NOTHING`,
		loginName, kp.PublicKey, kp.PrivateKey)
	return err
}
