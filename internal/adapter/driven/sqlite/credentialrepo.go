package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ericfisherdev/studiopanel/internal/domain/model"
	"github.com/ericfisherdev/studiopanel/internal/domain/port/driven"
)

var _ driven.CredentialStore = (*CredentialRepo)(nil)

// errCiphertextTooShort is returned when a stored value cannot hold a nonce.
var errCiphertextTooShort = errors.New("ciphertext too short")

// CredentialRepo stores the remote store URL and API key entered on the
// settings page. Values are sealed with AES-256-GCM and bound to their
// service name, so a value copied to another row fails to open.
type CredentialRepo struct {
	db   *DB
	aead cipher.AEAD // nil when no key was configured
}

// NewCredentialRepo creates a CredentialRepo. key must be 32 bytes, or nil to
// disable credential storage; every read and write then returns
// driven.ErrEncryptionKeyNotSet.
func NewCredentialRepo(db *DB, key []byte) (*CredentialRepo, error) {
	repo := &CredentialRepo{db: db}
	if key == nil {
		return repo, nil
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("credential key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create credential cipher: %w", err)
	}
	repo.aead, err = cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create credential cipher: %w", err)
	}
	return repo, nil
}

// Set stores or replaces the value for service.
func (r *CredentialRepo) Set(ctx context.Context, service, plaintext string) error {
	sealed, err := r.seal(service, plaintext)
	if err != nil {
		return fmt.Errorf("set credential %q: %w", service, err)
	}

	const query = `
		INSERT INTO credentials (service, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(service) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := r.db.Writer.ExecContext(ctx, query, service, sealed); err != nil {
		return fmt.Errorf("set credential %q: %w", service, err)
	}
	return nil
}

// Get returns the value stored for service, or "" when there is none.
func (r *CredentialRepo) Get(ctx context.Context, service string) (string, error) {
	if r.aead == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	var sealed string
	err := r.db.Reader.QueryRowContext(ctx, `SELECT value FROM credentials WHERE service = ?`, service).Scan(&sealed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("get credential %q: %w", service, err)
	}
	return r.open(service, sealed)
}

// List returns every stored credential ordered by service name.
func (r *CredentialRepo) List(ctx context.Context) ([]model.Credential, error) {
	if r.aead == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	rows, err := r.db.Reader.QueryContext(ctx, `SELECT id, service, value, updated_at FROM credentials ORDER BY service`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		cred, err := r.scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return creds, nil
}

// Delete removes the value for service. A missing value is not an error.
func (r *CredentialRepo) Delete(ctx context.Context, service string) error {
	if _, err := r.db.Writer.ExecContext(ctx, `DELETE FROM credentials WHERE service = ?`, service); err != nil {
		return fmt.Errorf("delete credential %q: %w", service, err)
	}
	return nil
}

func (r *CredentialRepo) scanCredential(s scanner) (model.Credential, error) {
	var (
		cred      model.Credential
		sealed    string
		updatedAt string
	)
	if err := s.Scan(&cred.ID, &cred.Service, &sealed, &updatedAt); err != nil {
		return model.Credential{}, fmt.Errorf("scan credential: %w", err)
	}

	value, err := r.open(cred.Service, sealed)
	if err != nil {
		return model.Credential{}, err
	}
	cred.Value = value

	if cred.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Credential{}, fmt.Errorf("parse updated_at for credential %q: %w", cred.Service, err)
	}
	return cred, nil
}

// seal encrypts plaintext and returns base64(nonce || ciphertext || tag).
func (r *CredentialRepo) seal(service, plaintext string) (string, error) {
	if r.aead == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	nonce := make([]byte, r.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := r.aead.Seal(nonce, nonce, []byte(plaintext), []byte(service))
	return base64.StdEncoding.EncodeToString(out), nil
}

// open reverses seal for the value stored under service.
func (r *CredentialRepo) open(service, encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode credential %q: %w", service, err)
	}

	n := r.aead.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("decrypt credential %q: %w", service, errCiphertextTooShort)
	}
	plaintext, err := r.aead.Open(nil, data[:n], data[n:], []byte(service))
	if err != nil {
		return "", fmt.Errorf("decrypt credential %q: %w", service, err)
	}
	return string(plaintext), nil
}
