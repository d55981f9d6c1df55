package repository

import (
	"database/sql"
	"errors"

	"crossarb/internal/models"
	"crossarb/pkg/crypto"
)

// Ошибки репозитория ключей
var (
	ErrCredentialNotFound = errors.New("credential not found")
)

// CredentialRepository - работа с таблицей api_credentials
//
// Секреты хранятся зашифрованными (AES-256-GCM) и расшифровываются
// только в момент выдачи коннектору
type CredentialRepository struct {
	db  *sql.DB
	key []byte // 32 байта, AES-256
}

// NewCredentialRepository создает новый экземпляр репозитория
func NewCredentialRepository(db *sql.DB, encryptionKey []byte) (*CredentialRepository, error) {
	if err := crypto.ValidateKey(encryptionKey); err != nil {
		return nil, err
	}
	return &CredentialRepository{db: db, key: encryptionKey}, nil
}

// GetActive возвращает активные ключи пользователя для биржи
// с расшифрованным секретом
func (r *CredentialRepository) GetActive(userID int, exchange string) (*models.APICredential, error) {
	query := `
		SELECT id, user_id, exchange, api_key, api_secret, is_active, created_at
		FROM api_credentials
		WHERE user_id = $1 AND exchange = $2 AND is_active = true
		ORDER BY created_at DESC
		LIMIT 1`

	cred := &models.APICredential{}
	var encryptedSecret string
	err := r.db.QueryRow(query, userID, exchange).Scan(
		&cred.ID,
		&cred.UserID,
		&cred.Exchange,
		&cred.APIKey,
		&encryptedSecret,
		&cred.IsActive,
		&cred.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}

	secret, err := crypto.Decrypt(encryptedSecret, r.key)
	if err != nil {
		return nil, err
	}
	cred.APISecret = secret

	return cred, nil
}

// Store сохраняет ключи, шифруя секрет
func (r *CredentialRepository) Store(cred *models.APICredential) error {
	encrypted, err := crypto.Encrypt(cred.APISecret, r.key)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO api_credentials (user_id, exchange, api_key, api_secret, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at`

	return r.db.QueryRow(
		query,
		cred.UserID,
		cred.Exchange,
		cred.APIKey,
		encrypted,
		cred.IsActive,
	).Scan(&cred.ID, &cred.CreatedAt)
}
