package database

import (
	"context"
	"errors"
	"time"

	"github.com/mickaelvieira/dpop-oidc-client-go/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	ProofKeyName     = "proof_key"
	RefreshTokenName = "refresh_token"
)

// Credential is one named secret. The proof key and the refresh token each
// occupy a single row.
type Credential struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"index:idx_credential_name,unique"`
	Value     []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Credential) TableName() string {
	return "credentials"
}

type Storage struct {
	ProofKey     *CredentialStorage
	RefreshToken *CredentialStorage
}

func New(db *gorm.DB) *Storage {
	return &Storage{
		ProofKey:     &CredentialStorage{db: db, name: ProofKeyName},
		RefreshToken: &CredentialStorage{db: db, name: RefreshTokenName},
	}
}

// CredentialStorage exposes a single credential row as a storage.Blob.
type CredentialStorage struct {
	db   *gorm.DB
	name string
}

var _ storage.Blob = (*CredentialStorage)(nil)

func NewCredentialStorage(db *gorm.DB, name string) *CredentialStorage {
	return &CredentialStorage{db: db, name: name}
}

func (o *CredentialStorage) Load(ctx context.Context) ([]byte, error) {
	var c *Credential
	if tx := o.db.WithContext(ctx).Where("name = ?", o.name).First(&c); tx.Error != nil {
		if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, tx.Error
	}
	return c.Value, nil
}

func (o *CredentialStorage) Save(ctx context.Context, data []byte) error {
	m := &Credential{Name: o.name, Value: data}

	result := o.db.WithContext(ctx).
		Clauses(
			clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			},
		).
		Create(m)

	return result.Error
}

func (o *CredentialStorage) Delete(ctx context.Context) error {
	if tx := o.db.WithContext(ctx).Where("name = ?", o.name).Delete(&Credential{}); tx.Error != nil {
		return tx.Error
	}
	return nil
}
