package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// APICredential - ключи доступа к бирже
//
// Secret хранится в базе в зашифрованном виде (AES-256-GCM) и
// расшифровывается только в момент выдачи коннектору.
type APICredential struct {
	ID        int       `json:"id" db:"id"`
	UserID    int       `json:"user_id" db:"user_id"`
	Exchange  string    `json:"exchange" db:"exchange"`
	APIKey    string    `json:"api_key" db:"api_key"`
	APISecret string    `json:"-" db:"api_secret"` // никогда не сериализуется наружу
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Balance - баланс одной валюты на бирже
type Balance struct {
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// Total возвращает суммарный баланс (доступный + заблокированный)
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}
