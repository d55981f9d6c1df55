package exchange

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"crossarb/pkg/ratelimit"
)

// SupportedExchanges - список поддерживаемых бирж
var SupportedExchanges = []string{
	"nobitex",
	"wallex",
	"ramzinex",
}

// Credentials - API ключи биржи. Secret нужен только биржам
// с токен-аутентификацией (Ramzinex)
type Credentials struct {
	APIKey    string
	APISecret string
}

// NewConnector создает новый коннектор биржи по имени
func NewConnector(name string, creds Credentials, limiter *ratelimit.RateLimiter, log *zap.Logger) (Connector, error) {
	switch strings.ToLower(name) {
	case nobitexName:
		return NewNobitex(creds.APIKey, limiter, log), nil
	case wallexName:
		return NewWallex(creds.APIKey, limiter, log), nil
	case ramzinexName:
		return NewRamzinex(creds.APIKey, creds.APISecret, limiter, log), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", name)
	}
}

// IsSupported проверяет, поддерживается ли биржа
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedExchanges {
		if name == supported {
			return true
		}
	}
	return false
}
