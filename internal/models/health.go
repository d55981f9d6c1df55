package models

import "time"

// Состояния подключения биржи
const (
	ConnConnecting   = "CONNECTING"
	ConnConnected    = "CONNECTED"
	ConnStale        = "STALE"        // транспорт открыт, но данных нет дольше окна
	ConnReconnecting = "RECONNECTING"
	ConnFailed       = "FAILED"       // бюджет попыток исчерпан
)

// ExchangeHealth - состояние живости подключения одной биржи
//
// Запись создаётся при первой попытке подключения и никогда не
// удаляется: это единственный источник истины для детектора при
// исключении биржи из пространства поиска.
type ExchangeHealth struct {
	Exchange            string    `json:"exchange"`
	State               string    `json:"state"`
	Connected           bool      `json:"connected"`
	LastSeen            time.Time `json:"last_seen"`           // последнее принятое сообщение с данными
	ReconnectCount      int       `json:"reconnect_count"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorTime       time.Time `json:"last_error_time,omitempty"`
}

// IsLive проверяет, пригодна ли биржа для детектора: подключена и
// данные приходили не позже maxAge назад
func (h *ExchangeHealth) IsLive(now time.Time, maxAge time.Duration) bool {
	if h.State != ConnConnected {
		return false
	}
	return now.Sub(h.LastSeen) <= maxAge
}
