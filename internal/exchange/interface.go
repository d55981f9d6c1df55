// Package exchange предоставляет унифицированный интерфейс для работы с биржами.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"crossarb/internal/models"
)

// Connector определяет унифицированный интерфейс для работы с любой биржей
//
// Все денежные поля - decimal: накопленная ошибка float напрямую
// искажает расчёт прибыли. Каждый вызов проходит через лимитер запросов
// своей биржи; при превышении лимита вызов немедленно завершается
// ErrRateLimited, а не ставится в очередь.
type Connector interface {
	// Name возвращает код биржи
	Name() string

	// GetTicker получает нормализованный тикер пары
	GetTicker(ctx context.Context, pair string) (*models.NormalizedTicker, error)

	// GetOrderBook получает нормализованный стакан с заданной глубиной
	GetOrderBook(ctx context.Context, pair string, depth int) (*models.NormalizedOrderBook, error)

	// GetBalances получает балансы аккаунта по валютам
	GetBalances(ctx context.Context) (map[string]models.Balance, error)

	// PlaceOrder размещает ордер. Для лимитного ордера price обязателен,
	// для рыночного игнорируется
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)

	// CancelOrder отменяет ордер. Отмена - запрос, а не гарантия:
	// биржа может успеть исполнить "отменённый" ордер
	CancelOrder(ctx context.Context, orderID, pair string) error

	// GetOrderStatus запрашивает состояние ордера у биржи
	GetOrderStatus(ctx context.Context, orderID, pair string) (*Order, error)

	// SupportsStreaming сообщает, есть ли у биржи потоковый канал данных.
	// Биржи без стриминга опрашиваются REST-поллингом
	SupportsStreaming() bool

	// SetHealthReporter подключает получателя событий транспорта.
	// Вызывается до первой подписки. Биржи без собственного потокового
	// канала игнорируют вызов: их живость отслеживает поллер
	SetHealthReporter(r HealthReporter)

	// SubscribeTicker подписывается на потоковые обновления тикера.
	// Для бирж без стриминга возвращает ErrStreamingUnsupported
	SubscribeTicker(pair string, callback func(*models.NormalizedTicker)) error

	// SubscribeOrderBook подписывается на потоковые обновления стакана
	SubscribeOrderBook(pair string, callback func(*models.NormalizedOrderBook)) error

	// Close закрывает соединения с биржей
	Close() error
}

// HealthReporter принимает события подключения и разрыва потокового
// транспорта биржи. Реализуется менеджером соединений
type HealthReporter interface {
	MarkConnected(exchange string)
	MarkDisconnected(exchange string, err error)
}

// Типы и стороны ордеров
const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"

	SideBuy  = "buy"
	SideSell = "sell"
)

// Статусы ордеров (нормализованные)
const (
	OrderStatusOpen      = "open"
	OrderStatusPartial   = "partial"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

// OrderRequest - параметры размещаемого ордера
type OrderRequest struct {
	Pair   string
	Side   string // buy, sell
	Type   string // market, limit
	Amount decimal.Decimal
	Price  decimal.Decimal // только для limit
}

// Order - нормализованное представление ордера на бирже
type Order struct {
	ID           string          `json:"id"`
	Pair         string          `json:"pair"`
	Side         string          `json:"side"`
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Price        decimal.Decimal `json:"price"`
	FilledAmount decimal.Decimal `json:"filled_amount"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	Fee          decimal.Decimal `json:"fee"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsOpen проверяет, активен ли ещё ордер на бирже
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusOpen || o.Status == OrderStatusPartial
}
