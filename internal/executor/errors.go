package executor

import (
	"errors"
	"fmt"
)

// Причины отказа валидации
const (
	ReasonExpired             = "expired"
	ReasonStaleData           = "stale_data"
	ReasonPriceMoved          = "price_moved"
	ReasonProfitDegraded      = "profit_degraded"
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonNoConnector         = "no_connector"
)

var (
	// ErrExecutorBusy - достигнут предел одновременных исполнений
	ErrExecutorBusy = errors.New("executor: concurrent execution limit reached")

	// ErrPartialExecution - часть ног исполнилась, полного круга нет.
	// Итоговый P&L считается только по фактическим заполнениям
	ErrPartialExecution = errors.New("executor: partial execution")
)

// ValidationError - отказ ревалидации перед размещением ордеров
//
// Это не сбой: рынок ушёл от момента обнаружения, исполнение
// отменяется до каких-либо ордеров. Не ретраится автоматически.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Reason, e.Detail)
}

// IsValidationError проверяет, является ли ошибка отказом валидации
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
