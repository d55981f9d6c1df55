package exchange

import "errors"

// Сентинельные ошибки биржевого слоя
var (
	// ErrRateLimited - лимит запросов к бирже исчерпан. Возвращается
	// немедленно, запрос НЕ ставится в очередь: вызывающий сам решает,
	// когда повторить
	ErrRateLimited = errors.New("exchange rate limit exceeded")

	// ErrStreamingUnsupported - биржа не предоставляет потоковый канал
	ErrStreamingUnsupported = errors.New("exchange does not support streaming")

	// ErrOrderNotFound - ордер не найден на бирже
	ErrOrderNotFound = errors.New("order not found on exchange")

	// ErrMalformedResponse - ответ биржи не прошёл нормализацию.
	// Проваливает один запрос, не коннектор целиком
	ErrMalformedResponse = errors.New("malformed exchange response")
)

// ConnectorError представляет ошибку от биржи (сеть, HTTP, нормализация)
type ConnectorError struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *ConnectorError) Error() string {
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ConnectorError) Unwrap() error {
	return e.Original
}

// NewConnectorError создаёт ошибку коннектора с сохранением оригинала
func NewConnectorError(exchange, code, message string, original error) *ConnectorError {
	return &ConnectorError{
		Exchange: exchange,
		Code:     code,
		Message:  message,
		Original: original,
	}
}
