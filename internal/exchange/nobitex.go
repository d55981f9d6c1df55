package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crossarb/internal/models"
	"crossarb/pkg/ratelimit"
)

const (
	nobitexBaseURL = "https://api.nobitex.ir"

	// Nobitex не предоставляет публичный стриминг, данные обновляются
	// REST-поллингом
	nobitexName = "nobitex"
)

// Nobitex реализует интерфейс Connector для биржи Nobitex
//
// Аутентификация: токен в заголовке Authorization.
// Рыночные данные только через REST (SupportsStreaming = false)
type Nobitex struct {
	apiKey string

	httpClient *http.Client
	limiter    *ratelimit.RateLimiter
	log        *zap.Logger
}

// NewNobitex создает новый экземпляр Nobitex
// Использует глобальный HTTP клиент с connection pooling
func NewNobitex(apiKey string, limiter *ratelimit.RateLimiter, log *zap.Logger) *Nobitex {
	return &Nobitex{
		apiKey:     apiKey,
		httpClient: GetGlobalHTTPClient().GetClient(),
		limiter:    limiter,
		log:        log.Named(nobitexName),
	}
}

func (n *Nobitex) Name() string {
	return nobitexName
}

// allow проверяет лимит запросов. Без ожидания: при исчерпании
// токенов вызов сразу завершается ErrRateLimited
func (n *Nobitex) allow() error {
	if n.limiter != nil && !n.limiter.Allow() {
		return ErrRateLimited
	}
	return nil
}

// doRequest выполняет HTTP запрос к Nobitex API
func (n *Nobitex) doRequest(ctx context.Context, method, endpoint string, query url.Values, body map[string]interface{}, signed bool) ([]byte, error) {
	if err := n.allow(); err != nil {
		return nil, err
	}

	reqURL := nobitexBaseURL + endpoint
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reqBody string
	if len(body) > 0 {
		jsonBytes, err := jsonCodec.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = string(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if signed {
		req.Header.Set("Authorization", "Token "+n.apiKey)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, NewConnectorError(nobitexName, "network", err.Error(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewConnectorError(nobitexName, "network", err.Error(), err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}

	// Nobitex возвращает status: "ok" при успехе
	var baseResp struct {
		Status string `json:"status"`
	}
	if err := jsonCodec.Unmarshal(respBody, &baseResp); err != nil {
		return nil, NewConnectorError(nobitexName, strconv.Itoa(resp.StatusCode), "invalid JSON", ErrMalformedResponse)
	}

	if baseResp.Status != "ok" {
		var errResp struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		jsonCodec.Unmarshal(respBody, &errResp)
		return nil, NewConnectorError(nobitexName, errResp.Code, errResp.Message, nil)
	}

	return respBody, nil
}

// statsKey формирует ключ пары в ответе /market/stats (btc-usdt)
func nobitexStatsKey(pair string) (src, dst, key string) {
	base, quote := SplitPair(pair)
	src = strings.ToLower(base)
	dst = strings.ToLower(quote)
	if dst == "irt" {
		dst = "rls" // Nobitex торгует в риалах
	}
	return src, dst, src + "-" + dst
}

func (n *Nobitex) GetTicker(ctx context.Context, pair string) (*models.NormalizedTicker, error) {
	src, dst, key := nobitexStatsKey(pair)

	query := url.Values{}
	query.Set("srcCurrency", src)
	query.Set("dstCurrency", dst)

	body, err := n.doRequest(ctx, http.MethodGet, "/market/stats", query, nil, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Stats map[string]struct {
			Latest    json.Number `json:"latest"`
			BestBuy   json.Number `json:"bestBuy"`
			BestSell  json.Number `json:"bestSell"`
			VolumeSrc json.Number `json:"volumeSrc"`
			DayHigh   json.Number `json:"dayHigh"`
			DayLow    json.Number `json:"dayLow"`
			DayChange json.Number `json:"dayChange"`
			IsClosed  bool        `json:"isClosed"`
		} `json:"stats"`
	}

	if err := jsonCodec.Unmarshal(body, &resp); err != nil {
		return nil, NewConnectorError(nobitexName, "decode", err.Error(), ErrMalformedResponse)
	}

	stats, ok := resp.Stats[key]
	if !ok {
		return nil, NewConnectorError(nobitexName, "not_found", fmt.Sprintf("ticker not found for %s", pair), ErrMalformedResponse)
	}

	return &models.NormalizedTicker{
		Exchange:  nobitexName,
		Pair:      strings.ToUpper(pair),
		LastPrice: parseDecimal(stats.Latest),
		// bestBuy - лучшая цена покупателя (bid), bestSell - продавца (ask)
		BidPrice:  parseDecimal(stats.BestBuy),
		AskPrice:  parseDecimal(stats.BestSell),
		Volume24h: parseDecimal(stats.VolumeSrc),
		High24h:   parseDecimal(stats.DayHigh),
		Low24h:    parseDecimal(stats.DayLow),
		Change24h: parseDecimal(stats.DayChange),
		Timestamp: time.Now().UTC(),
	}, nil
}

func (n *Nobitex) GetOrderBook(ctx context.Context, pair string, depth int) (*models.NormalizedOrderBook, error) {
	body, err := n.doRequest(ctx, http.MethodGet, "/v3/orderbook/"+strings.ToUpper(pair), nil, nil, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Bids [][]json.Number `json:"bids"`
		Asks [][]json.Number `json:"asks"`
	}

	if err := jsonCodec.Unmarshal(body, &resp); err != nil {
		return nil, NewConnectorError(nobitexName, "decode", err.Error(), ErrMalformedResponse)
	}

	book := &models.NormalizedOrderBook{
		Exchange:  nobitexName,
		Pair:      strings.ToUpper(pair),
		Timestamp: time.Now().UTC(),
	}

	for i, bid := range resp.Bids {
		if i >= depth || len(bid) < 2 {
			break
		}
		book.Bids = append(book.Bids, models.OrderBookLevel{
			Side:     models.BookSideBid,
			Price:    parseDecimal(bid[0]),
			Quantity: parseDecimal(bid[1]),
			Rank:     i,
		})
	}

	for i, ask := range resp.Asks {
		if i >= depth || len(ask) < 2 {
			break
		}
		book.Asks = append(book.Asks, models.OrderBookLevel{
			Side:     models.BookSideAsk,
			Price:    parseDecimal(ask[0]),
			Quantity: parseDecimal(ask[1]),
			Rank:     i,
		})
	}

	return book, nil
}

func (n *Nobitex) GetBalances(ctx context.Context) (map[string]models.Balance, error) {
	body, err := n.doRequest(ctx, http.MethodGet, "/users/wallets/list", nil, nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Wallets []struct {
			Currency       string      `json:"currency"`
			ActiveBalance  json.Number `json:"activeBalance"`
			BlockedBalance json.Number `json:"blockedBalance"`
		} `json:"wallets"`
	}

	if err := jsonCodec.Unmarshal(body, &resp); err != nil {
		return nil, NewConnectorError(nobitexName, "decode", err.Error(), ErrMalformedResponse)
	}

	balances := make(map[string]models.Balance, len(resp.Wallets))
	for _, w := range resp.Wallets {
		currency := strings.ToUpper(w.Currency)
		balances[currency] = models.Balance{
			Currency:  currency,
			Available: parseDecimal(w.ActiveBalance),
			Locked:    parseDecimal(w.BlockedBalance),
		}
	}

	return balances, nil
}

func (n *Nobitex) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	base, quote := SplitPair(req.Pair)
	src := strings.ToLower(base)
	dst := strings.ToLower(quote)
	if dst == "irt" {
		dst = "rls"
	}

	orderData := map[string]interface{}{
		"type":        req.Side,
		"srcCurrency": src,
		"dstCurrency": dst,
		"amount":      req.Amount.String(),
		"execution":   req.Type,
	}
	if req.Type == OrderTypeLimit {
		orderData["price"] = req.Price.String()
	}

	body, err := n.doRequest(ctx, http.MethodPost, "/market/orders/add", nil, orderData, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Order struct {
			ID     int64       `json:"id"`
			Price  json.Number `json:"price"`
			Amount json.Number `json:"amount"`
			Status string      `json:"status"`
		} `json:"order"`
	}

	if err := jsonCodec.Unmarshal(body, &resp); err != nil {
		return nil, NewConnectorError(nobitexName, "decode", err.Error(), ErrMalformedResponse)
	}

	now := time.Now().UTC()
	return &Order{
		ID:        strconv.FormatInt(resp.Order.ID, 10),
		Pair:      strings.ToUpper(req.Pair),
		Side:      req.Side,
		Type:      req.Type,
		Amount:    parseDecimal(resp.Order.Amount),
		Price:     parseDecimal(resp.Order.Price),
		Status:    nobitexOrderStatus(resp.Order.Status),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (n *Nobitex) CancelOrder(ctx context.Context, orderID, pair string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return NewConnectorError(nobitexName, "bad_order_id", orderID, err)
	}

	_, err = n.doRequest(ctx, http.MethodPost, "/market/orders/update-status", nil, map[string]interface{}{
		"order":  id,
		"status": "canceled",
	}, true)
	return err
}

func (n *Nobitex) GetOrderStatus(ctx context.Context, orderID, pair string) (*Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, NewConnectorError(nobitexName, "bad_order_id", orderID, err)
	}

	body, err := n.doRequest(ctx, http.MethodPost, "/market/orders/status", nil, map[string]interface{}{
		"id": id,
	}, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Order struct {
			ID              int64       `json:"id"`
			Status          string      `json:"status"`
			Price           json.Number `json:"price"`
			Amount          json.Number `json:"amount"`
			MatchedAmount   json.Number `json:"matchedAmount"`
			UnmatchedAmount json.Number `json:"unmatchedAmount"`
			Fee             json.Number `json:"fee"`
		} `json:"order"`
	}

	if err := jsonCodec.Unmarshal(body, &resp); err != nil {
		return nil, NewConnectorError(nobitexName, "decode", err.Error(), ErrMalformedResponse)
	}
	if resp.Order.ID == 0 {
		return nil, ErrOrderNotFound
	}

	matched := parseDecimal(resp.Order.MatchedAmount)
	price := parseDecimal(resp.Order.Price)
	status := nobitexOrderStatus(resp.Order.Status)

	// Nobitex не отдаёт среднюю цену исполнения отдельным полем,
	// для лимитного ордера она равна цене ордера
	avgPrice := decimal.Zero
	if matched.IsPositive() {
		avgPrice = price
	}
	if status == OrderStatusOpen && matched.IsPositive() {
		status = OrderStatusPartial
	}

	return &Order{
		ID:           strconv.FormatInt(resp.Order.ID, 10),
		Pair:         strings.ToUpper(pair),
		Amount:       parseDecimal(resp.Order.Amount),
		Price:        price,
		FilledAmount: matched,
		AvgFillPrice: avgPrice,
		Fee:          parseDecimal(resp.Order.Fee),
		Status:       status,
		UpdatedAt:    time.Now().UTC(),
	}, nil
}

// nobitexOrderStatus нормализует статус ордера Nobitex
func nobitexOrderStatus(status string) string {
	switch status {
	case "Active", "Inactive":
		return OrderStatusOpen
	case "Done":
		return OrderStatusFilled
	case "Canceled":
		return OrderStatusCancelled
	default:
		return OrderStatusRejected
	}
}

func (n *Nobitex) SupportsStreaming() bool {
	return false
}

// SetHealthReporter у REST-биржи нет собственного транспорта,
// итоги опроса сообщает поллер
func (n *Nobitex) SetHealthReporter(HealthReporter) {}

func (n *Nobitex) SubscribeTicker(pair string, callback func(*models.NormalizedTicker)) error {
	return ErrStreamingUnsupported
}

func (n *Nobitex) SubscribeOrderBook(pair string, callback func(*models.NormalizedOrderBook)) error {
	return ErrStreamingUnsupported
}

func (n *Nobitex) Close() error {
	return nil
}
