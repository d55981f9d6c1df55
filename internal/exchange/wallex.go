package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"crossarb/internal/models"
	"crossarb/pkg/ratelimit"
)

const (
	wallexBaseURL = "https://api.wallex.ir"
	wallexWSURL   = "wss://api.wallex.ir/ws"

	wallexName = "wallex"
)

// Wallex реализует интерфейс Connector для биржи Wallex
//
// Аутентификация: API ключ в заголовке X-API-Key.
// Рыночные данные: REST + WebSocket (каналы SYMBOL@buyDepth,
// SYMBOL@sellDepth, SYMBOL@marketCap)
type Wallex struct {
	apiKey string

	httpClient *http.Client
	limiter    *ratelimit.RateLimiter
	log        *zap.Logger

	// WebSocket manager с автоматическим переподключением
	wsManager *WSReconnectManager
	wsURL     string
	health    HealthReporter
	wsMu      sync.Mutex

	// Callbacks подписок
	tickerCallbacks map[string]func(*models.NormalizedTicker)
	bookCallbacks   map[string]func(*models.NormalizedOrderBook)
	callbackMu      sync.RWMutex

	// Частичные стаканы: buyDepth и sellDepth приходят отдельными
	// сообщениями, склеиваем перед выдачей callback'у
	partialBooks map[string]*models.NormalizedOrderBook
	partialMu    sync.Mutex
}

// NewWallex создает новый экземпляр Wallex
func NewWallex(apiKey string, limiter *ratelimit.RateLimiter, log *zap.Logger) *Wallex {
	return &Wallex{
		apiKey:          apiKey,
		wsURL:           wallexWSURL,
		httpClient:      GetGlobalHTTPClient().GetClient(),
		limiter:         limiter,
		log:             log.Named(wallexName),
		tickerCallbacks: make(map[string]func(*models.NormalizedTicker)),
		bookCallbacks:   make(map[string]func(*models.NormalizedOrderBook)),
		partialBooks:    make(map[string]*models.NormalizedOrderBook),
	}
}

func (w *Wallex) Name() string {
	return wallexName
}

func (w *Wallex) allow() error {
	if w.limiter != nil && !w.limiter.Allow() {
		return ErrRateLimited
	}
	return nil
}

// doRequest выполняет HTTP запрос к Wallex API
func (w *Wallex) doRequest(ctx context.Context, method, endpoint string, query url.Values, body map[string]interface{}, signed bool) ([]byte, error) {
	if err := w.allow(); err != nil {
		return nil, err
	}

	reqURL := wallexBaseURL + endpoint
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
		req.Header.Set("X-API-Key", w.apiKey)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, NewConnectorError(wallexName, "network", err.Error(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewConnectorError(wallexName, "network", err.Error(), err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}

	var baseResp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := jsonCodec.Unmarshal(respBody, &baseResp); err != nil {
		return nil, NewConnectorError(wallexName, "decode", "invalid JSON", ErrMalformedResponse)
	}

	if !baseResp.Success {
		return nil, NewConnectorError(wallexName, "api_error", baseResp.Message, nil)
	}

	return respBody, nil
}

// wallexMarket - данные символа из /v1/markets
type wallexMarket struct {
	Symbol     string `json:"symbol"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
	Stats      struct {
		LastPrice   json.Number `json:"lastPrice"`
		BidPrice    json.Number `json:"bidPrice"`
		AskPrice    json.Number `json:"askPrice"`
		Volume24h   json.Number `json:"24h_volume"`
		HighPrice   json.Number `json:"24h_highPrice"`
		LowPrice    json.Number `json:"24h_lowPrice"`
		Change24h   json.Number `json:"24h_ch"`
	} `json:"stats"`
}

func (w *Wallex) GetTicker(ctx context.Context, pair string) (*models.NormalizedTicker, error) {
	// Отдельного тикер-эндпоинта нет, данные берутся из /v1/markets
	body, err := w.doRequest(ctx, http.MethodGet, "/v1/markets", nil, nil, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			Symbols map[string]wallexMarket `json:"symbols"`
		} `json:"result"`
	}

	if err := jsonCodec.Unmarshal(body, &resp); err != nil {
		return nil, NewConnectorError(wallexName, "decode", err.Error(), ErrMalformedResponse)
	}

	symbol := strings.ToUpper(pair)
	market, ok := resp.Result.Symbols[symbol]
	if !ok {
		return nil, NewConnectorError(wallexName, "not_found", fmt.Sprintf("ticker not found for %s", pair), ErrMalformedResponse)
	}

	return &models.NormalizedTicker{
		Exchange:  wallexName,
		Pair:      symbol,
		LastPrice: parseDecimal(market.Stats.LastPrice),
		BidPrice:  parseDecimal(market.Stats.BidPrice),
		AskPrice:  parseDecimal(market.Stats.AskPrice),
		Volume24h: parseDecimal(market.Stats.Volume24h),
		High24h:   parseDecimal(market.Stats.HighPrice),
		Low24h:    parseDecimal(market.Stats.LowPrice),
		Change24h: parseDecimal(market.Stats.Change24h),
		Timestamp: time.Now().UTC(),
	}, nil
}

func (w *Wallex) GetOrderBook(ctx context.Context, pair string, depth int) (*models.NormalizedOrderBook, error) {
	query := url.Values{}
	query.Set("symbol", strings.ToUpper(pair))

	body, err := w.doRequest(ctx, http.MethodGet, "/v1/depth", query, nil, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			Bid []struct {
				Price    json.Number `json:"price"`
				Quantity json.Number `json:"quantity"`
			} `json:"bid"`
			Ask []struct {
				Price    json.Number `json:"price"`
				Quantity json.Number `json:"quantity"`
			} `json:"ask"`
		} `json:"result"`
	}

	if err := jsonCodec.Unmarshal(body, &resp); err != nil {
		return nil, NewConnectorError(wallexName, "decode", err.Error(), ErrMalformedResponse)
	}

	book := &models.NormalizedOrderBook{
		Exchange:  wallexName,
		Pair:      strings.ToUpper(pair),
		Timestamp: time.Now().UTC(),
	}

	for i, bid := range resp.Result.Bid {
		if i >= depth {
			break
		}
		book.Bids = append(book.Bids, models.OrderBookLevel{
			Side:     models.BookSideBid,
			Price:    parseDecimal(bid.Price),
			Quantity: parseDecimal(bid.Quantity),
			Rank:     i,
		})
	}

	for i, ask := range resp.Result.Ask {
		if i >= depth {
			break
		}
		book.Asks = append(book.Asks, models.OrderBookLevel{
			Side:     models.BookSideAsk,
			Price:    parseDecimal(ask.Price),
			Quantity: parseDecimal(ask.Quantity),
			Rank:     i,
		})
	}

	return book, nil
}

func (w *Wallex) GetBalances(ctx context.Context) (map[string]models.Balance, error) {
	body, err := w.doRequest(ctx, http.MethodGet, "/v1/account/balances", nil, nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			Balances map[string]struct {
				Value  json.Number `json:"value"`
				Locked json.Number `json:"locked"`
			} `json:"balances"`
		} `json:"result"`
	}

	if err := jsonCodec.Unmarshal(body, &resp); err != nil {
		return nil, NewConnectorError(wallexName, "decode", err.Error(), ErrMalformedResponse)
	}

	balances := make(map[string]models.Balance, len(resp.Result.Balances))
	for asset, data := range resp.Result.Balances {
		currency := strings.ToUpper(asset)
		balances[currency] = models.Balance{
			Currency:  currency,
			Available: parseDecimal(data.Value),
			Locked:    parseDecimal(data.Locked),
		}
	}

	return balances, nil
}

func (w *Wallex) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	orderData := map[string]interface{}{
		"symbol":   strings.ToUpper(req.Pair),
		"type":     strings.ToUpper(req.Type),
		"side":     strings.ToUpper(req.Side),
		"quantity": req.Amount.String(),
	}
	if req.Type == OrderTypeLimit {
		orderData["price"] = req.Price.String()
	}

	body, err := w.doRequest(ctx, http.MethodPost, "/v1/account/orders", nil, orderData, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			ClientOrderID string      `json:"clientOrderId"`
			Symbol        string      `json:"symbol"`
			Price         json.Number `json:"price"`
			OrigQty       json.Number `json:"origQty"`
			ExecutedQty   json.Number `json:"executedQty"`
			ExecutedSum   json.Number `json:"executedSum"`
			Status        string      `json:"status"`
		} `json:"result"`
	}

	if err := jsonCodec.Unmarshal(body, &resp); err != nil {
		return nil, NewConnectorError(wallexName, "decode", err.Error(), ErrMalformedResponse)
	}

	now := time.Now().UTC()
	return &Order{
		ID:           resp.Result.ClientOrderID,
		Pair:         strings.ToUpper(req.Pair),
		Side:         req.Side,
		Type:         req.Type,
		Amount:       parseDecimal(resp.Result.OrigQty),
		Price:        parseDecimal(resp.Result.Price),
		FilledAmount: parseDecimal(resp.Result.ExecutedQty),
		Status:       wallexOrderStatus(resp.Result.Status),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (w *Wallex) CancelOrder(ctx context.Context, orderID, pair string) error {
	query := url.Values{}
	query.Set("clientOrderId", orderID)

	_, err := w.doRequest(ctx, http.MethodDelete, "/v1/account/orders", query, nil, true)
	return err
}

func (w *Wallex) GetOrderStatus(ctx context.Context, orderID, pair string) (*Order, error) {
	body, err := w.doRequest(ctx, http.MethodGet, "/v1/account/orders/"+orderID, nil, nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			ClientOrderID string      `json:"clientOrderId"`
			Symbol        string      `json:"symbol"`
			Side          string      `json:"side"`
			Type          string      `json:"type"`
			Price         json.Number `json:"price"`
			OrigQty       json.Number `json:"origQty"`
			ExecutedQty   json.Number `json:"executedQty"`
			ExecutedSum   json.Number `json:"executedSum"`
			Fee           json.Number `json:"fee"`
			Status        string      `json:"status"`
		} `json:"result"`
	}

	if err := jsonCodec.Unmarshal(body, &resp); err != nil {
		return nil, NewConnectorError(wallexName, "decode", err.Error(), ErrMalformedResponse)
	}
	if resp.Result.ClientOrderID == "" {
		return nil, ErrOrderNotFound
	}

	filled := parseDecimal(resp.Result.ExecutedQty)
	executedSum := parseDecimal(resp.Result.ExecutedSum)

	// Средняя цена исполнения = сумма сделок / исполненный объём
	avgPrice := parseDecimal(resp.Result.Price)
	if filled.IsPositive() && executedSum.IsPositive() {
		avgPrice = executedSum.Div(filled)
	}

	return &Order{
		ID:           resp.Result.ClientOrderID,
		Pair:         resp.Result.Symbol,
		Side:         strings.ToLower(resp.Result.Side),
		Type:         strings.ToLower(resp.Result.Type),
		Amount:       parseDecimal(resp.Result.OrigQty),
		Price:        parseDecimal(resp.Result.Price),
		FilledAmount: filled,
		AvgFillPrice: avgPrice,
		Fee:          parseDecimal(resp.Result.Fee),
		Status:       wallexOrderStatus(resp.Result.Status),
		UpdatedAt:    time.Now().UTC(),
	}, nil
}

// wallexOrderStatus нормализует статус ордера Wallex
func wallexOrderStatus(status string) string {
	switch strings.ToUpper(status) {
	case "NEW", "OPEN", "ACTIVE":
		return OrderStatusOpen
	case "PARTIALLY_FILLED":
		return OrderStatusPartial
	case "FILLED", "DONE":
		return OrderStatusFilled
	case "CANCELED", "CANCELLED":
		return OrderStatusCancelled
	default:
		return OrderStatusRejected
	}
}

// ============ WebSocket ============

func (w *Wallex) SupportsStreaming() bool {
	return true
}

// SetHealthReporter подключает получателя событий WebSocket-транспорта.
// Вызывается до первой подписки
func (w *Wallex) SetHealthReporter(r HealthReporter) {
	w.wsMu.Lock()
	w.health = r
	w.wsMu.Unlock()
}

// ensureWS создаёт и подключает WSReconnectManager при первой подписке
func (w *Wallex) ensureWS() error {
	w.wsMu.Lock()
	defer w.wsMu.Unlock()

	if w.wsManager != nil {
		return nil
	}

	health := w.health
	manager := NewWSReconnectManager(wallexName, w.wsURL, DefaultWSReconnectConfig(), w.log)
	manager.SetOnMessage(w.handleWSMessage)
	manager.SetOnConnect(func() {
		if health != nil {
			health.MarkConnected(wallexName)
		}
	})
	manager.SetOnDisconnect(func(err error) {
		// Частичные стаканы после разрыва устарели
		w.partialMu.Lock()
		w.partialBooks = make(map[string]*models.NormalizedOrderBook)
		w.partialMu.Unlock()

		if health != nil {
			health.MarkDisconnected(wallexName, err)
		}
	})

	if err := manager.Connect(); err != nil {
		return fmt.Errorf("failed to connect to Wallex WebSocket: %w", err)
	}

	w.wsManager = manager
	return nil
}

// subscribeChannel подписывается на канал и регистрирует его для
// восстановления после переподключения
func (w *Wallex) subscribeChannel(channel string) error {
	subMsg := []interface{}{"subscribe", map[string]string{"channel": channel}}
	w.wsManager.AddSubscription(subMsg)
	return w.wsManager.Send(subMsg)
}

func (w *Wallex) SubscribeTicker(pair string, callback func(*models.NormalizedTicker)) error {
	if err := w.ensureWS(); err != nil {
		return err
	}

	symbol := strings.ToUpper(pair)

	w.callbackMu.Lock()
	w.tickerCallbacks[symbol] = callback
	w.callbackMu.Unlock()

	return w.subscribeChannel(symbol + "@marketCap")
}

func (w *Wallex) SubscribeOrderBook(pair string, callback func(*models.NormalizedOrderBook)) error {
	if err := w.ensureWS(); err != nil {
		return err
	}

	symbol := strings.ToUpper(pair)

	w.callbackMu.Lock()
	w.bookCallbacks[symbol] = callback
	w.callbackMu.Unlock()

	// Стороны стакана приходят отдельными каналами
	if err := w.subscribeChannel(symbol + "@buyDepth"); err != nil {
		return err
	}
	return w.subscribeChannel(symbol + "@sellDepth")
}

// handleWSMessage обрабатывает одно сообщение из WebSocket
func (w *Wallex) handleWSMessage(message []byte) {
	var msg struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}

	if err := jsonCodec.Unmarshal(message, &msg); err != nil {
		return
	}

	parts := strings.SplitN(msg.Channel, "@", 2)
	if len(parts) != 2 {
		return
	}
	symbol, kind := parts[0], parts[1]

	switch kind {
	case "marketCap":
		w.handleTickerUpdate(symbol, msg.Data)
	case "buyDepth":
		w.handleDepthUpdate(symbol, models.BookSideBid, msg.Data)
	case "sellDepth":
		w.handleDepthUpdate(symbol, models.BookSideAsk, msg.Data)
	}
}

func (w *Wallex) handleTickerUpdate(symbol string, data json.RawMessage) {
	w.callbackMu.RLock()
	callback, ok := w.tickerCallbacks[symbol]
	w.callbackMu.RUnlock()
	if !ok || callback == nil {
		return
	}

	var update struct {
		LastPrice json.Number `json:"lastPrice"`
		BidPrice  json.Number `json:"bidPrice"`
		AskPrice  json.Number `json:"askPrice"`
		Volume24h json.Number `json:"24h_volume"`
	}
	if err := jsonCodec.Unmarshal(data, &update); err != nil {
		return
	}

	callback(&models.NormalizedTicker{
		Exchange:  wallexName,
		Pair:      symbol,
		LastPrice: parseDecimal(update.LastPrice),
		BidPrice:  parseDecimal(update.BidPrice),
		AskPrice:  parseDecimal(update.AskPrice),
		Volume24h: parseDecimal(update.Volume24h),
		Timestamp: time.Now().UTC(),
	})
}

func (w *Wallex) handleDepthUpdate(symbol string, side string, data json.RawMessage) {
	var levels []struct {
		Price    json.Number `json:"price"`
		Quantity json.Number `json:"quantity"`
	}
	if err := jsonCodec.Unmarshal(data, &levels); err != nil {
		return
	}

	parsed := make([]models.OrderBookLevel, 0, len(levels))
	for i, lvl := range levels {
		parsed = append(parsed, models.OrderBookLevel{
			Side:     side,
			Price:    parseDecimal(lvl.Price),
			Quantity: parseDecimal(lvl.Quantity),
			Rank:     i,
		})
	}

	// Склеиваем с ранее полученной противоположной стороной
	w.partialMu.Lock()
	book, ok := w.partialBooks[symbol]
	if !ok {
		book = &models.NormalizedOrderBook{Exchange: wallexName, Pair: symbol}
		w.partialBooks[symbol] = book
	}
	if side == models.BookSideBid {
		book.Bids = parsed
	} else {
		book.Asks = parsed
	}
	book.Timestamp = time.Now().UTC()

	// Выдаём callback'у копию только когда есть обе стороны
	var snapshot *models.NormalizedOrderBook
	if len(book.Bids) > 0 && len(book.Asks) > 0 {
		cp := *book
		cp.Bids = append([]models.OrderBookLevel(nil), book.Bids...)
		cp.Asks = append([]models.OrderBookLevel(nil), book.Asks...)
		snapshot = &cp
	}
	w.partialMu.Unlock()

	if snapshot == nil {
		return
	}

	w.callbackMu.RLock()
	callback, ok := w.bookCallbacks[symbol]
	w.callbackMu.RUnlock()
	if ok && callback != nil {
		callback(snapshot)
	}
}

func (w *Wallex) Close() error {
	w.wsMu.Lock()
	defer w.wsMu.Unlock()

	if w.wsManager != nil {
		err := w.wsManager.Close()
		w.wsManager = nil
		return err
	}
	return nil
}
