package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"crossarb/internal/models"
	"crossarb/pkg/ratelimit"
)

const (
	ramzinexPublicURL  = "https://publicapi.ramzinex.com/exchange/api/v1.0/exchange"
	ramzinexPrivateURL = "https://api.ramzinex.com/exchange/api/v1.0/exchange"
	ramzinexWSURL      = "wss://websocket.ramzinex.com/websocket"

	ramzinexName = "ramzinex"

	// Токен доступа живёт ограниченное время, обновляем заранее
	ramzinexTokenTTL = 10 * time.Minute
)

// Ramzinex реализует интерфейс Connector для биржи Ramzinex
//
// Аутентификация двухшаговая: api_key + secret обмениваются на
// bearer-токен, который кэшируется до истечения TTL.
// Большинство эндпоинтов адресуют пары числовым pair_id, маппинг
// символ -> id кэшируется после первого запроса /pairs.
// WebSocket использует протокол Centrifugo (connect/subscribe/push)
type Ramzinex struct {
	apiKey    string
	apiSecret string

	httpClient *http.Client
	limiter    *ratelimit.RateLimiter
	log        *zap.Logger

	// Кэш bearer-токена
	token       string
	tokenExpiry time.Time
	tokenMu     sync.Mutex

	// Кэш symbol -> pair_id
	pairIDs   map[string]int64
	pairIDsMu sync.RWMutex

	// WebSocket manager с автоматическим переподключением
	wsManager *WSReconnectManager
	health    HealthReporter
	wsMu      sync.Mutex
	wsMsgID   int64 // atomic, id сообщений протокола Centrifugo

	// Callbacks подписок: канал Centrifugo -> обработчик
	bookCallbacks map[string]func(*models.NormalizedOrderBook)
	callbackMu    sync.RWMutex
}

// NewRamzinex создает новый экземпляр Ramzinex
func NewRamzinex(apiKey, apiSecret string, limiter *ratelimit.RateLimiter, log *zap.Logger) *Ramzinex {
	return &Ramzinex{
		apiKey:        apiKey,
		apiSecret:     apiSecret,
		httpClient:    GetGlobalHTTPClient().GetClient(),
		limiter:       limiter,
		log:           log.Named(ramzinexName),
		pairIDs:       make(map[string]int64),
		bookCallbacks: make(map[string]func(*models.NormalizedOrderBook)),
	}
}

func (r *Ramzinex) Name() string {
	return ramzinexName
}

func (r *Ramzinex) allow() error {
	if r.limiter != nil && !r.limiter.Allow() {
		return ErrRateLimited
	}
	return nil
}

// doRequest выполняет HTTP запрос к Ramzinex API
// baseURL выбирается вызывающим: публичный или приватный контур
func (r *Ramzinex) doRequest(ctx context.Context, method, baseURL, endpoint string, body map[string]interface{}, token string) ([]byte, error) {
	if err := r.allow(); err != nil {
		return nil, err
	}

	var reqBody string
	if len(body) > 0 {
		jsonBytes, err := jsonCodec.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = string(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+endpoint, strings.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization2", "Bearer "+token)
		req.Header.Set("x-api-key", r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, NewConnectorError(ramzinexName, "network", err.Error(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewConnectorError(ramzinexName, "network", err.Error(), err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}

	// Ramzinex возвращает status: 0 при успехе
	var baseResp struct {
		Status int `json:"status"`
	}
	if err := jsonCodec.Unmarshal(respBody, &baseResp); err != nil {
		return nil, NewConnectorError(ramzinexName, strconv.Itoa(resp.StatusCode), "invalid JSON", ErrMalformedResponse)
	}

	if baseResp.Status != 0 {
		return nil, NewConnectorError(ramzinexName, strconv.Itoa(baseResp.Status), "api error", nil)
	}

	return respBody, nil
}

// authenticate обменивает api_key + secret на bearer-токен.
// Токен кэшируется, повторный обмен только после истечения TTL
func (r *Ramzinex) authenticate(ctx context.Context) (string, error) {
	r.tokenMu.Lock()
	defer r.tokenMu.Unlock()

	if r.token != "" && time.Now().Before(r.tokenExpiry) {
		return r.token, nil
	}

	body, err := r.doRequest(ctx, http.MethodPost, ramzinexPrivateURL, "/auth/api_key/getToken", map[string]interface{}{
		"api_key": r.apiKey,
		"secret":  r.apiSecret,
	}, "")
	if err != nil {
		return "", fmt.Errorf("ramzinex auth: %w", err)
	}

	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := jsonCodec.Unmarshal(body, &resp); err != nil {
		return "", NewConnectorError(ramzinexName, "decode", err.Error(), ErrMalformedResponse)
	}
	if resp.Data.Token == "" {
		return "", NewConnectorError(ramzinexName, "auth", "empty token", nil)
	}

	r.token = resp.Data.Token
	r.tokenExpiry = time.Now().Add(ramzinexTokenTTL)
	return r.token, nil
}

// ramzinexPair - данные пары из /pairs
type ramzinexPair struct {
	ID            int64       `json:"id"`
	Symbol        string      `json:"symbol"`
	LastPrice     json.Number `json:"last_price"`
	Buy           json.Number `json:"buy"`
	Sell          json.Number `json:"sell"`
	BaseVolume    json.Number `json:"base_volume"`
	High          json.Number `json:"high"`
	Low           json.Number `json:"low"`
	ChangePercent json.Number `json:"change_percent"`
}

// pairID возвращает числовой id пары, при необходимости загружая
// справочник /pairs
func (r *Ramzinex) pairID(ctx context.Context, pair string) (int64, error) {
	symbol := strings.ToUpper(pair)

	r.pairIDsMu.RLock()
	id, ok := r.pairIDs[symbol]
	r.pairIDsMu.RUnlock()
	if ok {
		return id, nil
	}

	body, err := r.doRequest(ctx, http.MethodGet, ramzinexPublicURL, "/pairs", nil, "")
	if err != nil {
		return 0, err
	}

	var resp struct {
		Data struct {
			Pairs []ramzinexPair `json:"pairs"`
		} `json:"data"`
	}
	if err := jsonCodec.Unmarshal(body, &resp); err != nil {
		return 0, NewConnectorError(ramzinexName, "decode", err.Error(), ErrMalformedResponse)
	}

	r.pairIDsMu.Lock()
	for _, p := range resp.Data.Pairs {
		r.pairIDs[strings.ToUpper(p.Symbol)] = p.ID
	}
	id, ok = r.pairIDs[symbol]
	r.pairIDsMu.Unlock()

	if !ok {
		return 0, NewConnectorError(ramzinexName, "not_found", fmt.Sprintf("pair %s not found", pair), nil)
	}
	return id, nil
}

func (r *Ramzinex) GetTicker(ctx context.Context, pair string) (*models.NormalizedTicker, error) {
	id, err := r.pairID(ctx, pair)
	if err != nil {
		return nil, err
	}

	body, err := r.doRequest(ctx, http.MethodGet, ramzinexPublicURL, "/pairs/"+strconv.FormatInt(id, 10), nil, "")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			Pair ramzinexPair `json:"pair"`
		} `json:"data"`
	}
	if err := jsonCodec.Unmarshal(body, &resp); err != nil {
		return nil, NewConnectorError(ramzinexName, "decode", err.Error(), ErrMalformedResponse)
	}

	p := resp.Data.Pair
	return &models.NormalizedTicker{
		Exchange:  ramzinexName,
		Pair:      strings.ToUpper(pair),
		LastPrice: parseDecimal(p.LastPrice),
		// buy - лучшая цена покупателя (bid), sell - продавца (ask)
		BidPrice:  parseDecimal(p.Buy),
		AskPrice:  parseDecimal(p.Sell),
		Volume24h: parseDecimal(p.BaseVolume),
		High24h:   parseDecimal(p.High),
		Low24h:    parseDecimal(p.Low),
		Change24h: parseDecimal(p.ChangePercent),
		Timestamp: time.Now().UTC(),
	}, nil
}

func (r *Ramzinex) GetOrderBook(ctx context.Context, pair string, depth int) (*models.NormalizedOrderBook, error) {
	id, err := r.pairID(ctx, pair)
	if err != nil {
		return nil, err
	}

	body, err := r.doRequest(ctx, http.MethodGet, ramzinexPublicURL,
		fmt.Sprintf("/orderbooks/%d/buys_sells", id), nil, "")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			Buys  [][]json.Number `json:"buys"`
			Sells [][]json.Number `json:"sells"`
		} `json:"data"`
	}
	if err := jsonCodec.Unmarshal(body, &resp); err != nil {
		return nil, NewConnectorError(ramzinexName, "decode", err.Error(), ErrMalformedResponse)
	}

	return r.parseOrderBook(strings.ToUpper(pair), resp.Data.Buys, resp.Data.Sells, depth), nil
}

// parseOrderBook строит нормализованный стакан из сырых уровней
// buys (bid) и sells (ask) в формате [price, amount, ...]
func (r *Ramzinex) parseOrderBook(symbol string, buys, sells [][]json.Number, depth int) *models.NormalizedOrderBook {
	book := &models.NormalizedOrderBook{
		Exchange:  ramzinexName,
		Pair:      symbol,
		Timestamp: time.Now().UTC(),
	}

	for i, buy := range buys {
		if (depth > 0 && i >= depth) || len(buy) < 2 {
			break
		}
		book.Bids = append(book.Bids, models.OrderBookLevel{
			Side:     models.BookSideBid,
			Price:    parseDecimal(buy[0]),
			Quantity: parseDecimal(buy[1]),
			Rank:     i,
		})
	}

	for i, sell := range sells {
		if (depth > 0 && i >= depth) || len(sell) < 2 {
			break
		}
		book.Asks = append(book.Asks, models.OrderBookLevel{
			Side:     models.BookSideAsk,
			Price:    parseDecimal(sell[0]),
			Quantity: parseDecimal(sell[1]),
			Rank:     i,
		})
	}

	return book
}

func (r *Ramzinex) GetBalances(ctx context.Context) (map[string]models.Balance, error) {
	token, err := r.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	body, err := r.doRequest(ctx, http.MethodGet, ramzinexPrivateURL, "/users/me/funds/summaryDesktop", nil, token)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			Currency struct {
				Symbol string `json:"symbol"`
			} `json:"currency"`
			Balance json.Number `json:"balance"`
			Locked  json.Number `json:"locked"`
		} `json:"data"`
	}
	if err := jsonCodec.Unmarshal(body, &resp); err != nil {
		return nil, NewConnectorError(ramzinexName, "decode", err.Error(), ErrMalformedResponse)
	}

	balances := make(map[string]models.Balance, len(resp.Data))
	for _, fund := range resp.Data {
		if fund.Currency.Symbol == "" {
			continue
		}
		currency := strings.ToUpper(fund.Currency.Symbol)
		balances[currency] = models.Balance{
			Currency:  currency,
			Available: parseDecimal(fund.Balance),
			Locked:    parseDecimal(fund.Locked),
		}
	}

	return balances, nil
}

func (r *Ramzinex) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	token, err := r.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	id, err := r.pairID(ctx, req.Pair)
	if err != nil {
		return nil, err
	}

	orderData := map[string]interface{}{
		"pair_id": id,
		"amount":  req.Amount.String(),
		"type":    req.Side,
	}

	endpoint := "/users/me/orders/market"
	if req.Type == OrderTypeLimit {
		orderData["price"] = req.Price.String()
		endpoint = "/users/me/orders/limit"
	}

	body, err := r.doRequest(ctx, http.MethodPost, ramzinexPrivateURL, endpoint, orderData, token)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			OrderID int64 `json:"order_id"`
		} `json:"data"`
	}
	if err := jsonCodec.Unmarshal(body, &resp); err != nil {
		return nil, NewConnectorError(ramzinexName, "decode", err.Error(), ErrMalformedResponse)
	}

	now := time.Now().UTC()
	return &Order{
		ID:        strconv.FormatInt(resp.Data.OrderID, 10),
		Pair:      strings.ToUpper(req.Pair),
		Side:      req.Side,
		Type:      req.Type,
		Amount:    req.Amount,
		Price:     req.Price,
		Status:    OrderStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (r *Ramzinex) CancelOrder(ctx context.Context, orderID, pair string) error {
	token, err := r.authenticate(ctx)
	if err != nil {
		return err
	}

	_, err = r.doRequest(ctx, http.MethodPost, ramzinexPrivateURL,
		"/users/me/orders/"+orderID+"/cancel", nil, token)
	return err
}

func (r *Ramzinex) GetOrderStatus(ctx context.Context, orderID, pair string) (*Order, error) {
	token, err := r.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	body, err := r.doRequest(ctx, http.MethodGet, ramzinexPrivateURL,
		"/users/me/orders/"+orderID, nil, token)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			Order struct {
				ID           int64       `json:"id"`
				Status       int         `json:"status"`
				Price        json.Number `json:"price"`
				Amount       json.Number `json:"amount"`
				FilledAmount json.Number `json:"filled_amount"`
				FilledPrice  json.Number `json:"filled_price"`
				Fee          json.Number `json:"fee"`
			} `json:"order"`
		} `json:"data"`
	}
	if err := jsonCodec.Unmarshal(body, &resp); err != nil {
		return nil, NewConnectorError(ramzinexName, "decode", err.Error(), ErrMalformedResponse)
	}
	if resp.Data.Order.ID == 0 {
		return nil, ErrOrderNotFound
	}

	o := resp.Data.Order
	return &Order{
		ID:           strconv.FormatInt(o.ID, 10),
		Pair:         strings.ToUpper(pair),
		Amount:       parseDecimal(o.Amount),
		Price:        parseDecimal(o.Price),
		FilledAmount: parseDecimal(o.FilledAmount),
		AvgFillPrice: parseDecimal(o.FilledPrice),
		Fee:          parseDecimal(o.Fee),
		Status:       ramzinexOrderStatus(o.Status),
		UpdatedAt:    time.Now().UTC(),
	}, nil
}

// ramzinexOrderStatus нормализует числовой статус ордера Ramzinex
// 1 - открыт, 2 - отменён, 3 - исполнен, 4 - частично исполнен
func ramzinexOrderStatus(status int) string {
	switch status {
	case 1:
		return OrderStatusOpen
	case 2:
		return OrderStatusCancelled
	case 3:
		return OrderStatusFilled
	case 4:
		return OrderStatusPartial
	default:
		return OrderStatusRejected
	}
}

// ============ WebSocket (протокол Centrifugo) ============

func (r *Ramzinex) SupportsStreaming() bool {
	return true
}

func (r *Ramzinex) nextMsgID() int64 {
	return atomic.AddInt64(&r.wsMsgID, 1)
}

// SetHealthReporter подключает получателя событий WebSocket-транспорта.
// Вызывается до первой подписки
func (r *Ramzinex) SetHealthReporter(reporter HealthReporter) {
	r.wsMu.Lock()
	r.health = reporter
	r.wsMu.Unlock()
}

// ensureWS создаёт и подключает WSReconnectManager при первой подписке
func (r *Ramzinex) ensureWS() error {
	r.wsMu.Lock()
	defer r.wsMu.Unlock()

	if r.wsManager != nil {
		return nil
	}

	health := r.health
	manager := NewWSReconnectManager(ramzinexName, ramzinexWSURL, DefaultWSReconnectConfig(), r.log)
	manager.SetOnMessage(r.handleWSMessage)
	manager.SetOnConnect(func() {
		if health != nil {
			health.MarkConnected(ramzinexName)
		}
	})
	manager.SetOnDisconnect(func(err error) {
		if health != nil {
			health.MarkDisconnected(ramzinexName, err)
		}
	})

	// Протокол Centrifugo требует connect-сообщение первым кадром,
	// регистрируем его подпиской: так оно уйдёт и после переподключения
	manager.AddSubscription(map[string]interface{}{
		"connect": map[string]string{"name": "go"},
		"id":      r.nextMsgID(),
	})

	if err := manager.Connect(); err != nil {
		return fmt.Errorf("failed to connect to Ramzinex WebSocket: %w", err)
	}

	r.wsManager = manager
	return nil
}

// SubscribeTicker у Ramzinex нет отдельного тикер-канала, тикер
// обновляется REST-поллингом, стримится только стакан
func (r *Ramzinex) SubscribeTicker(pair string, callback func(*models.NormalizedTicker)) error {
	return ErrStreamingUnsupported
}

func (r *Ramzinex) SubscribeOrderBook(pair string, callback func(*models.NormalizedOrderBook)) error {
	if err := r.ensureWS(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id, err := r.pairID(ctx, pair)
	if err != nil {
		return err
	}

	channel := fmt.Sprintf("orderbook:%d", id)

	r.callbackMu.Lock()
	r.bookCallbacks[channel] = callback
	r.callbackMu.Unlock()

	subMsg := map[string]interface{}{
		"subscribe": map[string]string{"channel": channel},
		"id":        r.nextMsgID(),
	}
	r.wsManager.AddSubscription(subMsg)
	return r.wsManager.Send(subMsg)
}

// handleWSMessage обрабатывает push-сообщение протокола Centrifugo
func (r *Ramzinex) handleWSMessage(message []byte) {
	var msg struct {
		Push struct {
			Channel string `json:"channel"`
			Pub     struct {
				Data json.RawMessage `json:"data"`
			} `json:"pub"`
		} `json:"push"`
	}

	if err := jsonCodec.Unmarshal(message, &msg); err != nil {
		return
	}
	if msg.Push.Channel == "" {
		return
	}

	r.callbackMu.RLock()
	callback, ok := r.bookCallbacks[msg.Push.Channel]
	r.callbackMu.RUnlock()
	if !ok || callback == nil {
		return
	}

	var payload struct {
		Buys  [][]json.Number `json:"buys"`
		Sells [][]json.Number `json:"sells"`
	}
	if err := jsonCodec.Unmarshal(msg.Push.Pub.Data, &payload); err != nil {
		return
	}

	// Символ пары восстанавливаем из кэша по id канала
	symbol := r.symbolForChannel(msg.Push.Channel)
	if symbol == "" {
		return
	}

	callback(r.parseOrderBook(symbol, payload.Buys, payload.Sells, 0))
}

// symbolForChannel обратный поиск symbol по каналу orderbook:{pair_id}
func (r *Ramzinex) symbolForChannel(channel string) string {
	idStr := strings.TrimPrefix(channel, "orderbook:")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return ""
	}

	r.pairIDsMu.RLock()
	defer r.pairIDsMu.RUnlock()
	for symbol, pairID := range r.pairIDs {
		if pairID == id {
			return symbol
		}
	}
	return ""
}

func (r *Ramzinex) Close() error {
	r.wsMu.Lock()
	defer r.wsMu.Unlock()

	if r.wsManager != nil {
		err := r.wsManager.Close()
		r.wsManager = nil
		return err
	}
	return nil
}
