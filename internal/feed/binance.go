package feed

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantbyte/coinwatch/internal/indicators"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BINANCE FEED - Real-time trade stream + candle history
// ═══════════════════════════════════════════════════════════════════════════════
//
// One combined-stream WebSocket connection for all configured symbols.
// Trades are folded into one-minute candles so the lifecycle manager gets an
// ATR reading alongside every price tick.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	maxPriceHistory = 1000
	maxCandles      = 120
)

// Tick is a single trade from the stream
type Tick struct {
	Symbol    string
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Timestamp time.Time
}

// Candle is a one-minute OHLC bar
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
}

// Client streams Binance trades for a set of symbols
type Client struct {
	wsURL   string
	restURL string
	symbols []string
	conn    *websocket.Conn

	mu      sync.RWMutex
	prices  map[string]decimal.Decimal
	history map[string][]float64
	candles map[string][]Candle

	onTick func(Tick)

	running bool
	stopCh  chan struct{}
}

// NewClient creates a feed client for the given symbols (e.g. BTCUSDT)
func NewClient(wsURL, restURL string, symbols []string) *Client {
	return &Client{
		wsURL:   wsURL,
		restURL: restURL,
		symbols: symbols,
		prices:  make(map[string]decimal.Decimal),
		history: make(map[string][]float64),
		candles: make(map[string][]Candle),
		stopCh:  make(chan struct{}),
	}
}

// SetTickCallback sets the callback invoked on every trade
func (c *Client) SetTickCallback(cb func(Tick)) {
	c.onTick = cb
}

// Start bootstraps candle history over REST and begins streaming
func (c *Client) Start() error {
	c.running = true

	for _, symbol := range c.symbols {
		if err := c.fetchKlines(symbol); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to bootstrap candles, continuing anyway")
		}
	}

	go c.runWebSocket()

	log.Info().Strs("symbols", c.symbols).Msg("📈 Binance feed started")
	return nil
}

// Stop closes the stream
func (c *Client) Stop() {
	c.running = false
	close(c.stopCh)
	if c.conn != nil {
		c.conn.Close()
	}
}

// GetPrice returns the latest trade price for a symbol
func (c *Client) GetPrice(symbol string) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prices[symbol]
}

// PriceHistory returns a copy of recent trade prices for a symbol
func (c *Client) PriceHistory(symbol string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	history := c.history[symbol]
	out := make([]float64, len(history))
	copy(out, history)
	return out
}

// ATR returns the Average True Range over the symbol's candle history.
// Zero until enough candles have accumulated.
func (c *Client) ATR(symbol string, period int) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	candles := c.candles[symbol]
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, k := range candles {
		highs[i] = k.High
		lows[i] = k.Low
		closes[i] = k.Close
	}
	return indicators.ATR(highs, lows, closes, period)
}

func (c *Client) runWebSocket() {
	for c.running {
		if err := c.connect(); err != nil {
			log.Error().Err(err).Msg("WebSocket connection failed")
			select {
			case <-c.stopCh:
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		c.readMessages()

		if c.running {
			log.Warn().Msg("WebSocket disconnected, reconnecting...")
			time.Sleep(time.Second)
		}
	}
}

func (c *Client) connect() error {
	streams := make([]string, len(c.symbols))
	for i, s := range c.symbols {
		streams[i] = strings.ToLower(s) + "@trade"
	}
	url := fmt.Sprintf("%s/stream?streams=%s", c.wsURL, strings.Join(streams, "/"))

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	c.conn = conn
	log.Info().Str("url", url).Msg("🔌 WebSocket connected to Binance")
	return nil
}

func (c *Client) readMessages() {
	for c.running {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if c.running {
				log.Error().Err(err).Msg("WebSocket read error")
			}
			return
		}
		c.handleMessage(message)
	}
}

// streamMessage is the combined-stream envelope
type streamMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Price     string `json:"p"`
		Quantity  string `json:"q"`
		TradeTime int64  `json:"T"`
	} `json:"data"`
}

func (c *Client) handleMessage(data []byte) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Data.EventType != "trade" {
		return
	}

	price, err := decimal.NewFromString(msg.Data.Price)
	if err != nil || price.LessThanOrEqual(decimal.Zero) {
		return
	}
	qty, _ := decimal.NewFromString(msg.Data.Quantity)

	tick := Tick{
		Symbol:    msg.Data.Symbol,
		Price:     price,
		Quantity:  qty,
		Timestamp: time.UnixMilli(msg.Data.TradeTime),
	}

	c.record(tick)

	if c.onTick != nil {
		c.onTick(tick)
	}
}

// record stores the tick in the price buffer and folds it into the
// current one-minute candle
func (c *Client) record(tick Tick) {
	f, _ := tick.Price.Float64()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.prices[tick.Symbol] = tick.Price

	history := append(c.history[tick.Symbol], f)
	if len(history) > maxPriceHistory {
		history = history[len(history)-maxPriceHistory:]
	}
	c.history[tick.Symbol] = history

	minute := tick.Timestamp.Truncate(time.Minute)
	candles := c.candles[tick.Symbol]
	if n := len(candles); n > 0 && candles[n-1].OpenTime.Equal(minute) {
		k := &candles[n-1]
		if f > k.High {
			k.High = f
		}
		if f < k.Low {
			k.Low = f
		}
		k.Close = f
	} else {
		candles = append(candles, Candle{OpenTime: minute, Open: f, High: f, Low: f, Close: f})
		if len(candles) > maxCandles {
			candles = candles[len(candles)-maxCandles:]
		}
	}
	c.candles[tick.Symbol] = candles
}

// fetchKlines seeds candle history from the REST API so ATR is available
// before the stream has run for long
func (c *Client) fetchKlines(symbol string) error {
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=1m&limit=%d", c.restURL, symbol, maxCandles)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("kline request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kline request returned %d", resp.StatusCode)
	}

	var raw [][]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode klines: %w", err)
	}

	candles := make([]Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 5 {
			continue
		}
		openTime, ok := k[0].(float64)
		if !ok {
			continue
		}
		candle := Candle{OpenTime: time.UnixMilli(int64(openTime)).Truncate(time.Minute)}
		if candle.Open, err = parseKlineField(k[1]); err != nil {
			continue
		}
		if candle.High, err = parseKlineField(k[2]); err != nil {
			continue
		}
		if candle.Low, err = parseKlineField(k[3]); err != nil {
			continue
		}
		if candle.Close, err = parseKlineField(k[4]); err != nil {
			continue
		}
		candles = append(candles, candle)
	}

	c.mu.Lock()
	c.candles[symbol] = candles
	c.mu.Unlock()

	log.Debug().Str("symbol", symbol).Int("candles", len(candles)).Msg("Candle history bootstrapped")
	return nil
}

func parseKlineField(v any) (float64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected kline field type %T", v)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}
