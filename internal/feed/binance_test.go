package feed

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleMessageTrade(t *testing.T) {
	c := NewClient("wss://example", "https://example", []string{"BTCUSDT"})

	var got Tick
	c.SetTickCallback(func(tick Tick) { got = tick })

	msg := []byte(`{"stream":"btcusdt@trade","data":{"e":"trade","s":"BTCUSDT","p":"50123.45","q":"0.002","T":1756400000000}}`)
	c.handleMessage(msg)

	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.True(t, got.Price.Equal(decimal.NewFromFloat(50123.45)))
	assert.True(t, c.GetPrice("BTCUSDT").Equal(decimal.NewFromFloat(50123.45)))

	history := c.PriceHistory("BTCUSDT")
	require.Len(t, history, 1)
	assert.InDelta(t, 50123.45, history[0], 0.001)
}

func TestHandleMessageIgnoresGarbage(t *testing.T) {
	c := NewClient("wss://example", "https://example", []string{"BTCUSDT"})

	called := false
	c.SetTickCallback(func(Tick) { called = true })

	c.handleMessage([]byte(`not json`))
	c.handleMessage([]byte(`{"stream":"x","data":{"e":"kline","s":"BTCUSDT"}}`))
	c.handleMessage([]byte(`{"stream":"x","data":{"e":"trade","s":"BTCUSDT","p":"0","q":"1","T":1}}`))
	c.handleMessage([]byte(`{"stream":"x","data":{"e":"trade","s":"BTCUSDT","p":"-5","q":"1","T":1}}`))

	assert.False(t, called)
	assert.Empty(t, c.PriceHistory("BTCUSDT"))
}

func TestRecordFoldsCandles(t *testing.T) {
	c := NewClient("wss://example", "https://example", []string{"BTCUSDT"})

	base := time.Date(2026, 8, 1, 12, 0, 10, 0, time.UTC)
	c.record(Tick{Symbol: "BTCUSDT", Price: decimal.NewFromInt(100), Timestamp: base})
	c.record(Tick{Symbol: "BTCUSDT", Price: decimal.NewFromInt(105), Timestamp: base.Add(20 * time.Second)})
	c.record(Tick{Symbol: "BTCUSDT", Price: decimal.NewFromInt(95), Timestamp: base.Add(40 * time.Second)})

	c.mu.RLock()
	candles := c.candles["BTCUSDT"]
	c.mu.RUnlock()

	require.Len(t, candles, 1, "same minute folds into one candle")
	assert.Equal(t, 100.0, candles[0].Open)
	assert.Equal(t, 105.0, candles[0].High)
	assert.Equal(t, 95.0, candles[0].Low)
	assert.Equal(t, 95.0, candles[0].Close)

	// next minute opens a new candle
	c.record(Tick{Symbol: "BTCUSDT", Price: decimal.NewFromInt(96), Timestamp: base.Add(time.Minute)})

	c.mu.RLock()
	candles = c.candles["BTCUSDT"]
	c.mu.RUnlock()
	require.Len(t, candles, 2)
	assert.Equal(t, 96.0, candles[1].Open)
}

func TestPriceHistoryIsCapped(t *testing.T) {
	c := NewClient("wss://example", "https://example", []string{"BTCUSDT"})

	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < maxPriceHistory+50; i++ {
		c.record(Tick{Symbol: "BTCUSDT", Price: decimal.NewFromInt(int64(i + 1)), Timestamp: ts})
	}

	history := c.PriceHistory("BTCUSDT")
	assert.Len(t, history, maxPriceHistory)
	assert.Equal(t, float64(maxPriceHistory+50), history[len(history)-1], "newest entries survive")
}

func TestATRNeedsCandles(t *testing.T) {
	c := NewClient("wss://example", "https://example", []string{"BTCUSDT"})
	assert.Equal(t, 0.0, c.ATR("BTCUSDT", 14))
}

func TestParseKlineField(t *testing.T) {
	v, err := parseKlineField("123.5")
	require.NoError(t, err)
	assert.Equal(t, 123.5, v)

	_, err = parseKlineField(123.5)
	assert.Error(t, err, "kline prices arrive as strings")

	_, err = parseKlineField("abc")
	assert.Error(t, err)
}
