package predictor

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantbyte/coinwatch/internal/feed"
	"github.com/quantbyte/coinwatch/internal/indicators"
	"github.com/quantbyte/coinwatch/internal/portfolio"
)

// Predictor converts indicator state into prediction signals.
// READ-ONLY component: it only generates signals. Entry decisions and
// execution belong to the session, which treats the numbers produced here
// as an opaque upstream input.
type Predictor struct {
	feed    *feed.Client
	symbols []string
	horizon time.Duration

	onSignal func(Signal)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// Signal pairs a prediction with the market it applies to
type Signal struct {
	Symbol     string
	Price      decimal.Decimal
	Prediction portfolio.Prediction
	Timestamp  time.Time
}

// New creates a predictor over the given feed
func New(f *feed.Client, symbols []string, horizon time.Duration) *Predictor {
	return &Predictor{
		feed:    f,
		symbols: symbols,
		horizon: horizon,
		stopCh:  make(chan struct{}),
	}
}

// SetSignalCallback sets the callback for new signals
func (p *Predictor) SetSignalCallback(cb func(Signal)) {
	p.onSignal = cb
}

// Start begins the prediction loop
func (p *Predictor) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.loop()
	log.Info().Strs("symbols", p.symbols).Msg("🧠 Predictor started")
}

// Stop stops the predictor
func (p *Predictor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.stopCh)
}

func (p *Predictor) loop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.scan()
		}
	}
}

func (p *Predictor) scan() {
	for _, symbol := range p.symbols {
		prices := p.feed.PriceHistory(symbol)
		if len(prices) < 30 {
			continue
		}

		pred := Evaluate(prices, p.horizon)
		if pred.Direction == portfolio.DirectionSkip {
			continue
		}

		signal := Signal{
			Symbol:     symbol,
			Price:      p.feed.GetPrice(symbol),
			Prediction: pred,
			Timestamp:  time.Now(),
		}

		log.Debug().
			Str("symbol", symbol).
			Str("direction", string(pred.Direction)).
			Float64("confidence", pred.Confidence).
			Float64("expected_return", pred.ExpectedReturn).
			Msg("Signal generated")

		if p.onSignal != nil {
			p.onSignal(signal)
		}
	}
}

// Evaluate scores a price series into a prediction. Pure function, no
// market access.
func Evaluate(prices []float64, horizon time.Duration) portfolio.Prediction {
	momentum := indicators.MomentumScore(prices, 60)
	rsi := indicators.RSI(prices, 14)
	rsiScore := indicators.RSIScore(rsi)
	trend := indicators.TrendStrength(prices, 30) * 0.2

	score := momentum + rsiScore + trend

	// Chop filter: weak composite score means no tradable edge
	if score > -15 && score < 15 {
		return portfolio.Prediction{Direction: portfolio.DirectionSkip}
	}

	direction := portfolio.DirectionUp
	if score < 0 {
		direction = portfolio.DirectionDown
	}

	confidence := score
	if confidence < 0 {
		confidence = -confidence
	}
	confidence *= 1.5
	if confidence > 100 {
		confidence = 100
	}

	expectedReturn := indicators.Momentum(prices, 60)
	if expectedReturn > 5 {
		expectedReturn = 5
	} else if expectedReturn < -5 {
		expectedReturn = -5
	}

	// Volatility relative to price, scaled to 0-100
	riskScore := 0.0
	if last := prices[len(prices)-1]; last > 0 {
		riskScore = indicators.Volatility(prices) / last * 100 * 20
		if riskScore > 100 {
			riskScore = 100
		}
	}

	return portfolio.Prediction{
		Direction:      direction,
		Confidence:     confidence,
		ExpectedReturn: expectedReturn,
		RiskScore:      riskScore,
		TimeHorizon:    horizon,
	}
}
