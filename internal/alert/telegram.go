package alert

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantbyte/coinwatch/internal/portfolio"
	"github.com/quantbyte/coinwatch/internal/reconcile"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM ALERTS - Trade and integrity notifications
// ═══════════════════════════════════════════════════════════════════════════════
//
// Fire-and-forget notifications only. The notifier never blocks a trading
// decision: send failures are logged and dropped. With no token configured
// it degrades to a no-op so the rest of the daemon doesn't care whether
// Telegram is wired up.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Notifier sends alerts to a Telegram chat
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// New creates a notifier. An empty token yields a disabled notifier whose
// methods are no-ops.
func New(token string, chatID int64) (*Notifier, error) {
	if token == "" || chatID == 0 {
		log.Info().Msg("Telegram alerts disabled (no token/chat configured)")
		return &Notifier{}, nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram alerts enabled")
	return &Notifier{api: api, chatID: chatID}, nil
}

func (n *Notifier) enabled() bool {
	return n != nil && n.api != nil
}

// NotifyStartup announces the daemon coming up
func (n *Notifier) NotifyStartup(mode string, baseCapital decimal.Decimal, symbols []string) {
	if !n.enabled() {
		return
	}
	msg := fmt.Sprintf(`🚀 *COINWATCH STARTED*
━━━━━━━━━━━━━━━━━━━━

📊 Mode: *%s*
💰 Base Capital: *$%s*
📈 Markets: *%d*`,
		mode, baseCapital.StringFixed(2), len(symbols))
	n.sendMarkdown(msg)
}

// NotifyOpen sends an entry alert
func (n *Notifier) NotifyOpen(pos *portfolio.Position, stopLoss, takeProfit decimal.Decimal) {
	if !n.enabled() {
		return
	}

	emoji := "🟢"
	if pos.Side == portfolio.SideSell {
		emoji = "🔴"
	}

	msg := fmt.Sprintf(`%s *POSITION OPENED*

📊 *%s* — %s
━━━━━━━━━━━━━━━━
💵 Entry: *$%s*
📦 Size: *%s*
🎯 TP: *$%s*
🛑 SL: *$%s*`,
		emoji,
		pos.Symbol, pos.Side,
		pos.EntryPrice.StringFixed(2),
		pos.Size.StringFixed(4),
		takeProfit.StringFixed(2),
		stopLoss.StringFixed(2),
	)
	n.sendMarkdown(msg)
}

// NotifyExit sends a close alert, partial or full
func (n *Notifier) NotifyExit(pos *portfolio.Position, reason string, pnl decimal.Decimal, partial bool) {
	if !n.enabled() {
		return
	}

	emoji := "📈"
	if pnl.IsNegative() {
		emoji = "📉"
	}

	title := "POSITION CLOSED"
	if partial {
		title = "PARTIAL EXIT"
	}

	sign := "+"
	if pnl.IsNegative() {
		sign = ""
	}

	msg := fmt.Sprintf(`%s *%s*

📊 %s %s
💵 P&L: *%s$%s*
📝 %s`,
		emoji, title,
		pos.Symbol, pos.Side,
		sign, pnl.StringFixed(2),
		reason,
	)
	n.sendMarkdown(msg)
}

// NotifyReconciliation sends a summary when a run finds discrepancies
func (n *Notifier) NotifyReconciliation(report *reconcile.Report, assessment reconcile.Assessment) {
	if !n.enabled() || report.IsConsistent {
		return
	}

	emoji := "⚠️"
	if assessment.RiskLevel == reconcile.RiskCritical {
		emoji = "🚨"
	}

	msg := fmt.Sprintf(`%s *RECONCILIATION ALERT*
━━━━━━━━━━━━━━━━━━━━

🔍 Discrepancies: *%d*
📊 Risk Level: *%s*
💵 Total Impact: *$%s*`,
		emoji,
		len(report.Discrepancies),
		assessment.RiskLevel,
		report.TotalImpact().StringFixed(2),
	)

	if assessment.ShouldHaltTrading {
		msg += "\n\n🛑 *TRADING HALTED*"
	}

	n.sendMarkdown(msg)
}

// NotifyHalt sends a trading halt alert
func (n *Notifier) NotifyHalt(reason string) {
	if !n.enabled() {
		return
	}
	n.sendMarkdown(fmt.Sprintf("🛑 *TRADING HALTED*\n\n📝 %s", reason))
}

// NotifyError sends an error alert
func (n *Notifier) NotifyError(err error) {
	if !n.enabled() {
		return
	}
	n.sendMarkdown(fmt.Sprintf("⚠️ *ERROR*\n\n`%s`", err.Error()))
}

func (n *Notifier) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := n.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
