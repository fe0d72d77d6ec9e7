package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"coinsentry/internal/config"
	"coinsentry/internal/logger"
)

// Notifier delivers human-readable trade events. Send failures are logged and
// never surface to trading logic.
type Notifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	enabled bool
	logger  *logger.Logger
}

func NewNotifier(cfg *config.Config, log *logger.Logger) *Notifier {
	if !cfg.Telegram.Enabled {
		return &Notifier{enabled: false, logger: log}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		log.Error("failed to create telegram bot", "error", err)
		return &Notifier{enabled: false, logger: log}
	}

	log.Info("telegram bot connected", "username", bot.Self.UserName)

	return &Notifier{
		bot:     bot,
		chatID:  cfg.Telegram.ChatID,
		enabled: true,
		logger:  log,
	}
}

func (n *Notifier) NotifyEntry(market string, price, quantity, score float64) {
	msg := fmt.Sprintf("🟢 *ENTRY* %s\nPrice: %.0f KRW\nQty: %.8f\nScore: %.0f",
		market, price, quantity, score)
	n.send(msg)
}

func (n *Notifier) NotifyExit(market string, reason string, price, pnl, pnlPct float64) {
	emoji := "🔴"
	if pnl > 0 {
		emoji = "💰"
	}
	msg := fmt.Sprintf("%s *EXIT* %s (%s)\nPrice: %.0f KRW\nP&L: %.0f KRW (%+.2f%%)",
		emoji, market, reason, price, pnl, pnlPct)
	n.send(msg)
}

func (n *Notifier) NotifyBreakerTripped(reason string) {
	n.send(fmt.Sprintf("⛔️ *Circuit breaker tripped*\n%s", reason))
}

func (n *Notifier) NotifySuspension(pattern string, until string) {
	n.send(fmt.Sprintf("🚫 *Pattern suspended* %s\nUntil: %s", pattern, until))
}

func (n *Notifier) NotifyAbandoned(market string, attempts int) {
	n.send(fmt.Sprintf("⚠️ *Position abandoned* %s\nClose attempts exhausted (%d). Operator action may be required.",
		market, attempts))
}

func (n *Notifier) Notify(title, body string) {
	n.send(fmt.Sprintf("*%s*\n%s", title, body))
}

func (n *Notifier) Warn(title, body string) {
	n.send(fmt.Sprintf("⚠️ *%s*\n%s", title, body))
}

func (n *Notifier) NotifyError(context string, err error) {
	n.send(fmt.Sprintf("⚠️ *Error* [%s]\n%v", context, err))
}

func (n *Notifier) send(text string) {
	if !n.enabled {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("send telegram message", "error", err)
	}
}
