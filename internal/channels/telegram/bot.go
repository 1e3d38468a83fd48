package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golnet1/majordomo-bridge/internal/audit"
	"github.com/golnet1/majordomo-bridge/internal/catalog"
	"github.com/golnet1/majordomo-bridge/internal/infrastructure/config"
	"github.com/golnet1/majordomo-bridge/internal/infrastructure/logging"
	"github.com/golnet1/majordomo-bridge/internal/router"
)

// pollRetryDelay spaces retries when getUpdates itself fails.
const pollRetryDelay = 5 * time.Second

// lightCategories is where /light looks first.
var lightCategories = []string{"свет", "освещение"}

// statusCategories is where /status looks first.
var statusCategories = []string{"свет", "освещение", "устройства", "климат"}

// Dispatcher is the router surface the bot needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent router.CommandIntent) router.CommandResult
}

// Bot serves chat commands and pushes failure notifications.
type Bot struct {
	client     *Client
	dispatcher Dispatcher
	logger     *logging.Logger

	password    string
	notifyChat  int64 // 0 when unset
	pollTimeout int

	mu         sync.Mutex
	authorized map[int64]struct{}
}

// New creates the bot from configuration.
func New(cfg config.TelegramConfig, dispatcher Dispatcher, logger *logging.Logger) *Bot {
	notifyChat, _ := strconv.ParseInt(cfg.ChatID, 10, 64)

	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30
	}

	return &Bot{
		client:      NewClient(cfg.Token),
		dispatcher:  dispatcher,
		logger:      logger.With("component", "telegram"),
		password:    cfg.AuthPassword,
		notifyChat:  notifyChat,
		pollTimeout: pollTimeout,
	}
}

// Run long-polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("telegram bot started")

	var offset int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		updates, err := b.client.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warn("polling updates", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollRetryDelay):
			}
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			if upd.Message == nil || upd.Message.Text == "" {
				continue
			}
			b.handleMessage(ctx, upd.Message)
		}
	}
}

// NotifyFailure implements audit.Notifier. Failed actions from any channel
// land in the operator chat.
func (b *Bot) NotifyFailure(rec audit.Record) {
	if b.notifyChat == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	text := fmt.Sprintf("🚨 Ошибка (%s): %s %s — %s", rec.Source, rec.Action, rec.Target, rec.Status)
	if err := b.client.SendMessage(ctx, b.notifyChat, text); err != nil {
		b.logger.Warn("sending failure notification", "error", err)
	}
}

// handleMessage routes one inbound command.
func (b *Bot) handleMessage(ctx context.Context, msg *Message) {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return
	}

	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	if cmd == "/auth" {
		b.reply(ctx, msg.Chat.ID, b.handleAuth(msg.Chat.ID, args))
		return
	}

	if !b.isAuthorized(msg.Chat.ID) {
		b.reply(ctx, msg.Chat.ID, "🔒 Сначала авторизуйтесь: /auth <пароль>")
		return
	}

	var response string
	switch cmd {
	case "/light":
		response = b.handleLight(ctx, msg, args)
	case "/status":
		response = b.handleStatus(ctx, msg, args)
	case "/script":
		response = b.handleScript(ctx, msg, args)
	default:
		response = "Команды: /light <место> <включи/выключи>, /status <место>, /script <имя>"
	}
	b.reply(ctx, msg.Chat.ID, response)
}

func (b *Bot) handleAuth(chatID int64, args []string) string {
	if len(args) == 0 {
		return "Использование: /auth <пароль>"
	}
	if b.password == "" || args[0] != b.password {
		return "❌ Неверный пароль"
	}

	b.mu.Lock()
	if b.authorized == nil {
		b.authorized = make(map[int64]struct{})
	}
	b.authorized[chatID] = struct{}{}
	b.mu.Unlock()

	return "✅ Авторизация успешна!"
}

func (b *Bot) isAuthorized(chatID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.authorized[chatID]
	return ok
}

func (b *Bot) handleLight(ctx context.Context, msg *Message, args []string) string {
	if len(args) < 2 {
		return "Использование: /light <место> <включи/выключи>"
	}

	place := strings.Join(args[:len(args)-1], " ")
	action := strings.ToLower(args[len(args)-1])

	value := "0"
	stateWord := "выключен"
	if action == "включи" || action == "on" || action == "1" {
		value = "1"
		stateWord = "включён"
	}

	res := b.dispatcher.Dispatch(ctx, router.CommandIntent{
		Channel:       "telegram",
		User:          userID(msg),
		Action:        router.ActionWrite,
		Target:        place,
		Value:         value,
		Kind:          catalog.KindRelay,
		CategoryHints: lightCategories,
	})

	switch res.Status {
	case router.StatusOK:
		return fmt.Sprintf("✅ Свет в %s %s", place, stateWord)
	case router.StatusAmbiguous:
		return "Уточните, пожалуйста: " + candidateList(res.Candidates)
	case router.StatusNotFound:
		return "Не найдено: " + place
	default:
		return "❌ Ошибка MajorDoMo"
	}
}

func (b *Bot) handleStatus(ctx context.Context, msg *Message, args []string) string {
	if len(args) == 0 {
		return "Использование: /status <место>"
	}

	place := strings.Join(args, " ")
	res := b.dispatcher.Dispatch(ctx, router.CommandIntent{
		Channel:       "telegram",
		User:          userID(msg),
		Action:        router.ActionRead,
		Target:        place,
		CategoryHints: statusCategories,
	})

	switch res.Status {
	case router.StatusOK:
		switch res.Response {
		case "1":
			return fmt.Sprintf("💡 %s: включено", place)
		case "0":
			return fmt.Sprintf("💡 %s: выключено", place)
		default:
			return fmt.Sprintf("🌡 %s: %s", place, res.Response)
		}
	case router.StatusAmbiguous:
		return "Уточните, пожалуйста: " + candidateList(res.Candidates)
	case router.StatusNotFound:
		return "Устройство не найдено"
	default:
		return "❌ Ошибка получения статуса"
	}
}

func (b *Bot) handleScript(ctx context.Context, msg *Message, args []string) string {
	if len(args) == 0 {
		return "Использование: /script <имя_сценария>"
	}

	name := strings.Join(args, " ")
	res := b.dispatcher.Dispatch(ctx, router.CommandIntent{
		Channel: "telegram",
		User:    userID(msg),
		Action:  router.ActionScript,
		Target:  name,
	})

	if res.Status == router.StatusOK {
		return fmt.Sprintf("✅ Сценарий %s запущен", name)
	}
	return "❌ Сценарий не запущен"
}

// reply sends a response, logging failures instead of surfacing them.
func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.client.SendMessage(ctx, chatID, text); err != nil {
		b.logger.Warn("sending reply", "error", err)
	}
}

// candidateList formats an ambiguity candidate set for the user.
func candidateList(candidates []router.Candidate) string {
	parts := make([]string, 0, len(candidates))
	for _, c := range candidates {
		parts = append(parts, fmt.Sprintf("%s (%s)", c.Alias, c.Category))
	}
	return strings.Join(parts, ", ")
}

// userID extracts the sender ID for the audit trail.
func userID(msg *Message) string {
	if msg.From == nil {
		return ""
	}
	return strconv.FormatInt(msg.From.ID, 10)
}
