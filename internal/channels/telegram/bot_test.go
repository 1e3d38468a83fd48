package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/golnet1/majordomo-bridge/internal/audit"
	"github.com/golnet1/majordomo-bridge/internal/catalog"
	"github.com/golnet1/majordomo-bridge/internal/infrastructure/logging"
	"github.com/golnet1/majordomo-bridge/internal/router"
)

// fakeAPI captures sendMessage calls.
type fakeAPI struct {
	mu   sync.Mutex
	sent []string // "chat_id: text"
}

func (f *fakeAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/bottest-token/sendMessage":
			f.mu.Lock()
			f.sent = append(f.sent, r.URL.Query().Get("chat_id")+": "+r.URL.Query().Get("text"))
			f.mu.Unlock()
			w.Write([]byte(`{"ok":true,"result":{}}`))
		case r.URL.Path == "/bottest-token/getUpdates":
			w.Write([]byte(`{"ok":true,"result":[]}`))
		default:
			w.Write([]byte(`{"ok":false,"description":"unknown method"}`))
		}
	})
}

func (f *fakeAPI) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type mockDispatcher struct {
	mu      sync.Mutex
	intents []router.CommandIntent
	result  router.CommandResult
}

func (m *mockDispatcher) Dispatch(_ context.Context, intent router.CommandIntent) router.CommandResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents = append(m.intents, intent)
	res := m.result
	if res.Status == "" {
		res.Status = router.StatusOK
	}
	return res
}

func (m *mockDispatcher) dispatched() []router.CommandIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]router.CommandIntent(nil), m.intents...)
}

func newTestBot(t *testing.T, disp Dispatcher) (*Bot, *fakeAPI) {
	t.Helper()

	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	bot := &Bot{
		client:      newClientWithBase(srv.URL, "test-token"),
		dispatcher:  disp,
		logger:      logging.Default(),
		password:    "secret123",
		notifyChat:  777,
		pollTimeout: 1,
	}
	return bot, api
}

func message(chatID int64, text string) *Message {
	return &Message{
		From: &User{ID: 42},
		Chat: Chat{ID: chatID},
		Text: text,
	}
}

func authorize(t *testing.T, bot *Bot, api *fakeAPI, chatID int64) {
	t.Helper()
	bot.handleMessage(context.Background(), message(chatID, "/auth secret123"))
	msgs := api.messages()
	want := strconv.FormatInt(chatID, 10) + ": ✅ Авторизация успешна!"
	if len(msgs) == 0 || msgs[len(msgs)-1] != want {
		t.Fatalf("auth failed: %v", msgs)
	}
}

func TestAuthRequired(t *testing.T) {
	disp := &mockDispatcher{}
	bot, api := newTestBot(t, disp)

	bot.handleMessage(context.Background(), message(1, "/light улица включи"))

	msgs := api.messages()
	if len(msgs) != 1 || msgs[0] != "1: 🔒 Сначала авторизуйтесь: /auth <пароль>" {
		t.Fatalf("unexpected replies: %v", msgs)
	}
	if len(disp.dispatched()) != 0 {
		t.Error("command dispatched without authorization")
	}
}

func TestAuthWrongPassword(t *testing.T) {
	bot, api := newTestBot(t, &mockDispatcher{})

	bot.handleMessage(context.Background(), message(1, "/auth wrong"))

	msgs := api.messages()
	if len(msgs) != 1 || msgs[0] != "1: ❌ Неверный пароль" {
		t.Fatalf("unexpected replies: %v", msgs)
	}
}

func TestLightCommand(t *testing.T) {
	disp := &mockDispatcher{}
	bot, api := newTestBot(t, disp)
	authorize(t, bot, api, 1)

	bot.handleMessage(context.Background(), message(1, "/light комната отдыха включи"))

	intents := disp.dispatched()
	if len(intents) != 1 {
		t.Fatalf("dispatched = %d, want 1", len(intents))
	}
	got := intents[0]
	if got.Channel != "telegram" || got.Action != router.ActionWrite {
		t.Errorf("unexpected intent: %+v", got)
	}
	if got.Target != "комната отдыха" || got.Value != "1" || got.Kind != catalog.KindRelay {
		t.Errorf("unexpected intent: %+v", got)
	}
	if got.User != "42" {
		t.Errorf("user = %q, want 42", got.User)
	}

	msgs := api.messages()
	if msgs[len(msgs)-1] != "1: ✅ Свет в комната отдыха включён" {
		t.Errorf("unexpected reply: %v", msgs[len(msgs)-1])
	}
}

func TestStatusAmbiguousListsCandidates(t *testing.T) {
	disp := &mockDispatcher{result: router.CommandResult{
		Status: router.StatusAmbiguous,
		Candidates: []router.Candidate{
			{Category: "сенсоры_температура", Alias: "парная", Target: catalog.Target{Object: "Temp01", Property: "value"}},
			{Category: "сенсоры_влажность", Alias: "парная", Target: catalog.Target{Object: "Hum01", Property: "value"}},
		},
	}}
	bot, api := newTestBot(t, disp)
	authorize(t, bot, api, 1)

	bot.handleMessage(context.Background(), message(1, "/status парная"))

	msgs := api.messages()
	want := "1: Уточните, пожалуйста: парная (сенсоры_температура), парная (сенсоры_влажность)"
	if msgs[len(msgs)-1] != want {
		t.Errorf("reply = %q, want %q", msgs[len(msgs)-1], want)
	}
}

func TestStatusFormatsSensorValue(t *testing.T) {
	disp := &mockDispatcher{result: router.CommandResult{Status: router.StatusOK, Response: "21.5"}}
	bot, api := newTestBot(t, disp)
	authorize(t, bot, api, 1)

	bot.handleMessage(context.Background(), message(1, "/status парная"))

	msgs := api.messages()
	if msgs[len(msgs)-1] != "1: 🌡 парная: 21.5" {
		t.Errorf("unexpected reply: %v", msgs[len(msgs)-1])
	}
}

func TestScriptCommand(t *testing.T) {
	disp := &mockDispatcher{}
	bot, api := newTestBot(t, disp)
	authorize(t, bot, api, 1)

	bot.handleMessage(context.Background(), message(1, "/script утро в доме"))

	intents := disp.dispatched()
	if len(intents) != 1 || intents[0].Action != router.ActionScript || intents[0].Target != "утро в доме" {
		t.Fatalf("unexpected intents: %+v", intents)
	}
}

func TestNotifyFailure(t *testing.T) {
	bot, api := newTestBot(t, &mockDispatcher{})

	bot.NotifyFailure(audit.Record{
		Source: "scheduler",
		Action: "write_property",
		Target: "улица",
		Status: "controller_error",
	})

	msgs := api.messages()
	if len(msgs) != 1 {
		t.Fatalf("notifications = %d, want 1", len(msgs))
	}
	if msgs[0] != "777: 🚨 Ошибка (scheduler): write_property улица — controller_error" {
		t.Errorf("unexpected notification: %q", msgs[0])
	}
}

func TestAuthorizationIsPerChat(t *testing.T) {
	disp := &mockDispatcher{}
	bot, api := newTestBot(t, disp)
	authorize(t, bot, api, 1)

	// A different chat is still locked out.
	bot.handleMessage(context.Background(), message(2, "/light улица включи"))

	if len(disp.dispatched()) != 0 {
		t.Error("unauthorized chat dispatched a command")
	}
	msgs := api.messages()
	if msgs[len(msgs)-1] != "2: 🔒 Сначала авторизуйтесь: /auth <пароль>" {
		t.Errorf("unexpected reply: %v", msgs[len(msgs)-1])
	}
}
