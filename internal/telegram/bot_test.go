package telegram

import (
	"context"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nubank/calma-backend/internal"
	"github.com/nubank/calma-backend/internal/chat"
	"github.com/nubank/calma-backend/internal/provider"
	"github.com/nubank/calma-backend/internal/store"
)

type fakeSender struct{ sent []string }

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig).Text)
	return tgbotapi.Message{}, nil
}

type echoProvider struct{}

func (echoProvider) Model() string { return "echo" }

func (echoProvider) Reply(_ []internal.Message, in string) (provider.Reply, error) {
	if provider.IsQuit(in) {
		return provider.Reply{Text: provider.QuitReply}, nil
	}
	return provider.Reply{Text: "you said " + in, Tag: "echo"}, nil
}

func newTestBot() (*Bot, *fakeSender) {
	fs := &fakeSender{}
	shell := chat.NewShell(echoProvider{}, store.NewMemoryArchive(), chat.Options{ProactiveAfter: 3})
	return &Bot{s: fs, shell: shell, sessions: chat.NewRegistry("Hello from Calma")}, fs
}

func text(chatID int64, body string) *tgbotapi.Message {
	return &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, Text: body}
}

func command(chatID int64, body string) *tgbotapi.Message {
	n := strings.IndexByte(body, ' ')
	if n < 0 {
		n = len(body)
	}
	m := text(chatID, body)
	m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: n}}
	return m
}

func TestPlainMessageGetsReply(t *testing.T) {
	b, fs := newTestBot()
	b.handleMessage(context.Background(), text(1, "hello"))
	require.Equal(t, []string{"you said hello"}, fs.sent)

	msgs := b.sessions.Get(sessionID(1)).Messages()
	assert.Len(t, msgs, 3)
}

func TestProactiveOfferIsSent(t *testing.T) {
	b, fs := newTestBot()
	b.handleMessage(context.Background(), text(1, "one"))
	assert.Len(t, fs.sent, 1)
	// greeting + 2 turns = 3, the second exchange crosses the threshold
	b.handleMessage(context.Background(), text(1, "two"))
	require.Len(t, fs.sent, 3)
	assert.Equal(t, chat.DefaultProactive, fs.sent[2])
}

func TestStartSendsGreeting(t *testing.T) {
	b, fs := newTestBot()
	b.handleMessage(context.Background(), command(5, "/start"))
	assert.Equal(t, []string{"Hello from Calma"}, fs.sent)
}

func TestResetHistoryRestore(t *testing.T) {
	b, fs := newTestBot()
	ctx := context.Background()
	b.handleMessage(ctx, text(7, "first chat"))
	b.handleMessage(ctx, command(7, "/reset"))
	require.Len(t, fs.sent, 2)
	assert.Contains(t, fs.sent[1], "Chat saved as")
	assert.Zero(t, b.sessions.Get(sessionID(7)).Len())

	b.handleMessage(ctx, command(7, "/history"))
	assert.Contains(t, fs.sent[2], "1. Chat from")
	assert.Contains(t, fs.sent[2], "(3 messages)")

	b.handleMessage(ctx, command(7, "/restore 1"))
	assert.Contains(t, fs.sent[3], "Restored chat")
	assert.Equal(t, 3, b.sessions.Get(sessionID(7)).Len())

	b.handleMessage(ctx, command(7, "/restore 9"))
	assert.Equal(t, "There is no saved chat with that number.", fs.sent[4])

	b.handleMessage(ctx, command(7, "/restore"))
	assert.Equal(t, "Usage: /restore N", fs.sent[5])
}

func TestHistoryEmpty(t *testing.T) {
	b, fs := newTestBot()
	b.handleMessage(context.Background(), command(3, "/history"))
	assert.Equal(t, []string{"No previous chats yet."}, fs.sent)
}

func TestQuestionsAndUnknownCommand(t *testing.T) {
	b, fs := newTestBot()
	b.handleMessage(context.Background(), command(3, "/questions"))
	require.Len(t, fs.sent, 1)
	assert.Len(t, strings.Split(fs.sent[0], "\n"), 10)

	b.handleMessage(context.Background(), command(3, "/dance"))
	assert.Contains(t, fs.sent[1], "/reset")
}

func TestChatsAreIsolated(t *testing.T) {
	b, _ := newTestBot()
	b.handleMessage(context.Background(), text(1, "a"))
	assert.Len(t, b.sessions.Get(sessionID(2)).Messages(), 1)
}
