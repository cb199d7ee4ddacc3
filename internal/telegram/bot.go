// Package telegram serves the chat shell to Telegram users. Every chat gets
// its own session, keyed by chat ID.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nubank/calma-backend/internal/chat"
	"github.com/nubank/calma-backend/internal/store"
)

type Bot struct {
	api      *tgbotapi.BotAPI
	s        sender
	shell    *chat.Shell
	sessions *chat.Registry
}

func New(token string, shell *chat.Shell, sessions *chat.Registry) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	log.Printf("[telegram] authorized as @%s", api.Self.UserName)
	return &Bot{api: api, s: botAPISender{api: api}, shell: shell, sessions: sessions}, nil
}

// Start polls for updates until ctx is done.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	log.Printf("[telegram] polling started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			log.Printf("[telegram] stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			}
		}
	}
}

func sessionID(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	sess := b.sessions.Get(sessionID(chatID))

	if msg.IsCommand() {
		b.handleCommand(ctx, chatID, sess, msg.Command(), msg.CommandArguments())
		return
	}
	if msg.Text == "" {
		return
	}

	ex, err := b.shell.Submit(ctx, sess, msg.Text)
	if err != nil {
		log.Printf("[telegram] submit failed for chat %d: %v", chatID, err)
		b.sendMessage(chatID, "Sorry, something went wrong.")
		return
	}
	b.sendMessage(chatID, ex.Reply.Content)
	if ex.Proactive != nil {
		b.sendMessage(chatID, ex.Proactive.Content)
	}
}

func (b *Bot) handleCommand(ctx context.Context, chatID int64, sess *chat.Session, cmd, args string) {
	switch cmd {
	case "start":
		msgs := sess.Messages()
		if len(msgs) > 0 {
			b.sendMessage(chatID, msgs[0].Content)
		}
	case "reset":
		entry, err := b.shell.Archive(ctx, sess)
		if err != nil {
			log.Printf("[telegram] archive failed for chat %d: %v", chatID, err)
			b.sendMessage(chatID, "Sorry, I couldn't save this chat.")
			return
		}
		b.sendMessage(chatID, fmt.Sprintf("Chat saved as %s. Let's start fresh.", entry.Name))
	case "history":
		list, err := b.shell.Archives(ctx, sess)
		if err != nil {
			log.Printf("[telegram] list archives failed for chat %d: %v", chatID, err)
			b.sendMessage(chatID, "Sorry, something went wrong.")
			return
		}
		if len(list) == 0 {
			b.sendMessage(chatID, "No previous chats yet.")
			return
		}
		var sb strings.Builder
		sb.WriteString("Previous chats:\n")
		for i, e := range list {
			fmt.Fprintf(&sb, "%d. Chat from %s (%d messages)\n", i+1, e.Name, len(e.Messages))
		}
		sb.WriteString("Use /restore N to reopen one.")
		b.sendMessage(chatID, sb.String())
	case "restore":
		n, err := strconv.Atoi(strings.TrimSpace(args))
		if err != nil {
			b.sendMessage(chatID, "Usage: /restore N")
			return
		}
		entry, err := b.shell.Restore(ctx, sess, n-1)
		if errors.Is(err, store.ErrArchiveIndex) {
			b.sendMessage(chatID, "There is no saved chat with that number.")
			return
		}
		if err != nil {
			log.Printf("[telegram] restore failed for chat %d: %v", chatID, err)
			b.sendMessage(chatID, "Sorry, something went wrong.")
			return
		}
		b.sendMessage(chatID, fmt.Sprintf("Restored chat from %s (%d messages).", entry.Name, len(entry.Messages)))
	case "questions":
		var sb strings.Builder
		for i, q := range chat.QuickQuestions() {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, q)
		}
		b.sendMessage(chatID, strings.TrimRight(sb.String(), "\n"))
	default:
		b.sendMessage(chatID, "Commands: /reset, /history, /restore N, /questions")
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	if _, err := b.s.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Printf("[telegram] failed to send message: %v", err)
	}
}
