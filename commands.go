package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nubank/calma-backend/internal"
	"github.com/nubank/calma-backend/internal/chat"
	"github.com/nubank/calma-backend/internal/classifier"
	"github.com/nubank/calma-backend/internal/intents"
	"github.com/nubank/calma-backend/internal/provider"
	"github.com/nubank/calma-backend/internal/store"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the intent classifier and write the model file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		set, err := intents.Load(cfg.IntentsPath)
		if err != nil {
			return err
		}
		m, err := classifier.TrainSet(set, classifier.Options{Alpha: cfg.Smoothing})
		if err != nil {
			return err
		}
		if err := m.SaveFile(cfg.ModelPath); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "intents:  %d\n", set.Len())
		fmt.Fprintf(out, "patterns: %d\n", len(set.Pairs()))
		fmt.Fprintf(out, "vocab:    %d\n", m.VocabSize())
		fmt.Fprintf(out, "accuracy: %.3f\n", m.Accuracy(set.Pairs()))
		if err := printConfidence(out, m, set); err != nil {
			return err
		}
		fmt.Fprintf(out, "model written to %s\n", cfg.ModelPath)
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the bot in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		set, err := intents.Load(cfg.IntentsPath)
		if err != nil {
			return err
		}
		m, err := loadModel(cfg, set)
		if err != nil {
			return err
		}
		// the terminal chat keeps its own archive in memory
		cfg.InteractionLogPath = ""
		shell, err := newShell(cfg, newProvider(set, m), store.NewMemoryArchive())
		if err != nil {
			return err
		}
		sess := chat.NewRegistry(cfg.Greeting).Get("terminal")
		return runREPL(cmd.Context(), shell, sess, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

var intentsCmd = &cobra.Command{
	Use:   "intents",
	Short: "Validate the intents dataset and list its tags",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		set, err := intents.Load(cfg.IntentsPath)
		if err != nil {
			return err
		}
		return printIntents(cmd.OutOrStdout(), set)
	},
}

func printIntents(w io.Writer, set *intents.Set) error {
	for _, tag := range set.Tags() {
		in, _ := set.Intent(tag)
		if _, err := fmt.Fprintf(w, "%-24s %3d patterns  %3d responses\n", tag, len(in.Patterns), len(in.Responses)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%d intents OK\n", set.Len())
	return err
}

// printConfidence reports, per intent, the mean probability the model gives
// the right tag over that intent's own patterns.
func printConfidence(w io.Writer, m *classifier.Model, set *intents.Set) error {
	index := make(map[string]int)
	for i, l := range m.Labels() {
		index[l] = i
	}
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, p := range set.Pairs() {
		c, ok := index[p.Tag]
		if !ok {
			continue
		}
		sums[p.Tag] += m.Probabilities(p.Text)[c]
		counts[p.Tag]++
	}
	for _, tag := range set.Tags() {
		if counts[tag] == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "  %-24s %.3f\n", tag, sums[tag]/float64(counts[tag])); err != nil {
			return err
		}
	}
	return nil
}

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Summarize the interaction log by predicted tag",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.InteractionLogPath == "" {
			return errors.New("INTERACTION_LOG_PATH is not set")
		}
		items, err := store.LoadInteractions(cfg.InteractionLogPath)
		if err != nil {
			return err
		}
		return printInteractions(cmd.OutOrStdout(), items)
	},
}

const (
	quitBucket     = "(quit)"
	fallbackBucket = "(fallback)"
)

// printInteractions lists how often each tag answered, busiest first.
// Replies without a tag are either the quit goodbye or a fallback.
func printInteractions(w io.Writer, items []store.Interaction) error {
	counts := make(map[string]int)
	sessions := make(map[string]bool)
	for _, it := range items {
		sessions[it.SessionID] = true
		tag := it.Tag
		if tag == "" {
			tag = fallbackBucket
			if provider.IsQuit(it.UserMessage) {
				tag = quitBucket
			}
		}
		counts[tag]++
	}
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})
	for _, tag := range tags {
		if _, err := fmt.Fprintf(w, "%-24s %5d\n", tag, counts[tag]); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%d interactions across %d sessions\n", len(items), len(sessions))
	return err
}

const replHelp = "Commands: :reset saves and clears the chat, :history lists saved chats, :restore N reopens one, quit exits."

// runREPL reads one message per line. Lines starting with ':' are shell
// commands. Other lines are submitted as typed, and only an exact "quit"
// (any case) prints the goodbye and ends the loop.
func runREPL(ctx context.Context, shell *chat.Shell, sess *chat.Session, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, m := range sess.Messages() {
		fmt.Fprintf(out, "Bot: %s\n", m.Content)
	}
	fmt.Fprintln(out, replHelp)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if cmd := strings.TrimSpace(line); strings.HasPrefix(cmd, ":") {
			if err := replCommand(ctx, shell, sess, cmd, out); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			}
			continue
		}
		ex, err := shell.Submit(ctx, sess, line)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "Bot: %s\n", ex.Reply.Content)
		if ex.Proactive != nil {
			fmt.Fprintf(out, "Bot: %s\n", ex.Proactive.Content)
		}
		if provider.IsQuit(line) {
			return nil
		}
	}
}

func replCommand(ctx context.Context, shell *chat.Shell, sess *chat.Session, line string, out io.Writer) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":reset":
		entry, err := shell.Archive(ctx, sess)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved chat %s\n", entry.Name)
	case ":history":
		list, err := shell.Archives(ctx, sess)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(out, "No previous chats.")
		}
		for i, e := range list {
			fmt.Fprintf(out, "%d. Chat from %s (%d messages)\n", i+1, e.Name, len(e.Messages))
		}
	case ":restore":
		if len(fields) != 2 {
			return fmt.Errorf("usage: :restore N")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("usage: :restore N")
		}
		if _, err := shell.Restore(ctx, sess, n-1); err != nil {
			return err
		}
		for _, m := range sess.Messages() {
			who := "Bot"
			if m.Role == internal.RoleUser {
				who = "You"
			}
			fmt.Fprintf(out, "%s: %s\n", who, m.Content)
		}
	default:
		fmt.Fprintln(out, replHelp)
	}
	return nil
}
