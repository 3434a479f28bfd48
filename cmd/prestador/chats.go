package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ashureev/prestador-desk/internal/chat"
	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/ashureev/prestador-desk/internal/locale"
	"github.com/ashureev/prestador-desk/internal/realtime"
	"github.com/spf13/cobra"
)

func chatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List your conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			token, err := a.requireSession()
			if err != nil {
				return err
			}
			chats, err := a.backend.MyChats(ctx, token)
			if err != nil {
				return a.userError(ctx, err, locale.ServerError)
			}
			if len(chats) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), a.catalog.Lookup(locale.ChatListEmpty))
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tWITH\tUNREAD\tLAST MESSAGE")
			for _, c := range chats {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.ID, c.Label, c.UnreadCount, c.LastMessage)
			}
			return tw.Flush()
		},
	}
}

func chatCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <id>",
		Short: "Open a conversation: prints messages live and sends each line typed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, *configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			token, err := a.requireSession()
			if err != nil {
				return err
			}
			return runChat(ctx, a, args[0], token, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runChat(ctx context.Context, a *app, conversationID, token string, in io.Reader, out io.Writer) error {
	dialer, err := realtime.NewDialer(realtime.Config{
		URL:          a.cfg.SocketURL,
		MaxRetries:   a.cfg.Realtime.MaxRetries,
		BackoffBase:  a.cfg.Realtime.BackoffBase,
		BackoffMax:   a.cfg.Realtime.BackoffMax,
		PingInterval: a.cfg.Realtime.PingInterval,
		Logger:       a.logger,
	})
	if err != nil {
		return fmt.Errorf("create realtime dialer: %w", err)
	}

	printer := &chatPrinter{out: out, self: a.auth.Session().Identity.ID(), catalog: a.catalog}
	view := chat.NewView(chat.Deps{
		History: a.backend,
		Open:    chat.DialerOpener(dialer),
		Session: a.auth,
		Logger:  a.logger,
	}, chat.Options{
		Optimistic: a.cfg.Chat.OptimisticSends,
		OnEvent:    printer.event,
	})
	if err := view.Mount(ctx, conversationID, token); err != nil {
		return a.userError(ctx, err, locale.HistoryFailed)
	}
	defer view.Unmount()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-view.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := view.Send(ctx, line); err != nil {
				if domain.IsAuthError(err) {
					return a.userError(ctx, err, locale.SendFailed)
				}
				printer.notice(a.catalog.Lookup(locale.SendFailed))
			}
		}
	}
}

// chatPrinter renders view events as plain lines. Events arrive from the
// fetch and channel goroutines.
type chatPrinter struct {
	out     io.Writer
	self    string
	catalog *locale.Catalog

	mu      sync.Mutex
	room    string
	status  string
	all     []domain.Message
	shown   []string
	settled bool
}

func (p *chatPrinter) event(e chat.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.Kind == chat.EventMessages {
		p.all = e.All
		if p.settled {
			p.drawLocked()
		}
		return
	}

	s := e.Status
	if s.Room != p.room {
		p.room = s.Room
		fmt.Fprintf(p.out, "== %s ==\n", s.Room)
	}
	// Hold messages back until the backlog settles so they print in order.
	if !p.settled && s.History != chat.HistoryLoading {
		p.settled = true
		p.drawLocked()
	}
	status := s.History.String() + "/" + s.Channel.String()
	if status == p.status {
		return
	}
	p.status = status
	switch {
	case s.History == chat.HistoryFailed:
		p.noticeLocked(p.catalog.Or(domain.ServerMessage(s.HistoryErr), locale.HistoryFailed))
	case s.History == chat.HistoryReady && len(p.all) == 0:
		p.noticeLocked(p.catalog.Lookup(locale.ChatEmpty))
	}
	if s.Degraded && s.History != chat.HistoryLoading {
		p.noticeLocked(p.catalog.Lookup(locale.ChannelDegraded))
	}
}

// drawLocked prints what is new at the tail of the sequence. A message that
// sorts before one already on screen reprints the whole sequence.
func (p *chatPrinter) drawLocked() {
	from := len(p.shown)
	if from > len(p.all) {
		from = 0
	}
	for i := 0; i < from; i++ {
		if p.all[i].ID != p.shown[i] {
			from = 0
			break
		}
	}
	if from == 0 && len(p.shown) > 0 {
		fmt.Fprintln(p.out, "----")
		p.shown = p.shown[:0]
	}
	for _, m := range p.all[from:] {
		who := m.SenderID
		if who == p.self {
			who = "you"
		}
		fmt.Fprintf(p.out, "[%s] %s: %s\n", m.Timestamp.Local().Format(time.Kitchen), who, m.Body)
		p.shown = append(p.shown, m.ID)
	}
}

func (p *chatPrinter) notice(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.noticeLocked(msg)
}

func (p *chatPrinter) noticeLocked(msg string) {
	fmt.Fprintf(p.out, "-- %s\n", msg)
}
