// Command chat is a terminal chat client on top of the sync core.
//
//	chat -user alice -peer bob
//
// Lines typed are sent to the active peer. Commands: /peer <id> switches
// the conversation, /who lists online users, /quit exits.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/config"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/history"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/logger"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/model"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/session"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/transport"
)

func main() {
	logger.SetPrefix("chat")
	user := flag.String("user", "", "user id (required)")
	peer := flag.String("peer", "", "initial peer to chat with")
	flag.Parse()
	if *user == "" {
		fmt.Fprintln(os.Stderr, "usage: chat -user <id> [-peer <id>]")
		os.Exit(2)
	}

	cfg := config.Load("config/chat.yaml")
	conn := transport.NewManager(cfg.ServerURL, *user, cfg.ReconnectAttempts, cfg.ReconnectDelay)
	hist := history.NewClient(cfg.ServerURL, *user)
	sess := session.New(*user, conn, hist, cfg.TypingDebounce, cfg.SendTimeout, cfg.HistoryLimit)

	sess.OnStateChange(func(s transport.State) {
		fmt.Printf("-- %s --\n", s)
	})
	sess.OnMessage(func(m model.Message) {
		if m.SenderID != *user {
			fmt.Printf("[%s] %s\n", m.SenderID, m.Content)
		}
	})
	sess.OnTyping(func(peerID string, isTyping bool) {
		if isTyping {
			fmt.Printf("-- %s is typing... --\n", peerID)
		}
	})
	sess.OnPresence(func(online []string) {
		logger.Debugf("online: %v", online)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	err := conn.Connect(ctx)
	cancel()
	if err != nil {
		logger.Errorf("connect: %v", err)
		os.Exit(1)
	}
	sess.Start()
	defer sess.Close()

	if *peer != "" {
		switchPeer(sess, *peer)
	}

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/who":
			fmt.Printf("online: %s\n", strings.Join(sess.OnlineUsers(), ", "))
		case strings.HasPrefix(line, "/peer "):
			switchPeer(sess, strings.TrimSpace(strings.TrimPrefix(line, "/peer ")))
		default:
			sess.NotifyTyping()
			sendCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			_, err := sess.Send(sendCtx, line)
			cancel()
			if err != nil {
				fmt.Printf("-- send failed: %v --\n", err)
			}
		}
	}
}

func switchPeer(sess *session.Session, peerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sess.SetActivePeer(ctx, peerID); err != nil {
		fmt.Printf("-- could not load history for %s: %v --\n", peerID, err)
	}
	status := "offline"
	if sess.IsOnline(peerID) {
		status = "online"
	}
	fmt.Printf("-- chatting with %s (%s) --\n", peerID, status)
	for _, m := range sess.Messages(peerID) {
		fmt.Printf("[%s] %s\n", m.SenderID, m.Content)
	}
}
