// Package main is a small command-line consumer of the realtime service. It
// keeps a live connection, reconciles the inbox on a timer and prints every
// notification it receives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NomadCrew/nomad-realtime/config"
	"github.com/NomadCrew/nomad-realtime/internal/client"
	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/NomadCrew/nomad-realtime/types"
)

func main() {
	transport := flag.String("transport", "push", "Realtime transport: push or polling")
	once := flag.Bool("once", false, "Print the first page of the inbox and exit")
	flag.Parse()

	logger.InitLogger()
	log := logger.GetLogger().Named("notify-client")
	defer func() { _ = logger.Close() }()

	cfg, err := config.LoadClientConfig()
	if err != nil {
		log.Fatalf("Failed to load client config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.NewAPIClient(cfg.ServerURL, cfg.Token)
	inbox := client.NewInbox()
	coord := client.NewCoordinator(client.CoordinatorOptionsFromConfig(*cfg), nil)
	defer coord.Stop()

	if *once {
		poller := client.NewPoller(api, coord, inbox, nil, client.PollerOptionsFromConfig(*cfg), nil)
		if err := poller.Refresh(ctx, true); err != nil {
			log.Fatalf("Failed to fetch notifications: %v", err)
		}
		for _, n := range inbox.Items() {
			printNotification(n)
		}
		fmt.Printf("%d unread\n", inbox.UnreadCount())
		return
	}

	var dialer client.Dialer
	switch *transport {
	case "push":
		dialer = client.WebSocketDialer{ServerURL: cfg.ServerURL}
	case "polling":
		dialer = client.PollingDialer{ServerURL: cfg.ServerURL}
	default:
		log.Fatalf("Unknown transport %q", *transport)
	}

	manager := client.NewManager(dialer,
		client.Credentials{Token: cfg.Token, OwnerID: cfg.OwnerID},
		client.BackoffFromConfig(*cfg),
		nil,
		client.WithEventHandler(func(ev types.Event) {
			if ev.Name != types.EventNotification {
				return
			}
			var n types.Notification
			if err := ev.Decode(&n); err != nil {
				log.Warnw("Malformed notification event", "error", err)
				return
			}
			inbox.Upsert(n)
			printNotification(n)
		}),
	)

	poller := client.NewPoller(api, coord, inbox, manager, client.PollerOptionsFromConfig(*cfg), nil)
	manager.OnStateChange(func(s client.State) {
		log.Infow("Connection state changed", "state", s)
		if s == client.StateIdle && manager.NeedsManualReconnect() {
			log.Warnw("Automatic reconnects exhausted", "error", manager.LastError())
		}
	})
	manager.OnStateChange(poller.OnStateChange)

	poller.Start()
	defer poller.Stop()

	if err := manager.Connect(ctx); err != nil {
		log.Warnw("Initial connect failed, retrying in background", "error", err)
	}
	defer manager.Disconnect()

	// SIGCONT means the process was brought back to the foreground; SIGUSR1 is
	// the manual reconnect once automatic retries gave up.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGCONT, syscall.SIGUSR1)
	defer signal.Stop(signals)

	for {
		select {
		case <-ctx.Done():
			log.Infow("Shutting down", "inbox", inbox.Len(), "unread", inbox.UnreadCount())
			return
		case sig := <-signals:
			var err error
			if sig == syscall.SIGUSR1 {
				err = manager.Reconnect(ctx)
			} else {
				err = manager.Resume(ctx)
			}
			if err != nil {
				log.Warnw("Reconnect failed", "signal", sig, "error", err)
			}
		}
	}
}

func printNotification(n types.Notification) {
	marker := " "
	if !n.IsRead {
		marker = "*"
	}
	fmt.Printf("%s [%s] %s %s\n", marker, n.Kind, n.Title, n.CreatedAt.Format("2006-01-02 15:04"))
}
