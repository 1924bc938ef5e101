package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"wavelink/pkg/client"
	"wavelink/pkg/logging"
	"wavelink/pkg/model"
	"wavelink/pkg/version"
)

func main() {
	settings := client.LoadSettings()

	serverURL := flag.String("server", settings.ServerURL, "Server websocket URL")
	username := flag.String("user", settings.Username, "Username to authenticate as")
	stunURL := flag.String("stun", settings.STUNURL, "STUN server URL (blank for default)")
	logLevel := flag.String("log-level", settings.LogLevel, "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *username == "" {
		fmt.Fprintln(os.Stderr, "a username is required (-user)")
		os.Exit(1)
	}

	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	c := client.New(client.Config{
		ServerURL: *serverURL,
		Username:  *username,
		STUNURL:   *stunURL,
	})
	c.OnPresenceChanged = func() {
		for _, peer := range c.Peers() {
			slog.Info("presence", "peer", peer.UserID, "status", peer.Status)
		}
	}

	if err := c.Connect(context.Background()); err != nil {
		slog.Error("connect", "err", err)
		os.Exit(1)
	}

	quit := make(chan struct{})
	go readCommands(c, quit)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-quit:
	}

	slog.Info("disconnecting")
	c.Disconnect()
}

// readCommands drives the client from stdin: "/status busy", "/peers",
// "/quit".
func readCommands(c *client.Client, quit chan<- struct{}) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "/status":
			if len(fields) != 2 {
				fmt.Println("usage: /status online|busy|away")
				continue
			}
			status, err := model.ParsePresence(fields[1])
			if err != nil {
				fmt.Println(err)
				continue
			}
			if err := c.SetStatus(status); err != nil {
				slog.Warn("set status", "err", err)
			}
		case "/peers":
			for _, peer := range c.Peers() {
				fmt.Printf("%s\t%s\n", peer.UserID, peer.Status)
			}
		case "/quit":
			close(quit)
			return
		default:
			fmt.Println("commands: /status <state>, /peers, /quit")
		}
	}
}
