package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/taskora/chatsync/internal/daemon"
	"github.com/taskora/chatsync/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides CHATSYNC_SESSION and the default)")
	configFlag := flag.String("config", "", "path to config file (default: config.toml under the base dir)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag, os.Getenv("CHATSYNC_SESSION"))
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	token := os.Getenv("CHATSYNC_TOKEN")
	if token == "" {
		fmt.Fprintln(os.Stderr, "error: CHATSYNC_TOKEN is not set")
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			ConfigPath:  *configFlag,
			Token:       token,
			UserID:      os.Getenv("CHATSYNC_USER_ID"),
		}),
	)

	app.Run()
}
