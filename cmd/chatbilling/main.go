package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/router-for-me/ChatBilling/internal/app"
	"github.com/router-for-me/ChatBilling/internal/config"
	"github.com/router-for-me/ChatBilling/internal/security"

	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if errRun := run(ctx, os.Args[1:], os.Stdout); errRun != nil {
		log.WithError(errRun).Error("command failed")
		os.Exit(1)
	}
}

// run parses flags and dispatches to serve (default), migrate or token.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("chatbilling", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	port := fs.Int("port", config.DefaultPort, "server port when the config file sets none")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	if errValidate := validatePort(*port); errValidate != nil {
		return errValidate
	}

	appCfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*cfgPath) != "" {
		appCfg.ConfigPath = config.ResolveConfigPath(*cfgPath)
	}

	command := "serve"
	rest := fs.Args()
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}

	switch command {
	case "serve":
		return app.RunServer(ctx, appCfg, *port)
	case "migrate":
		if errMigrate := app.Migrate(ctx, appCfg); errMigrate != nil {
			return errMigrate
		}
		log.Info("migrations applied")
		return nil
	case "token":
		return runToken(appCfg, rest, stdout)
	default:
		return fmt.Errorf("unknown command %q (want serve, migrate or token)", command)
	}
}

// runToken prints an identity token for local use.
func runToken(appCfg config.AppConfig, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	openID := fs.String("open-id", "", "identity subject (required)")
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "email address")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	if strings.TrimSpace(*openID) == "" {
		return errors.New("token: -open-id is required")
	}
	token, err := app.IssueToken(appCfg, security.Identity{
		OpenID:      strings.TrimSpace(*openID),
		Name:        strings.TrimSpace(*name),
		Email:       strings.TrimSpace(*email),
		LoginMethod: "cli",
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}
