// Command subscription manages the Strava push subscription that delivers
// activity notifications to the enricher's webhook.
//
// Usage:
//
//	go run ./cmd/subscription create [-callback https://enricher.example.com/webhook]
//	go run ./cmd/subscription list
//	go run ./cmd/subscription delete -id 120475
//
// Credentials and the default callback URL come from the same environment
// variables as the service (STRAVA_CLIENT_ID, STRAVA_CLIENT_SECRET,
// STRAVA_VERIFY_TOKEN, PUBLIC_BASE_URL).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/adapter/strava"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/config"
)

const requestTimeout = 30 * time.Second

var errUsage = errors.New("usage: subscription <create|list|delete> [flags]")

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], cfg, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, cfg *config.Config, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	client := strava.NewSubscriptionClient(cfg.StravaAPIURL, cfg.StravaClientID, cfg.StravaClientSecret, requestTimeout)

	switch cmd, rest := args[0], args[1:]; cmd {
	case "create":
		fs := flag.NewFlagSet("create", flag.ContinueOnError)
		callback := fs.String("callback", cfg.WebhookURL(), "public webhook URL Strava will post to")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		sub, err := client.Create(ctx, *callback, cfg.StravaVerifyToken)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "created subscription %d -> %s\n", sub.ID, *callback)

	case "list":
		subs, err := client.List(ctx)
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			fmt.Fprintln(out, "no subscriptions")
		}
		for _, s := range subs {
			fmt.Fprintf(out, "%d\t%s\t%s\n", s.ID, s.CallbackURL, s.CreatedAt)
		}

	case "delete":
		fs := flag.NewFlagSet("delete", flag.ContinueOnError)
		id := fs.Int64("id", 0, "subscription id to delete")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *id == 0 {
			return errors.New("delete: -id is required")
		}
		if err := client.Delete(ctx, *id); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted subscription %d\n", *id)

	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
	return nil
}
