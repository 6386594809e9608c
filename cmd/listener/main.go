// Command listener is a terminal client for the fulfillment channel. It
// connects as any role, prints every event it receives and re-fetches the
// role's working set on each (re)connect and on the poll backstop.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"restoran-fulfillment/internal/apperr"
	"restoran-fulfillment/internal/auth"
	"restoran-fulfillment/internal/logger"
	"restoran-fulfillment/internal/models"
	"restoran-fulfillment/internal/realtime/client"
	"restoran-fulfillment/internal/realtime/wire"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/pflag"
)

func main() {
	var (
		wsURL   = pflag.String("url", "ws://localhost:8080/ws", "channel URL")
		apiURL  = pflag.String("api", "", "REST base URL used for re-fetching (default: derived from --url)")
		token   = pflag.String("token", os.Getenv("FULFILLMENT_TOKEN"), "bearer token")
		mint    = pflag.Bool("mint", false, "mint a token locally with JWT_SECRET instead of --token")
		role    = pflag.String("role", "kitchen", "role for --mint: customer, waiter, kitchen or admin")
		subject = pflag.String("subject", "listener", "subject id for --mint")
		station = pflag.String("station", "", "kitchen station to follow (empty: all stations)")
		poll    = pflag.Duration("poll", client.DefaultPollInterval, "poll backstop interval")
		verbose = pflag.BoolP("verbose", "v", false, "debug logging")
	)
	pflag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	lg := logger.New(os.Stderr, "listener", level)

	if *mint {
		r := models.UserRole(*role)
		if !r.Valid() {
			fatal(lg, fmt.Errorf("unknown role %q", *role))
		}
		tok, err := auth.GenerateToken(os.Getenv("JWT_SECRET"), auth.Identity{SubjectID: *subject, Role: r, Station: *station}, 12*time.Hour)
		if err != nil {
			fatal(lg, err)
		}
		*token = tok
	}
	if *token == "" {
		fatal(lg, errors.New("no token: pass --token, set FULFILLMENT_TOKEN or use --mint"))
	}

	base := *apiURL
	if base == "" {
		var err error
		if base, err = deriveAPI(*wsURL); err != nil {
			fatal(lg, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(client.Options{
		URL:          *wsURL,
		Token:        *token,
		Station:      *station,
		PollInterval: *poll,
		Logger:       lg,
	})
	f := fetcher{base: base, token: *token, out: os.Stdout, logger: lg}

	var connectedRole atomic.Value // models.UserRole echoed by the server
	c.OnConnect(func(info wire.Connected) {
		connectedRole.Store(models.UserRole(info.Role))
		fmt.Fprintf(os.Stdout, "connected session=%s role=%s topics=%s\n", info.SessionID, info.Role, strings.Join(info.Topics, ","))
		go f.refetch(ctx, models.UserRole(info.Role), *station)
	})
	c.OnEvent(func(env wire.Envelope) { printEnvelope(os.Stdout, env) })
	c.OnStateChange(func(s client.State) { lg.Debug("state_changed", "state", s) })
	c.OnPoll(func(ctx context.Context) {
		r, ok := connectedRole.Load().(models.UserRole)
		if !ok {
			return
		}
		f.refetch(ctx, r, *station)
	})

	err := c.Run(ctx)
	if errors.Is(err, apperr.ErrDisconnected) {
		fatal(lg, err)
	}
}

func fatal(lg *slog.Logger, err error) {
	lg.Error("listener_failed", "error", err)
	os.Exit(1)
}

// deriveAPI maps ws://host/ws to http://host/api.
func deriveAPI(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse --url: %w", err)
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = "/api"
	u.RawQuery = ""
	return u.String(), nil
}

func printEnvelope(w io.Writer, env wire.Envelope) {
	ts := "-"
	if env.Timestamp != nil {
		ts = env.Timestamp.Format(time.RFC3339)
	}
	switch {
	case env.ItemID != "":
		fmt.Fprintf(w, "%s %-26s item=%s\n", ts, env.Type, env.ItemID)
	case len(env.Data) > 0:
		fmt.Fprintf(w, "%s %-26s %s\n", ts, env.Type, env.Data)
	default:
		fmt.Fprintf(w, "%s %s\n", ts, env.Type)
	}
}

type fetcher struct {
	base   string
	token  string
	out    io.Writer
	logger *slog.Logger
}

// path returns the REST resource that holds a role's working set.
func (f fetcher) path(role models.UserRole, station string) string {
	switch role {
	case models.RoleKitchen:
		if station != "" {
			return "/kitchen/queue?station=" + url.QueryEscape(station)
		}
		return "/kitchen/queue"
	case models.RoleAdmin:
		return "/admin/sessions"
	}
	return "/orders?status=pending,confirmed,preparing,ready"
}

func (f fetcher) refetch(ctx context.Context, role models.UserRole, station string) {
	if ctx.Err() != nil {
		return
	}
	a := fiber.Get(f.base + f.path(role, station))
	a.Set(fiber.HeaderAuthorization, "Bearer "+f.token)
	a.Timeout(10 * time.Second)
	if err := a.Parse(); err != nil {
		f.logger.Warn("refetch_failed", "error", err)
		return
	}

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		f.logger.Warn("refetch_failed", "error", errors.Join(errs...))
		return
	}
	if code != fiber.StatusOK {
		f.logger.Warn("refetch_failed", "status", code, "body", string(body))
		return
	}
	fmt.Fprintf(f.out, "snapshot %s\n", body)
}
