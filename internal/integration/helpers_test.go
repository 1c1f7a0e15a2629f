package integration

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"liveclass/internal/app"
	"liveclass/internal/config"
	"liveclass/pkg/auth"
	"liveclass/pkg/client"
	"liveclass/pkg/protocol"
)

const secret = "integration-secret"

type env struct {
	app *app.Application
	url string
	jwt *auth.JWT
}

func newEnv(t *testing.T, mutate ...func(*config.Config)) *env {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Database.DatabasePath = filepath.Join(t.TempDir(), "it.db")
	cfg.Room.OpenAdmission = true
	cfg.Auth.JWTSecret = secret
	for _, m := range mutate {
		m(cfg)
	}

	a, err := app.NewApplication(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})
	return &env{app: a, url: "http://" + a.Addr(), jwt: auth.New(secret)}
}

func (e *env) connect(t *testing.T, user string, autoAnswer bool) *client.Client {
	t.Helper()
	tok, err := e.jwt.Sign(user, time.Hour)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, client.Options{URL: e.url, UserID: user, Token: tok, AutoAnswer: autoAnswer})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// join enters roomID and waits for the snapshot
func (e *env) join(t *testing.T, c *client.Client, roomID, name string) protocol.RoomSnapshot {
	t.Helper()
	require.NoError(t, c.Join(roomID, name))
	return waitFor(t, c, protocol.TypeRoomSnapshot).(protocol.RoomSnapshot)
}

func waitFor(t *testing.T, c *client.Client, typ protocol.EventType) protocol.Outbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := c.WaitFor(ctx, typ)
	require.NoError(t, err)
	return ev
}

// until collects events up to and including the first one matching stop
func until(t *testing.T, c *client.Client, stop func(protocol.Outbound) bool) []protocol.Outbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var seen []protocol.Outbound
	for {
		ev, err := c.Next(ctx)
		require.NoError(t, err, "seen so far: %v", seen)
		seen = append(seen, ev)
		if stop(ev) {
			return seen
		}
	}
}

func chatText(text string) func(protocol.Outbound) bool {
	return func(ev protocol.Outbound) bool {
		m, ok := ev.(protocol.ChatBroadcast)
		return ok && m.Text == text
	}
}

func ofType[T protocol.Outbound](events []protocol.Outbound) []T {
	var out []T
	for _, ev := range events {
		if v, ok := ev.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
