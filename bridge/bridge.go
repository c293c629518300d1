// Package bridge mirrors an external IRC chat channel into the guest chat
// log, so viewers watching through a third-party platform show up on the
// event page alongside direct guests. Entirely optional: without creds the
// bridge just doesn't start.
//
// Credentials: the IRC client requires a bot username and an OAuth token
// with chat:read scope (BRIDGE_USERNAME, BRIDGE_OAUTH_TOKEN), plus the
// channel to mirror (BRIDGE_CHANNEL).
package bridge

import (
	"context"
	"log/slog"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/andsky/guestcast/backend/config"
	"github.com/andsky/guestcast/backend/docstore"
)

// Start connects to IRC and appends every channel message to the chat log.
// Messages enter the store exactly like guest messages, so presence counts
// mirrored viewers too. Blocks until ctx is cancelled; callers run it in a
// goroutine.
func Start(ctx context.Context, cfg *config.Config, store *docstore.Store) {
	if err := cfg.ValidateBridgeReady(); err != nil {
		slog.Info("chat bridge disabled", slog.Any("reason", err))
		return
	}

	client := twitch.NewClient(cfg.BridgeUsername, cfg.BridgeToken)

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		if _, err := store.AppendMessage(ctx, msg.User.DisplayName, msg.Message); err != nil {
			slog.Error("failed to mirror chat message", slog.Any("err", err))
		}
	})

	// Handle context cancellation by closing the client
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		client.Disconnect()
		close(done)
	}()

	client.Join(cfg.BridgeChannel)
	slog.Info("chat bridge starting", slog.String("channel", cfg.BridgeChannel))
	if err := client.Connect(); err != nil {
		slog.Error("chat bridge connect error", slog.Any("err", err))
	}
	<-done
}
