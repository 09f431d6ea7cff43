package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chriscow/turnkit/pkg/room"
)

var errRoomLost = errors.New("room connection lost")

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Join a LiveKit room and serve the engine over its data channel",
	Long: `Join a LiveKit room as the engine. Participants publish wire events as
data packets; update and turn frames are published back reliably.

Credentials come from room.* in the config file or LIVEKIT_URL,
LIVEKIT_API_KEY, LIVEKIT_API_SECRET and TK_ROOM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.Default()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if token, _ := cmd.Flags().GetString("token"); token != "" {
			cfg.Room.Token = token
		}
		if name, _ := cmd.Flags().GetString("room"); name != "" {
			cfg.Room.Room = name
		}

		eng, err := buildEngine(cfg, logger)
		if err != nil {
			return err
		}
		defer eng.Close()

		r, err := room.New(room.Config{
			URL:       cfg.Room.URL,
			Token:     cfg.Room.Token,
			APIKey:    cfg.Room.APIKey,
			APISecret: cfg.Room.APISecret,
			RoomName:  cfg.Room.Room,
			Identity:  cfg.Room.Identity,
			Engine:    eng.orch,
			Segmenter: eng.gate,
			Logger:    logger,
		})
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		if err := r.Connect(ctx); err != nil {
			return err
		}
		defer r.Disconnect()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return eng.orch.Run(gctx) })
		g.Go(func() error { return r.Run(gctx, eng.orch.Updates(), eng.orch.Results()) })
		g.Go(func() error { return watchRoom(gctx, r, logger) })

		return ignoreCanceled(g.Wait())
	},
}

// watchRoom logs room activity and fails when the connection drops.
func watchRoom(ctx context.Context, r *room.Room, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-r.Events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case room.EventDisconnected:
				return errRoomLost
			case room.EventParticipantConnected, room.EventParticipantDisconnected:
				logger.Info("Room participants changed",
					slog.String("event", string(ev.Type)),
					slog.Int("participants", len(r.Participants())))
			case room.EventDataReceived:
				if ev.Err != nil {
					logger.Warn("Refused data packet",
						slog.String("participant", ev.Participant.GetIdentity()),
						slog.String("error", ev.Err.Error()))
				}
			}
		}
	}
}

var roomTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a room-join token for a participant",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		identity, _ := cmd.Flags().GetString("identity")
		name, _ := cmd.Flags().GetString("room")
		validFor, _ := cmd.Flags().GetDuration("valid-for")
		if name == "" {
			name = cfg.Room.Room
		}

		token, err := room.NewToken(cfg.Room.APIKey, cfg.Room.APISecret, name, identity, validFor)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	roomCmd.Flags().String("token", "", "Join with this token instead of the API key and secret")
	roomCmd.Flags().String("room", "", "Room name (overrides room.room)")

	roomTokenCmd.Flags().String("identity", "child", "Participant identity")
	roomTokenCmd.Flags().String("room", "", "Room name (overrides room.room)")
	roomTokenCmd.Flags().Duration("valid-for", time.Hour, "Token lifetime")

	roomCmd.AddCommand(roomTokenCmd)
}
