package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/biooids/web-rtc-biooids/internal/session"
)

var (
	flagRoomID      string
	flagDisplayName string
	flagSTUNServers []string
	flagMicEnabled  bool
	flagStatusEvery time.Duration
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a call room and stay connected until interrupted",
	Example: `  biooids-call-agent join --room standup
  biooids-call-agent join --room standup --name observer --mic=false
  biooids-call-agent join --server wss://calls.example.com/ws --room standup \
    --stun stun:stun.l.google.com:19302`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(cmd.Context())
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagRoomID, "room", "", "room to join (required)")
	joinCmd.Flags().StringVar(&flagDisplayName, "name", "agent", "display name shown to other participants")
	joinCmd.Flags().StringSliceVar(&flagSTUNServers, "stun", nil, "STUN server URL, repeatable")
	joinCmd.Flags().BoolVar(&flagMicEnabled, "mic", true, "start with the microphone enabled")
	joinCmd.Flags().DurationVar(&flagStatusEvery, "status-every", 30*time.Second, "interval between room status log lines")
	_ = joinCmd.MarkFlagRequired("room")

	rootCmd.AddCommand(joinCmd)
}

func runJoin(ctx context.Context) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	var iceServers []webrtc.ICEServer
	for _, u := range flagSTUNServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := session.Join(ctx, session.Config{
		ServerURL:   flagServerURL,
		RoomID:      flagRoomID,
		DisplayName: flagDisplayName,
		Logger:      logger,
		ICEServers:  iceServers,
	})
	if err != nil {
		return err
	}
	defer sess.Leave()

	if !flagMicEnabled {
		sess.SetMicrophoneEnabled(false)
	}

	ticker := time.NewTicker(flagStatusEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("interrupted, leaving call")
			return nil
		case <-sess.Done():
			logger.Info("session closed by server")
			return nil
		case <-ticker.C:
			state := sess.State()
			logger.Info("room status",
				"self_id", state.SelfID,
				"host_id", state.HostID,
				"peers", len(state.Peers),
				"everyone_muted", state.EveryoneMuted,
				"exempt", len(state.AllowedToSpeak),
				"chat_messages", len(state.Chat),
			)
		}
	}
}
