package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/telemeet/telemeet/internal/adapters/rtc"
	"github.com/telemeet/telemeet/internal/adapters/ws"
	"github.com/telemeet/telemeet/internal/app"
	"github.com/telemeet/telemeet/internal/config"
	"github.com/telemeet/telemeet/internal/core"
	"github.com/telemeet/telemeet/internal/domain"
	"github.com/telemeet/telemeet/internal/media"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	roomFlag := flag.String("room", "", "room id to join")
	nameFlag := flag.String("name", "", "display name")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}
	if *roomFlag == "" {
		log.Fatal().Msg("-room is required")
	}
	name := *nameFlag
	if name == "" {
		name = cfg.DisplayName
	}

	channel := ws.NewChannel(cfg.RelayEndpoint, cfg.AuthToken, ws.WithBackoff(ws.Backoff{
		Initial:     cfg.BackoffInitial,
		Max:         cfg.BackoffMax,
		MaxAttempts: cfg.BackoffAttempts,
	}))
	source := media.NewSource(media.SyntheticOpener{})

	rtcCfg := rtc.DefaultWebRTCConfig(cfg.ICEServers)
	newConn := func(peer domain.ParticipantID) (core.MediaConnection, error) {
		return rtc.NewWebRTCConnection(rtcCfg, peer)
	}

	sess := app.NewSession(app.Config{
		Room:               domain.RoomID(*roomFlag),
		DisplayName:        name,
		JoinTimeout:        cfg.JoinTimeout,
		NegotiationTimeout: cfg.NegotiationTimeout,
		LinkRetries:        1,
	}, channel, source, newConn)

	ended := make(chan struct{})
	sess.OnRemoteTrack(func(peer domain.ParticipantID, track *webrtc.TrackRemote) {
		log.Info().Str("peer", string(peer)).Str("kind", track.Kind().String()).Msg("remote media arrived")
	})
	sess.OnChat(func(msg domain.ChatMessage) {
		log.Info().Str("sender", msg.SenderName).Str("text", msg.Text).Msg("chat")
	})
	sess.OnPeerDropped(func(peer domain.ParticipantID, cause error) {
		log.Warn().Err(cause).Str("peer", string(peer)).Msg("peer media dropped")
	})
	sess.OnEnded(func(reason error) {
		log.Info().Err(reason).Msg("session ended")
		close(ended)
	})

	if err := sess.Join(ctx); err != nil {
		log.Fatal().Err(err).Msg("join failed")
	}
	log.Info().Str("room", *roomFlag).Str("self", string(sess.Self().ID)).Msg("in the meeting")

	select {
	case <-ctx.Done():
		sess.Leave()
	case <-ended:
	}
	channel.Close()
}
