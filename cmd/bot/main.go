package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-reply/internal/asr"
	"github.com/discord-voice-reply/internal/audio"
	"github.com/discord-voice-reply/internal/capture"
	"github.com/discord-voice-reply/internal/config"
	"github.com/discord-voice-reply/internal/conversation"
	"github.com/discord-voice-reply/internal/discord"
	"github.com/discord-voice-reply/internal/logging"
	"github.com/discord-voice-reply/internal/mcp"
	"github.com/discord-voice-reply/internal/voice"
	"github.com/discord-voice-reply/llm"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "status" {
		os.Exit(runStatus(os.Args[2:], os.Stdout))
	}

	logging.Init()
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.FatalExitf("invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Errorw("bot stopped with error", "err", err)
		_ = logging.Sync()
		os.Exit(1)
	}
	logging.Infow("shutdown complete")
}

func run(ctx context.Context, cfg config.Config) error {
	if cfg.DiscordToken == "" {
		return errors.New("DISCORD_BOT_TOKEN required")
	}
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("discordgo.New: %w", err)
	}
	// Guilds + GuildVoiceStates are enough to follow who sits in which
	// voice channel; nicknames come from the member cache when present.
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	privileged := discordgo.IntentsGuildMembers | discordgo.IntentsGuildPresences
	if dg.Identify.Intents&privileged != 0 {
		logging.Warnw("bot is requesting privileged gateway intents; ensure these are enabled in the Discord Developer Portal", "intents", dg.Identify.Intents)
	}

	p, err := buildPipeline(ctx, cfg, dg)
	if err != nil {
		return err
	}
	sess, rx, dispatcher := p.sess, p.rx, p.dispatcher
	defer sess.Close()

	if cfg.MCPListenAddr != "" {
		status := mcp.NewStatusServer(sess, func() map[string]int64 {
			return statusCounters(rx.Stats(), dispatcher.Stats(), p.asr)
		})
		go func() {
			if err := status.ListenAndServe(ctx, cfg.MCPListenAddr); err != nil {
				logging.Errorw("status server failed", "err", err)
			}
		}()
	}

	dg.AddHandler(func(s *discordgo.Session, evt *discordgo.Event) {
		logGatewayEvent(evt)
	})

	logging.Infow("opening discord session", "intents", dg.Identify.Intents)
	if err := dg.Open(); err != nil {
		return fmt.Errorf("discord session open: %w", err)
	}
	defer func() {
		if err := dg.Close(); err != nil {
			logging.Warnw("discord session close error", "err", err)
		}
	}()

	go func() {
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Errorw("voice session stopped", "err", err)
		}
	}()

	if cfg.GuildID == "" || cfg.VoiceChannelID == "" {
		logging.Warnw("GUILD_ID or VOICE_CHANNEL_ID not set; not joining voice")
		<-ctx.Done()
		return nil
	}

	logging.Infow("joining voice channel", logging.ChannelFields(cfg.VoiceChannelID, "")...)
	vc, err := dg.ChannelVoiceJoin(cfg.GuildID, cfg.VoiceChannelID, true, false)
	if err != nil {
		return fmt.Errorf("voice join: %w", err)
	}
	pumped := attachVoice(ctx, vc, rx)
	logging.Infow("voice joined", append(logging.GuildFields(cfg.GuildID, ""), "channel.id", cfg.VoiceChannelID)...)

	<-ctx.Done()
	logging.Infow("shutdown signal received, closing resources")
	if err := sess.Close(); err != nil {
		logging.Warnw("voice session close error", "err", err)
	}
	if err := vc.Disconnect(); err != nil {
		logging.Warnw("voice disconnect error", "err", err)
	}
	<-pumped
	logging.Infow("pipeline stats at shutdown", "stats", sess.Stats(), "receiver", rx.Stats(), "dispatch", dispatcher.Stats())
	return nil
}

// pipeline holds the components run wires around the discord session.
type pipeline struct {
	asr        *asr.Client
	store      *capture.Store
	sess       *voice.Session
	rx         *discord.Receiver
	dispatcher *discord.Dispatcher
}

// buildPipeline creates every component that does not need an open gateway
// connection. Background work it starts (ASR preload, capture cleanup) ends
// with ctx.
func buildPipeline(ctx context.Context, cfg config.Config, dg *discordgo.Session) (*pipeline, error) {
	asrClient := asr.NewClient(cfg.ASRURL, cfg.ASRHMACSecret, cfg.ASRTimeout)
	asrClient.MaxSeconds = cfg.ASRMaxSeconds
	go func() {
		pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if info, err := asrClient.Preload(pctx); err != nil {
			logging.Warnw("asr preload failed; first request will load the model", "err", err)
		} else {
			logging.Infow("asr model preloaded", "info", info)
		}
	}()

	llmClient := llm.NewClient(llm.Options{
		BaseURL:       cfg.LLMBaseURL,
		APIKey:        cfg.LLMAPIKey,
		Model:         cfg.LLMModel,
		FallbackModel: cfg.LLMFallbackModel,
		MaxTokens:     cfg.LLMMaxTokens,
		Timeout:       cfg.LLMTimeout,
	})
	generator := &conversation.Generator{
		LLM:         llmClient,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		Timeout:     cfg.LLMTimeout,
	}

	classifier, err := newClassifier(cfg)
	if err != nil {
		return nil, err
	}

	dispatcher := discord.NewDispatcher(discord.SessionSurface{S: dg, GuildID: cfg.GuildID}, cfg.OutputChannelID)
	deps := voice.Deps{
		Recognizer: asrClient,
		Replier:    generator,
		Dispatcher: dispatcher,
		Resolver:   discord.NewResolver(dg, cfg.GuildID),
	}

	store, err := capture.NewStore(cfg.SaveAudioDir)
	if err != nil {
		return nil, fmt.Errorf("capture store: %w", err)
	}
	if store != nil {
		deps.Recorder = store
		go store.StartCleaner(ctx, 10*time.Minute, cfg.SaveAudioRetention, cfg.SaveAudioMaxFiles)
		logging.Infow("saving recognized segments", "dir", cfg.SaveAudioDir)
	}

	sess := voice.NewSession(voice.Options{
		WarmupBytes:       audio.CaptureBytes(int(cfg.Warmup / time.Millisecond)),
		PartialFlushBytes: audio.CaptureBytes(int(cfg.PartialFlush / time.Millisecond)),
		Language:          cfg.ASRLanguage,
		Classifier:        classifier,
		MaxWorkers:        cfg.MaxWorkers,
		MaxPending:        cfg.MaxPendingSegments,
		Conversation: conversation.Options{
			WindowSize:   cfg.ReplyWindowSize,
			Cooldown:     cfg.ReplyCooldown,
			MinFragments: cfg.ReplyMinFragments,
			HistoryMax:   cfg.HistoryMaxTurns,
		},
	}, deps)

	rx := discord.NewReceiver(sess.Ingress(), cfg.SilenceFlush)
	rx.SetAllowedUsers(cfg.AllowedUserIDs)

	return &pipeline{asr: asrClient, store: store, sess: sess, rx: rx, dispatcher: dispatcher}, nil
}

func newClassifier(cfg config.Config) (audio.Classifier, error) {
	switch cfg.VADBackend {
	case "off":
		return nil, nil
	case "energy":
		return audio.EnergyClassifier{Threshold: cfg.VADRMSThreshold}, nil
	default:
		c, err := audio.NewWebRTCClassifier(cfg.VADMode)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func statusCounters(rs discord.ReceiverStats, ds discord.DispatchStats, asrClient *asr.Client) map[string]int64 {
	requests, failures := asrClient.Stats()
	return map[string]int64{
		"receiver.packets":       rs.Packets,
		"receiver.decode_errors": rs.DecodeErrors,
		"receiver.dropped":       rs.Dropped,
		"dispatch.delivered":     ds.Delivered,
		"dispatch.skipped":       ds.Skipped,
		"dispatch.failed":        ds.Failed,
		"asr.requests":           requests,
		"asr.failures":           failures,
	}
}
