package main

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-reply/internal/discord"
)

// attachVoice routes speaking updates and Opus packets of vc into rx. The
// returned channel closes once packet reading has stopped, either because
// ctx ended or because the connection closed OpusRecv.
func attachVoice(ctx context.Context, vc *discordgo.VoiceConnection, rx *discord.Receiver) <-chan struct{} {
	// Speaking updates arrive on the voice websocket, not the gateway, so the
	// handler must hang off the VoiceConnection.
	vc.AddHandler(func(v *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
		rx.HandleSpeakingUpdate(v, su)
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		rx.Run(ctx, vc.OpusRecv)
	}()
	return done
}
