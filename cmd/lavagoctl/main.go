// Command lavagoctl is a minimal discordgo bot exercising the lavago
// library end to end: it joins a voice channel, loads a track from a
// single node, and answers three chat commands. It is demonstration
// code, not part of the library's contract.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/caarlos0/env/v9"
	"go.uber.org/zap"

	lavago "github.com/nullwave/lavago-fleet"
)

// firstTrack picks the track lavagoctl will enqueue out of a LoadResult,
// decoding only the subset of the v4 loadtracks response shape a chat
// command needs (a single Track for "track", the first entry for
// "search"/"playlist").
func firstTrack(result *lavago.LoadResult) (lavago.Track, error) {
	switch result.LoadType {
	case "track":
		var t lavago.Track
		if err := json.Unmarshal(result.Data, &t); err != nil {
			return lavago.Track{}, err
		}
		return t, nil
	case "search":
		var tracks []lavago.Track
		if err := json.Unmarshal(result.Data, &tracks); err != nil {
			return lavago.Track{}, err
		}
		if len(tracks) == 0 {
			return lavago.Track{}, errors.New("no results")
		}
		return tracks[0], nil
	case "playlist":
		var playlist struct {
			Tracks []lavago.Track `json:"tracks"`
		}
		if err := json.Unmarshal(result.Data, &playlist); err != nil {
			return lavago.Track{}, err
		}
		if len(playlist.Tracks) == 0 {
			return lavago.Track{}, errors.New("empty playlist")
		}
		return playlist.Tracks[0], nil
	case "empty":
		return lavago.Track{}, errors.New("no matches")
	default:
		var exc struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(result.Data, &exc)
		return lavago.Track{}, fmt.Errorf("load error: %s", exc.Message)
	}
}

// cliConfig is loaded from the environment via caarlos0/env, grounded on
// the env-tag configuration style used by sgrbot and
// Raikerian-go-discord-chatgpt in the retrieved corpus.
type cliConfig struct {
	DiscordToken string `env:"DISCORD_TOKEN,required"`
	NodeHost     string `env:"LAVALINK_HOST" envDefault:"127.0.0.1"`
	NodePort     int    `env:"LAVALINK_PORT" envDefault:"2333"`
	NodePassword string `env:"LAVALINK_PASSWORD" envDefault:"youshallnotpass"`
}

type listener struct {
	lavago.NopEventListener
	logger *zap.Logger
}

func (l listener) TrackStart(p *lavago.Player, track lavago.Track) {
	l.logger.Info("now playing", zap.String("guild", p.GuildID()), zap.String("title", track.Info.Title))
}

func (l listener) QueueEnd(p *lavago.Player) {
	l.logger.Info("queue ended", zap.String("guild", p.GuildID()))
}

func (l listener) NodeDisconnect(n *lavago.Node, code int, reason string) {
	l.logger.Warn("node disconnected", zap.String("node", n.Identifier()), zap.Int("code", code), zap.String("reason", reason))
}

func main() {
	var cfg cliConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("lavagoctl: config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("lavagoctl: logger: %v", err)
	}
	defer logger.Sync()

	sess, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		logger.Fatal("discordgo.New", zap.Error(err))
	}
	sess.Identify.Intents = discordgo.IntentsGuildVoiceStates | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	mgr := lavago.NewManager(
		lavago.DefaultManagerConfig(),
		listener{logger: logger},
		logger,
		func(ctx context.Context, guildID string, channelID *string, selfMute, selfDeaf bool) error {
			cID := ""
			if channelID != nil {
				cID = *channelID
			}
			return sess.ChannelVoiceJoinManual(guildID, cID, selfMute, selfDeaf)
		},
	)
	mgr.WireDiscord(sess)

	nodeCfg := lavago.DefaultNodeConfig("main")
	nodeCfg.Host = cfg.NodeHost
	nodeCfg.Port = cfg.NodePort
	nodeCfg.Password = cfg.NodePassword
	if _, err := mgr.AddNode(nodeCfg); err != nil {
		logger.Fatal("add node", zap.Error(err))
	}

	sess.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		mgr.SetBotUserID(r.User.ID)
		logger.Info("ready", zap.String("user", r.User.Username))
	})
	sess.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		handleMessage(s, m, mgr, logger)
	})

	if err := sess.Open(); err != nil {
		logger.Fatal("discordgo open", zap.Error(err))
	}
	defer sess.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func handleMessage(s *discordgo.Session, m *discordgo.MessageCreate, mgr *lavago.Manager, logger *zap.Logger) {
	if m.Author.Bot {
		return
	}
	ctx := context.Background()

	switch {
	case strings.HasPrefix(m.Content, "!play "):
		query := strings.TrimPrefix(m.Content, "!play ")
		vs, err := findUserVoiceChannel(s, m.GuildID, m.Author.ID)
		if err != nil || vs == "" {
			s.ChannelMessageSend(m.ChannelID, "join a voice channel first")
			return
		}
		if _, err := mgr.CreatePlayer(m.GuildID); err != nil {
			s.ChannelMessageSend(m.ChannelID, "failed to create player: "+err.Error())
			return
		}
		if err := mgr.Connect(ctx, m.GuildID, vs); err != nil {
			s.ChannelMessageSend(m.ChannelID, "failed to connect: "+err.Error())
			return
		}
		result, err := mgr.LoadTracks(ctx, query, m.GuildID)
		if err != nil {
			s.ChannelMessageSend(m.ChannelID, "load failed: "+err.Error())
			return
		}
		track, err := firstTrack(result)
		if err != nil {
			s.ChannelMessageSend(m.ChannelID, "load failed: "+err.Error())
			return
		}
		p, _ := mgr.GetPlayer(m.GuildID)
		p.Queue().Add([]lavago.Track{track.WithRequester(m.Author.ID)})
		if p.State() == lavago.PlayerStopped {
			if err := p.Play(ctx, lavago.PlayOptions{}); err != nil {
				s.ChannelMessageSend(m.ChannelID, "play failed: "+err.Error())
				return
			}
		}
		s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("queued: %s (%s)", track.Info.Title, result.LoadType))

	case strings.HasPrefix(m.Content, "!skip"):
		p, ok := mgr.GetPlayer(m.GuildID)
		if !ok {
			return
		}
		next, err := p.Skip(ctx)
		if err != nil {
			s.ChannelMessageSend(m.ChannelID, "skip failed: "+err.Error())
			return
		}
		if next == nil {
			s.ChannelMessageSend(m.ChannelID, "queue is empty")
			return
		}
		s.ChannelMessageSend(m.ChannelID, "skipped to "+next.Info.Title)

	case strings.HasPrefix(m.Content, "!queue"):
		p, ok := mgr.GetPlayer(m.GuildID)
		if !ok {
			s.ChannelMessageSend(m.ChannelID, "nothing playing")
			return
		}
		upcoming := p.Queue().Upcoming()
		var b strings.Builder
		fmt.Fprintf(&b, "state: %s\n", p.State())
		for i, t := range upcoming {
			fmt.Fprintf(&b, "%d. %s\n", i+1, t.Info.Title)
		}
		s.ChannelMessageSend(m.ChannelID, b.String())
	}
}

func findUserVoiceChannel(s *discordgo.Session, guildID, userID string) (string, error) {
	guild, err := s.State.Guild(guildID)
	if err != nil {
		return "", err
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID, nil
		}
	}
	return "", nil
}
