package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aschepis/backscratcher/recall/client"
	"github.com/aschepis/backscratcher/recall/config"
	"github.com/aschepis/backscratcher/recall/memory"
	"github.com/aschepis/backscratcher/recall/privacy"
	"github.com/aschepis/backscratcher/recall/reactions"
	"github.com/aschepis/backscratcher/recall/server"
)

const usage = `usage: recall [flags] <command> [args]

commands:
  status                                   capabilities and last job runs
  retrieve <owner> <query>                 retrieve memories (context from -kind/-guild/-channel/-public)
  remember <owner> <summary>               store a fact
  promote <memory-id>                      promote a memory to semantic
  protect <owner> <memory-id>              stop a memory from decaying
  unprotect <owner> <memory-id>            restore normal decay
  link <message-id> <memory-id>            count reactions on a message toward a memory
  react <message-id> <reactor> <emoji>     record a reaction (-sentiment/-intensity/-intent/-relevance)
  unreact <message-id> <reactor> <emoji>   retract a reaction
  run decay|aggregation                    run a maintenance job now
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", config.GetConfigPath(), "Path to config file")
		address    = flag.String("addr", "", "Daemon socket path or TCP address (overrides config)")
		timeout    = flag.Duration("timeout", 30*time.Second, "Request timeout")
		kind       = flag.String("kind", string(privacy.KindDirectMessage), "Context kind: dm, guild_channel or guild_thread")
		guildID    = flag.String("guild", "", "Guild id")
		channelID  = flag.String("channel", "", "Channel id")
		public     = flag.String("public", "", "Whether everyone can read the channel (true/false, empty if unknown)")
		topK       = flag.Int("k", 0, "Number of memories to retrieve")
		memType    = flag.String("type", string(memory.MemoryTypeEpisodic), "Memory type for remember")
		confidence = flag.Float64("confidence", 0.7, "Confidence for remember")
		sentiment  = flag.Float64("sentiment", 0, "Reaction sentiment in [-1,1]")
		intensity  = flag.Float64("intensity", 0.5, "Reaction intensity in [0,1]")
		intent     = flag.String("intent", "", "Reaction intent")
		relevance  = flag.String("relevance", "", "Reaction relevance")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return fmt.Errorf("missing command")
	}

	target := *address
	if target == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		target = cfg.Server.Socket
		if cfg.Server.TCP != "" {
			target = cfg.Server.TCP
		}
	}

	pctx := privacy.Context{Kind: privacy.ContextKind(*kind), GuildID: *guildID, ChannelID: *channelID}
	if *public != "" {
		v, err := strconv.ParseBool(*public)
		if err != nil {
			return fmt.Errorf("-public: %w", err)
		}
		pctx.EveryoneCanRead = &v
	}

	c, err := client.Connect(target)
	if err != nil {
		return err
	}
	defer c.Close() //nolint:errcheck // No remedy for client close errors

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	need := func(n int) error {
		if len(args) != n+1 {
			return fmt.Errorf("%s takes %d argument(s)", args[0], n)
		}
		return nil
	}

	var out any
	switch args[0] {
	case "status":
		out, err = c.Capabilities(ctx)
	case "retrieve":
		if err := need(2); err != nil {
			return err
		}
		out, err = c.Retrieve(ctx, server.RetrieveRequest{OwnerID: args[1], Query: args[2], Context: pctx, TopK: *topK})
	case "remember":
		if err := need(2); err != nil {
			return err
		}
		out, err = c.Update(ctx, server.UpdateRequest{
			OwnerID:   args[1],
			Candidate: memory.Candidate{Summary: args[2], Type: memory.MemoryType(*memType), Confidence: *confidence},
			Context:   pctx,
		})
	case "promote":
		if err := need(1); err != nil {
			return err
		}
		out, err = c.Promote(ctx, args[1])
	case "protect", "unprotect":
		if err := need(2); err != nil {
			return err
		}
		out, err = c.SetProtected(ctx, server.SetProtectedRequest{OwnerID: args[1], ID: args[2], Protected: args[0] == "protect"})
	case "link":
		if err := need(2); err != nil {
			return err
		}
		err = c.LinkMessage(ctx, server.LinkMessageRequest{MessageID: args[1], MemoryID: args[2]})
		out = map[string]bool{"linked": err == nil}
	case "react":
		if err := need(3); err != nil {
			return err
		}
		err = c.AddReaction(ctx, reactions.Reaction{
			MessageID: args[1],
			ReactorID: args[2],
			Emoji:     args[3],
			Sentiment: *sentiment,
			Intensity: *intensity,
			Intent:    *intent,
			Relevance: *relevance,
		})
		out = map[string]bool{"recorded": err == nil}
	case "unreact":
		if err := need(3); err != nil {
			return err
		}
		var removed bool
		removed, err = c.RemoveReaction(ctx, args[1], args[2], args[3])
		out = map[string]bool{"removed": removed}
	case "run":
		if err := need(1); err != nil {
			return err
		}
		switch args[1] {
		case "decay":
			out, err = c.RunDecay(ctx)
		case "aggregation":
			out, err = c.RunAggregation(ctx)
		default:
			return fmt.Errorf("unknown job %q", args[1])
		}
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
