package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	entitiesrepo "github.com/moddy-bot/moddy/domains/entities/be/repo"
	entitiesservice "github.com/moddy-bot/moddy/domains/entities/be/service"
	errorlogservice "github.com/moddy-bot/moddy/domains/errorlog/be/service"
	guildcacheservice "github.com/moddy-bot/moddy/domains/guildcache/be/service"
	"github.com/moddy-bot/moddy/platform/go/guard"
	platformlogging "github.com/moddy-bot/moddy/platform/go/logging"
	"github.com/moddy-bot/moddy/platform/go/persistence"
	"github.com/moddy-bot/moddy/platform/go/setups"
)

type config struct {
	setups.Database
	DiscordToken        string        `env:"DISCORD_TOKEN,required"`
	DefaultPrefix       string        `env:"DEFAULT_PREFIX" envDefault:"!"`
	DeveloperIDs        []int64       `env:"DEVELOPER_IDS" envSeparator:","`
	BlacklistFailPolicy string        `env:"BLACKLIST_FAIL_POLICY" envDefault:"open"`
	BlacklistTTL        time.Duration `env:"BLACKLIST_CACHE_TTL" envDefault:"10m"`
	ErrorRetention      time.Duration `env:"ERROR_RETENTION" envDefault:"720h"`
	CleanupInterval     time.Duration `env:"ERROR_CLEANUP_INTERVAL" envDefault:"24h"`
	GuildCacheMaxAge    time.Duration `env:"GUILD_CACHE_MAX_AGE" envDefault:"168h"`
	CommandTimeout      time.Duration `env:"BOT_COMMAND_TIMEOUT" envDefault:"15s"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
	ApplySchema         bool          `env:"APPLY_SCHEMA" envDefault:"true"`
}

func main() {
	var cfg config
	if err := setups.Load(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "bot",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("bot stopped", zap.Error(err))
	}
	logger.Info("bot stopped")
}

func run(cfg config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := guard.ParseFailPolicy(cfg.BlacklistFailPolicy)
	if err != nil {
		return err
	}

	pool, err := persistence.NewPool(ctx, cfg.PoolConfig("moddy-bot"))
	if err != nil {
		return fmt.Errorf("init postgres pool: %w", err)
	}
	defer persistence.ClosePool(pool)

	if cfg.ApplySchema {
		if err := persistence.ApplySchema(ctx, pool); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	store, err := persistence.NewEntityStore(pool)
	if err != nil {
		return err
	}
	errorLog, err := persistence.NewErrorLog(pool)
	if err != nil {
		return err
	}
	guildCache, err := persistence.NewGuildCache(pool)
	if err != nil {
		return err
	}

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	errorLogService := errorlogservice.New(errorLog)

	bot := New(Deps{
		Entities:  entitiesservice.New(entitiesrepo.New(pool)),
		Blacklist: guard.NewBlacklistChecker(store, guard.BlacklistConfig{Policy: policy, TTL: cfg.BlacklistTTL, Logger: logger}),
		Staff:     guard.NewStaffChecker(store, cfg.DeveloperIDs),
		ErrorLog:  errorLogService,
		Guilds: guildcacheservice.New(guildCache, guildcacheservice.FetcherFunc(func(ctx context.Context, guildID int64) (persistence.GuildInfo, error) {
			g, err := session.GuildWithCounts(strconv.FormatInt(guildID, 10), discordgo.WithContext(ctx))
			if err != nil {
				return persistence.GuildInfo{}, err
			}
			return guildInfoFrom(g)
		}), cfg.GuildCacheMaxAge, logger),
		Permissions: func(userID, channelID string) (int64, error) {
			return session.UserChannelPermissions(userID, channelID)
		},
		DefaultPrefix:  cfg.DefaultPrefix,
		CommandTimeout: cfg.CommandTimeout,
		Logger:         logger,
	})

	removeHandlers := []func(){
		session.AddHandler(bot.onMessageCreate),
		session.AddHandler(bot.onGuildCreate),
		session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
			logger.Info("connected to gateway", zap.String("user", r.User.Username), zap.Int("guilds", len(r.Guilds)))
		}),
	}
	defer func() {
		for _, remove := range removeHandlers {
			remove()
		}
	}()

	retention := errorlogservice.NewRetentionWorker(errorLogService, cfg.ErrorRetention, cfg.CleanupInterval, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := session.Open(); err != nil {
			return fmt.Errorf("open discord session: %w", err)
		}
		<-gctx.Done()
		return session.Close()
	})
	g.Go(func() error {
		return retention.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
