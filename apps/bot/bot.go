package main

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	entitiesservice "github.com/moddy-bot/moddy/domains/entities/be/service"
	errorlogservice "github.com/moddy-bot/moddy/domains/errorlog/be/service"
	guildcacheservice "github.com/moddy-bot/moddy/domains/guildcache/be/service"
	"github.com/moddy-bot/moddy/platform/go/guard"
	platformlogging "github.com/moddy-bot/moddy/platform/go/logging"
	"github.com/moddy-bot/moddy/platform/go/persistence"
	"github.com/moddy-bot/moddy/platform/go/requesttrace"
)

// messenger is the part of *discordgo.Session the bot replies through.
type messenger interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// PermissionFunc returns the permission bits a user has in a channel.
type PermissionFunc func(userID, channelID string) (int64, error)

// Deps wires a Bot.
type Deps struct {
	Entities       entitiesservice.Service
	Blacklist      *guard.BlacklistChecker
	Staff          *guard.StaffChecker
	ErrorLog       errorlogservice.Service
	Guilds         *guildcacheservice.Service
	Permissions    PermissionFunc
	DefaultPrefix  string
	CommandTimeout time.Duration
	Logger         *zap.Logger
}

// Bot routes prefixed chat commands to the stores.
type Bot struct {
	entities  entitiesservice.Service
	blacklist *guard.BlacklistChecker
	staff     *guard.StaffChecker
	errorLog  errorlogservice.Service
	guilds    *guildcacheservice.Service
	perms     PermissionFunc
	prefixes  *prefixCache
	commands  map[string]command
	timeout   time.Duration
	logger    *zap.Logger
}

func New(deps Deps) *Bot {
	if deps.Entities == nil || deps.Blacklist == nil || deps.Staff == nil || deps.ErrorLog == nil || deps.Guilds == nil {
		panic("bot dependencies are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := deps.CommandTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	b := &Bot{
		entities:  deps.Entities,
		blacklist: deps.Blacklist,
		staff:     deps.Staff,
		errorLog:  deps.ErrorLog,
		guilds:    deps.Guilds,
		perms:     deps.Permissions,
		prefixes:  newPrefixCache(deps.Entities, deps.DefaultPrefix, logger),
		timeout:   timeout,
		logger:    logger,
	}
	b.commands = b.registry()
	return b
}

// invocation is one parsed command message.
type invocation struct {
	name      string
	args      []string
	userID    int64
	guildID   int64
	channelID string
	messageID string
}

// parseInvocation splits "<prefix>name arg..." into a lower-cased name and its arguments.
func parseInvocation(content, prefix string) (string, []string, bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(content[len(prefix):])
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	b.handleMessage(ctx, s, m.Message)
}

func (b *Bot) onGuildCreate(s *discordgo.Session, e *discordgo.GuildCreate) {
	if e.Guild == nil || e.Unavailable {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	b.rememberGuild(ctx, e.Guild)
}

func (b *Bot) rememberGuild(ctx context.Context, g *discordgo.Guild) {
	info, err := guildInfoFrom(g)
	if err != nil {
		b.logger.Warn("skip guild snapshot", zap.String("guild", g.ID), zap.Error(err))
		return
	}
	if err := b.guilds.Remember(ctx, info, persistence.SourceBotJoin); err != nil {
		b.logger.Warn("cache guild info failed", zap.Int64("guild_id", info.GuildID), zap.Error(err))
	}
}

func (b *Bot) handleMessage(ctx context.Context, out messenger, msg *discordgo.Message) {
	if msg == nil || msg.Author == nil || msg.Author.Bot {
		return
	}
	userID, err := strconv.ParseInt(msg.Author.ID, 10, 64)
	if err != nil {
		return
	}
	var guildID int64
	if msg.GuildID != "" {
		if guildID, err = strconv.ParseInt(msg.GuildID, 10, 64); err != nil {
			return
		}
	}

	name, args, ok := parseInvocation(msg.Content, b.prefixes.Resolve(ctx, guildID))
	if !ok {
		return
	}
	cmd, ok := b.commands[name]
	if !ok {
		return
	}

	// Storage failures are logged by the checker; the verdict already applies the fail policy.
	if blocked, _ := b.blacklist.IsBlacklisted(ctx, userID); blocked {
		b.logger.Debug("ignoring blacklisted user", zap.Int64("user_id", userID))
		return
	}

	inv := invocation{
		name:      name,
		args:      args,
		userID:    userID,
		guildID:   guildID,
		channelID: msg.ChannelID,
		messageID: msg.ID,
	}
	logger := b.logger.With(
		zap.String("command", name),
		zap.Int64("user_id", userID),
		zap.Int64("guild_id", guildID),
	)
	ctx = requesttrace.IntoContext(ctx, requesttrace.User(userID, msg.ID))
	ctx = platformlogging.WithLogger(ctx, logger)

	reply := b.dispatch(ctx, cmd, inv)
	if reply == "" {
		return
	}
	if _, err := out.ChannelMessageSend(msg.ChannelID, reply); err != nil {
		logger.Warn("send reply failed", zap.Error(err))
	}
}

func (b *Bot) dispatch(ctx context.Context, cmd command, inv invocation) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			reply = b.failure(ctx, inv, fmt.Errorf("panic: %v", r), string(debug.Stack()))
		}
	}()

	if cmd.staffOnly {
		allowed, err := b.staff.IsStaff(ctx, inv.userID)
		if err != nil {
			return b.failure(ctx, inv, err, "")
		}
		if !allowed {
			return "This command is restricted to the Moddy team."
		}
	}

	reply, err := cmd.run(ctx, b, inv)
	if err == nil {
		return reply
	}

	var usage usageError
	if errors.As(err, &usage) {
		return string(usage)
	}
	var valErr *entitiesservice.ValidationError
	if errors.As(err, &valErr) {
		return "Invalid input: " + describeFields(valErr.Fields)
	}
	return b.failure(ctx, inv, err, "")
}

// failure records err in the error log and returns the reply quoting its code.
func (b *Bot) failure(ctx context.Context, inv invocation, err error, traceback string) string {
	logger := platformlogging.FromContextOr(ctx, b.logger)
	code, recErr := b.errorLog.Record(context.WithoutCancel(ctx), errorlogservice.RecordInput{
		Type:      errorType(err),
		Message:   err.Error(),
		Traceback: traceback,
		UserID:    inv.userID,
		GuildID:   inv.guildID,
		Command:   inv.name,
		Context: map[string]any{
			"args":       inv.args,
			"channel_id": inv.channelID,
			"message_id": inv.messageID,
		},
	})
	if recErr != nil {
		logger.Error("command failed and could not be recorded", zap.Error(err), zap.NamedError("record_error", recErr))
		return "Something went wrong."
	}
	logger.Error("command failed", zap.String("error_code", code), zap.Error(err))
	return fmt.Sprintf("Something went wrong. Error code: `%s`", code)
}

// knownErrors names the sentinels worth grouping by in the error log, most specific first.
var knownErrors = []struct {
	err  error
	name string
}{
	{entitiesservice.ErrActorRequired, "ActorRequired"},
	{guildcacheservice.ErrGuildUnknown, "GuildUnknown"},
	{persistence.ErrMalformedInput, "MalformedInput"},
	{persistence.ErrStorageUnavailable, "StorageUnavailable"},
	{entitiesservice.ErrUnavailable, "StorageUnavailable"},
	{context.DeadlineExceeded, "DeadlineExceeded"},
	{context.Canceled, "Canceled"},
}

// errorType classifies err for the error log: a known sentinel by name, otherwise
// the type of the innermost error, following the last operand of multi-%w wraps.
func errorType(err error) string {
	for _, known := range knownErrors {
		if errors.Is(err, known.err) {
			return known.name
		}
	}
	for {
		var next error
		switch e := err.(type) {
		case interface{ Unwrap() error }:
			next = e.Unwrap()
		case interface{ Unwrap() []error }:
			if errs := e.Unwrap(); len(errs) > 0 {
				next = errs[len(errs)-1]
			}
		}
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}

// usageError is a message shown to the user verbatim.
type usageError string

func (e usageError) Error() string { return string(e) }

func describeFields(fields entitiesservice.FieldErrors) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+strings.Join(fields[name], ", "))
	}
	return strings.Join(parts, "; ")
}

// guildInfoFrom maps a platform guild to the cache snapshot.
func guildInfoFrom(g *discordgo.Guild) (persistence.GuildInfo, error) {
	id, err := strconv.ParseInt(g.ID, 10, 64)
	if err != nil {
		return persistence.GuildInfo{}, fmt.Errorf("parse guild id %q: %w", g.ID, err)
	}
	features := make([]string, 0, len(g.Features))
	for _, f := range g.Features {
		features = append(features, string(f))
	}
	memberCount := g.MemberCount
	if memberCount == 0 {
		memberCount = g.ApproximateMemberCount
	}
	info := persistence.GuildInfo{
		GuildID:     id,
		Name:        g.Name,
		Features:    features,
		MemberCount: memberCount,
		Raw: map[string]any{
			"owner_id":         g.OwnerID,
			"preferred_locale": g.PreferredLocale,
		},
	}
	if g.Icon != "" {
		info.IconURL = g.IconURL("")
	}
	if created, err := discordgo.SnowflakeTimestamp(g.ID); err == nil {
		info.CreatedAt = &created
	}
	return info, nil
}
