package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	entitiesrepo "github.com/moddy-bot/moddy/domains/entities/be/repo"
	entitiesservice "github.com/moddy-bot/moddy/domains/entities/be/service"
	errorlogservice "github.com/moddy-bot/moddy/domains/errorlog/be/service"
	guildcacheservice "github.com/moddy-bot/moddy/domains/guildcache/be/service"
	"github.com/moddy-bot/moddy/platform/go/guard"
	"github.com/moddy-bot/moddy/platform/go/persistence"
	"github.com/moddy-bot/moddy/platform/go/requesttrace"
)

const developerID = 900

type sentMessage struct {
	channelID string
	content   string
}

type fakeMessenger struct {
	sent []sentMessage
}

func (f *fakeMessenger) ChannelMessageSend(channelID string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.sent = append(f.sent, sentMessage{channelID: channelID, content: content})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *fakeMessenger) last(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1].content
}

type memoryErrorStore struct {
	mu      sync.Mutex
	records map[string]persistence.ErrorRecord
}

func (m *memoryErrorStore) LogError(ctx context.Context, rec persistence.ErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = map[string]persistence.ErrorRecord{}
	}
	m.records[rec.Code] = rec
	return nil
}

func (m *memoryErrorStore) GetError(ctx context.Context, code string) (persistence.ErrorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[code]
	if !ok {
		return persistence.ErrorRecord{}, persistence.ErrErrorNotFound
	}
	return rec, nil
}

func (m *memoryErrorStore) CleanupOldErrors(ctx context.Context, olderThanDays int) (int64, error) {
	return 0, nil
}

type memoryGuildStore struct {
	cached map[int64]persistence.CachedGuild
}

func (m *memoryGuildStore) CacheGuildInfo(ctx context.Context, info persistence.GuildInfo, source persistence.UpdateSource) error {
	if m.cached == nil {
		m.cached = map[int64]persistence.CachedGuild{}
	}
	m.cached[info.GuildID] = persistence.CachedGuild{GuildInfo: info, LastUpdated: time.Now(), UpdateSource: source}
	return nil
}

func (m *memoryGuildStore) GetCachedGuild(ctx context.Context, guildID int64, maxAge time.Duration) (persistence.CachedGuild, error) {
	cached, ok := m.cached[guildID]
	if !ok {
		return persistence.CachedGuild{}, persistence.ErrGuildNotCached
	}
	return cached, nil
}

type testBot struct {
	*Bot
	repo   *entitiesrepo.MemoryRepository
	errors *memoryErrorStore
	guilds *memoryGuildStore
	out    *fakeMessenger
}

func newTestBot(t *testing.T, entities entitiesservice.Service) *testBot {
	t.Helper()
	logger := zaptest.NewLogger(t)
	repo := entitiesrepo.NewMemoryRepository()
	if entities == nil {
		entities = entitiesservice.New(repo)
	}
	errStore := &memoryErrorStore{}
	guildStore := &memoryGuildStore{}

	bot := New(Deps{
		Entities:  entities,
		Blacklist: guard.NewBlacklistChecker(repo, guard.BlacklistConfig{Policy: guard.FailOpen, Logger: logger}),
		Staff:     guard.NewStaffChecker(repo, []int64{developerID}),
		ErrorLog:  errorlogservice.New(errStore),
		Guilds:    guildcacheservice.New(guildStore, nil, time.Hour, logger),
		Logger:    logger,
	})
	return &testBot{Bot: bot, repo: repo, errors: errStore, guilds: guildStore, out: &fakeMessenger{}}
}

func (tb *testBot) send(userID, guildID, content string) {
	tb.handleMessage(context.Background(), tb.out, &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   guildID,
		Content:   content,
		Author:    &discordgo.User{ID: userID},
	})
}

func TestParseInvocation(t *testing.T) {
	testCases := []struct {
		name     string
		content  string
		prefix   string
		wantName string
		wantArgs []string
		wantOK   bool
	}{
		{name: "simple", content: "!ping", prefix: "!", wantName: "ping", wantArgs: []string{}, wantOK: true},
		{name: "args and case", content: "!ATTR get user 1  BETA", prefix: "!", wantName: "attr", wantArgs: []string{"get", "user", "1", "BETA"}, wantOK: true},
		{name: "space after prefix", content: "m? lang fr", prefix: "m?", wantName: "lang", wantArgs: []string{"fr"}, wantOK: true},
		{name: "other prefix", content: "?ping", prefix: "!"},
		{name: "prefix only", content: "!  ", prefix: "!"},
		{name: "empty prefix", content: "ping", prefix: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			name, args, ok := parseInvocation(tc.content, tc.prefix)
			require.Equal(t, tc.wantOK, ok)
			if !tc.wantOK {
				return
			}
			require.Equal(t, tc.wantName, name)
			require.Equal(t, tc.wantArgs, args)
		})
	}
}

func TestPing(t *testing.T) {
	tb := newTestBot(t, nil)
	tb.send("1", "", "!ping")
	require.Equal(t, "Pong!", tb.out.last(t))

	tb.handleMessage(context.Background(), tb.out, &discordgo.Message{ChannelID: "c1", Content: "!ping", Author: &discordgo.User{ID: "2", Bot: true}})
	require.Len(t, tb.out.sent, 1)
}

func TestLangRecordsActor(t *testing.T) {
	tb := newTestBot(t, nil)

	tb.send("1", "", "!lang fr")
	require.Equal(t, "Language set to FR.", tb.out.last(t))

	tb.send("1", "", "!lang")
	require.Equal(t, "Your language is FR.", tb.out.last(t))

	tb.send("1", "", "!lang reset")
	require.Equal(t, "Language reset.", tb.out.last(t))

	tb.send("1", "", "!lang french")
	require.Contains(t, tb.out.last(t), "Language codes")

	changes, err := tb.repo.ListAttributeChanges(context.Background(), persistence.AttributeChangeFilter{EntityType: persistence.EntityUser, EntityID: 1})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	require.Nil(t, changes[0].NewValue)
	require.Equal(t, "FR", *changes[0].OldValue)
	require.Nil(t, changes[1].OldValue)
	require.Equal(t, "FR", *changes[1].NewValue)
	for _, c := range changes {
		require.Equal(t, int64(1), c.ChangedBy)
	}
}

func TestAttrIsStaffOnly(t *testing.T) {
	tb := newTestBot(t, nil)
	tb.send("5", "", "!attr set user 7 BETA true")
	require.Contains(t, tb.out.last(t), "restricted")

	ok, err := tb.repo.HasAttribute(context.Background(), persistence.EntityUser, 7, "BETA")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBlacklistInvalidatedByAttrCommand(t *testing.T) {
	tb := newTestBot(t, nil)

	tb.send("2", "", "!ping")
	require.Len(t, tb.out.sent, 1)

	tb.send("900", "", "!attr set user 2 blacklisted true spamming commands")
	require.Equal(t, "user 2 `BLACKLISTED` = True", tb.out.last(t))

	tb.send("2", "", "!ping")
	require.Len(t, tb.out.sent, 2)

	tb.send("900", "", "!attr unset user <@2> BLACKLISTED appeal accepted")
	tb.send("2", "", "!ping")
	require.Equal(t, "Pong!", tb.out.last(t))

	changes, err := tb.repo.ListAttributeChanges(context.Background(), persistence.AttributeChangeFilter{AttributeName: "BLACKLISTED"})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	require.Equal(t, "appeal accepted", changes[0].Reason)
	require.Equal(t, "spamming commands", changes[1].Reason)
	require.Equal(t, int64(developerID), changes[1].ChangedBy)
}

func TestGuildPrefix(t *testing.T) {
	tb := newTestBot(t, nil)

	tb.send("900", "42", "!prefix ?")
	require.Equal(t, "Prefix set to `?`.", tb.out.last(t))

	tb.send("1", "42", "!ping")
	require.Len(t, tb.out.sent, 1)

	tb.send("1", "42", "?ping")
	require.Equal(t, "Pong!", tb.out.last(t))

	tb.send("1", "", "!ping")
	require.Equal(t, "Pong!", tb.out.last(t))

	entity, err := tb.repo.GetOrCreate(context.Background(), persistence.EntityGuild, 42)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"config": map[string]any{"prefix": "?"}}, entity.Data)
}

func TestPrefixNeedsPermission(t *testing.T) {
	tb := newTestBot(t, nil)
	tb.perms = func(userID, channelID string) (int64, error) {
		if userID == "3" {
			return discordgo.PermissionManageGuild, nil
		}
		return 0, nil
	}

	tb.send("1", "42", "!prefix ?")
	require.Contains(t, tb.out.last(t), "Manage Server")

	tb.send("3", "42", "!prefix toolong")
	require.Contains(t, tb.out.last(t), "at most")

	tb.send("3", "42", "!prefix $")
	require.Equal(t, "Prefix set to `$`.", tb.out.last(t))
}

func TestPrefixCacheFallsBackOnError(t *testing.T) {
	calls := 0
	svc := &failingEntities{getFn: func() error {
		calls++
		return entitiesservice.ErrUnavailable
	}}
	cache := newPrefixCache(svc, "", zaptest.NewLogger(t))

	require.Equal(t, "!", cache.Resolve(context.Background(), 42))
	require.Equal(t, "!", cache.Resolve(context.Background(), 42))
	require.Equal(t, 2, calls)
	require.Equal(t, "!", cache.Resolve(context.Background(), 0))
	require.Equal(t, 2, calls)
}

type failingEntities struct {
	entitiesservice.Service
	getFn func() error
}

func (f *failingEntities) Get(ctx context.Context, entityType string, id int64) (persistence.Entity, error) {
	return persistence.Entity{}, f.getFn()
}

func (f *failingEntities) GetAttribute(ctx context.Context, entityType string, id int64, name string) (persistence.AttributeValue, error) {
	return persistence.Absent(), f.getFn()
}

func TestCommandFailureIsRecorded(t *testing.T) {
	failing := &failingEntities{getFn: func() error {
		return entitiesservice.ErrUnavailable
	}}
	tb := newTestBot(t, failing)

	tb.send("1", "", "!lang")
	reply := tb.out.last(t)
	require.Contains(t, reply, "Error code: `")

	code := strings.TrimSuffix(reply[strings.Index(reply, "`")+1:], "`")
	rec, err := tb.errors.GetError(context.Background(), code)
	require.NoError(t, err)
	require.Equal(t, "lang", rec.Command)
	require.Equal(t, int64(1), *rec.UserID)
	require.Contains(t, rec.Message, "unavailable")
	require.Equal(t, "StorageUnavailable", rec.Type)
}

type platformError struct{ status int }

func (e *platformError) Error() string { return fmt.Sprintf("platform status %d", e.status) }

func TestErrorType(t *testing.T) {
	cause := &platformError{status: 502}
	testCases := []struct {
		name string
		err  error
		want string
	}{
		{name: "translated storage fault", err: fmt.Errorf("%w: %w", entitiesservice.ErrUnavailable, fmt.Errorf("select: %w: %w", persistence.ErrStorageUnavailable, cause)), want: "StorageUnavailable"},
		{name: "malformed input", err: fmt.Errorf("attr: %w", persistence.ErrMalformedInput), want: "MalformedInput"},
		{name: "unknown guild", err: fmt.Errorf("%w: %w", guildcacheservice.ErrGuildUnknown, cause), want: "GuildUnknown"},
		{name: "timeout", err: fmt.Errorf("lookup: %w", context.DeadlineExceeded), want: "DeadlineExceeded"},
		{name: "multi wrap of unknown cause", err: fmt.Errorf("a: %w: %w", errors.New("x"), cause), want: "*main.platformError"},
		{name: "single wrap", err: fmt.Errorf("send: %w", cause), want: "*main.platformError"},
		{name: "bare", err: cause, want: "*main.platformError"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, errorType(tc.err))
		})
	}
}

func TestGuildCommandAndJoin(t *testing.T) {
	tb := newTestBot(t, nil)

	tb.send("1", "42", "!guild")
	require.Equal(t, "I have no information about this server yet.", tb.out.last(t))
	require.Empty(t, tb.errors.records)

	tb.rememberGuild(context.Background(), &discordgo.Guild{
		ID:          "42",
		Name:        "Moddy HQ",
		MemberCount: 12,
		Features:    []discordgo.GuildFeature{discordgo.GuildFeatureCommunity},
	})
	require.Equal(t, persistence.SourceBotJoin, tb.guilds.cached[42].UpdateSource)

	tb.send("1", "42", "!guild")
	require.True(t, strings.HasPrefix(tb.out.last(t), "**Moddy HQ**: 12 members, 1 features"))
}

func TestGuildInfoFrom(t *testing.T) {
	info, err := guildInfoFrom(&discordgo.Guild{
		ID:                     "1164597199594852395",
		Name:                   "Test",
		Icon:                   "abc",
		OwnerID:                "7",
		ApproximateMemberCount: 30,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1164597199594852395), info.GuildID)
	require.Equal(t, 30, info.MemberCount)
	require.NotEmpty(t, info.IconURL)
	require.NotNil(t, info.CreatedAt)
	require.Equal(t, "7", info.Raw["owner_id"])

	_, err = guildInfoFrom(&discordgo.Guild{ID: "nope"})
	require.Error(t, err)
}

func TestDispatchUsesAuditActor(t *testing.T) {
	tb := newTestBot(t, nil)
	var seen requesttrace.AuditInfo
	tb.commands["whoami"] = command{run: func(ctx context.Context, _ *Bot, _ invocation) (string, error) {
		seen = requesttrace.FromContextOrAnonymous(ctx)
		return "ok", nil
	}}
	tb.send("77", "", "!whoami")
	require.Equal(t, int64(77), seen.ChangedBy())
	require.Equal(t, requesttrace.ActorKindUser, seen.ActorKind)
}

func TestDispatchRecoversPanics(t *testing.T) {
	tb := newTestBot(t, nil)
	tb.commands["boom"] = command{run: func(context.Context, *Bot, invocation) (string, error) {
		panic("kaboom")
	}}
	tb.send("1", "", "!boom")
	require.Contains(t, tb.out.last(t), "Error code")
	require.Len(t, tb.errors.records, 1)
	for _, rec := range tb.errors.records {
		require.Contains(t, rec.Traceback, "goroutine")
		require.Equal(t, "panic: kaboom", rec.Message)
	}
}
