package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	entitiesservice "github.com/moddy-bot/moddy/domains/entities/be/service"
	guildcacheservice "github.com/moddy-bot/moddy/domains/guildcache/be/service"
	"github.com/moddy-bot/moddy/platform/go/guard"
	"github.com/moddy-bot/moddy/platform/go/persistence"
)

const (
	attributeLang   = "LANG"
	maxPrefixLength = 5
)

var prefixPath = persistence.DataPath{"config", "prefix"}

type command struct {
	staffOnly bool
	run       func(ctx context.Context, b *Bot, inv invocation) (string, error)
}

func (b *Bot) registry() map[string]command {
	return map[string]command{
		"ping":   {run: cmdPing},
		"lang":   {run: cmdLang},
		"prefix": {run: cmdPrefix},
		"guild":  {run: cmdGuild},
		"attr":   {staffOnly: true, run: cmdAttr},
	}
}

func cmdPing(context.Context, *Bot, invocation) (string, error) {
	return "Pong!", nil
}

// cmdLang shows or changes the caller's LANG attribute. "reset" removes it.
func cmdLang(ctx context.Context, b *Bot, inv invocation) (string, error) {
	userType := string(persistence.EntityUser)
	if len(inv.args) == 0 {
		value, err := b.entities.GetAttribute(ctx, userType, inv.userID, attributeLang)
		if err != nil {
			return "", err
		}
		if !value.IsPresent() {
			return "No language set.", nil
		}
		return "Your language is " + value.String() + ".", nil
	}

	var value any
	if code := strings.ToLower(inv.args[0]); code != "reset" {
		if !validLanguage(code) {
			return "", usageError("Language codes look like `fr` or `en-US`.")
		}
		value = strings.ToUpper(code)
	}
	stored, err := b.entities.SetAttribute(ctx, entitiesservice.SetAttributeInput{
		EntityType: userType,
		EntityID:   inv.userID,
		Name:       attributeLang,
		Value:      value,
		Reason:     "lang command",
	})
	if err != nil {
		return "", err
	}
	if !stored.IsPresent() {
		return "Language reset.", nil
	}
	return "Language set to " + stored.String() + ".", nil
}

func validLanguage(code string) bool {
	base, region, hasRegion := strings.Cut(code, "-")
	if len(base) != 2 || !isLetters(base) {
		return false
	}
	return !hasRegion || (len(region) == 2 && isLetters(region))
}

func isLetters(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			if r < 'A' || r > 'Z' {
				return false
			}
		}
	}
	return true
}

// cmdPrefix shows or changes the guild prefix stored at data.config.prefix.
// Changing it needs Manage Server or staff.
func cmdPrefix(ctx context.Context, b *Bot, inv invocation) (string, error) {
	if inv.guildID == 0 {
		return "", usageError("Prefixes can only be changed in a server.")
	}
	if len(inv.args) == 0 {
		return "The prefix here is `" + b.prefixes.Resolve(ctx, inv.guildID) + "`.", nil
	}

	prefix := inv.args[0]
	if utf8.RuneCountInString(prefix) > maxPrefixLength {
		return "", usageError(fmt.Sprintf("Prefixes are at most %d characters.", maxPrefixLength))
	}
	allowed, err := b.canManageGuild(ctx, inv)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", usageError("You need the Manage Server permission to change the prefix.")
	}

	if _, err := b.entities.UpdateData(ctx, entitiesservice.UpdateDataInput{
		EntityType: string(persistence.EntityGuild),
		EntityID:   inv.guildID,
		Segments:   prefixPath,
		Value:      prefix,
	}); err != nil {
		return "", err
	}
	b.prefixes.Invalidate(inv.guildID)
	return "Prefix set to `" + prefix + "`.", nil
}

func (b *Bot) canManageGuild(ctx context.Context, inv invocation) (bool, error) {
	if b.perms != nil {
		bits, err := b.perms(strconv.FormatInt(inv.userID, 10), inv.channelID)
		if err == nil && bits&(discordgo.PermissionManageGuild|discordgo.PermissionAdministrator) != 0 {
			return true, nil
		}
	}
	return b.staff.IsStaff(ctx, inv.userID)
}

// cmdGuild prints the cached guild snapshot, refreshing it when stale.
func cmdGuild(ctx context.Context, b *Bot, inv invocation) (string, error) {
	if inv.guildID == 0 {
		return "", usageError("Run this in a server.")
	}
	guild, err := b.guilds.Lookup(ctx, inv.guildID)
	if errors.Is(err, guildcacheservice.ErrGuildUnknown) {
		return "", usageError("I have no information about this server yet.")
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("**%s**: %d members, %d features (cached %s via %s)",
		guild.Name, guild.MemberCount, len(guild.Features),
		guild.LastUpdated.Format("2006-01-02 15:04"), guild.UpdateSource), nil
}

const attrUsage = "Usage: `attr get <user|guild> <id> <NAME>`, `attr set <user|guild> <id> <NAME> <value> [reason]`, `attr unset <user|guild> <id> <NAME> [reason]`"

// cmdAttr is the staff attribute editor.
func cmdAttr(ctx context.Context, b *Bot, inv invocation) (string, error) {
	if len(inv.args) < 4 {
		return "", usageError(attrUsage)
	}
	action, entityType, rawID, name := strings.ToLower(inv.args[0]), strings.ToLower(inv.args[1]), inv.args[2], inv.args[3]
	id, err := strconv.ParseInt(strings.Trim(rawID, "<@!>"), 10, 64)
	if err != nil || id <= 0 {
		return "", usageError("Ids are positive integers.")
	}

	switch action {
	case "get":
		value, err := b.entities.GetAttribute(ctx, entityType, id, name)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %d `%s` = %s", entityType, id, entitiesservice.NormalizeAttributeName(name), value), nil
	case "set", "unset":
		var (
			value  any
			reason []string
		)
		if action == "set" {
			if len(inv.args) < 5 {
				return "", usageError(attrUsage)
			}
			value = parseAttributeValue(inv.args[4])
			reason = inv.args[5:]
		} else {
			reason = inv.args[4:]
		}
		stored, err := b.entities.SetAttribute(ctx, entitiesservice.SetAttributeInput{
			EntityType: entityType,
			EntityID:   id,
			Name:       name,
			Value:      value,
			Reason:     strings.Join(reason, " "),
		})
		if err != nil {
			return "", err
		}
		normalized := entitiesservice.NormalizeAttributeName(name)
		if entityType == string(persistence.EntityUser) && normalized == guard.AttributeBlacklisted {
			b.blacklist.Invalidate(id)
		}
		return fmt.Sprintf("%s %d `%s` = %s", entityType, id, normalized, stored), nil
	default:
		return "", usageError(attrUsage)
	}
}

// parseAttributeValue reads chat input: true, false/null/none, integers, decimals, or text.
func parseAttributeValue(raw string) any {
	switch strings.ToLower(raw) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off", "null", "none":
		return nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
