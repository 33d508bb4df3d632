package root

import (
	"github.com/moddy-bot/moddy/apps/cli/cmd/attr"
	"github.com/moddy-bot/moddy/apps/cli/cmd/data"
	"github.com/moddy-bot/moddy/apps/cli/cmd/entity"
	"github.com/moddy-bot/moddy/apps/cli/cmd/errorlog"
	"github.com/moddy-bot/moddy/apps/cli/cmd/history"
	"github.com/moddy-bot/moddy/apps/cli/cmd/migrate"
	"github.com/moddy-bot/moddy/apps/cli/cmd/stats"
	"github.com/moddy-bot/moddy/apps/cli/cmd/token"
)

func init() {
	Root().AddCommand(migrate.Command())
	Root().AddCommand(attr.Command())
	Root().AddCommand(data.Command())
	Root().AddCommand(entity.Command())
	Root().AddCommand(history.Command())
	Root().AddCommand(stats.Command())
	Root().AddCommand(errorlog.Command())
	Root().AddCommand(token.Command())
}
