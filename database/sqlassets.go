package sqlassets

import _ "embed"

//go:embed schema/entities.sql
var EntitiesSQL string

//go:embed schema/attribute_changes.sql
var AttributeChangesSQL string

//go:embed schema/errors.sql
var ErrorsSQL string

//go:embed schema/guilds_cache.sql
var GuildsCacheSQL string
