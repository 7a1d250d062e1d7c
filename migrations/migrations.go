// Package migrations embeds the versioned SQL migrations applied by cmd/migrate
// after the gorm schema sync. Files are named NNNN_name.sql.
package migrations

import "embed"

//go:embed postgres/*.sql
var Postgres embed.FS
