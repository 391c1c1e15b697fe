package config

import "embed"

const locksSchemaFile = "schema/locks.schema.json"

//go:embed schema/*.json
var configSchemaFS embed.FS
