package vidsearch

import _ "embed"

// SchemaSQL creates the index tables on a fresh database.
//
//go:embed schema.sql
var SchemaSQL []byte
