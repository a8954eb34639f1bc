// Package db provides the embedded database schema and seed data.
package db

import _ "embed"

// Schema contains the idempotent DDL for all application tables, including
// the triggers that publish catalog changes.
//
//go:embed migrations/001_schema.sql
var Schema string
