// Package config loads lanlink settings with viper. Values come from the
// built-in defaults, then an optional YAML, JSON or TOML file, then
// LANLINK_* environment variables (LANLINK_EDGE_GROUP overrides edge.group).
package config
