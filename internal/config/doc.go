// Package config carries the two configuration layers of the pipeline:
// the static app config (config.yaml via viper, env-overridable) and the
// mutable settings stores (JSON files in the data directory) that are
// hot-reloaded between events and mutated by moderator commands.
package config
