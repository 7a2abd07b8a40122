// Package config loads typed configuration structs from environment
// variables using `env` struct tags, with optional .env file support for
// local development.
//
// Every configurable component of the module declares its own Config struct
// next to the code it configures (pg.Config, feature cache TTLs, sink buffer
// sizes) and leaves population to this package, keeping twelve-factor
// configuration without a central settings registry.
package config
