// Package config loads typed configuration structs from environment
// variables, with optional .env file support for local development.
//
// Each struct type is parsed once per process and cached, so packages can
// declare their own config structs and load them independently without
// coordinating initialization order.
package config
