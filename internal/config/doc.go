// Package config loads, normalizes, and validates the stitch configuration.
//
// One immutable Config value is constructed at process start and passed
// explicitly to every component.
package config
