// Package config loads, normalizes, and validates the TOML configuration.
//
// Every tunable constant of the analysis pipeline lives here so that stages
// receive explicit values instead of reading package-level literals.
package config
