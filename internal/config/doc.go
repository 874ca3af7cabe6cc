// Package config loads, normalizes, and validates Scribe configuration.
//
// Configuration is read from TOML (explicit path, ~/.config/scribe/config.toml,
// or ./scribe.toml), layered over repository defaults, and then patched with
// environment fallbacks for secrets such as SCRIBE_LLM_API_KEY or
// SCRIBE_DISCORD_TOKEN. Validate enforces cross-field constraints, most
// importantly that the work item lease outlives the approval wait.
package config
