// Package config loads and watches the monitor configuration file.
//
// Top-level types:
//   - Config{Sources, Schedule, Storage, Fetch, SMTP, Lookup, Alerts, HTTP}
//   - SourceConfig: id, name, base_url, pages[], url, expected_markers[],
//     staleness_days, paywall_markers[]
//   - SMTPConfig and LookupConfig resolve their secrets from environment
//     variables (password_env, api_key_env), never from the file
//
// Load(path) parses YAML or JSON, applies defaults (6h schedule, sqlite at
// ./data/monitor_state.db, port 587, 24h dedup window), then environment
// overrides, then validates every source including its CSS selectors.
//
// Targets() expands each source into one CheckTarget per page.
//
// Watch(ctx, path, onChange) reloads the file on change and hands the
// validated result to onChange.
package config
