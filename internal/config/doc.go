/*
Package config loads exrcache settings from defaults, YAML files and the
environment.

# Precedence

	┌─────────────────────────────┐
	│   Command-line flags        │ ← Highest Priority
	└─────────────────────────────┘
	              │
	┌─────────────────────────────┐
	│   Environment Variables     │
	│   (EXRCACHE_*)              │
	└─────────────────────────────┘
	              │
	┌─────────────────────────────┐
	│   Configuration File        │
	│   (YAML)                    │
	└─────────────────────────────┘
	              │
	┌─────────────────────────────┐
	│   Default Values            │ ← Lowest Priority
	└─────────────────────────────┘

Flags are applied by the command after Load returns.

# Example

	global:
	  log_level: INFO
	  log_format: text
	  metrics_addr: ":9464"

	cache:
	  max_caches: 3            # 0 disables caching
	  timeout_seconds: 30      # idle sweep, 0 disables
	  auto_cache_channels: 0   # cache files with at least N channels
	  cache_channels: false    # cache every file
	  max_entry_size: 4GB
	  idle_interval: 5s

	io:
	  memory_map: false
	  threads: 0               # 0 means GOMAXPROCS
	  rename_first_part: false
	  reconstruct_offsets: true
	  watch_files: false

Unknown keys are rejected. Validation errors carry the CONFIG_VALIDATION
code from pkg/errors.
*/
package config
