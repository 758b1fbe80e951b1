// Package config handles configuration loading for atdeck.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${ATDECK_DB_PATH}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	atproto:
//	  request_timeout: "30s"
//	auth:
//	  default_ttl: "2h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Local API:
//
//	api:
//	  addr: "127.0.0.1:4848"
//
// Database:
//
//	database:
//	  path: "/var/lib/atdeck/deck.db"
//
// AT Protocol:
//
//	atproto:
//	  default_service: "https://bsky.social"
//	  request_timeout: "30s"
//
// Authentication:
//
//	auth:
//	  credentials_dir: "~/.local/share/atdeck/credentials"
//	  default_ttl: "2h"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Database path presence
//   - Credentials directory presence
//   - Duration format validity
//   - Log level values
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/atdeck/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
