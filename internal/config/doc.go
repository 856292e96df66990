// Package config handles configuration loading for keydrop.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from KEYDROP_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/keydrop/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  api_secret: "${KEYDROP_API_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Server and database:
//
//	server:
//	  http_addr: ":8080"
//	database:
//	  path: "/var/lib/keydrop/keydrop.db"
//
// Public site used to compose access links:
//
//	site:
//	  base_url: "https://account.example.com"
//
// Matrix bot:
//
//	matrix:
//	  enabled: true
//	  homeserver: "https://matrix.example.com"
//	  user_id: "@keydrop:example.com"
//	  access_token: "${KEYDROP_MATRIX_TOKEN}"
//	  allowed_rooms:
//	    - "!room:example.com"
//	  audit_room: "!audit:example.com"
//	  command_prefix: "!kd"
//	  typing_indicator: true
//	  recovery_key: "${KEYDROP_RECOVERY_KEY}"   # enables E2EE
//
// Issuance:
//
//	issuer:
//	  token_length: 10
//	  stock_public: false
//
// Admin API auth and the admin allow-list:
//
//	auth:
//	  api_secret: "${KEYDROP_API_SECRET}"
//	  token_ttl: "24h"
//	admins:
//	  - "@ops:example.com"
//	  - "ops@example.com"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/keydrop/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
