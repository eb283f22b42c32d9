// Package config loads and validates warden process configuration.
//
// Configuration is a YAML file decoded with gopkg.in/yaml.v3. Loading runs
// in a fixed order, later steps overriding earlier ones:
//
//  1. Defaults (defaults.go)
//  2. Values from the YAML file
//  3. WARDEN_* environment overrides
//  4. Validation (every failing field is reported at once)
//
// Environment variables follow WARDEN_SECTION_FIELD, for example:
//
//   - WARDEN_STORAGE_BACKEND overrides storage.backend
//   - WARDEN_LEASE_REDIS_ADDR overrides lease.redis.addr
//   - WARDEN_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// A minimal file:
//
//	engine:
//	  tenant_id: acme
//	policies:
//	  dir: ./policies
//	  watch: true
//	storage:
//	  backend: sqlite
//	  sqlite:
//	    path: ./data/warden.db
//	fleet:
//	  base_url: https://fleet.example.com/api
//
// The CLI keeps the loaded configuration in a process-wide instance
// (Initialize, GetConfig, MustGetConfig). Library code takes explicit
// component configs instead.
package config
