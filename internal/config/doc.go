// Package config loads, normalizes, and validates derbyflow configuration.
//
// Configuration is read from TOML (default ~/.config/derbyflow/config.toml or
// ./derbyflow.toml), layered over Default(), then adjusted by DERBYFLOW_*
// environment overrides. The pipeline definition it carries (stage order,
// stage to queue mapping, root prefix) is read once at startup and shared
// read-only by every worker and the router.
package config
