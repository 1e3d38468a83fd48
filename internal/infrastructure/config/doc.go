// Package config provides configuration loading for the MajorDoMo bridge.
//
// Configuration is read from a YAML file, overlaid with environment
// variables, and validated before use. Every long-lived component receives
// its own section struct rather than the root Config, keeping dependencies
// explicit.
//
// # Loading Order
//
//  1. Hardcoded defaults
//  2. YAML file values
//  3. Environment variables (MDBRIDGE_* plus the legacy TELEGRAM_* names)
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := controller.New(cfg.Controller)
//
// Secrets (bot token, JWT secret, panel password) should always come from
// the environment, never from a file checked into version control.
package config
