// Package config defines the psastore-server configuration.
//
//   - spec.go: ServerConfig and its sections
//   - default.go: default values
//   - verify.go: validation
//   - sanitize.go: masking of secrets before the config is logged or served
//   - derive.go: conversion into storage, service and logger settings
//
// Configuration is loaded via internal/infra/confloader from a YAML file,
// PSASTORE_ environment variables and command-line flags.
package config
