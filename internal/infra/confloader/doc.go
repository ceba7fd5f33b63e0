// Package confloader loads psastore configuration with koanf.
//
// Sources, from lowest to highest priority:
//
//  1. Defaults already present in the target struct
//  2. A YAML configuration file
//  3. Environment variables with the PSASTORE_ prefix
//  4. Explicit overrides from command-line flags (LoadMap)
//
// Environment variables use a double underscore to separate levels, so
// PSASTORE_STORAGE__PS__MAX_ASSETS sets storage.ps.max_assets.
//
// Watcher notifies callbacks when the configuration file is rewritten,
// which the server uses to apply a new log level without a restart.
package confloader
