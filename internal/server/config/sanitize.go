package config

import "github.com/yndnr/psastore-go/internal/telemetry/logger"

// Sanitize returns a copy of cfg that is safe to print: key material is
// redacted and slices are not shared with cfg.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	out := *cfg
	out.Server.HTTP.AllowList = append([]string(nil), cfg.Server.HTTP.AllowList...)

	for _, secret := range []*string{&out.Security.Passphrase, &out.Security.MasterKey} {
		if *secret != "" {
			*secret = logger.RedactString(*secret)
		}
	}
	return &out
}
