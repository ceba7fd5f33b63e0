// Package tlsroots builds the TLS settings of the admin HTTP API.
//
// Trust anchors come from PEM files or directories of PEM files. A
// KeyPair serves a certificate that is reloaded when its files change,
// so certificates can be rotated without restarting the server. The
// same package configures the CLI side: server verification against a
// private CA and an optional client certificate.
package tlsroots
