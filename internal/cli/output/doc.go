// Package output renders command results for psastore-cli.
//
// Three formats are supported: table (the default, via text/tabwriter),
// json and yaml. Values that know how to lay themselves out implement
// Tabular; anything else is rendered field by field.
package output
