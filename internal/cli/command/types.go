package command

import (
	"fmt"

	"github.com/yndnr/psastore-go/internal/cli/output"
)

// Result reports a completed storage mutation.
type Result struct {
	Service string `json:"service" yaml:"service"`
	Op      string `json:"op" yaml:"op"`
	UID     uint64 `json:"uid" yaml:"uid"`
	Offset  uint32 `json:"offset,omitempty" yaml:"offset,omitempty" table:"wide"`
	Size    uint32 `json:"size" yaml:"size"`
}

// DataResult carries data read by get in structured output formats.
type DataResult struct {
	Service  string `json:"service" yaml:"service"`
	UID      uint64 `json:"uid" yaml:"uid"`
	Offset   uint32 `json:"offset" yaml:"offset"`
	Length   uint32 `json:"length" yaml:"length"`
	Encoding string `json:"encoding" yaml:"encoding"`
	Data     string `json:"data" yaml:"data"`
}

// InfoResult is the output of info.
type InfoResult struct {
	Service  string `json:"service" yaml:"service"`
	UID      uint64 `json:"uid" yaml:"uid"`
	Size     uint32 `json:"size" yaml:"size"`
	Capacity uint32 `json:"capacity" yaml:"capacity"`
	Flags    string `json:"flags" yaml:"flags"`
}

// SupportResult is the output of support.
type SupportResult struct {
	Service     string `json:"service" yaml:"service"`
	Bits        uint32 `json:"bits" yaml:"bits"`
	Create      bool   `json:"create" yaml:"create"`
	SetExtended bool   `json:"set_extended" yaml:"set_extended"`
}

// Table implements output.Tabular.
func (r SupportResult) Table() *output.Table {
	t := &output.Table{Headers: []string{"SERVICE", "BITS", "CREATE", "SET_EXTENDED"}}
	t.AddRow(r.Service, fmt.Sprintf("%#x", r.Bits), yesNo(r.Create), yesNo(r.SetExtended))
	return t
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// HealthResult is the body of GET /health.
type HealthResult struct {
	Status string `json:"status" yaml:"status"`
	Time   string `json:"time" yaml:"time"`
}

// ReadyResult is the body of GET /ready.
type ReadyResult struct {
	Status   string          `json:"status" yaml:"status"`
	Services map[string]bool `json:"services" yaml:"services"`
	Time     string          `json:"time" yaml:"time"`
}

// Table implements output.Tabular.
func (r ReadyResult) Table() *output.Table {
	t := &output.Table{Headers: []string{"SERVICE", "READY"}}
	for _, name := range sortedKeys(r.Services) {
		t.AddRow(name, yesNo(r.Services[name]))
	}
	return t
}
