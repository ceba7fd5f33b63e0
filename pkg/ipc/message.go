package ipc

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Service IDs of the storage services.
const (
	SIDProtectedStorage       uint32 = 0x0000_0060
	SIDInternalTrustedStorage uint32 = 0x0000_0070
)

// ServiceVersion is the version both storage services implement. A
// CONNECT for any version up to it is accepted.
const ServiceVersion uint32 = 1

// ErrMalformedMessage is returned when a frame does not hold a valid message.
var ErrMalformedMessage = errors.New("ipc: malformed message")

// MsgType is the kind of a request.
type MsgType uint32

const (
	MsgConnect MsgType = 1
	MsgCall    MsgType = 2
	MsgClose   MsgType = 3
)

func (t MsgType) String() string {
	switch t {
	case MsgConnect:
		return "CONNECT"
	case MsgCall:
		return "CALL"
	case MsgClose:
		return "CLOSE"
	default:
		return fmt.Sprintf("MsgType(%d)", uint32(t))
	}
}

// Op is a storage operation invoked by CALL.
type Op uint32

const (
	OpSet         Op = 1
	OpGet         Op = 2
	OpGetInfo     Op = 3
	OpRemove      Op = 4
	OpCreate      Op = 5
	OpSetExtended Op = 6
	OpGetSupport  Op = 7
)

var opNames = map[Op]string{
	OpSet:         "set",
	OpGet:         "get",
	OpGetInfo:     "get_info",
	OpRemove:      "remove",
	OpCreate:      "create",
	OpSetExtended: "set_extended",
	OpGetSupport:  "get_support",
}

// String returns the operation name as used in metrics and logs.
func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint32(o))
}

// Valid reports whether o is a known operation.
func (o Op) Valid() bool {
	_, ok := opNames[o]
	return ok
}

// Result is the transport outcome of a request.
type Result uint32

const (
	ResultOK Result = 0
	// ResultConnectionRefused answers a CONNECT to an unknown service or
	// an unsupported version.
	ResultConnectionRefused Result = 1
	// ResultBusy answers a request rejected by rate limiting.
	ResultBusy Result = 2
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultConnectionRefused:
		return "CONNECTION_REFUSED"
	case ResultBusy:
		return "BUSY"
	default:
		return fmt.Sprintf("Result(%d)", uint32(r))
	}
}

// Request is a client message.
type Request struct {
	Type MsgType

	// CONNECT
	SID     uint32
	Version uint32

	// CALL and CLOSE
	Handle uint32

	// CALL
	Op     Op
	UID    uint64
	Offset uint32
	Length uint32
	Flags  uint32

	// Data is the input buffer. nil is a null pointer; an empty non-nil
	// slice is a valid zero-length buffer.
	Data []byte

	// NullBuffer marks a null output buffer for GET and GET_INFO.
	NullBuffer bool
}

// Response is a server message.
type Response struct {
	Result Result

	// Handle is the new handle of an accepted CONNECT.
	Handle uint32
	// Version is the service version of an accepted CONNECT.
	Version uint32

	// Status is the storage status of a CALL.
	Status uint32

	// Data is the output of GET.
	Data []byte

	// GET_INFO outputs.
	Size     uint32
	Capacity uint32
	Flags    uint32

	// Support is the output of GET_SUPPORT.
	Support uint32
}

const (
	reqType       protowire.Number = 1
	reqSID        protowire.Number = 2
	reqVersion    protowire.Number = 3
	reqHandle     protowire.Number = 4
	reqOp         protowire.Number = 5
	reqUID        protowire.Number = 6
	reqOffset     protowire.Number = 7
	reqLength     protowire.Number = 8
	reqFlags      protowire.Number = 9
	reqData       protowire.Number = 10
	reqNullBuffer protowire.Number = 11
)

const (
	respResult   protowire.Number = 1
	respHandle   protowire.Number = 2
	respVersion  protowire.Number = 3
	respStatus   protowire.Number = 4
	respData     protowire.Number = 5
	respSize     protowire.Number = 6
	respCapacity protowire.Number = 7
	respFlags    protowire.Number = 8
	respSupport  protowire.Number = 9
)

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// Marshal encodes the request.
func (r *Request) Marshal() []byte {
	b := make([]byte, 0, 48+len(r.Data))
	b = appendVarint(b, reqType, uint64(r.Type))
	b = appendVarint(b, reqSID, uint64(r.SID))
	b = appendVarint(b, reqVersion, uint64(r.Version))
	b = appendVarint(b, reqHandle, uint64(r.Handle))
	b = appendVarint(b, reqOp, uint64(r.Op))
	b = appendVarint(b, reqUID, r.UID)
	b = appendVarint(b, reqOffset, uint64(r.Offset))
	b = appendVarint(b, reqLength, uint64(r.Length))
	b = appendVarint(b, reqFlags, uint64(r.Flags))
	b = appendBytes(b, reqData, r.Data)
	if r.NullBuffer {
		b = appendVarint(b, reqNullBuffer, 1)
	}
	return b
}

// Unmarshal decodes a request, replacing the contents of r.
func (r *Request) Unmarshal(b []byte) error {
	*r = Request{}
	return consumeFields(b, func(num protowire.Number, v uint64, data []byte) error {
		switch num {
		case reqType:
			r.Type = MsgType(v)
		case reqSID:
			r.SID = uint32(v)
		case reqVersion:
			r.Version = uint32(v)
		case reqHandle:
			r.Handle = uint32(v)
		case reqOp:
			r.Op = Op(v)
		case reqUID:
			r.UID = v
		case reqOffset:
			r.Offset = uint32(v)
		case reqLength:
			r.Length = uint32(v)
		case reqFlags:
			r.Flags = uint32(v)
		case reqData:
			if data != nil {
				r.Data = append([]byte{}, data...)
			}
		case reqNullBuffer:
			r.NullBuffer = v != 0
		}
		return nil
	})
}

// Marshal encodes the response.
func (r *Response) Marshal() []byte {
	b := make([]byte, 0, 32+len(r.Data))
	b = appendVarint(b, respResult, uint64(r.Result))
	b = appendVarint(b, respHandle, uint64(r.Handle))
	b = appendVarint(b, respVersion, uint64(r.Version))
	b = appendVarint(b, respStatus, uint64(r.Status))
	b = appendBytes(b, respData, r.Data)
	b = appendVarint(b, respSize, uint64(r.Size))
	b = appendVarint(b, respCapacity, uint64(r.Capacity))
	b = appendVarint(b, respFlags, uint64(r.Flags))
	b = appendVarint(b, respSupport, uint64(r.Support))
	return b
}

// Unmarshal decodes a response, replacing the contents of r.
func (r *Response) Unmarshal(b []byte) error {
	*r = Response{}
	return consumeFields(b, func(num protowire.Number, v uint64, data []byte) error {
		switch num {
		case respResult:
			r.Result = Result(v)
		case respHandle:
			r.Handle = uint32(v)
		case respVersion:
			r.Version = uint32(v)
		case respStatus:
			r.Status = uint32(v)
		case respData:
			if data != nil {
				r.Data = append([]byte{}, data...)
			}
		case respSize:
			r.Size = uint32(v)
		case respCapacity:
			r.Capacity = uint32(v)
		case respFlags:
			r.Flags = uint32(v)
		case respSupport:
			r.Support = uint32(v)
		}
		return nil
	})
}

// consumeFields walks the varint and bytes fields of a message. Fields of
// other wire types are skipped.
func consumeFields(b []byte, fn func(num protowire.Number, v uint64, data []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, protowire.ParseError(n))
		}
		b = b[n:]

		var err error
		switch typ {
		case protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			if n >= 0 {
				err = fn(num, v, nil)
			}
		case protowire.BytesType:
			var data []byte
			data, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				err = fn(num, 0, data)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, protowire.ParseError(n))
		}
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
