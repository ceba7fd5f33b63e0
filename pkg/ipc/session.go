package ipc

import "context"

// Session is an open handle to one storage service.
type Session struct {
	client  *Client
	sid     uint32
	handle  uint32
	version uint32
}

// Info is the result of GetInfo.
type Info struct {
	Size     uint32 `json:"size" yaml:"size"`
	Capacity uint32 `json:"capacity" yaml:"capacity"`
	Flags    uint32 `json:"flags" yaml:"flags"`
}

// SID returns the service the session is connected to.
func (s *Session) SID() uint32 { return s.sid }

// Handle returns the server-assigned handle.
func (s *Session) Handle() uint32 { return s.handle }

// Version returns the service version reported by the server.
func (s *Session) Version() uint32 { return s.version }

// Call issues a CALL with the fields of req. Type and Handle are filled in.
// A non-success storage status is returned as a *StatusError together
// with the response.
func (s *Session) Call(ctx context.Context, req *Request) (*Response, error) {
	req.Type = MsgCall
	req.Handle = s.handle
	resp, err := s.client.RoundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status != 0 {
		return resp, &StatusError{Op: req.Op, Status: resp.Status}
	}
	return resp, nil
}

// Set stores data under uid, replacing any mutable content.
func (s *Session) Set(ctx context.Context, uid uint64, data []byte, flags uint32) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.Call(ctx, &Request{Op: OpSet, UID: uid, Length: uint32(len(data)), Data: data, Flags: flags})
	return err
}

// Get reads length bytes of uid starting at offset.
func (s *Session) Get(ctx context.Context, uid uint64, offset, length uint32) ([]byte, error) {
	resp, err := s.Call(ctx, &Request{Op: OpGet, UID: uid, Offset: offset, Length: length})
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return []byte{}, nil
	}
	return resp.Data, nil
}

// GetInfo returns the metadata of uid.
func (s *Session) GetInfo(ctx context.Context, uid uint64) (Info, error) {
	resp, err := s.Call(ctx, &Request{Op: OpGetInfo, UID: uid})
	if err != nil {
		return Info{}, err
	}
	return Info{Size: resp.Size, Capacity: resp.Capacity, Flags: resp.Flags}, nil
}

// Remove deletes uid.
func (s *Session) Remove(ctx context.Context, uid uint64) error {
	_, err := s.Call(ctx, &Request{Op: OpRemove, UID: uid})
	return err
}

// Create reserves size bytes for uid without writing content.
func (s *Session) Create(ctx context.Context, uid uint64, size uint32, flags uint32) error {
	_, err := s.Call(ctx, &Request{Op: OpCreate, UID: uid, Length: size, Flags: flags})
	return err
}

// SetExtended writes data into uid at offset.
func (s *Session) SetExtended(ctx context.Context, uid uint64, offset uint32, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.Call(ctx, &Request{Op: OpSetExtended, UID: uid, Offset: offset, Length: uint32(len(data)), Data: data})
	return err
}

// GetSupport returns the optional operations the service implements.
func (s *Session) GetSupport(ctx context.Context) (uint32, error) {
	resp, err := s.Call(ctx, &Request{Op: OpGetSupport})
	if err != nil {
		return 0, err
	}
	return resp.Support, nil
}

// Close releases the handle. The session must not be used afterwards.
func (s *Session) Close(ctx context.Context) error {
	_, err := s.client.RoundTrip(ctx, &Request{Type: MsgClose, Handle: s.handle})
	return err
}
