package command

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/psastore-go/internal/cli/output"
	"github.com/yndnr/psastore-go/internal/core/domain"
	"github.com/yndnr/psastore-go/internal/core/service"
	"github.com/yndnr/psastore-go/pkg/ipc"
)

// StorageTarget names a storage service and its IPC service id.
type StorageTarget struct {
	Name string
	SID  uint32
	Desc string
}

var (
	StoragePS  = StorageTarget{Name: service.ServicePS, SID: ipc.SIDProtectedStorage, Desc: "Protected Storage"}
	StorageITS = StorageTarget{Name: service.ServiceITS, SID: ipc.SIDInternalTrustedStorage, Desc: "Internal Trusted Storage"}
)

// StorageCommand returns the subcommand group for one storage service.
func StorageCommand(t StorageTarget) *cli.Command {
	uidArg := "UID"
	return &cli.Command{
		Name:  t.Name,
		Usage: t.Desc + " operations over the local socket",
		Subcommands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Store data under UID, replacing mutable content",
				ArgsUsage: uidArg,
				Flags:     append(dataFlags(), createFlagsFlag()),
				Action:    t.action(storageSet),
			},
			{
				Name:      "create",
				Usage:     "Reserve an empty asset of --size bytes",
				ArgsUsage: uidArg,
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "size", Usage: "capacity in bytes", Required: true},
					createFlagsFlag(),
				},
				Action: t.action(storageCreate),
			},
			{
				Name:      "set-extended",
				Usage:     "Write data at --offset into an asset made with create",
				ArgsUsage: uidArg,
				Flags:     append(dataFlags(), &cli.Uint64Flag{Name: "offset", Usage: "byte offset"}),
				Action:    t.action(storageSetExtended),
			},
			{
				Name:      "get",
				Usage:     "Read an asset",
				ArgsUsage: uidArg,
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "offset", Usage: "byte offset"},
					&cli.Uint64Flag{Name: "length", Usage: "bytes to read (default: to the end)"},
					&cli.StringFlag{Name: "encoding", Aliases: []string{"e"}, Usage: "raw, hex or base64", Value: "raw"},
					&cli.StringFlag{Name: "out", Usage: "write the data to this file"},
				},
				Action: t.action(storageGet),
			},
			{
				Name:      "info",
				Usage:     "Show size, capacity and flags of an asset",
				ArgsUsage: uidArg,
				Action:    t.action(storageInfo),
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Remove an asset",
				ArgsUsage: uidArg,
				Action:    t.action(storageRemove),
			},
			{
				Name:   "support",
				Usage:  "Show the optional operations the service implements",
				Action: t.action(storageSupport),
			},
		},
	}
}

type storageAction func(c *cli.Context, t StorageTarget, s *ipc.Session) error

// action opens the service session before running fn.
func (t StorageTarget) action(fn storageAction) cli.ActionFunc {
	return func(c *cli.Context) error {
		mgr, err := manager(c)
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(c)
		defer cancel()

		s, err := mgr.Socket().Session(ctx, t.SID)
		if err != nil {
			return err
		}
		return fn(c, t, s)
	}
}

func dataFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "data as a literal string"},
		&cli.StringFlag{Name: "hex", Usage: "data as hex"},
		&cli.StringFlag{Name: "base64", Usage: "data as standard base64"},
		&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "read data from a file"},
	}
}

func createFlagsFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "flags",
		Usage: "comma separated: write-once, no-confidentiality, no-replay-protection (or a number)",
	}
}

// readData returns the payload selected by exactly one of the data flags.
func readData(c *cli.Context) ([]byte, error) {
	var (
		set  []string
		data []byte
		err  error
	)
	if c.IsSet("data") {
		set = append(set, "--data")
		data = []byte(c.String("data"))
	}
	if c.IsSet("hex") {
		set = append(set, "--hex")
		data, err = hex.DecodeString(strings.TrimPrefix(c.String("hex"), "0x"))
		if err != nil {
			return nil, fmt.Errorf("--hex: %w", err)
		}
	}
	if c.IsSet("base64") {
		set = append(set, "--base64")
		data, err = base64.StdEncoding.DecodeString(c.String("base64"))
		if err != nil {
			return nil, fmt.Errorf("--base64: %w", err)
		}
	}
	if c.IsSet("file") {
		set = append(set, "--file")
		data, err = os.ReadFile(c.String("file"))
		if err != nil {
			return nil, err
		}
	}

	switch len(set) {
	case 0:
		return nil, errors.New("one of --data, --hex, --base64 or --file is required")
	case 1:
		return data, nil
	default:
		return nil, fmt.Errorf("%s are mutually exclusive", strings.Join(set, ", "))
	}
}

// ParseUID accepts decimal or 0x-prefixed hex.
func ParseUID(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("UID argument required")
	}
	uid, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid UID %q", s)
	}
	return uid, nil
}

// ParseCreateFlags parses flag names or a numeric mask.
func ParseCreateFlags(s string) (domain.CreateFlags, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return domain.FlagNone, nil
	}
	if n, err := strconv.ParseUint(s, 0, 32); err == nil {
		return domain.CreateFlags(n), nil
	}

	var flags domain.CreateFlags
	for _, name := range strings.Split(s, ",") {
		switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-") {
		case "write-once":
			flags |= domain.FlagWriteOnce
		case "no-confidentiality":
			flags |= domain.FlagNoConfidentiality
		case "no-replay-protection":
			flags |= domain.FlagNoReplayProtection
		case "", "none":
		default:
			return 0, fmt.Errorf("unknown create flag %q", name)
		}
	}
	return flags, nil
}

func uint32Flag(c *cli.Context, name string) (uint32, error) {
	v := c.Uint64(name)
	if v > 1<<32-1 {
		return 0, fmt.Errorf("--%s %d out of range", name, v)
	}
	return uint32(v), nil
}

// StorageError is a storage call that completed with a failure status.
type StorageError struct {
	Service string
	Op      string
	UID     uint64
	Status  domain.Status
	err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s %d: %s", e.Service, e.Op, e.UID, e.Status)
}

func (e *StorageError) Unwrap() error { return e.err }

// storageError converts a status reply into a *StorageError. Transport
// errors are returned unchanged.
func storageError(t StorageTarget, op string, uid uint64, err error) error {
	if st, ok := ipc.StatusOf(err); ok && err != nil {
		return &StorageError{Service: t.Name, Op: op, UID: uid, Status: domain.Status(st), err: err}
	}
	return err
}

func storageSet(c *cli.Context, t StorageTarget, s *ipc.Session) error {
	uid, err := ParseUID(c.Args().First())
	if err != nil {
		return err
	}
	data, err := readData(c)
	if err != nil {
		return err
	}
	flags, err := ParseCreateFlags(c.String("flags"))
	if err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	if err := s.Set(ctx, uid, data, uint32(flags)); err != nil {
		return storageError(t, "set", uid, err)
	}
	return render(c, Result{Service: t.Name, Op: "set", UID: uid, Size: uint32(len(data))})
}

func storageCreate(c *cli.Context, t StorageTarget, s *ipc.Session) error {
	uid, err := ParseUID(c.Args().First())
	if err != nil {
		return err
	}
	size, err := uint32Flag(c, "size")
	if err != nil {
		return err
	}
	flags, err := ParseCreateFlags(c.String("flags"))
	if err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	if err := s.Create(ctx, uid, size, uint32(flags)); err != nil {
		return storageError(t, "create", uid, err)
	}
	return render(c, Result{Service: t.Name, Op: "create", UID: uid, Size: size})
}

func storageSetExtended(c *cli.Context, t StorageTarget, s *ipc.Session) error {
	uid, err := ParseUID(c.Args().First())
	if err != nil {
		return err
	}
	offset, err := uint32Flag(c, "offset")
	if err != nil {
		return err
	}
	data, err := readData(c)
	if err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	if err := s.SetExtended(ctx, uid, offset, data); err != nil {
		return storageError(t, "set-extended", uid, err)
	}
	return render(c, Result{Service: t.Name, Op: "set-extended", UID: uid, Offset: offset, Size: uint32(len(data))})
}

func storageGet(c *cli.Context, t StorageTarget, s *ipc.Session) error {
	uid, err := ParseUID(c.Args().First())
	if err != nil {
		return err
	}
	offset, err := uint32Flag(c, "offset")
	if err != nil {
		return err
	}
	length, err := uint32Flag(c, "length")
	if err != nil {
		return err
	}
	enc := strings.ToLower(c.String("encoding"))
	if enc != "raw" && enc != "hex" && enc != "base64" {
		return fmt.Errorf("unknown encoding %q (want raw, hex or base64)", enc)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if !c.IsSet("length") {
		info, err := s.GetInfo(ctx, uid)
		if err != nil {
			return storageError(t, "get", uid, err)
		}
		if offset <= info.Size {
			length = info.Size - offset
		}
	}

	data, err := s.Get(ctx, uid, offset, length)
	if err != nil {
		return storageError(t, "get", uid, err)
	}

	if path := c.String("out"); path != "" {
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return err
		}
		return render(c, Result{Service: t.Name, Op: "get", UID: uid, Offset: offset, Size: uint32(len(data))})
	}

	if GetSettings(c).Output == output.FormatTable {
		w := writer(c)
		switch enc {
		case "hex":
			_, err = fmt.Fprintln(w, hex.EncodeToString(data))
		case "base64":
			_, err = fmt.Fprintln(w, base64.StdEncoding.EncodeToString(data))
		default:
			_, err = w.Write(data)
		}
		return err
	}

	r := DataResult{Service: t.Name, UID: uid, Offset: offset, Length: uint32(len(data)), Encoding: enc}
	switch enc {
	case "hex":
		r.Data = hex.EncodeToString(data)
	default:
		r.Encoding = "base64"
		r.Data = base64.StdEncoding.EncodeToString(data)
	}
	return render(c, r)
}

func storageInfo(c *cli.Context, t StorageTarget, s *ipc.Session) error {
	uid, err := ParseUID(c.Args().First())
	if err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	info, err := s.GetInfo(ctx, uid)
	if err != nil {
		return storageError(t, "info", uid, err)
	}
	return render(c, InfoResult{
		Service:  t.Name,
		UID:      uid,
		Size:     info.Size,
		Capacity: info.Capacity,
		Flags:    domain.CreateFlags(info.Flags).String(),
	})
}

func storageRemove(c *cli.Context, t StorageTarget, s *ipc.Session) error {
	uid, err := ParseUID(c.Args().First())
	if err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	if err := s.Remove(ctx, uid); err != nil {
		return storageError(t, "remove", uid, err)
	}
	return render(c, Result{Service: t.Name, Op: "remove", UID: uid})
}

func storageSupport(c *cli.Context, t StorageTarget, s *ipc.Session) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	bits, err := s.GetSupport(ctx)
	if err != nil {
		return err
	}
	return render(c, SupportResult{
		Service:     t.Name,
		Bits:        bits,
		Create:      bits&service.SupportCreate != 0,
		SetExtended: bits&service.SupportSetExtended != 0,
	})
}
