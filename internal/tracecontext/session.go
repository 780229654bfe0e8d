package tracecontext

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tracer/internal/largepage"
	"github.com/roach88/tracer/internal/tracestore"
)

// SessionFile is the name of the session description inside a session
// directory.
const SessionFile = "session.yaml"

const (
	sessionHeaderSize = 64
	maxHostname       = 255
	sessionAlign      = 64
)

var sessionMagic = [4]byte{'T', 'S', 'E', 'S'}

// Session identifies one tracing run and the directory holding its stores.
type Session struct {
	ID        uuid.UUID `yaml:"id"`
	Start     time.Time `yaml:"start"`
	PID       int       `yaml:"pid"`
	Hostname  string    `yaml:"hostname"`
	Directory string    `yaml:"-"`
	Readonly  bool      `yaml:"-"`

	buf []byte
}

// SizeOfSession returns the placement buffer size InitializeSession needs
// for a session rooted at dir.
func SizeOfSession(dir string) tracestore.Size {
	return tracestore.Size{
		Bytes: largepage.AlignUp(sessionHeaderSize+maxHostname+1+len(dir), sessionAlign),
		Align: sessionAlign,
	}
}

// InitializeSession constructs the session over buf.
//
// In write mode a fresh identity is generated, dir is created if needed
// and the session is persisted as session.yaml. In readonly mode the
// identity is read back from session.yaml when present.
func InitializeSession(buf []byte, dir string, flags tracestore.Flags) (*Session, error) {
	if dir == "" {
		return nil, errors.New("tracecontext: empty session directory")
	}
	need := SizeOfSession(dir)
	if len(buf) < need.Bytes {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrBufferTooSmall, len(buf), need.Bytes)
	}

	readonly := flags&tracestore.Readonly != 0
	s := &Session{Directory: dir, Readonly: readonly, buf: buf[:need.Bytes]}

	var err error
	if readonly {
		err = s.read()
	} else {
		err = s.create()
	}
	if err != nil {
		return nil, err
	}
	s.encode()
	return s, nil
}

func (s *Session) fresh() {
	s.ID = uuid.Must(uuid.NewV7())
	s.Start = time.Now().UTC()
	s.PID = os.Getpid()
	s.Hostname, _ = os.Hostname()
	if len(s.Hostname) > maxHostname {
		s.Hostname = s.Hostname[:maxHostname]
	}
}

func (s *Session) create() error {
	s.fresh()
	if err := os.MkdirAll(s.Directory, 0o755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.Directory, SessionFile), data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (s *Session) read() error {
	data, err := os.ReadFile(filepath.Join(s.Directory, SessionFile))
	if errors.Is(err, fs.ErrNotExist) {
		// Stores written without a session file, e.g. by the harness.
		s.fresh()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	if len(s.Hostname) > maxHostname {
		s.Hostname = s.Hostname[:maxHostname]
	}
	return nil
}

func (s *Session) encode() {
	b := s.buf
	clear(b)
	copy(b[0:4], sessionMagic[:])
	le := binary.LittleEndian
	le.PutUint16(b[4:], 1)
	if s.Readonly {
		le.PutUint16(b[6:], uint16(tracestore.Readonly))
	}
	copy(b[8:24], s.ID[:])
	le.PutUint64(b[24:], uint64(s.Start.UnixNano()))
	le.PutUint32(b[32:], uint32(s.PID))
	le.PutUint16(b[36:], uint16(len(s.Hostname)))
	le.PutUint16(b[38:], uint16(len(s.Directory)))
	copy(b[sessionHeaderSize:], s.Hostname)
	copy(b[sessionHeaderSize+maxHostname+1:], s.Directory)
}
