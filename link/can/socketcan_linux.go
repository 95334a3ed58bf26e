//go:build linux && !tinygo

package can

import (
	"encoding/binary"
	"errors"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"sysbus-go/errcode"
)

const (
	canRTRFlag  = 0x40000000
	canErrFlag  = 0x20000000
	canFrameLen = 16 // struct can_frame
)

// SocketCAN is a Controller over a Linux raw CAN socket (can0, vcan0, ...).
type SocketCAN struct {
	ifname string

	mu sync.Mutex
	fd int
	rx [canFrameLen]byte
}

func NewSocketCAN(ifname string) *SocketCAN { return &SocketCAN{ifname: ifname, fd: -1} }

func (s *SocketCAN) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd >= 0 {
		return nil
	}
	ifi, err := net.InterfaceByName(s.ifname)
	if err != nil {
		return errcode.Wrap(errcode.InvalidParams, "socketcan.begin", err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return errcode.Wrap(errcode.Unsupported, "socketcan.begin", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		_ = unix.Close(fd)
		return errcode.Wrap(errcode.Error, "socketcan.bind", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return errcode.Wrap(errcode.Error, "socketcan.nonblock", err)
	}
	s.fd = fd
	return nil
}

func (s *SocketCAN) Transmit(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	var b [canFrameLen]byte
	id := f.ID
	if f.Extended {
		id |= EFFFlag
	}
	binary.NativeEndian.PutUint32(b[0:4], id)
	b[4] = f.Len
	copy(b[8:], f.Data[:f.Len])

	s.mu.Lock()
	fd := s.fd
	s.mu.Unlock()
	if fd < 0 {
		return errcode.New(errcode.LinkClosed, "socketcan.send", s.ifname+" not open")
	}
	for {
		_, err := unix.Write(fd, b[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ENOBUFS) {
			return errcode.Wrap(errcode.Busy, "socketcan.send", err)
		}
		if err != nil {
			return errcode.Wrap(errcode.LinkRejected, "socketcan.send", err)
		}
		return nil
	}
}

// TryRecv reads one pending frame. Error and remote frames are discarded.
func (s *SocketCAN) TryRecv() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return Frame{}, false
	}
	for {
		n, err := unix.Read(s.fd, s.rx[:])
		if err != nil || n < canFrameLen {
			return Frame{}, false
		}
		id := binary.NativeEndian.Uint32(s.rx[0:4])
		if id&(canRTRFlag|canErrFlag) != 0 {
			continue
		}
		f := Frame{Extended: id&EFFFlag != 0, Len: min(s.rx[4], MaxDLC)}
		if f.Extended {
			f.ID = id & MaxExtID
		} else {
			f.ID = id & MaxStdID
		}
		copy(f.Data[:], s.rx[8:8+f.Len])
		return f, true
	}
}

func (s *SocketCAN) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}
