package can

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/notnil/canbus"
	"golang.org/x/sys/unix"

	"obd2-service/internal/logger"
)

// SocketBus is a canbus.Bus over a raw Linux SocketCAN socket bound to one
// interface. Send and Receive are safe for concurrent use; Close unblocks
// a pending Receive.
type SocketBus struct {
	fd     int
	name   string
	logger *logger.Logger
	closed atomic.Bool
}

var _ canbus.Bus = (*SocketBus)(nil)

// Open binds a raw CAN socket to the named interface (e.g. "can0").
func Open(interfaceName string, l *logger.Logger) (*SocketBus, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("failed to create CAN socket: %w", err)
	}

	iface, err := net.InterfaceByName(interfaceName)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("InterfaceByName %q: %w", interfaceName, err)
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind CAN socket to %s: %w", interfaceName, err)
	}

	bus := &SocketBus{
		fd:     fd,
		name:   interfaceName,
		logger: l.WithTag("can"),
	}
	bus.logger.Infof("CAN socket bound to %s (ifindex %d)", interfaceName, iface.Index)
	return bus, nil
}

func (b *SocketBus) Send(frame canbus.Frame) error {
	if b.closed.Load() {
		return canbus.ErrClosed
	}
	buf, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := unix.Write(b.fd, buf); err != nil {
		if b.closed.Load() {
			return canbus.ErrClosed
		}
		return fmt.Errorf("CAN write on %s: %w", b.name, err)
	}
	return nil
}

func (b *SocketBus) Receive() (canbus.Frame, error) {
	buf := make([]byte, 16)
	for {
		n, err := unix.Read(b.fd, buf)
		if err != nil {
			if b.closed.Load() {
				return canbus.Frame{}, canbus.ErrClosed
			}
			if err == unix.EINTR {
				continue
			}
			return canbus.Frame{}, fmt.Errorf("CAN read on %s: %w", b.name, err)
		}
		if n < 16 {
			b.logger.Debugf("Dropping short read of %d bytes", n)
			continue
		}

		var frame canbus.Frame
		if err := frame.UnmarshalBinary(buf[:n]); err != nil {
			b.logger.Debugf("Dropping malformed frame: %v", err)
			continue
		}
		return frame, nil
	}
}

func (b *SocketBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return unix.Close(b.fd)
}
