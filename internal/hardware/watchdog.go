package hardware

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"obd2-service/internal/logger"
)

const (
	wdiocGetTimeout = 0x80045707 // _IOR('W', 7, int)
	wdiocSetTimeout = 0xc0045706 // _IOWR('W', 6, int)
)

// Watchdog pets the hardware watchdog while the service runs. A hung main
// loop stops the petting and lets the device reboot the interface.
type Watchdog struct {
	fd       int
	interval time.Duration
	logger   *logger.Logger

	lock     sync.Mutex
	stopChan chan struct{}
}

// OpenWatchdog opens the watchdog device and programs its timeout. The
// petting interval is half the programmed timeout.
func OpenWatchdog(devPath string, timeout time.Duration, l *logger.Logger) (*Watchdog, error) {
	fd, err := unix.Open(devPath, unix.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open watchdog %s: %w", devPath, err)
	}

	seconds := int(timeout / time.Second)
	if seconds > 0 {
		if err := unix.IoctlSetPointerInt(fd, wdiocSetTimeout, seconds); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("failed to set watchdog timeout: %w", err)
		}
	}
	actual, err := unix.IoctlGetInt(fd, wdiocGetTimeout)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to read watchdog timeout: %w", err)
	}

	w := &Watchdog{
		fd:       fd,
		interval: time.Duration(actual) * time.Second / 2,
		logger:   l.WithTag("watchdog"),
	}
	w.logger.Infof("Watchdog armed, timeout %ds", actual)
	return w, nil
}

// Start runs the petting loop.
func (w *Watchdog) Start() {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.stopChan != nil {
		return
	}
	w.stopChan = make(chan struct{})

	go func(stop chan struct{}) {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if _, err := unix.Write(w.fd, []byte{0}); err != nil {
					w.logger.Errorf("Failed to pet watchdog: %v", err)
				}
			}
		}
	}(w.stopChan)
}

// Close disarms the watchdog with the magic close character and releases
// the device.
func (w *Watchdog) Close() error {
	w.lock.Lock()
	if w.stopChan != nil {
		close(w.stopChan)
		w.stopChan = nil
	}
	w.lock.Unlock()

	if _, err := unix.Write(w.fd, []byte{'V'}); err != nil {
		w.logger.Warnf("Failed to disarm watchdog: %v", err)
	}
	return unix.Close(w.fd)
}
