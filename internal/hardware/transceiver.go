package hardware

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"obd2-service/internal/logger"
)

// Transceiver drives the standby pin of the CAN transceiver. Pulling the
// pin high puts the transceiver into its low-power standby mode after an
// ignition-off teardown; pulling it low wakes it for a new session.
type Transceiver struct {
	chip   *gpiocdev.Chip
	line   *gpiocdev.Line
	logger *logger.Logger
}

// NewTransceiver claims the standby line on the given chip, starting in
// the awake state.
func NewTransceiver(chipName string, lineNum int, l *logger.Logger) (*Transceiver, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("failed to open GPIO chip %s: %w", chipName, err)
	}

	line, err := chip.RequestLine(lineNum,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("obd2-service"))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("failed to request standby line %d: %w", lineNum, err)
	}

	return &Transceiver{
		chip:   chip,
		line:   line,
		logger: l.WithTag("can-standby"),
	}, nil
}

// OnTeardown puts the transceiver into standby.
func (t *Transceiver) OnTeardown() {
	if err := t.line.SetValue(1); err != nil {
		t.logger.Errorf("Failed to enter transceiver standby: %v", err)
		return
	}
	t.logger.Infof("CAN transceiver in standby")
}

// OnResume wakes the transceiver.
func (t *Transceiver) OnResume() {
	if err := t.line.SetValue(0); err != nil {
		t.logger.Errorf("Failed to wake transceiver: %v", err)
		return
	}
	t.logger.Debugf("CAN transceiver awake")
}

func (t *Transceiver) Close() error {
	if t.line != nil {
		t.line.Close()
	}
	if t.chip != nil {
		return t.chip.Close()
	}
	return nil
}
