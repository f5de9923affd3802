package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"obd2-service/internal/can"
	"obd2-service/internal/diag"
	"obd2-service/internal/hardware"
	"obd2-service/internal/logger"
	"obd2-service/internal/messaging"
	"obd2-service/internal/obd2"
	"obd2-service/internal/storage"
	"obd2-service/internal/telemetry"
	"obd2-service/internal/types"
)

const DefaultTickInterval = 100 * time.Millisecond

// Config wires the whole service. Empty MQTTBroker disables telemetry,
// empty SupportDBPath disables support persistence, empty WatchdogPath
// disables watchdog petting and a negative StandbyLine leaves the CAN
// transceiver alone.
type Config struct {
	CANInterface string

	RedisHost string
	RedisPort int

	MQTTBroker   string
	MQTTTopic    string
	MQTTInterval time.Duration

	SupportDBPath string

	PowerManagement   types.PowerManagement
	RecurringRequests bool
	TickInterval      time.Duration

	WatchdogPath    string
	WatchdogTimeout time.Duration

	StandbyChip string
	StandbyLine int
}

// System owns every component of the OBD-II service and runs the main
// tick loop.
type System struct {
	config Config
	logger *logger.Logger

	bus       *can.SocketBus
	manager   *diag.BusManager
	monitor   *obd2.Monitor
	redis     *messaging.RedisClient
	publisher *telemetry.Publisher
	store     *storage.SupportStore
	standby   *hardware.Transceiver
	watchdog  *hardware.Watchdog

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSystem(config Config, l *logger.Logger) *System {
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	return &System{
		config: config,
		logger: l.WithTag("core"),
	}
}

// Start connects every configured component and launches the transport
// and tick loops. On error the partially started system is torn down.
func (s *System) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.redis = messaging.NewRedisClient(s.config.RedisHost, s.config.RedisPort, s.logger)
	if err := s.redis.Connect(); err != nil {
		s.Shutdown()
		return err
	}

	// A missing bus is not fatal: the monitor stays inactive and every
	// entry point degrades to a no-op.
	var manager obd2.DiagnosticsManager
	bus, err := can.Open(s.config.CANInterface, s.logger)
	if err != nil {
		s.logger.Warnf("Failed to open CAN interface, running without a bus: %v", err)
	} else {
		s.bus = bus
		s.manager = diag.NewBusManager(bus, s.logger)
		manager = s.manager
	}

	monitor, err := obd2.NewMonitor(obd2.Config{
		PowerManagement:   s.config.PowerManagement,
		RecurringRequests: s.config.RecurringRequests,
	}, manager, s.logger)
	if err != nil {
		s.Shutdown()
		return fmt.Errorf("failed to build monitor: %w", err)
	}
	s.monitor = monitor
	s.monitor.SetSignalSink(s.redis)

	if s.config.SupportDBPath != "" {
		store, err := storage.Open(s.config.SupportDBPath, s.logger)
		if err != nil {
			s.Shutdown()
			return err
		}
		s.store = store
		s.monitor.SetSupportRecorder(store)
	}

	if s.config.StandbyLine >= 0 && s.config.StandbyChip != "" {
		standby, err := hardware.NewTransceiver(s.config.StandbyChip, s.config.StandbyLine, s.logger)
		if err != nil {
			s.Shutdown()
			return err
		}
		s.standby = standby
		s.monitor.SetPowerHook(standby)
	}

	if s.config.WatchdogPath != "" {
		watchdog, err := hardware.OpenWatchdog(s.config.WatchdogPath, s.config.WatchdogTimeout, s.logger)
		if err != nil {
			s.Shutdown()
			return err
		}
		s.watchdog = watchdog
		s.watchdog.Start()
	}

	if s.config.MQTTBroker != "" {
		s.publisher = telemetry.NewPublisher(telemetry.Config{
			Broker:         s.config.MQTTBroker,
			Topic:          s.config.MQTTTopic,
			UpdateInterval: s.config.MQTTInterval,
		}, s.monitor.Signals().Snapshot, s.logger)
		if err := s.publisher.Connect(); err != nil {
			// Telemetry is best-effort; auto-reconnect recovers later.
			s.logger.Warnf("MQTT connect failed, continuing without telemetry: %v", err)
		}
		s.publisher.StartPublishing()
	}

	if err := s.monitor.Start(ctx); err != nil {
		s.Shutdown()
		return fmt.Errorf("failed to start power state machine: %w", err)
	}

	if s.manager != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.manager.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Errorf("Diagnostics transport stopped: %v", err)
			}
		}()
	}

	s.monitor.Initialize()

	s.wg.Add(1)
	go s.tickLoop(ctx)

	return nil
}

func (s *System) tickLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.monitor.Tick()
		}
	}
}

// Shutdown stops the loops and releases every component in reverse start
// order. Safe to call on a partially started system.
func (s *System) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}

	if s.manager != nil {
		s.manager.Reset()
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.logger.Warnf("Failed to close CAN socket: %v", err)
		}
	}
	s.wg.Wait()

	if s.publisher != nil {
		s.publisher.Stop()
	}
	if s.watchdog != nil {
		if err := s.watchdog.Close(); err != nil {
			s.logger.Warnf("Failed to close watchdog: %v", err)
		}
	}
	if s.standby != nil {
		if err := s.standby.Close(); err != nil {
			s.logger.Warnf("Failed to release standby line: %v", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warnf("Failed to close support database: %v", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warnf("Failed to close Redis client: %v", err)
		}
	}
}
