package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"obd2-service/internal/core"
	"obd2-service/internal/logger"
	"obd2-service/internal/types"
)

func main() {
	var (
		serviceLogLevel int
		canInterface    string
		redisHost       string
		redisPort       int
		mqttBroker      string
		mqttTopic       string
		mqttInterval    time.Duration
		supportDB       string
		powerManagement string
		recurring       bool
		tickInterval    time.Duration
		watchdogPath    string
		watchdogTimeout time.Duration
		standbyChip     string
		standbyLine     int
	)

	flag.IntVar(&serviceLogLevel, "log", 3, "Service log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")
	flag.StringVar(&canInterface, "can", "can0", "CAN interface name")
	flag.StringVar(&redisHost, "redis-host", "127.0.0.1", "Redis host")
	flag.IntVar(&redisPort, "redis-port", 6379, "Redis port")
	flag.StringVar(&mqttBroker, "broker", "", "MQTT broker URL (empty disables telemetry)")
	flag.StringVar(&mqttTopic, "topic", "vehicle/obd2", "MQTT telemetry topic")
	flag.DurationVar(&mqttInterval, "telemetry-interval", 10*time.Second, "Telemetry publish interval")
	flag.StringVar(&supportDB, "support-db", "", "Path to PID support database (empty disables persistence)")
	flag.StringVar(&powerManagement, "power-management", string(types.PowerManagementIgnitionCheck), "Power management mode (none, obd2-ignition-check)")
	flag.BoolVar(&recurring, "recurring", true, "Discover supported PIDs and poll them")
	flag.DurationVar(&tickInterval, "tick", core.DefaultTickInterval, "Main loop tick interval")
	flag.StringVar(&watchdogPath, "watchdog", "", "Watchdog device path (empty disables petting)")
	flag.DurationVar(&watchdogTimeout, "watchdog-timeout", 30*time.Second, "Watchdog timeout")
	flag.StringVar(&standbyChip, "standby-chip", "", "GPIO chip with the CAN transceiver standby line")
	flag.IntVar(&standbyLine, "standby-line", -1, "CAN transceiver standby line (-1 disables)")

	flag.Parse()

	var stdLogger *log.Logger
	if os.Getenv("INVOCATION_ID") != "" {
		// Running under systemd, use minimal format
		stdLogger = log.New(os.Stdout, "", 0)
	} else {
		// Running interactively, use timestamps
		stdLogger = log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds|log.Lmsgprefix)
	}

	l := logger.NewLogger(stdLogger, logger.LogLevel(serviceLogLevel))

	l.Infof("Starting OBD-II service...")

	system := core.NewSystem(core.Config{
		CANInterface:      canInterface,
		RedisHost:         redisHost,
		RedisPort:         redisPort,
		MQTTBroker:        mqttBroker,
		MQTTTopic:         mqttTopic,
		MQTTInterval:      mqttInterval,
		SupportDBPath:     supportDB,
		PowerManagement:   types.PowerManagement(powerManagement),
		RecurringRequests: recurring,
		TickInterval:      tickInterval,
		WatchdogPath:      watchdogPath,
		WatchdogTimeout:   watchdogTimeout,
		StandbyChip:       standbyChip,
		StandbyLine:       standbyLine,
	}, l)
	if err := system.Start(); err != nil {
		l.Fatalf("Failed to start system: %v", err)
	}

	l.Infof("System started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	l.Infof("Received signal %v, shutting down...", sig)
	system.Shutdown()
	l.Infof("Shutdown complete")
}
