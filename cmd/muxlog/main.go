package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ansel1/merry"
	"github.com/powerman/structlog"

	"github.com/itohio/muxscan/pkg/config"
	"github.com/itohio/muxscan/pkg/muxlog"
)

var log = structlog.New()

func main() {
	structlog.DefaultLogger.
		SetPrefixKeys(
			structlog.KeyApp,
			structlog.KeyPID, structlog.KeyLevel, structlog.KeyUnit, structlog.KeyTime,
		).
		SetDefaultKeyvals(
			structlog.KeyApp, filepath.Base(os.Args[0]),
			structlog.KeySource, structlog.Auto,
		).
		SetSuffixKeys(structlog.KeySource).
		SetKeysFormat(map[string]string{
			structlog.KeyTime:   " %[2]s",
			structlog.KeySource: " %6[2]s",
			structlog.KeyUnit:   " %6[2]s",
		})

	var (
		portFlag           = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag         = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag           = flag.Bool("mock", false, "Use simulated scanner instead of serial port")
		listFlag           = flag.Bool("list", false, "List serial ports and exit")
		journalFlag        = flag.String("journal", "", "Journal database path (overrides config)")
		noJournalFlag      = flag.Bool("no-journal", false, "Do not record a journal")
		thresholdFlag      = flag.Float64("threshold", -1, "Open joint threshold in volts (overrides config)")
		averagePassesFlag  = flag.Int("average-passes", -1, "Number of passes to average per channel (0 = disabled, overrides config)")
		averageSamplesFlag = flag.Int("average-samples", -1, "ADC reads averaged per channel by the simulated scanner (overrides config)")
		passesFlag         = flag.Int("passes", -1, "Passes before the simulated scanner ends with EOF (0 = unbounded)")
		startFlag          = flag.Bool("start", true, "Send START after connecting")
		saveFlag           = flag.Bool("save-config", false, "Write the effective configuration back to the config file")
		httpFlag           = flag.String("http", "", "Serve a read-only live view on this address, e.g. :8000 (overrides config)")
	)
	flag.Parse()

	if *listFlag {
		log.ErrIfFail(listPorts)
		return
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *journalFlag != "" {
		cfg.Journal.Path = *journalFlag
	}
	if *noJournalFlag {
		cfg.Journal.Path = ""
	}
	if *thresholdFlag >= 0 {
		cfg.Monitor.Threshold = *thresholdFlag
	}
	if *averagePassesFlag >= 0 {
		cfg.Monitor.AveragePasses = *averagePassesFlag
	}
	if *averageSamplesFlag >= 0 {
		cfg.Scan.AverageSamples = *averageSamplesFlag
	}
	if *passesFlag >= 0 {
		cfg.Scan.MaxPasses = *passesFlag
	}
	if *httpFlag != "" {
		cfg.Web.Listen = *httpFlag
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *saveFlag {
		if err := cfg.Save(*configFlag); err != nil {
			log.Fatalf("Failed to save configuration: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *mockFlag, *startFlag); err != nil {
		log.PrintErr(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, useMock, start bool) error {
	var device muxlog.Device
	source := cfg.Serial.Port
	if useMock {
		device = muxlog.NewMock(&cfg.Mock, cfg.Scan)
		source = "mock"
		log.Info("using simulated scanner", "banks", cfg.Scan.Banks)
	} else {
		device = muxlog.New(cfg.Serial.Port, cfg.Serial.Baud, muxlog.DefaultBufferSize)
	}

	if err := device.Connect(); err != nil {
		return merry.Prependf(err, "failed to connect to %s", source)
	}
	log.Info("connected", "source", source)

	chain, err := newScanChain(ctx, cfg, device, source)
	if err != nil {
		_ = device.Close()
		return err
	}
	defer func() {
		log.ErrIfFail(chain.close)
	}()

	if cfg.Web.Listen != "" {
		srv, err := startLiveView(cfg.Web.Listen, newLiveView(chain.monitor, source, cfg.Web.Refresh))
		if err != nil {
			return err
		}
		defer log.ErrIfFail(func() error { return stopLiveView(srv) })
	}

	if start {
		if err := muxlog.Start(device); err != nil {
			return merry.Prepend(err, "failed to start scan")
		}
	}

	commands := readCommands(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			log.Info("interrupted")
			return nil
		case <-chain.eof:
			if chain.err != nil {
				return merry.Prependf(chain.err, "lost connection to %s", source)
			}
			log.Info("scanner finished", "passes", chain.monitor.Pass())
			return nil
		case cmd, ok := <-commands:
			if !ok {
				// stdin closed, keep capturing until EOF or a signal
				commands = nil
				continue
			}
			if quit := handleCommand(cmd, device, chain.monitor); quit {
				return nil
			}
		}
	}
}

func listPorts() error {
	ports, err := muxlog.Ports()
	if err != nil {
		return err
	}
	for _, p := range ports {
		mark := " "
		if p.Pico {
			mark = "*"
		}
		fmt.Printf("%s %-20s %s\n", mark, p.Name, p.Description)
	}
	return nil
}
