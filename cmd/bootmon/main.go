package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ultisoc/bootmon/internal/config"
	"github.com/ultisoc/bootmon/internal/detect"
	"github.com/ultisoc/bootmon/internal/memory"
	"github.com/ultisoc/bootmon/internal/monitor"
	"github.com/ultisoc/bootmon/internal/serial"
	"github.com/ultisoc/bootmon/internal/upload"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configFlag string
	portFlag   string
	baudFlag   int
	resetFlag  bool
	probeFlag  bool
	chunkFlag  int

	cfg    *config.Config
	logger *stdLogger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bootmon",
		Short: "Boot monitor and XModem image loader for UltiSoC boards",
		Long: `bootmon talks to the UltiSoC boot monitor over a serial line.

It can send raw files or ELF executables to a waiting XModem receiver,
check an ELF image against the streaming loader before sending it, and
serve an emulated boot monitor on a serial port.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configFlag)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Serial.Port = portFlag
			}
			if cmd.Flags().Changed("baud") {
				cfg.Serial.Baud = baudFlag
			}
			logger, err = setupLogging(cfg.Log)
			return err
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file (built-in defaults if not specified)")

	// Send command
	sendCmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Send a file to a waiting XModem receiver",
		Long: `Send a file to a board waiting in "xmodem <addr>" or "load".

When the board runs "load", it stops the transfer as soon as the last
loadable segment has arrived. That early stop is reported as success.`,
		Args: cobra.ExactArgs(1),
		RunE: runSend,
	}
	sendCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	sendCmd.Flags().IntVarP(&baudFlag, "baud", "b", 0, "Baud rate (from config if not specified)")
	sendCmd.Flags().BoolVar(&resetFlag, "reset", false, "Pulse RTS to reset the board before sending")

	// Monitor command
	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve an emulated boot monitor on a serial port",
		Long: `Serve the boot monitor shell on a serial port, backed by the memory map
from the configuration. Loaded images are kept in host memory and jumps are
logged rather than executed.`,
		Args: cobra.NoArgs,
		RunE: runMonitor,
	}
	monitorCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port")
	monitorCmd.Flags().IntVarP(&baudFlag, "baud", "b", 0, "Baud rate (from config if not specified)")

	// Inspect command
	inspectCmd := &cobra.Command{
		Use:   "inspect <file.elf>",
		Short: "Check an ELF image against the streaming loader",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	inspectCmd.Flags().IntVar(&chunkFlag, "chunk", 1024, "Chunk size fed to the loader")

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}
	listCmd.Flags().BoolVar(&probeFlag, "probe", false, "Only show ports with a waiting XModem receiver")
	listCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Probe a single port")
	listCmd.Flags().IntVarP(&baudFlag, "baud", "b", 0, "Baud rate (from config if not specified)")

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bootmon %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(sendCmd, monitorCmd, inspectCmd, listCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSend(cmd *cobra.Command, args []string) error {
	path := args[0]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("%s is empty", path)
	}

	fmt.Printf("File: %s (%d bytes)\n", path, len(data))

	// Find or use specified port
	portName := cfg.Serial.Port
	if portName == "" {
		fmt.Println("Waiting for a receiver...")
		result, err := detect.FindReceiver(cfg.Serial.Baud, cfg.Serial.DetectTimeout)
		if err != nil {
			return fmt.Errorf("receiver detection failed: %w", err)
		}
		portName = result.Port
		fmt.Printf("Found receiver on %s\n", result.Description)
	}

	port, err := serial.Open(portName, cfg.Serial.Baud)
	if err != nil {
		return err
	}
	defer port.Close()

	fmt.Printf("Port: %s @ %d baud\n", port.PortName(), port.BaudRate())

	if resetFlag || cfg.Serial.Reset {
		fmt.Println("Resetting board...")
		if err := port.Reset(); err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}
	}

	sender := upload.New(port, append(cfg.UploadOptions(), upload.WithLogger(logger))...)

	var bar *progressbar.ProgressBar
	sender.SetProgressCallback(func(current, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Sending"),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionThrottle(100),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		bar.Set(current)
	})

	fmt.Println("Connecting to receiver...")
	err = sender.Transfer(data)
	if bar != nil {
		bar.Finish()
	}

	switch {
	case errors.Is(err, upload.ErrCancelled):
		// The loader cancels once the image is in place
		fmt.Println("\nReceiver stopped the transfer. Check the board console for the result.")
		return nil
	case err != nil:
		return err
	}

	fmt.Println("\nDone!")
	return nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if cfg.Serial.Port == "" {
		return fmt.Errorf("no serial port given, use --port or serial.port in the config")
	}

	mem, err := memory.New(cfg.Regions()...)
	if err != nil {
		return err
	}

	port, err := serial.Open(cfg.Serial.Port, cfg.Serial.Baud)
	if err != nil {
		return err
	}
	defer port.Close()

	m := monitor.New(port, mem,
		monitor.WithPrompt(cfg.Monitor.Prompt),
		monitor.WithVersion(version),
		monitor.WithScratch(uint32(cfg.Monitor.Scratch)),
		monitor.WithInfo(monitor.Info{
			CPUID:   uint32(cfg.Monitor.CPUID),
			Version: cfg.Monitor.SoCVersion,
			SysFreq: cfg.Monitor.SysFreqHz,
		}),
		monitor.WithJumper(monitor.JumperFunc(func(addr uint32) error {
			log.Printf("jump to 0x%08X requested, not executed on the host", addr)
			return nil
		})),
		monitor.WithReceiverOptions(cfg.ReceiverOptions()...),
		monitor.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Printf("monitor serving on %s @ %d baud", port.PortName(), port.BaudRate())
	if err := m.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Println("monitor stopped")
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	if probeFlag || cmd.Flags().Changed("port") {
		return runProbe()
	}

	ports, err := serial.ListPortDetails()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p.Describe())
	}

	return nil
}

func runProbe() error {
	if name := cfg.Serial.Port; name != "" {
		result, err := detect.ProbePort(name, cfg.Serial.Baud, cfg.Serial.DetectTimeout)
		if err != nil {
			return err
		}
		fmt.Printf("Receiver waiting on %s\n", result.Description)
		return nil
	}

	fmt.Println("Scanning for waiting receivers...")
	results, err := detect.ListReceivers(cfg.Serial.Baud, cfg.Serial.DetectTimeout)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No waiting receivers found")
		return nil
	}

	for _, r := range results {
		fmt.Printf("  %s\n", r.Description)
	}
	return nil
}
