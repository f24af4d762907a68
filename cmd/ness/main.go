// Command ness talks to a Ness D8x/D16x/D32x alarm panel over its ASCII
// bus, either directly on serial or through a serial-to-IP bridge.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alarmkit/ness"
	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
)

// Config carries the connection defaults; flags override each value.
type Config struct {
	Host       string        `env:"NESS_HOST"`
	Port       int           `env:"NESS_PORT"     envDefault:"2401"`
	SerialPort string        `env:"NESS_SERIAL"`
	BaudRate   int           `env:"NESS_BAUD"     envDefault:"9600"`
	Address    int           `env:"NESS_ADDRESS"`
	Interval   time.Duration `env:"NESS_INTERVAL" envDefault:"1m"`
}

var (
	host     string
	port     int
	serialPt string
	baudRate int
	address  int
	interval time.Duration
	lenient  bool
	code     string
)

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cmd := &cobra.Command{
		Use:   "ness",
		Short: "Ness D8x/D16x/D32x alarm panel client",
	}
	cmd.PersistentFlags().StringVar(&host, "host", cfg.Host, "panel TCP host (serial-to-IP bridge)")
	cmd.PersistentFlags().IntVar(&port, "port", cfg.Port, "panel TCP port")
	cmd.PersistentFlags().StringVar(&serialPt, "serial", cfg.SerialPort, "panel serial device")
	cmd.PersistentFlags().IntVar(&baudRate, "baud", cfg.BaudRate, "baud rate (serial only)")
	cmd.PersistentFlags().IntVar(&address, "address", cfg.Address, "panel address for outbound packets")
	cmd.PersistentFlags().DurationVar(&interval, "interval", cfg.Interval, "status refresh interval")
	cmd.PersistentFlags().BoolVar(&lenient, "lenient", false, "accept packets with bad checksums")

	events := &cobra.Command{
		Use:   "events",
		Short: "Stream decoded panel events to stdout",
		Args:  cobra.ExactArgs(0),
		RunE:  runEvents,
	}

	send := &cobra.Command{
		Use:   "send KEYSTRING",
		Short: "Send a raw keypad keystring",
		Args:  cobra.ExactArgs(1),
		RunE:  runSend,
	}

	status := &cobra.Command{
		Use:   "status [ID]",
		Short: "Request a status update and print the reply",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}

	info := &cobra.Command{
		Use:   "info",
		Short: "Print the panel model and firmware version",
		Args:  cobra.ExactArgs(0),
		RunE:  runInfo,
	}

	arm := &cobra.Command{
		Use:       "arm (away|home)",
		Short:     "Arm the panel",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"away", "home"},
		RunE:      runArm,
	}
	arm.Flags().StringVar(&code, "code", "", "user code")

	disarm := &cobra.Command{
		Use:   "disarm",
		Short: "Disarm the panel",
		Args:  cobra.ExactArgs(0),
		RunE:  runDisarm,
	}
	disarm.Flags().StringVar(&code, "code", "", "user code")
	_ = disarm.MarkFlagRequired("code")

	cmd.AddCommand(events, send, status, info, arm, disarm)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func dialer() (ness.Dialer, error) {
	if serialPt != "" {
		return ness.SerialDialer{Port: serialPt, BaudRate: baudRate}, nil
	}
	if host != "" {
		return ness.TCPDialer{Addr: fmt.Sprintf("%s:%d", host, port)}, nil
	}
	return nil, fmt.Errorf("either --host or --serial is required")
}

func newClient() (*ness.Client, error) {
	d, err := dialer()
	if err != nil {
		return nil, err
	}
	return ness.NewClient(ness.Options{
		Dialer:           d,
		Address:          address,
		UpdateInterval:   interval,
		LenientChecksums: lenient,
		InferArmingState: true,
	})
}

func runEvents(cmd *cobra.Command, _ []string) error {
	cli, err := newClient()
	if err != nil {
		return err
	}
	defer cli.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cli.Connect(ctx); err != nil {
		return err
	}

	sub := cli.Events()
	defer sub.Cancel()
	for {
		item, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if item.Dropped > 0 {
			fmt.Printf("... %d events dropped ...\n", item.Dropped)
		}
		fmt.Printf("%s %v\n", time.Now().Format("15:04:05.000"), item.Value)
	}
}

func runSend(cmd *cobra.Command, args []string) error {
	cli, err := newClient()
	if err != nil {
		return err
	}
	defer cli.Close()
	if err := cli.Connect(cmd.Context()); err != nil {
		return err
	}
	return cli.SendCommand(args[0])
}

func runStatus(cmd *cobra.Command, args []string) error {
	id := ness.ReqArming
	if len(args) == 1 {
		n, err := strconv.ParseUint(args[0], 16, 8)
		if err != nil {
			return fmt.Errorf("invalid status request id %q: %w", args[0], err)
		}
		id = ness.RequestID(n)
	}

	cli, err := newClient()
	if err != nil {
		return err
	}
	defer cli.Close()
	if err := cli.Connect(cmd.Context()); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	update, err := cli.RequestStatus(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("%+v\n", update)
	return nil
}

func runInfo(cmd *cobra.Command, _ []string) error {
	cli, err := newClient()
	if err != nil {
		return err
	}
	defer cli.Close()
	if err := cli.Connect(cmd.Context()); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	info, err := cli.PanelInfo(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", info.Model, info.Version())
	return nil
}

func runArm(cmd *cobra.Command, args []string) error {
	cli, err := newClient()
	if err != nil {
		return err
	}
	defer cli.Close()
	if err := cli.Connect(cmd.Context()); err != nil {
		return err
	}
	switch args[0] {
	case "home":
		return cli.ArmHome(code)
	default:
		return cli.ArmAway(code)
	}
}

func runDisarm(cmd *cobra.Command, _ []string) error {
	cli, err := newClient()
	if err != nil {
		return err
	}
	defer cli.Close()
	if err := cli.Connect(cmd.Context()); err != nil {
		return err
	}
	return cli.Disarm(code)
}
