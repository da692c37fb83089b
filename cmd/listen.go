package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/luojunlin1223/VibeVtuber/internal/telemetry"
	"github.com/luojunlin1223/VibeVtuber/internal/transport"
)

var (
	listenHost     string
	listenPort     int
	listenDetailed bool
	listenRaw      bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Receive telemetry datagrams and show the latest values",
	Long: `Binds the telemetry port the way the avatar renderer does. Only the most
recent datagram is kept; a status line is printed every status interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		port := Cfg.Network.Port
		if cmd.Flags().Changed("port") {
			port = listenPort
		}

		l, err := transport.Listen(listenHost, port)
		if err != nil {
			return err
		}
		defer l.Close()
		fmt.Fprintf(os.Stderr, "👂 Listening on %s\n", l.Addr())

		var onMessage func(telemetry.Message)
		if listenRaw {
			enc := json.NewEncoder(os.Stdout)
			onMessage = func(m telemetry.Message) { enc.Encode(m) }
		}

		interval := Cfg.Debug.StatusInterval
		if interval <= 0 {
			interval = time.Second
		}
		go reportListener(ctx, l, interval, listenDetailed)

		return l.Run(ctx, onMessage)
	},
}

func init() {
	listenCmd.Flags().StringVar(&listenHost, "host", transport.DefaultHost, "Address to bind")
	listenCmd.Flags().IntVar(&listenPort, "port", transport.DefaultPort, "Port to bind")
	listenCmd.Flags().BoolVarP(&listenDetailed, "detailed", "d", false, "Print every parameter group")
	listenCmd.Flags().BoolVar(&listenRaw, "raw", false, "Write each decoded message to stdout as JSON")
	rootCmd.AddCommand(listenCmd)
}

func reportListener(ctx context.Context, l *transport.Listener, interval time.Duration, detailed bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastPackets uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st := l.Stats()
		rate := float64(st.Packets-lastPackets) / interval.Seconds()
		lastPackets = st.Packets

		msg, ok := l.Latest()
		if !ok {
			fmt.Fprintf(os.Stderr, "⏳ Waiting for telemetry...\n")
			continue
		}
		line := listenStatus(rate, msg, st, detailed)
		fmt.Fprintln(os.Stderr, line)
	}
}

func listenStatus(rate float64, msg telemetry.Message, st transport.ListenerStats, detailed bool) string {
	if detailed {
		return detailedStatus(rate, msg)
	}
	line := compactStatus(rate, msg)
	if msg.FaceDetected {
		rot := msg.Rotation()
		line += fmt.Sprintf(" | Yaw: %.1f Pitch: %.1f Roll: %.1f", rot.Yaw, rot.Pitch, rot.Roll)
	}
	age := time.Since(msg.Time()).Seconds() * 1000
	line += fmt.Sprintf(" | age %.0fms", age)
	if st.DecodeErrors > 0 {
		line += fmt.Sprintf(" | %d malformed", st.DecodeErrors)
	}
	return line
}
