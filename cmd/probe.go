package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/luojunlin1223/VibeVtuber/internal/blendshape"
	"github.com/luojunlin1223/VibeVtuber/internal/pose"
	"github.com/luojunlin1223/VibeVtuber/internal/telemetry"
	"github.com/luojunlin1223/VibeVtuber/internal/tracker"
	"github.com/luojunlin1223/VibeVtuber/internal/transport"
)

var (
	probeHost     string
	probePort     int
	probeCount    int
	probeInterval time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Send a synthetic test datagram to check the receiver",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, port := Cfg.Network.Host, Cfg.Network.Port
		if cmd.Flags().Changed("host") {
			host = probeHost
		}
		if cmd.Flags().Changed("port") {
			port = probePort
		}

		sender, err := transport.NewSender(host, port, Cfg.Sender())
		if err != nil {
			return err
		}
		defer sender.Close()

		enc := telemetry.NewEncoder(nil)
		sample := probeSample()
		for i := 0; i < probeCount; i++ {
			if i > 0 {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-time.After(probeInterval):
				}
			}
			payload, err := enc.Encode(sample)
			if err != nil {
				return err
			}
			if sender.Send(payload) {
				fmt.Fprintf(os.Stderr, "✅ Sent %d bytes to %s\n", len(payload), sender.Address())
			} else {
				fmt.Fprintf(os.Stderr, "❌ Send to %s failed\n", sender.Address())
			}
		}

		if st := sender.Stats(); st.Dropped > 0 {
			return fmt.Errorf("%d of %d probes failed", st.Dropped, probeCount)
		}
		return nil
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeHost, "host", transport.DefaultHost, "Destination host")
	probeCmd.Flags().IntVar(&probePort, "port", transport.DefaultPort, "Destination port")
	probeCmd.Flags().IntVarP(&probeCount, "count", "n", 1, "Number of datagrams to send")
	probeCmd.Flags().DurationVar(&probeInterval, "interval", 100*time.Millisecond, "Delay between datagrams")
	rootCmd.AddCommand(probeCmd)
}

// probeSample is a recognisable pose: head turned and tilted, mouth half
// open, smiling, eyes partly closed.
func probeSample() *tracker.Sample {
	var set blendshape.Set
	set.Put(blendshape.JawOpen, 0.5)
	set.Put(blendshape.EyeBlinkLeft, 0.2)
	set.Put(blendshape.EyeBlinkRight, 0.3)
	set.Put(blendshape.MouthSmileLeft, 0.6)
	set.Put(blendshape.MouthSmileRight, 0.7)
	return &tracker.Sample{
		Blendshapes: set,
		Rotation:    pose.Rotation{Yaw: 25, Pitch: -15, Roll: 5},
	}
}
