package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/luojunlin1223/VibeVtuber/internal/config"
	"github.com/luojunlin1223/VibeVtuber/internal/log"
	"github.com/luojunlin1223/VibeVtuber/internal/telemetry"
	"github.com/luojunlin1223/VibeVtuber/internal/tracker"
	"github.com/luojunlin1223/VibeVtuber/internal/transport"
	"github.com/luojunlin1223/VibeVtuber/internal/utils"
	"github.com/luojunlin1223/VibeVtuber/internal/worker"
)

// streamOptions holds the stream command's flags. Set flags override the
// config file; a profile overrides both.
type streamOptions struct {
	Profile  string
	Host     string
	Port     int
	Alpha    float64
	Camera   string
	Format   string
	Input    string
	Model    string
	Record   bool
	Detailed bool
	Quiet    bool
}

var streamOpts streamOptions

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Track the camera feed and stream telemetry over UDP",
	Long: `Captures frames with ffmpeg, runs the face landmark model on each one,
smooths the result and sends one JSON datagram per frame.

Send SIGHUP to clear the smoothing state (e.g. after swapping subjects).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStream(cmd, streamOpts)
	},
}

func init() {
	bindStreamFlags(streamCmd, &streamOpts)
	rootCmd.AddCommand(streamCmd)
}

func bindStreamFlags(c *cobra.Command, o *streamOptions) {
	f := c.Flags()
	f.StringVarP(&o.Profile, "profile", "p", "", "Apply a stored profile")
	f.StringVar(&o.Host, "host", transport.DefaultHost, "Telemetry destination host")
	f.IntVar(&o.Port, "port", transport.DefaultPort, "Telemetry destination port")
	f.Float64VarP(&o.Alpha, "alpha", "a", tracker.DefaultConfig().Alpha, "Smoothing weight of the current frame (1 = off)")
	f.StringVarP(&o.Camera, "camera", "c", "0", "Camera index or device")
	f.StringVar(&o.Format, "format", "", "ffmpeg capture format (default: per OS)")
	f.StringVarP(&o.Input, "input", "i", "", "Replay a video file instead of the camera")
	f.StringVarP(&o.Model, "model", "m", "", "Path to the face landmarker model")
	f.BoolVar(&o.Record, "record", false, "Record a session summary in the database")
	f.BoolVarP(&o.Detailed, "detailed", "d", false, "Print every parameter group in status reports")
	f.BoolVarP(&o.Quiet, "quiet", "q", false, "Disable status output")
}

// applyStreamFlags layers explicitly set flags over the loaded config.
func applyStreamFlags(cmd *cobra.Command, cfg *config.Config, opts streamOptions) {
	changed := cmd.Flags().Changed
	if changed("host") {
		cfg.Network.Host = opts.Host
	}
	if changed("port") {
		cfg.Network.Port = opts.Port
	}
	if changed("alpha") {
		cfg.Smoothing.Alpha = opts.Alpha
	}
	if changed("camera") {
		cfg.Camera.Device = opts.Camera
	}
	if changed("format") {
		cfg.Camera.Format = opts.Format
	}
	if changed("model") {
		cfg.Model.Path = opts.Model
	}
	if opts.Input != "" {
		cfg.Camera.Device = opts.Input
		cfg.Camera.Format = "file"
	}
	if opts.Detailed {
		cfg.Debug.DetailedOutput = true
	}
	if opts.Quiet {
		cfg.Debug.PrintFPS = false
	}
}

func runStream(cmd *cobra.Command, opts streamOptions) error {
	ctx := cmd.Context()
	cfg := Cfg
	applyStreamFlags(cmd, cfg, opts)

	if opts.Profile != "" {
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		p, err := db.GetProfile(ctx, opts.Profile)
		if err != nil {
			return err
		}
		cfg.Network.Host, cfg.Network.Port = p.Host, p.Port
		cfg.Smoothing.Alpha = p.Alpha
		if p.Camera != "" && opts.Input == "" {
			cfg.Camera.Device = p.Camera
		}
		fmt.Fprintf(os.Stderr, "📋 Using profile %q\n", p.Name)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	if err := utils.CheckFFmpeg(); err != nil {
		utils.ShowError("Camera capture unavailable", err, nil)
		return err
	}

	// 1. Detector
	fmt.Fprintf(os.Stderr, "🧠 Loading face landmarker (%s)...\n", cfg.Model.Path)
	lm, err := worker.NewLandmarker(ctx, cfg.Worker())
	if err != nil {
		utils.ShowError("Failed to start face landmarker", err, nil)
		return err
	}
	defer lm.Close()

	pipeline, err := tracker.New(lm, cfg.Tracker())
	if err != nil {
		return err
	}

	// 2. Transport
	sender, err := transport.NewSender(cfg.Network.Host, cfg.Network.Port, cfg.Sender())
	if err != nil {
		utils.ShowError("Failed to open telemetry socket", err, nil)
		return err
	}
	defer sender.Close()

	// 3. Camera
	cam := utils.NewCaptureCmd(cfg.Capture())
	camOut, err := cam.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cam.Start(); err != nil {
		utils.ShowError("Failed to start camera capture", err, cam)
		return err
	}

	// 4. Session bookkeeping
	var sessionID uuid.UUID
	if opts.Record {
		db, err := openStore(ctx)
		if err != nil {
			stopCapture(cam)
			return err
		}
		if sessionID, err = db.StartSession(ctx, opts.Profile, sender.Address(), cfg.Smoothing.Alpha); err != nil {
			stopCapture(cam)
			return fmt.Errorf("failed to record session: %w", err)
		}
	}

	resets := make(chan os.Signal, 1)
	signal.Notify(resets, syscall.SIGHUP)
	defer signal.Stop(resets)

	fmt.Fprintf(os.Stderr, "🎥 Streaming %s → %s (alpha=%.2f)\n",
		cfg.Camera.Device, net.JoinHostPort(cfg.Network.Host, strconv.Itoa(cfg.Network.Port)), cfg.Smoothing.Alpha)

	loop := &frameLoop{
		pipeline: pipeline,
		encoder:  telemetry.NewEncoder(nil),
		sender:   sender,
		resets:   resets,
		meter:    newFPSMeter(cfg.Debug.StatusInterval, time.Now()),
	}
	var bar *barStatus
	if cfg.Debug.PrintFPS {
		bar = newBarStatus(os.Stderr, cfg.Debug.DetailedOutput)
		loop.status = bar
	}

	started := time.Now()
	stats, loopErr := loop.run(ctx, newFrameScanner(camOut))
	if bar != nil {
		bar.Finish()
	}

	// 5. Cleanup
	camErr := stopCapture(cam)
	if opts.Record {
		// ctx may be cancelled; the summary still has to be written.
		if err := DB.FinishSession(context.Background(), sessionID, stats.SessionCounters); err != nil {
			log.Error("failed to finish session", "id", sessionID, "err", err)
		}
	}

	fmt.Fprintf(os.Stderr, "🏁 Stream stopped after %s. Frames: %d | Faces: %d | Sent: %d | Dropped: %d\n",
		time.Since(started).Round(time.Second), stats.Frames, stats.Detections, stats.Sent, stats.Dropped)

	switch {
	case loopErr != nil:
		utils.ShowError("Face landmarker failed", loopErr, lm.Cmd)
		return loopErr
	case ctx.Err() != nil:
		return nil
	case camErr != nil:
		utils.ShowError("Camera capture ended", camErr, cam)
		return camErr
	}
	return nil
}

// stopCapture terminates ffmpeg if it is still running and reaps it.
func stopCapture(cam *utils.SafeCommand) error {
	if cam.ProcessState == nil && cam.Process != nil {
		cam.Process.Signal(os.Interrupt)
		done := make(chan error, 1)
		go func() { done <- cam.Wait() }()
		select {
		case err := <-done:
			return ignoreSignalExit(err)
		case <-time.After(2 * time.Second):
			cam.Process.Kill()
			return ignoreSignalExit(<-done)
		}
	}
	return nil
}

func ignoreSignalExit(err error) error {
	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) && exitErr.ExitCode() == -1 {
		return nil
	}
	return err
}
