package utils

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr
// (Python and ffmpeg logs) so crash details survive the child.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe.
// It prepares the command for execution but does not start it.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	cmd := exec.Command(name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps captured child logs if a
// SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 FACETRACKER ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nCHILD PROCESS LOGS (%s):\n%s\n", s.Path, s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is ShowError followed by exit status 1.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Camera Capture ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// Capture describes a frame source. Format is an ffmpeg demuxer name
// (v4l2, avfoundation, dshow) or "file" to replay a recording in real time.
type Capture struct {
	Device string
	Format string
	Width  int
	Height int
	FPS    int
}

// DefaultCaptureFormat returns the camera demuxer for the host OS.
func DefaultCaptureFormat() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "v4l2"
	}
}

// CheckFFmpeg reports whether the ffmpeg binary is available.
func CheckFFmpeg() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return errors.New("ffmpeg not found in PATH; it is required for camera capture")
	}
	return nil
}

// NewCaptureCmd creates the camera decoder pipe. FFmpeg writes MJPEG frames
// to stdout for SplitJpeg to cut apart.
func NewCaptureCmd(c Capture) *SafeCommand {
	return NewSafeCommand("ffmpeg", captureArgs(c)...)
}

func captureArgs(c Capture) []string {
	format := c.Format
	if format == "" {
		format = DefaultCaptureFormat()
	}

	// -loglevel error keeps the stderr buffer small over long sessions.
	args := []string{"-hide_banner", "-loglevel", "error"}
	if format == "file" {
		args = append(args, "-re", "-i", c.Device)
	} else {
		args = append(args,
			"-f", format,
			"-framerate", strconv.Itoa(c.FPS),
			"-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height),
			"-i", captureInput(format, c.Device),
		)
	}
	return append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")
}

// captureInput maps a bare camera index onto the demuxer's device syntax.
func captureInput(format, device string) string {
	if device == "" {
		device = "0"
	}
	_, err := strconv.Atoi(device)
	isIndex := err == nil

	switch format {
	case "v4l2":
		if isIndex {
			return "/dev/video" + device
		}
	case "avfoundation":
		if isIndex {
			return device + ":none"
		}
	case "dshow":
		if !strings.HasPrefix(device, "video=") {
			return "video=" + device
		}
	}
	return device
}

// SplitJpeg is the custom splitter for bufio.Scanner.
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}
