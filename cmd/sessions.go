package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/luojunlin1223/VibeVtuber/internal/types"
	"github.com/luojunlin1223/VibeVtuber/internal/utils"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded stream sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		sessions, err := db.ListSessions(cmd.Context(), sessionsLimit)
		if err != nil {
			utils.ShowError("Failed to list sessions", err, nil)
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions recorded.")
			return nil
		}
		return printSessions(os.Stdout, sessions)
	},
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "Show at most N sessions (0 = all)")
	rootCmd.AddCommand(sessionsCmd)
}

func printSessions(out io.Writer, sessions []types.Session) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tPROFILE\tDESTINATION\tSTARTED\tDURATION\tFRAMES\tFACE %\tDROPPED")
	fmt.Fprintln(w, "--\t-------\t-----------\t-------\t--------\t------\t------\t-------")

	for _, s := range sessions {
		profile := s.Profile
		if profile == "" {
			profile = "-"
		}
		duration := "running"
		if s.FinishedAt != nil {
			duration = s.FinishedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		faceRate := 0.0
		if s.Frames > 0 {
			faceRate = 100 * float64(s.Detections) / float64(s.Frames)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%.1f\t%d\n",
			s.ID.String()[:8], profile, s.Destination,
			s.StartedAt.Local().Format("2006-01-02 15:04"), duration,
			s.Frames, faceRate, s.Dropped)
	}
	return w.Flush()
}
