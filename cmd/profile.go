package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/luojunlin1223/VibeVtuber/internal/config"
	"github.com/luojunlin1223/VibeVtuber/internal/transport"
	"github.com/luojunlin1223/VibeVtuber/internal/types"
	"github.com/luojunlin1223/VibeVtuber/internal/utils"
)

var profileSave types.Profile

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage named stream profiles",
}

var profileSaveCmd = &cobra.Command{
	Use:   "save NAME",
	Short: "Create or replace a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := profileSave
		p.Name = args[0]

		// Reuse config validation for the fields a profile carries.
		check := config.Default()
		check.Network.Host, check.Network.Port = p.Host, p.Port
		check.Smoothing.Alpha = p.Alpha
		if err := check.Validate(); err != nil {
			return err
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		if err := db.SaveProfile(cmd.Context(), p); err != nil {
			utils.ShowError("Failed to save profile", err, nil)
			return err
		}
		fmt.Printf("💾 Saved profile %q (%s:%d, alpha %.2f)\n", p.Name, p.Host, p.Port, p.Alpha)
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		profiles, err := db.ListProfiles(cmd.Context())
		if err != nil {
			utils.ShowError("Failed to list profiles", err, nil)
			return err
		}

		if len(profiles) == 0 {
			fmt.Println("No profiles found in database.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NAME\tDESTINATION\tALPHA\tCAMERA\tUPDATED")
		fmt.Fprintln(w, "----\t-----------\t-----\t------\t-------")
		for _, p := range profiles {
			fmt.Fprintf(w, "%s\t%s:%d\t%.2f\t%s\t%s\n", p.Name, p.Host, p.Port, p.Alpha, p.Camera, p.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		if err := db.DeleteProfile(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("🗑️  Deleted profile %q\n", args[0])
		return nil
	},
}

func init() {
	f := profileSaveCmd.Flags()
	f.StringVar(&profileSave.Host, "host", transport.DefaultHost, "Telemetry destination host")
	f.IntVar(&profileSave.Port, "port", transport.DefaultPort, "Telemetry destination port")
	f.Float64VarP(&profileSave.Alpha, "alpha", "a", config.Default().Smoothing.Alpha, "Smoothing weight of the current frame (1 = off)")
	f.StringVarP(&profileSave.Camera, "camera", "c", "", "Camera index or device (empty: keep config)")

	profileCmd.AddCommand(profileSaveCmd, profileListCmd, profileDeleteCmd)
	rootCmd.AddCommand(profileCmd)
}
