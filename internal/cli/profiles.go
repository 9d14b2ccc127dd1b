package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/gouthamgo/privascan/internal/config"
	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List and inspect processing profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available profiles",
	RunE:  runProfilesList,
}

var profilesShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show profile details",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfilesShow,
}

func init() {
	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesShowCmd)

	profilesCmd.PersistentFlags().Bool("local", false, "Use local profiles instead of the server's")
	profilesListCmd.Flags().Bool("json", false, "Output as JSON")
}

func loadProfiles(cmd *cobra.Command) ([]config.Profile, error) {
	if local, _ := cmd.Flags().GetBool("local"); local {
		store, err := localProfiles()
		if err != nil {
			return nil, err
		}
		return store.List(), nil
	}
	return getClient().ListProfiles(cmd.Context())
}

func runProfilesList(cmd *cobra.Command, args []string) error {
	profiles, err := loadProfiles(cmd)
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}

	out := cmd.OutOrStdout()
	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		return writeIndentedJSON(out, profiles)
	}

	if len(profiles) == 0 {
		fmt.Fprintln(out, "No profiles found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPREPROCESS\tCLEANING\tDESCRIPTION")
	for _, p := range profiles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.ID,
			p.Profile.Name,
			onOff(p.Preprocess.Enabled),
			onOff(p.Cleaning.Enabled),
			p.Profile.Description)
	}
	return w.Flush()
}

func runProfilesShow(cmd *cobra.Command, args []string) error {
	var (
		profile *config.Profile
		err     error
	)
	if local, _ := cmd.Flags().GetBool("local"); local {
		profile, err = localProfile(args[0])
	} else {
		profile, err = getClient().GetProfile(cmd.Context(), args[0])
	}
	if err != nil {
		return fmt.Errorf("get profile: %w", err)
	}

	return writeIndentedJSON(cmd.OutOrStdout(), profile)
}

func writeIndentedJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
