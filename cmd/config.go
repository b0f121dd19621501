package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vidfetch/vidfetch/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective settings",
	Long: `Show the effective settings: the settings file with VIDFETCH_* environment
variables applied on top.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load()
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeIndentedJSON(cmd.OutOrStdout(), settings)
		}
		return printSettings(cmd.OutOrStdout(), settings)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file location",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.GetSettingsPath())
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default settings file if none exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.LoadSettings()
		if err != nil {
			return err
		}
		if err := config.SaveSettings(settings); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), config.GetSettingsPath())
		return nil
	},
}

func init() {
	configCmd.Flags().Bool("json", false, "Print raw JSON")
	configCmd.AddCommand(configPathCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

// settingValues flattens the settings sections into one key -> value map.
func settingValues(s *config.Settings) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var sections map[string]map[string]any
	if err := json.Unmarshal(data, &sections); err != nil {
		return nil, err
	}
	values := make(map[string]any)
	for _, section := range sections {
		for k, v := range section {
			values[k] = v
		}
	}
	return values, nil
}

func printSettings(w io.Writer, s *config.Settings) error {
	values, err := settingValues(s)
	if err != nil {
		return err
	}

	meta := config.GetSettingsMetadata()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, category := range config.CategoryOrder() {
		fmt.Fprintf(tw, "[%s]\n", category)
		for _, m := range meta[category] {
			fmt.Fprintf(tw, "  %s\t%s\n", m.Label, formatSetting(m, values[m.Key]))
		}
	}
	return tw.Flush()
}

func formatSetting(m config.SettingMeta, v any) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case string:
		if val == "" {
			return "(default)"
		}
		return val
	case float64:
		if m.Type == "duration" {
			return time.Duration(int64(val)).String()
		}
		return fmt.Sprintf("%d", int64(val))
	}
	return fmt.Sprint(v)
}
