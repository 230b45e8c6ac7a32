package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tsdiag/internal/output"
	"tsdiag/internal/zones"
)

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "List hardware zones and their repair guidance",
	Long: `List the hardware zones faulty areas are mapped to. Running bare
'tsdiag zones' lists the catalog; 'tsdiag zones show <zone-id>' prints one
zone with its repair steps.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return zonesListRun()
	},
}

var zonesShowCmd = &cobra.Command{
	Use:   "show <zone-id>",
	Short: "Show one zone with its repair steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return zonesShowRun(args[0])
	},
}

func init() {
	zonesCmd.AddCommand(zonesShowCmd)
	rootCmd.AddCommand(zonesCmd)
}

func zonesListRun() error {
	catalog, err := zones.Load()
	if err != nil {
		return err
	}

	table := ui.Table([]string{"ID", "Label", "Severity", "Description"})
	for _, z := range catalog.All() {
		table.Append([]string{
			output.Cyan(string(z.ID)),
			z.Label,
			output.SeverityColor(z.Severity),
			z.Description,
		})
	}
	table.Render()
	return nil
}

func zonesShowRun(id string) error {
	catalog, err := zones.Load()
	if err != nil {
		return err
	}

	z, ok := catalog.Lookup(zones.ID(id))
	if !ok {
		return fmt.Errorf("zone not found: %s", id)
	}

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(z.Label))
	fmt.Fprintf(ui.Out, "  ID:         %s\n", z.ID)
	fmt.Fprintf(ui.Out, "  Severity:   %s\n", output.SeverityColor(z.Severity))
	fmt.Fprintf(ui.Out, "  %s\n", z.Description)
	fmt.Fprintln(ui.Out)
	fmt.Fprintln(ui.Out, "  Repair steps:")
	for i, step := range z.RepairSteps {
		fmt.Fprintf(ui.Out, "    %d. %s\n", i+1, step)
	}
	return nil
}
