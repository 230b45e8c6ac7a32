package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tsdiag/internal/heatmap"
	"tsdiag/internal/output"
)

var heatmapBin float64

var heatmapCmd = &cobra.Command{
	Use:   "heatmap <session-id>",
	Short: "Render a touch density heatmap for a session",
	Long: `Bin a session's touch points into a density grid and draw it in the
terminal. Hotter shades mean more touches landed in the bin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return heatmapRun(args[0])
	},
}

func init() {
	heatmapCmd.Flags().Float64Var(&heatmapBin, "bin", 0, "Bin edge length in viewport pixels (default from config)")
	rootCmd.AddCommand(heatmapCmd)
}

func heatmapRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sess, err := resolveSession(ctx, s, id)
	if err != nil {
		return err
	}

	if len(sess.TouchPoints) == 0 {
		ui.Info("No touches recorded in session %s", shortID(sess.ID))
		return nil
	}

	bin := heatmapBin
	if bin <= 0 {
		bin = viper.GetFloat64("heatmap.cell_size")
	}

	res, err := heatmap.Build(sess.TouchPoints, heatmap.Options{
		Width:    sess.ViewportW,
		Height:   sess.ViewportH,
		CellSize: bin,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s - %d touches (%d ghost)\n\n",
		output.Cyan(shortID(sess.ID)), len(sess.TouchPoints), ghostCount(sess.TouchPoints))
	renderHeatmap(res)
	fmt.Fprintf(ui.Out, "\n%dx%d bins at %gpx, peak %d touches per bin\n",
		res.Rows, res.Cols, res.CellSize, res.MaxCount)
	return nil
}

// renderHeatmap draws the bin matrix row by row, two glyphs per bin. Empty
// bins print as a faint dot so the screen outline stays visible.
func renderHeatmap(res *heatmap.Result) {
	byCell := make(map[[2]int]float64, len(res.Cells))
	for _, c := range res.Cells {
		byCell[[2]int{c.Row, c.Col}] = c.Intensity
	}

	for row := 0; row < res.Rows; row++ {
		var b strings.Builder
		b.WriteString("  ")
		for col := 0; col < res.Cols; col++ {
			intensity, ok := byCell[[2]int{row, col}]
			if !ok {
				b.WriteString(" ·")
				continue
			}
			b.WriteString(output.HeatShade(intensity))
		}
		fmt.Fprintln(ui.Out, b.String())
	}
}
