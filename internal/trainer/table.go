package trainer

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/olekukonko/tablewriter"
)

// RenderSummary writes one table row per epoch of s.
func RenderSummary(w io.Writer, s Summary) {
	data := make([][]string, 0, len(s.Epochs))
	for _, e := range s.Epochs {
		data = append(data, []string{
			fmt.Sprint(e.Epoch),
			formatFloat(e.TrainLoss),
			formatPercent(e.TrainAcc),
			formatFloat(e.TestLoss),
			formatPercent(e.TestAcc),
			formatNFE(e.TrainNFE),
			formatNFE(e.TestNFE),
			fmt.Sprintf("%.2g", e.LR),
			e.Duration.Round(time.Second).String(),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"EPOCH", "TRAIN LOSS", "TRAIN ACC", "TEST LOSS", "TEST ACC", "NFE", "TEST NFE", "LR", "TIME"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}

func formatPercent(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", 100*v)
}

func formatNFE(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.1f", v)
}
