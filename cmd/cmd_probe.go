// cmd_probe.go - Zeigt Block-Groesse und Kapazitaet fuer ein Modell
// Hauptfunktionen: newProbeCmd, ProbeHandler
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ollama/kvworker/kvcache"
	"github.com/ollama/kvworker/ml"
)

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Show the cache block size and capacity for a model",
		Args:  cobra.ExactArgs(0),
		RunE:  ProbeHandler,
	}

	cmd.Flags().String("model", "", "Path to the model config.json or its directory")
	cmd.Flags().String("format", "", "Output format (table, json); json if stdout is not a terminal")
	return cmd
}

// ProbeReport is the result of a capacity probe.
type ProbeReport struct {
	Model      string           `json:"model"`
	Device     ml.DeviceInfo    `json:"device"`
	DType      string           `json:"dtype"`
	Layers     int              `json:"layers"`
	KVHeads    int              `json:"kv_heads"`
	HeadSize   int              `json:"head_size"`
	BlockSize  int              `json:"block_size"`
	BlockBytes uint64           `json:"block_bytes"`
	Capacity   kvcache.Capacity `json:"capacity"`
	CacheBytes uint64           `json:"cache_bytes"`
}

// ProbeHandler - Faehrt den Worker bis zur Kapazitaets-Probe hoch, ohne
// den Cache anzulegen
func ProbeHandler(cmd *cobra.Command, _ []string) error {
	modelPath, _ := cmd.Flags().GetString("model")
	format, _ := cmd.Flags().GetString("format")

	w, err := startWorker(cmd.Context(), modelPath, false)
	if err != nil {
		return err
	}
	defer w.Close()

	spec := w.Spec()
	capacity, _ := w.Capacity()
	report := ProbeReport{
		Model:      w.Config().Model.Name,
		Device:     w.DeviceContext().Device,
		DType:      spec.DType.String(),
		Layers:     spec.NumLayers,
		KVHeads:    spec.NumKVHeads,
		HeadSize:   spec.HeadSize,
		BlockSize:  spec.BlockSize,
		BlockBytes: w.BlockBytes(),
		Capacity:   capacity,
		CacheBytes: uint64(capacity.DeviceBlocks) * w.BlockBytes(),
	}

	if format == "" {
		format = "json"
		if isTerminal(cmd) {
			format = "table"
		}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "table":
		writeProbeTable(cmd.OutOrStdout(), report)
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func writeProbeTable(w io.Writer, r ProbeReport) {
	data := [][]string{
		{"model", r.Model},
		{"device", fmt.Sprintf("%s (%s)", r.Device.Name, humanize.IBytes(r.Device.TotalMemory))},
		{"dtype", r.DType},
		{"layers", strconv.Itoa(r.Layers)},
		{"kv heads", strconv.Itoa(r.KVHeads)},
		{"head size", strconv.Itoa(r.HeadSize)},
		{"block size", strconv.Itoa(r.BlockSize)},
		{"block bytes", humanize.IBytes(r.BlockBytes)},
		{"device blocks", strconv.Itoa(r.Capacity.DeviceBlocks)},
		{"host blocks", strconv.Itoa(r.Capacity.HostBlocks)},
		{"cache size", humanize.IBytes(r.CacheBytes)},
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"PROPERTY", "VALUE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}
