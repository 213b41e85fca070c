// cmd_status.go - Fragt einen laufenden Worker ab
// Hauptfunktionen: newStatusCmd, StatusHandler
package cmd

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ollama/kvworker/api"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running worker",
		Args:  cobra.ExactArgs(0),
		RunE:  StatusHandler,
	}

	cmd.Flags().String("format", "", "Output format (table, json); json if stdout is not a terminal")
	return cmd
}

// StatusHandler - Liest /info vom Worker unter OLLAMA_HOST
func StatusHandler(cmd *cobra.Command, _ []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	info, err := client.Info(cmd.Context())
	if err != nil {
		var se api.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusForbidden {
			return errors.New("worker refused the request, check OLLAMA_HOST")
		}
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "json" || (format == "" && !isTerminal(cmd)) {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"STATE", "DEVICE", "DTYPE", "BLOCK SIZE", "BLOCK BYTES", "DEVICE BLOCKS"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.Append([]string{
		info.State,
		info.Device.Name,
		info.DType,
		strconv.Itoa(info.BlockSize),
		humanize.IBytes(info.BlockBytes),
		strconv.Itoa(info.Capacity.DeviceBlocks),
	})
	table.Render()
	return nil
}
