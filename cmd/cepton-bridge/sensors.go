package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/cepton-bridge/internal/catalog"
)

func newSensorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sensors",
		Short: "List the sensors recorded in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if f := cmd.Flags(); f.Changed("catalog") {
				cfg.CatalogPath, _ = f.GetString("catalog")
			}
			if cfg.CatalogPath == "" {
				return errors.New("no catalog configured; set catalog_path or --catalog")
			}
			cat, err := catalog.Open(cfg.CatalogPath, nil)
			if err != nil {
				return err
			}
			defer cat.Close()

			sensors, err := cat.List(cmd.Context())
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sensors)
			}
			return printSensors(cmd, sensors)
		},
	}
	cmd.Flags().String("catalog", "", "sensor catalog database path")
	cmd.Flags().Bool("json", false, "print JSON instead of a table")
	return cmd
}

func printSensors(cmd *cobra.Command, sensors []catalog.Sensor) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIAL\tMODEL\tFIRMWARE\tSTATE\tATTACHES\tLAST SEEN")
	for _, s := range sensors {
		state := "detached"
		if s.Attached {
			state = "attached"
		}
		if s.Mocked {
			state += " (replay)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			s.SerialNumber, s.ModelName, s.FirmwareVersion, state, s.AttachCount,
			s.LastSeen.Local().Format(time.RFC3339))
	}
	return tw.Flush()
}
