// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/doohlabs/signaged/services/agent/config"
	"github.com/doohlabs/signaged/services/agent/systemd"
)

var (
	installUnitDir      string
	installNoEnable     bool
	installPrintExample bool
)

// installCmd provisions a device: writes the systemd units and,
// optionally, an example config.
var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install systemd units on this device",
	Long: `Writes the player, maintenance, and daemon unit files, reloads
systemd, and enables the player unit and the maintenance timer.

Examples:
  sudo signagectl install
  signagectl install --unit-dir ./out --no-enable   # inspect without systemd
  signagectl install --print-config > /etc/signaged/config.yaml`,
	RunE: runInstallCommand,
}

func init() {
	installCmd.Flags().StringVar(&installUnitDir, "unit-dir", "", "unit file directory (default /etc/systemd/system)")
	installCmd.Flags().BoolVar(&installNoEnable, "no-enable", false, "write unit files without touching systemd")
	installCmd.Flags().BoolVar(&installPrintExample, "print-config", false, "print an example config file and exit")
	rootCmd.AddCommand(installCmd)
}

func runInstallCommand(cmd *cobra.Command, args []string) error {
	if installPrintExample {
		fmt.Fprint(os.Stdout, config.ExampleYAML())
		return nil
	}

	inst := systemd.NewInstaller(installUnitDir, logger)
	if err := inst.Install(cmd.Context(), !installNoEnable); err != nil {
		return err
	}
	fmt.Println("units installed")
	return nil
}
