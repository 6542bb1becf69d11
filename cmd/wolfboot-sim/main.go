// Command wolfboot-sim drives the secure-bootloader core against a
// host-simulated flash image: the only way to exercise the state
// machine deterministically without real MCU flash, mirroring how the
// teacher's own artifact/image package is tested by building and
// parsing images in a temp directory rather than on hardware.
// Subcommands are trigger (UpdateTrigger), confirm (Success) and boot
// (the Boot Selector), plus format/inspect for provisioning and
// diagnostics, grounded on
// newt.go's root-command-plus-persistent-flags idiom.
package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logLevel string

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wolfboot-sim",
		Short: "wolfboot-sim exercises the secure-bootloader core against a simulated flash image",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			lvl, err := log.ParseLevel(logLevel)
			if err != nil {
				lvl = log.WarnLevel
			}
			log.SetLevel(lvl)
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Usage()
		},
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "wolfboot.yaml", "build configuration YAML")
	root.PersistentFlags().StringVarP(&flagImage, "image", "i", "flash.img", "backing flash image file")
	root.PersistentFlags().StringVarP(&logLevel, "loglevel", "l", "WARN", "log level")

	root.AddCommand(formatCmd())
	root.AddCommand(inspectCmd())
	root.AddCommand(triggerCmd())
	root.AddCommand(confirmCmd())
	root.AddCommand(bootCmd())

	return root
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
