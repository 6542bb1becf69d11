package main

import (
	"fmt"

	"os"

	humanize "github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	wolfboot "github.com/wolfSSL/wolfboot-go"
	"github.com/wolfSSL/wolfboot-go/boot"
	"github.com/wolfSSL/wolfboot-go/config"
	"github.com/wolfSSL/wolfboot-go/hal"
	"github.com/wolfSSL/wolfboot-go/manifest"
	"github.com/wolfSSL/wolfboot-go/trailer"
	"github.com/wolfSSL/wolfboot-go/update"
)

var (
	flagConfig    string
	flagImage     string
	flagKeys      string
	flagSecondary string
	flagSize      string
)

func usage(cmd *cobra.Command, err error) {
	if err != nil {
		fmt.Println("Error:", err)
	}
	if cmd != nil {
		cmd.Usage()
	}
}

func formatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "format",
		Short: "Create a blank backing flash image for the simulator",
		Run: func(cmd *cobra.Command, args []string) {
			if blockDev, err := hal.IsBlockDevice(flagImage); err == nil && blockDev {
				log.Warnf("%s is a block device node; formatting will overwrite it directly", flagImage)
			}
			size, err := humanize.ParseBytes(flagSize)
			if err != nil {
				usage(cmd, err)
				return
			}
			cfg, err := readConfig(flagConfig)
			if err != nil {
				usage(cmd, err)
				return
			}
			if err := hal.Format(flagImage, int64(size), cfg.FlagsInvert); err != nil {
				usage(cmd, err)
				return
			}
			fmt.Printf("formatted %s (%s)\n", flagImage, humanize.Bytes(size))
		},
	}
	cmd.Flags().StringVar(&flagSize, "size", "2mb", "backing image size (e.g. 2mb)")
	return cmd
}

func readConfig(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return config.Load(data)
}

func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <partition>",
		Short: "Print a partition's trailer state and manifest",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			e, err := loadEnv(flagConfig, flagImage)
			if err != nil {
				usage(cmd, err)
				return
			}
			defer e.Close()

			p, err := e.partition(args[0])
			if err != nil {
				usage(cmd, err)
				return
			}
			state, err := trailer.GetState(p)
			if err != nil {
				usage(cmd, err)
				return
			}
			fmt.Printf("partition %s: state=%s\n", args[0], state)

			hdr := make([]byte, e.cfg.HeaderSize)
			if err := p.Dev.Read(p.Base, hdr); err != nil {
				usage(cmd, err)
				return
			}
			view, err := manifest.Open(hdr, int(p.Size))
			if err != nil {
				fmt.Printf("  no valid manifest: %v\n", err)
				return
			}
			fmt.Printf("  version=%d type=%d payload=%s\n",
				view.Version(), view.Type(), humanize.Bytes(uint64(view.PayloadLen())))
		},
	}
	return cmd
}

func triggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Mark the UPDATE partition UPDATING, requesting a swap on next boot",
		Run: func(cmd *cobra.Command, args []string) {
			e, lib, err := loadLibrary(flagConfig, flagImage)
			if err != nil {
				usage(cmd, err)
				return
			}
			defer e.Close()
			if err := lib.UpdateTrigger(); err != nil {
				usage(cmd, err)
				return
			}
			fmt.Println("update triggered")
		},
	}
}

func confirmCmd() *cobra.Command {
	var flagPartition string
	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Confirm the currently booted image (TESTING -> SUCCESS)",
		Run: func(cmd *cobra.Command, args []string) {
			e, lib, err := loadLibrary(flagConfig, flagImage)
			if err != nil {
				usage(cmd, err)
				return
			}
			defer e.Close()
			if err := lib.Success(flagPartition); err != nil {
				usage(cmd, err)
				return
			}
			fmt.Println("confirmed")
		},
	}
	cmd.Flags().StringVar(&flagPartition, "partition", "boot",
		"partition the running candidate came from (\"boot\" after a sector swap, \"update\" under ram_load)")
	return cmd
}

// keyVaultPartitionNames names the three config partitions an optional
// key-update key vault uses, mirroring Boot/Update/Swap's shape at a
// narrower (one-sector) scale.
var keyVaultPartitionNames = [3]string{"vault_active", "vault_staged", "vault_swap"}

func loadKeyVault(e *env) (*update.Partitions, error) {
	if _, ok := e.cfg.Partitions[keyVaultPartitionNames[0]]; !ok {
		return nil, nil
	}
	active, err := e.partition(keyVaultPartitionNames[0])
	if err != nil {
		return nil, err
	}
	staged, err := e.partition(keyVaultPartitionNames[1])
	if err != nil {
		return nil, err
	}
	scratch, err := e.partition(keyVaultPartitionNames[2])
	if err != nil {
		return nil, err
	}
	vault := update.Partitions{Boot: active, Update: staged, Swap: scratch}
	return &vault, nil
}

func bootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Run the Boot Selector state machine against the simulated flash",
		Run: func(cmd *cobra.Command, args []string) {
			e, err := loadEnv(flagConfig, flagImage)
			if err != nil {
				usage(cmd, err)
				return
			}
			defer e.Close()

			ks, err := loadKeystore(flagKeys)
			if err != nil {
				usage(cmd, err)
				return
			}

			bootPart, err := e.partition("boot")
			if err != nil {
				usage(cmd, err)
				return
			}
			updatePart, err := e.partition("update")
			if err != nil {
				usage(cmd, err)
				return
			}
			swapPart, err := e.partition("swap")
			if err != nil {
				usage(cmd, err)
				return
			}

			ctx := boot.Context{
				Boot:       bootPart,
				Update:     updatePart,
				Swap:       swapPart,
				HeaderSize: e.cfg.HeaderSize,
				Keystore:   ks,
			}
			if flagSecondary != "" {
				sks, err := loadKeystore(flagSecondary)
				if err != nil {
					usage(cmd, err)
					return
				}
				ctx.SecondaryKeystore = sks
			}
			vault, err := loadKeyVault(e)
			if err != nil {
				usage(cmd, err)
				return
			}
			ctx.KeyVault = vault

			outcome, err := boot.Run(ctx)
			if err != nil {
				usage(cmd, err)
				return
			}
			fmt.Printf("hand-off: partition=%s payload=0x%x len=%d\n",
				outcome.Partition, outcome.PayloadAddr, outcome.PayloadLen)
		},
	}
	cmd.Flags().StringVar(&flagKeys, "keys", "keys.yaml", "keystore YAML file")
	cmd.Flags().StringVar(&flagSecondary, "secondary-keys", "", "optional secondary (hybrid) keystore YAML file")
	return cmd
}

func loadLibrary(configPath, imagePath string) (*env, wolfboot.Library, error) {
	e, err := loadEnv(configPath, imagePath)
	if err != nil {
		return nil, wolfboot.Library{}, err
	}
	bootPart, err := e.partition("boot")
	if err != nil {
		return nil, wolfboot.Library{}, err
	}
	updatePart, err := e.partition("update")
	if err != nil {
		return nil, wolfboot.Library{}, err
	}
	swapPart, err := e.partition("swap")
	if err != nil {
		return nil, wolfboot.Library{}, err
	}
	lib := wolfboot.Library{Boot: bootPart, Update: updatePart, Swap: swapPart, HeaderSize: e.cfg.HeaderSize}
	return e, lib, nil
}
