package commands

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	sshpkg "golang.org/x/crypto/ssh"

	"github.com/isceproc/isceproc/pkg/config"
	"github.com/isceproc/isceproc/pkg/stores"
)

func newInitCommand() *cobra.Command {
	var (
		sshKey bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a processing directory",
		Long: `Initialize a processing directory with a default isceproc.yaml and the run
history database.

The --ssh-key flag also generates an ed25519 key pair for the ssh executor;
install the public key on the processing host.`,
		Example: `  # Initialize the current directory
  isceproc init

  # Initialize another directory and create a key for a processing host
  isceproc init --dir /data/AtacamaSenAT120 --ssh-key`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(procDir)
			if err != nil {
				return fmt.Errorf("failed to resolve processing directory: %w", err)
			}
			log.Info().Str("dir", dir).Bool("ssh_key", sshKey).Msg("Initializing processing directory")

			dataDir := filepath.Join(dir, config.DataDir)
			if err := os.MkdirAll(dataDir, 0700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dataDir, err)
			}
			fmt.Printf("✓ Created directory: %s\n", dataDir)

			cfgFile := configPath
			if cfgFile == "" {
				cfgFile = filepath.Join(dir, config.DefaultFile)
			}
			if _, err := os.Stat(cfgFile); err == nil && !force {
				fmt.Printf("✓ Config file already exists: %s\n", cfgFile)
			} else {
				if err := config.Default().Save(cfgFile); err != nil {
					return err
				}
				fmt.Printf("✓ Created config file: %s\n", cfgFile)
			}

			cfg := config.Default()
			dbPath := filepath.Join(dir, cfg.Store.Path)
			store, err := stores.Open(cmd.Context(), stores.Config{Path: dbPath, BusyTimeout: cfg.Store.BusyTimeout})
			if err != nil {
				return fmt.Errorf("failed to initialize run history: %w", err)
			}
			if err := store.Close(); err != nil {
				return err
			}
			fmt.Printf("✓ Initialized run history: %s\n", dbPath)

			if sshKey {
				keyPath := filepath.Join(dataDir, "keys", "id_ed25519")
				if err := generateKey(keyPath); err != nil {
					return err
				}
			}

			fmt.Printf("\nNext steps:\n")
			fmt.Printf("  1. Check the host:          isceproc doctor\n")
			fmt.Printf("  2. Write a template:        isceproc template > AtacamaSenAT120.template\n")
			fmt.Printf("  3. Process the stack:       isceproc pipeline AtacamaSenAT120.template\n")
			return nil
		},
	}

	cmd.Flags().BoolVar(&sshKey, "ssh-key", false, "generate an ed25519 key pair for the ssh executor")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}

// generateKey writes an OpenSSH ed25519 key pair unless one exists.
func generateKey(keyPath string) error {
	if _, err := os.Stat(keyPath); err == nil {
		fmt.Printf("✓ SSH keypair already exists: %s\n", keyPath)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate keypair: %w", err)
	}

	privKeyBlock, err := sshpkg.MarshalPrivateKey(privKey, "isceproc")
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(privKeyBlock), 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	sshPubKey, err := sshpkg.NewPublicKey(pubKey)
	if err != nil {
		return fmt.Errorf("failed to create SSH public key: %w", err)
	}
	if err := os.WriteFile(keyPath+".pub", sshpkg.MarshalAuthorizedKey(sshPubKey), 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	fmt.Printf("✓ Generated SSH keypair: %s\n", keyPath)
	fmt.Printf("  set ssh.private_key to this path in the config\n")
	return nil
}
