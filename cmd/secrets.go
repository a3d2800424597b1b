package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/metacam-ingest/config"
	"github.com/otherjamesbrown/metacam-ingest/pkg/secrets"
)

// SecretsCommandDeps holds the dependencies for the secrets commands.
type SecretsCommandDeps struct {
	LoadConfig func(configFile string) (*config.Config, error)
	OpenVault  func(cfg *config.Config) (*secrets.Vault, error)
}

// DefaultSecretsDeps returns the default dependencies for production use.
func DefaultSecretsDeps() *SecretsCommandDeps {
	return &SecretsCommandDeps{
		LoadConfig: config.Load,
		OpenVault:  openVault,
	}
}

func openVault(cfg *config.Config) (*secrets.Vault, error) {
	path := vaultPath(cfg)
	passphrase := os.Getenv("METACAM_SECRETS_PASSPHRASE")
	return secrets.Open(path, passphrase)
}

// NewSecretsCommand creates the root secrets command with its subcommands.
func NewSecretsCommand(deps *SecretsCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultSecretsDeps()
	}

	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted-at-rest archive password and SMTP credential vault",
	}

	cmd.AddCommand(newSecretsSetPasswordCommand(deps))
	cmd.AddCommand(newSecretsListPasswordsCommand(deps))
	cmd.AddCommand(newSecretsSetSMTPPasswordCommand(deps))

	return cmd
}

func newSecretsSetPasswordCommand(deps *SecretsCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "set-password",
		Short: "Add an archive password to the vault, prompting for it without echo",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig(rootConfigFile)
			if err != nil {
				return err
			}
			password, err := readHiddenLine("Archive password: ")
			if err != nil {
				return err
			}
			if password == "" {
				return fmt.Errorf("secrets: no password entered")
			}
			v, err := deps.OpenVault(cfg)
			if err != nil {
				return err
			}
			v.AddArchivePassword(password)
			return v.Save()
		},
	}
}

func newSecretsListPasswordsCommand(deps *SecretsCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "list-passwords",
		Short: "List the number of archive passwords stored in the vault",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig(rootConfigFile)
			if err != nil {
				return err
			}
			v, err := deps.OpenVault(cfg)
			if err != nil {
				return err
			}
			fmt.Printf("%d archive password(s) stored\n", len(v.ArchivePasswords()))
			return nil
		},
	}
}

func newSecretsSetSMTPPasswordCommand(deps *SecretsCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "set-smtp-password",
		Short: "Set the SMTP password in the vault, prompting for it without echo",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig(rootConfigFile)
			if err != nil {
				return err
			}
			password, err := readHiddenLine("SMTP password: ")
			if err != nil {
				return err
			}
			v, err := deps.OpenVault(cfg)
			if err != nil {
				return err
			}
			v.SetSMTPPassword(password)
			return v.Save()
		},
	}
}

// readHiddenLine prompts and reads one line without echoing it, falling
// back to a visible read when stdin isn't a terminal (piped input,
// redirected from a file).
func readHiddenLine(prompt string) (string, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("secrets: reading input: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("secrets: reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// vaultPath mirrors internal/wiring's own vault location so `secrets`
// commands and the running daemon read and write the same file.
func vaultPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.DownloadPath), "secrets.vault")
}
