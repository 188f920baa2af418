package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gupsammy/MacJarvis/internal/liveapi"
	"github.com/gupsammy/MacJarvis/internal/secmem"
)

var verifyKey bool

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the Gemini API key",
}

var keySetCmd = &cobra.Command{
	Use:   "set [api-key]",
	Short: "Store the API key (prompts when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setKey(args)
	},
}

var keyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show where the API key comes from, masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showKey()
	},
}

var keyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		initStderrLogging(cfg)
		if err := credentialStore(cfg).Clear(); err != nil {
			return err
		}
		fmt.Println("Stored API key removed.")
		return nil
	},
}

func init() {
	keySetCmd.Flags().BoolVar(&verifyKey, "verify", false, "check the key against the models API before saving")
	keyCmd.AddCommand(keySetCmd)
	keyCmd.AddCommand(keyShowCmd)
	keyCmd.AddCommand(keyClearCmd)
}

func setKey(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initStderrLogging(cfg)

	var entered string
	if len(args) == 1 {
		entered = args[0]
	} else {
		entered, err = readSecret("API key: ")
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if verifyKey {
		key := secmem.NewSecureString(entered)
		defer key.Zero()
		models, err := liveapi.New(liveapi.ConfigFrom(cfg), key).ListModels(ctx)
		if err != nil {
			return fmt.Errorf("key rejected: %w", err)
		}
		live := 0
		for _, m := range models {
			if m.SupportsLive() {
				live++
			}
		}
		fmt.Printf("Key accepted: %d models, %d support live sessions.\n", len(models), live)
	}

	store := credentialStore(cfg)
	if err := store.SetAPIKey(ctx, entered); err != nil {
		return err
	}
	fmt.Printf("API key saved to %s\n", store.Path())
	return nil
}

func showKey() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initStderrLogging(cfg)

	key, origin, err := credentialStore(cfg).Lookup(context.Background())
	if err != nil {
		return err
	}
	if key.IsEmpty() {
		fmt.Println("No API key configured.")
		return nil
	}
	defer key.Zero()
	fmt.Printf("%s (from %s)\n", key.Masked(), origin)
	return nil
}

// readSecret reads a line without echo when stdin is a terminal.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Print(prompt)
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("read key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}
