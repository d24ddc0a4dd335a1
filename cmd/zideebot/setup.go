package main

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"zideebot/internal/ai"
	"zideebot/internal/config"
)

// providerMeta describes an AI backend option for the setup wizard.
type providerMeta struct {
	Name         string
	EnvVar       string
	DefaultModel string
}

var knownProviders = []providerMeta{
	{Name: "gemini", EnvVar: "GEMINI_API_KEY", DefaultModel: "gemini-2.0-flash-exp"},
	{Name: "openai", EnvVar: "OPENAI_API_KEY", DefaultModel: ai.DefaultOpenAIModel},
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup: bot name, AI provider, dashboard, allowed chats",
		Long:  "Guides you through the bot name, AI provider and key, dashboard port and login, and an optional chat allowlist. Writes config to the path used by --config or default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.LoadForEdit(cfgPath)
			if err != nil {
				return err
			}
			if err := runSetup(cfg, os.Stdin, os.Stdout); err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Printf("\nConfig saved to %s\n", cfgPath)
			fmt.Println("Next: run 'zideebot run' and scan the QR code with WhatsApp.")
			return nil
		},
	}
}

// runSetup asks the wizard questions on in/out and updates cfg.
func runSetup(cfg *config.Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	prompt := func(label, def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}
	yes := func(label string, def bool) (bool, error) {
		d := "n"
		if def {
			d = "y"
		}
		s, err := prompt(label+" (y/n)", d)
		if err != nil {
			return false, err
		}
		s = strings.ToLower(s)
		return s == "y" || s == "yes", nil
	}

	// Step 1: Bot
	fmt.Fprintln(out, "\n--- Step 1: Bot ---")
	name, err := prompt("Bot name", cfg.General.BotName)
	if err != nil {
		return err
	}
	cfg.General.BotName = name
	tz, err := prompt("Time zone", cfg.General.Timezone)
	if err != nil {
		return err
	}
	cfg.General.Timezone = tz

	// Step 2: AI
	fmt.Fprintln(out, "\n--- Step 2: AI provider ---")
	defNum := "1"
	for i, p := range knownProviders {
		fmt.Fprintf(out, "  %d) %s (key from %s)\n", i+1, p.Name, p.EnvVar)
		if p.Name == cfg.AI.Provider {
			defNum = strconv.Itoa(i + 1)
		}
	}
	choice, err := prompt(fmt.Sprintf("Choose provider (1-%d)", len(knownProviders)), defNum)
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 1 || idx > len(knownProviders) {
		idx = 1
	}
	prov := knownProviders[idx-1]
	if cfg.AI.Provider != prov.Name {
		cfg.AI.Model = prov.DefaultModel
	}
	cfg.AI.Provider = prov.Name

	key := cfg.AI.APIKey
	if key == "" {
		key = "${" + prov.EnvVar + "}"
	}
	if key, err = prompt("API key (paste key or env var)", key); err != nil {
		return err
	}
	cfg.AI.APIKey = key
	if cfg.AI.Model, err = prompt("Model", cfg.AI.Model); err != nil {
		return err
	}

	// Step 3: Dashboard
	fmt.Fprintln(out, "\n--- Step 3: Dashboard ---")
	if cfg.Dashboard.Enabled, err = yes("Enable web dashboard", cfg.Dashboard.Enabled); err != nil {
		return err
	}
	if cfg.Dashboard.Enabled {
		port, err := prompt("Dashboard port", strconv.Itoa(cfg.Dashboard.Port))
		if err != nil {
			return err
		}
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			cfg.Dashboard.Port = n
		}
		if cfg.Dashboard.Auth.Enabled, err = yes("Require login", true); err != nil {
			return err
		}
		if cfg.Dashboard.Auth.Enabled {
			def := cfg.Dashboard.Auth.Username
			if def == "" {
				def = "admin"
			}
			if cfg.Dashboard.Auth.Username, err = prompt("Username", def); err != nil {
				return err
			}
			pass, err := prompt("Password (leave empty to keep)", "")
			if err != nil {
				return err
			}
			if pass != "" {
				cfg.Dashboard.Auth.PasswordHash = hashPassword(pass)
			}
			if cfg.Dashboard.Auth.PasswordHash == "" {
				return fmt.Errorf("a password is required when login is enabled")
			}
		}
	}

	// Step 4: Allowlist
	fmt.Fprintln(out, "\n--- Step 4: Allowed chats ---")
	allow, err := prompt("Only answer these numbers or group ids (comma separated, empty = everyone)",
		strings.Join(cfg.WhatsApp.AllowFrom, ","))
	if err != nil {
		return err
	}
	cfg.WhatsApp.AllowFrom = nil
	for _, a := range strings.Split(allow, ",") {
		if a = strings.TrimSpace(a); a != "" {
			cfg.WhatsApp.AllowFrom = append(cfg.WhatsApp.AllowFrom, a)
		}
	}
	return nil
}

// hashPassword returns the hex sha256 stored in dashboard.auth.passwordHash.
func hashPassword(pass string) string {
	sum := sha256.Sum256([]byte(pass))
	return hex.EncodeToString(sum[:])
}
