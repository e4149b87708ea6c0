package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"harvester/pkg/config"
	"harvester/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage harvester configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (HARVESTER_*, also read from .env)
  - Configuration file
  - Default values (lowest priority)`,
}

var initForce bool

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with every option at its default",
	Long: `Create a configuration file holding all available options.

The file is created in the current directory as 'harvester.yaml'
unless a different path is specified with the --config flag.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

// configShowCmd represents the config show command
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging every source.

Secrets such as the search client secret and the Postgres DSN are masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

// configValidateCmd represents the config validate command
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Validate the configuration for syntax errors and invalid values.

This command checks:
  - YAML syntax
  - Value ranges
  - Search credentials (reported as a warning, only keyword mode needs them)
  - Data and log directory accessibility`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
}

const configHeader = `# Harvester configuration
#
# Every option is listed with its default value. Environment variables
# prefixed with HARVESTER_ override this file, for example
# HARVESTER_SEARCH_CLIENT_ID and HARVESTER_SEARCH_CLIENT_SECRET.
# Prefer 'harvester auth login' over storing the client secret here.

`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = "harvester.yaml"
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	data, err := exampleConfig()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Store search credentials with 'harvester auth login'")
	fmt.Println("2. Run 'harvester config validate' to check the configuration")
	fmt.Println("3. Start crawling with 'harvester keywords' or 'harvester range'")
	return nil
}

// exampleConfig renders the defaults as commented YAML
func exampleConfig() ([]byte, error) {
	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to render configuration: %w", err)
	}
	return append([]byte(configHeader), data...), nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	data, err := yaml.Marshal(maskConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (HARVESTER_*)")
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (searched in standard locations)")
	}
	fmt.Println("4. Default values")
	return nil
}

// maskConfig returns a copy of cfg safe to print
func maskConfig(cfg *config.Config) *config.Config {
	display := *cfg
	display.Search.ClientSecret = mask(display.Search.ClientSecret)
	display.Storage.PostgresDSN = mask(display.Storage.PostgresDSN)
	return &display
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) > 8:
		return s[:4] + "..." + s[len(s)-4:]
	default:
		return "***"
	}
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		ui.PrintInfo("Validating configuration", configFile)
	}

	// Load applies the structural checks
	cfg, err := loadConfig(nil)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	warnings := []string{}
	problems := []string{}

	if err := cfg.ValidateSearch(); err != nil {
		warnings = append(warnings, fmt.Sprintf("keyword mode not ready: %v", err))
	}
	if cfg.Output.BaseDirectory != "" {
		if err := os.MkdirAll(cfg.Output.BaseDirectory, 0755); err != nil {
			problems = append(problems, fmt.Sprintf("Cannot create data directory: %v", err))
		}
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("Cannot create log directory: %v", err))
		}
	}
	if cfg.Crawl.MaxWorkers > cfg.Crawl.MaxInFlight {
		warnings = append(warnings, "max_in_flight is below max_workers and will be raised")
	}

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return fmt.Errorf("configuration is invalid")
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Data directory: %s\n", cfg.Output.BaseDirectory)
	fmt.Printf("  Storage: %s\n", cfg.Storage.Driver)
	fmt.Printf("  Workers: %d (in flight %d)\n", cfg.Crawl.MaxWorkers, cfg.Crawl.MaxInFlight)
	fmt.Printf("  Min interval: %s\n", cfg.Fetch.MinInterval)
	fmt.Printf("  Daily quota: %d\n", cfg.Quota.DailyLimit)
	fmt.Printf("  Range: %d-%d\n", cfg.Range.Start, cfg.Range.End)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}
