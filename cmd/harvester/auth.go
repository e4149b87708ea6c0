package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"harvester/pkg/auth"
	"harvester/pkg/ui"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage search API credentials",
	Long: `Manage stored search API credentials.

Credentials are looked up in:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (HARVESTER_SEARCH_CLIENT_ID / HARVESTER_SEARCH_CLIENT_SECRET)

A client id and secret set in the configuration take precedence.`,
}

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login [profile]",
	Short: "Store search API credentials",
	Long: `Store a search API client id and secret under a profile.

The secret is read without echo. Keyword crawls use the profile named by
search.profile in the configuration ("default" unless changed).`,
	Example: `  # Store the default profile
  harvester auth login

  # Store a second application's credentials
  harvester auth login backup`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthLogin,
}

// authLogoutCmd represents the auth logout command
var authLogoutCmd = &cobra.Command{
	Use:   "logout [profile]",
	Short: "Remove stored credentials",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuthLogout,
}

// authStatusCmd represents the auth status command
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List stored profiles",
	Long:  `List stored profiles with masked credentials and the backends in use.`,
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
}

func profileArg(args []string) string {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0])
	}
	return auth.DefaultProfile
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	profile := profileArg(args)
	reader := bufio.NewReader(os.Stdin)

	if existing, _ := manager.Retrieve(profile); existing != nil {
		fmt.Printf("Profile '%s' already exists. Update credentials? (y/N): ", profile)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Print("Client ID: ")
	clientID, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read client id: %w", err)
	}
	clientID = strings.TrimSpace(clientID)

	fmt.Print("Client secret (hidden): ")
	secret, err := readPassword(reader)
	if err != nil {
		return fmt.Errorf("failed to read client secret: %w", err)
	}

	creds := &auth.Credentials{
		Profile:      profile,
		ClientID:     clientID,
		ClientSecret: secret,
		LastModified: time.Now(),
	}
	if err := creds.Validate(); err != nil {
		return err
	}

	storeName, err := manager.Store(creds)
	if err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	ui.PrintSuccess(fmt.Sprintf("Credentials saved for profile '%s'", profile))
	ui.PrintInfo("Stored in", storeName)
	if profile != auth.DefaultProfile {
		fmt.Printf("\nSet search.profile: %s in the configuration to use it.\n", profile)
	}
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	profile := profileArg(args)
	if err := manager.Delete(profile); err != nil {
		return fmt.Errorf("failed to remove profile: %w", err)
	}
	ui.PrintSuccess("Profile removed: " + profile)
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	ui.PrintInfo("Backends", strings.Join(manager.Stores(), ", "))

	profiles, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}
	if len(profiles) == 0 {
		ui.PrintInfo("No stored profiles", "use 'harvester auth login' to add one")
		return nil
	}

	ui.PrintHighlight("Stored Profiles")
	fmt.Println()
	for i, creds := range profiles {
		sanitized := auth.Sanitize(creds)
		fmt.Printf("%d. Profile: %s\n", i+1, sanitized.Profile)
		fmt.Printf("   Client ID: %s\n", sanitized.ClientID)
		fmt.Printf("   Client secret: %s\n", sanitized.ClientSecret)
		if !sanitized.LastModified.IsZero() {
			fmt.Printf("   Last Modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	}
	return nil
}

// readPassword reads without echo on a terminal and falls back to a plain line
func readPassword(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(password)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
