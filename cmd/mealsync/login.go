package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/platewise/mealsync/internal/models"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the PlateWise backend",
	Long: `Login verifies credentials against the backend and stores the
session token for future commands. Requires connectivity.`,
	Example: `  mealsync login --email user@example.com
  mealsync login -e user@example.com -p secret`,
	RunE: runLogin,
}

var (
	loginEmail    string
	loginPassword string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a PlateWise account",
	Long: `Register saves the account locally right away and queues the backend
registration. Offline devices finish registering on the next drain.`,
	Example: `  mealsync register --email user@example.com --name "Sam"`,
	RunE:    runRegister,
}

var (
	registerEmail    string
	registerPassword string
	registerName     string
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and queue the server-side session revocation",
	RunE:  runLogout,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)

	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "",
		"Email address (required)")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "",
		"Password (will prompt if not provided)")
	_ = loginCmd.MarkFlagRequired("email")

	registerCmd.Flags().StringVarP(&registerEmail, "email", "e", "",
		"Email address (required)")
	registerCmd.Flags().StringVarP(&registerPassword, "password", "p", "",
		"Password (will prompt if not provided)")
	registerCmd.Flags().StringVar(&registerName, "name", "",
		"Display name")
	_ = registerCmd.MarkFlagRequired("email")
}

func runLogin(cmd *cobra.Command, _ []string) error {
	if loginPassword == "" {
		var err error
		loginPassword, err = promptPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	info, err := apiClient.Auth.Login(cmd.Context(), loginEmail, loginPassword)
	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
			})
		} else {
			printError("Login failed: %v", err)
		}
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":    true,
			"email":      info.Email,
			"expires_at": info.ExpiresAt,
		})
		return nil
	}

	printSuccess("Signed in as %s", info.Email)
	return nil
}

func runRegister(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if registerPassword == "" {
		var err error
		registerPassword, err = promptPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	profile, err := apiClient.Auth.Register(ctx, registerEmail, registerPassword, registerName)
	if err != nil {
		return err
	}

	// Reach for the backend right away; offline just leaves it queued.
	if _, err := apiClient.Sync.SyncDomain(ctx, models.DomainAuth); err != nil {
		logger.WithError(err).Debug("Registration deferred")
	}

	synced := false
	if current, err := apiClient.Auth.Profile(ctx); err == nil {
		synced = current.Synced
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"email":  profile.Email,
			"synced": synced,
		})
		return nil
	}

	if synced {
		printSuccess("Account %s registered and signed in", profile.Email)
	} else {
		printWarning("Account %s saved locally; registration completes when online", profile.Email)
	}
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if err := apiClient.Auth.Logout(ctx); err != nil {
		return err
	}

	if _, err := apiClient.Sync.SyncDomain(ctx, models.DomainAuth); err != nil {
		logger.WithError(err).Debug("Signout deferred")
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true})
		return nil
	}

	printSuccess("Signed out")
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	// Read password without echo
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", err
	}

	return string(password), nil
}
