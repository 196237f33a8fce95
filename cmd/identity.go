package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/liftlog/liftsocial/internal/configs"
	"github.com/liftlog/liftsocial/internal/ui"
	"github.com/liftlog/liftsocial/internal/utils"
	"github.com/liftlog/liftsocial/internal/workflows"

	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"
)

var (
	identityImportPath   string
	identityKeyEncrypted bool
	identityForce        bool
	identityExportOutput string
)

func init() {
	identityCreateCmd.Flags().StringVar(&identityImportPath, "import", "", "import an existing RSA private key from a file (use - for stdin)")
	identityCreateCmd.Flags().BoolVar(&identityKeyEncrypted, "key-encrypted", false, "prompt for the passphrase of the imported key")
	identityCreateCmd.Flags().BoolVar(&identityForce, "force", false, "replace an existing identity on this device")
	identityExportCmd.Flags().StringVarP(&identityExportOutput, "output", "o", "", "write the public key to a file instead of stdout")

	IdentityCmd.AddCommand(identityCreateCmd)
	IdentityCmd.AddCommand(identityShowCmd)
	IdentityCmd.AddCommand(identityExportCmd)
}

func resetIdentityCommandState() {
	identityImportPath = ""
	identityKeyEncrypted = false
	identityForce = false
	identityExportOutput = ""
}

// IdentityCmd groups the commands that manage the device identity.
var IdentityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage your liftsocial identity",
	Long: `Creates, inspects and exports the keypair that identifies you.

Your private key never leaves this device. It is sealed under a passphrase
and only your public key is published.`,
}

var identityCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new identity on this device",
	Long: `Generates a new RSA keypair, seals it under a passphrase and publishes
the public key so others can send you follow grants and club keys.

Examples:
  liftsocial identity create
  liftsocial identity create --import ~/.ssh/id_rsa --key-encrypted
  cat key.pem | liftsocial identity create --import -
  liftsocial identity create --force   # replace the existing identity`,
	Args: cobra.NoArgs,
	RunE: runIdentityCreate,
}

func runIdentityCreate(cmd *cobra.Command, args []string) error {
	Logger.Infof("Starting identity create command")

	opts := workflows.CreateIdentityOptions{Force: identityForce}

	if identityImportPath != "" {
		Logger.Debugf("Reading key to import from %s", identityImportPath)
		key, err := utils.ReadInput(identityImportPath)
		if err != nil {
			return Logger.ErrorfAndReturn("failed to read key to import: %v", err)
		}
		opts.ImportKey = key
		if identityKeyEncrypted {
			keyPass, err := utils.ReadPassphrase("Passphrase of the imported key: ")
			if err != nil {
				return Logger.ErrorfAndReturn("failed to read key passphrase: %v", err)
			}
			defer clear(keyPass)
			opts.ImportKeyPassphrase = keyPass
		}
	}

	passphrase := []byte(os.Getenv(configs.EnvPassphrase))
	if len(passphrase) == 0 {
		var err error
		passphrase, err = utils.ReadNewPassphrase("New identity passphrase: ")
		if err != nil {
			return Logger.ErrorfAndReturn("failed to read passphrase: %v", err)
		}
	}
	defer clear(passphrase)
	opts.Passphrase = passphrase

	message := "Generating your keypair..."
	if opts.ImportKey != nil {
		message = "Importing your key..."
	}
	spinner, cleanup := startSpinner(message, verbose)
	defer cleanup()

	result, err := workflows.CreateIdentity(context.Background(), appConfig, opts)
	if err != nil {
		Logger.Errorf("Failed to create identity: %v", err)
		return fail(spinner, err)
	}
	Logger.Infof("Created identity %s at %s", result.UserID, result.IdentityPath)

	spinner.Stop()
	if !verbose && !debug {
		figure.NewColorFigure("liftsocial", "small", "green", true).Print()
		fmt.Println()
	}

	verb := "created"
	if result.Imported {
		verb = "imported"
	}
	finalMessage := ui.Success.Sprint("✓") + " Identity " + verb + "\n" +
		"   User ID: " + ui.Highlight.Sprint(result.UserID) + "\n" +
		"   Stored at: " + ui.Path.Sprint(result.IdentityPath)
	if result.Replaced {
		finalMessage += "\n" + ui.Warning.Sprint("⚠") + " The previous identity was replaced. Followers and clubs must re-add you."
	}
	finalMessage += "\n" + ui.Info.Sprint("→") + " Share a follow token with " + ui.Code.Sprint("liftsocial follow issue")
	spinner.FinalMSG = finalMessage
	return nil
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show your identity and the keys you hold",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting identity show command")
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			info, err := workflows.ShowIdentity(ctx, s)
			if err != nil {
				return printError(err)
			}

			fmt.Println(ui.Heading.Sprint("Identity"))
			fmt.Printf("  User ID: %s\n", ui.Highlight.Sprint(info.UserID))
			fmt.Printf("  Stored at: %s\n\n", ui.Path.Sprint(appConfig.Identity.Path))

			fmt.Println(ui.Heading.Sprint("Following"))
			if len(info.Following) == 0 {
				fmt.Println("  " + ui.Muted.Sprint("nobody yet"))
			}
			for _, u := range info.Following {
				fmt.Println("  " + u)
			}
			fmt.Println()

			fmt.Println(ui.Heading.Sprint("Clubs"))
			if len(info.Clubs) == 0 {
				fmt.Println("  " + ui.Muted.Sprint("none"))
			}
			for _, c := range info.Clubs {
				name := c.Name
				if name == "" {
					name = ui.Muted.Sprint("key not delivered")
				}
				fmt.Printf("  %s %s  %s  %s  key v%d\n", ui.Mark(c.HeldKey), utils.ShortID(c.ClubID), name, c.Role, c.KeyVersion)
			}

			if len(info.Invites) > 0 {
				fmt.Println()
				fmt.Println(ui.Heading.Sprint("Pending invites"))
				for _, inv := range info.Invites {
					fmt.Printf("  %s  %s  as %s\n", utils.ShortID(inv.ClubID), inv.ClubName, inv.OfferedRole)
				}
			}
			return nil
		})
	},
}

var identityExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print your public key",
	Long: `Prints your public key in PEM format.

Examples:
  liftsocial identity export
  liftsocial identity export -o me.pem`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting identity export command")
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			if identityExportOutput == "" {
				pemBytes, err := workflows.ExportPublicKey(s)
				if err != nil {
					return Logger.ErrorfAndReturn("failed to export public key: %v", err)
				}
				fmt.Print(string(pemBytes))
				return nil
			}
			if err := workflows.ExportPublicKeyFile(s, identityExportOutput); err != nil {
				return Logger.ErrorfAndReturn("failed to write public key: %v", err)
			}
			fmt.Println(ui.Success.Sprint("✓") + " Public key written to " + ui.Path.Sprint(identityExportOutput))
			return nil
		})
	},
}
