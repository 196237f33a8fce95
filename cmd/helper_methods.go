package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/ui"

	"github.com/briandowns/spinner"
)

// startSpinner creates and starts a spinner with the given message when not in verbose or debug mode.
// Returns the spinner and a function that should be deferred to clean up.
//
// IMPORTANT: spinner.FinalMSG values do NOT need trailing newlines. The cleanup function
// automatically calls ui.EnsureNewline() on the final message before printing it.
func startSpinner(message string, verbose bool) (*spinner.Spinner, func()) {
	Logger.Debugf("Starting spinner with message: %s", message)
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message

	if err := s.Color("cyan"); err != nil {
		Logger.Warnf("Failed to set spinner color: %v", err)
	}

	if !verbose && !debug {
		s.Start()
		// Ensure log output is discarded unless in verbose mode.
		log.SetOutput(io.Discard)
	} else {
		Logger.Infof("Running in verbose or debug mode: %s", message)
	}

	cleanup := func() {
		if !verbose && !debug {
			log.SetOutput(os.Stdout)
		}

		finalMsg := ""
		if s.FinalMSG != "" {
			finalMsg = ui.EnsureNewline(s.FinalMSG)
			// Clear FinalMSG so s.Stop() doesn't print it.
			s.FinalMSG = ""
		}

		if !verbose && !debug {
			s.Stop()
		}

		// Print final message to stdout (for tests to capture).
		if finalMsg != "" {
			fmt.Print(finalMsg)
		}
	}

	return s, cleanup
}

// confirm stops the spinner and asks a yes/no question on stdin.
func confirm(s *spinner.Spinner, warning, question string) bool {
	s.Stop()

	fmt.Printf("\n%s %s\n\n", ui.Warning.Sprint("Warning:"), warning)

	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("%s [y/N]: ", question)
	response, err := reader.ReadString('\n')
	if err != nil {
		Logger.Errorf("Failed to read response: %v", err)
		s.Restart()
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))

	s.Restart()
	return response == "y" || response == "yes"
}

// formatError turns a workflow error into a user-facing message.
func formatError(err error) string {
	fail := ui.Error.Sprint("✗") + " "
	hint := "\n" + ui.Info.Sprint("→") + " "

	switch {
	case errors.Is(err, kerrors.ErrIdentityNotFound):
		return fail + "No identity found on this device" +
			hint + "Run " + ui.Code.Sprint("liftsocial identity create") + " first"
	case errors.Is(err, kerrors.ErrIdentityExists):
		return fail + "An identity already exists on this device" +
			hint + "Use " + ui.Flag.Sprint("--force") + " to replace it; followers and clubs will no longer recognise you"
	case errors.Is(err, kerrors.ErrKeyDecryptFailed):
		return fail + "Could not unlock your identity: wrong passphrase or damaged file"
	case errors.Is(err, kerrors.ErrEmptyPassphrase):
		return fail + "A passphrase is required to protect your identity"
	case errors.Is(err, kerrors.ErrInvalidPrivateKey):
		return fail + "The key could not be imported: " + err.Error()

	case errors.Is(err, kerrors.ErrUserNotFound):
		return fail + "That user has not published a public key"
	case errors.Is(err, kerrors.ErrSecretRevoked):
		return fail + "That follow token has been revoked"
	case errors.Is(err, kerrors.ErrSecretExhausted):
		return fail + "That follow token has already been used"
	case errors.Is(err, kerrors.ErrFollowSecretNotFound):
		return fail + "Follow token not found"
	case errors.Is(err, kerrors.ErrNotSecretOwner):
		return fail + "That follow token belongs to another user"

	case errors.Is(err, kerrors.ErrUnauthorized):
		return fail + "You are not allowed to do that in this club" +
			hint + "Ask a club admin or the owner"
	case errors.Is(err, kerrors.ErrInvalidRole):
		return fail + "Invalid role: " + err.Error() +
			hint + "Use one of viewer, member or admin"
	case errors.Is(err, kerrors.ErrClubNotFound):
		return fail + "Club not found"
	case errors.Is(err, kerrors.ErrMemberNotFound):
		return fail + "Not a member of that club"
	case errors.Is(err, kerrors.ErrAlreadyMember):
		return fail + "Already a member of that club"
	case errors.Is(err, kerrors.ErrClubFull):
		return fail + "The club has reached its member limit"
	case errors.Is(err, kerrors.ErrClubNotPublic):
		return fail + "That club is private and needs an invite"
	case errors.Is(err, kerrors.ErrOwnerCannotLeave):
		return fail + "The owner cannot leave the club" +
			hint + "Delete it with " + ui.Code.Sprint("liftsocial club delete") + " instead"
	case errors.Is(err, kerrors.ErrInviteNotFound):
		return fail + "No pending invite for that club" +
			hint + "Run " + ui.Code.Sprint("liftsocial inbox sync") + " to fetch new invites"
	case errors.Is(err, kerrors.ErrKeyNotDelivered):
		return fail + "The club key has not been delivered to you yet" +
			hint + "An admin must run " + ui.Code.Sprint("liftsocial club deliver") + ", then run " + ui.Code.Sprint("liftsocial inbox sync")

	case errors.Is(err, kerrors.ErrEventTooLarge):
		return fail + "The event is too large to post"
	case errors.Is(err, kerrors.ErrTooManyFeeds):
		return fail + err.Error()
	case errors.Is(err, kerrors.ErrSharedItemNotFound):
		return fail + "That shared item does not exist or has expired"
	case errors.Is(err, kerrors.ErrInvalidShareLink):
		return fail + err.Error() +
			hint + "Share links look like " + ui.Code.Sprint("<id>#<key>") + "; quote them in the shell"
	case errors.Is(err, kerrors.ErrInvalidDateFormat):
		return fail + err.Error()
	case errors.Is(err, kerrors.ErrAuditDisabled):
		return ui.Info.Sprint("ℹ") + " Audit logging is disabled in the config"

	default:
		return fail + err.Error()
	}
}

// isUnexpectedError returns true if the error is unexpected and should cause a non-zero exit.
func isUnexpectedError(err error) bool {
	expected := []error{
		kerrors.ErrIdentityNotFound, kerrors.ErrIdentityExists, kerrors.ErrKeyDecryptFailed,
		kerrors.ErrEmptyPassphrase, kerrors.ErrInvalidPrivateKey, kerrors.ErrUserNotFound,
		kerrors.ErrSecretRevoked, kerrors.ErrSecretExhausted, kerrors.ErrFollowSecretNotFound,
		kerrors.ErrNotSecretOwner, kerrors.ErrUnauthorized, kerrors.ErrInvalidRole,
		kerrors.ErrClubNotFound, kerrors.ErrMemberNotFound, kerrors.ErrAlreadyMember,
		kerrors.ErrClubFull, kerrors.ErrClubNotPublic, kerrors.ErrOwnerCannotLeave,
		kerrors.ErrInviteNotFound, kerrors.ErrKeyNotDelivered, kerrors.ErrEventTooLarge,
		kerrors.ErrTooManyFeeds, kerrors.ErrInvalidDateFormat, kerrors.ErrAuditDisabled,
		kerrors.ErrSharedItemNotFound, kerrors.ErrInvalidShareLink,
	}
	for _, target := range expected {
		if errors.Is(err, target) {
			return false
		}
	}
	return true
}

// fail sets the spinner's final message for err and returns err only when
// it is unexpected.
func fail(s *spinner.Spinner, err error) error {
	s.FinalMSG = formatError(err)
	if isUnexpectedError(err) {
		return err
	}
	return nil
}

// printError prints the message for err and returns err only when it is
// unexpected. Used by commands that run without a spinner.
func printError(err error) error {
	fmt.Println(formatError(err))
	if isUnexpectedError(err) {
		return err
	}
	return nil
}

// resetCommandState resets every command's flag variables for testing.
func resetCommandState() {
	resetIdentityCommandState()
	resetFollowCommandState()
	resetInboxCommandState()
	resetClubCommandState()
	resetFeedCommandState()
	resetLogCommandState()
}
