// Package utils provides shared helpers for the liftsocial command line.
//
// # Terminal Utilities
//
// Passphrase prompts that never echo input:
//   - ReadPassphrase / ReadPassphraseFromTTY: one hidden prompt
//   - ReadNewPassphrase: prompt and confirm
//   - PassphraseFrom: environment variable first, then a prompt
//
// # I/O Utilities
//
// Functions for reading keys and events from files or stdin:
//   - ReadStdin: reads all data from standard input
//   - ReadInput: reads a path, with "-" meaning stdin
//
// # String Utilities
//
// Display helpers: ShortID, FormatList, FormatDuration and Ago.
package utils
