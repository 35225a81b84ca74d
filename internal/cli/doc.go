// Package cli translates command-line arguments into an app.Config. It owns
// flag parsing, usage text, and the process exit-code contract.
package cli
