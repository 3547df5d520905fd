// Command witmproxy is the intercepting TLS proxy's CLI: it starts the
// front-end (serve), and exposes the plugin, daemon, proxy, and cert
// management commands, mostly as argument-validating boundary stubs
// (cert status and daemon status/logs read files this binary writes).
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var appDir string

var rootCmd = &cobra.Command{
	Use:           "witmproxy",
	Short:         "An intercepting TLS proxy with a sandboxed plugin pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	home, _ := os.UserHomeDir()
	defaultAppDir := filepath.Join(home, ".witmproxy")
	rootCmd.PersistentFlags().StringVar(&appDir, "app-dir", defaultAppDir, "application data directory (ca.crt, ca.key, plugin db, logs)")
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		if exitErr.msg != "" {
			fmt.Fprintln(os.Stderr, exitErr.msg)
		}
		os.Exit(exitErr.code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

// exitCodeError lets a RunE return a specific non-zero exit status
// without Cobra printing its own "Error: ..." line for what is really
// just a documented boundary-command outcome (e.g. "not yet installed").
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.msg
}
