package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/witmproxy/witmproxy/pkg/ca"
)

// certCmd manages the local root CA's presence in the OS/browser trust
// store. Installing into a platform trust store is out of scope for this
// build; status is real, since it only needs pkg/ca.
var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Install, remove, or inspect the local root CA's trust",
}

var certAssumeYes bool

var certInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the local root CA into the OS/browser trust store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return &exitCodeError{code: 1, msg: "cert install: OS/browser trust-store installation is not implemented by this build; distribute the PEM from `witmproxy cert status` manually"}
	},
}

var certRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the local root CA from the OS/browser trust store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return &exitCodeError{code: 1, msg: "cert remove: OS/browser trust-store removal is not implemented by this build"}
	},
}

var certStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the local root CA's fingerprint and PEM",
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := ca.Open(appDir, 0)
		if err != nil {
			return &exitCodeError{code: 1, msg: fmt.Sprintf("cert status: %v", err)}
		}
		sum := sha256.Sum256(inst.RootDER())
		fmt.Printf("fingerprint (sha256): %s\n", hex.EncodeToString(sum[:]))
		fmt.Print(inst.RootPEM())
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{certInstallCmd, certRemoveCmd} {
		c.Flags().BoolVarP(&certAssumeYes, "yes", "y", false, "assume yes to any confirmation prompt")
	}
	certCmd.AddCommand(certInstallCmd, certRemoveCmd, certStatusCmd)
	rootCmd.AddCommand(certCmd)
}
