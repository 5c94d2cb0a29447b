package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/obsrv/monitor-service/internal/webhook"
)

var (
	verifySecret    string
	verifyHeader    string
	verifyTolerance int
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify <payload-file>",
	Short: "Verify a webhook signature header against a payload",
	Long: `Verify that an X-Obsrv-Signature header matches a payload body and
signing secret. Useful for debugging receiver implementations.`,
	Example: `  monitor-service verify payload.json --secret whsec_abc123 --header "t=1756100000,v1=ab12..."`,
	Args:    cobra.ExactArgs(1),
	RunE:    runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&verifySecret, "secret", "", "Webhook signing secret")
	verifyCmd.Flags().StringVar(&verifyHeader, "header", "", "Signature header value (t=...,v1=...)")
	verifyCmd.Flags().IntVar(&verifyTolerance, "tolerance", 300, "Replay tolerance in seconds")
	verifyCmd.MarkFlagRequired("secret")
	verifyCmd.MarkFlagRequired("header")
}

func runVerify(cmd *cobra.Command, args []string) error {
	payload, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read payload file: %w", err)
	}

	signer := webhook.NewSigner(verifyTolerance)
	ok, reason := signer.Verify(payload, verifyHeader, verifySecret)
	if !ok {
		return fmt.Errorf("signature invalid: %s", reason)
	}

	fmt.Println("Signature valid")
	return nil
}
