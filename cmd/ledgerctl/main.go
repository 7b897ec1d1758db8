package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/mmdatafocus/billing_backend/workflow"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Operator tools for the billing ledgers",
	Long: `ledgerctl runs ledger maintenance against the database named by DB_* env vars.

It never edits ledger rows directly: reversals are appended, divergences are reported.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.ConnectDatabaseWithRetry()
		config.ConnectRedisWithRetry()
		if config.GetDB() == nil {
			return fmt.Errorf("database not initialized")
		}
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare cached stock and balances with their ledgers",
	Long: `Recompute every product quantity and customer balance from the ledgers and check each live
invoice against the rows it caused. Divergences are stored as reconciliation reports and printed.
Cached values are never overwritten. Exits 2 when divergences are found.`,
	Example: `  ledgerctl reconcile
  ledgerctl reconcile --run-id nightly-2026-10-19`,
	RunE: runReconcile,
}

var retryReversalCmd = &cobra.Command{
	Use:   "retry-reversal",
	Short: "Retry the ledger reversal of a failed invoice cancellation",
	Example: `  ledgerctl retry-reversal --invoice-id 42 --reason "cancel timed out"`,
	RunE:    runRetryReversal,
}

var requeueEventCmd = &cobra.Command{
	Use:     "requeue-event",
	Short:   "Put a FAILED or DEAD ledger event back on the outbox",
	Example: `  ledgerctl requeue-event --id 1234`,
	RunE:    runRequeueEvent,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign a session token for calling the ops routes",
	Long: `Sign a bearer token with API_SECRET for the /internal/ops routes.
End-user sessions are issued by the login service; this is for operators and scripts only.`,
	Example: `  ledgerctl token --user-id 1 --username owner@shop --role admin`,
	// signing needs neither the database nor redis
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE:              runToken,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the ledger tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return models.AutoMigrate()
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd, retryReversalCmd, requeueEventCmd, tokenCmd, migrateCmd)

	reconcileCmd.Flags().String("run-id", "", "Run id recorded on every report (default: random uuid)")

	retryReversalCmd.Flags().Int("invoice-id", 0, "Invoice to reverse (required)")
	retryReversalCmd.Flags().String("reason", "Operator retry", "Reason stored on the reversal rows")
	_ = retryReversalCmd.MarkFlagRequired("invoice-id")

	requeueEventCmd.Flags().Int("id", 0, "Ledger event record id (required)")
	_ = requeueEventCmd.MarkFlagRequired("id")

	tokenCmd.Flags().Int("user-id", 0, "User id recorded on history rows (required)")
	tokenCmd.Flags().String("username", "ledgerctl", "Username carried in the token")
	tokenCmd.Flags().String("role", utils.RoleAdmin, "Role carried in the token")
	_ = tokenCmd.MarkFlagRequired("user-id")
}

// operatorContext tags the work of one CLI run so its history rows can be found together.
func operatorContext() context.Context {
	ctx := context.Background()
	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, "ledgerctl")
	ctx = utils.SetUsernameInContext(ctx, "ledgerctl")
	return utils.SetCorrelationIdInContext(ctx, uuid.NewString())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	runId, _ := cmd.Flags().GetString("run-id")
	if runId == "" {
		runId = uuid.NewString()
	}
	summary, reports, err := workflow.RunReconciliation(operatorContext(), config.GetLogger(), runId)
	if err != nil {
		return err
	}
	if err := printJSON(fields{"summary": summary, "reports": reports}); err != nil {
		return err
	}
	if summary.Total > 0 {
		os.Exit(2)
	}
	return nil
}

func runRetryReversal(cmd *cobra.Command, args []string) error {
	invoiceId, _ := cmd.Flags().GetInt("invoice-id")
	reason, _ := cmd.Flags().GetString("reason")
	if invoiceId <= 0 {
		return fmt.Errorf("--invoice-id must be positive")
	}
	count, err := models.RetryInvoiceReversal(operatorContext(), invoiceId, reason)
	if err != nil {
		return err
	}
	config.GetLogger().WithFields(logrus.Fields{
		"field":         "ledgerctl",
		"invoice_id":    invoiceId,
		"reversal_rows": count,
	}).Info("invoice reversal retried")
	return printJSON(fields{"invoice_id": invoiceId, "reversal_rows": count})
}

func runRequeueEvent(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetInt("id")
	record, err := models.RequeueLedgerEvent(operatorContext(), id)
	if err != nil {
		return err
	}
	return printJSON(record)
}

func runToken(cmd *cobra.Command, args []string) error {
	userId, _ := cmd.Flags().GetInt("user-id")
	username, _ := cmd.Flags().GetString("username")
	role, _ := cmd.Flags().GetString("role")
	token, err := issueToken(userId, username, role)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func issueToken(userId int, username string, role string) (string, error) {
	if userId <= 0 {
		return "", fmt.Errorf("--user-id must be positive")
	}
	if username == "" {
		return "", fmt.Errorf("--username must not be empty")
	}
	return utils.JwtGenerate(userId, username, role)
}

type fields = map[string]any

func main() {
	if err := rootCmd.Execute(); err != nil {
		config.LogError(config.GetLogger(), "ledgerctl", "main", "command failed", os.Args, err)
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}
