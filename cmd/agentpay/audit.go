package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/alecgard/agentpay/internal/audit"
	"github.com/alecgard/agentpay/internal/ledger"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect exported ledger audit files",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Check that every reference group in an audit file conserves value",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditVerify,
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening audit file: %w", err)
	}
	defer f.Close()

	entries, err := audit.ReadAll(f)
	if err != nil {
		return err
	}

	bad := unconservedReferences(entries)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d entries, %d reference groups checked\n", len(entries), countReferences(entries))
	for _, ref := range bad {
		fmt.Fprintf(out, "unbalanced: %s\n", ref)
	}
	if len(bad) > 0 {
		return fmt.Errorf("%d reference groups do not conserve value", len(bad))
	}
	return nil
}

// unconservedReferences returns the sorted reference IDs whose entries do not
// conserve value.
func unconservedReferences(entries []ledger.Entry) []string {
	groups := make(map[string][]ledger.Entry)
	for _, e := range entries {
		groups[e.ReferenceID] = append(groups[e.ReferenceID], e)
	}

	var bad []string
	for ref, group := range groups {
		if !ledger.Conserved(group) {
			bad = append(bad, ref)
		}
	}
	sort.Strings(bad)
	return bad
}

func countReferences(entries []ledger.Entry) int {
	seen := make(map[string]struct{})
	for _, e := range entries {
		seen[e.ReferenceID] = struct{}{}
	}
	return len(seen)
}
