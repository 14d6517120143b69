package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/walink/internal/store"
)

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Inspect pairing codes on a running server (check, list)",
	}

	cmd.AddCommand(pairingCheckCmd())
	cmd.AddCommand(pairingListCmd())

	return cmd
}

func pairingCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [code]",
		Short: "Check a pairing code (interactive if no code given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var code string
			if len(args) == 1 {
				code = args[0]
			} else {
				selected, err := pairingInteractiveSelect()
				if err != nil || selected == "" {
					return err
				}
				code = selected
			}

			var result struct {
				Valid    bool   `json:"valid"`
				Username string `json:"username"`
				Phone    string `json:"phone"`
			}
			if err := apiCall("GET", "/api/pairing/check/"+url.PathEscape(code), nil, &result); err != nil {
				return err
			}
			if !result.Valid {
				fmt.Printf("Code %s is not valid (unknown or expired).\n", code)
				return nil
			}
			fmt.Printf("Code %s is valid: username=%s phone=%s\n", code, result.Username, result.Phone)
			return nil
		},
	}
}

func fetchPendingPairings() ([]store.PairingRecord, error) {
	var list struct {
		Pairings []store.PairingRecord `json:"pairings"`
	}
	if err := apiCall("GET", "/api/pairing", nil, &list); err != nil {
		return nil, err
	}
	return list.Pairings, nil
}

// pairingInteractiveSelect fetches pending codes and lets the user pick one.
func pairingInteractiveSelect() (string, error) {
	fmt.Println("Fetching pending pairings...")
	fmt.Println()

	pending, err := fetchPendingPairings()
	if err != nil {
		return "", err
	}
	if len(pending) == 0 {
		fmt.Println("No pending pairing codes.")
		return "", nil
	}

	fmt.Printf("Found %d pending code(s).\n\n", len(pending))

	rows := make([]pendingCodeOption, 0, len(pending))
	for _, p := range pending {
		left := time.Until(time.UnixMilli(p.ExpiresAt)).Truncate(time.Second)
		label := fmt.Sprintf("[%s]  %s / %s  (expires in %s)", p.Code, p.Tenant, p.Phone, left)
		rows = append(rows, pendingCodeOption{Label: label, Code: p.Code})
	}

	selected, err := pickPendingCode("Select a pairing code to check", rows)
	if err != nil {
		fmt.Println("Cancelled.")
		return "", nil
	}
	return selected, nil
}

func pairingListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending (non-expired) pairing codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			pending, err := fetchPendingPairings()
			if err != nil {
				return err
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(pending, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			if len(pending) == 0 {
				fmt.Println("No pending pairing codes.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "CODE\tUSERNAME\tPHONE\tCREATED\tEXPIRES\n")
			for _, p := range pending {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					p.Code, p.Tenant, p.Phone,
					time.UnixMilli(p.CreatedAt).Format(time.DateTime),
					time.UnixMilli(p.ExpiresAt).Format(time.DateTime),
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
