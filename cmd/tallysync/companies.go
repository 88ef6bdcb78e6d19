package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ganeshchavan786/TallyConnect-sub000/internal/schema"
	"github.com/spf13/cobra"
)

var companiesFlags struct {
	status string
}

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "List tracked companies",
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.close()

		status := schema.CompanyStatus(companiesFlags.status)
		if status != "" && !schema.ValidStatus(status) {
			fmt.Fprintf(os.Stderr, "Error: unknown status %q\n", companiesFlags.status)
			os.Exit(1)
		}

		companies, err := e.db.GetCompanies(context.Background(), status)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if len(companies) == 0 {
			fmt.Println("No companies tracked.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tEXTERNAL ID\tVERSION\tSTATUS\tRECORDS\tLAST SYNC")
		for _, c := range companies {
			lastSync := "-"
			if c.LastSyncAt != nil {
				lastSync = c.LastSyncAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				c.Name, c.ExternalID, c.VersionID, c.Status, c.TotalRecords, lastSync)
		}
		w.Flush()
	},
}

var deleteCompanyFlags struct {
	externalID string
	versionID  string
}

var deleteCompanyCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a company version and all of its vouchers",
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.close()

		id := schema.NewIdentity(deleteCompanyFlags.externalID, deleteCompanyFlags.versionID)
		if err := e.db.DeleteCompany(context.Background(), id); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted company %s and its vouchers.\n", id)
	},
}

func init() {
	companiesCmd.Flags().StringVar(&companiesFlags.status, "status", "", "filter by status (new|syncing|synced|failed|incomplete)")

	deleteCompanyCmd.Flags().StringVar(&deleteCompanyFlags.externalID, "external-id", "", "stable company identity (required)")
	deleteCompanyCmd.Flags().StringVar(&deleteCompanyFlags.versionID, "version-id", "", "company version marker (required)")
	_ = deleteCompanyCmd.MarkFlagRequired("external-id")
	_ = deleteCompanyCmd.MarkFlagRequired("version-id")

	companiesCmd.AddCommand(deleteCompanyCmd)
	rootCmd.AddCommand(companiesCmd)
}
