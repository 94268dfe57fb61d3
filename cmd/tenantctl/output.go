package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	tenancyapp "github.com/faithflows/backend/internal/application/tenancy"
	"github.com/spf13/cobra"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func (c *cli) printTenant(cmd *cobra.Command, t *tenancyapp.TenantDTO) error {
	if c.json {
		return writeJSON(cmd.OutOrStdout(), t)
	}
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintf(tw, "ID:\t%s\n", t.ID)
	fmt.Fprintf(tw, "Subdomain:\t%s\n", t.Subdomain)
	fmt.Fprintf(tw, "Name:\t%s\n", t.Name)
	fmt.Fprintf(tw, "Partition:\t%s\n", t.PartitionKey)
	fmt.Fprintf(tw, "Plan:\t%s\n", t.Plan)
	fmt.Fprintf(tw, "Status:\t%s\n", t.SubscriptionStatus)
	fmt.Fprintf(tw, "Trial ends:\t%s\n", formatDate(t.TrialEndDate))
	fmt.Fprintf(tw, "Subscription ends:\t%s\n", formatDate(t.SubscriptionEndDate))
	fmt.Fprintf(tw, "Grace period:\t%dd\n", t.GracePeriodDays)
	fmt.Fprintf(tw, "Bypass:\t%t\n", t.BypassSubscriptionCheck)
	fmt.Fprintf(tw, "Active:\t%t\n", t.IsActive)
	return tw.Flush()
}

func (c *cli) printTenants(cmd *cobra.Command, result *tenancyapp.TenantListResult) error {
	if c.json {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "ID\tSUBDOMAIN\tPLAN\tSTATUS\tENDS\tBYPASS\tACTIVE")
	for _, t := range result.Items {
		ends := t.SubscriptionEndDate
		if ends == nil {
			ends = t.TrialEndDate
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%t\n",
			t.ID, t.Subdomain, t.Plan, t.SubscriptionStatus, formatDate(ends), t.BypassSubscriptionCheck, t.IsActive)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%d tenant(s), page %d of %d\n", result.Total, result.Page, max(result.TotalPages, 1))
	return err
}

func (c *cli) printDomains(cmd *cobra.Command, domains []tenancyapp.DomainDTO) error {
	if c.json {
		return writeJSON(cmd.OutOrStdout(), domains)
	}
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "DOMAIN\tPRIMARY\tCREATED")
	for _, d := range domains {
		fmt.Fprintf(tw, "%s\t%t\t%s\n", d.Domain, d.IsPrimary, d.CreatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func printStatus(w io.Writer, s *tenancyapp.SubscriptionStatusDTO) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "Subscription:\t%s\n", s.Status)
	fmt.Fprintf(tw, "Can access:\t%t\n", s.CanAccess)
	if s.DaysRemaining != nil {
		fmt.Fprintf(tw, "Days remaining:\t%d\n", *s.DaysRemaining)
	}
	fmt.Fprintf(tw, "Bypass:\t%t\n", s.BypassSubscriptionCheck)
	if s.Warning != "" {
		fmt.Fprintf(tw, "Warning:\t%s\n", s.Warning)
	}
	if s.Message != "" {
		fmt.Fprintf(tw, "Message:\t%s\n", s.Message)
	}
	return tw.Flush()
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02")
}
