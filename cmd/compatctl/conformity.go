package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/autoparts/compat-engine/pkg/api"
	"github.com/autoparts/compat-engine/pkg/conformity"
)

var (
	auditGamme       int64
	auditPartitioned bool
)

var conformityCmd = &cobra.Command{
	Use:   "conformity",
	Short: "Audit V4 keyword coverage against legacy coverage",
}

var conformityMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Compute conformity for one gamme or all displayed gammes",
	Args:  cobra.NoArgs,
	RunE:  runConformityMetrics,
}

var conformityMissingCmd = &cobra.Command{
	Use:   "missing <pgId>",
	Short: "List vehicle variants expected on V4 but not covered",
	Args:  cobra.ExactArgs(1),
	RunE:  runConformityMissing,
}

var conformityExtrasCmd = &cobra.Command{
	Use:   "extras <pgId>",
	Short: "List vehicle variants covered on V4 without being expected",
	Args:  cobra.ExactArgs(1),
	RunE:  runConformityExtras,
}

func init() {
	conformityMetricsCmd.Flags().Int64Var(&auditGamme, "gamme", 0, "Audit a single gamme id")
	conformityMetricsCmd.Flags().BoolVar(&auditPartitioned, "partitioned", false, "Audit gamme by gamme, reporting failures per gamme")

	conformityCmd.AddCommand(conformityMetricsCmd)
	conformityCmd.AddCommand(conformityMissingCmd)
	conformityCmd.AddCommand(conformityExtrasCmd)
}

func runConformityMetrics(cmd *cobra.Command, args []string) error {
	query := url.Values{}
	if auditGamme != 0 {
		query.Set("pg_id", strconv.FormatInt(auditGamme, 10))
	}
	if auditPartitioned {
		query.Set("partitioned", "true")
	}

	var resp api.MetricsResponse
	if err := newClient().getJSON("/conformity/metrics", query, &resp); err != nil {
		return err
	}
	if done, err := printStructured(resp); done {
		return err
	}

	headers := []string{"PG_ID", "Name", "Catalog", "V2V3", "Expected", "Actual", "Missing", "Extras", "Status"}
	rows := make([][]string, 0, len(resp.Metrics))
	for _, r := range resp.Metrics {
		if r.Status == conformity.StatusError {
			rows = append(rows, []string{itoa(r.GammeID), truncate(r.GammeName, 30),
				"-", "-", "-", "-", "-", "-", string(r.Status) + ": " + truncate(r.Err, 40)})
			continue
		}
		status := string(r.Status)
		if r.Netted() {
			status += " (netted)"
		}
		rows = append(rows, []string{
			itoa(r.GammeID),
			truncate(r.GammeName, 30),
			itoa(r.CatalogValid),
			itoa(r.CoveredV2V3),
			itoa(r.ExpectedV4),
			itoa(r.ActualV4),
			itoa(r.Missing),
			itoa(r.Extras),
			status,
		})
	}
	printTable(headers, rows)

	k := resp.KPIs
	fmt.Fprintf(stdout, "\n%d gammes: %d conformes, %d non conformes, %d errored, coverage %.2f%%\n",
		k.Total, k.Conformes, k.NonConformes, k.Errored, k.Coverage)
	return nil
}

func runConformityMissing(cmd *cobra.Command, args []string) error {
	pgID, err := parseID("pgId", args[0])
	if err != nil {
		return err
	}

	var entries []conformity.MissingEntry
	if err := newClient().getJSON(fmt.Sprintf("/conformity/%d/missing", pgID), nil, &entries); err != nil {
		return err
	}
	if done, err := printStructured(entries); done {
		return err
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{itoa(e.VariantID), truncate(e.ModelName, 30), truncate(e.VariantName, 30), e.Fuel})
	}
	printTable([]string{"Type_ID", "Model", "Variant", "Fuel"}, rows)
	fmt.Fprintf(stdout, "\n%d missing variants\n", len(entries))
	return nil
}

func runConformityExtras(cmd *cobra.Command, args []string) error {
	pgID, err := parseID("pgId", args[0])
	if err != nil {
		return err
	}

	var entries []conformity.ExtraEntry
	if err := newClient().getJSON(fmt.Sprintf("/conformity/%d/extras", pgID), nil, &entries); err != nil {
		return err
	}
	if done, err := printStructured(entries); done {
		return err
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{itoa(e.VariantID), itoa(e.KeywordID), truncate(e.KeywordText, 50)})
	}
	printTable([]string{"Type_ID", "KW_ID", "Keyword"}, rows)
	fmt.Fprintf(stdout, "\n%d extra variants\n", len(entries))
	return nil
}

func parseID(name, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	return id, nil
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
