package main

import (
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find app ids by name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := deps.Resolver.Resolve(ctxOrBackground(cmd), strings.Join(args, " "))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, res)
		}
		if !res.Found() {
			fprintf(out, "no apps match %q\n", res.Query)
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fprintf(tw, "APP ID\tTITLE\n")
		for _, c := range res.Candidates {
			fprintf(tw, "%s\t%s\n", c.AppID, c.Title)
		}
		return tw.Flush()
	},
}
