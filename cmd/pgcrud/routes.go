package pgcrud

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/edgeflare/pgcrud/pkg/rest"
	"github.com/spf13/cobra"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the generated route table",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(logLevel)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		routes, err := a.api.Routes()
		if err != nil {
			return err
		}
		return printRoutes(cmd.OutOrStdout(), cfg.REST.BasePath, routes)
	},
}

func printRoutes(out io.Writer, prefix string, routes []rest.Route) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "METHOD\tPATH\tOPERATION\tSCOPES")
	prefix = strings.TrimSuffix(prefix, "/")
	for _, rt := range routes {
		scopes := strings.Join(rt.Resource.Scopes(rt.Op), " ")
		if rt.Public() {
			scopes = "(public)"
		}
		fmt.Fprintf(w, "%s\t%s%s\t%s\t%s\n", rt.Method, prefix, rt.Pattern, rt.Op, scopes)
	}
	return w.Flush()
}
