package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geo-cli/internal/crs"
)

var crsCmd = &cobra.Command{
	Use:   "crs <descriptor>",
	Short: "Convert between CRS descriptors",
	Long: `Reads an EPSG code ("EPSG:3067", "3067"), an OGC URN, a proj string or WKT
and prints it as EPSG code, proj string, WKT and URN. With --to only that
form is printed. With --dataset the argument names a dataset and its CRS
is shown.`,
	Example: `  geo-cli crs EPSG:3067 --to proj
  geo-cli crs "+proj=utm +zone=35 +ellps=GRS80 +units=m +no_defs" --to epsg
  geo-cli crs --dataset municipalities`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetString("to")
		fromDataset, _ := cmd.Flags().GetBool("dataset")

		var c *crs.CRS
		if fromDataset {
			l, err := openLayer(cmd.Context(), cmd, args[0])
			if err != nil {
				return err
			}
			if l.CRS == nil {
				return eris.Errorf("crs: %s declares no CRS", args[0])
			}
			c = l.CRS
		} else {
			parsed, err := crs.Parse(args[0])
			if err != nil {
				return err
			}
			c = parsed
		}

		s, err := formatCRS(c, to)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprint(cmd.OutOrStdout(), s)
		return nil
	},
}

func init() {
	addReadFlags(crsCmd)
	crsCmd.Flags().String("to", "all", "output form: epsg, proj, wkt, urn or all")
	crsCmd.Flags().Bool("dataset", false, "treat the argument as a dataset and show its CRS")
	rootCmd.AddCommand(crsCmd)
}

// formatCRS renders c in the requested form, newline terminated.
func formatCRS(c *crs.CRS, to string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(to)) {
	case "epsg":
		if c.EPSG == 0 {
			return "", eris.Wrapf(crs.ErrUnsupportedCRS, "crs: %s has no EPSG code", c.Name)
		}
		return fmt.Sprintf("EPSG:%d\n", c.EPSG), nil
	case "proj":
		return c.ProjString() + "\n", nil
	case "wkt":
		return c.WKT() + "\n", nil
	case "urn":
		if c.EPSG == 0 {
			return "", eris.Wrapf(crs.ErrUnsupportedCRS, "crs: %s has no EPSG code", c.Name)
		}
		return c.URN() + "\n", nil
	case "", "all":
		var b strings.Builder
		w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "Name:\t%s\n", c.Name)
		_, _ = fmt.Fprintf(w, "Code:\t%s\n", c.String())
		_, _ = fmt.Fprintf(w, "Kind:\t%s\n", c.Kind)
		_, _ = fmt.Fprintf(w, "Axis order:\t%s\n", c.AxisOrder)
		_, _ = fmt.Fprintf(w, "Proj:\t%s\n", c.ProjString())
		if c.EPSG > 0 {
			_, _ = fmt.Fprintf(w, "URN:\t%s\n", c.URN())
		}
		_ = w.Flush()
		b.WriteString("WKT:\n")
		b.WriteString(c.WKT())
		b.WriteString("\n")
		return b.String(), nil
	}
	return "", eris.Errorf("crs: unknown output form %q", to)
}
