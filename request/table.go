package request

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// String renders the manifest as a table, one row per request.
func (s *Set) String() string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"id", "lon", "lat", "epsg", "image", "bands", "edge", "res", "outname"})
	for _, r := range s.rows {
		t.AppendRow(table.Row{
			r.ID,
			fmt.Sprintf("%.5f", r.Lon),
			fmt.Sprintf("%.5f", r.Lat),
			r.EPSG,
			displayRef(r.Image),
			strings.Join(r.Bands, ","),
			r.EdgeSize,
			r.Resolution,
			r.Outname,
		})
	}
	return t.Render()
}

// displayRef keeps serialized expressions from blowing up the table.
func displayRef(ref string) string {
	const max = 32
	if len(ref) <= max {
		return ref
	}
	return ref[:max-3] + "..."
}
