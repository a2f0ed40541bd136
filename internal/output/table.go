package output

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"bmirror/internal/bspace"
)

// TableOptions controls site table rendering.
type TableOptions struct {
	// Pretty draws borders and colors the header.
	Pretty bool
	// Attrs lists extra raw site attributes to show as columns.
	Attrs []string
}

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// SiteTable renders sites as Index, Id and Site columns. Missing values
// show as "-".
func SiteTable(sites []*bspace.Site, opts TableOptions) string {
	headers := append([]string{"Index", "Id", "Site"}, opts.Attrs...)
	rows := make([][]string, 0, len(sites))
	for i, s := range sites {
		id, err := s.ID()
		if err != nil {
			id = "-"
		}
		title, err := s.Title()
		if err != nil {
			title = "-"
		}
		row := []string{strconv.Itoa(i), id, title}
		for _, a := range opts.Attrs {
			row = append(row, attrString(s, a))
		}
		rows = append(rows, row)
	}

	t := table.New().Headers(headers...).Rows(rows...)
	if opts.Pretty {
		t = t.Border(lipgloss.RoundedBorder()).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			})
	} else {
		t = t.Border(lipgloss.HiddenBorder()).
			BorderTop(false).BorderBottom(false).BorderLeft(false).BorderRight(false).
			StyleFunc(func(row, col int) lipgloss.Style { return cellStyle })
	}
	return t.String() + "\n"
}

func attrString(s *bspace.Site, key string) string {
	v, err := s.Attr(key)
	if err != nil {
		return "-"
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return "…"
	}
}
