package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"

	"github.com/leapstack-labs/fmdata/internal/cli/output"
	"github.com/leapstack-labs/fmdata/pkg/orm"
)

// recordDoc flattens one record into a JSON-friendly map. Prefetched
// portal rows nest under the portal's accessor name.
func recordDoc(rec *orm.Record) map[string]any {
	doc := map[string]any{
		"record_id": rec.RecordID(),
		"mod_id":    rec.ModID(),
	}
	for name, v := range rec.Values() {
		doc[name] = jsonValue(v)
	}
	for _, name := range rec.Model().PortalNames() {
		ps, err := rec.Portal(name)
		if err != nil {
			continue
		}
		rows, err := ps.Prefetched()
		if err != nil {
			// Not prefetched by this query.
			continue
		}
		recs, err := rows.Records()
		if err != nil {
			continue
		}
		docs := make([]map[string]any, 0, len(recs))
		for _, row := range recs {
			docs = append(docs, recordDoc(row))
		}
		doc[name] = docs
	}
	return doc
}

func jsonValue(v any) any {
	switch w := v.(type) {
	case time.Time:
		return w.Format(time.RFC3339)
	case decimal.Decimal:
		return w.String()
	default:
		return v
	}
}

// renderRecords renders decoded records in the effective output mode:
// a JSON document list, or a table with one column per model field.
func renderRecords(r *output.Renderer, model *orm.Model, recs []*orm.Record) error {
	if r.EffectiveMode() == output.ModeJSON {
		docs := make([]map[string]any, 0, len(recs))
		for _, rec := range recs {
			docs = append(docs, recordDoc(rec))
		}
		return r.JSON(map[string]any{"count": len(recs), "records": docs})
	}

	fields := model.FieldNames()
	header := table.Row{"record_id"}
	for _, name := range fields {
		header = append(header, name)
	}

	tab := r.Table()
	tab.AppendHeader(header)
	for _, rec := range recs {
		row := table.Row{rec.RecordID()}
		for _, name := range fields {
			v, err := rec.Get(name)
			if err != nil {
				return err
			}
			row = append(row, displayValue(v))
		}
		tab.AppendRow(row)
	}
	if r.EffectiveMode() == output.ModeMarkdown {
		tab.RenderMarkdown()
		return nil
	}
	tab.Render()
	return nil
}

// displayValue renders one decoded value for a table cell.
func displayValue(v any) string {
	switch w := v.(type) {
	case nil:
		return ""
	case string:
		return w
	case bool:
		if w {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(w, 10)
	case float64:
		return strconv.FormatFloat(w, 'f', -1, 64)
	case time.Time:
		if w.Hour() == 0 && w.Minute() == 0 && w.Second() == 0 {
			return w.Format("2006-01-02")
		}
		return w.Format("2006-01-02 15:04:05")
	case decimal.Decimal:
		return w.String()
	default:
		return fmt.Sprint(w)
	}
}
