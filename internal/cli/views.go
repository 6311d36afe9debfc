package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/syncspace/internal/source"
	"github.com/roach88/syncspace/internal/space"
	"github.com/roach88/syncspace/internal/thing"
)

// thingView prints a Thing as canonical JSON in both formats.
type thingView struct {
	t *thing.Thing
}

func (v thingView) MarshalJSON() ([]byte, error) {
	return v.t.MarshalJSON()
}

func (v thingView) String() string {
	b, err := v.t.MarshalJSON()
	if err != nil {
		return v.t.String()
	}
	return string(b)
}

type holderRow struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Claims int    `json:"claims"`
}

type holdersView []holderRow

func newHoldersView(infos []space.HolderInfo) holdersView {
	rows := make(holdersView, len(infos))
	for i, h := range infos {
		rows[i] = holderRow{Name: h.Holder.Name, Kind: h.Holder.Kind.String(), Claims: h.Claims}
	}
	return rows
}

func (v holdersView) String() string {
	if len(v) == 0 {
		return "no holders"
	}
	var b strings.Builder
	for i, r := range v {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%-10s %-30s %d", r.Kind, r.Name, r.Claims)
	}
	return b.String()
}

type outcomeRow struct {
	Action   string          `json:"action"`
	Priority string          `json:"priority"`
	Status   string          `json:"status"`
	Error    string          `json:"error,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

type reportView struct {
	Outcomes []outcomeRow    `json:"outcomes"`
	Query    json.RawMessage `json:"query,omitempty"`
	QueryErr string          `json:"query_error,omitempty"`
}

func newReportView(rep *source.Report) reportView {
	v := reportView{Outcomes: make([]outcomeRow, len(rep.Outcomes))}
	for i, o := range rep.Outcomes {
		row := outcomeRow{
			Action:   o.Action.Name,
			Priority: o.Action.Priority.String(),
			Status:   o.Status.String(),
		}
		if o.Err != nil {
			row.Error = o.Err.Error()
		}
		if o.Result != nil {
			row.Result, _ = o.Result.MarshalJSON()
		}
		v.Outcomes[i] = row
	}
	if rep.Query != nil {
		v.Query, _ = rep.Query.MarshalJSON()
	}
	if rep.QueryErr != nil {
		v.QueryErr = rep.QueryErr.Error()
	}
	return v
}

func (v reportView) String() string {
	var b strings.Builder
	for i, o := range v.Outcomes {
		fmt.Fprintf(&b, "%d %s [%s] %s", i, o.Action, o.Priority, o.Status)
		if o.Error != "" {
			fmt.Fprintf(&b, ": %s", o.Error)
		}
		b.WriteByte('\n')
	}
	switch {
	case v.Query != nil:
		fmt.Fprintf(&b, "query: %s", v.Query)
	case v.QueryErr != "":
		fmt.Fprintf(&b, "query error: %s", v.QueryErr)
	default:
		b.WriteString("no query")
	}
	return b.String()
}
