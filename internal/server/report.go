package server

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// handleCountsReport renders the per-class crossing totals as a
// self-contained HTML bar chart.
func (s *Server) handleCountsReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}

	sessionID := s.sessionParam(r)
	totals, err := s.store.CountsByClass(sessionID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to query counts")
		return
	}

	classes := make([]string, 0, len(totals))
	inData := make([]opts.BarData, 0, len(totals))
	outData := make([]opts.BarData, 0, len(totals))
	for _, t := range totals {
		classes = append(classes, t.Class)
		inData = append(inData, opts.BarData{Value: t.In})
		outData = append(outData, opts.BarData{Value: t.Out})
	}

	scope := sessionID
	if scope == "" {
		scope = "all sessions"
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Traffic Counts",
			Width:     "1100px",
			Height:    "550px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Vehicle Crossings by Class",
			Subtitle: fmt.Sprintf("%s | generated %s", scope, time.Now().Format("2 Jan 2006 15:04:05")),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	bar.SetXAxis(classes).
		AddSeries("In", inData, charts.WithLabelOpts(opts.Label{
			Show:     opts.Bool(true),
			Position: "top",
		})).
		AddSeries("Out", outData, charts.WithLabelOpts(opts.Label{
			Show:     opts.Bool(true),
			Position: "top",
		}))

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to render chart")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
