// Command risk-audit classifies clients from a contact-log CSV export
// without touching the database.
package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/soaringjerry/Pulse/internal/calendar"
	"github.com/soaringjerry/Pulse/internal/config"
	"github.com/soaringjerry/Pulse/internal/services"
)

type row struct {
	services.RiskAssessment
	Age string `json:"age"`
}

type report struct {
	AsOf        string             `json:"as_of"`
	Clients     int                `json:"clients"`
	InvalidRows int                `json:"invalid_rows"`
	Tally       services.RiskTally `json:"tally"`
	Rows        []row              `json:"rows"`
}

func main() {
	input := flag.String("input", "", "Path to contact log CSV (client_id, date, channel, note)")
	asOf := flag.String("as-of", "", "Audit date (YYYY-MM-DD); default today")
	policyFile := flag.String("policy", "", "Optional engine policy YAML")
	minTier := flag.String("min-tier", "watch", "Lowest tier listed in alerts (ok, watch, unknown, at_risk)")
	jsonOut := flag.String("json", "", "Optional JSON report path")
	alertsOut := flag.String("alerts", "", "Optional CSV of clients at or above -min-tier")
	flag.Parse()

	if *input == "" {
		exitWithError(errors.New("-input is required"))
	}
	today := calendar.Today(time.Local)
	if *asOf != "" {
		d, err := calendar.Parse(*asOf)
		if err != nil {
			exitWithError(fmt.Errorf("invalid -as-of: %w", err))
		}
		today = d
	}
	floor, ok := services.ParseRiskTier(*minTier)
	if !ok {
		exitWithError(fmt.Errorf("invalid -min-tier %q", *minTier))
	}
	policy, err := config.LoadPolicy(*policyFile)
	if err != nil {
		exitWithError(err)
	}
	engine, err := services.NewEngine(policy)
	if err != nil {
		exitWithError(err)
	}

	f, err := os.Open(*input)
	if err != nil {
		exitWithError(err)
	}
	events, invalid, err := readContactLog(f)
	_ = f.Close()
	if err != nil {
		exitWithError(err)
	}

	rep := buildReport(engine.Risk, events, invalid, today)
	printReport(os.Stdout, rep)

	if *jsonOut != "" {
		b, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			exitWithError(err)
		}
		if err := os.WriteFile(*jsonOut, b, 0o644); err != nil {
			exitWithError(err)
		}
		fmt.Printf("\nJSON report saved to %s\n", *jsonOut)
	}
	if *alertsOut != "" {
		out, err := os.Create(*alertsOut)
		if err != nil {
			exitWithError(err)
		}
		n, werr := writeAlerts(out, rep, floor)
		if cerr := out.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			exitWithError(werr)
		}
		fmt.Printf("%d alerts saved to %s\n", n, *alertsOut)
	}
}

// readContactLog parses the CSV. Headers are matched loosely; rows without a
// client id or with an unreadable date are counted as invalid and skipped.
func readContactLog(r io.Reader) ([]services.ContactEvent, int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	find := func(names ...string) int {
		for _, n := range names {
			if i, ok := cols[n]; ok {
				return i
			}
		}
		return -1
	}
	idIdx := find("client_id", "clientid", "client")
	dateIdx := find("date", "occurred_at", "contact_date", "contacted_at")
	if idIdx < 0 {
		return nil, 0, errors.New("missing client_id column")
	}
	if dateIdx < 0 {
		return nil, 0, errors.New("missing date column")
	}
	channelIdx := find("channel", "method")
	noteIdx := find("note", "notes")

	var events []services.ContactEvent
	invalid := 0
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, invalid, fmt.Errorf("read csv: %w", err)
		}
		id := field(rec, idIdx)
		d, derr := calendar.Parse(field(rec, dateIdx))
		if id == "" || derr != nil {
			invalid++
			continue
		}
		events = append(events, services.ContactEvent{
			ClientID:   id,
			OccurredAt: d,
			Channel:    field(rec, channelIdx),
			Note:       field(rec, noteIdx),
		})
	}
	return events, invalid, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func buildReport(m *services.RiskMonitor, events []services.ContactEvent, invalid int, today calendar.Date) report {
	list := m.ClassifyLog(events, nil, today)
	rep := report{
		AsOf:        today.String(),
		Clients:     len(list),
		InvalidRows: invalid,
		Tally:       services.Tally(list),
		Rows:        make([]row, 0, len(list)),
	}
	for _, a := range list {
		rep.Rows = append(rep.Rows, row{RiskAssessment: a, Age: age(a, today)})
	}
	return rep
}

func age(a services.RiskAssessment, today calendar.Date) string {
	if a.LastContact.IsZero() {
		return "never"
	}
	if a.DaysSince != nil && *a.DaysSince == 0 {
		return "today"
	}
	return humanize.RelTime(a.LastContact.Time(), today.Time(), "ago", "ahead")
}

func printReport(w io.Writer, rep report) {
	fmt.Fprintln(w, "Pulse contact risk audit")
	fmt.Fprintln(w, strings.Repeat("=", 32))
	fmt.Fprintf(w, "As of: %s\n", rep.AsOf)
	fmt.Fprintf(w, "Clients: %s\n", humanize.Comma(int64(rep.Clients)))
	fmt.Fprintf(w, "OK: %d | Watch: %d | At risk: %d | Unknown: %d\n",
		rep.Tally.OK, rep.Tally.Watch, rep.Tally.AtRisk, rep.Tally.Unknown)
	if rep.InvalidRows > 0 {
		fmt.Fprintf(w, "Invalid rows skipped: %d\n", rep.InvalidRows)
	}
	fmt.Fprintln(w)
	for _, r := range rep.Rows {
		mark := ""
		if r.LowConfidence {
			mark = " (check date)"
		}
		fmt.Fprintf(w, "%-8s %s | last %s, %s%s\n", r.Tier, r.ClientID, r.LastContact.String(), r.Age, mark)
	}
}

// writeAlerts writes the rows at or above floor and returns how many.
func writeAlerts(w io.Writer, rep report, floor services.RiskTier) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"client_id", "tier", "last_contact", "days_since", "age"}); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range rep.Rows {
		if !r.Tier.AtLeast(floor) {
			continue
		}
		days := ""
		if r.DaysSince != nil {
			days = strconv.Itoa(*r.DaysSince)
		}
		if err := cw.Write([]string{r.ClientID, string(r.Tier), r.LastContact.String(), days, r.Age}); err != nil {
			return n, err
		}
		n++
	}
	cw.Flush()
	return n, cw.Error()
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "risk-audit: %v\n", err)
	os.Exit(1)
}
