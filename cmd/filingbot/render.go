package main

import (
	"fmt"
	"strings"
	"time"

	"filingbot/discovery"
	"filingbot/dispatch"
	"filingbot/orchestrator"
	"filingbot/types"
)

func renderRun(s orchestrator.RunSummary) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Run %s", s.ID)))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render(s.Plan) + " " +
		infoStyle.Render(fmt.Sprintf("%s, %s", s.Trigger, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))))
	b.WriteString("\n")

	var lines []string
	for _, st := range s.Sources {
		lines = append(lines, renderStats(st))
	}
	lines = append(lines, renderDispatch(s.Dispatch))
	b.WriteString(boxStyle.Render(strings.Join(lines, "\n")))
	b.WriteString("\n")

	switch {
	case s.Error != "":
		b.WriteString(errorStyle.Render("✗ " + s.Error))
	case s.Killed:
		b.WriteString(warnStyle.Render("■ stopped by kill switch"))
	default:
		b.WriteString(statusStyle.Render(fmt.Sprintf("✓ %d enqueued", s.Dispatch.Enqueued)))
	}
	b.WriteString("\n")
	return b.String()
}

func renderStats(st discovery.Stats) string {
	line := fmt.Sprintf("%-16s seen %4d  kept %4d  stale %4d  filtered %4d  dup %4d",
		st.Source, st.Enumerated, st.Kept, st.Stale, st.Filtered+st.Denied+st.Unclassified, st.Duplicate)
	if st.Errors > 0 {
		return line + "  " + errorStyle.Render(fmt.Sprintf("errors %d", st.Errors))
	}
	return line
}

func renderDispatch(d dispatch.Summary) string {
	line := fmt.Sprintf("%-16s in %4d  known %3d  claimed %3d  enqueued %4d",
		"dispatch", d.Discovered, d.Deduplicated, d.ClaimedElsewhere, d.Enqueued)
	if d.Errors > 0 {
		line += "  " + errorStyle.Render(fmt.Sprintf("errors %d", d.Errors))
	}
	if len(d.FailedKeys) > 0 {
		line += "\n" + infoStyle.Render("failed: "+strings.Join(d.FailedKeys, ", "))
	}
	return line
}

func renderCandidates(cands []types.FilingCandidate, stats []discovery.Stats) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%d candidates", len(cands))))
	b.WriteString("\n")
	var lines []string
	for _, st := range stats {
		lines = append(lines, renderStats(st))
	}
	if len(lines) > 0 {
		b.WriteString(boxStyle.Render(strings.Join(lines, "\n")))
		b.WriteString("\n")
	}
	for _, c := range cands {
		fmt.Fprintf(&b, "%s  %-8s %s  %s  %s\n",
			c.AccessionNumber, c.FormType, c.FilingDate.Format("2006-01-02"), c.SubjectCIK,
			infoStyle.Render(c.Source))
	}
	return b.String()
}

func renderCheck(label string, keys []string, found map[string]struct{}) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s: %d of %d", label, len(found), len(keys))))
	b.WriteString("\n")
	for _, k := range keys {
		if _, ok := found[k]; ok {
			b.WriteString(statusStyle.Render("✓ " + k))
		} else {
			b.WriteString(infoStyle.Render("· " + k))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderOutcomes(msgs []types.ParseJobMessage, results []error) string {
	var b strings.Builder
	failed := 0
	for i, m := range msgs {
		if results[i] != nil {
			failed++
			b.WriteString(errorStyle.Render(fmt.Sprintf("✗ %s  %v", m.IdempotencyKey, results[i])))
		} else {
			b.WriteString(statusStyle.Render("✓ " + m.IdempotencyKey))
		}
		b.WriteString("\n")
	}
	summary := fmt.Sprintf("%d settled, %d to retry", len(msgs)-failed, failed)
	return titleStyle.Render(summary) + "\n" + b.String()
}
