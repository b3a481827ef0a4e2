package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/monitorhub/dispatcher/internal/dispatch"
	"github.com/monitorhub/dispatcher/internal/storage"
)

// recordView is the JSON shape of a failure record.
type recordView struct {
	CheckName   string    `json:"check_name"`    //nolint: tagliatelle
	FailureKind string    `json:"failure_kind"`  //nolint: tagliatelle
	Digest      string    `json:"digest"`
	FirstSeenAt time.Time `json:"first_seen_at"` //nolint: tagliatelle
	Detail      string    `json:"detail"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func writeReport(w io.Writer, format string, report *dispatch.Report) error {
	if format == "json" {
		return writeJSON(w, report)
	}

	_, _ = fmt.Fprintf(w, "run %s: checked=%d passed=%d notified=%d suppressed=%d errored=%d skipped=%d\n",
		report.RunID, report.Checked, report.Passed, report.Notified, report.Suppressed,
		report.Errored, report.Skipped)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	for _, res := range report.Results {
		note := res.Detail
		if res.Error != "" {
			note = res.Error
		}

		_, _ = fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", res.Check, res.Status, res.Kind, note)
	}

	return tw.Flush()
}

func writeRecords(w io.Writer, format string, records []storage.FailureRecord) error {
	views := make([]recordView, 0, len(records))
	for _, r := range records {
		views = append(views, recordView{
			CheckName:   r.CheckName,
			FailureKind: r.FailureKind,
			Digest:      hex.EncodeToString(r.FailureDigest),
			FirstSeenAt: r.FirstSeenAt.UTC(),
			Detail:      r.DetailText,
		})
	}

	if format == "json" {
		return writeJSON(w, views)
	}

	if len(views) == 0 {
		_, _ = fmt.Fprintln(w, "No failure records.")

		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "FIRST SEEN\tCHECK\tKIND\tDIGEST\tDETAIL")

	for _, v := range views {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			v.FirstSeenAt.Format(time.RFC3339), v.CheckName, v.FailureKind, v.Digest, v.Detail)
	}

	return tw.Flush()
}
