package ledger

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

// PrintRunsTable renders the run history for `semrel runs`.
func PrintRunsTable(w io.Writer, runs []Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "RUN\tCHANNEL\tBRANCH\tVERSION\tSTATUS\tOWNER\tUPDATED")
	for _, r := range runs {
		version := r.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID,
			r.Channel,
			r.Branch,
			version,
			strings.ToUpper(r.Status),
			r.Owner,
			r.UpdatedAt.Format(time.RFC3339),
		)
	}
	return nil
}

// DefaultOwner identifies the invoking process as user@host:pid.
func DefaultOwner() string {
	host, _ := os.Hostname()
	host = strings.TrimSpace(host)
	if host == "" {
		host = "unknown-host"
	}
	pid := os.Getpid()

	u, _ := user.Current()
	if u != nil && strings.TrimSpace(u.Username) != "" {
		return strings.TrimSpace(u.Username) + "@" + host + ":" + strconv.Itoa(pid)
	}
	return host + ":" + strconv.Itoa(pid)
}
