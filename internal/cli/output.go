package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Printer renders run results for humans. Colors are used only when the
// writer is a terminal and NO_COLOR is unset.
type Printer struct {
	w       io.Writer
	profile termenv.Profile
}

// NewPrinter creates a Printer for w.
func NewPrinter(w io.Writer) *Printer {
	profile := termenv.Ascii
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		profile = termenv.EnvColorProfile()
	}
	return &Printer{w: w, profile: profile}
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer { return p.w }

func (p *Printer) color(s, hex string) string {
	return p.profile.String(s).Foreground(p.profile.Color(hex)).String()
}

func (p *Printer) bold(s string) string {
	return p.profile.String(s).Bold().String()
}

// Status colors a run status.
func (p *Printer) Status(s domain.RunStatus) string {
	switch s {
	case domain.StatusCompleted:
		return p.color(string(s), "#22c55e")
	case domain.StatusSuspended:
		return p.color(string(s), "#eab308")
	case domain.StatusFailed:
		return p.color(string(s), "#ef4444")
	default:
		return p.color(string(s), "#60a5fa")
	}
}

// Banner prints the product banner.
func (p *Printer) Banner() {
	lines := []struct{ text, hex string }{
		{`                            _`, "#818cf8"},
		{` _ __   ___ _ __ __ _  ___ | | __ _`, "#a78bfa"},
		{`| '_ \ / _ \ '__/ _' |/ _ \| |/ _' |`, "#c084fc"},
		{`| |_) |  __/ | | (_| | (_) | | (_| |`, "#e879f9"},
		{`| .__/ \___|_|  \__, |\___/|_|\__,_|`, "#f472b6"},
		{`|_|             |___/`, "#fb7185"},
	}
	fmt.Fprintln(p.w)
	for _, l := range lines {
		fmt.Fprintln(p.w, p.color(l.text, l.hex))
	}
	fmt.Fprintln(p.w)
}

// Result prints the outcome of a start or resume.
func (p *Printer) Result(res *pergola.Result) {
	fmt.Fprintf(p.w, "run %s %s at step %d", p.bold(res.RunID), p.Status(res.Status), res.Step)
	if res.Status == domain.StatusSuspended {
		fmt.Fprintf(p.w, " before %q (%s)", res.Next, res.Reason)
	}
	fmt.Fprintln(p.w)
	p.State(res.State)
}

// Snapshot prints one checkpoint.
func (p *Printer) Snapshot(s *pergola.Snapshot) {
	fmt.Fprintf(p.w, "run %s step %d %s next=%s", p.bold(s.RunID), s.Step, p.Status(s.Status), s.Next)
	if s.Interrupted {
		fmt.Fprintf(p.w, " interrupted=%s", s.Reason)
	}
	fmt.Fprintln(p.w)
	p.State(s.State)
}

// State prints one line per field in key order.
func (p *Printer) State(s domain.State) {
	for _, k := range s.Keys() {
		fmt.Fprintf(p.w, "  %s = %s\n", k, formatValue(s[k]))
	}
}

// History prints checkpoints as a table.
func (p *Printer) History(history []*pergola.Snapshot) {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tNEXT\tPHASE\tSTATUS\tREASON\tCREATED")
	for _, s := range history {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", s.Step, s.Next, s.Phase, s.Status, s.Reason, s.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	_ = tw.Flush()
}

// Diff prints the fields a patch changed.
func (p *Printer) Diff(d *domain.StateDiff) {
	if d.IsEmpty() {
		fmt.Fprintf(p.w, "run %s step %d: no changes\n", d.RunID, d.Step)
		return
	}
	fmt.Fprintf(p.w, "run %s step %d patched:\n", d.RunID, d.Step)
	p.State(domain.State(d.Changed))
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatValue(v any) string {
	switch v.(type) {
	case map[string]any, []any, domain.State:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
	case string:
		return fmt.Sprintf("%q", v)
	}
	return fmt.Sprint(v)
}
