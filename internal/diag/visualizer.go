package diag

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/comalice/tickx"
)

// ExportDOT generates Graphviz DOT source showing which modules listen to
// which kinds, at what priority, and who won each arbiter last.
func ExportDOT(snap tickx.Snapshot) string {
	var buf bytes.Buffer
	buf.WriteString(`digraph Engine {
  rankdir=LR;
  node [shape=box, fontsize=10, style=rounded];
  edge [fontsize=9];
`)

	seen := make(map[tickx.ModuleID]bool)
	for _, m := range snap.Modules {
		seen[m.ID] = true
		style := ` style="rounded,filled" fillcolor=lightgrey`
		if m.Enabled {
			style = ` style="rounded,filled" fillcolor=lightgreen`
		}
		fmt.Fprintf(&buf, "  %q [label=%q%s];\n", moduleNode(m.ID), string(m.ID), style)
	}
	// Owners outside the module registry, such as sequence drivers.
	for _, l := range snap.Listeners {
		if !seen[l.Owner] {
			seen[l.Owner] = true
			fmt.Fprintf(&buf, "  %q [label=%q style=dashed];\n", moduleNode(l.Owner), string(l.Owner))
		}
	}

	for _, k := range snap.Kinds {
		label := fmt.Sprintf("%s\\n%d dispatches", k.Kind, k.Dispatches)
		fmt.Fprintf(&buf, "  %q [label=\"%s\" shape=ellipse];\n", kindNode(k.Kind), label)
	}

	for _, a := range snap.Arbiters {
		label := fmt.Sprintf("%s = %s", a.Name, a.Current)
		fmt.Fprintf(&buf, "  %q [label=%q shape=diamond];\n", arbiterNode(a.Name), label)
	}

	for _, l := range snap.Listeners {
		fmt.Fprintf(&buf, "  %q -> %q [label=\"%d\"];\n", moduleNode(l.Owner), kindNode(l.Kind), l.Priority)
	}
	for _, a := range snap.Arbiters {
		if a.PreviousWinner != "" {
			fmt.Fprintf(&buf, "  %q -> %q [style=bold label=\"won\"];\n", moduleNode(a.PreviousWinner), arbiterNode(a.Name))
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

// ExportJSON serializes the snapshot to indented JSON.
func ExportJSON(snap tickx.Snapshot) ([]byte, error) {
	return json.MarshalIndent(snap, "", "  ")
}

func moduleNode(id tickx.ModuleID) string { return "module:" + string(id) }
func kindNode(k tickx.Kind) string        { return "kind:" + string(k) }
func arbiterNode(name string) string      { return "arbiter:" + name }
