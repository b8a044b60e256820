package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/jmerrifield20/ComplianceLedger/pkg/client"
	"gopkg.in/yaml.v3"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func validateFormat(f string) error {
	switch f {
	case formatText, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want text, json or yaml)", f)
}

// render writes v to w in the requested format.
func render(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return renderText(w, v)
}

func renderText(w io.Writer, v any) error {
	switch v := v.(type) {
	case *client.AppendResult:
		fmt.Fprintf(w, "✓ Entry appended\n\n")
		fmt.Fprintf(w, "  Sequence:  %d\n", v.Sequence)
		fmt.Fprintf(w, "  Hash:      %s\n", v.Hash)
		fmt.Fprintf(w, "  Prev hash: %s\n", v.PrevHash)
		return nil

	case []client.Entry:
		if len(v) == 0 {
			fmt.Fprintln(w, "ledger is empty")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SEQ\tHASH\tPREV\tPAYLOAD")
		for _, e := range v {
			payload, _ := json.Marshal(e.Payload)
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Sequence, short(e.Hash), short(e.PrevHash), payload)
		}
		return tw.Flush()

	case *client.Entry:
		payload, _ := json.MarshalIndent(v.Payload, "", "  ")
		fmt.Fprintf(w, "Sequence:  %d\n", v.Sequence)
		fmt.Fprintf(w, "Hash:      %s\n", v.Hash)
		fmt.Fprintf(w, "Prev hash: %s\n", v.PrevHash)
		fmt.Fprintf(w, "Payload:   %s\n", payload)
		return nil

	case *client.Overview:
		fmt.Fprintf(w, "Entries: %d\n", v.Entries)
		fmt.Fprintf(w, "Root:    %s\n", v.Root)
		return nil

	case *client.VerifyResult:
		if v.Valid {
			fmt.Fprintf(w, "✓ Chain intact (%d entries)\n", v.Length)
			return nil
		}
		if v.FailureIndex == nil {
			fmt.Fprintf(w, "✗ Chain invalid: %s\n", v.Reason)
			return nil
		}
		fmt.Fprintf(w, "✗ Chain invalid at index %d of %d: %s\n", *v.FailureIndex, v.Length, v.Reason)
		return nil
	}
	return fmt.Errorf("cannot render %T as text", v)
}

// short abbreviates a hex hash for tabular output.
func short(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}
