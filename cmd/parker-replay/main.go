// Command parker-replay prints recorded parking runs as JSON lines.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"autopark/parker/internal/logging"
	"autopark/parker/internal/replay"
)

func main() {
	path := flag.String("path", "", "Path to a run bundle directory or its manifest.json")
	list := flag.String("list", "", "Directory to scan for completed run bundles")
	flag.Parse()
	logging.ReplaceGlobals(logging.NewWithWriters(logging.WarnLevel, os.Stderr))

	var err error
	switch {
	case *list != "":
		err = printCatalog(os.Stdout, *list)
	case *path != "":
		err = printBundle(os.Stdout, *path)
	default:
		fmt.Fprintln(os.Stderr, "either -path or -list is required")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
}

func printCatalog(w io.Writer, root string) error {
	entries, err := replay.List(root)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return err
		}
	}
	return nil
}

// printBundle emits one summary line followed by the run timeline with events
// and pose frames tagged by kind.
func printBundle(w io.Writer, path string) error {
	bundle, err := replay.ReadBundle(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	summary := struct {
		Kind     string          `json:"kind"`
		Manifest replay.Manifest `json:"manifest"`
		Header   *replay.Header  `json:"header,omitempty"`
		Events   int             `json:"events"`
		Frames   int             `json:"frames"`
	}{"bundle", bundle.Manifest, bundle.Header, len(bundle.Events), len(bundle.Frames)}
	if err := enc.Encode(summary); err != nil {
		return err
	}
	for _, event := range bundle.Events {
		if err := enc.Encode(struct {
			Kind string `json:"kind"`
			replay.Event
		}{"event", event}); err != nil {
			return err
		}
	}
	for _, frame := range bundle.Frames {
		if err := enc.Encode(struct {
			Kind string `json:"kind"`
			replay.Frame
		}{"frame", frame}); err != nil {
			return err
		}
	}
	return nil
}
