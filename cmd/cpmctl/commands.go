package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/cpm"
)

func runImportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("import", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var key, file string
	cmd.StringVar(&key, "key", "", "Product key to store the model under (REQUIRED)")
	cmd.StringVar(&file, "file", "", "CPM document, JSON or YAML (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if key == "" || file == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -key and -file are required")
		return 2
	}

	m, code := readModel(file, stderr)
	if m == nil {
		return code
	}
	store, closeFn, code := openStore(stderr)
	if store == nil {
		return code
	}
	defer closeFn()

	saved, err := store.Save(context.Background(), key, m)
	if err != nil {
		return reportErr(stderr, "save", err)
	}
	_, _ = fmt.Fprintf(stdout, "imported %s: %d steps, %d fields\n", saved.ProductKey, len(saved.Steps), len(saved.Fields()))
	return 0
}

func runGetCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("get", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var key string
	cmd.StringVar(&key, "key", "", "Product key (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if key == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -key is required")
		return 2
	}

	store, closeFn, code := openStore(stderr)
	if store == nil {
		return code
	}
	defer closeFn()

	m, err := store.Load(context.Background(), key)
	if err != nil {
		return reportErr(stderr, "load", err)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return reportErr(stderr, "encode", err)
	}
	return 0
}

func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var file string
	cmd.StringVar(&file, "file", "", "CPM document, JSON or YAML (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if file == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -file is required")
		return 2
	}
	m, code := readModel(file, stderr)
	if m == nil {
		return code
	}
	_, _ = fmt.Fprintf(stdout, "ok: %s (%d steps, %d required fields)\n", m.ProductKey, len(m.Steps), len(m.RequiredFields()))
	return 0
}

func readModel(file string, stderr io.Writer) (*cpm.Model, int) {
	raw, err := os.ReadFile(file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, 2
	}
	doc := raw
	if isYAML(file) {
		if doc, err = yamlToJSON(raw); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %s: %v\n", file, err)
			return nil, 1
		}
	}
	m, err := cpm.Parse(doc)
	if err != nil {
		return nil, reportErr(stderr, file, err)
	}
	return m, 0
}

func openStore(stderr io.Writer) (*cpm.Store, func() error, int) {
	blobs, closeFn, err := openBlobs()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open blob store: %v\n", err)
		return nil, nil, 2
	}
	store, err := cpm.NewStore(blobs, 1, nil)
	if err != nil {
		_ = closeFn()
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, nil, 2
	}
	return store, closeFn, 0
}

func reportErr(stderr io.Writer, what string, err error) int {
	_, _ = fmt.Fprintf(stderr, "Error: %s: %v\n", what, err)
	if errors.Is(err, cpm.ErrInvalidModel) || errors.Is(err, cpm.ErrNoProcessModel) {
		return 1
	}
	return 2
}

func isYAML(file string) bool {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a YAML document as JSON so it goes through the
// same schema check as stored documents.
func yamlToJSON(raw []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if _, ok := v.(map[string]any); !ok {
		return nil, fmt.Errorf("parse yaml: document must be a mapping")
	}
	return json.Marshal(v)
}
