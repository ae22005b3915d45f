package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv substitutes {{.VAR_NAME}} references in config content with
// environment variable values. The template syntax keeps literal $
// characters intact, which matters for config that embeds shell snippets
// ($PATH, ${ARRAY[0]}) or secrets containing $.
//
// Missing variables expand to the empty string; required-field checks in
// validation catch what must not stay empty. Content that fails to parse
// or execute as a template passes through unchanged so the YAML parser
// reports the real problem.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("maestro").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			env[key] = value
		}
	}

	var out bytes.Buffer
	if err := tmpl.Execute(&out, env); err != nil {
		return data
	}
	return out.Bytes()
}
