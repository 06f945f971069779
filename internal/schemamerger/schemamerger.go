// Package schemamerger combines a base datamodel schema with per-feature
// schema fragments into one consolidated schema. It parses by block
// boundary only — generator/datasource/model/enum — using a small
// hand-written line scanner with brace-depth counting rather than a
// grammar.
package schemamerger

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"
)

// blockHeader matches a line opening a generator/datasource/model/enum
// block: the keyword, an identifier, and an opening brace.
var blockHeader = regexp.MustCompile(`^\s*(generator|datasource|model|enum)\s+(\w+)\s*\{`)

// Block is one parsed generator/datasource/model/enum declaration, verbatim
// including its header and closing brace line.
type Block struct {
	Kind string // "generator", "datasource", "model", "enum"
	Name string
	Text string // the full block text, header through closing brace
}

// Warning is a non-fatal event recorded during a merge.
type Warning struct {
	Kind    string // "SchemaDuplicate" or "MissingSource"
	Message string
}

// Result is the Schema Merger's output: a single text buffer plus the
// model/enum names in emission order.
type Result struct {
	Text     string
	Models   []string
	Enums    []string
	Warnings []Warning
}

// FragmentSource resolves a logical schema fragment path to its contents.
// The Assembly Engine supplies an implementation backed by the Path
// Resolver and filesystem; tests can supply an in-memory map.
type FragmentSource func(logicalPath string) (string, bool, error)

// Merge implements the merge contract: base generator/datasource first,
// then base models/enums in base order, then each feature's schema
// fragments in the caller-supplied (already §4.5-ordered) iteration order,
// first-occurrence-wins on duplicate names.
func Merge(baseSchema string, featureFragments [][]string, read FragmentSource) (*Result, error) {
	res := &Result{}
	emitted := make(map[string]bool) // "kind:name" -> true, for dedup

	baseBlocks, err := parseBlocks(baseSchema)
	if err != nil {
		return nil, fmt.Errorf("schema merger: parse base schema: %w", err)
	}

	var buf strings.Builder
	var gen, ds *Block
	for i := range baseBlocks {
		b := &baseBlocks[i]
		switch b.Kind {
		case "generator":
			if gen == nil {
				gen = b
			}
		case "datasource":
			if ds == nil {
				ds = b
			}
		}
	}

	if gen == nil {
		gen = &Block{Kind: "generator", Name: "client", Text: "generator client {\n  provider = \"prisma-client-js\"\n}"}
	}
	if ds == nil {
		ds = &Block{Kind: "datasource", Name: "db", Text: "datasource db {\n  provider = \"postgresql\"\n  url      = env(\"DATABASE_URL\")\n}"}
	}
	writeBlock(&buf, gen.Text)
	writeBlock(&buf, ds.Text)

	for i := range baseBlocks {
		b := &baseBlocks[i]
		if b.Kind != "model" && b.Kind != "enum" {
			continue
		}
		key := b.Kind + ":" + b.Name
		if emitted[key] {
			continue
		}
		emitted[key] = true
		writeBlock(&buf, b.Text)
		appendName(res, b)
	}

	for _, fragmentPaths := range featureFragments {
		for _, logical := range fragmentPaths {
			content, ok, rerr := read(logical)
			if rerr != nil {
				return nil, fmt.Errorf("schema merger: read fragment %s: %w", logical, rerr)
			}
			if !ok {
				res.Warnings = append(res.Warnings, Warning{
					Kind:    "MissingSource",
					Message: fmt.Sprintf("schema fragment not found: %s", logical),
				})
				continue
			}
			blocks, perr := parseBlocks(content)
			if perr != nil {
				return nil, fmt.Errorf("schema merger: parse fragment %s: %w", logical, perr)
			}
			for i := range blocks {
				b := &blocks[i]
				if b.Kind != "model" && b.Kind != "enum" {
					continue
				}
				key := b.Kind + ":" + b.Name
				if emitted[key] {
					res.Warnings = append(res.Warnings, Warning{
						Kind:    "SchemaDuplicate",
						Message: fmt.Sprintf("duplicate %s %q suppressed (from %s)", b.Kind, b.Name, logical),
					})
					continue
				}
				emitted[key] = true
				writeBlock(&buf, b.Text)
				appendName(res, b)
			}
		}
	}

	res.Text = buf.String()
	return res, nil
}

func appendName(res *Result, b *Block) {
	if b.Kind == "model" {
		res.Models = append(res.Models, b.Name)
	} else {
		res.Enums = append(res.Enums, b.Name)
	}
}

func writeBlock(buf *strings.Builder, text string) {
	if buf.Len() > 0 {
		buf.WriteString("\n\n")
	}
	buf.WriteString(text)
}

// parseBlocks scans schema text line by line, matching block headers and
// counting brace depth to find each block's closing line. It does not
// understand field syntax — only enough structure to find block
// boundaries and declared names, per the design's "no full grammar
// required" note.
func parseBlocks(text string) ([]Block, error) {
	var blocks []Block
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var current *Block
	var lines []string
	depth := 0

	flush := func() {
		if current != nil {
			current.Text = strings.Join(lines, "\n")
			blocks = append(blocks, *current)
			current = nil
			lines = nil
		}
	}

	for scanner.Scan() {
		line := scanner.Text()

		if current == nil {
			if m := blockHeader.FindStringSubmatch(line); m != nil {
				current = &Block{Kind: m[1], Name: m[2]}
				depth = 0
			} else {
				continue
			}
		}

		lines = append(lines, line)
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth <= 0 {
			flush()
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush() // tolerate an unterminated trailing block rather than erroring

	return blocks, nil
}

// Validate checks that every name in required appears among the merged
// models (by name, case-sensitive).
func Validate(res *Result, required []string) (valid bool, missing []string) {
	have := make(map[string]bool, len(res.Models))
	for _, m := range res.Models {
		have[m] = true
	}
	for _, r := range required {
		if !have[r] {
			missing = append(missing, r)
		}
	}
	return len(missing) == 0, missing
}
