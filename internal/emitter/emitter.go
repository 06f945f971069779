// Package emitter renders the three bundled text artifacts — LICENSE.md,
// README.md, starter-config.json — as pure string functions of the order,
// the resolved feature set, and a single captured generation time.
package emitter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/starterkit-studio/engine/pkg/models"
)

// titleCase upper-cases the first rune of each whitespace/hyphen-separated
// word; good enough for tier names and category labels, which are
// catalog-authored short identifiers, not free text.
func titleCase(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '-' || r == '_' })
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// License renders LICENSE.md.
func License(order *models.Order, tierName string, generatedAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# License\n\n")
	fmt.Fprintf(&b, "License Key: %s\n", order.License.Key)
	fmt.Fprintf(&b, "Order Number: %s\n", order.OrderNumber)
	fmt.Fprintf(&b, "Customer: %s", order.CustomerEmail)
	if order.CustomerName != "" {
		fmt.Fprintf(&b, " (%s)", order.CustomerName)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Tier: %s\n", titleCase(tierName))
	fmt.Fprintf(&b, "Issued: %s\n\n", generatedAt.UTC().Format("2006-01-02"))
	b.WriteString(licenseBody)
	return b.String()
}

const licenseBody = `This software package was generated specifically for the licensee named
above and is provided under a single-project, non-transferable license.
The licensee may use, modify, and deploy the generated source for one
production project. Redistribution of the generated source, in whole or in
part, as a standalone product or template is not permitted.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
`

// README renders README.md, listing resolved features grouped by category
// in §4.5 order within each group.
func README(order *models.Order, templateName, tierName string, features []models.Feature, generatedAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", templateName)
	fmt.Fprintf(&b, "Generated for order `%s` on tier **%s**.\n\n", order.OrderNumber, titleCase(tierName))
	fmt.Fprintf(&b, "Generated at: %s\n\n", generatedAt.UTC().Format(time.RFC3339))
	b.WriteString("## Included Features\n\n")

	groups := groupByCategory(features)
	for _, g := range groups {
		fmt.Fprintf(&b, "### %s\n\n", titleCase(g.category))
		for _, f := range g.features {
			fmt.Fprintf(&b, "- **%s** — %s\n", f.Name, f.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

type categoryGroup struct {
	category string
	features []models.Feature
}

// groupByCategory preserves the §4.5 order within each group and orders
// the groups themselves by first appearance, since features[] already
// arrives sorted by (category, slug).
func groupByCategory(features []models.Feature) []categoryGroup {
	index := make(map[string]int)
	var groups []categoryGroup
	for _, f := range features {
		if i, ok := index[f.Category]; ok {
			groups[i].features = append(groups[i].features, f)
			continue
		}
		index[f.Category] = len(groups)
		groups = append(groups, categoryGroup{category: f.Category, features: []models.Feature{f}})
	}
	return groups
}

// starterConfig is the canonical shape written by Config. Field order here
// controls JSON key order via struct declaration order, so fields are
// declared in sorted key order: features, generatedAt, license, template,
// tier.
type starterConfig struct {
	Features  []string       `json:"features"`
	Generated string         `json:"generatedAt"`
	License   starterLicense `json:"license"`
	Template  *string        `json:"template"`
	Tier      string         `json:"tier"`
}

type starterLicense struct {
	CustomerEmail string `json:"customerEmail"`
	IssuedAt      string `json:"issuedAt"`
	Key           string `json:"key"`
	OrderNumber   string `json:"orderNumber"`
}

// Config renders starter-config.json: canonical JSON, sorted object keys,
// 2-space indent, trailing newline. Go's encoding/json already emits struct
// fields in declaration order and sorts map keys; starterConfig's fields
// are declared in sorted key order and it carries no maps, so no extra
// canonicalization pass is needed here.
func Config(order *models.Order, templateSlug string, features []models.Feature, generatedAt time.Time) (string, error) {
	var tmplPtr *string
	if templateSlug != "" {
		tmplPtr = &templateSlug
	}

	cfg := starterConfig{
		Tier:     order.Tier,
		Template: tmplPtr,
		Features: resolvedOrderSlugs(features),
		License: starterLicense{
			Key:           order.License.Key,
			IssuedAt:      generatedAt.UTC().Format(time.RFC3339),
			OrderNumber:   order.OrderNumber,
			CustomerEmail: order.CustomerEmail,
		},
		Generated: generatedAt.UTC().Format(time.RFC3339),
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return "", fmt.Errorf("emitter: encode starter-config.json: %w", err)
	}
	return buf.String(), nil
}

// resolvedOrderSlugs preserves §4.5 order (features is already sorted by
// the Feature Resolver); this exists only to name the intent at the call
// site.
func resolvedOrderSlugs(features []models.Feature) []string {
	out := make([]string, len(features))
	for i, f := range features {
		out[i] = f.Slug
	}
	return out
}
