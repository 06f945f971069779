package emitter_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/starterkit-studio/engine/internal/emitter"
	"github.com/starterkit-studio/engine/pkg/models"
)

func sampleOrder() *models.Order {
	return &models.Order{
		OrderNumber:   "SK-1001",
		Tier:          "pro",
		CustomerEmail: "dev@example.com",
		CustomerName:  "Dev Example",
		License:       models.License{Key: "LIC-ABC-123"},
	}
}

func TestLicense_IncludesOrderAndCustomer(t *testing.T) {
	text := emitter.License(sampleOrder(), "pro", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	require.Contains(t, text, "LIC-ABC-123")
	require.Contains(t, text, "SK-1001")
	require.Contains(t, text, "dev@example.com")
	require.Contains(t, text, "Dev Example")
	require.Contains(t, text, "Pro")
}

func TestREADME_GroupsFeaturesByCategoryInOrder(t *testing.T) {
	features := []models.Feature{
		{Slug: "billing", Name: "Billing", Description: "Stripe checkout", Category: "commerce"},
		{Slug: "invoicing", Name: "Invoicing", Description: "PDF invoices", Category: "commerce"},
		{Slug: "auth", Name: "Auth", Description: "Email/password login", Category: "core"},
	}
	text := emitter.README(sampleOrder(), "SaaS Starter", "pro", features, time.Now().UTC())

	billingIdx := indexOf(text, "Billing")
	invoicingIdx := indexOf(text, "Invoicing")
	authIdx := indexOf(text, "Auth")
	require.True(t, billingIdx < invoicingIdx)
	require.True(t, invoicingIdx < authIdx)
	require.Contains(t, text, "### Commerce")
	require.Contains(t, text, "### Core")
}

func TestConfig_RendersCanonicalJSON(t *testing.T) {
	features := []models.Feature{{Slug: "billing"}, {Slug: "auth"}}
	out, err := emitter.Config(sampleOrder(), "saas", features, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Contains(t, out, `"tier": "pro"`)
	require.Contains(t, out, `"template": "saas"`)
	require.Contains(t, out, `"billing"`)
	require.Contains(t, out, `"auth"`)
	require.Contains(t, out, `"key": "LIC-ABC-123"`)
}

func TestConfig_NilTemplateWhenEmpty(t *testing.T) {
	out, err := emitter.Config(sampleOrder(), "", nil, time.Now().UTC())
	require.NoError(t, err)
	require.Contains(t, out, `"template": null`)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
