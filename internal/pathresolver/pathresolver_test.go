package pathresolver_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/starterkit-studio/engine/internal/pathresolver"
)

func testResolver() *pathresolver.Resolver {
	return pathresolver.New(pathresolver.Roots{
		ProjectRoot: "/srv/studio",
		CoreBase:    "/srv/studio/core",
	})
}

func TestResolveSource_ModulesPrefix(t *testing.T) {
	r := testResolver()
	p, err := r.ResolveSource("modules/billing/stripe.ts")
	require.NoError(t, err)
	require.Equal(t, "/srv/studio/modules/billing/stripe.ts", p)
}

func TestResolveSource_LegacyPathUnderCoreBase(t *testing.T) {
	r := testResolver()
	p, err := r.ResolveSource("routes/billing.ts")
	require.NoError(t, err)
	require.Equal(t, "/srv/studio/core/routes/billing.ts", p)
}

func TestResolveSource_RejectsTraversal(t *testing.T) {
	r := testResolver()
	_, err := r.ResolveSource("../../etc/passwd")
	require.Error(t, err)

	var escapeErr *pathresolver.PathEscapeError
	require.ErrorAs(t, err, &escapeErr)
}

func TestResolveDestination_JoinsUnderProjectName(t *testing.T) {
	r := testResolver()
	p, err := r.ResolveDestination("my-app-pro", "backend/routes/billing.ts")
	require.NoError(t, err)
	require.Equal(t, "my-app-pro/backend/routes/billing.ts", p)
}

func TestResolveDestination_RejectsTraversal(t *testing.T) {
	r := testResolver()
	_, err := r.ResolveDestination("my-app-pro", "../../outside.ts")
	require.Error(t, err)

	var escapeErr *pathresolver.PathEscapeError
	require.ErrorAs(t, err, &escapeErr)
}

func TestResolveDestination_UsesForwardSlashAlways(t *testing.T) {
	r := testResolver()
	p, err := r.ResolveDestination("my-app", "a/b/c.ts")
	require.NoError(t, err)
	require.NotContains(t, p, `\`)
}
