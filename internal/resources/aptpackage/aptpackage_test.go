package aptpackage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g2p/systems/internal/resources/aptpackage"
	"github.com/g2p/systems/internal/typesystem"
)

func TestNew_RejectsInvalidPackageName(t *testing.T) {
	_, diags := aptpackage.New("Not A Valid Name!")
	assert.True(t, diags.HasErrors())
}

func TestNew_DefaultsToInstalled(t *testing.T) {
	p, diags := aptpackage.New("curl")
	require.Empty(t, diags)
	assert.Equal(t, "curl+", p.AptitudeString())
}

func TestAptitudeString_VersionOnlyAppliesWhenInstalled(t *testing.T) {
	p, diags := aptpackage.New("curl", aptpackage.WithVersion("7.81.0-1"))
	require.Empty(t, diags)
	assert.Equal(t, "curl=7.81.0-1+", p.AptitudeString())

	uninstall, diags := aptpackage.New("curl", aptpackage.WithVersion("7.81.0-1"), aptpackage.WithState("uninstalled"))
	require.Empty(t, diags)
	assert.Equal(t, "curl-", uninstall.AptitudeString(), "a version pin is meaningless once the package is being removed")
}

func TestAptitudeString_PurgedSuffix(t *testing.T) {
	p, diags := aptpackage.New("curl", aptpackage.WithState("purged"))
	require.Empty(t, diags)
	assert.Equal(t, "curl_", p.AptitudeString())
}

func TestCollector_FilterOnlyMatchesAptPackage(t *testing.T) {
	c := aptpackage.Collector{}
	p, diags := aptpackage.New("curl")
	require.Empty(t, diags)
	assert.True(t, c.Filter(p))
	assert.Equal(t, "AptPackageCollector", c.Name())
}

func TestCollector_CollectReturnsAnAggregate(t *testing.T) {
	c := aptpackage.Collector{}
	a, diags := aptpackage.New("a")
	require.Empty(t, diags)
	b, diags := aptpackage.New("b", aptpackage.WithState("purged"))
	require.Empty(t, diags)

	agg, diags := c.Collect([]typesystem.Resource{a, b})
	require.Empty(t, diags)
	require.NotNil(t, agg)
}
