package ascend_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascend-db/ascend"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		label string
		want  string
		ok    bool
	}{
		{"1", "1", true},
		{"1.2.3", "1.2.3", true},
		{" 2.10 ", "2.10", true},
		{"0", "0", true},
		{"", "", false},
		{"1..2", "", false},
		{"1.-2", "", false},
		{"v1", "", false},
		{"1.2a", "", false},
	}
	for _, tt := range tests {
		v, err := ascend.ParseVersion(tt.label)
		if !tt.ok {
			assert.Error(t, err, tt.label)
			continue
		}
		require.NoError(t, err, tt.label)
		assert.Equal(t, tt.want, v.String())
	}
}

func TestVersionOrdering(t *testing.T) {
	ordered := []string{"0", "0.1", "1", "1.0", "1.0.1", "1.2", "1.10", "2", "10"}
	for i := 0; i < len(ordered)-1; i++ {
		lo := ascend.MustParseVersion(ordered[i])
		hi := ascend.MustParseVersion(ordered[i+1])
		assert.True(t, lo.Less(hi), "%s < %s", ordered[i], ordered[i+1])
		assert.False(t, hi.Less(lo))
	}
	assert.True(t, ascend.MustParseVersion("1.2").Equal(ascend.MustParseVersion("1.2")))
}

func TestVersionSentinels(t *testing.T) {
	v := ascend.MustParseVersion("999999.999999")
	assert.True(t, ascend.MinVersion.Less(v))
	assert.True(t, v.Less(ascend.MaxVersion))
	assert.True(t, ascend.MinVersion.Less(ascend.MaxVersion))
	assert.True(t, ascend.MinVersion.Equal(ascend.MinVersion))
	assert.Equal(t, "0", ascend.MinVersion.String())
	assert.Equal(t, "max", ascend.MaxVersion.String())
}

func TestVersionIsDefined(t *testing.T) {
	var zero ascend.Version
	assert.False(t, zero.IsDefined())
	assert.True(t, ascend.MinVersion.IsDefined())
	assert.True(t, ascend.MustParseVersion("1").IsDefined())
}
