package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NilPassthrough(t *testing.T) {
	assert.NoError(t, New(Permanent, "get tags", nil))
}

func TestError_Message(t *testing.T) {
	err := New(Permanent, "get tags docs/a.pdf", errors.New("NoSuchKey"))
	assert.Equal(t, "get tags docs/a.pdf: NoSuchKey", err.Error())

	bare := &Error{Kind: Transient, Err: errors.New("timeout")}
	assert.Equal(t, "timeout", bare.Error())
}

func TestKindOf(t *testing.T) {
	base := errors.New("access denied")
	err := fmt.Errorf("quarantine: %w", New(Permanent, "copy", base))

	assert.Equal(t, Permanent, KindOf(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, Unclassified, KindOf(base))
}

func TestIs_NestedKinds(t *testing.T) {
	inner := New(Transient, "copy object", errors.New("SlowDown"))
	outer := New(Quarantine, "quarantine docs/a.pdf", inner)

	assert.True(t, Is(outer, Quarantine))
	assert.True(t, Is(outer, Transient))
	assert.False(t, Is(outer, Permanent))
	assert.False(t, Is(errors.New("plain"), Transient))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), true},
		{"transient", New(Transient, "op", errors.New("x")), true},
		{"quarantine", New(Quarantine, "op", errors.New("x")), true},
		{"permanent", New(Permanent, "op", errors.New("x")), false},
		{"configuration", Errorf(Configuration, "decode", "missing %s", "bucket"), false},
		{"tag limit", New(TagLimit, "merge", errors.New("x")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestKind_String(t *testing.T) {
	require.Equal(t, "configuration", Configuration.String())
	require.Equal(t, "tag_limit", TagLimit.String())
	require.Equal(t, "unclassified", Kind(99).String())
}
