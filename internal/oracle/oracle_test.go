package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/A-ryanVAT-S/Provify/internal/types"
)

var (
	testTarget = types.Target{ID: "emulator-5554", Name: "Pixel 7"}
	testBug    = &types.Bug{ID: "a1b2c3d4", AppName: "My App", AppPackage: "com.example.myapp", Description: "App crashes when uploading photo"}
)

func TestVerifyReproduced(t *testing.T) {
	o := Func(func(_ context.Context, target types.Target, bug *types.Bug, progress ProgressFunc) (*Report, error) {
		assert.Equal(t, testTarget, target)
		assert.Equal(t, testBug.ID, bug.ID)
		progress("opened gallery")
		progress("selected photo")
		return &Report{Reproduced: true, Observations: "app closed unexpectedly"}, nil
	})

	out := NewClient(o, DefaultConfig()).Verify(context.Background(), testTarget, testBug)
	assert.True(t, out.Reproduced)
	assert.False(t, out.Failed)
	assert.Equal(t, []string{"opened gallery", "selected photo"}, out.Steps)
	assert.Equal(t, "app closed unexpectedly", out.Narrative)
}

func TestVerifyDefaultSteps(t *testing.T) {
	o := Func(func(context.Context, types.Target, *types.Bug, ProgressFunc) (*Report, error) {
		return &Report{Observations: "works fine"}, nil
	})

	out := NewClient(o, DefaultConfig()).Verify(context.Background(), testTarget, testBug)
	assert.False(t, out.Reproduced)
	assert.Equal(t, DefaultSteps, out.Steps)

	out.Steps[0] = "mutated"
	assert.Equal(t, "launch app", DefaultSteps[0], "callers must get a copy")
}

func TestVerifyFailuresNeverEscape(t *testing.T) {
	tests := []struct {
		name   string
		oracle Func
		want   string
	}{
		{
			name: "error",
			oracle: func(context.Context, types.Target, *types.Bug, ProgressFunc) (*Report, error) {
				return nil, errors.New("device offline")
			},
			want: "device offline",
		},
		{
			name: "panic",
			oracle: func(context.Context, types.Target, *types.Bug, ProgressFunc) (*Report, error) {
				panic("nil pointer in driver")
			},
			want: "nil pointer in driver",
		},
		{
			name: "nil report",
			oracle: func(context.Context, types.Target, *types.Bug, ProgressFunc) (*Report, error) {
				return nil, nil
			},
			want: "no report",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewClient(tt.oracle, DefaultConfig()).Verify(context.Background(), testTarget, testBug)
			assert.False(t, out.Reproduced)
			assert.True(t, out.Failed)
			assert.True(t, strings.HasPrefix(out.Narrative, FailurePrefix), out.Narrative)
			assert.Contains(t, out.Narrative, tt.want)
			assert.Equal(t, DefaultSteps, out.Steps)
		})
	}
}

func TestVerifyTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	// ignores ctx on purpose
	o := Func(func(_ context.Context, _ types.Target, _ *types.Bug, progress ProgressFunc) (*Report, error) {
		progress("started")
		<-release
		progress("too late")
		return &Report{Reproduced: true}, nil
	})

	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	start := time.Now()
	out := NewClient(o, cfg).Verify(context.Background(), testTarget, testBug)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, out.Failed)
	assert.False(t, out.Reproduced)
	assert.Contains(t, out.Narrative, "deadline exceeded")
	assert.Equal(t, []string{"started"}, out.Steps)
}

func TestVerifyBoundsSteps(t *testing.T) {
	o := Func(func(_ context.Context, _ types.Target, _ *types.Bug, progress ProgressFunc) (*Report, error) {
		for i := 0; i < 10; i++ {
			progress(strings.Repeat("é", 10)) // 20 bytes
		}
		return &Report{Reproduced: true}, nil
	})

	out := NewClient(o, Config{MaxSteps: 3, MaxStepLength: 7}).Verify(context.Background(), testTarget, testBug)
	require.Len(t, out.Steps, 3)
	for _, s := range out.Steps {
		assert.Equal(t, "ééé", s, "cut at a rune boundary below the byte limit")
	}
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "h"},
		{"héllo", 3, "hé"},
		{"日本語", 4, "日"},
		{"日本語", 0, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncateUTF8(tt.in, tt.n), "truncateUTF8(%q, %d)", tt.in, tt.n)
	}
}
