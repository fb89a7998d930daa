package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/A-ryanVAT-S/Provify/internal/ai"
	"github.com/A-ryanVAT-S/Provify/internal/config"
	"github.com/A-ryanVAT-S/Provify/internal/oracle"
	"github.com/A-ryanVAT-S/Provify/internal/service"
	"github.com/A-ryanVAT-S/Provify/internal/storage"
	"github.com/A-ryanVAT-S/Provify/internal/types"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

type verifierFunc func(ctx context.Context, target types.Target, bug *types.Bug) oracle.Outcome

func (f verifierFunc) Verify(ctx context.Context, target types.Target, bug *types.Bug) oracle.Outcome {
	return f(ctx, target, bug)
}

var reproducesCrashes = verifierFunc(func(_ context.Context, _ types.Target, bug *types.Bug) oracle.Outcome {
	return oracle.Outcome{
		Reproduced: strings.Contains(strings.ToLower(bug.Description), "crash"),
		Steps:      []string{"launch app", "tap upload", "observe"},
		Narrative:  "done",
	}
})

// cli runs commands against one storage directory
type cli struct {
	t   *testing.T
	dir string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv(config.APIKeyEnv, "")
	return &cli{t: t, dir: t.TempDir()}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	a := &app{deps: service.Deps{Resolver: ai.Fallback{}, Verifier: reproducesCrashes}}
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--dir", c.dir, "--device", "emulator-5554=Pixel 7", "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	require.NoError(c.t, a.close())
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, out)
	return out
}

// addBug reports a bug and returns its id
func (c *cli) addBug(appName, pkg, description string) string {
	c.t.Helper()
	out := c.mustRun("add", "--app", appName, "--package", pkg, description)
	fields := strings.Fields(out)
	require.GreaterOrEqual(c.t, len(fields), 3, out)
	return fields[2]
}

func (c *cli) listJSON(args ...string) []*types.Bug {
	c.t.Helper()
	out := c.mustRun(append([]string{"list", "--json"}, args...)...)
	var bugs []*types.Bug
	require.NoError(c.t, json.Unmarshal([]byte(out), &bugs), out)
	return bugs
}

func TestParseIntake(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    int
		wantErr error
	}{
		{
			name: "json list",
			data: `[{"app_name": "My App", "app_package": "com.example.myapp", "bug": "App crashes"},
			        {"app_name": "WhatsApp", "bug": "Voice notes cut off"}]`,
			want: 2,
		},
		{
			name: "yaml list",
			data: "- app_name: My App\n  bug: Login button not responding\n",
			want: 1,
		},
		{
			name: "wrapped",
			data: "bugs:\n  - app_name: My App\n    bug: Crash on rotate\n  - app_name: My App\n    bug: Blank screen\n",
			want: 2,
		},
		{name: "empty file", data: "  \n", wantErr: storage.ErrEmptyBatch},
		{name: "empty list", data: "[]", wantErr: storage.ErrEmptyBatch},
		{name: "missing description", data: `[{"app_name": "My App"}]`, wantErr: storage.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseIntake([]byte(tt.data))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}

	t.Run("garbage", func(t *testing.T) {
		_, err := parseIntake([]byte("just some words"))
		assert.Error(t, err)
	})
}

func TestBugLifecycle(t *testing.T) {
	c := newCLI(t)

	id := c.addBug("My App", "com.example.myapp", "App crashes when uploading photo")
	assert.Len(t, id, 8)

	// near duplicate merges into the same bug
	dup := c.addBug("My App", "com.example.myapp", "app crashes when uploading a photo")
	assert.Equal(t, id, dup)

	out := c.mustRun("show", id)
	assert.Contains(t, out, "App crashes when uploading photo")
	assert.Contains(t, out, "pending")

	_, err := c.run("fix", id)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	c.mustRun("update", id, "--status", "verified", "--notes", "seen on Pixel 7")
	c.mustRun("fix", id)
	bugs := c.listJSON("--status", "fixed")
	require.Len(t, bugs, 1)
	assert.Equal(t, "seen on Pixel 7", bugs[0].Notes)

	out = c.mustRun("stats")
	assert.Contains(t, out, "Total:            1")

	c.mustRun("delete", id)
	_, err = c.run("show", id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateRequiresAChange(t *testing.T) {
	c := newCLI(t)
	id := c.addBug("My App", "com.example.myapp", "Login button not responding")

	_, err := c.run("update", id)
	assert.Error(t, err)

	c.mustRun("update", id, "--notes", "first tap only")
	bugs := c.listJSON()
	require.Len(t, bugs, 1)
	assert.Equal(t, "first tap only", bugs[0].Notes)
	assert.Equal(t, types.StatusPending, bugs[0].Status)
}

func TestImportAndQueue(t *testing.T) {
	c := newCLI(t)
	file := filepath.Join(t.TempDir(), "bugs.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
- app_name: My App
  app_package: com.example.myapp
  bug: App crashes when uploading photo
- app_name: My App
  app_package: com.example.myapp
  bug: Login button not responding
`), 0o644))

	out := c.mustRun("import", "--queue", file)
	assert.Contains(t, out, "Queued 2 reports")
	assert.Empty(t, c.listJSON())

	out = c.mustRun("load")
	assert.Contains(t, out, "Loaded 2 bugs from intake")
	assert.Len(t, c.listJSON("--app", "com.example.myapp"), 2)

	// importing the same reports again only merges
	out = c.mustRun("import", file)
	assert.Contains(t, out, "Imported 2 reports")
	assert.Len(t, c.listJSON(), 2)
}

func TestSampleAndLoad(t *testing.T) {
	c := newCLI(t)

	c.mustRun("sample")
	out := c.mustRun("load")
	assert.Contains(t, out, "Loaded 2 bugs from intake")
	assert.Len(t, c.listJSON("--status", "pending"), 2)
}

func TestVerifyCommands(t *testing.T) {
	c := newCLI(t)
	crash := c.addBug("My App", "com.example.myapp", "App crashes when uploading photo")
	login := c.addBug("My App", "com.example.myapp", "Login button not responding")

	out := c.mustRun("verify", crash)
	assert.Contains(t, out, "Bug reproduced: 1/1 targets reproduced the issue (Pixel 7)")

	out = c.mustRun("verify-all")
	assert.Contains(t, out, login+"  not reproducible")
	assert.NotContains(t, out, crash)

	c.mustRun("fix", crash)
	out = c.mustRun("reverify-fixed")
	assert.Contains(t, out, crash+"  REGRESSION")
	assert.Contains(t, out, "1 fixed bug(s) still reproduce")

	out = c.mustRun("show", crash)
	assert.Contains(t, out, "REGRESSION: Bug still exists!")
	assert.Contains(t, out, "Latest verification:")
}

func TestDevices(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("devices")
	assert.Contains(t, out, "emulator-5554")
	assert.Contains(t, out, "Pixel 7")

	out = c.mustRun("devices", "--refresh")
	assert.Contains(t, out, "1 device(s)")
}

func TestListRejectsUnknownStatus(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("list", "--status", "closed")
	assert.True(t, errors.Is(err, types.ErrInvalidStatus), "got %v", err)
}

func TestStorageLockReleased(t *testing.T) {
	c := newCLI(t)
	c.mustRun("stats")
	_, err := os.Stat(filepath.Join(c.dir, storage.LockFile))
	assert.True(t, os.IsNotExist(err), "lock file should be removed after the command")
}
