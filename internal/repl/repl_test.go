package repl

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/A-ryanVAT-S/Provify/internal/ai"
	"github.com/A-ryanVAT-S/Provify/internal/config"
	"github.com/A-ryanVAT-S/Provify/internal/devices"
	"github.com/A-ryanVAT-S/Provify/internal/oracle"
	"github.com/A-ryanVAT-S/Provify/internal/service"
	"github.com/A-ryanVAT-S/Provify/internal/storage"
	"github.com/A-ryanVAT-S/Provify/internal/types"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// scriptedReader replays lines and then reports EOF
type scriptedReader struct {
	lines   []string
	prompts []string
}

func (s *scriptedReader) Readline() (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	if line == "^C" {
		return "", readline.ErrInterrupt
	}
	return line, nil
}

func (s *scriptedReader) SetPrompt(p string) {
	s.prompts = append(s.prompts, p)
}

type verifierFunc func(ctx context.Context, target types.Target, bug *types.Bug) oracle.Outcome

func (f verifierFunc) Verify(ctx context.Context, target types.Target, bug *types.Bug) oracle.Outcome {
	return f(ctx, target, bug)
}

var reproducesCrashes = verifierFunc(func(_ context.Context, _ types.Target, bug *types.Bug) oracle.Outcome {
	return oracle.Outcome{
		Reproduced: strings.Contains(strings.ToLower(bug.Description), "crash"),
		Steps:      []string{"launch app", "observe"},
		Narrative:  "done",
	}
})

func newTestREPL(t *testing.T, targets ...string) (*REPL, *service.Service, *bytes.Buffer) {
	t.Helper()
	backend, err := storage.NewBackend(context.Background(), storage.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	svc, err := service.Open(context.Background(), &config.Config{}, "test", service.Deps{
		Backend:    backend,
		Resolver:   ai.Fallback{},
		Verifier:   reproducesCrashes,
		Discoverer: devices.StaticDiscoverer(targets),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	var out bytes.Buffer
	r, err := New(&Config{Service: svc, Stdout: &out})
	require.NoError(t, err)
	return r, svc, &out
}

func run(t *testing.T, r *REPL, lines ...string) *scriptedReader {
	t.Helper()
	rl := &scriptedReader{lines: lines}
	require.NoError(t, r.loop(context.Background(), rl))
	return rl
}

func TestNewRequiresService(t *testing.T) {
	_, err := New(&Config{})
	assert.Error(t, err)
}

func TestSampleThenLoad(t *testing.T) {
	r, svc, out := newTestREPL(t, "emulator-5554")

	run(t, r, "10", "1", "3")

	text := out.String()
	assert.Contains(t, text, "PROVIFY - Bug Verification")
	assert.Contains(t, text, "Sample intake created with 2 bugs")
	assert.Contains(t, text, "Loaded 2 bugs from intake")
	assert.Contains(t, text, "Pending Bugs (2 bugs)")
	assert.Contains(t, text, "App crashes when uploading photo")

	stats, err := svc.Store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)
}

func TestVerifyMarkFixedAndRegression(t *testing.T) {
	r, svc, out := newTestREPL(t, "emulator-5554=Pixel 7", "emulator-5556=Galaxy")
	ctx := context.Background()

	bug, err := svc.Store.Intake(ctx, "My App", "com.example.myapp", "App crashes on launch")
	require.NoError(t, err)

	rl := run(t, r, "6", bug.ID, "8", bug.ID, "9")

	text := out.String()
	assert.Contains(t, text, "BUG VERIFIED: Bug reproduced: 2/2 targets")
	assert.Contains(t, text, "marked as fixed")
	assert.Contains(t, text, "REGRESSION DETECTED!")
	assert.Contains(t, rl.prompts, "  Enter bug ID to verify: ")
	assert.Contains(t, rl.prompts, "  Enter bug ID to mark as fixed: ")

	got, err := svc.Store.Get(ctx, bug.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusVerified, got.Status)
	assert.True(t, strings.HasPrefix(got.Notes, "REGRESSION: Bug still exists!"), got.Notes)
}

func TestVerifyAllPending(t *testing.T) {
	r, svc, out := newTestREPL(t, "emulator-5554")
	ctx := context.Background()

	crash, err := svc.Store.Intake(ctx, "My App", "com.example.myapp", "App crashes when uploading photo")
	require.NoError(t, err)
	login, err := svc.Store.Intake(ctx, "My App", "com.example.myapp", "Login button not responding")
	require.NoError(t, err)

	run(t, r, "7", "4")

	text := out.String()
	assert.Contains(t, text, "Verifying 2 pending bugs")
	assert.Contains(t, text, crash.ID+"  VERIFIED (MEDIUM)")
	assert.Contains(t, text, login.ID+"  NOT REPRODUCIBLE (MEDIUM)")
	assert.Contains(t, text, "All pending bugs processed.")
	assert.Contains(t, text, "Verified Bugs (1 bugs)")
}

func TestNothingToDo(t *testing.T) {
	r, _, out := newTestREPL(t, "emulator-5554")

	run(t, r, "6", "7", "8", "9", "2")

	text := out.String()
	assert.Contains(t, text, "No pending bugs.")
	assert.Contains(t, text, "No pending bugs to verify.")
	assert.Contains(t, text, "No verified bugs.")
	assert.Contains(t, text, "No fixed bugs to re-verify.")
	assert.Contains(t, text, "All Bugs (0 bugs)")
	assert.Contains(t, text, "No bugs found.")
}

func TestVerifyUnknownIDReportsError(t *testing.T) {
	r, svc, out := newTestREPL(t, "emulator-5554")
	_, err := svc.Store.Intake(context.Background(), "My App", "com.example.myapp", "App crashes on launch")
	require.NoError(t, err)

	run(t, r, "6", "nope1234")

	assert.Contains(t, out.String(), "Error:")
	assert.Contains(t, out.String(), "not found")
}

func TestVerifyWithoutDevices(t *testing.T) {
	r, svc, out := newTestREPL(t)
	bug, err := svc.Store.Intake(context.Background(), "My App", "com.example.myapp", "App crashes on launch")
	require.NoError(t, err)

	run(t, r, "6", bug.ID)

	assert.Contains(t, out.String(), "Error: verification failed")
	got, err := svc.Store.Get(context.Background(), bug.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Status)
}

func TestExitStopsLoop(t *testing.T) {
	r, _, out := newTestREPL(t)

	rl := run(t, r, "bogus", "^C", "", "exit", "10")

	text := out.String()
	assert.Contains(t, text, `Invalid option "bogus"`)
	assert.Contains(t, text, "✓ Goodbye!")
	assert.NotContains(t, text, "Sample intake created")
	assert.Equal(t, []string{"10"}, rl.lines)
}

func TestHelpListsMenu(t *testing.T) {
	r, _, out := newTestREPL(t)

	run(t, r, "help")

	text := out.String()
	for _, label := range []string{"Load bugs from intake", "Verify all pending bugs", "Re-verify fixed bugs", "Create sample intake"} {
		assert.Equal(t, 2, strings.Count(text, label), label)
	}
	assert.Contains(t, text, "\nGoodbye!")
}
