package steps

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/copyleftdev/gleaner/internal/browser"
	"github.com/copyleftdev/gleaner/internal/browser/mocks"
	"github.com/copyleftdev/gleaner/internal/config"
	"github.com/copyleftdev/gleaner/internal/retry"
)

const profileHTML = `
<html><body>
  <div class="profile"><span class="fullname">Ada Lovelace</span></div>
</body></html>`

func testExecutor(maxAttempts int) *Executor {
	policy := retry.Policy{MaxAttempts: maxAttempts, BaseDelay: time.Millisecond}
	return NewExecutor(policy, time.Second, zap.NewNop())
}

func testTarget(t *testing.T, urls ...string) *Target {
	t.Helper()
	target, err := CompileTarget(config.TargetConfig{
		Name:    "profile",
		URLs:    urls,
		WaitFor: ".profile",
		Fields: []config.FieldConfig{
			{Name: "name", Selector: ".fullname", Required: true},
		},
	})
	require.NoError(t, err)
	return target
}

func methods(calls []mocks.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Method
	}
	return out
}

func TestRunTarget_NavigateWaitExtract(t *testing.T) {
	page := mocks.NewMockPage(profileHTML)
	target := testTarget(t, "https://a.example")

	records, err := testExecutor(1).RunTarget(context.Background(), page, target)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Ada Lovelace", records[0]["name"])

	assert.Equal(t, []string{"navigate", "wait_visible", "html"}, methods(page.Calls()))
}

func TestRunTarget_MirrorFallback(t *testing.T) {
	page := mocks.NewMockPage(profileHTML)
	page.SetNavigateError("https://a.example",
		&browser.NavigationError{URL: "https://a.example", Err: errors.New("503")})

	target := testTarget(t, "https://a.example", "https://b.example")

	records, err := testExecutor(1).RunTarget(context.Background(), page, target)
	require.NoError(t, err)
	require.Len(t, records, 1)

	calls := page.Calls()
	require.GreaterOrEqual(t, len(calls), 2)
	assert.Equal(t, mocks.Call{Method: "navigate", Arg: "https://a.example"}, calls[0])
	assert.Equal(t, mocks.Call{Method: "navigate", Arg: "https://b.example"}, calls[1])
	assert.Equal(t, "https://b.example", page.Location())
}

func TestRunTarget_RetriesTransientConnect(t *testing.T) {
	page := mocks.NewMockPage(profileHTML)
	page.FailNavigations(2, &browser.NavigationTimeoutError{URL: "https://a.example", Timeout: time.Second})

	target := testTarget(t, "https://a.example")

	records, err := testExecutor(3).RunTarget(context.Background(), page, target)
	require.NoError(t, err)
	require.Len(t, records, 1)

	navs := 0
	for _, c := range page.Calls() {
		if c.Method == "navigate" {
			navs++
		}
	}
	assert.Equal(t, 3, navs)
}

func TestRunTarget_AllMirrorsExhausted(t *testing.T) {
	page := mocks.NewMockPage(profileHTML)
	page.SetNavigateError("", &browser.NavigationError{URL: "any", Err: errors.New("refused")})

	target := testTarget(t, "https://a.example", "https://b.example")

	_, err := testExecutor(2).RunTarget(context.Background(), page, target)
	require.Error(t, err)
	assert.Equal(t, 2, retry.Attempts(err))
	assert.Contains(t, err.Error(), `target "profile"`)
}

func TestRunTarget_NonTransientStepAborts(t *testing.T) {
	page := mocks.NewMockPage(profileHTML)
	boom := errors.New("element is disabled")
	page.SetClickError("#load-more", boom)

	target, err := CompileTarget(config.TargetConfig{
		Name:  "feed",
		URLs:  []string{"https://a.example"},
		Steps: []config.StepConfig{{Type: "click", Selector: "#load-more"}},
	})
	require.NoError(t, err)

	_, err = testExecutor(3).RunTarget(context.Background(), page, target)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	clicks := 0
	for _, c := range page.Calls() {
		if c.Method == "click" {
			clicks++
		}
	}
	assert.Equal(t, 1, clicks, "non-transient failures must not be retried")
}

func TestRunTarget_StepsRunInOrder(t *testing.T) {
	page := mocks.NewMockPage(profileHTML)

	target, err := CompileTarget(config.TargetConfig{
		Name: "login",
		URLs: []string{"https://a.example"},
		Steps: []config.StepConfig{
			{Type: "fill", Selector: "#user", Value: "alice"},
			{Type: "click", Selector: "#next"},
			{Type: "submit", Selector: "#login-form"},
			{Type: "scroll", Value: "bottom"},
		},
	})
	require.NoError(t, err)

	records, err := testExecutor(1).RunTarget(context.Background(), page, target)
	require.NoError(t, err)
	assert.Nil(t, records, "a target without fields extracts nothing")

	assert.Equal(t,
		[]string{"navigate", "fill", "click", "submit", "evaluate"},
		methods(page.Calls()))
}

func TestRunTarget_FillTOTPTypesSixDigits(t *testing.T) {
	page := mocks.NewMockPage(profileHTML)

	target, err := CompileTarget(config.TargetConfig{
		Name: "login",
		URLs: []string{"https://a.example"},
		Steps: []config.StepConfig{
			{Type: "fill_totp", Selector: "#otp", Value: "GEZDGNBVGEZDGNBVGEZDGNBVGEZDGNBV"},
		},
	})
	require.NoError(t, err)

	_, err = testExecutor(1).RunTarget(context.Background(), page, target)
	require.NoError(t, err)

	var fill *mocks.Call
	for _, c := range page.Calls() {
		if c.Method == "fill" {
			fill = &c
			break
		}
	}
	require.NotNil(t, fill)
	assert.Regexp(t, regexp.MustCompile(`^#otp=\d{6}$`), fill.Arg)
}

func TestRunTarget_RunDeadlineBoundsStepTimeout(t *testing.T) {
	page := mocks.NewMockPage(profileHTML)

	// The step's own timeout is far larger than the run deadline; the
	// deadline must still win.
	target, err := CompileTarget(config.TargetConfig{
		Name:  "slow",
		URLs:  []string{"https://a.example"},
		Steps: []config.StepConfig{{Type: "wait_delay", Value: "1h", Timeout: 2 * time.Hour}},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = testExecutor(1).RunTarget(ctx, page, target)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunTarget_RequiredFieldMissing(t *testing.T) {
	page := mocks.NewMockPage(`<html><body><div class="profile"></div></body></html>`)
	target := testTarget(t, "https://a.example")

	_, err := testExecutor(1).RunTarget(context.Background(), page, target)
	require.Error(t, err)
	assert.False(t, browser.IsTransient(err), "extraction misses are not transient")
}
