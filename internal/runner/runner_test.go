package runner_test

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lightangel1412/reconness/internal/model"
	"github.com/lightangel1412/reconness/internal/registry"
	"github.com/lightangel1412/reconness/internal/runner"
)

func TestExpand(t *testing.T) {
	t.Parallel()
	tc := runner.Context{Target: "example.com", Subdomain: "www.example.com"}

	t.Run("target", func(t *testing.T) {
		got, err := runner.Expand("echo hello-{{target}}", tc)
		require.NoError(t, err)
		require.Equal(t, "echo hello-example.com", got)
	})

	t.Run("domain alias", func(t *testing.T) {
		got, err := runner.Expand("sublist3r -d {{domain}}", tc)
		require.NoError(t, err)
		require.Equal(t, "sublist3r -d example.com", got)
	})

	t.Run("subdomain with spacing", func(t *testing.T) {
		got, err := runner.Expand("httpx -u {{ subdomain }}", tc)
		require.NoError(t, err)
		require.Equal(t, "httpx -u www.example.com", got)
	})

	t.Run("subdomain out of scope", func(t *testing.T) {
		_, err := runner.Expand("httpx -u {{subdomain}}", runner.Context{Target: "example.com"})
		require.Error(t, err)
		require.ErrorContains(t, err, "subdomain")
	})

	t.Run("unknown placeholder", func(t *testing.T) {
		_, err := runner.Expand("echo {{wordlist}}", tc)
		require.Error(t, err)
		require.ErrorContains(t, err, "wordlist")
	})

	t.Run("no placeholders pass through", func(t *testing.T) {
		got, err := runner.Expand("uname -a", tc)
		require.NoError(t, err)
		require.Equal(t, "uname -a", got)
	})
}

func reserve(t *testing.T, key model.RunKey) *registry.Handle {
	t.Helper()
	reg := registry.New()
	h, err := reg.Reserve(t.Context(), key)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Release(key) })
	return h
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
}

func TestExecute(t *testing.T) {
	t.Parallel()
	requireShell(t)

	key := model.RunKey{Target: "example.com", Agent: "echo"}
	tc := runner.Context{Target: "example.com"}

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		h := reserve(t, key)
		status := runner.New().Execute(t.Context(), h, "echo hello-{{target}}", tc)
		require.Equal(t, model.StatusSuccess, status)
		require.Equal(t, []string{"hello-example.com"}, h.Lines())
	})

	t.Run("stderr interleaved", func(t *testing.T) {
		t.Parallel()
		h := reserve(t, key)
		status := runner.New().Execute(t.Context(), h, "echo out; echo err 1>&2; echo tail", tc)
		require.Equal(t, model.StatusSuccess, status)
		require.Equal(t, []string{"out", "err", "tail"}, h.Lines())
	})

	t.Run("abnormal exit keeps partial output", func(t *testing.T) {
		t.Parallel()
		h := reserve(t, key)
		status := runner.New().Execute(t.Context(), h, "echo partial; exit 3", tc)
		require.Equal(t, model.StatusFailed, status)
		require.Equal(t, []string{"partial"}, h.Lines())
	})

	t.Run("unresolved template fails before launch", func(t *testing.T) {
		t.Parallel()
		h := reserve(t, key)
		status := runner.New().Execute(t.Context(), h, "echo {{wordlist}}", tc)
		require.Equal(t, model.StatusFailed, status)
		require.Empty(t, h.Lines())
	})

	t.Run("missing shell fails", func(t *testing.T) {
		t.Parallel()
		h := reserve(t, key)
		status := runner.New().WithShell("no-such-shell").Execute(t.Context(), h, "echo hi", tc)
		require.Equal(t, model.StatusFailed, status)
	})

	t.Run("handle sealed after execute", func(t *testing.T) {
		t.Parallel()
		h := reserve(t, key)
		_ = runner.New().Execute(t.Context(), h, "echo once", tc)
		h.Append("late")
		require.Equal(t, []string{"once"}, h.Lines())
	})
}

func TestExecuteCancel(t *testing.T) {
	t.Parallel()
	requireShell(t)

	key := model.RunKey{Target: "example.com", Agent: "slow"}
	tc := runner.Context{Target: "example.com"}

	h := reserve(t, key)
	ctx, cancel := context.WithCancel(t.Context())

	started := time.Now()
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	status := runner.New().Execute(ctx, h, "echo early; sleep 10; echo never", tc)
	require.Equal(t, model.StatusCancelled, status)
	require.Less(t, time.Since(started), 5*time.Second)

	// partial output is a prefix of the full output
	require.Equal(t, []string{"early"}, h.Lines())
}
