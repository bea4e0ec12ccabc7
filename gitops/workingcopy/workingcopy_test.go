package workingcopy_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/gitops_forge/gitops/vault"
	"github.com/byte4ever/gitops_forge/gitops/workingcopy"
)

// call records one git invocation seen by the fake
// runner.
type call struct {
	dir  string
	args []string
}

// fakeRunner scripts responses per command verb (the
// first git argument) and records every invocation.
type fakeRunner struct {
	calls []call
	out   map[string]string
	errs  map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		out:  map[string]string{},
		errs: map[string]error{},
	}
}

func (f *fakeRunner) run(
	_ context.Context,
	dir string,
	_ string,
	arg ...string,
) (string, error) {
	f.calls = append(f.calls, call{dir: dir, args: arg})

	verb := ""
	if len(arg) > 0 {
		verb = arg[0]
	}

	return f.out[verb], f.errs[verb]
}

func (f *fakeRunner) argLines() []string {
	lines := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		lines = append(
			lines, strings.Join(c.args, " "),
		)
	}

	return lines
}

func TestAuthURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		url   string
		creds *vault.Credentials
		want  string
	}{
		{
			name:  "nil credentials pass through",
			url:   "https://git.example.com/acme/app.git",
			creds: nil,
			want:  "https://git.example.com/acme/app.git",
		},
		{
			name: "token becomes userinfo",
			url:  "https://git.example.com/acme/app.git",
			creds: &vault.Credentials{
				Method: vault.MethodToken,
				Token:  "tok123",
			},
			want: "https://tok123:x-oauth-basic" +
				"@git.example.com/acme/app.git",
		},
		{
			name: "password is url-encoded",
			url:  "https://git.example.com/acme/app.git",
			creds: &vault.Credentials{
				Method:   vault.MethodCredentials,
				Username: "bob",
				Password: "p@ss:w/rd",
			},
			want: "https://bob:p%40ss%3Aw%2Frd" +
				"@git.example.com/acme/app.git",
		},
		{
			name: "ssh remote passes through",
			url:  "git@git.example.com:acme/app.git",
			creds: &vault.Credentials{
				Method: vault.MethodToken,
				Token:  "tok123",
			},
			want: "git@git.example.com:acme/app.git",
		},
		{
			name: "ssh method never embeds",
			url:  "https://git.example.com/acme/app.git",
			creds: &vault.Credentials{
				Method: vault.MethodSSH,
			},
			want: "https://git.example.com/acme/app.git",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := workingcopy.AuthURL(
				tc.url, tc.creds,
			)

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAuthURL_unknown_method(t *testing.T) {
	t.Parallel()

	_, err := workingcopy.AuthURL(
		"https://git.example.com/acme/app.git",
		&vault.Credentials{Method: "carrier-pigeon"},
	)

	assert.ErrorContains(
		t, err, "unknown credential method",
	)
}

func TestClone_embeds_credentials_once(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	wc := workingcopy.NewWithRunner(
		"/tmp/wc", fake.run,
	)

	err := wc.Clone(
		context.Background(),
		"https://git.example.com/acme/app.git",
		&vault.Credentials{
			Method: vault.MethodToken,
			Token:  "tok123",
		},
		"main",
	)
	require.NoError(t, err)

	require.Len(t, fake.calls, 1)
	assert.Equal(t, "", fake.calls[0].dir)
	assert.Equal(
		t,
		[]string{
			"clone", "--branch", "main",
			"https://tok123:x-oauth-basic" +
				"@git.example.com/acme/app.git",
			"/tmp/wc",
		},
		fake.calls[0].args,
	)

	// Push reuses the plain remote URL and re-embeds
	// credentials per call.
	err = wc.Push(
		context.Background(),
		&vault.Credentials{
			Method: vault.MethodToken,
			Token:  "tok123",
		},
		"feature",
	)
	require.NoError(t, err)

	require.Len(t, fake.calls, 2)
	assert.Equal(
		t,
		[]string{
			"push",
			"https://tok123:x-oauth-basic" +
				"@git.example.com/acme/app.git",
			"refs/heads/feature",
		},
		fake.calls[1].args,
	)
}

func TestClone_without_branch(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	wc := workingcopy.NewWithRunner(
		"/tmp/wc", fake.run,
	)

	err := wc.Clone(
		context.Background(),
		"https://git.example.com/acme/app.git",
		nil,
		"",
	)
	require.NoError(t, err)

	assert.Equal(
		t,
		[]string{
			"clone",
			"https://git.example.com/acme/app.git",
			"/tmp/wc",
		},
		fake.calls[0].args,
	)
}

func TestBasicOperations(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	fake.out["status"] = " M file.txt\n"
	fake.out["rev-parse"] = "main\n"

	wc := workingcopy.NewWithRunner(
		"/tmp/wc", fake.run,
	)
	ctx := context.Background()

	require.NoError(t, wc.Checkout(ctx, "develop"))
	require.NoError(t, wc.CheckoutNew(ctx, "feature"))
	require.NoError(t, wc.Add(ctx))
	require.NoError(t, wc.Commit(ctx, "a message"))

	clean, err := wc.IsClean(ctx)
	require.NoError(t, err)
	assert.False(t, clean)

	branch, err := wc.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)

	assert.Equal(
		t,
		[]string{
			"checkout develop",
			"checkout -b feature",
			"add .",
			"commit -m a message",
			"status --porcelain",
			"rev-parse --abbrev-ref HEAD",
		},
		fake.argLines(),
	)

	for _, c := range fake.calls {
		assert.Equal(t, "/tmp/wc", c.dir)
	}
}

func TestListRemoteBranches(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	fake.out["ls-remote"] = strings.Join([]string{
		"abc123\trefs/heads/main",
		"def456\trefs/heads/customer/acme/dev",
		"789aaa\trefs/tags/v1.0.0",
		"",
	}, "\n")

	wc := workingcopy.NewWithRunner("", fake.run)

	branches, err := wc.ListRemoteBranches(
		context.Background(),
		"https://git.example.com/acme/app.git",
		nil,
	)

	require.NoError(t, err)
	assert.Equal(
		t,
		[]string{"main", "customer/acme/dev"},
		branches,
	)
}

func TestCheckMergeConflicts_clean(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()

	wc := workingcopy.NewWithRunner(
		"/tmp/wc", fake.run,
	)

	report, err := wc.CheckMergeConflicts(
		context.Background(), "feature",
	)

	require.NoError(t, err)
	assert.False(t, report.HasConflicts)
	assert.Empty(t, report.Conflicts)

	// The dry-run merge is aborted even when clean.
	assert.Equal(
		t,
		[]string{
			"merge --no-commit --no-ff feature",
			"merge --abort",
		},
		fake.argLines(),
	)
}

func TestCheckMergeConflicts_conflicts(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	fake.errs["merge"] = errors.New(
		"exit status 1",
	)
	fake.out["merge"] = "no merge to abort"
	fake.out["diff"] = "a/values.yaml\nb/app.yaml\n"

	wc := workingcopy.NewWithRunner(
		"/tmp/wc", fake.run,
	)

	report, err := wc.CheckMergeConflicts(
		context.Background(), "feature",
	)

	require.NoError(t, err)
	assert.True(t, report.HasConflicts)
	assert.Equal(
		t,
		[]string{"a/values.yaml", "b/app.yaml"},
		report.Conflicts,
	)

	assert.Equal(
		t,
		[]string{
			"merge --no-commit --no-ff feature",
			"diff --name-only --diff-filter=U",
			"merge --abort",
		},
		fake.argLines(),
	)
}

func TestCheckMergeConflicts_non_conflict_failure(
	t *testing.T,
) {
	t.Parallel()

	fake := newFakeRunner()
	fake.errs["merge"] = errors.New(
		"fatal: not something we can merge",
	)
	fake.out["merge"] = "no merge to abort"

	wc := workingcopy.NewWithRunner(
		"/tmp/wc", fake.run,
	)

	_, err := wc.CheckMergeConflicts(
		context.Background(), "nosuchbranch",
	)

	assert.ErrorContains(
		t, err, "not something we can merge",
	)
}

func TestResolveMergeConflicts(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()

	wc := workingcopy.NewWithRunner(
		"/tmp/wc", fake.run,
	)

	err := wc.ResolveMergeConflicts(
		context.Background(),
		[]string{"a/values.yaml", "b/app.yaml"},
	)

	require.NoError(t, err)
	assert.Equal(
		t,
		[]string{
			"add a/values.yaml b/app.yaml",
			"commit --no-edit",
		},
		fake.argLines(),
	)
}

func TestResolveMergeConflicts_no_files(t *testing.T) {
	t.Parallel()

	wc := workingcopy.NewWithRunner(
		"/tmp/wc", newFakeRunner().run,
	)

	err := wc.ResolveMergeConflicts(
		context.Background(), nil,
	)

	assert.ErrorContains(t, err, "no files given")
}

func TestAbortMerge_tolerates_no_merge(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	fake.errs["merge"] = errors.New("exit status 128")
	fake.out["merge"] = "fatal: There is no merge " +
		"to abort (MERGE_HEAD missing)."

	wc := workingcopy.NewWithRunner(
		"/tmp/wc", fake.run,
	)

	assert.NoError(
		t, wc.AbortMerge(context.Background()),
	)
}

func TestAbortMerge_real_failure(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	fake.errs["merge"] = errors.New("exit status 128")
	fake.out["merge"] = "fatal: not a git repository"

	wc := workingcopy.NewWithRunner(
		"/tmp/wc", fake.run,
	)

	assert.Error(
		t, wc.AbortMerge(context.Background()),
	)
}

func TestMergeInProgress(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()

	wc := workingcopy.NewWithRunner(
		"/tmp/wc", fake.run,
	)

	assert.True(
		t, wc.MergeInProgress(context.Background()),
	)

	fake.errs["rev-parse"] = errors.New(
		"exit status 1",
	)

	assert.False(
		t, wc.MergeInProgress(context.Background()),
	)
}
