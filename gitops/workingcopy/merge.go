package workingcopy

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// MergeConflictReport is the ephemeral outcome of one
// dry-run merge attempt. Conflicts is the list of
// conflicting paths; it is structured data rather than
// an error because a conflict is an expected dry-run
// outcome.
type MergeConflictReport struct {
	HasConflicts bool
	Conflicts    []string
}

// CheckMergeConflicts performs a dry-run merge of branch
// into the current branch: the merge is attempted with
// --no-commit and unconditionally aborted before
// returning, on every exit path. The working copy is
// never left mid-merge, so repeating the check yields
// the same conflict set.
func (w *WorkingCopy) CheckMergeConflicts(
	ctx context.Context,
	branch string,
) (MergeConflictReport, error) {
	const errCtx = "checking merge conflicts"

	_, mergeErr := w.run(
		ctx, w.dir, "git",
		"merge", "--no-commit", "--no-ff", branch,
	)

	// Abort before anything else; the working copy
	// must be clean on every exit path.
	defer w.abortQuietly(ctx)

	if mergeErr == nil {
		return MergeConflictReport{}, nil
	}

	conflicts, listErr := w.conflictedFiles(ctx)
	if listErr != nil {
		return MergeConflictReport{}, fmt.Errorf(
			"%s: %w", errCtx, listErr,
		)
	}

	if len(conflicts) == 0 {
		// The merge failed for a reason other than
		// conflicts.
		return MergeConflictReport{}, fmt.Errorf(
			"%s: %w", errCtx, mergeErr,
		)
	}

	return MergeConflictReport{
		HasConflicts: true,
		Conflicts:    conflicts,
	}, nil
}

// ResolveMergeConflicts stages the given files and
// finalizes the in-progress merge commit without editing
// its message.
func (w *WorkingCopy) ResolveMergeConflicts(
	ctx context.Context,
	files []string,
) error {
	const errCtx = "resolving merge conflicts"

	if len(files) == 0 {
		return fmt.Errorf(
			"%s: no files given", errCtx,
		)
	}

	if err := w.Add(ctx, files...); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if _, err := w.run(
		ctx, w.dir, "git", "commit", "--no-edit",
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// AbortMerge aborts an in-progress merge. Aborting when
// no merge is in progress is not an error.
func (w *WorkingCopy) AbortMerge(
	ctx context.Context,
) error {
	const errCtx = "aborting merge"

	out, err := w.run(
		ctx, w.dir, "git", "merge", "--abort",
	)
	if err != nil {
		if strings.Contains(
			out, "no merge to abort",
		) || strings.Contains(
			out, "MERGE_HEAD missing",
		) {
			return nil
		}

		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// MergeInProgress reports whether the working copy has
// an unfinished merge.
func (w *WorkingCopy) MergeInProgress(
	ctx context.Context,
) bool {
	_, err := w.run(
		ctx, w.dir, "git",
		"rev-parse", "-q", "--verify", "MERGE_HEAD",
	)

	return err == nil
}

// conflictedFiles lists paths with unmerged changes.
func (w *WorkingCopy) conflictedFiles(
	ctx context.Context,
) ([]string, error) {
	const errCtx = "listing conflicted files"

	out, err := w.run(
		ctx, w.dir, "git",
		"diff", "--name-only", "--diff-filter=U",
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	var files []string

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(
			sc.Text(),
		); line != "" {
			files = append(files, line)
		}
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf(
			"%s: scan output: %w", errCtx, err,
		)
	}

	return files, nil
}

// abortQuietly aborts any in-progress merge, logging
// rather than failing; used on dry-run exit paths.
func (w *WorkingCopy) abortQuietly(ctx context.Context) {
	if err := w.AbortMerge(ctx); err != nil {
		slog.Error(
			"failed to abort merge",
			"dir", w.dir,
			"error", err,
		)
	}
}
