package memcore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/agentmem/memvcs/internal/memcore/errs"
)

// MergeConflict is one unresolved path recorded in a merge-state record
// (§4.6): `(path, ours_hash, theirs_hash, base_hash, strategy)`.
type MergeConflict struct {
	Path       string
	OursHash   Hash
	TheirsHash Hash
	BaseHash   Hash
	Strategy   string
}

// MergeState is the on-disk record of an in-progress merge. While present,
// the repository is in MERGING state: BuildCommit refuses ordinary commits
// until every conflict is cleared by Resolve.
type MergeState struct {
	OursHash   Hash
	TheirsHash Hash
	BaseHash   Hash
	Message    string
	Conflicts  []MergeConflict
	TrustFlag  string // non-empty: theirs' signer fingerprint, recorded CONDITIONAL by §4.9
}

const mergeStateFile = "MERGE_STATE"

func (r *Repository) mergeStatePath() string {
	return filepath.Join(r.gitDir, mergeStateFile)
}

// InMergingState reports whether a merge is currently in progress.
func (r *Repository) InMergingState() (bool, error) {
	_, err := os.Stat(r.mergeStatePath())
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// LoadMergeState returns the current merge state, or nil if no merge is in
// progress.
func (r *Repository) LoadMergeState() (*MergeState, error) {
	data, err := os.ReadFile(r.mergeStatePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var s MergeState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) saveMergeState(s *MergeState) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(r.mergeStatePath(), data)
}

func (r *Repository) clearMergeState() error {
	err := os.Remove(r.mergeStatePath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// checkMergeTrust implements §4.9's merge-side policy: a theirs commit
// carrying no signing_key_id is unsigned and passes through ungated (the
// policy has no key to evaluate); one signed by a key on record (or
// defaulted) as UNTRUSTED is refused outright; CONDITIONAL is allowed but
// its fingerprint is returned so the caller can flag the resulting merge
// commit for review. FULL returns "" (no flag).
func (r *Repository) checkMergeTrust(theirsCommit *Commit, theirsHash Hash) (trustFlag string, err error) {
	fp := theirsCommit.Metadata["signing_key_id"]
	if fp == "" {
		return "", nil
	}
	level, err := r.TrustLevelFor(fp)
	if err != nil {
		return "", err
	}
	switch level {
	case TrustUntrusted:
		return "", errs.New(errs.UntrustedKey, fmt.Sprintf("theirs commit %s is signed by untrusted key %s; merge refused", theirsHash.Short(), fp))
	case TrustConditional:
		return fp, nil
	default:
		return "", nil
	}
}

// Merge implements §4.6: no-op on identical tips; fast-forward when one
// tip is an ancestor of the other; otherwise a per-path merge dispatched
// by memory class (episodic append, semantic three-way-with-markers,
// procedural prefer-newer). Paths a strategy cannot resolve are recorded
// in merge state, leaving the repository MERGING and returning
// UnresolvedConflicts; otherwise a two-parent merge commit is written
// immediately. ff reports whether the result was a fast-forward. Before
// any of that, §4.9's trust store gates theirsHash's signer: UNTRUSTED
// refuses the merge outright, CONDITIONAL is allowed but flagged in the
// resulting merge commit's metadata.
func (r *Repository) Merge(theirsHash Hash, author Signature, message string) (commitHash Hash, ff bool, err error) {
	if inMerge, err := r.InMergingState(); err != nil {
		return "", false, err
	} else if inMerge {
		return "", false, errs.New(errs.MergingState, "a merge is already in progress; resolve its conflicts first")
	}

	head, err := r.Head()
	if err != nil {
		return "", false, err
	}
	oursHash := head.Hash

	if oursHash == theirsHash {
		return oursHash, false, nil
	}

	baseHash, baseErr := MergeBase(r, oursHash, theirsHash)
	if baseErr != nil {
		// DivergedHistories (spec.md §4.6): no LCA, proceed with the empty
		// tree as base instead of failing the merge outright.
		r.logger.Warn("no common ancestor between merge tips, using empty tree as base", "ours", oursHash.Short(), "theirs", theirsHash.Short())
		baseHash = ""
	}

	theirsCommit, err := r.GetCommit(theirsHash)
	if err != nil {
		return "", false, err
	}
	trustFlag, err := r.checkMergeTrust(theirsCommit, theirsHash)
	if err != nil {
		return "", false, err
	}

	if baseHash == oursHash {
		if err := r.fastForward(theirsHash); err != nil {
			return "", false, err
		}
		return theirsHash, true, nil
	}
	if baseHash == theirsHash {
		return oursHash, false, nil
	}

	oursCommit, err := r.GetCommit(oursHash)
	if err != nil {
		return "", false, err
	}

	preview, err := MergePreview(r, oursHash, theirsHash)
	if err != nil {
		return "", false, err
	}

	idx := NewIndex()
	if existing, err := ReadIndex(r.gitDir); err == nil {
		for p, e := range existing.Entries {
			idx.Stage(p, e.Hash, e.Size, e.Mtime, e.Mode)
		}
	}

	var conflicts []MergeConflict
	var proceduralNotes []string

	for _, entry := range preview.Entries {
		class := ClassifyPath(entry.Path)
		strategy := r.config.StrategyFor(class)

		if entry.ConflictType == ConflictNone {
			hash := entry.OursHash
			if hash == "" {
				hash = entry.TheirsHash
			}
			if hash == "" {
				idx.Unstage(entry.Path)
			} else {
				idx.Stage(entry.Path, hash, 0, 0, 0)
			}
			continue
		}

		switch strategy {
		case "episodic":
			merged, mergeErr := mergeEpisodicBlob(r, entry.BaseHash, entry.OursHash, entry.TheirsHash)
			if mergeErr != nil {
				return "", false, mergeErr
			}
			h, putErr := r.objects.PutBlob(merged)
			if putErr != nil {
				return "", false, putErr
			}
			idx.Stage(entry.Path, h, 0, 0, 0)

		case "procedural":
			pick, note := mergeProceduralPick(oursCommit, theirsCommit, oursHash, theirsHash, entry)
			if pick == "" {
				idx.Unstage(entry.Path)
			} else {
				idx.Stage(entry.Path, pick, 0, 0, 0)
			}
			proceduralNotes = append(proceduralNotes, note)

		default: // semantic, and OTHER treated as semantic per §4.6
			diff, diffErr := ComputeThreeWayDiff(r, entry.BaseHash, entry.OursHash, entry.TheirsHash, entry.Path)
			if diffErr != nil {
				return "", false, diffErr
			}
			if diff.IsBinary || diff.Stats.ConflictRegions > 0 {
				conflicts = append(conflicts, MergeConflict{
					Path: entry.Path, OursHash: entry.OursHash, TheirsHash: entry.TheirsHash,
					BaseHash: entry.BaseHash, Strategy: strategy,
				})
				// Stage the marker-rendered content so the working tree
				// already shows the conflict once checked out.
				rendered := renderConflictMarkers(diff)
				h, putErr := r.objects.PutBlob(rendered)
				if putErr != nil {
					return "", false, putErr
				}
				idx.Stage(entry.Path, h, 0, 0, 0)
				continue
			}
			merged := renderConflictMarkers(diff)
			h, putErr := r.objects.PutBlob(merged)
			if putErr != nil {
				return "", false, putErr
			}
			idx.Stage(entry.Path, h, 0, 0, 0)
		}
	}

	if err := idx.Save(r.gitDir); err != nil {
		return "", false, err
	}

	if message == "" {
		message = fmt.Sprintf("merge %s into %s", theirsHash.Short(), oursHash.Short())
	}
	if len(proceduralNotes) > 0 {
		message += "\n\nprocedural review needed:\n" + strings.Join(proceduralNotes, "\n")
	}

	if len(conflicts) > 0 {
		state := &MergeState{OursHash: oursHash, TheirsHash: theirsHash, BaseHash: baseHash, Message: message, Conflicts: conflicts, TrustFlag: trustFlag}
		if err := r.saveMergeState(state); err != nil {
			return "", false, err
		}
		if err := r.AppendAudit("merge", map[string]string{
			"ours": string(oursHash), "theirs": string(theirsHash),
			"conflicts": fmt.Sprintf("%d", len(conflicts)),
		}); err != nil {
			return "", false, err
		}
		return "", false, errs.New(errs.UnresolvedConflicts, fmt.Sprintf("%d path(s) require resolve", len(conflicts)))
	}

	commitHash, err = r.buildCommitImpl([]Hash{oursHash, theirsHash}, author, message, ReflogMerge, trustMetadata(trustFlag))
	if err != nil {
		return "", false, err
	}
	if err := r.AppendAudit("merge", map[string]string{
		"ours": string(oursHash), "theirs": string(theirsHash), "commit": string(commitHash),
	}); err != nil {
		return commitHash, false, err
	}

	return commitHash, false, nil
}

// trustMetadata turns a non-empty CONDITIONAL signer fingerprint into the
// commit-metadata entry §4.9 requires merges to carry for later review; a
// merge with no such flag (FULL signer, or theirs unsigned) gets nil, adding
// nothing to the commit.
func trustMetadata(trustFlag string) map[string]string {
	if trustFlag == "" {
		return nil
	}
	return map[string]string{"merge_trust_review": trustFlag}
}

// fastForward advances the current branch (or detached HEAD) directly to
// target, with no merge commit, and reloads the staging index from
// target's tree so the working tree can be checked out cleanly.
func (r *Repository) fastForward(target Hash) error {
	head, err := r.Head()
	if err != nil {
		return err
	}
	if head.Detached {
		if err := r.SetHeadDetached(target); err != nil {
			return err
		}
	} else {
		if err := r.SetBranch(head.Branch, target); err != nil {
			return err
		}
	}
	if err := r.AppendReflog(head.Hash, target, ReflogMerge, "fast-forward"); err != nil {
		return err
	}

	commit, err := r.GetCommit(target)
	if err != nil {
		return err
	}
	flat, err := flattenTree(r, commit.Tree, "")
	if err != nil {
		return err
	}
	idx := NewIndex()
	for path, hash := range flat {
		idx.Stage(path, hash, 0, 0, 0)
	}
	if err := idx.Save(r.gitDir); err != nil {
		return err
	}

	return r.AppendAudit("merge", map[string]string{"fast_forward": string(target)})
}

// ResolveSide is the closed set of per-path resolution choices (§4.6).
type ResolveSide string

const (
	ResolveOurs   ResolveSide = "ours"
	ResolveTheirs ResolveSide = "theirs"
	ResolveBoth   ResolveSide = "both"
)

// Resolve clears one conflicted path from the pending merge state, staging
// the chosen side's content. Once every conflict is cleared it writes the
// two-parent merge-completion commit and clears merge state; done reports
// whether that happened on this call.
func (r *Repository) Resolve(path string, side ResolveSide, author Signature) (commitHash Hash, done bool, err error) {
	state, err := r.LoadMergeState()
	if err != nil {
		return "", false, err
	}
	if state == nil {
		return "", false, errs.New(errs.InvalidArgument, "no merge is in progress")
	}

	pos := -1
	for i, c := range state.Conflicts {
		if c.Path == path {
			pos = i
			break
		}
	}
	if pos == -1 {
		return "", false, errs.New(errs.InvalidArgument, fmt.Sprintf("%s is not an unresolved conflict", path))
	}
	conflict := state.Conflicts[pos]

	resolvedHash, err := resolveConflictContent(r, conflict, side)
	if err != nil {
		return "", false, err
	}

	fileIdx, err := ReadIndex(r.gitDir)
	if err != nil {
		return "", false, err
	}
	if resolvedHash == "" {
		fileIdx.Unstage(path)
	} else {
		fileIdx.Stage(path, resolvedHash, 0, 0, 0)
	}
	if err := fileIdx.Save(r.gitDir); err != nil {
		return "", false, err
	}

	state.Conflicts = append(state.Conflicts[:pos], state.Conflicts[pos+1:]...)

	if err := r.AppendAudit("resolve", map[string]string{"path": path, "side": string(side)}); err != nil {
		return "", false, err
	}

	if len(state.Conflicts) > 0 {
		if err := r.saveMergeState(state); err != nil {
			return "", false, err
		}
		return "", false, nil
	}

	commitHash, err = r.buildCommitImpl([]Hash{state.OursHash, state.TheirsHash}, author, state.Message, ReflogMerge, trustMetadata(state.TrustFlag))
	if err != nil {
		return "", false, err
	}
	if err := r.clearMergeState(); err != nil {
		return commitHash, true, err
	}
	if err := r.AppendAudit("merge", map[string]string{
		"ours": string(state.OursHash), "theirs": string(state.TheirsHash), "commit": string(commitHash),
	}); err != nil {
		return commitHash, true, err
	}

	return commitHash, true, nil
}

func resolveConflictContent(repo *Repository, c MergeConflict, side ResolveSide) (Hash, error) {
	switch side {
	case ResolveOurs:
		return c.OursHash, nil
	case ResolveTheirs:
		return c.TheirsHash, nil
	case ResolveBoth:
		var combined []byte
		if c.OursHash != "" {
			oursContent, err := repo.GetBlob(c.OursHash)
			if err != nil {
				return "", err
			}
			combined = append(combined, oursContent...)
		}
		if c.TheirsHash != "" {
			theirsContent, err := repo.GetBlob(c.TheirsHash)
			if err != nil {
				return "", err
			}
			combined = append(combined, theirsContent...)
		}
		return repo.objects.PutBlob(combined)
	default:
		return "", errs.New(errs.InvalidArgument, fmt.Sprintf("unknown resolution side %q", side))
	}
}

// renderConflictMarkers renders a ThreeWayFileDiff's regions back into
// text, inserting the literal `<<<<<<< ours` / `=======` / `>>>>>>>
// theirs` markers around conflicting regions, per §4.6.
func renderConflictMarkers(diff *ThreeWayFileDiff) []byte {
	var lines []string
	for _, region := range diff.Regions {
		switch region.Kind {
		case RegionContext:
			lines = append(lines, region.BaseLines...)
		case RegionOurs:
			lines = append(lines, region.OursLines...)
		case RegionTheirs:
			lines = append(lines, region.TheirsLines...)
		case RegionConflict:
			lines = append(lines, "<<<<<<< ours")
			lines = append(lines, region.OursLines...)
			lines = append(lines, "=======")
			lines = append(lines, region.TheirsLines...)
			lines = append(lines, ">>>>>>> theirs")
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}

// mergeProceduralPick implements PROCEDURAL — prefer newer: the side whose
// commit carries the later committer timestamp wins outright, with no
// in-file markers. On an exact timestamp tie, the resolved tie-break
// applies: compare the committer identity string ("Name <email>") of the
// two commits lexically, then — if that's also equal — the full commit
// hash lexically; the side that sorts greater wins. The caller records note
// in the merge commit message flagging the file for manual review; it
// records both candidate hashes regardless of which side the tie-break
// picked.
func mergeProceduralPick(oursCommit, theirsCommit *Commit, oursHash, theirsHash Hash, entry MergePreviewEntry) (hash Hash, note string) {
	ourTime := oursCommit.Committer.When
	theirTime := theirsCommit.Committer.When

	theirsWins := false
	switch {
	case theirTime.After(ourTime):
		theirsWins = true
	case ourTime.After(theirTime):
		theirsWins = false
	default:
		ourIdentity := oursCommit.Committer.Name + " <" + oursCommit.Committer.Email + ">"
		theirIdentity := theirsCommit.Committer.Name + " <" + theirsCommit.Committer.Email + ">"
		switch {
		case theirIdentity > ourIdentity:
			theirsWins = true
		case ourIdentity > theirIdentity:
			theirsWins = false
		default:
			theirsWins = string(theirsHash) > string(oursHash)
		}
	}

	note = fmt.Sprintf("%s: candidates ours=%s theirs=%s; manual review recommended", entry.Path, oursHash.Short(), theirsHash.Short())
	if theirsWins {
		return entry.TheirsHash, "kept theirs (newer commit, or tie-break) - " + note
	}
	return entry.OursHash, "kept ours (newer commit, or tie-break) - " + note
}

var episodicTimestampRE = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2}))`)

// lineTimestamp extracts a leading ISO-8601 timestamp from an episodic log
// line, per the "timestamps come from a line-prefix convention" rule of
// §4.6.
func lineTimestamp(line string) (time.Time, bool) {
	m := episodicTimestampRE.FindString(line)
	if m == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, m)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// mergeEpisodicBlob implements EPISODIC — chronological append: everything
// base and both sides already agree on (their shared prefix) stays put;
// the lines each side appended beyond that prefix are merged in timestamp
// order. This treats both sides as append-only relative to base, which is
// the only case spec.md's S3 scenario and §4.6's definition actually
// describe; a side that also edited the shared prefix falls outside this
// strategy's scope and its edit is simply dropped from the prefix (the
// PROCEDURAL/SEMANTIC strategies cover files where in-place edits matter).
func mergeEpisodicBlob(repo *Repository, baseHash, oursHash, theirsHash Hash) ([]byte, error) {
	var baseContent, oursContent, theirsContent []byte
	var err error
	if baseHash != "" {
		if baseContent, err = repo.GetBlob(baseHash); err != nil {
			return nil, err
		}
	}
	if oursHash != "" {
		if oursContent, err = repo.GetBlob(oursHash); err != nil {
			return nil, err
		}
	}
	if theirsHash != "" {
		if theirsContent, err = repo.GetBlob(theirsHash); err != nil {
			return nil, err
		}
	}

	baseLines := splitLines(baseContent)
	oursLines := splitLines(oursContent)
	theirsLines := splitLines(theirsContent)

	prefixLen := commonPrefixLen(baseLines, oursLines)
	if p := commonPrefixLen(baseLines, theirsLines); p < prefixLen {
		prefixLen = p
	}

	appended := make([]string, 0, len(oursLines)+len(theirsLines))
	appended = append(appended, oursLines[prefixLen:]...)
	appended = append(appended, theirsLines[prefixLen:]...)

	sort.SliceStable(appended, func(i, j int) bool {
		ti, oki := lineTimestamp(appended[i])
		tj, okj := lineTimestamp(appended[j])
		if oki && okj {
			return ti.Before(tj)
		}
		return false
	})

	merged := append(append([]string{}, baseLines[:prefixLen]...), appended...)
	if len(merged) == 0 {
		return nil, nil
	}
	return []byte(strings.Join(merged, "\n") + "\n"), nil
}

func commonPrefixLen(base, side []string) int {
	n := len(base)
	if len(side) < n {
		n = len(side)
	}
	i := 0
	for i < n && base[i] == side[i] {
		i++
	}
	return i
}
