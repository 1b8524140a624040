package syncengine

import "sort"

// equalTolerance is the maximum mtime skew, in seconds, two sides may
// differ by and still be considered equal, per spec.md §4.1.
const equalTolerance = 1.0

// planActions implements spec.md §4.1's action planner: dirty paths first
// (in the order they were marked), then the remaining union of local and
// remote paths in sorted order.
func planActions(local, remote Snapshot, prior SyncState, dirty []string, allowDelete, localPriority bool) []Action {
	seen := make(map[string]bool, len(dirty))
	ordered := make([]string, 0, len(local)+len(remote))
	for _, p := range dirty {
		if seen[p] {
			continue
		}
		seen[p] = true
		ordered = append(ordered, p)
	}

	rest := make([]string, 0, len(local)+len(remote))
	all := make(map[string]bool, len(local)+len(remote))
	for p := range local {
		all[p] = true
	}
	for p := range remote {
		all[p] = true
	}
	for p := range all {
		if !seen[p] {
			rest = append(rest, p)
		}
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	actions := make([]Action, 0, len(ordered))
	for _, p := range ordered {
		if action, ok := planOne(p, local, remote, prior, allowDelete, localPriority); ok {
			actions = append(actions, action)
		}
	}
	return actions
}

func planOne(p string, local, remote Snapshot, prior SyncState, allowDelete, localPriority bool) (Action, bool) {
	localMeta, hasLocal := local[p]
	remoteMeta, hasRemote := remote[p]

	switch {
	case hasLocal && hasRemote:
		if !filesDiffer(localMeta, remoteMeta) {
			return Action{}, false
		}
		if localPriority || localMeta.MTime >= remoteMeta.MTime {
			return Action{Kind: ActionUpload, Path: p}, true
		}
		return Action{Kind: ActionDownload, Path: p}, true

	case hasLocal && !hasRemote:
		if wasOnBothSides(prior, p) {
			if allowDelete {
				return Action{Kind: ActionDeleteLocal, Path: p}, true
			}
			return Action{Kind: ActionUpload, Path: p}, true
		}
		return Action{Kind: ActionUpload, Path: p}, true

	case hasRemote && !hasLocal:
		if wasOnBothSides(prior, p) {
			if allowDelete {
				return Action{Kind: ActionDeleteRemote, Path: p}, true
			}
			return Action{Kind: ActionDownload, Path: p}, true
		}
		return Action{Kind: ActionDownload, Path: p}, true

	default:
		// Neither side present: can only arise via stale prior state.
		return Action{}, false
	}
}

func filesDiffer(local, remote FileMeta) bool {
	sizeDiff := local.Size - remote.Size
	if sizeDiff < 0 {
		sizeDiff = -sizeDiff
	}
	timeDiff := local.MTime - remote.MTime
	if timeDiff < 0 {
		timeDiff = -timeDiff
	}
	return sizeDiff != 0 || timeDiff > equalTolerance
}

func wasOnBothSides(prior SyncState, p string) bool {
	entry, ok := prior[p]
	return ok && entry.LocalExists && entry.RemoteExists
}
