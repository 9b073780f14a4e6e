package dip

import "fmt"

// ErrValueUnaware signals that the caller asked for a value the runtime
// never saw produced. It is a status signal, not a fault: the runtime stays
// healthy and the caller is expected to handle it (Design Note: exceptions
// as control flow become result variants, not panics).
var ErrValueUnaware = fmt.Errorf("dip: value unaware")

// WillAccess is the DIP's core primitive: given a DataInfo and a requested
// Direction, it advances version bookkeeping and returns the AccessID the
// caller should hold until it commits or cancels the access.
func WillAccess(info *DataInfo, dir Direction) (*AccessID, error) {
	if info == nil {
		return nil, ErrValueUnaware
	}
	switch dir {
	case DirR:
		return willAccessRead(info)
	case DirW:
		return willAccessWrite(info)
	case DirRW, DirCV:
		return willAccessReadWrite(info, dir)
	case DirC:
		return willAccessConcurrent(info)
	default:
		return nil, fmt.Errorf("dip: unknown direction %v", dir)
	}
}

func willAccessRead(info *DataInfo) (*AccessID, error) {
	cur := info.currentVersion()
	if cur == nil {
		return nil, ErrValueUnaware
	}
	cur.PendingReads++
	return &AccessID{Direction: DirR, Info: info, HasRead: true, ReadVersion: cur.VersionID}, nil
}

func willAccessConcurrent(info *DataInfo) (*AccessID, error) {
	cur := info.currentVersion()
	if cur == nil {
		return nil, ErrValueUnaware
	}
	cur.PendingReads++
	cur.BeenUsed = true
	return &AccessID{Direction: DirC, Info: info, HasRead: true, ReadVersion: cur.VersionID}, nil
}

func willAccessWrite(info *DataInfo) (*AccessID, error) {
	next := advanceVersion(info)
	next.PendingWrites++
	return &AccessID{Direction: DirW, Info: info, HasWrite: true, WriteVersion: next.VersionID}, nil
}

func willAccessReadWrite(info *DataInfo, dir Direction) (*AccessID, error) {
	cur := info.currentVersion()
	if cur == nil {
		return nil, ErrValueUnaware
	}
	cur.PendingReads++
	readVersion := cur.VersionID
	next := advanceVersion(info)
	next.PendingWrites++
	next.Predecessor = readVersion
	next.HasPred = true
	return &AccessID{
		Direction: dir, Info: info,
		HasRead: true, ReadVersion: readVersion,
		HasWrite: true, WriteVersion: next.VersionID,
	}, nil
}

// advanceVersion allocates the next version id, skipping over any ids that
// were retroactively marked cancelled.
func advanceVersion(info *DataInfo) *DataVersion {
	next := info.CurrentVersionID + 1
	for info.Cancelled[next] {
		next++
	}
	v := newVersion(info.ID, next)
	info.Versions[next] = v
	info.CurrentVersionID = next
	return v
}

// CommittedAccess finalizes an access: decrements the relevant pending
// counters and releases versions that are no longer needed.
func CommittedAccess(a *AccessID) {
	if a == nil || a.resolved {
		return
	}
	a.resolved = true
	info := a.Info
	if a.HasRead {
		if v := info.Versions[a.ReadVersion]; v != nil {
			v.PendingReads--
			maybeRelease(info, v)
		}
	}
	if a.HasWrite {
		if v := info.Versions[a.WriteVersion]; v != nil {
			v.PendingWrites--
			v.BeenUsed = true
			maybeRelease(info, v)
		}
		releaseSupersededVersions(info)
	}
}

// releaseSupersededVersions scans every version other than the current one
// and frees whichever have gone unreferenced, matching the predecessor walk
// StandardDataInfo performs once a write is confirmed. This is needed on top
// of the direct maybeRelease call above because a plain overwrite (DirW with
// no preceding read) never records which version it replaced, so nothing
// else ever points back at the version it superseded.
func releaseSupersededVersions(info *DataInfo) {
	for id, v := range info.Versions {
		if id == info.CurrentVersionID {
			continue
		}
		maybeRelease(info, v)
	}
}

// CancelledAccess cancels an access. When keepModified is true the write is
// treated as if it had committed (dependents of the new version stay
// valid). When false, currentVersionId is rewound past every cancelled
// predecessor to the most recent version that was actually used, or to
// version 1 if none was.
func CancelledAccess(a *AccessID, keepModified bool) {
	if a == nil || a.resolved {
		return
	}
	a.resolved = true
	info := a.Info

	if a.HasRead {
		if v := info.Versions[a.ReadVersion]; v != nil {
			v.PendingReads--
			maybeRelease(info, v)
		}
	}
	if !a.HasWrite {
		return
	}
	written := info.Versions[a.WriteVersion]
	if written != nil {
		written.PendingWrites--
	}
	if keepModified {
		if written != nil {
			written.BeenUsed = true
			maybeRelease(info, written)
		}
		releaseSupersededVersions(info)
		return
	}

	if written != nil {
		written.Cancelled = true
	}
	info.Cancelled[a.WriteVersion] = true
	rewind(info)
}

// rewind restores CurrentVersionID to the most recent non-cancelled
// version that was actually used, stopping at version 1 (the floor: an
// entirely empty predecessor chain, per the open question in the source,
// is treated as "start fresh from version 1" rather than an error).
func rewind(info *DataInfo) {
	v := info.CurrentVersionID
	for v > 1 {
		if !info.Cancelled[v] {
			cur := info.Versions[v]
			if cur != nil && (cur.BeenUsed || !cur.Cancelled) {
				break
			}
		}
		v--
	}
	if v < 1 {
		v = 1
	}
	info.CurrentVersionID = v
	if _, ok := info.Versions[v]; !ok {
		info.Versions[v] = newVersion(info.ID, v)
	}
}

// maybeRelease frees a version's physical data once no reads or writes are
// pending against it, it is no longer current, and no deletion block is
// active. Deletion safety is enforced here: a version is
// never queued for physical removal while it is still current or while
// pendingReads+pendingWrites > 0.
func maybeRelease(info *DataInfo, v *DataVersion) {
	if v.Live() {
		return
	}
	if v.VersionID == info.CurrentVersionID {
		return
	}
	if info.DeletionBlocks > 0 {
		info.PendingDeletions = append(info.PendingDeletions, v.VersionID)
		return
	}
	v.ToDelete = true
	delete(info.Versions, v.VersionID)
}

// Delete marks the DataInfo itself as no longer needed by the application.
// It deregisters from the owner once every version has been physically
// removed; if versions remain live, deletion is deferred until they drain.
func Delete(info *DataInfo) {
	info.Deleted = true
	if len(info.Versions) == 0 && info.Owner != nil {
		info.Owner.UnregisterData(info.ID)
	}
}

// BlockDeletions defers physical removal of versions (used while a value is
// being exported to the main process, e.g. a file is open for reading).
func BlockDeletions(info *DataInfo) {
	info.DeletionBlocks++
}

// UnblockDeletions flushes the pending-deletions list once the last block is
// released, and deregisters the DataInfo if it was already marked deleted
// and now has no versions left.
func UnblockDeletions(info *DataInfo) {
	if info.DeletionBlocks == 0 {
		return
	}
	info.DeletionBlocks--
	if info.DeletionBlocks > 0 {
		return
	}
	pending := info.PendingDeletions
	info.PendingDeletions = nil
	for _, vid := range pending {
		delete(info.Versions, vid)
	}
	if info.Deleted && len(info.Versions) == 0 && info.Owner != nil {
		info.Owner.UnregisterData(info.ID)
	}
}
