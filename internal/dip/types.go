// Package dip implements the data model and Data Info Provider: identity and
// versioning of every logical value the runtime tracks, plus the primitive
// operations that advance, commit and cancel versions.
//
// Everything in this package is mutated exclusively by the Access Processor
// goroutine (see package runtime). No type here takes its own lock; callers
// outside the AP loop must not touch these values directly.
package dip

import "fmt"

// DataID uniquely identifies one logical Data within a Runtime. Allocated
// from a monotonic per-Runtime counter, never reused.
type DataID uint64

// VersionID is strictly increasing per DataID, starting at 1.
type VersionID uint64

// DataInstanceID names one specific version of one Data. Its string form
// (Renaming) is the key under which the transfer layer addresses the bytes.
type DataInstanceID struct {
	DataID    DataID
	VersionID VersionID
}

func (id DataInstanceID) Renaming() string {
	return fmt.Sprintf("d%dv%d", id.DataID, id.VersionID)
}

// Kind distinguishes the physical shape of a Data without resorting to a
// class hierarchy: every kind-specific behavior is a switch over Kind
// instead of a virtual method, per the tagged-variant rewrite of the
// source's FileInfo/ObjectInfo/CollectionInfo/StreamInfo/BindingObjectInfo
// subclasses.
type Kind int

const (
	KindFile Kind = iota
	KindObject
	KindCollection
	KindDictCollection
	KindBindingObject
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindObject:
		return "object"
	case KindCollection:
		return "collection"
	case KindDictCollection:
		return "dict_collection"
	case KindBindingObject:
		return "binding_object"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// isStreamLike reports whether a Data of this kind participates in the
// stream-specific dependency rules of the Task Analyser (reads do not
// consume the version; writers remain active producers until closed).
//
// The source checks `type != DIRECTORY_T || type != STREAM_T ||
// type != EXTERNAL_STREAM_T`, an always-true disjunction. The evidently
// intended check is a conjunction: "neither a directory, nor a stream, nor
// an external stream". This corrected form is what isStreamLike expresses
// for the two kinds this model actually carries (Stream, and everything
// else); DIRECTORY_T has no analogue here since directories are files with
// a location that happens to be a directory URI.
func (k Kind) isStreamLike() bool {
	return k == KindStream
}

// TaskRef identifies the task (or CommutativeGroupTask) that produced or is
// consuming a version, without this package depending on package analyser.
type TaskRef uint64

// DataVersion is one immutable generation of a Data.
type DataVersion struct {
	DataID    DataID
	VersionID VersionID

	// Predecessor is the version this one was derived from, used to walk
	// backwards on cancellation. Zero means "no predecessor" (this is the
	// very first version of the Data).
	Predecessor VersionID
	HasPred     bool

	PendingReads  int
	PendingWrites int
	BeenUsed      bool
	ToDelete      bool
	Cancelled     bool

	// Writer is the task (or group) that produces this version, if any has
	// been assigned yet.
	Writer   TaskRef
	HasWriter bool
}

// Live reports whether the version is still needed: some read or write is
// still pending against it.
func (v *DataVersion) Live() bool {
	return v.PendingReads > 0 || v.PendingWrites > 0
}

// DataInfo is the runtime's record of one logical value's identity and
// versions. One instance per live Data, regardless of Kind.
type DataInfo struct {
	ID     DataID
	Kind   Kind
	Owner  DataOwner

	CurrentVersionID VersionID
	Versions         map[VersionID]*DataVersion
	Cancelled        map[VersionID]bool

	DeletionBlocks   int
	PendingDeletions []VersionID
	Deleted          bool

	// Kind-specific payload. Only the field matching Kind is meaningful.
	Location     string   // KindFile: location URI
	ObjectHash   uint64   // KindObject: caller address-space hashcode
	CollectionID string   // KindCollection / KindDictCollection
	Children     []DataID // KindCollection: ordered child Data
	BindingID    string   // KindBindingObject

	// Stream state (KindStream only).
	StreamWriters map[TaskRef]bool
	StreamClosed  bool
}

// DataOwner is implemented by whatever registers/looks up/unregisters Data
// on behalf of an application (typically *app.Application). Kept as an
// interface so the arena of DataInfo values has no import cycle back to the
// owner: the source's Application <-> DataInfo cyclic reference becomes an
// interface reference plus an integer id, per the arena rewrite.
type DataOwner interface {
	RegisterData(info *DataInfo)
	UnregisterData(id DataID)
}

func newVersion(dataID DataID, versionID VersionID) *DataVersion {
	return &DataVersion{DataID: dataID, VersionID: versionID}
}

// NewDataInfo creates a DataInfo at version 1, matching the invariant that
// currentVersionId starts at 1.
func NewDataInfo(id DataID, kind Kind, owner DataOwner) *DataInfo {
	info := &DataInfo{
		ID:               id,
		Kind:             kind,
		Owner:            owner,
		CurrentVersionID: 1,
		Versions:         make(map[VersionID]*DataVersion),
		Cancelled:        make(map[VersionID]bool),
	}
	info.Versions[1] = newVersion(id, 1)
	if kind.isStreamLike() {
		info.StreamWriters = make(map[TaskRef]bool)
	}
	return info
}

func (info *DataInfo) currentVersion() *DataVersion {
	return info.Versions[info.CurrentVersionID]
}

// Direction is the access mode of an AccessID: R, W, RW, C (concurrent) or
// CV (commutative).
type Direction int

const (
	DirR Direction = iota
	DirW
	DirRW
	DirC
	DirCV
)

func (d Direction) String() string {
	switch d {
	case DirR:
		return "R"
	case DirW:
		return "W"
	case DirRW:
		return "RW"
	case DirC:
		return "C"
	case DirCV:
		return "CV"
	default:
		return "?"
	}
}

func (d Direction) IsWrite() bool {
	return d == DirW || d == DirRW || d == DirCV
}

func (d Direction) IsRead() bool {
	return d == DirR || d == DirRW || d == DirC
}

// AccessID describes one access to a Data. It always references its
// DataInfo; a reading access carries ReadVersion, a writing access carries
// WriteVersion, RW/CV carry both.
type AccessID struct {
	Direction Direction
	Info      *DataInfo

	HasRead    bool
	ReadVersion VersionID

	HasWrite     bool
	WriteVersion VersionID

	// committed/cancelled guard idempotent Commit/Cancel calls.
	resolved bool
}

func (a *AccessID) ReadInstance() (DataInstanceID, bool) {
	if !a.HasRead {
		return DataInstanceID{}, false
	}
	return DataInstanceID{DataID: a.Info.ID, VersionID: a.ReadVersion}, true
}

func (a *AccessID) WriteInstance() (DataInstanceID, bool) {
	if !a.HasWrite {
		return DataInstanceID{}, false
	}
	return DataInstanceID{DataID: a.Info.ID, VersionID: a.WriteVersion}, true
}
