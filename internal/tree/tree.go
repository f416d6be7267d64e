// Package tree implements the copy-on-write, versioned directory tree
// that backs every revision of the converted repository: one Commit
// per Subversion revision, each with a root Dir; writes to the active
// commit clone whichever Dirs sit below the "saved" watermark so that
// earlier, already-finalised revisions are never mutated, and Diff
// walks two root Dirs to produce the M/D sequence fast-import expects.
package tree

import (
	"sort"

	"github.com/barrbrain/svn-fast-export/internal/arena"
)

// Mode is a fast-import file mode, or 0 ("absent/deleted").
type Mode uint32

const (
	ModeAbsent Mode = 0
	ModeDir    Mode = 0040000
	ModeBlob   Mode = 0100644
	ModeExe    Mode = 0100755
	ModeLink   Mode = 0120000
)

// IsDir reports whether m denotes a directory entry.
func (m Mode) IsDir() bool { return m == ModeDir }

// Dirent is one entry of a Dir: a name (interned string id), a mode,
// and either a child Dir offset (mode == ModeDir) or a blob mark
// (otherwise).
type Dirent struct {
	Name    uint32
	Mode    Mode
	Content uint32
}

// Dir is a run of Size contiguous Dirents starting at First, sorted
// strictly ascending by Name. A deleted entry's Name is set to
// arena.Absent (the maximum uint32 value), which sorts it past every
// real name; Size is decremented so it falls outside the visible run.
type Dir struct {
	Size  uint32
	First uint32
}

// Commit is one revision's root.
type Commit struct {
	Mark uint32
	Root uint32
}

// Sink receives the M/D commands Diff produces. path is a sequence of
// interned string ids from the tree root; it is owned by Diff and must
// not be retained past the call.
type Sink interface {
	Delete(path []uint32) error
	Modify(path []uint32, mode Mode, content uint32) error
}

// Tree holds every revision's directory tree, copy-on-write.
type Tree struct {
	dirs    *arena.Pool[Dir]
	dirents *arena.Pool[Dirent]
	commits *arena.Pool[Commit]

	savedDirs, savedDirents uint32
	active                  uint32
}

// New returns a Tree whose commit 0 (revision 0) has an empty root
// directory — the always-present, always-empty initial Subversion
// revision — frozen below the saved watermark, and whose active commit
// is revision 1, sharing that empty root until its first write.
func New() *Tree {
	t := &Tree{
		dirs:    arena.New[Dir](),
		dirents: arena.New[Dirent](),
		commits: arena.New[Commit](),
	}
	root := t.allocDir(0)
	c0 := t.commits.Alloc(1)
	t.commits.Set(c0, Commit{Root: root})
	t.savedDirs = t.dirs.Size()
	t.savedDirents = t.dirents.Size()
	c1 := t.commits.Alloc(1)
	t.commits.Set(c1, Commit{Root: root})
	t.active = c1
	return t
}

func (t *Tree) allocDir(size uint32) uint32 {
	first := t.dirents.Alloc(int(size))
	off := t.dirs.Alloc(1)
	t.dirs.Set(off, Dir{Size: size, First: first})
	return off
}

// ActiveRevision returns the commit index currently accepting writes,
// which is always the revision number of the in-progress revision.
func (t *Tree) ActiveRevision() uint32 {
	return t.active
}

// SetMark records the fast-import mark (if any) associated with the
// active commit. Nothing in this module calls it: the emitter does not
// reference commits by mark (spec.md's scenarios never print one); the
// field exists for parity with the original's repo_commit_t.mark field.
func (t *Tree) SetMark(mark uint32) {
	c := t.commits.Get(t.active)
	c.Mark = mark
	t.commits.Set(t.active, c)
}

func direntEntries(dirents *arena.Pool[Dirent], d Dir) []Dirent {
	if d.Size == 0 {
		return nil
	}
	return dirents.Slice(d.First, d.Size)
}

func direntIndex(entries []Dirent, name uint32) (int, bool) {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Name >= name })
	if i < len(entries) && entries[i].Name == name {
		return i, true
	}
	return i, false
}

func sortEntries(entries []Dirent) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}

// cloneDir returns a Dir offset whose dirent run has size+padding slots
// and the caller may freely mutate, growing the trailing `padding` slots
// uninitialised. If dirOff is below the saved watermark (belongs to an
// already-finalised commit), a brand new Dir+dirent run is allocated and
// dirOff's caller is responsible for updating whatever referenced
// dirOff to point at the returned offset instead. Otherwise the
// existing Dir record is grown (and possibly relocated in the dirent
// arena) and the same offset is returned.
func (t *Tree) cloneDir(dirOff uint32, padding uint32) uint32 {
	orig := t.dirs.Get(dirOff)
	newSize := orig.Size + padding
	if dirOff < t.savedDirs {
		newFirst := t.dirents.Alloc(int(newSize))
		if orig.Size > 0 {
			copy(t.dirents.Slice(newFirst, orig.Size), t.dirents.Slice(orig.First, orig.Size))
		}
		newOff := t.dirs.Alloc(1)
		t.dirs.Set(newOff, Dir{Size: newSize, First: newFirst})
		return newOff
	}
	if padding == 0 {
		return dirOff
	}
	newFirst := t.dirents.Alloc(int(newSize))
	if orig.Size > 0 {
		copy(t.dirents.Slice(newFirst, orig.Size), t.dirents.Slice(orig.First, orig.Size))
	}
	t.dirs.Set(dirOff, Dir{Size: newSize, First: newFirst})
	return dirOff
}

// ReadDirent resolves path against the root of the given revision,
// returning ok=false if any component is missing or an intermediate
// component is not a directory.
func (t *Tree) ReadDirent(revision uint32, path []uint32) (Dirent, bool) {
	dirOff := t.commits.Get(revision).Root
	if len(path) == 0 {
		return Dirent{Mode: ModeDir, Content: dirOff}, true
	}
	var de Dirent
	for i, name := range path {
		dir := t.dirs.Get(dirOff)
		entries := direntEntries(t.dirents, dir)
		idx, found := direntIndex(entries, name)
		if !found {
			return Dirent{}, false
		}
		de = entries[idx]
		if i == len(path)-1 {
			return de, true
		}
		if !de.Mode.IsDir() {
			return Dirent{}, false
		}
		dirOff = de.Content
	}
	return de, true
}

// WriteDirent writes mode/content at path in the active commit. If del
// is set, the entry is removed instead (mode/content are then
// ignored).
func (t *Tree) WriteDirent(path []uint32, mode Mode, content uint32, del bool) {
	cur := t.commits.Get(t.active)
	rootOff := t.cloneDir(cur.Root, 0)
	if rootOff != cur.Root {
		cur.Root = rootOff
		t.commits.Set(t.active, cur)
	}

	dirOff := rootOff
	for _, name := range path[:len(path)-1] {
		dir := t.dirs.Get(dirOff)
		entries := direntEntries(t.dirents, dir)
		idx, found := direntIndex(entries, name)
		switch {
		case !found:
			dirOff = t.cloneDir(dirOff, 1)
			dir = t.dirs.Get(dirOff)
			entries = direntEntries(t.dirents, dir)
			entries[len(entries)-1] = Dirent{Name: name, Mode: ModeDir, Content: arena.Absent}
			sortEntries(entries)
			idx, _ = direntIndex(entries, name)
			childOff := t.allocDir(0)
			entries[idx].Content = childOff
			dirOff = childOff
		case entries[idx].Mode.IsDir():
			childOff := t.cloneDir(entries[idx].Content, 0)
			if childOff != entries[idx].Content {
				// cloneDir may have grown the dirent arena: re-fetch the view.
				entries = direntEntries(t.dirents, t.dirs.Get(dirOff))
				entries[idx].Content = childOff
			}
			dirOff = childOff
		default:
			childOff := t.allocDir(0)
			entries[idx].Mode = ModeDir
			entries[idx].Content = childOff
			dirOff = childOff
		}
	}

	name := path[len(path)-1]
	dir := t.dirs.Get(dirOff)
	entries := direntEntries(t.dirents, dir)
	idx, found := direntIndex(entries, name)
	if !found {
		if del {
			return
		}
		dirOff = t.cloneDir(dirOff, 1)
		dir = t.dirs.Get(dirOff)
		entries = direntEntries(t.dirents, dir)
		entries[len(entries)-1] = Dirent{Name: name}
		sortEntries(entries)
		idx, _ = direntIndex(entries, name)
	}
	entries[idx].Mode = mode
	entries[idx].Content = content
	if del {
		entries[idx].Name = arena.Absent
		sortEntries(entries)
		dir.Size--
		t.dirs.Set(dirOff, dir)
	}
}

// Copy resolves src at srcRevision and writes its (mode, content) at
// dst in the active commit. If src does not exist at srcRevision, dst
// is deleted instead — spec.md's explicit override of the original's
// silent no-op — and Mode 0 is returned either way to signal "not
// present at the source revision".
func (t *Tree) Copy(srcRevision uint32, src, dst []uint32) Mode {
	de, ok := t.ReadDirent(srcRevision, src)
	if !ok {
		t.WriteDirent(dst, ModeAbsent, 0, true)
		return ModeAbsent
	}
	t.WriteDirent(dst, de.Mode, de.Content, false)
	return de.Mode
}

// Add writes a brand new entry with an explicit mode (used when the
// node handler already knows the type, e.g. from Node-kind).
func (t *Tree) Add(path []uint32, mode Mode, blobMark uint32) {
	t.WriteDirent(path, mode, blobMark, false)
}

// Modify is Add under another name, matching the node handler's
// dispatch table (spec.md §4.6) which calls them from different
// branches of the same switch even though both just place a dirent.
func (t *Tree) Modify(path []uint32, mode Mode, blobMark uint32) {
	t.WriteDirent(path, mode, blobMark, false)
}

// Replace resolves path's current mode in the active commit and
// rewrites its content to blobMark, inheriting the existing mode. A
// no-op if path does not currently exist.
func (t *Tree) Replace(path []uint32, blobMark uint32) Mode {
	de, ok := t.ReadDirent(t.active, path)
	if !ok {
		return ModeAbsent
	}
	t.WriteDirent(path, de.Mode, blobMark, false)
	return de.Mode
}

// Delete removes path from the active commit.
func (t *Tree) Delete(path []uint32) {
	t.WriteDirent(path, ModeAbsent, 0, true)
}

// FinalizeRevision closes out the currently active commit: if it is
// not revision 0, diff emits the M/D sequence against the previous
// commit via sink. It then snapshots the saved watermarks (freezing
// every Dir/Dirent allocated so far) and opens a new active commit
// sharing the just-closed commit's root.
func (t *Tree) FinalizeRevision(sink Sink) error {
	cur := t.active
	if cur != 0 {
		if err := t.diff(cur-1, cur, sink); err != nil {
			return err
		}
	}
	t.savedDirs = t.dirs.Size()
	t.savedDirents = t.dirents.Size()
	root := t.commits.Get(cur).Root
	next := t.commits.Alloc(1)
	t.commits.Set(next, Commit{Root: root})
	t.active = next
	return nil
}

func (t *Tree) diff(r1, r2 uint32, sink Sink) error {
	root1 := t.dirs.Get(t.commits.Get(r1).Root)
	root2 := t.dirs.Get(t.commits.Get(r2).Root)
	return t.diffDirs(nil, root1, root2, sink)
}

func (t *Tree) diffDirs(path []uint32, dir1, dir2 Dir, sink Sink) error {
	e1 := direntEntries(t.dirents, dir1)
	e2 := direntEntries(t.dirents, dir2)
	var i1, i2 int
	for i1 < len(e1) && i2 < len(e2) {
		a, b := e1[i1], e2[i2]
		switch {
		case a.Name < b.Name:
			if err := sink.Delete(append(path, a.Name)); err != nil {
				return err
			}
			i1++
		case a.Name > b.Name:
			if err := t.addR(append(path, b.Name), b, sink); err != nil {
				return err
			}
			i2++
		default:
			if a.Mode != b.Mode || a.Content != b.Content {
				p := append(path, a.Name)
				if a.Mode.IsDir() && b.Mode.IsDir() {
					if err := t.diffDirs(p, t.dirs.Get(a.Content), t.dirs.Get(b.Content), sink); err != nil {
						return err
					}
				} else {
					if a.Mode.IsDir() != b.Mode.IsDir() {
						if err := sink.Delete(p); err != nil {
							return err
						}
					}
					if err := t.addR(p, b, sink); err != nil {
						return err
					}
				}
			}
			i1++
			i2++
		}
	}
	for ; i1 < len(e1); i1++ {
		if err := sink.Delete(append(path, e1[i1].Name)); err != nil {
			return err
		}
	}
	for ; i2 < len(e2); i2++ {
		if err := t.addR(append(path, e2[i2].Name), e2[i2], sink); err != nil {
			return err
		}
	}
	return nil
}

// addR emits M for de (or recurses for a whole new subtree).
func (t *Tree) addR(path []uint32, de Dirent, sink Sink) error {
	if !de.Mode.IsDir() {
		return sink.Modify(path, de.Mode, de.Content)
	}
	dir := t.dirs.Get(de.Content)
	for _, child := range direntEntries(t.dirents, dir) {
		if err := t.addR(append(append([]uint32(nil), path...), child.Name), child, sink); err != nil {
			return err
		}
	}
	return nil
}
