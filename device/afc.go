package device

import (
	"path"
	"sort"
	"strings"
	"time"

	"github.com/wippyai/device-bridge/ffi"
)

// FileInfo describes an AFC file system entry.
type FileInfo struct {
	Modified time.Time
	Type     string // S_IFREG or S_IFDIR
	Size     int64
	Links    int64
}

func cleanPath(p string) (string, ffi.ForeignError) {
	if p == "" {
		return "", ffi.NewError(CodeInvalidArgument, "empty path")
	}
	return path.Clean("/" + p), nil
}

func (s *Simulator) listDirectory(p string) ([]string, ffi.ForeignError) {
	p, ferr := cleanPath(p)
	if ferr != nil {
		return nil, ferr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.fs[p]
	if !ok {
		return nil, ffi.NewError(CodeAfcObjectNotFound, "%s does not exist", p)
	}
	if !node.dir {
		return nil, ffi.NewError(CodeInvalidArgument, "%s is not a directory", p)
	}

	entries := []string{".", ".."}
	var names []string
	for candidate := range s.fs {
		if candidate != p && path.Dir(candidate) == p {
			names = append(names, path.Base(candidate))
		}
	}
	sort.Strings(names)
	return append(entries, names...), nil
}

func (s *Simulator) makeDirectory(p string) ffi.ForeignError {
	p, ferr := cleanPath(p)
	if ferr != nil {
		return ferr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.fs[p]; ok {
		return ffi.NewError(CodeAfcObjectExists, "%s already exists", p)
	}
	if parent, ok := s.fs[path.Dir(p)]; !ok || !parent.dir {
		return ffi.NewError(CodeAfcObjectNotFound, "parent of %s does not exist", p)
	}
	s.fs[p] = &fsNode{dir: true, modified: time.Now()}
	return nil
}

func (s *Simulator) removePath(p string, recursive bool) ffi.ForeignError {
	p, ferr := cleanPath(p)
	if ferr != nil {
		return ferr
	}
	if p == "/" {
		return ffi.NewError(CodeAfcPermissionDenied, "cannot remove root")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.fs[p]; !ok {
		return ffi.NewError(CodeAfcObjectNotFound, "%s does not exist", p)
	}
	prefix := p + "/"
	var children []string
	for candidate := range s.fs {
		if strings.HasPrefix(candidate, prefix) {
			children = append(children, candidate)
		}
	}
	if len(children) > 0 && !recursive {
		return ffi.NewError(CodeAfcDirNotEmpty, "%s is not empty", p)
	}
	for _, c := range children {
		delete(s.fs, c)
	}
	delete(s.fs, p)
	return nil
}

func (s *Simulator) renamePath(from, to string) ffi.ForeignError {
	from, ferr := cleanPath(from)
	if ferr != nil {
		return ferr
	}
	to, ferr = cleanPath(to)
	if ferr != nil {
		return ferr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.fs[from]
	if !ok {
		return ffi.NewError(CodeAfcObjectNotFound, "%s does not exist", from)
	}
	if _, ok := s.fs[to]; ok {
		return ffi.NewError(CodeAfcObjectExists, "%s already exists", to)
	}
	if parent, ok := s.fs[path.Dir(to)]; !ok || !parent.dir {
		return ffi.NewError(CodeAfcObjectNotFound, "parent of %s does not exist", to)
	}

	prefix := from + "/"
	for candidate, child := range s.fs {
		if strings.HasPrefix(candidate, prefix) {
			delete(s.fs, candidate)
			s.fs[to+"/"+strings.TrimPrefix(candidate, prefix)] = child
		}
	}
	delete(s.fs, from)
	s.fs[to] = node
	return nil
}

func (s *Simulator) fileInfo(p string) (FileInfo, ffi.ForeignError) {
	p, ferr := cleanPath(p)
	if ferr != nil {
		return FileInfo{}, ferr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.fs[p]
	if !ok {
		return FileInfo{}, ffi.NewError(CodeAfcObjectNotFound, "%s does not exist", p)
	}
	info := FileInfo{Modified: node.modified, Size: int64(len(node.data)), Links: 1, Type: "S_IFREG"}
	if node.dir {
		info.Type = "S_IFDIR"
		info.Links = 2
	}
	return info, nil
}

// openFile validates mode and prepares the file at p. Modes follow fopen:
// r, r+, w, w+, a, a+.
func (s *Simulator) openFile(p, mode string) (*afcFile, ffi.ForeignError) {
	p, ferr := cleanPath(p)
	if ferr != nil {
		return nil, ferr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node, exists := s.fs[p]
	if exists && node.dir {
		return nil, ffi.NewError(CodeAfcObjectIsDir, "%s is a directory", p)
	}

	switch mode {
	case "r", "r+":
		if !exists {
			return nil, ffi.NewError(CodeAfcObjectNotFound, "%s does not exist", p)
		}
	case "w", "w+", "a", "a+":
		if parent, ok := s.fs[path.Dir(p)]; !ok || !parent.dir {
			return nil, ffi.NewError(CodeAfcObjectNotFound, "parent of %s does not exist", p)
		}
		if !exists || mode[0] == 'w' {
			node = &fsNode{modified: time.Now()}
			s.fs[p] = node
		}
	default:
		return nil, ffi.NewError(CodeInvalidArgument, "unknown open mode %q", mode)
	}

	f := &afcFile{path: p, mode: mode}
	if mode[0] == 'a' {
		f.offset = len(node.data)
	}
	return f, nil
}

func (s *Simulator) readFile(f *afcFile) ([]byte, ffi.ForeignError) {
	if f.mode == "w" || f.mode == "a" {
		return nil, ffi.NewError(CodeAfcPermissionDenied, "%s not opened for reading", f.path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.fs[f.path]
	if !ok {
		return nil, ffi.NewError(CodeAfcObjectNotFound, "%s was removed", f.path)
	}
	if f.offset >= len(node.data) {
		return []byte{}, nil
	}
	out := make([]byte, len(node.data)-f.offset)
	copy(out, node.data[f.offset:])
	f.offset = len(node.data)
	return out, nil
}

func (s *Simulator) writeFile(f *afcFile, data []byte) (int, ffi.ForeignError) {
	if f.mode == "r" {
		return 0, ffi.NewError(CodeAfcPermissionDenied, "%s not opened for writing", f.path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.fs[f.path]
	if !ok {
		return 0, ffi.NewError(CodeAfcObjectNotFound, "%s was removed", f.path)
	}
	end := f.offset + len(data)
	if end > len(node.data) {
		grown := make([]byte, end)
		copy(grown, node.data)
		node.data = grown
	}
	copy(node.data[f.offset:], data)
	f.offset = end
	node.modified = time.Now()
	return len(data), nil
}

// WriteFile seeds the simulated file system, creating parent directories.
func (s *Simulator) WriteFile(p string, data []byte) {
	p = path.Clean("/" + p)
	s.mu.Lock()
	defer s.mu.Unlock()
	for dir := path.Dir(p); ; dir = path.Dir(dir) {
		if _, ok := s.fs[dir]; !ok {
			s.fs[dir] = &fsNode{dir: true, modified: time.Now()}
		}
		if dir == "/" {
			break
		}
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.fs[p] = &fsNode{data: buf, modified: time.Now()}
}

// ReadFile returns a copy of a simulated file's contents.
func (s *Simulator) ReadFile(p string) ([]byte, bool) {
	p = path.Clean("/" + p)
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.fs[p]
	if !ok || node.dir {
		return nil, false
	}
	out := make([]byte, len(node.data))
	copy(out, node.data)
	return out, true
}
