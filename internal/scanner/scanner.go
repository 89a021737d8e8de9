// Package scanner implements the engine's Source Scanner (spec §4.1): a
// parallel directory walk producing a deterministic, deduplicated stream of
// candidate file paths. Mirrors lci's pipeline_scanner.go (filename
// filtering, exclusion matching) generalized to a work-stealing walk over a
// worker pool sized to GOMAXPROCS, using doublestar for glob matching in
// place of lci's hand-rolled ** matcher.
package scanner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/gofast-runner/internal/debug"
	"github.com/standardbeagle/gofast-runner/internal/rerrors"
)

// Warning is a non-fatal discovery issue: an unreadable file or directory
// that was skipped rather than aborting the run (spec §4.1 edge cases).
type Warning struct {
	Path string
	Err  error
}

// Scanner walks one or more root directories and yields candidate file
// paths matching the inclusion patterns and not matching the exclusion set.
type Scanner struct {
	Roots          []string
	Include        []string
	Exclude        []string
	FollowSymlinks bool
	Workers        int // 0 = runtime.GOMAXPROCS(0)
}

// New builds a Scanner with the given roots and patterns; workers defaults
// to GOMAXPROCS when <= 0.
func New(roots, include, exclude []string, followSymlinks bool, workers int) *Scanner {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Scanner{
		Roots:          roots,
		Include:        include,
		Exclude:        exclude,
		FollowSymlinks: followSymlinks,
		Workers:        workers,
	}
}

// Scan walks all roots concurrently and returns the deduplicated,
// unordered multiset of matching absolute paths plus any warnings
// encountered. Deterministic ordering is the parser's job (sort-by-path,
// spec §4.1).
func (s *Scanner) Scan(ctx context.Context) ([]string, []Warning, error) {
	var (
		mu       sync.Mutex
		seen     = make(map[string]struct{}) // dedup by resolved identity
		paths    []string
		warnings []Warning
	)

	// Work-stealing queue of directories to visit, seeded with the roots.
	queue := make(chan string, 256)
	var pending sync.WaitGroup

	g, ctx := errgroup.WithContext(ctx)

	enqueue := func(dir string) {
		pending.Add(1)
		select {
		case queue <- dir:
		default:
			// Queue full: process synchronously by growing via a goroutine
			// rather than blocking the producer indefinitely.
			go func() { queue <- dir }()
		}
	}

	resolvedRoots := make([]string, 0, len(s.Roots))
	for _, root := range s.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			mu.Lock()
			warnings = append(warnings, Warning{Path: root, Err: err})
			mu.Unlock()
			continue
		}
		real, err := resolveIdentity(abs, s.FollowSymlinks)
		if err != nil {
			mu.Lock()
			warnings = append(warnings, Warning{Path: abs, Err: err})
			mu.Unlock()
			continue
		}
		resolvedRoots = append(resolvedRoots, real)
	}

	for _, root := range resolvedRoots {
		enqueue(root)
	}

	// Closer goroutine: once every enqueued directory has been drained and
	// no new work remains pending, close the queue so workers exit.
	done := make(chan struct{})
	go func() {
		pending.Wait()
		close(done)
	}()

	workerCount := s.Workers
	if workerCount < 1 {
		workerCount = 1
	}
	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-done:
					return nil
				case dir, ok := <-queue:
					if !ok {
						return nil
					}
					s.visitDir(dir, enqueue, func(p string) {
						mu.Lock()
						defer mu.Unlock()
						if _, dup := seen[p]; dup {
							return
						}
						seen[p] = struct{}{}
						paths = append(paths, p)
					}, func(w Warning) {
						mu.Lock()
						defer mu.Unlock()
						warnings = append(warnings, w)
					})
					pending.Done()
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, warnings, err
	}

	debug.LogDiscovery("scan complete: %d candidate files, %d warnings", len(paths), len(warnings))
	return paths, warnings, nil
}

func (s *Scanner) visitDir(dir string, enqueue func(string), emit func(string), warn func(Warning)) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		warn(Warning{Path: dir, Err: rerrors.NewDiscoveryError("readdir", dir, err)})
		return
	}

	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())

		if s.isExcluded(full, entry.IsDir()) {
			continue
		}

		if entry.IsDir() {
			enqueue(full)
			continue
		}

		info, err := entry.Info()
		if err != nil {
			warn(Warning{Path: full, Err: rerrors.NewDiscoveryError("stat", full, err)})
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			if !s.FollowSymlinks {
				continue
			}
			resolved, err := filepath.EvalSymlinks(full)
			if err != nil {
				warn(Warning{Path: full, Err: rerrors.NewDiscoveryError("resolve-symlink", full, err)})
				continue
			}
			full = resolved
		}

		if !s.matchesInclude(full) {
			continue
		}
		if !isReadable(full) {
			warn(Warning{Path: full, Err: rerrors.NewDiscoveryError("access", full, os.ErrPermission)})
			continue
		}
		emit(full)
	}
}

func (s *Scanner) isExcluded(path string, isDir bool) bool {
	base := filepath.Base(path)
	// Byte-level prefix/suffix fast path for the common VCS/build/cache names
	// before falling back to full glob matching (spec §4.1).
	switch base {
	case ".git", ".hg", ".svn", "__pycache__", ".pytest_cache", ".mypy_cache",
		"node_modules", ".venv", "venv", ".tox", ".eggs":
		return true
	}
	slashPath := filepath.ToSlash(path)
	for _, pattern := range s.Exclude {
		if ok, _ := doublestar.Match(pattern, slashPath); ok {
			return true
		}
	}
	return false
}

func (s *Scanner) matchesInclude(path string) bool {
	base := filepath.Base(path)
	if len(s.Include) == 0 {
		return defaultInclude(base)
	}
	for _, pattern := range s.Include {
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func defaultInclude(base string) bool {
	if len(base) >= len("test_") && base[:len("test_")] == "test_" {
		return true
	}
	const suffix = "_test.py"
	return len(base) >= len(suffix) && base[len(base)-len(suffix):] == suffix
}

func isReadable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// resolveIdentity returns the canonical path used to dedup a root: symlinks
// are resolved once per root (spec §4.1), regardless of FollowSymlinks,
// since the root itself is a user-supplied entry point, not a discovered
// symlinked file.
func resolveIdentity(path string, followSymlinks bool) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return path, nil
		}
		return "", err
	}
	return resolved, nil
}

// SortPaths imposes the deterministic ordering the parser relies on
// (spec §4.1: "the parser imposes deterministic ordering later via
// sort-by-path").
func SortPaths(paths []string) []string {
	out := make([]string, len(paths))
	copy(out, paths)
	sort.Strings(out)
	return out
}
