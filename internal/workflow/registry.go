package workflow

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"colony/internal/apperr"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/errgroup"
)

// Registry indexes validated workflows by name. It is built once at boot by
// Load and is read-only afterwards (spec.md §4.1: "no hot-reload in v1").
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
}

// Load reads every *.toml file in dir, parses and validates each one
// concurrently (one goroutine per file, mirroring the teacher's
// errgroup-based concurrent fan-out in internal/campaign/intelligence_gatherer.go),
// and indexes the valid ones by workflow name. Invalid manifests are
// collected as LoadErrors and do not prevent the rest of the directory from
// loading (spec.md §4.1 / §7 ManifestInvalid: "fatal for that manifest; boot
// continues with the rest").
func Load(dir string, logger *slog.Logger) (*Registry, []LoadError) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return &Registry{workflows: map[string]*Workflow{}}, []LoadError{{File: dir, Err: err}}
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".toml" {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	type result struct {
		file string
		wf   *Workflow
		err  error
	}
	results := make([]result, len(files))

	g := new(errgroup.Group)
	for i, name := range files {
		i, name := i, name
		g.Go(func() error {
			path := filepath.Join(dir, name)
			var m Manifest
			if _, err := toml.DecodeFile(path, &m); err != nil {
				results[i] = result{file: name, err: err}
				return nil
			}
			wf, err := validate(m, dir)
			results[i] = result{file: name, wf: wf, err: err}
			return nil
		})
	}
	_ = g.Wait() // per-file errors are captured in results, never fatal to the batch

	reg := &Registry{workflows: map[string]*Workflow{}}
	loadedFrom := map[string]string{} // workflow name -> file it was registered from
	var loadErrs []LoadError
	for _, r := range results {
		if r.err != nil {
			logger.Warn("workflow manifest rejected", "file", r.file, "error", r.err)
			loadErrs = append(loadErrs, LoadError{File: r.file, Err: r.err})
			continue
		}
		if existing, dup := reg.workflows[r.wf.Name]; dup {
			if resolveVersionPrecedence(existing.Version, r.wf.Version) != winnerChallenger {
				err := duplicateWorkflowVersionError(r.wf.Name, r.wf.Version)
				logger.Warn("workflow manifest rejected", "file", r.file, "error", err)
				loadErrs = append(loadErrs, LoadError{File: r.file, Err: err})
				continue
			}
			superseded := apperr.ManifestInvalid("workflow %q version %q superseded by version %q", r.wf.Name, existing.Version, r.wf.Version)
			logger.Warn("workflow manifest rejected", "file", loadedFrom[r.wf.Name], "error", superseded)
			loadErrs = append(loadErrs, LoadError{File: loadedFrom[r.wf.Name], Err: superseded})
		}
		reg.workflows[r.wf.Name] = r.wf
		loadedFrom[r.wf.Name] = r.file
		logger.Info("workflow manifest loaded", "file", r.file, "workflow", r.wf.Name, "steps", len(r.wf.Steps))
	}

	return reg, loadErrs
}

type versionPrecedence int

const (
	winnerIncumbent  versionPrecedence = iota // existing stays; challenger rejected
	winnerChallenger                          // challenger has a strictly higher version; it replaces existing
	winnerTie                                 // equal (or unparseable) versions; rejected as a true duplicate
)

// resolveVersionPrecedence implements SPEC_FULL.md §4.1: of the manifests
// sharing a name, only the highest version is registered, and every lower
// version is reported as a LoadError. An empty version string is treated as "0.0.0", so two
// manifests that both omit version are a true tie and the first-loaded one
// wins. A version that fails to parse as semver is also treated as a tie
// (rejected), rather than silently outranking or losing to its incumbent.
func resolveVersionPrecedence(incumbent, challenger string) versionPrecedence {
	iv, ierr := semver.NewVersion(orZero(incumbent))
	cv, cerr := semver.NewVersion(orZero(challenger))
	if ierr != nil || cerr != nil {
		return winnerTie
	}
	switch cv.Compare(iv) {
	case 1:
		return winnerChallenger
	case -1:
		return winnerIncumbent
	default:
		return winnerTie
	}
}

func orZero(version string) string {
	if version == "" {
		return "0.0.0"
	}
	return version
}

// Get returns the workflow registered under name, if any.
func (r *Registry) Get(name string) (*Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[name]
	return wf, ok
}

// Names returns every registered workflow name (spec.md §6 list-workflow-names).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
