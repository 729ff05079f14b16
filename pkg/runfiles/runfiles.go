// Package runfiles discovers and inspects the run files generated by the
// ISCE-2 stack processors.
//
// A run file is a plain script named run_NN_<stage> (topsStack) or
// run_N_<stage> (stripmapStack) inside the run_files folder of a processing
// directory. Every non-empty, non-comment line is an independent command,
// so the lines of one file may run in parallel while the files themselves
// must run in index order.
package runfiles

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/isceproc/isceproc/pkg/engine"
)

const (
	// Dir is the folder holding the run files.
	Dir = "run_files"

	// ConfigDir is the folder holding the per-command config files.
	ConfigDir = "configs"
)

// parallelSteps name the stages that use OpenMP threads inside each command.
var parallelSteps = []string{"topo", "geo2rdr", "resamp"}

// RunFile is one generated run file.
type RunFile struct {
	// Path is the absolute path of the file.
	Path string

	// Name is the file name, e.g. run_03_average_baseline.
	Name string

	// Index is the numeric step index parsed from the name.
	Index int
}

// Discover returns the run files of the processing directory projDir in
// execution order. It removes leftover run_*_*.job files first.
func Discover(projDir string) ([]RunFile, error) {
	for _, name := range []string{ConfigDir, Dir} {
		info, err := os.Stat(filepath.Join(projDir, name))
		if err != nil || !info.IsDir() {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("no %s folder found in %s", name, projDir), err).
				WithCode(engine.ErrCodeNotFound)
		}
	}

	runDir, err := filepath.Abs(filepath.Join(projDir, Dir))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", Dir, err)
	}

	jobs, _ := filepath.Glob(filepath.Join(runDir, "run_*_*.job"))
	for _, job := range jobs {
		if err := os.Remove(job); err != nil {
			return nil, fmt.Errorf("failed to remove %s: %w", job, err)
		}
		log.Debug().Str("file", job).Msg("removed job file")
	}

	var paths []string
	for _, pattern := range []string{"run_[0-9]_*", "run_[0-9][0-9]_*"} {
		matches, err := filepath.Glob(filepath.Join(runDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		paths = append(paths, matches...)
	}

	files := make([]RunFile, 0, len(paths))
	for _, path := range paths {
		name := filepath.Base(path)
		if strings.Contains(name, ".") {
			continue
		}
		index, err := parseIndex(name)
		if err != nil {
			continue
		}
		files = append(files, RunFile{Path: path, Name: name, Index: index})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Index != files[j].Index {
			return files[i].Index < files[j].Index
		}
		return files[i].Name < files[j].Name
	})

	return files, nil
}

func parseIndex(name string) (int, error) {
	rest, ok := strings.CutPrefix(name, "run_")
	if !ok {
		return 0, fmt.Errorf("not a run file: %s", name)
	}
	digits, _, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, fmt.Errorf("not a run file: %s", name)
	}
	return strconv.Atoi(digits)
}

// Select returns files[start-1:end]. Both bounds are 1-based and inclusive;
// zero selects the first or last file respectively.
func Select(files []RunFile, start, end int) ([]RunFile, error) {
	n := len(files)
	if n == 0 {
		return nil, engine.NewPermanentError("no run files found", nil).WithCode(engine.ErrCodeNotFound)
	}
	if start == 0 {
		start = 1
	}
	if end == 0 {
		end = n
	}

	switch {
	case start < 1 || start > n:
		return nil, engine.NewPermanentError(
			fmt.Sprintf("start step %d out of range [1, %d]", start, n), nil).
			WithCode(engine.ErrCodeValidation)
	case end < 1 || end > n:
		return nil, engine.NewPermanentError(
			fmt.Sprintf("end step %d out of range [1, %d]", end, n), nil).
			WithCode(engine.ErrCodeValidation)
	case start > end:
		return nil, engine.NewPermanentError(
			fmt.Sprintf("start step %d is after end step %d", start, end), nil).
			WithCode(engine.ErrCodeValidation)
	}

	return files[start-1 : end], nil
}

// Position returns the 1-based position of the run file called name.
func Position(files []RunFile, name string) (int, bool) {
	for i, f := range files {
		if f.Name == name {
			return i + 1, true
		}
	}
	return 0, false
}

// IsParallelStep reports whether the commands of the run file name use
// OpenMP threads.
func IsParallelStep(name string) bool {
	for _, s := range parallelSteps {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}

// Workers returns the number of processes to use for the run file at path.
// OpenMP steps divide numProcess by ompThreads (rounding up). The result
// never exceeds the number of commands in the file and is at least 1.
func Workers(path string, numProcess, ompThreads int) (int, error) {
	if numProcess < 1 {
		numProcess = 1
	}
	if ompThreads < 1 {
		ompThreads = 1
	}

	workers := numProcess
	if IsParallelStep(filepath.Base(path)) {
		workers = int(math.Ceil(float64(numProcess) / float64(ompThreads)))
	}

	commands, err := Commands(path)
	if err != nil {
		return 0, err
	}

	return max(1, min(workers, len(commands))), nil
}

// Commands returns the runnable lines of the run file at path.
func Commands(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run file: %w", err)
	}
	defer f.Close()

	var commands []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		commands = append(commands, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run file %s: %w", path, err)
	}

	return commands, nil
}
