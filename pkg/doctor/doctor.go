// Package doctor checks that the host is ready to process: the ISCE-2,
// MintPy and SSARA programs are installed and the data provider accounts
// are configured.
package doctor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/isceproc/isceproc/pkg/isce"
	"github.com/isceproc/isceproc/pkg/template"
)

// Status of a check.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Check is the outcome of one check.
type Check struct {
	Name   string
	Status Status
	Detail string
}

// Credential hosts expected in ~/.netrc.
const (
	MachineEarthdata  = "urs.earthdata.nasa.gov"
	MachineCopernicus = "dataspace.copernicus.eu"
)

// Pinger reaches a processing host.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Doctor runs the checks.
type Doctor struct {
	Env *isce.Environment

	// Home is the user's home directory holding .netrc and .cdsapirc.
	Home string

	// LookPath finds executables; exec.LookPath when nil.
	LookPath func(string) (string, error)

	// Remote is checked when set.
	Remote Pinger
}

// Run executes every check.
func (d *Doctor) Run(ctx context.Context) []Check {
	var checks []Check
	checks = append(checks, d.environment()...)
	checks = append(checks, d.executables()...)
	checks = append(checks, d.credentials()...)
	if d.Remote != nil {
		checks = append(checks, d.remote(ctx))
	}
	return checks
}

func (d *Doctor) environment() []Check {
	lookup := func(name string) string {
		v, _ := os.LookupEnv(name)
		return v
	}
	vars := []struct {
		name   string
		value  string
		status Status
	}{
		{isce.EnvStack, d.Env.StackDir, StatusFail},
		{isce.EnvProcHome, d.Env.ProcHome, StatusWarn},
		{"PYTHONPATH", lookup("PYTHONPATH"), StatusWarn},
	}

	checks := make([]Check, 0, len(vars)+1)
	for _, v := range vars {
		c := Check{Name: "env " + v.name, Status: StatusOK, Detail: v.value}
		if v.value == "" {
			c.Status = v.status
			c.Detail = "not set"
		}
		checks = append(checks, c)
	}
	checks = append(checks, Check{
		Name:   "env " + isce.EnvOMPThreads,
		Status: StatusOK,
		Detail: fmt.Sprintf("%d", d.Env.OMPThreads),
	})
	return checks
}

// programs maps each required program to the processor folder that ships
// it, empty when it is expected on PATH.
var programs = []struct {
	name      string
	processor string
}{
	{"run.py", template.ProcessorTops},
	{"stackSentinel.py", template.ProcessorTops},
	{"stackStripMap.py", template.ProcessorStripmap},
	{"dem.py", ""},
	{"ssara_federated_query.py", ""},
	{"smallbaselineApp.py", ""},
	{"snaphu", ""},
}

func (d *Doctor) executables() []Check {
	lookPath := d.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	checks := make([]Check, 0, len(programs))
	for _, p := range programs {
		c := Check{Name: "program " + p.name, Status: StatusFail, Detail: "not found"}
		if p.processor != "" && d.Env.StackDir != "" {
			if path, err := lookPath(d.Env.Script(p.processor, p.name)); err == nil {
				c.Status, c.Detail = StatusOK, path
			}
		}
		if c.Status != StatusOK {
			if path, err := lookPath(p.name); err == nil {
				c.Status, c.Detail = StatusOK, path
			}
		}
		checks = append(checks, c)
	}
	return checks
}

func (d *Doctor) credentials() []Check {
	netrc := filepath.Join(d.Home, ".netrc")
	machines, err := netrcMachines(netrc)

	var checks []Check
	for _, host := range []string{MachineEarthdata, MachineCopernicus} {
		c := Check{Name: "netrc " + host, Status: StatusOK, Detail: netrc}
		switch {
		case err != nil:
			c.Status, c.Detail = StatusFail, err.Error()
		case !machines[host]:
			c.Status, c.Detail = StatusFail, fmt.Sprintf("no machine %s in %s", host, netrc)
		}
		checks = append(checks, c)
	}

	cds := filepath.Join(d.Home, ".cdsapirc")
	c := Check{Name: "cdsapirc", Status: StatusOK, Detail: cds}
	if _, err := os.Stat(cds); err != nil {
		// Only needed for tropospheric correction with ERA5.
		c.Status, c.Detail = StatusWarn, cds+" not found"
	}
	return append(checks, c)
}

func (d *Doctor) remote(ctx context.Context) Check {
	c := Check{Name: "processing host", Status: StatusOK, Detail: "reachable"}
	if err := d.Remote.Ping(ctx); err != nil {
		c.Status, c.Detail = StatusFail, err.Error()
	}
	return c
}

// netrcMachines returns the machine names declared in a netrc file.
func netrcMachines(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open netrc: %w", err)
	}
	defer f.Close()

	machines := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	scanner.Split(bufio.ScanWords)
	expectName := false
	for scanner.Scan() {
		word := scanner.Text()
		if expectName {
			machines[word] = true
			expectName = false
			continue
		}
		expectName = word == "machine"
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read netrc: %w", err)
	}
	return machines, nil
}

// Failed reports whether any check failed.
func Failed(checks []Check) bool {
	for _, c := range checks {
		if c.Status == StatusFail {
			return true
		}
	}
	return false
}

// Print writes the checks as an aligned table.
func Print(w io.Writer, checks []Check) {
	width := 0
	for _, c := range checks {
		width = max(width, len(c.Name))
	}
	for _, c := range checks {
		fmt.Fprintf(w, "%-4s  %-*s  %s\n", strings.ToUpper(string(c.Status)), width, c.Name, c.Detail)
	}
}
