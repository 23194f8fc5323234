// Package sysdeps checks that a machine can run SCHED_DEADLINE workloads
// with rt-app.
package sysdeps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"time"
)

// Minimum kernel for SCHED_DEADLINE.
const (
	MinKernelMajor = 3
	MinKernelMinor = 14
)

// Check is the outcome of one probe. A failed check that is not Required is
// a warning only.
type Check struct {
	Name     string `json:"name"`
	Detail   string `json:"detail"`
	OK       bool   `json:"ok"`
	Required bool   `json:"required"`
	Install  string `json:"install,omitempty"`
}

// Result collects every check. OK is false when a required check failed.
type Result struct {
	Checks []Check `json:"checks"`
	OK     bool    `json:"ok"`
}

// Checker runs the probes. Zero-valued hooks fall back to the real system.
type Checker struct {
	RTAppBin    string        // rt-app binary (default: "rt-app")
	ProcVersion string        // kernel version file (default: /proc/version)
	Timeout     time.Duration // bound on "rt-app --help" (default: 5s)

	LookPath func(string) (string, error)
	Run      func(ctx context.Context, bin string, args ...string) error
	Geteuid  func() int
}

// NewChecker creates a Checker probing the real system.
func NewChecker() *Checker {
	return &Checker{
		RTAppBin:    "rt-app",
		ProcVersion: "/proc/version",
		Timeout:     5 * time.Second,
		LookPath:    exec.LookPath,
		Run:         runCommand,
		Geteuid:     os.Geteuid,
	}
}

func runCommand(ctx context.Context, bin string, args ...string) error {
	out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w\n%s", bin, err, string(out))
	}
	return nil
}

// Run performs every check.
func (c *Checker) Run(ctx context.Context) Result {
	checks := []Check{
		c.checkRTApp(ctx),
		c.checkTool("git", "apt install git / yum install git"),
		c.checkKernel(),
		c.checkRoot(),
	}
	res := Result{Checks: checks, OK: true}
	for _, ch := range checks {
		if ch.Required && !ch.OK {
			res.OK = false
		}
	}
	return res
}

func (c *Checker) checkTool(name, install string) Check {
	ch := Check{Name: name, Required: true, Install: install}
	path, err := c.LookPath(name)
	if err != nil {
		ch.Detail = "not found in PATH"
		return ch
	}
	ch.OK = true
	ch.Detail = path
	return ch
}

func (c *Checker) checkRTApp(ctx context.Context) Check {
	bin := c.RTAppBin
	if bin == "" {
		bin = "rt-app"
	}
	ch := c.checkTool(bin, "build from https://github.com/scheduler-tools/rt-app")
	if !ch.OK {
		return ch
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.Run(ctx, ch.Detail, "--help"); err != nil {
		ch.OK = false
		if errors.Is(err, context.DeadlineExceeded) {
			ch.Detail = fmt.Sprintf("%s timed out after %s", ch.Detail, timeout)
		} else {
			ch.Detail = fmt.Sprintf("%s does not run: %v", ch.Detail, err)
		}
		return ch
	}
	ch.Detail += " (working)"
	return ch
}

func (c *Checker) checkKernel() Check {
	ch := Check{Name: "kernel", Required: true, Install: "upgrade to Linux >= 3.14"}
	path := c.ProcVersion
	if path == "" {
		path = "/proc/version"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		ch.Detail = fmt.Sprintf("cannot read %s: %v", path, err)
		return ch
	}
	major, minor, err := ParseKernelVersion(string(data))
	if err != nil {
		ch.Detail = err.Error()
		return ch
	}
	ch.OK = SupportsDeadline(major, minor)
	if ch.OK {
		ch.Detail = fmt.Sprintf("%d.%d (supports SCHED_DEADLINE)", major, minor)
	} else {
		ch.Detail = fmt.Sprintf("%d.%d (SCHED_DEADLINE requires >= %d.%d)", major, minor, MinKernelMajor, MinKernelMinor)
	}
	return ch
}

func (c *Checker) checkRoot() Check {
	ch := Check{Name: "root"}
	if c.Geteuid() == 0 {
		ch.OK = true
		ch.Detail = "running as root"
	} else {
		ch.Detail = "not running as root; SCHED_DEADLINE tasks may be refused"
	}
	return ch
}

var kernelRe = regexp.MustCompile(`Linux version (\d+)\.(\d+)`)

// ParseKernelVersion extracts major.minor from /proc/version content.
func ParseKernelVersion(s string) (major, minor int, err error) {
	m := kernelRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, errors.New("could not determine kernel version")
	}
	major, _ = strconv.Atoi(m[1])
	minor, _ = strconv.Atoi(m[2])
	return major, minor, nil
}

// SupportsDeadline reports whether a kernel version has SCHED_DEADLINE.
func SupportsDeadline(major, minor int) bool {
	return major > MinKernelMajor || (major == MinKernelMajor && minor >= MinKernelMinor)
}

// InstallGuide is printed when a required dependency is missing.
const InstallGuide = `1. System packages
     Ubuntu/Debian:       sudo apt install git build-essential
     RHEL/CentOS/Fedora:  sudo yum install git gcc make

2. Kernel
     SCHED_DEADLINE requires Linux >= 3.14 (check: cat /proc/version)

3. rt-app
     git clone https://github.com/scheduler-tools/rt-app.git
     cd rt-app && make && sudo make install

4. Real-time setup
     Set the CPU governor to performance
     Disable CPU frequency scaling while measuring
`
