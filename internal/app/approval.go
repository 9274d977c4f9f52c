package app

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ApprovalPolicy decides whether a permitted operation still needs an
// interactive confirmation.
type ApprovalPolicy string

const (
	PolicyAuto      ApprovalPolicy = "auto"
	PolicyReadOnly  ApprovalPolicy = "read-only"
	PolicyAlwaysAsk ApprovalPolicy = "always-ask"
	PolicyNever     ApprovalPolicy = "never"
)

// SandboxMode is the ceiling on what class of side effects is permitted at
// all, ordered read-only < workspace-write < danger-full-access.
type SandboxMode string

const (
	SandboxReadOnly         SandboxMode = "read-only"
	SandboxWorkspaceWrite   SandboxMode = "workspace-write"
	SandboxDangerFullAccess SandboxMode = "danger-full-access"
)

// ParseApprovalPolicy parses a user-provided policy into a canonical value.
func ParseApprovalPolicy(raw string) (ApprovalPolicy, bool) {
	switch normalizeEnum(raw) {
	case "auto", "on-request":
		return PolicyAuto, true
	case "read-only", "readonly":
		return PolicyReadOnly, true
	case "always-ask", "always", "ask":
		return PolicyAlwaysAsk, true
	case "never", "none":
		return PolicyNever, true
	default:
		return "", false
	}
}

// ParseSandboxMode parses a user-provided sandbox mode into a canonical value.
func ParseSandboxMode(raw string) (SandboxMode, bool) {
	switch normalizeEnum(raw) {
	case "read-only", "readonly":
		return SandboxReadOnly, true
	case "workspace-write", "workspace":
		return SandboxWorkspaceWrite, true
	case "danger-full-access", "full-access", "danger":
		return SandboxDangerFullAccess, true
	default:
		return "", false
	}
}

func normalizeEnum(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.ReplaceAll(value, "_", "-")
	return strings.ReplaceAll(value, " ", "-")
}

// dangerousPatterns escalate an otherwise auto-approved command to a prompt
// under the auto policy in workspace-write mode.
var dangerousPatterns = []string{
	"rm -rf",
	"rm -fr",
	"sudo",
	"shutdown",
	"reboot",
	"mkfs",
	"dd if=",
	"format",
	"> /dev/",
	"curl",
	"wget",
	"nc ",
	"netcat",
}

// criticalPatterns force a prompt even under policy never: these can do
// irrecoverable system damage.
var criticalPatterns = []string{
	"sudo",
	"shutdown",
	"reboot",
	"mkfs",
	"dd if=",
	"format",
	"> /dev/",
}

var (
	approvalLockStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	approvalAskStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	approvalOKStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	approvalNoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Approver gates mutating tool operations on (policy, sandbox mode,
// operation). The prompt is a blocking single-shot y/N read on In; anything
// but y/yes is a denial.
type Approver struct {
	Policy  ApprovalPolicy
	Sandbox SandboxMode
	WorkDir string

	In  io.Reader
	Out io.Writer
}

func NewApprover(policy ApprovalPolicy, sandbox SandboxMode, workDir string, in io.Reader, out io.Writer) *Approver {
	return &Approver{Policy: policy, Sandbox: sandbox, WorkDir: workDir, In: in, Out: out}
}

// ApproveWrite decides whether a file write to path may proceed.
func (a *Approver) ApproveWrite(path string) bool {
	switch a.Sandbox {
	case SandboxReadOnly:
		fmt.Fprintf(a.Out, "Write operation blocked in read-only mode: %s\n", path)
		return false
	case SandboxWorkspaceWrite:
		switch a.Policy {
		case PolicyAuto:
			if a.withinWorkspace(path) {
				return true
			}
			return a.prompt(fmt.Sprintf("Write file outside workspace: %s", path))
		case PolicyReadOnly, PolicyAlwaysAsk:
			return a.prompt(fmt.Sprintf("Write file: %s", path))
		default: // never
			return true
		}
	default: // danger-full-access
		switch a.Policy {
		case PolicyReadOnly, PolicyAlwaysAsk:
			return a.prompt(fmt.Sprintf("Write file: %s", path))
		default:
			return true
		}
	}
}

// ApproveCommand decides whether a shell command may run.
func (a *Approver) ApproveCommand(command string) bool {
	switch a.Sandbox {
	case SandboxReadOnly:
		fmt.Fprintf(a.Out, "Command execution blocked in read-only mode: %s\n", command)
		return false
	case SandboxWorkspaceWrite:
		switch a.Policy {
		case PolicyAuto:
			if matchesAny(command, dangerousPatterns) {
				return a.prompt(fmt.Sprintf("Execute potentially dangerous command: %s", command))
			}
			return true
		case PolicyReadOnly, PolicyAlwaysAsk:
			return a.prompt(fmt.Sprintf("Execute command: %s", command))
		default: // never
			return true
		}
	default: // danger-full-access
		switch a.Policy {
		case PolicyReadOnly, PolicyAlwaysAsk:
			return a.prompt(fmt.Sprintf("Execute command: %s", command))
		case PolicyNever:
			// Never cannot bypass commands capable of irrecoverable damage.
			if matchesAny(command, criticalPatterns) {
				return a.prompt(fmt.Sprintf("Execute critical system command: %s", command))
			}
			return true
		default:
			return true
		}
	}
}

func (a *Approver) withinWorkspace(path string) bool {
	if !filepath.IsAbs(path) {
		return true
	}
	rel, err := filepath.Rel(a.WorkDir, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func matchesAny(command string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(command, p) {
			return true
		}
	}
	return false
}

func (a *Approver) prompt(message string) bool {
	fmt.Fprintf(a.Out, "\n%s %s\n", approvalLockStyle.Render("[approval]"), message)
	fmt.Fprintf(a.Out, "%s [y/N]: ", approvalAskStyle.Render("Approve?"))

	reader := bufio.NewReader(a.In)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		// Unattended stdin (EOF): deny, never assume consent.
		fmt.Fprintln(a.Out, approvalNoStyle.Render("denied"))
		return false
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		fmt.Fprintln(a.Out, approvalOKStyle.Render("approved"))
		return true
	default:
		fmt.Fprintln(a.Out, approvalNoStyle.Render("denied"))
		return false
	}
}
