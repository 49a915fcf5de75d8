// Package winsetup implements the elevated-helper provisioning flow for the
// Windows sandbox: a dedicated low-privilege user account, ACL lockdown of
// the sandbox home, a firewall step that installs no rule, and DPAPI-protected
// credential storage. Ported from windows-sandbox-rs's
// setup_main_win.rs/setup_error.rs, framed as a Go Config/Result pair the
// way the teacher's sandbox.ProcessSandbox frames process execution —
// this is the one component with no grounding library in the pack: no
// example repo wraps Win32 ACL/COM/firewall/DPAPI, so it is built directly
// on golang.org/x/sys/windows (see DESIGN.md).
package winsetup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// ErrorCode enumerates the provisioning failures, used as metric tags the
// same way the original SetupErrorCode is.
type ErrorCode string

const (
	CodeOrchestratorSandboxDirCreateFailed ErrorCode = "orchestrator_sandbox_dir_create_failed"
	CodeOrchestratorElevationCheckFailed   ErrorCode = "orchestrator_elevation_check_failed"
	CodeOrchestratorPayloadSerializeFailed ErrorCode = "orchestrator_payload_serialize_failed"
	CodeOrchestratorHelperLaunchFailed     ErrorCode = "orchestrator_helper_launch_failed"
	CodeOrchestratorHelperExitNonzero      ErrorCode = "orchestrator_helper_exit_nonzero"
	CodeOrchestratorHelperReportReadFailed ErrorCode = "orchestrator_helper_report_read_failed"

	CodeHelperRequestArgsFailed           ErrorCode = "helper_request_args_failed"
	CodeHelperSandboxDirCreateFailed      ErrorCode = "helper_sandbox_dir_create_failed"
	CodeHelperLogFailed                   ErrorCode = "helper_log_failed"
	CodeHelperUserProvisionFailed         ErrorCode = "helper_user_provision_failed"
	CodeHelperUsersGroupCreateFailed      ErrorCode = "helper_users_group_create_failed"
	CodeHelperUserCreateOrUpdateFailed    ErrorCode = "helper_user_create_or_update_failed"
	CodeHelperDpapiProtectFailed          ErrorCode = "helper_dpapi_protect_failed"
	CodeHelperUsersFileWriteFailed        ErrorCode = "helper_users_file_write_failed"
	CodeHelperSetupMarkerWriteFailed      ErrorCode = "helper_setup_marker_write_failed"
	CodeHelperSidResolveFailed            ErrorCode = "helper_sid_resolve_failed"
	CodeHelperCapabilitySidFailed         ErrorCode = "helper_capability_sid_failed"
	CodeHelperFirewallComInitFailed       ErrorCode = "helper_firewall_com_init_failed"
	CodeHelperFirewallPolicyAccessFailed  ErrorCode = "helper_firewall_policy_access_failed"
	CodeHelperFirewallRuleCreateOrAddFailed ErrorCode = "helper_firewall_rule_create_or_add_failed"
	CodeHelperFirewallRuleVerifyFailed    ErrorCode = "helper_firewall_rule_verify_failed"
	CodeHelperReadAclHelperSpawnFailed    ErrorCode = "helper_read_acl_helper_spawn_failed"
	CodeHelperSandboxLockFailed           ErrorCode = "helper_sandbox_lock_failed"
	CodeHelperWriteRootAclGrantFailed     ErrorCode = "helper_write_root_acl_grant_failed"
	CodeHelperUnknownError                ErrorCode = "helper_unknown_error"
)

// Failure pairs a code with a human-readable message, matching the
// original SetupFailure/SetupErrorReport split of "machine tag" vs
// "operator message".
type Failure struct {
	Code    ErrorCode
	Message string
}

func (f *Failure) Error() string { return string(f.Code) + ": " + f.Message }

func NewFailure(code ErrorCode, message string) *Failure {
	return &Failure{Code: code, Message: message}
}

// Report is the JSON shape persisted to .sandbox/setup_error.json so the
// unprivileged orchestrator process can read back why the elevated helper
// failed.
type Report struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func errorPath(codexHome string) string {
	return filepath.Join(codexHome, ".sandbox", "setup_error.json")
}

// ClearErrorReport removes a stale report, tolerating "already absent".
func ClearErrorReport(codexHome string) error {
	err := os.Remove(errorPath(codexHome))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// WriteErrorReport persists report, creating .sandbox/ if needed.
func WriteErrorReport(codexHome string, report Report) error {
	dir := filepath.Join(codexHome, ".sandbox")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(errorPath(codexHome), data, 0o600)
}

// ReadErrorReport reads back a previously written report, if any.
func ReadErrorReport(codexHome string) (*Report, error) {
	data, err := os.ReadFile(errorPath(codexHome))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

const maxTagLen = 256

// SanitizeTagValue redacts home-directory usernames, replaces any
// character outside [A-Za-z0-9._-/] with '_', and trims leading and
// trailing '_' so the result is safe to use as a metric tag.
func SanitizeTagValue(value string) string {
	redacted := redactUsernameSegments(value, candidateUsernames())
	var b strings.Builder
	for _, ch := range redacted {
		if isTagSafe(ch) {
			b.WriteRune(ch)
		} else {
			b.WriteByte('_')
		}
	}
	trimmed := strings.Trim(b.String(), "_")
	if trimmed == "" {
		return "unspecified"
	}
	if len(trimmed) > maxTagLen {
		return trimmed[:maxTagLen]
	}
	return trimmed
}

func isTagSafe(ch rune) bool {
	switch {
	case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		return true
	case ch == '.' || ch == '_' || ch == '-' || ch == '/':
		return true
	default:
		return false
	}
}

func candidateUsernames() []string {
	var names []string
	if u := strings.TrimSpace(os.Getenv("USERNAME")); u != "" {
		names = append(names, u)
	}
	if u := strings.TrimSpace(os.Getenv("USER")); u != "" {
		dup := false
		for _, n := range names {
			if strings.EqualFold(n, u) {
				dup = true
			}
		}
		if !dup {
			names = append(names, u)
		}
	}
	return names
}

// redactUsernameSegments replaces any path segment that case-insensitively
// equals a known username with "<user>", preserving the original
// separators (both '\' and '/' occur in mixed Windows log output).
func redactUsernameSegments(value string, usernames []string) string {
	if len(usernames) == 0 {
		return value
	}

	var segments []string
	var separators []byte
	var current strings.Builder
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if ch == '\\' || ch == '/' {
			segments = append(segments, current.String())
			separators = append(separators, ch)
			current.Reset()
			continue
		}
		current.WriteByte(ch)
	}
	segments = append(segments, current.String())

	for i, seg := range segments {
		for _, name := range usernames {
			if strings.EqualFold(seg, name) {
				segments[i] = "<user>"
				break
			}
		}
	}

	var out strings.Builder
	for i, seg := range segments {
		out.WriteString(seg)
		if i < len(separators) {
			out.WriteByte(separators[i])
		}
	}
	return out.String()
}
