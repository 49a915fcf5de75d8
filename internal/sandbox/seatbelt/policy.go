// Package seatbelt builds macOS sandbox-exec (Seatbelt) policy text and
// command-line arguments for a sandboxed command invocation. Ported
// directly from core/src/seatbelt.rs's create_seatbelt_command_args,
// generalized from the original's SandboxPolicy enum to the
// FilesystemPolicy/NetworkPolicy pair defined here, and from the
// per-process NetworkProxy type to netproxy.ProxyNetworkInputs.
package seatbelt

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PathToSandboxExec is the only binary ever invoked: only /usr/bin is
// trusted, to defend against a PATH-injected impostor.
const PathToSandboxExec = "/usr/bin/sandbox-exec"

// basePolicy is the always-present Seatbelt prelude: process exec, signal
// delivery to self, sysctl reads needed by common runtimes (Node's
// os.cpus(), Go's runtime), and posix_spawn defaults. Trimmed from the
// original seatbelt_base_policy.sbpl to the clauses every sandboxed
// command needs regardless of filesystem/network policy.
const basePolicy = `(version 1)
(deny default)
(allow process-fork)
(allow process-exec)
(allow signal (target self))
(allow sysctl-read)
(allow file-read-metadata)
(allow mach-lookup)
(allow iokit-open)
`

// ReadOnlySubpath carves a subpath back out of an otherwise-writable root
// (e.g. a nested .git or .codex directory that must stay read-only even
// though its parent is writable).
type ReadOnlySubpath struct {
	Path string
}

// WritableRoot is one filesystem root the sandboxed command may write
// under, with zero or more read-only carve-outs.
type WritableRoot struct {
	Root              string
	ReadOnlySubpaths  []ReadOnlySubpath
}

// FilesystemPolicy describes the read/write surface granted to the
// sandboxed command.
type FilesystemPolicy struct {
	FullDiskRead  bool
	FullDiskWrite bool
	ReadableRoots []string
	WritableRoots []WritableRoot
}

// DirParam is one "-D NAME=value" Seatbelt command-line definition.
type DirParam struct {
	Name  string
	Value string
}

// BuildArgs assembles the full sandbox-exec argument list: "-p <policy>",
// one "-D" per referenced path parameter, "--", then command. canonicalize
// should resolve symlinks the way filepath.EvalSymlinks does (injected so
// tests can stub it); passing nil uses filepath.EvalSymlinks directly,
// falling back to filepath.Clean on error exactly as the original's
// canonicalize().unwrap_or_else(|_| path) does.
func BuildArgs(command []string, fs FilesystemPolicy, networkPolicyText string, canonicalize func(string) string) []string {
	if canonicalize == nil {
		canonicalize = defaultCanonicalize
	}

	writePolicy, writeParams := buildWritePolicy(fs, canonicalize)
	readPolicy, readParams := buildReadPolicy(fs, canonicalize)

	fullPolicy := strings.Join(nonEmpty(
		basePolicy,
		readPolicy,
		writePolicy,
		networkPolicyText,
	), "\n")

	args := []string{"-p", fullPolicy}
	for _, p := range append(readParams, writeParams...) {
		args = append(args, fmt.Sprintf("-D%s=%s", p.Name, p.Value))
	}
	args = append(args, "--")
	args = append(args, command...)
	return args
}

func nonEmpty(parts ...string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func defaultCanonicalize(p string) string {
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return resolved
}

func buildReadPolicy(fs FilesystemPolicy, canonicalize func(string) string) (string, []DirParam) {
	if fs.FullDiskRead {
		return "; allow read-only file operations\n(allow file-read*)", nil
	}
	if len(fs.ReadableRoots) == 0 {
		return "", nil
	}

	var clauses []string
	var params []DirParam
	for i, root := range fs.ReadableRoots {
		name := fmt.Sprintf("READABLE_ROOT_%d", i)
		params = append(params, DirParam{Name: name, Value: canonicalize(root)})
		clauses = append(clauses, fmt.Sprintf("(subpath (param %q))", name))
	}
	policy := fmt.Sprintf("; allow read-only file operations\n(allow file-read*\n%s\n)", strings.Join(clauses, " "))
	return policy, params
}

func buildWritePolicy(fs FilesystemPolicy, canonicalize func(string) string) (string, []DirParam) {
	if fs.FullDiskWrite {
		return `(allow file-write* (regex #"^/"))`, nil
	}
	if len(fs.WritableRoots) == 0 {
		return "", nil
	}

	var clauses []string
	var params []DirParam
	for i, wr := range fs.WritableRoots {
		rootName := fmt.Sprintf("WRITABLE_ROOT_%d", i)
		params = append(params, DirParam{Name: rootName, Value: canonicalize(wr.Root)})

		if len(wr.ReadOnlySubpaths) == 0 {
			clauses = append(clauses, fmt.Sprintf("(subpath (param %q))", rootName))
			continue
		}

		parts := []string{fmt.Sprintf("(subpath (param %q))", rootName)}
		for j, ro := range wr.ReadOnlySubpaths {
			roName := fmt.Sprintf("WRITABLE_ROOT_%d_RO_%d", i, j)
			params = append(params, DirParam{Name: roName, Value: canonicalize(ro.Path)})
			parts = append(parts, fmt.Sprintf("(require-not (subpath (param %q)))", roName))
		}
		clauses = append(clauses, fmt.Sprintf("(require-all %s )", strings.Join(parts, " ")))
	}
	policy := fmt.Sprintf("(allow file-write*\n%s\n)", strings.Join(clauses, " "))
	return policy, params
}
