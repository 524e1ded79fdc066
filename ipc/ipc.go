// Package ipc holds the wire vocabulary of the emulator control channel: the
// handshake markers, the commands sent to the child and the framing of the
// multi-line commands the child sends back.
package ipc

import (
	"fmt"
	"strconv"
	"strings"
)

// Handshake markers written by an IPC-capable child on its control stream.
const (
	MarkerEnabled = "#IPC_ENABLED"
	MarkerEnd     = "#IPC_END"
)

// Commands sent to the child, one per line.
const (
	CmdRun         = "RUN"
	CmdStart       = "START"
	CmdStop        = "STOP"
	CmdPatchMemory = "PATCH_MEMORY"
)

// Commands received from the child.
const (
	CmdRestart = "RESTART"
)

// CapMemoryPatch is advertised by children that accept PATCH_MEMORY.
const CapMemoryPatch = "ENABLE_MEMORY_PATCH"

// ControlLinePrefix marks a line on the child's output streams as a control
// line rather than log output.
const ControlLinePrefix = ";"

// MemoryPatch is a single PATCH_MEMORY request.
type MemoryPatch struct {
	ModName      string
	Offset       string
	Value        string
	Target       string
	Size         string
	IsOffset     bool
	LittleEndian bool
	PatchMask    int
	PatchSize    int
}

// NewMemoryPatch returns a patch with the default framing values: no target,
// no size, offset addressing, big endian and no mask.
func NewMemoryPatch(modName, offset, value string) MemoryPatch {
	return MemoryPatch{
		ModName:  modName,
		Offset:   offset,
		Value:    value,
		IsOffset: true,
	}
}

// Encode returns the newline separated record, including the trailing newline.
func (p MemoryPatch) Encode() string {
	fields := []string{
		CmdPatchMemory,
		p.ModName,
		p.Offset,
		p.Value,
		p.Target,
		p.Size,
		boolFlag(p.IsOffset),
		boolFlag(p.LittleEndian),
		strconv.Itoa(p.PatchMask),
		strconv.Itoa(p.PatchSize),
	}
	return strings.Join(fields, "\n") + "\n"
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// RestartArgs decides whether the collected arguments of a RESTART command are
// complete. args[0] is the declared count of the arguments that follow. The
// command is ready once at least that many lines have been collected; every
// line after the count is returned, even past the declared number.
//
// A count that is not a number is a framing error and the caller should drop
// the command.
func RestartArgs(args []string) (rest []string, ready bool, err error) {
	if len(args) == 0 {
		return nil, false, nil
	}
	declared, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil {
		return nil, false, fmt.Errorf("invalid %s argument count %q: %w", CmdRestart, args[0], err)
	}
	rest = args[1:]
	if declared > len(rest) {
		return nil, false, nil
	}
	out := make([]string, len(rest))
	copy(out, rest)
	return out, true, nil
}
