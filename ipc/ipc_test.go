package ipc

import (
	"testing"
)

func TestMemoryPatchEncode(t *testing.T) {
	tests := []struct {
		name  string
		patch MemoryPatch
		want  string
	}{
		{
			name:  "defaults",
			patch: NewMemoryPatch("mod1", "0x10", "1"),
			want:  "PATCH_MEMORY\nmod1\n0x10\n1\n\n\n1\n0\n0\n0\n",
		},
		{
			name: "absolute address with target",
			patch: MemoryPatch{
				ModName:      "inf-health",
				Offset:       "0x00ABCDEF",
				Value:        "90 90",
				Target:       "48 8b",
				Size:         "2",
				IsOffset:     false,
				LittleEndian: true,
				PatchMask:    1,
				PatchSize:    4,
			},
			want: "PATCH_MEMORY\ninf-health\n0x00ABCDEF\n90 90\n48 8b\n2\n0\n1\n1\n4\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.patch.Encode(); got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRestartArgs(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantReady bool
		wantRest  []string
		wantErr   bool
	}{
		{name: "nothing collected", args: []string{}, wantReady: false},
		{name: "count only", args: []string{"2"}, wantReady: false},
		{name: "one of two", args: []string{"2", "-g"}, wantReady: false},
		{name: "two of two", args: []string{"2", "-g", "eboot.bin"}, wantReady: true, wantRest: []string{"-g", "eboot.bin"}},
		{name: "zero count fires immediately", args: []string{"0"}, wantReady: true, wantRest: []string{}},
		{name: "negative count fires immediately", args: []string{"-1"}, wantReady: true, wantRest: []string{}},
		// The declared count covers argument lines only. The count line itself
		// never counts towards it, so three collected lines do not satisfy "3".
		{name: "count line is not an argument", args: []string{"3", "a", "b"}, wantReady: false},
		{name: "surplus lines are kept", args: []string{"1", "a", "b"}, wantReady: true, wantRest: []string{"a", "b"}},
		{name: "count with whitespace", args: []string{" 1 ", "a"}, wantReady: true, wantRest: []string{"a"}},
		{name: "non numeric count", args: []string{"two"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rest, ready, err := RestartArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RestartArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ready != tt.wantReady {
				t.Fatalf("RestartArgs() ready = %v, want %v", ready, tt.wantReady)
			}
			if !ready {
				return
			}
			if len(rest) != len(tt.wantRest) {
				t.Fatalf("RestartArgs() rest = %q, want %q", rest, tt.wantRest)
			}
			for i := range rest {
				if rest[i] != tt.wantRest[i] {
					t.Errorf("rest[%d] = %q, want %q", i, rest[i], tt.wantRest[i])
				}
			}
		})
	}
}

func TestCommandState(t *testing.T) {
	var s CommandState
	if !s.Idle() {
		t.Fatal("zero CommandState should be idle")
	}

	s = Begin(CmdRestart)
	if s.Idle() || s.Name() != CmdRestart {
		t.Fatalf("Begin() = %+v, want collecting %s", s, CmdRestart)
	}
	if len(s.Args()) != 0 {
		t.Fatalf("new command has args %q", s.Args())
	}

	first := s.Append("2")
	second := first.Append("-g")
	if len(first.Args()) != 1 {
		t.Errorf("Append mutated earlier state: %q", first.Args())
	}
	if got := second.Args(); len(got) != 2 || got[0] != "2" || got[1] != "-g" {
		t.Errorf("Args() = %q", got)
	}

	if !IsKnownCommand(CmdRestart) {
		t.Error("RESTART should be a known command")
	}
	if IsKnownCommand("FOO") {
		t.Error("FOO should not be a known command")
	}
}
