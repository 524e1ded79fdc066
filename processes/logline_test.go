package processes

import (
	"encoding/json"
	"testing"
)

func TestParseLogLine(t *testing.T) {
	tests := []struct {
		line        string
		wantOK      bool
		wantClass   string
		wantLevel   Level
		wantMessage string
	}{
		{"[Core.Kernel] <Info> kernel ready", true, "Core.Kernel", LevelInfo, "kernel ready"},
		{"[Render.Vulkan]<Critical>device lost", true, "Render.Vulkan", LevelCritical, "device lost"},
		{"[Lib.Pad] <Warning> no controller", true, "Lib.Pad", LevelWarning, "no controller"},
		{"[Debug] <Debug> x", true, "Debug", LevelDebug, "x"},
		{"[Core] <Trace> t", true, "Core", LevelTrace, "t"},
		{"[Core] <Error> e", true, "Core", LevelError, "e"},
		{"[Core] <Verbose> odd level", true, "Core", LevelUnknown, "odd level"},
		{"plain output", false, "", LevelUnknown, ""},
		{"[Core] missing level", false, "", LevelUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			class, level, message, ok := ParseLogLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ParseLogLine(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if class != tt.wantClass || level != tt.wantLevel || message != tt.wantMessage {
				t.Errorf("ParseLogLine(%q) = (%q, %v, %q), want (%q, %v, %q)",
					tt.line, class, level, message, tt.wantClass, tt.wantLevel, tt.wantMessage)
			}
		})
	}
}

func TestLevelText(t *testing.T) {
	for l := LevelUnknown; l <= LevelCritical; l++ {
		parsed, err := ParseLevel(l.String())
		if err != nil || parsed != l {
			t.Errorf("ParseLevel(%q) = %v, %v", l.String(), parsed, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("ParseLevel(loud) should fail")
	}
	if l, err := ParseLevel("WARNING"); err != nil || l != LevelWarning {
		t.Errorf("ParseLevel is not case insensitive: %v, %v", l, err)
	}

	data, err := json.Marshal(LogEntry{ID: 1, Level: LevelError, Class: "Core"})
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if decoded["level"] != "error" || decoded["rowId"] != float64(1) {
		t.Errorf("unexpected JSON %s", data)
	}
}

func TestClassify(t *testing.T) {
	classes := make(map[string]struct{})

	evs := classify(streamStdout, "[Core] <Info> boot\r", classes)
	if len(evs) != 2 {
		t.Fatalf("first line of a class produced %d events, want 2", len(evs))
	}
	if added, ok := evs[0].(LogClassAddedEvent); !ok || added.Class != "Core" {
		t.Errorf("evs[0] = %#v, want LogClassAddedEvent{Core}", evs[0])
	}
	if log, ok := evs[1].(LogEvent); !ok || log.Message != "boot" || log.Level != LevelInfo {
		t.Errorf("evs[1] = %#v", evs[1])
	}

	if evs := classify(streamStdout, "[Core] <Info> again", classes); len(evs) != 1 {
		t.Errorf("known class produced %d events, want 1", len(evs))
	}

	evs = classify(streamStdout, "loading...", classes)
	if log, ok := evs[len(evs)-1].(LogEvent); !ok || log.Class != classStdout || log.Level != LevelUnknown {
		t.Errorf("unparsed stdout line = %#v", evs[len(evs)-1])
	}

	evs = classify(streamStderr, "[Core] <Error> looks structured", classes)
	if log, ok := evs[len(evs)-1].(LogEvent); !ok || log.Class != classStderr {
		t.Errorf("stderr line = %#v, want class %s", evs[len(evs)-1], classStderr)
	}

	evs = classify(streamStderr, ";#IPC_ENABLED", classes)
	if len(evs) != 1 {
		t.Fatalf("control line produced %d events, want 1", len(evs))
	}
	if ctl, ok := evs[0].(ControlLineEvent); !ok || ctl.Line != "#IPC_ENABLED" {
		t.Errorf("control line = %#v", evs[0])
	}
}
