package processes

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomyedwab/emuhub/ipc"
)

// TestHelperProcess is not a real test. It is the child started by the tests
// below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("EMUHUB_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "missing helper mode")
		os.Exit(2)
	}

	switch args[1] {
	case "exit":
		fmt.Println("[Core] <Info> hello")
		fmt.Println("plain")
		fmt.Fprintln(os.Stderr, "oops")
		os.Exit(7)
	case "echo":
		fmt.Fprintln(os.Stderr, ";#IPC_ENABLED")
		fmt.Fprintln(os.Stderr, ";"+ipc.CapMemoryPatch)
		fmt.Fprintln(os.Stderr, ";#IPC_END")
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			fmt.Printf("[Echo] <Info> %s\n", line)
			if line == ipc.CmdStop {
				os.Exit(3)
			}
		}
		os.Exit(0)
	case "longline":
		w := bufio.NewWriter(os.Stdout)
		w.WriteString(strings.Repeat("x", 2*maxLineSize))
		w.WriteString("\n")
		for i := 0; i < 5000; i++ {
			fmt.Fprintf(w, "[Core] <Info> line %d\n", i)
		}
		w.Flush()
		os.Exit(0)
	case "sleep":
		fmt.Println("[Core] <Info> sleeping")
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(2)
}

func spawnHelper(t *testing.T, mode string) *GameProcess {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable() error = %v", err)
	}
	p, err := Spawn(exe, t.TempDir(), []string{"-test.run=TestHelperProcess", "--", mode},
		WithEnv("EMUHUB_WANT_HELPER_PROCESS=1"))
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	t.Cleanup(func() {
		p.Kill()
		p.Dispose()
	})
	return p
}

func collect(p *GameProcess) chan Event {
	events := make(chan Event, 256)
	p.Subscribe(func(ev Event) { events <- ev })
	return events
}

func waitFor(t *testing.T, events chan Event, match func(Event) bool) []Event {
	t.Helper()
	var seen []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev := <-events:
			seen = append(seen, ev)
			if match(ev) {
				return seen
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event; saw %#v", seen)
		}
	}
}

func isExit(ev Event) bool {
	_, ok := ev.(ExitedEvent)
	return ok
}

func TestGameProcessExit(t *testing.T) {
	p := spawnHelper(t, "exit")
	if p.PID() <= 0 {
		t.Fatalf("PID() = %d", p.PID())
	}
	seen := waitFor(t, collect(p), isExit)

	if exited := seen[len(seen)-1].(ExitedEvent); exited.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", exited.ExitCode)
	}

	var logs []LogEvent
	added := map[string]int{}
	for _, ev := range seen {
		switch ev := ev.(type) {
		case LogEvent:
			if _, ok := added[ev.Class]; !ok {
				t.Errorf("log event for class %s before its LogClassAddedEvent", ev.Class)
			}
			logs = append(logs, ev)
		case LogClassAddedEvent:
			added[ev.Class]++
		}
	}
	for class, n := range added {
		if n != 1 {
			t.Errorf("class %s added %d times", class, n)
		}
	}
	if len(logs) != 3 {
		t.Fatalf("got %d log events, want 3: %#v", len(logs), logs)
	}

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Error("Done() not closed after exit")
	}
}

func TestGameProcessHandshakeAndSend(t *testing.T) {
	p := spawnHelper(t, "echo")
	events := collect(p)

	var control []string
	waitFor(t, events, func(ev Event) bool {
		if c, ok := ev.(ControlLineEvent); ok {
			control = append(control, c.Line)
			return c.Line == ipc.MarkerEnd
		}
		return false
	})
	want := []string{ipc.MarkerEnabled, ipc.CapMemoryPatch, ipc.MarkerEnd}
	if fmt.Sprint(control) != fmt.Sprint(want) {
		t.Fatalf("control lines = %q, want %q", control, want)
	}

	p.Send(ipc.CmdRun)
	p.Send(ipc.CmdStop + "\n")

	seen := waitFor(t, events, isExit)
	var echoed []string
	for _, ev := range seen {
		if log, ok := ev.(LogEvent); ok && log.Class == "Echo" {
			echoed = append(echoed, log.Message)
		}
	}
	if fmt.Sprint(echoed) != fmt.Sprint([]string{ipc.CmdRun, ipc.CmdStop}) {
		t.Errorf("child received %q", echoed)
	}
	if code := seen[len(seen)-1].(ExitedEvent).ExitCode; code != 3 {
		t.Errorf("ExitCode = %d, want 3", code)
	}
}

func TestGameProcessKill(t *testing.T) {
	p := spawnHelper(t, "sleep")
	events := collect(p)
	waitFor(t, events, func(ev Event) bool {
		log, ok := ev.(LogEvent)
		return ok && log.Message == "sleeping"
	})

	p.Kill()
	p.Kill()
	seen := waitFor(t, events, isExit)
	if code := seen[len(seen)-1].(ExitedEvent).ExitCode; code != -1 {
		t.Errorf("ExitCode after kill = %d, want -1", code)
	}
}

func TestGameProcessUnsubscribe(t *testing.T) {
	p := spawnHelper(t, "echo")
	unsubscribe := p.Subscribe(func(ev Event) {})
	second := collect(p)

	// A stale unsubscribe must not detach the newer observer.
	unsubscribe()
	p.Send("ping")
	waitFor(t, second, func(ev Event) bool {
		log, ok := ev.(LogEvent)
		return ok && log.Message == "ping"
	})
	p.Send(ipc.CmdStop)
	waitFor(t, second, isExit)
}

func TestSpawnError(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-emulator")
	_, err := Spawn(missing, t.TempDir(), []string{"eboot.bin"})
	if err == nil {
		t.Fatal("Spawn() of a missing binary should fail")
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("Spawn() error = %T, want *SpawnError", err)
	}
	if spawnErr.Exe != missing || len(spawnErr.Args) != 1 {
		t.Errorf("SpawnError = %+v", spawnErr)
	}
}

func TestSendAfterDispose(t *testing.T) {
	p := spawnHelper(t, "echo")
	p.Dispose()
	p.Dispose()
	p.Send(ipc.CmdRun)
	p.Kill()
}

func TestGameProcessLongLine(t *testing.T) {
	p := spawnHelper(t, "longline")
	seen := waitFor(t, collect(p), isExit)

	var long, last string
	for _, ev := range seen {
		if log, ok := ev.(LogEvent); ok {
			if log.Class == classStdout && long == "" {
				long = log.Message
			}
			last = log.Message
		}
	}
	if len(long) != maxLineSize {
		t.Errorf("long line length = %d, want %d", len(long), maxLineSize)
	}
	if last != "line 4999" {
		t.Errorf("last log message = %q, want %q", last, "line 4999")
	}
	if code := seen[len(seen)-1].(ExitedEvent).ExitCode; code != 0 {
		t.Errorf("ExitCode = %d, want 0", code)
	}
}

func TestReadLine(t *testing.T) {
	input := "short\r\n" + strings.Repeat("y", maxLineSize+10) + "\nafter\ntail"
	br := bufio.NewReaderSize(strings.NewReader(input), 4096)

	tests := []struct {
		length    int
		prefix    string
		truncated bool
	}{
		{length: 5, prefix: "short"},
		{length: maxLineSize, prefix: "yyy", truncated: true},
		{length: 5, prefix: "after"},
		{length: 4, prefix: "tail"},
	}
	for i, tt := range tests {
		line, truncated, err := readLine(br)
		if err != nil {
			t.Fatalf("line %d: readLine() error = %v", i, err)
		}
		if len(line) != tt.length || !strings.HasPrefix(line, tt.prefix) || truncated != tt.truncated {
			t.Errorf("line %d: got %d bytes %.10q truncated=%v", i, len(line), line, truncated)
		}
	}
	if _, _, err := readLine(br); !errors.Is(err, io.EOF) {
		t.Errorf("readLine() at end error = %v, want io.EOF", err)
	}
}
