package cli

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeExec struct {
	calls []string
	args  [][]string
	fail  map[string]error
}

func (f *fakeExec) record(name string, args []string) error {
	f.calls = append(f.calls, name)
	f.args = append(f.args, args)
	return f.fail[name]
}

func (f *fakeExec) Init(ctx context.Context) error { return f.record("init", nil) }
func (f *fakeExec) Put(ctx context.Context, args []string) error {
	return f.record("put", args)
}
func (f *fakeExec) Get(ctx context.Context, args []string) error {
	return f.record("get", args)
}
func (f *fakeExec) List(ctx context.Context) error { return f.record("list", nil) }
func (f *fakeExec) Remove(ctx context.Context, args []string) error {
	return f.record("rm", args)
}
func (f *fakeExec) Tags(ctx context.Context) error   { return f.record("tags", nil) }
func (f *fakeExec) Logout(ctx context.Context) error { return f.record("logout", nil) }

func silence(t *testing.T) *[]string {
	t.Helper()
	var printed []string
	origPrint := printlnFn
	printlnFn = func(a ...any) (int, error) {
		parts := make([]string, len(a))
		for i, v := range a {
			if err, ok := v.(error); ok {
				parts[i] = err.Error()
				continue
			}
			parts[i], _ = v.(string)
		}
		printed = append(printed, strings.Join(parts, " "))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = origPrint })
	return &printed
}

func TestRunREPL_Commands(t *testing.T) {
	printed := silence(t)

	input := strings.NewReader(strings.Join([]string{
		"help",
		"init",
		"",
		"put a.txt work,home",
		"l",
		"get 42 out",
		"rm 42",
		"tags",
		"foobar",
		"exit",
		"ls",
	}, "\n"))

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "status" }, bufio.NewScanner(input))

	want := []string{"init", "put", "list", "get", "rm", "tags"}
	if strings.Join(exec.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", exec.calls, want)
	}
	if got := exec.args[1]; len(got) != 2 || got[0] != "a.txt" || got[1] != "work,home" {
		t.Fatalf("put args = %v", got)
	}

	joined := strings.Join(*printed, "\n")
	if !strings.Contains(joined, "unknown command: foobar") {
		t.Fatalf("unknown command not reported:\n%s", joined)
	}
	if !strings.Contains(joined, "Bye!") {
		t.Fatalf("missing goodbye:\n%s", joined)
	}
}

func TestRunREPL_ErrorsDoNotStopLoop(t *testing.T) {
	printed := silence(t)

	exec := &fakeExec{fail: map[string]error{"get": errors.New("boom")}}
	input := strings.NewReader("get 1\nls\n")
	runREPL(context.Background(), exec, func() string { return "s" }, bufio.NewScanner(input))

	if strings.Join(exec.calls, ",") != "get,list" {
		t.Fatalf("calls = %v", exec.calls)
	}
	if !strings.Contains(strings.Join(*printed, "\n"), "error: boom") {
		t.Fatalf("error not printed: %v", *printed)
	}
}

func TestRunREPL_StopsAfterLogout(t *testing.T) {
	silence(t)

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "s" }, bufio.NewScanner(strings.NewReader("logout\nls\n")))

	if strings.Join(exec.calls, ",") != "logout" {
		t.Fatalf("calls = %v", exec.calls)
	}
}

func TestDispatch_Unknown(t *testing.T) {
	err := dispatch(context.Background(), &fakeExec{}, "nope", nil)
	if !errors.Is(err, errUnknownCommand) {
		t.Fatalf("err = %v, want errUnknownCommand", err)
	}
}
