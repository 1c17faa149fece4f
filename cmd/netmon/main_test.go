package main

import (
	"testing"

	"github.com/dgnsrekt/netmon/internal/types"
)

func TestFanOut(t *testing.T) {
	var a, b []int64
	sink := fanOut(
		func(ev types.NetworkEvent) { a = append(a, ev.ID) },
		func(ev types.NetworkEvent) { b = append(b, ev.ID) },
	)
	sink(types.NetworkEvent{ID: 1})
	sink(types.NetworkEvent{ID: 2})

	if len(a) != 2 || len(b) != 2 || a[1] != 2 || b[0] != 1 {
		t.Fatalf("sinks got %v and %v; want [1 2] each", a, b)
	}
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "record"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("Find(%q) = %v, %v; want the %s command", name, cmd, err, name)
		}
	}

	record, _, _ := root.Find([]string{"record"})
	if err := record.Args(record, nil); err == nil {
		t.Fatal("record.Args(nil) = nil; want an error for a missing url")
	}
	for _, flag := range []string{"json", "csv", "wait", "headless", "attach", "archive", "notify"} {
		if record.Flags().Lookup(flag) == nil {
			t.Fatalf("record flag --%s not defined", flag)
		}
	}
}
