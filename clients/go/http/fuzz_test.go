// Fuzz tests for the SSE parser. Uses the white-box package (package http)
// to reach unexported symbols.
package http

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"

	buttongate "github.com/vmxmy/buttongate/clients/go"
)

// runParseSSE runs the SSE parser on b and collects all emitted events.
// Draining the channel prevents goroutine leaks in corpus-mode runs.
func runParseSSE(b []byte) []buttongate.ChangeEvent {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := make(chan buttongate.ChangeEvent, 256)
	go func() {
		defer close(ch)
		br := bufio.NewReaderSize(bytes.NewReader(b), 1<<20)
		parseSSE(ctx, br, ch)
	}()
	var evs []buttongate.ChangeEvent
	for e := range ch {
		evs = append(evs, e)
	}
	return evs
}

// FuzzParseSSE ensures the SSE parser never panics on arbitrary input and
// produces no more events than blank lines in the input (upper bound).
func FuzzParseSSE(f *testing.F) {
	f.Add([]byte("id: 1\nevent: upsert\ndata: {\"id\":\"r-1\",\"button_type\":\"x\"}\n\n"))
	f.Add([]byte("id: 2\nevent: delete\ndata: {\"id\":\"r-2\"}\n\n"))
	f.Add([]byte("event: upsert\ndata: first\ndata: second\n\n"))
	f.Add([]byte(":comment\ndata:hello\n\n"))
	f.Add([]byte("\n\n"))
	f.Add([]byte(""))
	f.Add([]byte("id:9999999999\nevent:upsert\ndata:{}\n\n"))
	f.Add([]byte(strings.Repeat("data:x\n", 1000) + "\n"))

	f.Fuzz(func(t *testing.T, data []byte) {
		evs := runParseSSE(data)
		// Upper-bound sanity: events ≤ number of blank lines in input.
		blankLines := bytes.Count(data, []byte("\n\n"))
		if len(evs) > blankLines+1 {
			t.Errorf("got %d events from input with %d blank lines", len(evs), blankLines)
		}

		// Rule payloads only attach to upsert/delete events.
		for _, ev := range evs {
			if ev.Rule != nil && ev.Type != "upsert" && ev.Type != "delete" {
				t.Errorf("event type %q carries a rule payload", ev.Type)
			}
		}
	})
}
