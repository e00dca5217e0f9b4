package emit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter writes one line per event to a writer, either as text or as a
// JSON object (JSONL):
//
//	[batch_committed] context=6f1c... group=0b9e... shard=3 meta={"duration_ms":2}
//	{"context":"6f1c...","group":"0b9e...","shard":3,"msg":"batch_committed","meta":{"duration_ms":2}}
//
// Each line is written with a single Write call under a mutex, so lines from
// concurrent shards never interleave.
type LogEmitter struct {
	mu     sync.Mutex
	out    io.Writer
	asJSON bool
}

// NewLogEmitter creates a LogEmitter writing to w (os.Stdout when nil).
func NewLogEmitter(w io.Writer, jsonMode bool) *LogEmitter {
	if w == nil {
		w = os.Stdout
	}
	return &LogEmitter{out: w, asJSON: jsonMode}
}

// logLine is the JSON shape of one event.
type logLine struct {
	ContextID string         `json:"context"`
	GroupID   string         `json:"group"`
	Shard     int            `json:"shard"`
	Msg       string         `json:"msg"`
	Meta      map[string]any `json:"meta"`
}

// Emit writes the event.
func (l *LogEmitter) Emit(event Event) {
	var buf bytes.Buffer
	if l.asJSON {
		formatJSON(&buf, event)
	} else {
		formatText(&buf, event)
	}
	buf.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(buf.Bytes())
}

func formatJSON(buf *bytes.Buffer, event Event) {
	data, err := json.Marshal(logLine{
		ContextID: event.ContextID,
		GroupID:   event.GroupID,
		Shard:     event.Shard,
		Msg:       event.Msg,
		Meta:      event.Meta,
	})
	if err != nil {
		fmt.Fprintf(buf, `{"msg":%q,"error":%q}`, event.Msg, "failed to marshal event: "+err.Error())
		return
	}
	buf.Write(data)
}

func formatText(buf *bytes.Buffer, event Event) {
	fmt.Fprintf(buf, "[%s] context=%s group=%s shard=%d", event.Msg, event.ContextID, event.GroupID, event.Shard)
	if len(event.Meta) == 0 {
		return
	}
	if meta, err := json.Marshal(event.Meta); err == nil {
		fmt.Fprintf(buf, " meta=%s", meta)
	} else {
		fmt.Fprintf(buf, " meta=%v", event.Meta)
	}
}
