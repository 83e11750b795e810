package triggerbox

import (
	"bufio"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braid-data/braid/internal/braid"
)

// scriptedPort answers each "P\n" query from a list of canned
// responses.
type scriptedPort struct {
	responses []string
	reads     int
	pr        *io.PipeReader
	pw        *io.PipeWriter
}

func newScriptedPort(responses []string) *scriptedPort {
	pr, pw := io.Pipe()
	return &scriptedPort{responses: responses, pr: pr, pw: pw}
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	if p.reads < len(p.responses) {
		resp := p.responses[p.reads]
		p.reads++
		go p.pw.Write([]byte(resp))
	}
	return len(b), nil
}

func (p *scriptedPort) Read(b []byte) (int, error) { return p.pr.Read(b) }
func (p *scriptedPort) Close() error               { return p.pw.Close() }

func TestQueryOnce(t *testing.T) {
	t.Parallel()
	saves := make(chan braid.SaveToDiskMsg, 4)
	d := New(Config{Device: "test", Saves: saves})
	port := newScriptedPort([]string{"P 1234 128\n"})
	defer port.Close()
	r := bufio.NewReader(port)

	require.NoError(t, d.queryOnce(port, r))
	select {
	case msg := <-saves:
		row := msg.(braid.SaveTriggerClockInfo).Row
		assert.Equal(t, int64(1234), row.Framecount)
		assert.Equal(t, uint8(128), row.Tcnt)
		assert.False(t, row.StopTimestamp.Before(row.StartTimestamp))
	default:
		t.Fatal("no clock row saved")
	}
}

func TestQueryOnceParseError(t *testing.T) {
	t.Parallel()
	d := New(Config{Device: "test"})
	port := newScriptedPort([]string{"garbled\n"})
	defer port.Close()
	r := bufio.NewReader(port)
	err := d.queryOnce(port, r)
	require.Error(t, err)
	assert.Contains(t, fmt.Sprint(err), "parse response")
}
