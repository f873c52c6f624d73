package procname

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jongio/portwarden/src/internal/executor"
	"github.com/jongio/portwarden/src/internal/ports"
)

// ErrNotFound is returned when the OS reports no process for a pid.
var ErrNotFound = errors.New("process not found")

// TasklistLookup resolves names with tasklist and paths with PowerShell.
type TasklistLookup struct {
	Runner executor.Runner
}

// Name runs `tasklist /FI "PID eq N" /FO CSV /NH` and returns the image name.
func (l TasklistLookup) Name(ctx context.Context, pid int) (string, error) {
	out, err := l.Runner.Output(ctx, "tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/NH")
	if err != nil {
		return "", err
	}
	return parseTasklistCSV(ports.DecodeOutput(out), pid)
}

// Path asks PowerShell for the process's main module path.
func (l TasklistLookup) Path(ctx context.Context, pid int) (string, error) {
	out, err := l.Runner.Output(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command",
		fmt.Sprintf("(Get-Process -Id %d -ErrorAction SilentlyContinue).Path", pid))
	if err != nil {
		return "", err
	}
	path := strings.TrimSpace(ports.DecodeOutput(out))
	if path == "" {
		return "", ErrNotFound
	}
	return path, nil
}

// parseTasklistCSV finds the row for pid in `"image","pid",...` output.
// The "no tasks are running" notice is not CSV and yields ErrNotFound.
func parseTasklistCSV(text string, pid int) (string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	want := strconv.Itoa(pid)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return "", ErrNotFound
		}
		if err != nil {
			continue
		}
		if len(rec) >= 2 && strings.TrimSpace(rec[1]) == want {
			if name := strings.TrimSpace(rec[0]); name != "" {
				return name, nil
			}
		}
	}
}
