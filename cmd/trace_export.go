package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/clothfold/clothsim/sim/trace"
)

// Trace export formats accepted by --trace-format.
const (
	TraceFormatJSON    = "json"
	TraceFormatMsgpack = "msgpack"
)

// IsValidTraceFormat returns true if format names a known export format.
func IsValidTraceFormat(format string) bool {
	return format == TraceFormatJSON || format == TraceFormatMsgpack
}

// WriteTrace encodes st to w in the given format.
func WriteTrace(w io.Writer, st *trace.SimulationTrace, format string) error {
	switch format {
	case TraceFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case TraceFormatMsgpack:
		enc := msgpack.NewEncoder(w)
		enc.UseCompactInts(true)
		return enc.Encode(st)
	default:
		return fmt.Errorf("unknown trace format %q (valid: %s, %s)", format, TraceFormatJSON, TraceFormatMsgpack)
	}
}

// ReadTrace decodes a trace written by WriteTrace.
func ReadTrace(r io.Reader, format string) (*trace.SimulationTrace, error) {
	var st trace.SimulationTrace
	var err error
	switch format {
	case TraceFormatJSON:
		err = json.NewDecoder(r).Decode(&st)
	case TraceFormatMsgpack:
		err = msgpack.NewDecoder(r).Decode(&st)
	default:
		err = fmt.Errorf("unknown trace format %q (valid: %s, %s)", format, TraceFormatJSON, TraceFormatMsgpack)
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// exportTrace writes st to path, creating or truncating the file.
func exportTrace(path string, st *trace.SimulationTrace, format string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trace file: %w", err)
	}
	if err := WriteTrace(f, st, format); err != nil {
		_ = f.Close()
		return fmt.Errorf("write trace: %w", err)
	}
	return f.Close()
}
