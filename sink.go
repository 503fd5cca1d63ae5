package nsweep

// sink.go persists aggregate results.  The line sink appends one text line per
// configuration and holds no file handle between appends, so a failed write
// leaves every earlier line intact.

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// result columns that follow the configuration columns
const (
	ColThroughput = "throughput_mbps"
	ColDelay      = "delay_s"
)

// ResultSink receives the result of every completed configuration
type ResultSink interface {
	Append(result AggregateResult) error
	Close() error
}

// LineSink appends space-separated lines to a file:
// the configuration columns, then throughput in Mbps, then mean delay in seconds
type LineSink struct {
	Filename string
	Columns  []string
}

// CreateLineSink is a constructor.  columns names the configuration fields
// written at the front of each line, normally Grid.Columns().
func CreateLineSink(filename string, columns []string) (*LineSink, error) {
	if len(filename) == 0 {
		return nil, errors.New("line sink needs a file name")
	}
	for _, col := range columns {
		switch col {
		case ColDistance1, ColDistance2, ColDataMode, ColRtsCts:
		default:
			return nil, fmt.Errorf("line sink column %q unknown", col)
		}
	}
	return &LineSink{Filename: filename, Columns: append([]string{}, columns...)}, nil
}

// Header is the comment line written at the top of a new output file
func (ls *LineSink) Header() string {
	cols := append(append([]string{}, ls.Columns...), ColThroughput, ColDelay)
	return "# " + strings.Join(cols, " ")
}

// FormatLine renders result as one output line, without the newline
func (ls *LineSink) FormatLine(result AggregateResult) string {
	fields := make([]string, 0, len(ls.Columns)+2)
	for _, col := range ls.Columns {
		switch col {
		case ColDistance1:
			fields = append(fields, formatNum(result.Config.Distance1))
		case ColDistance2:
			fields = append(fields, formatNum(result.Config.Distance2))
		case ColDataMode:
			fields = append(fields, result.Config.DataMode)
		case ColRtsCts:
			fields = append(fields, strconv.FormatBool(result.Config.RtsCts))
		}
	}
	fields = append(fields, formatNum(result.ThroughputMbps), formatNum(result.MeanDelay))
	return strings.Join(fields, " ")
}

// Append opens the file, writes one line, syncs and closes it
func (ls *LineSink) Append(result AggregateResult) (err error) {
	// a file that does not exist yet gets the header first
	_, serr := os.Stat(ls.Filename)
	isNew := errors.Is(serr, os.ErrNotExist)

	f, err := os.OpenFile(ls.Filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &SinkWriteError{Target: ls.Filename, Err: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &SinkWriteError{Target: ls.Filename, Err: cerr}
		}
	}()

	var text strings.Builder
	if isNew {
		text.WriteString(ls.Header())
		text.WriteString("\n")
	}
	text.WriteString(ls.FormatLine(result))
	text.WriteString("\n")

	if _, err = f.WriteString(text.String()); err != nil {
		return &SinkWriteError{Target: ls.Filename, Err: err}
	}
	if err = f.Sync(); err != nil {
		return &SinkWriteError{Target: ls.Filename, Err: err}
	}
	return nil
}

// Close is a no-op, every Append releases its handle
func (ls *LineSink) Close() error {
	return nil
}

// ParseResultLine reads back a line written under the given columns.  Comment
// lines are rejected; callers skip lines starting with '#'.
func ParseResultLine(columns []string, line string) (AggregateResult, error) {
	result := AggregateResult{}
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "#") {
		return result, errors.New("comment line")
	}
	fields := strings.Fields(line)
	if len(fields) != len(columns)+2 {
		return result, fmt.Errorf("line has %d fields, want %d", len(fields), len(columns)+2)
	}

	errs := []error{}
	for idx, col := range columns {
		var err error
		switch col {
		case ColDistance1:
			result.Config.Distance1, err = strconv.ParseFloat(fields[idx], 64)
		case ColDistance2:
			result.Config.Distance2, err = strconv.ParseFloat(fields[idx], 64)
		case ColDataMode:
			result.Config.DataMode = fields[idx]
		case ColRtsCts:
			result.Config.RtsCts, err = strconv.ParseBool(fields[idx])
		default:
			err = fmt.Errorf("column %q unknown", col)
		}
		errs = append(errs, err)
	}
	var terr, derr error
	result.ThroughputMbps, terr = strconv.ParseFloat(fields[len(columns)], 64)
	result.MeanDelay, derr = strconv.ParseFloat(fields[len(columns)+1], 64)
	errs = append(errs, terr, derr)

	return result, ReportErrs(errs)
}

// MultiSink hands every result to each of its sinks in turn
type MultiSink []ResultSink

// Append stops at the first sink that fails
func (ms MultiSink) Append(result AggregateResult) error {
	for _, sink := range ms {
		if err := sink.Append(result); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink, reporting all failures
func (ms MultiSink) Close() error {
	errs := []error{}
	for _, sink := range ms {
		errs = append(errs, sink.Close())
	}
	return ReportErrs(errs)
}
