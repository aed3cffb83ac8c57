package difftool

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/jwpark-dev/fmsportal/internal/review"
)

// Sentinel lines of the tool's stdout protocol. These are fixed by the
// external script and must be matched byte for byte.
const (
	countPrefix   = "DF_COUNT:"
	dataStartLine = "DF_DATA_START"
	dataEndLine   = "DF_DATA_END"
	blockStart    = "DF_START"
	blockEnd      = "DF_END"
)

// Column names the tool emits after renaming. Which reference columns are
// present encodes how many comparison roles the block carries.
const (
	colKey    = "key name"
	colTarget = "target_model data"
	colRef1   = "ref1 model data"
	colRef2   = "ref2 model data"
	colRef3   = "ref3 model data"
)

var refCols = []string{colRef1, colRef2, colRef3}

// Protocol failures that abort a sync attempt. Per-block failures are
// logged and skipped instead.
var (
	ErrNoCount     = errors.New("DF_COUNT line not found in tool output")
	ErrNoSentinels = errors.New("DF_DATA_START/DF_DATA_END sentinels not found in tool output")
	ErrNoBlocks    = errors.New("none of the announced blocks could be decoded")
)

// Row is one record of a block: an FMS key name plus its per-role values.
// Unused role slots stay blank.
type Row struct {
	Key    string
	Values review.RoleValues
}

// Dataset is one block of rows. Blocks arrive in the same order as the
// model combinations in the submitted spec. RoleCount is the number of
// value columns the block carried (2 to 4); 0 marks a skipped block.
type Dataset struct {
	Rows      []Row
	RoleCount int
}

// Result is the decoded tool output.
type Result struct {
	// Count is the block count the tool announced via DF_COUNT.
	Count int

	// Datasets holds one entry per announced block, indexed by the block
	// index the tool printed. Blocks that failed to parse are present but
	// empty.
	Datasets []Dataset
}

// Parse decodes a complete captured stdout buffer. The buffer must be
// fully drained before calling; sentinel positions are found by scanning
// lines, so partial output cannot be parsed.
//
// A DF_COUNT of 0 is a valid "no differences" result and yields an empty
// Result. Blocks whose JSON fails to decode are logged and skipped; total
// absence of the outer sentinels is an error, and so is a non-zero count
// where not a single block decoded. Output that garbled means the tool
// run itself is suspect, not the individual blocks.
func Parse(output []byte, logger *log.Logger) (*Result, error) {
	if logger == nil {
		logger = log.Default()
	}

	lines := splitLines(output)

	count := -1
	for _, line := range lines {
		if strings.HasPrefix(line, countPrefix) {
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, countPrefix)))
			if err != nil {
				return nil, fmt.Errorf("malformed DF_COUNT line %q: %w", line, err)
			}
			count = n
			break
		}
	}
	if count < 0 {
		return nil, ErrNoCount
	}
	if count == 0 {
		return &Result{Count: 0}, nil
	}

	start, end := -1, -1
	for i, line := range lines {
		switch line {
		case dataStartLine:
			if start < 0 {
				start = i
			}
		case dataEndLine:
			end = i
		}
	}
	if start < 0 || end < 0 || end < start {
		return nil, ErrNoSentinels
	}

	result := &Result{
		Count:    count,
		Datasets: make([]Dataset, count),
	}
	decoded := 0

	for i := start + 1; i < end; i++ {
		fields := strings.Fields(lines[i])
		if len(fields) != 2 || fields[0] != blockStart {
			continue
		}
		idx, err := strconv.Atoi(fields[1])
		if err != nil || idx < 0 {
			logger.Printf("Skipping block with malformed index line %q", lines[i])
			continue
		}

		// Accumulate payload lines until the matching DF_END.
		var payload []string
		closed := false
		j := i + 1
		for ; j < end; j++ {
			f := strings.Fields(lines[j])
			if len(f) == 2 && f[0] == blockEnd && f[1] == fields[1] {
				closed = true
				break
			}
			payload = append(payload, lines[j])
		}
		if !closed {
			logger.Printf("Block %d has no matching DF_END, skipping remainder", idx)
			break
		}
		i = j

		if idx >= len(result.Datasets) {
			logger.Printf("Block index %d exceeds announced count %d, skipping", idx, count)
			continue
		}

		ds, err := decodeBlock(strings.Join(payload, "\n"))
		if err != nil {
			logger.Printf("Failed to parse block %d: %v", idx, err)
			continue
		}
		result.Datasets[idx] = ds
		decoded++
	}

	if decoded == 0 {
		return nil, fmt.Errorf("%d blocks announced: %w", count, ErrNoBlocks)
	}
	return result, nil
}

// decodeBlock parses one block's JSON array of row objects. The reference
// columns present decide the role count; fewer than two value columns
// (a sub-3-column frame) invalidates the block.
func decodeBlock(payload string) (Dataset, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Dataset{}, fmt.Errorf("invalid block JSON: %w", err)
	}

	roleCount := 0
	rows := make([]Row, 0, len(raw))
	for _, obj := range raw {
		key := coerce(obj[colKey])
		if key == "" {
			continue
		}

		var values review.RoleValues
		values.Set(review.RoleTarget, coerce(obj[colTarget]))
		n := 1
		for i, col := range refCols {
			if v, ok := obj[col]; ok {
				values.Set(review.Role(int(review.RoleRef1)+i), coerce(v))
				n++
			}
		}
		if n > roleCount {
			roleCount = n
		}

		rows = append(rows, Row{Key: key, Values: values})
	}

	if len(rows) > 0 && roleCount < 2 {
		return Dataset{}, fmt.Errorf("block has %d value columns, need at least 2", roleCount)
	}

	return Dataset{Rows: rows, RoleCount: roleCount}, nil
}

// coerce renders a decoded JSON value the way the portal stores it. The
// tool's records mix strings, booleans, and numbers depending on the FMS
// key type.
func coerce(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Encode writes datasets in the tool's stdout protocol. It is the inverse
// of Parse and exists for tests and local tool stubs.
func Encode(w io.Writer, datasets []Dataset) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s %d\n", countPrefix, len(datasets))
	fmt.Fprintln(bw, dataStartLine)

	for i, ds := range datasets {
		objs := make([]map[string]string, 0, len(ds.Rows))
		for _, row := range ds.Rows {
			obj := map[string]string{
				colKey:    row.Key,
				colTarget: row.Values.Get(review.RoleTarget),
			}
			for j := 0; j < ds.RoleCount-1 && j < len(refCols); j++ {
				obj[refCols[j]] = row.Values.Get(review.Role(int(review.RoleRef1) + j))
			}
			objs = append(objs, obj)
		}

		data, err := json.Marshal(objs)
		if err != nil {
			return fmt.Errorf("failed to encode block %d: %w", i, err)
		}

		fmt.Fprintf(bw, "%s %d\n", blockStart, i)
		bw.Write(data)
		bw.WriteByte('\n')
		fmt.Fprintf(bw, "%s %d\n", blockEnd, i)
	}

	fmt.Fprintln(bw, dataEndLine)
	return bw.Flush()
}

// splitLines splits on newlines and strips trailing carriage returns, so
// the protocol parses under any newline style.
func splitLines(output []byte) []string {
	raw := bytes.Split(output, []byte("\n"))
	lines := make([]string, len(raw))
	for i, b := range raw {
		lines[i] = strings.TrimSuffix(string(b), "\r")
	}
	return lines
}
