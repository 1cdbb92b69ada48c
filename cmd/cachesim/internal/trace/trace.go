// Package trace reads a CSV memory-access trace for replay against a
// cache array. One row per access: cycle,type,addr,size[,pc[,flags]].
package trace

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sarchlab/cachearray/mem"
)

// Access is one parsed trace row.
type Access struct {
	Cycle mem.Cycle
	Type  mem.ReqType
	Addr  mem.Address
	Size  uint64
	PC    uint64
	Flags mem.Flags
}

var typeNames = map[string]mem.ReqType{
	"GETS": mem.GETS,
	"GETX": mem.GETX,
	"PUTS": mem.PUTS,
	"PUTX": mem.PUTX,
}

var flagNames = map[string]mem.Flags{
	"PREFETCH":       mem.FlagPrefetch,
	"SPECULATIVE":    mem.FlagSpeculative,
	"SW_SPECULATIVE": mem.FlagSWSpeculative,
}

// Read parses every row of a CSV trace. A header row is optional; a
// row is treated as a header if its first field does not parse as an
// integer cycle. Rows may differ in width; rows with fewer than four
// fields are skipped.
func Read(r io.Reader) ([]Access, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}

	var accesses []Access
	for i, row := range rows {
		if len(row) < 4 {
			continue
		}

		cycle, err := strconv.ParseUint(row[0], 10, 64)
		if err != nil {
			if i == 0 {
				continue // header row
			}

			return nil, fmt.Errorf("trace: row %d: bad cycle %q: %w", i, row[0], err)
		}

		reqType, ok := typeNames[strings.ToUpper(strings.TrimSpace(row[1]))]
		if !ok {
			return nil, fmt.Errorf("trace: row %d: unknown access type %q", i, row[1])
		}

		addr, err := strconv.ParseUint(strings.TrimSpace(row[2]), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("trace: row %d: bad address %q: %w", i, row[2], err)
		}

		size, err := strconv.ParseUint(strings.TrimSpace(row[3]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("trace: row %d: bad size %q: %w", i, row[3], err)
		}

		var pc uint64
		if len(row) > 4 && strings.TrimSpace(row[4]) != "" {
			pc, err = strconv.ParseUint(strings.TrimSpace(row[4]), 0, 64)
			if err != nil {
				return nil, fmt.Errorf("trace: row %d: bad pc %q: %w", i, row[4], err)
			}
		}

		var flags mem.Flags
		if len(row) > 5 {
			for _, name := range strings.Split(row[5], "|") {
				name = strings.ToUpper(strings.TrimSpace(name))
				if name == "" {
					continue
				}

				f, ok := flagNames[name]
				if !ok {
					return nil, fmt.Errorf("trace: row %d: unknown flag %q", i, name)
				}

				flags |= f
			}
		}

		accesses = append(accesses, Access{
			Cycle: mem.Cycle(cycle),
			Type:  reqType,
			Addr:  mem.Address(addr),
			Size:  size,
			PC:    pc,
			Flags: flags,
		})
	}

	return accesses, nil
}
