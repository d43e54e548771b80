package migrate

import (
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"

	"github.com/chatvault/ingest/internal/domain"
)

// Script filenames must be NNN-description.sql with a zero-padded sequence
// number. Numbers must be contiguous from 000; the reserved terminal number
// 999 ends the contiguity check early, exempting itself and any later file.
var scriptName = regexp.MustCompile(`^(\d{3})-[a-z][a-z-]*\.sql$`)

const terminalSeq = 999

func scriptNumber(name string) (int, error) {
	m := scriptName.FindStringSubmatch(name)
	if m == nil {
		return 0, fmt.Errorf("%q does not match %s: %w", name, scriptName, domain.ErrBadScriptName)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("%q: %w", name, domain.ErrBadScriptName)
	}
	return n, nil
}

func checkScriptOrder(names []string) error {
	prev := -1
	for _, name := range names {
		n, err := scriptNumber(name)
		if err != nil {
			return err
		}
		if n == terminalSeq {
			break
		}
		if n != prev+1 {
			return fmt.Errorf("expected %03d, found %q: %w", prev+1, name, domain.ErrScriptGap)
		}
		prev = n
	}
	return nil
}

// listScripts returns the sorted .sql filenames at the root of fsys after
// validating names and ordering. Validation failures are fatal before any
// script executes.
func listScripts(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("list migration scripts: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if err := checkScriptOrder(names); err != nil {
		return nil, err
	}
	return names, nil
}
