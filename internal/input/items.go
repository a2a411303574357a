// Package input reads the list of catalog items to ingest.
//
// The format is one or more ids per line, comma separated. A line of the form
// "extension=<tag>" sets the provenance tag for every following id until the
// next directive; an empty tag clears it.
package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var ErrNoItems = errors.New("no valid item ids found in input")

const extensionDirective = "extension="

type Entry struct {
	ID        int64
	Extension *string
}

func ReadItems(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open item file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	entries, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// Parse keeps the first occurrence of a repeated id, including its tag.
// Tokens that are not plain non-negative integers are ignored.
func Parse(r io.Reader) ([]Entry, error) {
	var (
		entries []Entry
		current *string
		seen    = map[int64]struct{}{}
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(line), extensionDirective) {
			tag := strings.TrimSpace(line[len(extensionDirective):])
			if tag == "" {
				current = nil
			} else {
				current = &tag
			}
			continue
		}
		for _, tok := range strings.Split(line, ",") {
			tok = strings.TrimSpace(tok)
			if !isDigits(tok) {
				continue
			}
			id, err := strconv.ParseInt(tok, 10, 64)
			if err != nil {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			entries = append(entries, Entry{ID: id, Extension: current})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoItems
	}
	return entries, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IDs returns the entry ids in input order.
func IDs(entries []Entry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}
