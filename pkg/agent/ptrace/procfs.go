//go:build linux

package ptrace

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/hitzhangjie/rdbg/pkg/agent"
)

// readProcComm read /proc/pid/comm or /proc/pid/stat to load the command name of process.
func readProcComm(pid int) (string, error) {
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err == nil {
		// removes newline character
		comm = bytes.TrimSuffix(comm, []byte("\n"))
	}

	if len(comm) == 0 {
		stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
		if err != nil {
			return "", fmt.Errorf("could not read proc stat: %v", err)
		}
		expr := fmt.Sprintf("%d\\s*\\((.*)\\)", pid)
		rexp, err := regexp.Compile(expr)
		if err != nil {
			return "", fmt.Errorf("regexp compile error: %v", err)
		}
		match := rexp.FindSubmatch(stat)
		if match == nil {
			return "", fmt.Errorf("no match found using regexp '%s' in /proc/%d/stat", expr, pid)
		}
		comm = match[1]
	}
	return string(comm), nil
}

// loadThreadList lists /proc/pid/task.
func loadThreadList(pid int) ([]int, error) {
	var threadIDs []int

	tids, _ := filepath.Glob(fmt.Sprintf("/proc/%d/task/*", pid))
	for _, tidpath := range tids {
		tid, err := strconv.Atoi(filepath.Base(tidpath))
		if err != nil {
			return nil, err
		}
		threadIDs = append(threadIDs, tid)
	}
	sort.Ints(threadIDs)
	return threadIDs, nil
}

// checkPid reports whether pid names a live process.
func checkPid(pid int) bool {
	return pid > 0 && unix.Kill(pid, 0) == nil
}

func readModules(pid int) ([]agent.Module, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseMaps(f)
}

// parseMaps turns /proc/pid/maps into one module per mapped file. A module's
// base is its mapping at file offset 0, its size spans to the end of its last
// mapping.
//
//	55d0c7a00000-55d0c7a02000 r--p 00000000 08:01 1234   /usr/bin/true
func parseMaps(r io.Reader) ([]agent.Module, error) {
	type span struct {
		base, end uint64
		hasBase   bool
	}
	var (
		order []string
		spans = map[string]*span{}
	)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 6 {
			continue
		}
		path := strings.Join(fields[5:], " ")
		if !strings.HasPrefix(path, "/") {
			// [heap], [stack], [vdso] and anonymous mappings
			continue
		}

		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("bad address range %q", fields[0])
		}
		start, err := strconv.ParseUint(bounds[0], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("bad address range %q: %w", fields[0], err)
		}
		end, err := strconv.ParseUint(bounds[1], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("bad address range %q: %w", fields[0], err)
		}
		offset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("bad offset %q: %w", fields[2], err)
		}

		s, ok := spans[path]
		if !ok {
			s = &span{}
			spans[path] = s
			order = append(order, path)
		}
		if offset == 0 && (!s.hasBase || start < s.base) {
			s.base, s.hasBase = start, true
		}
		if end > s.end {
			s.end = end
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	var mods []agent.Module
	for _, path := range order {
		s := spans[path]
		if !s.hasBase {
			continue
		}
		mods = append(mods, agent.Module{
			Name: filepath.Base(path),
			Path: path,
			Base: s.base,
			Size: s.end - s.base,
		})
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].Base < mods[j].Base })
	return mods, nil
}
