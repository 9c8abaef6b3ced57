package macro

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Set is the collection of saved queries found in one directory.
type Set struct {
	dir    string
	infos  []Info
	byName map[string]Info
}

// fileOptions returns the Starlark dialect for saved query files.
func fileOptions() *syntax.FileOptions {
	return &syntax.FileOptions{Set: true}
}

// Load scans dir for .star files and parses their query definitions.
// A missing directory yields an empty set, so listings work before the
// project is initialized. Files are parsed, not executed; execution
// happens per call in Run.
func Load(dir string) (*Set, error) {
	s := &Set{dir: dir, byName: map[string]Info{}}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("queries directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("queries path is not a directory: %s", dir)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.star"))
	if err != nil {
		return nil, fmt.Errorf("scan queries directory: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, &LoadError{File: file, Message: err.Error()}
		}
		infos, err := parseFile(file, content)
		if err != nil {
			return nil, err
		}
		for _, qi := range infos {
			if prev, ok := s.byName[qi.Name]; ok {
				return nil, &LoadError{File: file, Message: fmt.Sprintf(
					"query %q already defined in %s", qi.Name, filepath.Base(prev.File))}
			}
			s.byName[qi.Name] = qi
			s.infos = append(s.infos, qi)
		}
	}
	return s, nil
}

// Queries lists the set's queries, sorted by file then line.
func (s *Set) Queries() []Info { return s.infos }

// Lookup returns the named query's metadata.
func (s *Set) Lookup(name string) (Info, bool) {
	qi, ok := s.byName[name]
	return qi, ok
}

// Run executes the named saved query with the given arguments and
// returns the criteria shorthand map it produced. Argument values are
// strings from the command line; they are coerced to ints, floats and
// bools when they parse as one.
func (s *Set) Run(name string, args map[string]string) (map[string]any, error) {
	qi, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("no saved query %q in %s", name, s.dir)
	}

	content, err := os.ReadFile(qi.File)
	if err != nil {
		return nil, &LoadError{File: qi.File, Message: err.Error()}
	}

	thread := &starlark.Thread{
		Name:  "query:" + name,
		Print: func(_ *starlark.Thread, _ string) {},
	}
	globals, err := starlark.ExecFileOptions(fileOptions(), thread, qi.File, content, nil)
	if err != nil {
		return nil, &LoadError{File: qi.File, Message: err.Error()}
	}

	fn, ok := globals[name].(*starlark.Function)
	if !ok {
		return nil, &LoadError{File: qi.File, Message: fmt.Sprintf("%q is not a function", name)}
	}

	kwargs := make([]starlark.Tuple, 0, len(args))
	for _, k := range sortedKeys(args) {
		kwargs = append(kwargs, starlark.Tuple{starlark.String(k), coerceArg(args[k])})
	}

	result, err := starlark.Call(thread, fn, nil, kwargs)
	if err != nil {
		return nil, &LoadError{File: qi.File, Message: err.Error()}
	}

	v, err := toGo(result)
	if err != nil {
		return nil, &LoadError{File: qi.File, Message: err.Error()}
	}
	shorthand, ok := v.(map[string]any)
	if !ok {
		return nil, &LoadError{File: qi.File, Message: fmt.Sprintf(
			"query %q returned %s, expected a dict of criteria", name, result.Type())}
	}
	return shorthand, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// coerceArg turns a command line string into the most specific Starlark
// value it parses as.
func coerceArg(s string) starlark.Value {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return starlark.MakeInt64(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return starlark.Float(f)
	}
	switch strings.ToLower(s) {
	case "true":
		return starlark.Bool(true)
	case "false":
		return starlark.Bool(false)
	}
	return starlark.String(s)
}

// toGo converts a Starlark value into the Go shapes the query builder
// understands.
func toGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.String:
		return string(val), nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i64, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s does not fit in 64 bits", val.String())
		}
		return i64, nil
	case starlark.Float:
		return float64(val), nil
	case *starlark.List:
		out := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := toGo(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			out[i] = gv
		}
		return out, nil
	case starlark.Tuple:
		out := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := toGo(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("tuple index %d: %w", i, err)
			}
			out[i] = gv
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be a string, got %s", item[0].Type())
			}
			gv, err := toGo(item[1])
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", string(key), err)
			}
			out[string(key)] = gv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot use a %s value in a query", v.Type())
	}
}
