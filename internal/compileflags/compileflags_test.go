package compileflags

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindEntryByAbsolutePath(t *testing.T) {
	db := []Entry{
		{Directory: "/build", File: "/src/crypto.c", Arguments: []string{"clang", "/src/crypto.c"}},
	}
	entry, ok := FindEntry(db, "/src/crypto.c", "")
	require.True(t, ok)
	assert.Equal(t, "/src/crypto.c", entry.File)
}

func TestFindEntryByRelativePathResolvedAgainstDirectory(t *testing.T) {
	db := []Entry{
		{Directory: "/build/proj", File: "crypto.c", Arguments: []string{"clang", "crypto.c"}},
	}
	entry, ok := FindEntry(db, "/build/proj/crypto.c", "")
	require.True(t, ok)
	assert.Equal(t, "crypto.c", entry.File)
}

func TestFindEntryFallsBackToBasename(t *testing.T) {
	db := []Entry{
		{Directory: "/build", File: "/elsewhere/crypto.c", Arguments: []string{"clang", "crypto.c"}},
	}
	entry, ok := FindEntry(db, "/totally/different/path/crypto.c", "")
	require.True(t, ok)
	assert.Equal(t, "/elsewhere/crypto.c", entry.File)
}

func TestFindEntryNotFound(t *testing.T) {
	db := []Entry{{Directory: "/build", File: "/src/other.c"}}
	_, ok := FindEntry(db, "/src/crypto.c", "")
	assert.False(t, ok)
}

func TestGetRawFlagsDropsCompilerAndSourceArgument(t *testing.T) {
	entry := Entry{
		File:      "/src/crypto.c",
		Arguments: []string{"clang", "-Wall", "-O2", "/src/crypto.c", "-o", "crypto.o"},
	}
	raw := GetRawFlags(entry)
	assert.Equal(t, []string{"-Wall", "-O2", "-o", "crypto.o"}, raw)
}

func TestGetRawFlagsParsesCommandStringWhenArgumentsAbsent(t *testing.T) {
	entry := Entry{
		File:    "crypto.c",
		Command: `clang -Wall "crypto.c" -o crypto.o`,
	}
	raw := GetRawFlags(entry)
	assert.Equal(t, []string{"-Wall", "-o", "crypto.o"}, raw)
}

func TestExtractFlagsStripsOutputFlag(t *testing.T) {
	out := ExtractFlags([]string{"-Wall", "-o", "crypto.o", "-DFOO=1"})
	assert.Equal(t, []string{"-Wall", "-DFOO=1"}, out)
}

func TestExtractFlagsStripsDependencyFlags(t *testing.T) {
	out := ExtractFlags([]string{"-MD", "-MF", "crypto.d", "-MT", "crypto.o", "-c", "-Wall"})
	assert.Equal(t, []string{"-Wall"}, out)
}

func TestExtractFlagsStripsAttachedDependencyForm(t *testing.T) {
	out := ExtractFlags([]string{"-MFdepfile", "-Wall"})
	assert.Equal(t, []string{"-Wall"}, out)
}

func TestExtractFlagsStripsPrefixedFlags(t *testing.T) {
	out := ExtractFlags([]string{
		"-fmodules-cache-path=/tmp/cache",
		"-fdebug-prefix-map=/a=/b",
		"-fprofile-generate",
		"-Wall",
	})
	assert.Equal(t, []string{"-Wall"}, out)
}

func TestExtractFlagsStripsOptimizationLevels(t *testing.T) {
	out := ExtractFlags([]string{"-O2", "-Wall", "-O0", "-Ofast", "-Os", "-Og"})
	assert.Equal(t, []string{"-Wall"}, out)
}

func TestExtractFlagsIsIdempotentAndPreservesOrder(t *testing.T) {
	in := []string{"-Wall", "-DFOO", "-Iinclude", "-pthread"}
	once := ExtractFlags(in)
	twice := ExtractFlags(once)
	assert.Equal(t, once, twice)
	assert.Equal(t, []string{"-Wall", "-DFOO", "-Iinclude", "-pthread"}, once)
}

func TestResolveEndToEnd(t *testing.T) {
	dbJSON := `[
		{"directory": "/build", "file": "/src/crypto.c", "arguments": ["clang", "-O2", "-Wall", "/src/crypto.c", "-o", "crypto.o"]}
	]`
	flags, err := Resolve([]byte(dbJSON), "/src/crypto.c", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"-Wall"}, flags)
}

func TestResolveEntryNotFound(t *testing.T) {
	dbJSON := `[{"directory": "/build", "file": "/src/other.c", "arguments": ["clang", "/src/other.c"]}]`
	_, err := Resolve([]byte(dbJSON), "/src/crypto.c", "")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestResolveInvalidDatabase(t *testing.T) {
	_, err := Resolve([]byte("not json"), "/src/crypto.c", "")
	assert.ErrorIs(t, err, ErrInvalidDatabase)
}

func TestParseCommandStringHandlesQuoting(t *testing.T) {
	tokens := ParseCommandString(`clang -DMSG="hello world" crypto.c`)
	assert.Equal(t, []string{"clang", "-DMSG=hello world", "crypto.c"}, tokens)
}
