package passthrough

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/passfs/passfs/internal/metrics"
)

type recordedCall struct {
	op   string
	args string
	errc int
}

type recordingTracer struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *recordingTracer) Emit(op, args string, errc int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{op, args, errc})
}

func (r *recordingTracer) last() recordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

type recordingMetrics struct {
	mu     sync.Mutex
	ops    map[string]int
	sizes  map[string]int64
	errnos map[syscall.Errno]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		ops:    make(map[string]int),
		sizes:  make(map[string]int64),
		errnos: make(map[syscall.Errno]int),
	}
}

func (r *recordingMetrics) RecordOperation(op string, _ time.Duration, size int64, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op]++
	r.sizes[op] += size
}

func (r *recordingMetrics) RecordErrno(_ string, errno syscall.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errnos[errno]++
}

type fixture struct {
	root     string
	d        *Dispatcher
	counters *metrics.Counters
	tracer   *recordingTracer
	metrics  *recordingMetrics
}

// newFixture builds a backing directory holding a.txt (10 bytes) and sub/.
func newFixture(t *testing.T, strategy Enumerator, stats bool) *fixture {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("0123456789"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0755))

	f := &fixture{
		root:     root,
		counters: metrics.NewCounters(),
		tracer:   &recordingTracer{},
		metrics:  newRecordingMetrics(),
	}
	d, err := New(Options{
		Root:         root,
		Strategy:     strategy,
		StatsEnabled: stats,
		Counters:     f.counters,
		Tracer:       f.tracer,
		Metrics:      f.metrics,
	})
	require.NoError(t, err)
	f.d = d
	return f
}

func (f *fixture) open(t *testing.T, path string, flags int) uint64 {
	t.Helper()
	errc, fh := f.d.Open(path, flags)
	require.Equal(t, 0, errc, "open %s", path)
	t.Cleanup(func() { f.d.Release(path, fh) })
	return fh
}

func (f *fixture) readStats(t *testing.T) string {
	t.Helper()
	fi := OpenInfo{Flags: os.O_RDONLY}
	require.Equal(t, 0, f.d.OpenEx("/stats", &fi))
	buf := make([]byte, StatsCapacity)
	n := f.d.Read("/stats", buf, 0, fi.Fh)
	require.GreaterOrEqual(t, n, 0)
	return string(buf[:n])
}

func TestNewRejectsRelativeRoot(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Root: "relative/dir"})
	assert.Error(t, err)
}

func TestGetattrTranslatesPath(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Sequential{}, false)

	var st Stat
	require.Equal(t, 0, f.d.Getattr("/a.txt", &st, NoHandle))
	assert.Equal(t, int64(10), st.Size)
	assert.Equal(t, uint32(syscall.S_IFREG), st.Mode&syscall.S_IFMT)

	require.Equal(t, 0, f.d.Getattr("/sub", &st, NoHandle))
	assert.Equal(t, uint32(syscall.S_IFDIR), st.Mode&syscall.S_IFMT)

	require.Equal(t, 0, f.d.Getattr("/", &st, NoHandle))
	assert.Equal(t, uint32(syscall.S_IFDIR), st.Mode&syscall.S_IFMT)
}

func TestErrorsAreNegatedErrno(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Sequential{}, false)

	var st Stat
	assert.Equal(t, -int(syscall.ENOENT), f.d.Getattr("/missing", &st, NoHandle))
	assert.Equal(t, -int(syscall.ENOENT), f.d.Unlink("/missing"))
	assert.Equal(t, -int(syscall.EEXIST), f.d.Mkdir("/sub", 0755))

	require.NoError(t, os.WriteFile(filepath.Join(f.root, "sub", "x"), nil, 0644))
	assert.Equal(t, -int(syscall.ENOTEMPTY), f.d.Rmdir("/sub"))

	errc, fh := f.d.Open("/missing", os.O_RDONLY)
	assert.Equal(t, -int(syscall.ENOENT), errc)
	assert.Equal(t, NoHandle, fh)
	assert.Equal(t, 3, f.metrics.errnos[syscall.ENOENT])
}

func TestPathTooLong(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Sequential{}, false)

	long := "/" + strings.Repeat("x", 4096)
	var st Stat
	assert.Equal(t, -int(syscall.ENAMETOOLONG), f.d.Getattr(long, &st, NoHandle))
	assert.Equal(t, -int(syscall.ENAMETOOLONG), f.d.Mkdir(long, 0755))
	assert.Equal(t, -int(syscall.ENAMETOOLONG), f.d.Rename("/a.txt", long))
}

func TestReadWriteCountersAndStatsDocument(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Sequential{}, true)

	fh := f.open(t, "/a.txt", os.O_RDWR)

	buf := make([]byte, 64)
	n := f.d.Read("/a.txt", buf, 0, fh)
	require.Equal(t, 10, n)
	assert.Equal(t, "0123456789", string(buf[:n]))

	n = f.d.Write("/a.txt", []byte("abc"), 10, fh)
	require.Equal(t, 3, n)

	snap := f.counters.Snapshot()
	assert.Equal(t, uint64(10), snap.BytesRead)
	assert.Equal(t, uint64(3), snap.BytesWritten)

	doc := f.readStats(t)
	assert.Equal(t, "Bytes read: 10 (10 B)\nBytes written: 3 (3 B)\n", doc)

	// Reading the stats file does not count.
	assert.Equal(t, uint64(10), f.counters.Snapshot().BytesRead)

	data, err := os.ReadFile(filepath.Join(f.root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789abc", string(data))

	// Stats reads are sampled but carry no transfer size.
	assert.Equal(t, 2, f.metrics.ops["read"])
	assert.Equal(t, int64(10), f.metrics.sizes["read"])
	assert.Equal(t, int64(3), f.metrics.sizes["write"])
}

func TestSyntheticFile(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Sequential{}, true)

	t.Run("getattr", func(t *testing.T) {
		var st Stat
		require.Equal(t, 0, f.d.Getattr("/stats", &st, NoHandle))
		assert.Equal(t, uint32(syscall.S_IFREG|0444), st.Mode)
		assert.Equal(t, uint32(1), st.Nlink)
		assert.Equal(t, int64(len(f.d.stats.render())), st.Size)
		assert.Equal(t, uint32(os.Getuid()), st.Uid)
	})

	t.Run("open read only", func(t *testing.T) {
		fi := OpenInfo{Flags: os.O_RDONLY}
		require.Equal(t, 0, f.d.OpenEx("/stats", &fi))
		assert.True(t, fi.DirectIo)
		assert.Equal(t, SyntheticHandle, fi.Fh)
		assert.Equal(t, 0, f.d.Release("/stats", fi.Fh))
	})

	t.Run("open for write is denied", func(t *testing.T) {
		for _, flags := range []int{os.O_WRONLY, os.O_RDWR, os.O_RDONLY | os.O_TRUNC} {
			errc, _ := f.d.Open("/stats", flags)
			assert.Equal(t, -int(syscall.EACCES), errc, "flags %x", flags)
		}
		assert.Equal(t, -int(syscall.EACCES), f.tracer.last().errc)
	})

	t.Run("read honours offset", func(t *testing.T) {
		doc := f.d.stats.render()
		buf := make([]byte, 5)

		assert.Equal(t, 5, f.d.Read("/stats", buf, 0, SyntheticHandle))
		assert.Equal(t, string(doc[:5]), string(buf))

		big := make([]byte, 4096)
		n := f.d.Read("/stats", big, 6, SyntheticHandle)
		assert.Equal(t, len(doc)-6, n)
		assert.Equal(t, string(doc[6:]), string(big[:n]))

		assert.Equal(t, 0, f.d.Read("/stats", buf, int64(len(doc)), SyntheticHandle))
		assert.Equal(t, 0, f.d.Read("/stats", buf, int64(len(doc))+100, SyntheticHandle))
	})

	t.Run("mutations are denied", func(t *testing.T) {
		eacces := -int(syscall.EACCES)
		assert.Equal(t, eacces, f.d.Write("/stats", []byte("x"), 0, SyntheticHandle))
		assert.Equal(t, eacces, f.d.Truncate("/stats", 0, NoHandle))
		assert.Equal(t, eacces, f.d.Unlink("/stats"))
		assert.Equal(t, eacces, f.d.Chmod("/stats", 0777))
		assert.Equal(t, eacces, f.d.Chown("/stats", 0, 0))
		assert.Equal(t, eacces, f.d.Rename("/stats", "/other"))
		assert.Equal(t, eacces, f.d.Rename("/a.txt", "/stats"))
		assert.Equal(t, eacces, f.d.Link("/a.txt", "/stats"))
		assert.Equal(t, eacces, f.d.Mkdir("/stats", 0755))
		assert.Equal(t, eacces, f.d.Mknod("/stats", syscall.S_IFREG|0644, 0))
		assert.Equal(t, eacces, f.d.Symlink("/a.txt", "/stats"))
		assert.Equal(t, eacces, f.d.Setxattr("/stats", "user.x", []byte("1"), 0))
		assert.Equal(t, eacces, f.d.Removexattr("/stats", "user.x"))
		errc, _ := f.d.Create("/stats", os.O_WRONLY, 0644)
		assert.Equal(t, eacces, errc)

		_, err := os.Stat(filepath.Join(f.root, "stats"))
		assert.True(t, os.IsNotExist(err), "nothing may reach the backing store")
	})

	t.Run("no-op calls succeed", func(t *testing.T) {
		assert.Equal(t, 0, f.d.Flush("/stats", SyntheticHandle))
		assert.Equal(t, 0, f.d.Fsync("/stats", true, SyntheticHandle))
		assert.Equal(t, 0, f.d.Utimens("/stats", nil))
		assert.Equal(t, 0, f.d.Release("/stats", SyntheticHandle))
	})

	t.Run("access and xattrs", func(t *testing.T) {
		assert.Equal(t, 0, f.d.Access("/stats", 0x4))
		assert.Equal(t, -int(syscall.EACCES), f.d.Access("/stats", 0x2))
		assert.Equal(t, -int(syscall.EACCES), f.d.Access("/stats", 0x1))

		errc, _ := f.d.Getxattr("/stats", "user.x")
		assert.Equal(t, -int(errNoAttr), errc)

		var names []string
		assert.Equal(t, 0, f.d.Listxattr("/stats", func(n string) bool { names = append(names, n); return true }))
		assert.Empty(t, names)
	})
}

func TestStatsDisabledPassesThrough(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Sequential{}, false)

	var st Stat
	assert.Equal(t, -int(syscall.ENOENT), f.d.Getattr("/stats", &st, NoHandle))

	errc, fh := f.d.Create("/stats", os.O_WRONLY, 0644)
	require.Equal(t, 0, errc)
	assert.Equal(t, 2, f.d.Write("/stats", []byte("hi"), 0, fh))
	require.Equal(t, 0, f.d.Release("/stats", fh))

	data, err := os.ReadFile(filepath.Join(f.root, "stats"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

type listed struct {
	name string
	ofst int64
}

func readAll(t *testing.T, d *Dispatcher, path string) []listed {
	t.Helper()
	var out []listed
	errc := d.Readdir(path, func(name string, _ *Stat, ofst int64) bool {
		out = append(out, listed{name, ofst})
		return true
	}, 0, NoHandle)
	require.Equal(t, 0, errc)
	return out
}

func names(entries []listed) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.name
	}
	return out
}

func TestReaddirSequential(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Sequential{}, true)

	entries := readAll(t, f.d, "/")
	assert.ElementsMatch(t, []string{".", "..", "a.txt", "sub", "stats"}, names(entries))
	for _, e := range entries {
		assert.Zero(t, e.ofst, "sequential listings never hand out offsets")
	}
	assert.Equal(t, "stats", entries[len(entries)-1].name)

	sub := readAll(t, f.d, "/sub")
	assert.ElementsMatch(t, []string{".", ".."}, names(sub))
}

func TestReaddirSequentialStopsWhenFull(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Sequential{}, true)

	var got []string
	errc := f.d.Readdir("/", func(name string, _ *Stat, _ int64) bool {
		if len(got) == 2 {
			return false
		}
		got = append(got, name)
		return true
	}, 0, NoHandle)
	require.Equal(t, 0, errc)
	assert.Equal(t, []string{".", ".."}, got)
}

func TestReaddirCursorFullListing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Cursor{}, true)

	entries := readAll(t, f.d, "/")
	assert.ElementsMatch(t, []string{".", "..", "a.txt", "sub", "stats"}, names(entries))
	last := entries[len(entries)-1]
	assert.Equal(t, "stats", last.name)
	assert.Equal(t, entries[len(entries)-2].ofst, last.ofst, "stats reuses the last backing token")
}

// TestReaddirCursorResume pages through a large directory a few entries at a
// time, resuming from the last accepted token like the kernel does.
func TestReaddirCursorResume(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Cursor{}, true)

	want := []string{".", "..", "a.txt", "sub", "stats"}
	for i := 0; i < 40; i++ {
		name := fmt.Sprintf("file%02d", i)
		require.NoError(t, os.WriteFile(filepath.Join(f.root, name), nil, 0644))
		want = append(want, name)
	}

	for _, page := range []int{1, 3, 7} {
		errc, fh := f.d.Opendir("/")
		require.Equal(t, 0, errc)

		var got []string
		var ofst int64
		for calls := 0; calls < 1000; calls++ {
			accepted := 0
			errc := f.d.Readdir("/", func(name string, _ *Stat, next int64) bool {
				if accepted == page {
					return false
				}
				accepted++
				got = append(got, name)
				ofst = next
				return true
			}, ofst, fh)
			require.Equal(t, 0, errc)
			if accepted == 0 {
				break
			}
		}
		require.Equal(t, 0, f.d.Releasedir("/", fh))
		assert.ElementsMatch(t, want, got, "page size %d", page)
		assert.Equal(t, "stats", got[len(got)-1])
	}
}

// endTokenEnumerator lists fixed names whose last continuation token is
// math.MaxInt64, as ext4 reports for the final entry of a hashed directory.
type endTokenEnumerator struct {
	names []string
}

func (endTokenEnumerator) Name() string    { return "end-token" }
func (endTokenEnumerator) Resumable() bool { return true }

func (e endTokenEnumerator) token(i int) int64 {
	if i == len(e.names)-1 {
		return math.MaxInt64
	}
	return int64(i + 1)
}

func (e endTokenEnumerator) Enumerate(_ string, ofst int64, fill FillFunc) (bool, error) {
	start := 0
	if ofst != 0 {
		start = len(e.names)
		for i := range e.names {
			if e.token(i) == ofst {
				start = i + 1
				break
			}
		}
	}
	for i := start; i < len(e.names); i++ {
		if !fill(e.names[i], &Stat{Mode: syscall.S_IFDIR | 0755}, e.token(i)) {
			return false, nil
		}
	}
	return true, nil
}

func TestReaddirStatsAfterEndOfStreamToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t, endTokenEnumerator{names: []string{".", "..", "a.txt", "sub"}}, true)

	errc, fh := f.d.Opendir("/")
	require.Equal(t, 0, errc)
	defer f.d.Releasedir("/", fh)

	// Accept every backing entry, then report full when stats arrives.
	var first []listed
	require.Equal(t, 0, f.d.Readdir("/", func(name string, _ *Stat, ofst int64) bool {
		if name == "stats" {
			return false
		}
		first = append(first, listed{name, ofst})
		return true
	}, 0, fh))
	require.Equal(t, []string{".", "..", "a.txt", "sub"}, names(first))
	resume := first[len(first)-1].ofst
	require.Equal(t, int64(math.MaxInt64), resume)

	var second []listed
	require.Equal(t, 0, f.d.Readdir("/", func(name string, _ *Stat, ofst int64) bool {
		second = append(second, listed{name, ofst})
		return true
	}, resume, fh))
	require.Equal(t, []string{"stats"}, names(second))

	var third []listed
	require.Equal(t, 0, f.d.Readdir("/", func(name string, _ *Stat, ofst int64) bool {
		third = append(third, listed{name, ofst})
		return true
	}, second[0].ofst, fh))
	assert.Empty(t, third, "stats is listed once per handle")

	rewound := 0
	require.Equal(t, 0, f.d.Readdir("/", func(name string, _ *Stat, _ int64) bool {
		if name == "stats" {
			rewound++
		}
		return true
	}, 0, fh))
	assert.Equal(t, 1, rewound, "a listing restarted at 0 carries stats again")
}

func TestReaddirWithoutHandleAppendsStats(t *testing.T) {
	t.Parallel()
	f := newFixture(t, endTokenEnumerator{names: []string{".", ".."}}, true)

	entries := readAll(t, f.d, "/")
	assert.Equal(t, []string{".", "..", "stats"}, names(entries))
	assert.Equal(t, int64(math.MaxInt64), entries[2].ofst)
}

func TestReaddirShadowsBackingStatsFile(t *testing.T) {
	t.Parallel()

	for _, strategy := range []Enumerator{Sequential{}, Cursor{}} {
		f := newFixture(t, strategy, true)
		require.NoError(t, os.WriteFile(filepath.Join(f.root, "stats"), []byte("real"), 0644))

		count := 0
		for _, n := range names(readAll(t, f.d, "/")) {
			if n == "stats" {
				count++
			}
		}
		assert.Equal(t, 1, count, strategy.Name())
	}
}

func TestReaddirErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Cursor{}, true)

	fill := func(string, *Stat, int64) bool { return true }
	assert.Equal(t, -int(syscall.ENOENT), f.d.Readdir("/missing", fill, 0, NoHandle))
	assert.Equal(t, -int(syscall.ENOTDIR), f.d.Readdir("/a.txt", fill, 0, NoHandle))
	assert.Equal(t, -int(syscall.ENOTDIR), f.d.Readdir("/stats", fill, 0, NoHandle))

	errc, _ := f.d.Opendir("/a.txt")
	assert.Equal(t, -int(syscall.ENOTDIR), errc)
	errc, _ = f.d.Opendir("/sub")
	assert.Equal(t, 0, errc)
}

func TestNamespaceOperations(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Sequential{}, false)

	require.Equal(t, 0, f.d.Mkdir("/newdir", 0755))
	require.Equal(t, 0, f.d.Rename("/a.txt", "/newdir/b.txt"))
	require.Equal(t, 0, f.d.Link("/newdir/b.txt", "/hard.txt"))
	require.Equal(t, 0, f.d.Symlink("newdir/b.txt", "/link"))

	errc, target := f.d.Readlink("/link")
	require.Equal(t, 0, errc)
	assert.Equal(t, "newdir/b.txt", target, "symlink targets are stored verbatim")

	var st Stat
	require.Equal(t, 0, f.d.Getattr("/link", &st, NoHandle))
	assert.Equal(t, uint32(syscall.S_IFLNK), st.Mode&syscall.S_IFMT, "getattr must not follow links")

	require.Equal(t, 0, f.d.Getattr("/hard.txt", &st, NoHandle))
	assert.Equal(t, uint32(2), st.Nlink)

	require.Equal(t, 0, f.d.Chmod("/hard.txt", 0600))
	require.Equal(t, 0, f.d.Getattr("/hard.txt", &st, NoHandle))
	assert.Equal(t, uint32(0600), st.Mode&0777)

	require.Equal(t, 0, f.d.Truncate("/hard.txt", 4, NoHandle))
	require.Equal(t, 0, f.d.Getattr("/newdir/b.txt", &st, NoHandle))
	assert.Equal(t, int64(4), st.Size)

	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	ts := Timespec{Sec: mtime.Unix()}
	require.Equal(t, 0, f.d.Utimens("/hard.txt", []Timespec{ts, ts}))
	require.Equal(t, 0, f.d.Getattr("/hard.txt", &st, NoHandle))
	assert.Equal(t, mtime.Unix(), st.Mtim.Sec)

	require.Equal(t, 0, f.d.Mknod("/node", syscall.S_IFREG|0644, 0))
	_, err := os.Stat(filepath.Join(f.root, "node"))
	assert.NoError(t, err)

	require.Equal(t, 0, f.d.Unlink("/link"))
	require.Equal(t, 0, f.d.Unlink("/hard.txt"))
	require.Equal(t, 0, f.d.Unlink("/newdir/b.txt"))
	require.Equal(t, 0, f.d.Rmdir("/newdir"))

	assert.Equal(t, 0, f.d.Access("/sub", 0x4))
	assert.Equal(t, -int(syscall.ENOENT), f.d.Access("/newdir", 0))
}

func TestStatfsUsesRoot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Sequential{}, true)

	var st Statfs
	require.Equal(t, 0, f.d.Statfs("/sub", &st))
	assert.NotZero(t, st.Bsize)
	assert.Zero(t, st.Fsid)

	var rootSt Statfs
	require.Equal(t, 0, f.d.Statfs("/does/not/exist", &rootSt))
	assert.Equal(t, st.Bsize, rootSt.Bsize)
}

func TestFlushKeepsHandleOpen(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Sequential{}, false)

	fh := f.open(t, "/a.txt", os.O_RDONLY)
	require.Equal(t, 0, f.d.Flush("/a.txt", fh))
	require.Equal(t, 0, f.d.Flush("/a.txt", fh))

	buf := make([]byte, 4)
	assert.Equal(t, 4, f.d.Read("/a.txt", buf, 2, fh))
	assert.Equal(t, "2345", string(buf))
	assert.Equal(t, 0, f.d.Fsync("/a.txt", false, fh))
}

func TestReleaseClosesHandle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Sequential{}, false)

	errc, fh := f.d.Open("/a.txt", os.O_RDONLY)
	require.Equal(t, 0, errc)
	require.Equal(t, 0, f.d.Release("/a.txt", fh))

	assert.Equal(t, -int(syscall.EBADF), f.d.Release("/a.txt", 1<<30))
	assert.Equal(t, -int(syscall.EBADF), f.d.Read("/a.txt", make([]byte, 1), 0, 1<<30))
}

func TestConcurrentTransfersAreCounted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Sequential{}, true)

	const workers = 8
	const rounds = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		errc, fh := f.d.Open("/a.txt", os.O_RDONLY)
		require.Equal(t, 0, errc)
		wg.Add(1)
		go func(fh uint64) {
			defer wg.Done()
			defer f.d.Release("/a.txt", fh)
			buf := make([]byte, 10)
			for j := 0; j < rounds; j++ {
				f.d.Read("/a.txt", buf, 0, fh)
			}
		}(fh)
	}
	wg.Wait()

	assert.Equal(t, uint64(workers*rounds*10), f.counters.Snapshot().BytesRead)
}

func TestEveryDispatchIsInstrumented(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Sequential{}, true)

	var st Stat
	f.d.Getattr("/a.txt", &st, NoHandle)
	assert.Equal(t, recordedCall{"getattr", "/a.txt", 0}, f.tracer.last())

	f.d.Getattr("/nope", &st, NoHandle)
	assert.Equal(t, recordedCall{"getattr", "/nope", -int(syscall.ENOENT)}, f.tracer.last())

	f.d.Getattr("/stats", &st, NoHandle)
	assert.Equal(t, "getattr", f.tracer.last().op)

	f.d.Mkdir("/d", 0755)
	assert.Equal(t, recordedCall{"mkdir", "/d,mode=755", 0}, f.tracer.last())

	assert.Equal(t, 3, f.metrics.ops["getattr"])
	assert.Equal(t, 1, f.metrics.ops["mkdir"])
	assert.Equal(t, 1, f.metrics.errnos[syscall.ENOENT])
}

func TestNewEnumerator(t *testing.T) {
	t.Parallel()

	e, err := NewEnumerator("sequential")
	require.NoError(t, err)
	assert.False(t, e.Resumable())

	e, err = NewEnumerator("cursor")
	require.NoError(t, err)
	assert.True(t, e.Resumable())

	e, err = NewEnumerator("")
	require.NoError(t, err)
	assert.Equal(t, "sequential", e.Name())

	_, err = NewEnumerator("random")
	assert.Error(t, err)
}

func TestDirectoryHandles(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Sequential{}, true)

	f.d.Init()
	defer f.d.Destroy()

	errc, fh := f.d.Opendir("/sub")
	require.Equal(t, 0, errc)
	assert.NotEqual(t, NoHandle, fh)
	assert.NotNil(t, f.d.dirs.get(fh))
	assert.Equal(t, 0, f.d.Fsyncdir("/sub", false, fh))
	assert.Equal(t, 0, f.d.Releasedir("/sub", fh))
	assert.Nil(t, f.d.dirs.get(fh))

	errc, other := f.d.Opendir("/")
	require.Equal(t, 0, errc)
	assert.NotEqual(t, fh, other)
	assert.Equal(t, 0, f.d.Releasedir("/", other))

	errc, _ = f.d.Opendir("/a.txt")
	assert.Equal(t, -int(syscall.ENOTDIR), errc)
	errc, _ = f.d.Opendir("/missing")
	assert.Equal(t, -int(syscall.ENOENT), errc)
	errc, _ = f.d.Opendir("/stats")
	assert.Equal(t, -int(syscall.ENOTDIR), errc)
}

func TestChownToSelf(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Sequential{}, false)

	uid, gid := uint32(os.Getuid()), uint32(os.Getgid())
	require.Equal(t, 0, f.d.Chown("/a.txt", uid, gid))

	var st Stat
	require.Equal(t, 0, f.d.Getattr("/a.txt", &st, NoHandle))
	assert.Equal(t, uid, st.Uid)
	assert.Equal(t, gid, st.Gid)

	assert.Equal(t, -int(syscall.ENOENT), f.d.Chown("/missing", uid, gid))
}

func TestUtimensOmitKeepsTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Sequential{}, false)

	mtime := time.Date(2021, 6, 7, 8, 9, 10, 0, time.UTC)
	set := Timespec{Sec: mtime.Unix()}
	require.Equal(t, 0, f.d.Utimens("/a.txt", []Timespec{set, set}))

	atime := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	omit := Timespec{Nsec: unix.UTIME_OMIT}
	require.Equal(t, 0, f.d.Utimens("/a.txt", []Timespec{{Sec: atime.Unix()}, omit}))

	var st Stat
	require.Equal(t, 0, f.d.Getattr("/a.txt", &st, NoHandle))
	assert.Equal(t, mtime.Unix(), st.Mtim.Sec)
	assert.Equal(t, atime.Unix(), st.Atim.Sec)
}

func TestBackingXattrs(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Sequential{}, false)

	errc := f.d.Setxattr("/a.txt", "user.passfs", []byte("v1"), 0)
	if errc == -int(syscall.ENOTSUP) || errc == -int(syscall.EOPNOTSUPP) {
		t.Skip("backing filesystem has no user xattrs")
	}
	require.Equal(t, 0, errc)

	errc, value := f.d.Getxattr("/a.txt", "user.passfs")
	require.Equal(t, 0, errc)
	assert.Equal(t, []byte("v1"), value)

	var names []string
	require.Equal(t, 0, f.d.Listxattr("/a.txt", func(n string) bool {
		names = append(names, n)
		return true
	}))
	assert.Contains(t, names, "user.passfs")

	require.Equal(t, 0, f.d.Removexattr("/a.txt", "user.passfs"))
	errc, _ = f.d.Getxattr("/a.txt", "user.passfs")
	assert.Equal(t, -int(errNoAttr), errc)
}

func TestReadSizedRetriesWhenValueGrows(t *testing.T) {
	t.Parallel()

	// The value grows from "" to "grown" between the size query and the
	// read, and the zero-length read reports the new size instead of ERANGE.
	values := []string{"", "grown", "grown", "grown"}
	calls := 0
	got, err := readSized(func(buf []byte) (int, error) {
		v := values[calls]
		calls++
		if len(buf) == 0 {
			return len(v), nil
		}
		if len(buf) < len(v) {
			return 0, unix.ERANGE
		}
		return copy(buf, v), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("grown"), got)
	assert.Equal(t, 4, calls)

	t.Run("shrinking value is trimmed", func(t *testing.T) {
		sizes := []string{"longer", "short"}
		calls := 0
		got, err := readSized(func(buf []byte) (int, error) {
			v := sizes[calls]
			calls++
			if buf == nil {
				return len(v), nil
			}
			return copy(buf, v), nil
		})
		require.NoError(t, err)
		assert.Equal(t, []byte("short"), got)
	})

	t.Run("errors pass through", func(t *testing.T) {
		_, err := readSized(func([]byte) (int, error) { return 0, unix.ENODATA })
		assert.Equal(t, unix.ENODATA, err)
	})
}
