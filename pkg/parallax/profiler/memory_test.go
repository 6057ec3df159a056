package profiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// withHostMemory reports n bytes available out of twice that much.
func withHostMemory(t *testing.T, n int64, ok bool) {
	t.Helper()
	orig := hostMemory
	t.Cleanup(func() { hostMemory = orig })
	hostMemory = func() (memoryStat, bool) { return memoryStat{available: n, total: 2 * n}, ok }
}

func TestDetectMemory_CgroupV2Limit(t *testing.T) {
	withHostMemory(t, 64*types.GiB, true)

	root := t.TempDir()
	writeFile(t, root, "proc/self/cgroup", "0::/user.slice/app.scope\n")
	writeFile(t, root, "sys/fs/cgroup/user.slice/app.scope/memory.max", "1073741824\n")
	writeFile(t, root, "sys/fs/cgroup/user.slice/app.scope/memory.current", "268435456\n")

	info := detectMemory(root)

	assert.Equal(t, types.MemoryCgroupV2, info.source)
	assert.Equal(t, int64(768*types.MiB), info.available)
	assert.Equal(t, types.GiB, info.total, "limit, not limit minus usage")
	assert.True(t, info.source.IsContainer())
}

func TestDetectMemory_CgroupV2NamespacedRoot(t *testing.T) {
	withHostMemory(t, 64*types.GiB, true)

	root := t.TempDir()
	writeFile(t, root, "proc/self/cgroup", "0::/\n")
	writeFile(t, root, "sys/fs/cgroup/memory.max", "536870912\n")

	info := detectMemory(root)

	assert.Equal(t, types.MemoryCgroupV2, info.source)
	assert.Equal(t, int64(512*types.MiB), info.available)
}

func TestDetectMemory_CgroupV2Unlimited(t *testing.T) {
	withHostMemory(t, 16*types.GiB, true)

	root := t.TempDir()
	writeFile(t, root, "proc/self/cgroup", "0::/user.slice\n")
	writeFile(t, root, "sys/fs/cgroup/user.slice/memory.max", "max\n")

	info := detectMemory(root)

	assert.Equal(t, types.MemoryHost, info.source)
	assert.Equal(t, 16*types.GiB, info.available)
	assert.Equal(t, 32*types.GiB, info.total)
}

func TestDetectMemory_CgroupV1Limit(t *testing.T) {
	withHostMemory(t, 32*types.GiB, true)

	root := t.TempDir()
	writeFile(t, root, "proc/self/cgroup", "12:cpu,cpuacct:/docker/abc\n4:memory:/docker/abc\n")
	writeFile(t, root, "sys/fs/cgroup/memory/docker/abc/memory.limit_in_bytes", "2147483648\n")
	writeFile(t, root, "sys/fs/cgroup/memory/docker/abc/memory.usage_in_bytes", "1073741824\n")

	info := detectMemory(root)

	assert.Equal(t, types.MemoryCgroupV1, info.source)
	assert.Equal(t, types.GiB, info.available)
}

func TestDetectMemory_CgroupV1Unlimited(t *testing.T) {
	withHostMemory(t, 8*types.GiB, true)

	root := t.TempDir()
	writeFile(t, root, "proc/self/cgroup", "4:memory:/\n")
	writeFile(t, root, "sys/fs/cgroup/memory/memory.limit_in_bytes", "9223372036854771712\n")

	info := detectMemory(root)

	assert.Equal(t, types.MemoryHost, info.source)
}

func TestDetectMemory_LimitAboveHostIgnored(t *testing.T) {
	withHostMemory(t, 2*types.GiB, true)

	root := t.TempDir()
	writeFile(t, root, "proc/self/cgroup", "0::/big\n")
	writeFile(t, root, "sys/fs/cgroup/big/memory.max", "68719476736\n")

	info := detectMemory(root)

	assert.Equal(t, types.MemoryHost, info.source)
	assert.Equal(t, 2*types.GiB, info.available)
}

func TestDetectMemory_UsageAboveLimitClampsToZero(t *testing.T) {
	withHostMemory(t, 8*types.GiB, true)

	root := t.TempDir()
	writeFile(t, root, "proc/self/cgroup", "0::/full\n")
	writeFile(t, root, "sys/fs/cgroup/full/memory.max", "1000\n")
	writeFile(t, root, "sys/fs/cgroup/full/memory.current", "5000\n")

	info := detectMemory(root)

	assert.Equal(t, types.MemoryCgroupV2, info.source)
	assert.Equal(t, int64(0), info.available)
}

func TestDetectMemory_Fallback(t *testing.T) {
	withHostMemory(t, 0, false)

	info := detectMemory(t.TempDir())

	assert.Equal(t, types.MemoryFallback, info.source)
	assert.Equal(t, 4*types.GiB, info.available)
	assert.Equal(t, 8*types.GiB, info.total)
	assert.NotEmpty(t, info.warnings)
}

func TestDetectMemory_CgroupWithoutHost(t *testing.T) {
	withHostMemory(t, 0, false)

	root := t.TempDir()
	writeFile(t, root, "proc/self/cgroup", "0::/app\n")
	writeFile(t, root, "sys/fs/cgroup/app/memory.max", "1048576\n")

	info := detectMemory(root)

	assert.Equal(t, types.MemoryCgroupV2, info.source)
	assert.Equal(t, types.MiB, info.available)
}

func TestDetectMemory_TotalIgnoresUsage(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "proc/self/cgroup", "0::/svc\n")
	writeFile(t, root, "sys/fs/cgroup/svc/memory.max", "4294967296\n")

	var totals []int64
	for _, used := range []string{"0", "1073741824", "3221225472"} {
		withHostMemory(t, 64*types.GiB, true)
		writeFile(t, root, "sys/fs/cgroup/svc/memory.current", used+"\n")

		info := detectMemory(root)
		require.Equal(t, types.MemoryCgroupV2, info.source)
		totals = append(totals, info.total)
	}

	assert.Equal(t, []int64{4 * types.GiB, 4 * types.GiB, 4 * types.GiB}, totals)
}

func TestDetectMemory_HostWithoutTotal(t *testing.T) {
	orig := hostMemory
	t.Cleanup(func() { hostMemory = orig })
	hostMemory = func() (memoryStat, bool) { return memoryStat{available: 3 * types.GiB}, true }

	info := detectMemory(t.TempDir())

	assert.Equal(t, types.MemoryHost, info.source)
	assert.Equal(t, 3*types.GiB, info.total)
}
