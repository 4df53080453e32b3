package topology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/cpuset"
)

func writeSysfs(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestSysfsProviderNodes(t *testing.T) {
	root := t.TempDir()
	writeSysfs(t, root, map[string]string{
		"devices/system/node/node0/cpulist": "0-3,8-11\n",
		"devices/system/node/node1/cpulist": "4-7,12-15\n",
		"devices/system/node/possible":      "0-1\n",
	})

	nodes, err := NewSysfsProvider(root).NodeCPUs()
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.True(t, nodes[0].Equals(cpuset.New(0, 1, 2, 3, 8, 9, 10, 11)))
	assert.Equal(t, "4-7,12-15", nodes[1].String())
	assert.Equal(t, []int{0, 1}, SortedNodes(nodes))
}

func TestSysfsProviderWithoutNUMA(t *testing.T) {
	root := t.TempDir()
	writeSysfs(t, root, map[string]string{
		"devices/system/cpu/online": "0-5\n",
	})

	nodes, err := NewSysfsProvider(root).NodeCPUs()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, 6, nodes[0].Size())
}

func TestSysfsProviderBadCPUList(t *testing.T) {
	root := t.TempDir()
	writeSysfs(t, root, map[string]string{
		"devices/system/node/node0/cpulist": "zero-three\n",
	})

	_, err := NewSysfsProvider(root).NodeCPUs()
	assert.Error(t, err)
}

func TestSysfsProviderMissingTree(t *testing.T) {
	_, err := NewSysfsProvider(t.TempDir()).NodeCPUs()
	assert.Error(t, err)
}

func TestStaticReturnsCopies(t *testing.T) {
	s := Static{0: cpuset.New(1, 2)}
	nodes, err := s.NodeCPUs()
	require.NoError(t, err)
	assert.True(t, nodes[0].Equals(cpuset.New(1, 2)))
}
