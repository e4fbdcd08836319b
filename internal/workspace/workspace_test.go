package workspace

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_CreateAndRemove(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "jobs"))
	require.NoError(t, err)

	dir, err := m.Create("job", "1234")
	require.NoError(t, err)
	assert.Equal(t, m.Root(), filepath.Dir(dir.Path))
	assert.Contains(t, dir.ID, "job-1234-")

	path, err := dir.WriteFile("script.py", []byte("print(1)"))
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "print(1)", string(data))

	require.NoError(t, dir.Remove())
	_, err = os.Stat(dir.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestManager_UniqueUnderConcurrency(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	const n = 64
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		paths = make(map[string]struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dir, err := m.Create("job", "same-owner")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			paths[dir.Path] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, paths, n)
}

func TestDir_WriteFileRejectsTraversal(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	dir, err := m.Create("job", "x")
	require.NoError(t, err)

	_, err = dir.WriteFile("../escape.py", []byte("x"))
	assert.Error(t, err)
}

func TestSanitizeOwner(t *testing.T) {
	assert.Equal(t, "room_1_a", sanitize("room/1 a"))
}
