// Copyright 2021 Airbus Defence and Space
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package geoloc

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemFS(t *testing.T) {
	m := NewMemFS()
	data := []byte("0123456789")
	m.WriteFile("/vsimem/a", data)
	data[0] = 'x'

	sz, err := m.Size("/vsimem/a")
	require.NoError(t, err)
	assert.Equal(t, int64(10), sz)

	buf := make([]byte, 4)
	n, err := m.ReadAt("/vsimem/a", buf, 2)
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "2345", string(buf))
	n, err = m.ReadAt("/vsimem/a", buf, 8)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 2, n)
	_, err = m.ReadAt("/vsimem/a", buf, 10)
	assert.Equal(t, io.EOF, err)
	n, _ = m.ReadAt("/vsimem/a", buf, 0)
	assert.Equal(t, "0123", string(buf[:n]))

	require.NoError(t, m.Unlink("/vsimem/a"))
	assert.Equal(t, syscall.ENOENT, m.Unlink("/vsimem/a"))
	_, err = m.Size("/vsimem/a")
	assert.Equal(t, syscall.ENOENT, err)
	_, err = m.ReadAt("/vsimem/a", buf, 0)
	assert.Equal(t, syscall.ENOENT, err)
}

// prefixReader serves the same content for every key, recording the keys it
// was called with
type prefixReader struct {
	data []byte
	keys []string
}

func (p *prefixReader) ReadAt(key string, buf []byte, off int64) (int, error) {
	p.keys = append(p.keys, key)
	return bytes.NewReader(p.data).ReadAt(buf, off)
}

func (p *prefixReader) Size(key string) (int64, error) {
	p.keys = append(p.keys, key)
	return int64(len(p.data)), nil
}

func TestSources(t *testing.T) {
	ctx := context.Background()
	a := &Array{Width: 2, Height: 1, Data: []float64{1.5, 2.5}}
	tbuf := bytes.Buffer{}
	require.NoError(t, WriteTIFF(&tbuf, a, TileSize(16)))

	s := NewSources()
	short := &prefixReader{data: tbuf.Bytes()}
	long := &prefixReader{data: tbuf.Bytes()}
	require.NoError(t, s.Register("mem://", short, StripPrefix(true)))
	require.NoError(t, s.Register("mem://long/", long))
	assert.Error(t, s.Register("mem://", short))
	assert.Error(t, s.Register("", short))

	arr, err := s.Open(ctx, "mem://bucket/x.tif", 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 2.5}, arr.Data)
	assert.Contains(t, short.keys, "bucket/x.tif")

	_, err = s.Open(ctx, "mem://long/x.tif", 1)
	require.NoError(t, err)
	assert.Contains(t, long.keys, "mem://long/x.tif")
	assert.NotContains(t, short.keys, "long/x.tif")

	_, err = s.Open(ctx, "mem://bucket/x.tif", 2)
	assert.ErrorIs(t, err, ErrUnreadableSource)

	// in-memory store
	s.Mem().WriteFile("/vsimem/x.tif", tbuf.Bytes())
	arr, err = s.Open(ctx, "/vsimem/x.tif", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, arr.Width)
	_, err = s.Open(ctx, "/vsimem/missing.tif", 1)
	assert.ErrorIs(t, err, ErrUnreadableSource)
	s.Mem().WriteFile("/vsimem/garbage.tif", []byte("garbage"))
	_, err = s.Open(ctx, "/vsimem/garbage.tif", 1)
	assert.ErrorIs(t, err, ErrUnreadableSource)

	// local files
	fname := filepath.Join(t.TempDir(), "x.tif")
	require.NoError(t, os.WriteFile(fname, tbuf.Bytes(), 0o644))
	arr, err = s.Open(ctx, fname, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 2.5}, arr.Data)
	_, err = s.Open(ctx, fname+".missing", 1)
	assert.ErrorIs(t, err, ErrUnreadableSource)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Open(cctx, fname, 1)
	assert.ErrorIs(t, err, context.Canceled)

	r, size, err := s.ReaderAt("/vsimem/x.tif")
	require.NoError(t, err)
	assert.Equal(t, int64(tbuf.Len()), size)
	head := make([]byte, 2)
	_, err = r.ReadAt(head, 0)
	require.NoError(t, err)
	assert.Equal(t, "II", string(head))
}

func TestArray(t *testing.T) {
	a := NewArray(3, 2)
	assert.Len(t, a.Data, 6)
	a.Fill(4)
	assert.Equal(t, []float64{4, 4, 4, 4, 4, 4}, a.Data)
	assert.True(t, a.Valid(0))
	assert.False(t, a.Valid(nan))
	a.NoData, a.HasNoData = 4, true
	assert.False(t, a.Valid(4))
	assert.True(t, a.Valid(0))
}
