// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package transforms

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caotto/openbr/types/matrix"
)

// withParallelism pins the pool size for the duration of a test.
func withParallelism(t *testing.T, n int) {
	t.Helper()
	old := pool.MaxParallelism()
	SetParallelism(n)
	t.Cleanup(func() { SetParallelism(old) })
}

func numberedBatch(n int) []Template {
	batch := make([]Template, n)
	for ii := range batch {
		batch[ii] = NewTemplate(NewFile(fmt.Sprintf("t%02d", ii)),
			matrix.FromFlat[uint8](1, 1, 1, 1, []uint8{uint8(ii)}))
	}
	return batch
}

func TestProjectAll_PreservesOrder(t *testing.T) {
	withParallelism(t, 2)
	tr, err := Make("scale(3)")
	require.NoError(t, err)

	batch := numberedBatch(10)
	out, err := ProjectAll(tr, batch)
	require.NoError(t, err)
	require.Len(t, out, 10)
	for ii, dst := range out {
		assert.Equal(t, batch[ii].File, dst.File)
		assert.Equal(t, []uint8{uint8(3 * ii)}, matrix.Flat[uint8](dst.Mats[0]))
	}
}

func TestProjectAll_InlineWhenDisabled(t *testing.T) {
	withParallelism(t, 0)
	tr, err := Make("add(1)")
	require.NoError(t, err)

	out, err := ProjectAll(tr, numberedBatch(4))
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, []uint8{3}, matrix.Flat[uint8](out[2].Mats[0]))
}

type flaky struct{}

func (flaky) Name() string { return "flaky" }

func (flaky) Project(src Template) (Template, error) {
	if src.File.Name == "bad" {
		return Template{}, errors.New("broken input")
	}
	return src, nil
}

func TestProjectAll_PropagatesFirstError(t *testing.T) {
	withParallelism(t, 0)
	batch := []Template{
		NewTemplate(NewFile("good")),
		NewTemplate(NewFile("bad")),
		NewTemplate(NewFile("fine")),
	}
	out, err := ProjectAll(flaky{}, batch)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorContains(t, err, `"bad"`)
	assert.ErrorContains(t, err, "flaky")
	assert.ErrorContains(t, err, "broken input")
}

func TestProjectAll_EmptyBatch(t *testing.T) {
	out, err := ProjectAll(flaky{}, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestProjectAll_ConcurrentKernelDispatch(t *testing.T) {
	withParallelism(t, -1)
	tr, err := Make("add(1)")
	require.NoError(t, err)

	batch := numberedBatch(32)
	out, err := ProjectAll(tr, batch)
	require.NoError(t, err)
	require.Len(t, out, 32)
	for ii, dst := range out {
		assert.Equal(t, []uint8{uint8(ii + 1)}, matrix.Flat[uint8](dst.Mats[0]))
	}
}
