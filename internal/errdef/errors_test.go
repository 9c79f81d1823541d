// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package errdef

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindClassification(t *testing.T) {
	assert.Equal(t, KindNotFound, Kind(NotFound("segment %s", "abc")))
	assert.Equal(t, KindInvalidArgument, Kind(InvalidArgument("dimension %d", -1)))
	assert.Equal(t, KindConflict, Kind(Conflict("two writers")))
	assert.Equal(t, KindCorrupted, Kind(Corrupted(fs.ErrInvalid, "segment x")))
	assert.Equal(t, KindCorrupted, Kind(Corrupted(nil, "segment x")))
	assert.Equal(t, KindIO, Kind(IO(fs.ErrClosed, "reading")))
	assert.Equal(t, KindCanceled, Kind(context.Canceled))
	assert.Equal(t, KindInternal, Kind(fs.ErrPermission))
}

func TestCorruptedKeepsCause(t *testing.T) {
	err := Corrupted(fs.ErrInvalid, "segment %s", "abc")
	assert.ErrorIs(t, err, fs.ErrInvalid)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(IO(fs.ErrClosed, "flaky network")))
	assert.True(t, Retryable(Conflict("lease moved")))
	assert.False(t, Retryable(InvalidArgument("bad query")))
	assert.False(t, Retryable(NotFound("missing")))
}
