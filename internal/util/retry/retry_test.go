// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetrySucceedsEventually(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	}, Attempts(5), Sleep(time.Millisecond))
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return boom
	}, Attempts(4), Sleep(time.Millisecond))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, calls)
}

func TestRetryUnrecoverableStopsEarly(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return Unrecoverable(errors.New("fatal"))
	}, Attempts(5), Sleep(time.Millisecond))
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, func() error {
		return errors.New("flaky")
	}, Attempts(100), Sleep(50*time.Millisecond))
	assert.ErrorIs(t, err, context.Canceled)
}
